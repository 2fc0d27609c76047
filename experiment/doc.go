// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

// Package experiment is the server side of the hierarchy protocol. A
// [Machine] tracks the current position (session, run, block group,
// block, trial), checks every hierarchy event against it, and hands
// valid events to a processing [Model].
//
// Start events open the next level and End events close the current
// one; an End is refused while anything deeper is still open. Leaf
// operations (TRData, TrainModel, RetrieveData, DeleteData) do not move
// the position except that TRData records the trial identifier.
// Mismatched identifiers produce a [*ValidationError] naming the first
// level that disagrees; events that arrive at the wrong depth produce a
// fault.ErrState error.
//
// TRData is run through a deadline.Scheduler. A trial that misses its
// deadline keeps running in the background and its result lands in a
// [DeferredStore], from which RetrieveData can later fetch it by
// recovery handle.
package experiment
