// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

// Package deadline computes per-trial deadlines on the client and
// enforces them on the server.
//
// A trial's deadline is the moment, on the server's clock, by which its
// reply must be on the way for the client to receive it before the next
// volume is acquired:
//
//	trStart + skew + trInterval - maxRTT/2 - minRTT
//
// On the server a [Scheduler] runs each trial's work. Work that finishes
// before the deadline is returned normally. Work that does not is left
// running in the background under a recovery handle while the caller
// gets a late outcome at the deadline itself; two late trials in a row
// fail the run.
package deadline

import (
	"time"

	"github.com/rtfmri-foundation/rtfmri/clocksync"
)

// EstimatedStartLag is subtracted from the current time when no
// scanner pulse is available to mark the start of acquisition.
const EstimatedStartLag = 500 * time.Millisecond

// Compute returns the server-clock deadline for a trial whose
// acquisition started at trStart on the client's clock.
func Compute(trStart time.Time, estimate clocksync.Estimate, trInterval time.Duration) time.Time {
	return trStart.
		Add(estimate.Skew).
		Add(trInterval).
		Add(-estimate.MaxRTT / 2).
		Add(-estimate.MinRTT)
}

// TRStart picks the acquisition start: the pulse time when one is
// known, otherwise now minus EstimatedStartLag.
func TRStart(pulse, now time.Time) time.Time {
	if !pulse.IsZero() {
		return pulse
	}
	return now.Add(-EstimatedStartLag)
}
