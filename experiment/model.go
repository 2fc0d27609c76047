// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package experiment

import (
	"context"

	"github.com/rtfmri-foundation/rtfmri/wire"
)

// Model processes hierarchy events once the machine has accepted them.
// Handle is called from one goroutine at a time for on-time work, but a
// late trial keeps running while later events are handled, so models
// must tolerate overlapping calls.
type Model interface {
	Handle(ctx context.Context, request *Request) (*Result, error)
}

// Request is one accepted event.
type Request struct {
	Event wire.Event

	// Path is the machine's position after accepting the event. For
	// TRData it includes the trial.
	Path wire.IDPath

	Fields wire.Fields
	Data   []byte
}

// Result is what a model produced for one event. It is also the
// encoded payload of a deferred trial result.
type Result struct {
	Lines      []string         `cbor:"lines,omitempty"`
	Prediction *wire.Prediction `cbor:"prediction,omitempty"`

	// Data, Filename, Compression and Size describe a RetrieveData
	// transfer.
	Data        []byte `cbor:"data,omitempty"`
	Filename    string `cbor:"filename,omitempty"`
	Compression string `cbor:"compression,omitempty"`
	Size        int64  `cbor:"size,omitempty"`
}

// FileSizer reports the size of a file in the server's data directory.
type FileSizer interface {
	Size(name string) (int64, error)
}

// DeferredStore keeps the results of trials that missed their
// deadline. Lookup returns an error matching fault.ErrPending while the
// trial is still running and fault.ErrNotFound for unknown handles.
type DeferredStore interface {
	Begin(ctx context.Context, handle string, path wire.IDPath) error
	Complete(ctx context.Context, handle string, payload []byte) error
	Fail(ctx context.Context, handle string, cause string) error
	Lookup(ctx context.Context, handle string) ([]byte, error)
}
