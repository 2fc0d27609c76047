// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"time"

	"github.com/rtfmri-foundation/rtfmri/lib/codec"
	"github.com/rtfmri-foundation/rtfmri/lib/fault"
)

// Fields is the event metadata carried in every payload. Most fields
// are meaningful only for particular events; unused ones are omitted
// from the encoding.
type Fields struct {
	// Path is the sender's view of the hierarchy position. Commands
	// carry the position the event applies to; replies carry the
	// server's position after handling it.
	Path IDPath `cbor:"path"`

	// Result, Code and Text describe a reply's outcome.
	Result Result     `cbor:"result,omitempty"`
	Code   fault.Code `cbor:"code,omitempty"`
	Text   string     `cbor:"text,omitempty"`

	// Deadline is the absolute server-clock deadline for a trial, in
	// Unix nanoseconds. Zero means no deadline.
	Deadline int64 `cbor:"deadline,omitempty"`

	// ServerTime is the server clock at reply construction, in Unix
	// nanoseconds. Set on SyncClock replies.
	ServerTime int64 `cbor:"server_time,omitempty"`

	// Model and CodeID are sent in Init.
	Model  string `cbor:"model,omitempty"`
	CodeID string `cbor:"code_id,omitempty"`

	// Config is the event's configuration subtree, passed to the model
	// without interpretation.
	Config codec.RawMessage `cbor:"config,omitempty"`

	// Lines are human-readable output produced by the model.
	Lines []string `cbor:"lines,omitempty"`

	// Prediction is set on TRData replies.
	Prediction *Prediction `cbor:"prediction,omitempty"`

	// MissedDeadline and RecoveryHandle are set on the warning reply
	// for a late trial. The handle retrieves the detached result.
	MissedDeadline bool   `cbor:"missed_deadline,omitempty"`
	RecoveryHandle string `cbor:"recovery_handle,omitempty"`

	// Filename names a data file for RetrieveData; FilePattern is a
	// glob for DeleteData.
	Filename    string `cbor:"filename,omitempty"`
	FilePattern string `cbor:"file_pattern,omitempty"`

	// Compression and Size describe Data on RetrieveData replies.
	Compression string `cbor:"compression,omitempty"`
	Size        int64  `cbor:"size,omitempty"`
}

// Prediction is the classifier output for one trial.
type Prediction struct {
	Volume uint32  `cbor:"vol"`
	CatSep float64 `cbor:"catsep"`
}

// DeadlineTime returns the deadline and whether one is set.
func (f Fields) DeadlineTime() (time.Time, bool) {
	if f.Deadline == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, f.Deadline), true
}

// SetDeadline stores t, or clears the deadline when t is zero.
func (f *Fields) SetDeadline(t time.Time) {
	if t.IsZero() {
		f.Deadline = 0
		return
	}
	f.Deadline = t.UnixNano()
}

// ServerTimestamp returns ServerTime as a time.Time.
func (f Fields) ServerTimestamp() time.Time {
	return time.Unix(0, f.ServerTime)
}
