// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "fmt"

// FramingError means the stream is not aligned on a message boundary.
// The channel cannot be recovered.
type FramingError struct {
	Magic uint32
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing: bad magic 0x%08X, want 0x%08X", e.Magic, Magic)
}

// RangeError means a header kind or event lies outside its enumeration.
type RangeError struct {
	Field string
	Value uint16
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("framing: %s %d outside enumeration", e.Field, e.Value)
}

// SizeError means a payload length exceeds the cap for its frame.
type SizeError struct {
	Kind   Kind
	Event  Event
	Length uint64
	Limit  uint64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("framing: %s/%s payload of %d bytes exceeds %d byte limit",
		e.Kind, e.Event, e.Length, e.Limit)
}

// PayloadError means the header was sound but the payload could not be
// decoded.
type PayloadError struct {
	Err error
}

func (e *PayloadError) Error() string { return "payload: " + e.Err.Error() }

func (e *PayloadError) Unwrap() error { return e.Err }
