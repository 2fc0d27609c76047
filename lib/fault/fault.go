// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package fault

import (
	"errors"
	"fmt"
)

// Code classifies a failure. Codes are wire constants: they travel in
// reply fields, so renaming one breaks older peers.
type Code string

const (
	// CodeValidation means the client and server disagree about the
	// current hierarchy position.
	CodeValidation Code = "validation"

	// CodeState means an event arrived in a state that cannot accept
	// it (a command before Init, an End while a deeper level is open).
	CodeState Code = "state"

	// CodeRequest covers malformed or unserviceable requests: oversized
	// transfers, paths outside the data directory, operator aborts.
	CodeRequest Code = "request"

	// CodeVersionMismatch is reported as a warning when the client and
	// server code identities differ.
	CodeVersionMismatch Code = "version_mismatch"

	// CodeMissedDeadline accompanies the warning reply for a single
	// late trial.
	CodeMissedDeadline Code = "missed_deadline"

	// CodeMissedMultipleDeadlines terminates the current run after
	// consecutive late trials.
	CodeMissedMultipleDeadlines Code = "missed_multiple_deadlines"

	// CodePending is returned when a deferred result is still being
	// computed.
	CodePending Code = "pending"

	// CodeNotFound is returned for unknown recovery handles and
	// missing data files.
	CodeNotFound Code = "not_found"

	// CodeInternal is the fallback for errors that carry no code.
	CodeInternal Code = "internal"
)

// Error is a coded failure. The zero Message is valid; sentinel values
// use it so that errors.Is matches on the code alone.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FaultCode reports the error's code.
func (e *Error) FaultCode() Code { return e.Code }

// Is reports whether target is an *Error with the same code and either
// an empty or identical message.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Code == e.Code && (other.Message == "" || other.Message == e.Message)
}

// Sentinel values for errors.Is.
var (
	ErrValidation              = &Error{Code: CodeValidation}
	ErrState                   = &Error{Code: CodeState}
	ErrRequest                 = &Error{Code: CodeRequest}
	ErrVersionMismatch         = &Error{Code: CodeVersionMismatch}
	ErrMissedDeadline          = &Error{Code: CodeMissedDeadline}
	ErrMissedMultipleDeadlines = &Error{Code: CodeMissedMultipleDeadlines}
	ErrPending                 = &Error{Code: CodePending}
	ErrNotFound                = &Error{Code: CodeNotFound}
)

// New returns an *Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Coder is implemented by errors that carry a fault code. Package
// specific error types (hierarchy mismatches, for example) implement
// it so they map onto the wire without being converted to *Error.
type Coder interface {
	FaultCode() Code
}

// CodeOf returns the code of the first error in err's chain that
// implements [Coder], or CodeInternal. A nil error has no code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var coder Coder
	if errors.As(err, &coder) {
		return coder.FaultCode()
	}
	return CodeInternal
}

// FromReply rebuilds a typed error from the code and text of an error
// reply. Unknown or empty codes become CodeInternal.
func FromReply(code Code, text string) *Error {
	if !code.Known() {
		code = CodeInternal
	}
	return &Error{Code: code, Message: text}
}

// Known reports whether c is one of the codes defined above.
func (c Code) Known() bool {
	switch c {
	case CodeValidation, CodeState, CodeRequest, CodeVersionMismatch,
		CodeMissedDeadline, CodeMissedMultipleDeadlines, CodePending,
		CodeNotFound, CodeInternal:
		return true
	}
	return false
}
