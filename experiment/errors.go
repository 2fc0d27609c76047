// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package experiment

import (
	"fmt"

	"github.com/rtfmri-foundation/rtfmri/lib/fault"
	"github.com/rtfmri-foundation/rtfmri/wire"
)

// ValidationError reports that an event's identifier at Level does not
// match the machine's. It matches fault.ErrValidation under errors.Is.
type ValidationError struct {
	Level    wire.Level
	Expected wire.ID
	Received wire.ID
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s mismatch: expected %s, received %s", e.Level, e.Expected, e.Received)
}

// FaultCode implements fault.Coder.
func (e *ValidationError) FaultCode() fault.Code { return fault.CodeValidation }

// Is matches fault.ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == fault.ErrValidation
}

// compareThrough checks every level from experiment down to through,
// stopping at the first mismatch.
func compareThrough(stored, received wire.IDPath, through wire.Level) error {
	for level := wire.LevelExperiment; level <= through; level++ {
		if expected, got := stored.At(level), received.At(level); expected != got {
			return &ValidationError{Level: level, Expected: expected, Received: got}
		}
	}
	return nil
}
