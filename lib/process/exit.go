// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the shared main() exit path for rtfMRI binaries.
package process

import (
	"errors"
	"fmt"
	"os"
)

// ExitCoder lets an error choose the process exit status.
type ExitCoder interface {
	ExitCode() int
}

// Fatal prints "error: err" to stderr and exits, with status 1 unless
// err implements ExitCoder. Use it for errors returned by run(), where
// the structured logger may not exist yet.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	var coder ExitCoder
	if errors.As(err, &coder) {
		os.Exit(coder.ExitCode())
	}
	os.Exit(1)
}
