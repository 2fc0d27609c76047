// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"log/slog"
	"os"
	"testing"
)

// Logger returns a debug-level stderr logger under `go test -v` and a
// discarding logger otherwise. It deliberately does not route through
// t.Log: detached trial goroutines may still log after the test that
// started them has returned.
func Logger(t testing.TB) *slog.Logger {
	t.Helper()
	if !testing.Verbose() {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})).
		With("test", t.Name())
}
