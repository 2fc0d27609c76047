// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

// Package fault defines the coded error taxonomy shared by the session
// client and the processing server.
//
// Error replies carry a [Code] on the wire next to the human-readable
// text, so a caller branches on the code (via errors.Is against the
// sentinel values, or [CodeOf]) and never on message content:
//
//	if errors.Is(err, fault.ErrMissedMultipleDeadlines) {
//	    // abort the run, not the whole session
//	}
package fault
