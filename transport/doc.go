// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries framed messages between the scanner-side
// client and the processing server over TCP, optionally wrapped in TLS.
//
// The server holds at most one live [Channel]. [Listener] keeps
// accepting at the socket level while a channel is live, but closes
// every extra connection immediately, so a second client sees its
// connection drop without disturbing the first. Once the live channel
// is closed, the next connection is handed to [Listener.Accept].
//
// There are no read timeouts: a Recv blocks until its bytes arrive or
// the peer goes away. Every short read surfaces as [ErrConnectionLost].
package transport
