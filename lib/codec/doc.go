// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single CBOR configuration used for message
// payloads, stored deferred results and any other structured bytes the
// client and server exchange.
//
// Encoding is Core Deterministic (RFC 8949 §4.2) so a given value always
// produces the same bytes. Decoding bounds nesting depth and container
// sizes and rejects duplicate map keys before any Go value is populated. Consumers import
// this package rather than fxamacker/cbor directly.
package codec
