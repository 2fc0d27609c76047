// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the session link's message format.
//
// Every message is a 12-byte header followed by a CBOR payload:
//
//	+-------------+------------+-------------+---------------+
//	| magic u32   | kind u16   | event u16   | length u32    |
//	| 0xFEEDFEED  |            |             | payload bytes |
//	+-------------+------------+-------------+---------------+
//
// All integers are big-endian. The header is validated in full before
// a single payload byte is read: a wrong magic is a [FramingError], a
// kind or event outside its enumeration is a [RangeError], and a length
// above the cap is a [SizeError]. The cap is 1 MiB for bulk frames (a
// trial's volume upload, a data file download) and 1 KiB for every
// other frame.
//
// The payload is a versioned CBOR map holding the message id, the
// [Fields] and an optional data blob. It is decoded through lib/codec's
// bounded decoder into fixed struct types.
package wire
