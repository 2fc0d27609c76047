// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress wraps the two block compressors used by the server:
// LZ4 for data files streamed back to the client (decode speed matters
// more than ratio on the scanner side) and zstd for deferred trial
// results at rest.
package compress

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag names a compression algorithm. Tags are stored in the results
// database and sent in reply fields, so the numeric values are fixed.
type Tag uint8

const (
	None Tag = 0
	LZ4  Tag = 1
	Zstd Tag = 2
)

func (tag Tag) String() string {
	switch tag {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// ParseTag is the inverse of Tag.String.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// errIncompressible means the compressed form would not be smaller.
var errIncompressible = errors.New("data is incompressible")

// Pack compresses data with preferred and reports the tag actually
// used: data that does not shrink is returned unchanged under None.
func Pack(data []byte, preferred Tag) (Tag, []byte, error) {
	var (
		packed []byte
		err    error
	)
	switch preferred {
	case None:
		return None, data, nil
	case LZ4:
		packed, err = packLZ4(data)
	case Zstd:
		packed, err = packZstd(data)
	default:
		return 0, nil, fmt.Errorf("unsupported compression tag %d", preferred)
	}
	if errors.Is(err, errIncompressible) {
		return None, data, nil
	}
	if err != nil {
		return 0, nil, err
	}
	return preferred, packed, nil
}

// Unpack reverses Pack. size is the original length and is verified.
func Unpack(data []byte, tag Tag, size int) ([]byte, error) {
	switch tag {
	case None:
		if len(data) != size {
			return nil, fmt.Errorf("uncompressed payload is %d bytes, expected %d", len(data), size)
		}
		return data, nil
	case LZ4:
		return unpackLZ4(data, size)
	case Zstd:
		return unpackZstd(data, size)
	default:
		return nil, fmt.Errorf("unsupported compression tag %d", tag)
	}
}

func packLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock reports 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func unpackLZ4(data []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(data, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}

// The zstd encoder and decoder are safe for concurrent EncodeAll and
// DecodeAll calls and are built once.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("compress: zstd decoder: " + err.Error())
	}
}

func packZstd(data []byte) ([]byte, error) {
	packed := zstdEncoder.EncodeAll(data, nil)
	if len(packed) >= len(data) {
		return nil, errIncompressible
	}
	return packed, nil
}

func unpackZstd(data []byte, size int) ([]byte, error) {
	destination, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(destination) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(destination), size)
	}
	return destination, nil
}
