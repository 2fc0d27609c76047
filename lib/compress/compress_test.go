// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package compress

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestPackUnpack(t *testing.T) {
	compressible := bytes.Repeat([]byte("trial 12 prediction 0.25\n"), 200)

	for _, tag := range []Tag{None, LZ4, Zstd} {
		t.Run(tag.String(), func(t *testing.T) {
			used, packed, err := Pack(compressible, tag)
			if err != nil {
				t.Fatalf("Pack: %v", err)
			}
			if used != tag {
				t.Errorf("Pack used %v, want %v", used, tag)
			}
			if tag != None && len(packed) >= len(compressible) {
				t.Errorf("packed %d bytes, not smaller than %d", len(packed), len(compressible))
			}
			unpacked, err := Unpack(packed, used, len(compressible))
			if err != nil {
				t.Fatalf("Unpack: %v", err)
			}
			if !bytes.Equal(unpacked, compressible) {
				t.Error("Unpack did not restore the original bytes")
			}
		})
	}
}

func TestPackFallsBackForRandomData(t *testing.T) {
	noise := make([]byte, 4096)
	if _, err := rand.Read(noise); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	for _, tag := range []Tag{LZ4, Zstd} {
		used, packed, err := Pack(noise, tag)
		if err != nil {
			t.Fatalf("Pack(%v): %v", tag, err)
		}
		if used != None {
			t.Errorf("Pack(%v) used %v for random data, want none", tag, used)
		}
		if !bytes.Equal(packed, noise) {
			t.Errorf("Pack(%v) altered incompressible data", tag)
		}
	}
}

func TestUnpackSizeMismatch(t *testing.T) {
	if _, err := Unpack([]byte("abc"), None, 4); err == nil {
		t.Error("Unpack accepted wrong size for uncompressed data")
	}
	_, packed, err := Pack(bytes.Repeat([]byte{7}, 1000), Zstd)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if _, err := Unpack(packed, Zstd, 999); err == nil {
		t.Error("Unpack accepted wrong size for zstd data")
	}
}

func TestParseTag(t *testing.T) {
	for _, tag := range []Tag{None, LZ4, Zstd} {
		parsed, err := ParseTag(tag.String())
		if err != nil || parsed != tag {
			t.Errorf("ParseTag(%q) = %v, %v", tag.String(), parsed, err)
		}
	}
	if _, err := ParseTag("brotli"); err == nil {
		t.Error("ParseTag accepted an unknown name")
	}
}
