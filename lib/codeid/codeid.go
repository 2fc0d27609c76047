// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

// Package codeid computes the code identity token exchanged during
// Init. Client and server each hash the source revision and module
// graph they were built from, together with their version string;
// differing tokens produce a version-mismatch warning rather than a
// hard failure.
package codeid

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/rtfmri-foundation/rtfmri/lib/version"
)

// domainKey separates code identity digests from any other BLAKE3 use.
// ASCII "rtfmri.codeid", zero padded to the 32-byte key size.
var domainKey = [32]byte{
	'r', 't', 'f', 'm', 'r', 'i', '.', 'c', 'o', 'd', 'e', 'i', 'd',
}

// Compute hashes the file at path followed by label and returns the
// hex digest.
func Compute(path, label string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("code identity: %w", err)
	}
	defer file.Close()
	return FromReader(file, label)
}

// FromReader hashes the contents of r followed by label.
func FromReader(r io.Reader, label string) (string, error) {
	hasher, err := blake3.NewKeyed(domainKey[:])
	if err != nil {
		return "", fmt.Errorf("code identity: %w", err)
	}
	if _, err := io.Copy(hasher, r); err != nil {
		return "", fmt.Errorf("code identity: hashing: %w", err)
	}
	// A zero byte keeps "ab"+"c" distinct from "a"+"bc".
	hasher.Write([]byte{0})
	hasher.Write([]byte(label))
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Self returns the identity of the running binary, labelled with the
// linked version string. Binaries built from the same revision and
// module graph share an identity. Without embedded build information
// the executable itself is hashed.
func Self() (string, error) {
	if info, ok := debug.ReadBuildInfo(); ok {
		return FromReader(strings.NewReader(describe(info)), version.Info())
	}
	executable, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("code identity: locating executable: %w", err)
	}
	return Compute(executable, version.Info())
}

// describe renders the parts of info shared by every binary of one
// build: the main module, its dependencies and the VCS stamp.
func describe(info *debug.BuildInfo) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "%s %s %s\n", info.Main.Path, info.Main.Version, info.Main.Sum)
	for _, dep := range info.Deps {
		fmt.Fprintf(&builder, "%s %s %s\n", dep.Path, dep.Version, dep.Sum)
	}
	for _, setting := range info.Settings {
		if strings.HasPrefix(setting.Key, "vcs.") {
			fmt.Fprintf(&builder, "%s=%s\n", setting.Key, setting.Value)
		}
	}
	return builder.String()
}
