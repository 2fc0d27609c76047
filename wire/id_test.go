// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"testing"

	"github.com/rtfmri-foundation/rtfmri/lib/codec"
)

func TestIDZeroValueIsUnset(t *testing.T) {
	var id ID
	if id.IsSet() {
		t.Error("zero ID reports set")
	}
	if id != Unset {
		t.Error("zero ID differs from Unset")
	}
	zero := NewID(0)
	if !zero.IsSet() {
		t.Error("NewID(0) reports unset")
	}
	if zero == Unset {
		t.Error("NewID(0) equals Unset")
	}
}

func TestIDPathCBORDistinguishesZeroFromUnset(t *testing.T) {
	original := IDPath{Experiment: NewID(0), Session: NewID(4)}
	data, err := codec.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded IDPath
	if err := codec.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("decoded %v, want %v", decoded, original)
	}
	if decoded.Run.IsSet() {
		t.Error("unset run decoded as set")
	}
}

func TestIDPathTruncate(t *testing.T) {
	path := IDPath{
		Experiment: NewID(1), Session: NewID(1), Run: NewID(2),
		BlockGroup: NewID(3), Block: NewID(4), Trial: NewID(5),
	}
	truncated := path.Truncate(LevelRun)
	if !truncated.Run.IsSet() || truncated.BlockGroup.IsSet() || truncated.Trial.IsSet() {
		t.Errorf("Truncate(run) = %v", truncated)
	}
	if got := truncated.String(); got != "{experiment=1 session=1 run=2}" {
		t.Errorf("String() = %q", got)
	}
}
