// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rtfmri-foundation/rtfmri/lib/codec"
)

// ID is a hierarchy identifier that is either a concrete non-negative
// integer or unset. The zero value is unset.
type ID struct {
	value uint32
	set   bool
}

// Unset is the zero ID, spelled out for readability at call sites.
var Unset = ID{}

// NewID returns a set identifier.
func NewID(value uint32) ID { return ID{value: value, set: true} }

// IsSet reports whether the identifier carries a value.
func (id ID) IsSet() bool { return id.set }

// Value returns the identifier and whether it is set.
func (id ID) Value() (uint32, bool) { return id.value, id.set }

func (id ID) String() string {
	if !id.set {
		return "unset"
	}
	return strconv.FormatUint(uint64(id.value), 10)
}

func (id ID) pointer() *uint32 {
	if !id.set {
		return nil
	}
	value := id.value
	return &value
}

func idFrom(pointer *uint32) ID {
	if pointer == nil {
		return Unset
	}
	return NewID(*pointer)
}

// Level indexes the hierarchy from shallowest to deepest.
type Level int

const (
	LevelExperiment Level = iota
	LevelSession
	LevelRun
	LevelBlockGroup
	LevelBlock
	LevelTrial

	levelCount
)

var levelNames = [levelCount]string{"experiment", "session", "run", "block group", "block", "trial"}

func (l Level) String() string {
	if l < 0 || l >= levelCount {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// IDPath is a position in the experiment hierarchy.
type IDPath struct {
	Experiment ID
	Session    ID
	Run        ID
	BlockGroup ID
	Block      ID
	Trial      ID
}

// At returns the identifier at level.
func (p IDPath) At(level Level) ID {
	switch level {
	case LevelExperiment:
		return p.Experiment
	case LevelSession:
		return p.Session
	case LevelRun:
		return p.Run
	case LevelBlockGroup:
		return p.BlockGroup
	case LevelBlock:
		return p.Block
	case LevelTrial:
		return p.Trial
	}
	return Unset
}

// With returns a copy of p with level set to id.
func (p IDPath) With(level Level, id ID) IDPath {
	switch level {
	case LevelExperiment:
		p.Experiment = id
	case LevelSession:
		p.Session = id
	case LevelRun:
		p.Run = id
	case LevelBlockGroup:
		p.BlockGroup = id
	case LevelBlock:
		p.Block = id
	case LevelTrial:
		p.Trial = id
	}
	return p
}

// Truncate returns a copy of p with every level deeper than level unset.
func (p IDPath) Truncate(level Level) IDPath {
	for deeper := level + 1; deeper < levelCount; deeper++ {
		p = p.With(deeper, Unset)
	}
	return p
}

func (p IDPath) String() string {
	var parts []string
	for level := LevelExperiment; level < levelCount; level++ {
		if id := p.At(level); id.IsSet() {
			parts = append(parts, fmt.Sprintf("%s=%s", level, id))
		}
	}
	if len(parts) == 0 {
		return "{}"
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// idPathWire is the CBOR shape of an IDPath: unset levels are omitted.
type idPathWire struct {
	Experiment *uint32 `cbor:"e,omitempty"`
	Session    *uint32 `cbor:"s,omitempty"`
	Run        *uint32 `cbor:"r,omitempty"`
	BlockGroup *uint32 `cbor:"g,omitempty"`
	Block      *uint32 `cbor:"b,omitempty"`
	Trial      *uint32 `cbor:"t,omitempty"`
}

// MarshalCBOR implements cbor.Marshaler.
func (p IDPath) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(idPathWire{
		Experiment: p.Experiment.pointer(),
		Session:    p.Session.pointer(),
		Run:        p.Run.pointer(),
		BlockGroup: p.BlockGroup.pointer(),
		Block:      p.Block.pointer(),
		Trial:      p.Trial.pointer(),
	})
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (p *IDPath) UnmarshalCBOR(data []byte) error {
	var decoded idPathWire
	if err := codec.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*p = IDPath{
		Experiment: idFrom(decoded.Experiment),
		Session:    idFrom(decoded.Session),
		Run:        idFrom(decoded.Run),
		BlockGroup: idFrom(decoded.BlockGroup),
		Block:      idFrom(decoded.Block),
		Trial:      idFrom(decoded.Trial),
	}
	return nil
}
