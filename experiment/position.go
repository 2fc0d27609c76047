// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package experiment

import "github.com/rtfmri-foundation/rtfmri/wire"

// Position is where the machine is in the hierarchy. The concrete
// types are [Idle], [InSession], [InRun], [InBlockGroup] and [InBlock];
// each carries exactly the identifiers that are valid at that depth.
type Position interface {
	// Depth is the number of open levels: 0 for Idle through 4 for
	// InBlock.
	Depth() int

	// Path returns the position as an IDPath with deeper levels unset.
	Path() wire.IDPath

	position()
}

// Idle is the position before StartSession and after EndSession.
type Idle struct{}

// InSession is an open session with no open run.
type InSession struct {
	Experiment uint32
	Session    uint32
}

// InRun is an open run with no open block group.
type InRun struct {
	Experiment uint32
	Session    uint32
	Run        uint32
}

// InBlockGroup is an open block group with no open block.
type InBlockGroup struct {
	Experiment uint32
	Session    uint32
	Run        uint32
	BlockGroup uint32
}

// InBlock is an open block. Trial is unset until the first TRData.
type InBlock struct {
	Experiment uint32
	Session    uint32
	Run        uint32
	BlockGroup uint32
	Block      uint32
	Trial      wire.ID
}

func (Idle) Depth() int         { return 0 }
func (InSession) Depth() int    { return 1 }
func (InRun) Depth() int        { return 2 }
func (InBlockGroup) Depth() int { return 3 }
func (InBlock) Depth() int      { return 4 }

func (Idle) Path() wire.IDPath { return wire.IDPath{} }

func (p InSession) Path() wire.IDPath {
	return wire.IDPath{
		Experiment: wire.NewID(p.Experiment),
		Session:    wire.NewID(p.Session),
	}
}

func (p InRun) Path() wire.IDPath {
	return wire.IDPath{
		Experiment: wire.NewID(p.Experiment),
		Session:    wire.NewID(p.Session),
		Run:        wire.NewID(p.Run),
	}
}

func (p InBlockGroup) Path() wire.IDPath {
	return wire.IDPath{
		Experiment: wire.NewID(p.Experiment),
		Session:    wire.NewID(p.Session),
		Run:        wire.NewID(p.Run),
		BlockGroup: wire.NewID(p.BlockGroup),
	}
}

func (p InBlock) Path() wire.IDPath {
	return wire.IDPath{
		Experiment: wire.NewID(p.Experiment),
		Session:    wire.NewID(p.Session),
		Run:        wire.NewID(p.Run),
		BlockGroup: wire.NewID(p.BlockGroup),
		Block:      wire.NewID(p.Block),
		Trial:      p.Trial,
	}
}

func (Idle) position()         {}
func (InSession) position()    {}
func (InRun) position()        {}
func (InBlockGroup) position() {}
func (InBlock) position()      {}

// positionAt builds the position of the given depth from path. Levels
// up to the depth must be set; the caller has already checked that.
func positionAt(path wire.IDPath, depth int) Position {
	value := func(level wire.Level) uint32 {
		id, _ := path.At(level).Value()
		return id
	}
	switch depth {
	case 1:
		return InSession{Experiment: value(wire.LevelExperiment), Session: value(wire.LevelSession)}
	case 2:
		return InRun{
			Experiment: value(wire.LevelExperiment),
			Session:    value(wire.LevelSession),
			Run:        value(wire.LevelRun),
		}
	case 3:
		return InBlockGroup{
			Experiment: value(wire.LevelExperiment),
			Session:    value(wire.LevelSession),
			Run:        value(wire.LevelRun),
			BlockGroup: value(wire.LevelBlockGroup),
		}
	case 4:
		return InBlock{
			Experiment: value(wire.LevelExperiment),
			Session:    value(wire.LevelSession),
			Run:        value(wire.LevelRun),
			BlockGroup: value(wire.LevelBlockGroup),
			Block:      value(wire.LevelBlock),
			Trial:      path.Trial,
		}
	}
	return Idle{}
}

// depthName names the innermost open level for error messages.
func depthName(depth int) string {
	if depth == 0 {
		return "no session"
	}
	return wire.Level(depth).String()
}
