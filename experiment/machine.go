// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/rtfmri-foundation/rtfmri/deadline"
	"github.com/rtfmri-foundation/rtfmri/lib/clock"
	"github.com/rtfmri-foundation/rtfmri/lib/codec"
	"github.com/rtfmri-foundation/rtfmri/lib/fault"
	"github.com/rtfmri-foundation/rtfmri/wire"
)

// DefaultMaxTransfer is the largest file RetrieveData will send.
const DefaultMaxTransfer int64 = 1 << 30

// Config configures a Machine.
type Config struct {
	Model Model

	// Files sizes RetrieveData targets. Without it the transfer limit
	// is left to the model.
	Files FileSizer

	// Deferred receives late trial results. Without it they are only
	// logged.
	Deferred DeferredStore

	// MaxTransfer defaults to DefaultMaxTransfer.
	MaxTransfer int64

	Clock  clock.Clock
	Logger *slog.Logger

	// NewHandle generates recovery handles; random UUIDs by default.
	NewHandle func() string
}

// Machine is the hierarchy state for one connection.
type Machine struct {
	model       Model
	files       FileSizer
	deferred    DeferredStore
	maxTransfer int64
	logger      *slog.Logger
	scheduler   *deadline.Scheduler[*Result]

	mu       sync.Mutex
	position Position
}

// Response is the outcome of an accepted event.
type Response struct {
	// Result is nil for a trial that missed its deadline.
	Result *Result

	MissedDeadline bool
	RecoveryHandle string
}

// New returns a Machine in the Idle position.
func New(cfg Config) *Machine {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.MaxTransfer <= 0 {
		cfg.MaxTransfer = DefaultMaxTransfer
	}
	return &Machine{
		model:       cfg.Model,
		files:       cfg.Files,
		deferred:    cfg.Deferred,
		maxTransfer: cfg.MaxTransfer,
		logger:      cfg.Logger,
		scheduler: deadline.NewScheduler[*Result](deadline.Config{
			Clock:     cfg.Clock,
			Logger:    cfg.Logger,
			NewHandle: cfg.NewHandle,
		}),
		position: Idle{},
	}
}

// Position returns the current position.
func (m *Machine) Position() Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

// Path returns the current position as an IDPath.
func (m *Machine) Path() wire.IDPath {
	return m.Position().Path()
}

// Misses returns the consecutive deadline miss count.
func (m *Machine) Misses() int {
	return m.scheduler.Misses()
}

// Wait blocks until every late trial has finished and been stored.
func (m *Machine) Wait() {
	m.scheduler.Wait()
}

func (m *Machine) setPosition(position Position) {
	m.mu.Lock()
	m.position = position
	m.mu.Unlock()
}

// boundary describes a Start or End event.
type boundary struct {
	level wire.Level
	start bool
}

var boundaries = map[wire.Event]boundary{
	wire.EventStartSession:    {wire.LevelSession, true},
	wire.EventEndSession:      {wire.LevelSession, false},
	wire.EventStartRun:        {wire.LevelRun, true},
	wire.EventEndRun:          {wire.LevelRun, false},
	wire.EventStartBlockGroup: {wire.LevelBlockGroup, true},
	wire.EventEndBlockGroup:   {wire.LevelBlockGroup, false},
	wire.EventStartBlock:      {wire.LevelBlock, true},
	wire.EventEndBlock:        {wire.LevelBlock, false},
}

// Handle validates a hierarchy command against the current position,
// applies it and runs the model. Events outside the hierarchy are
// rejected with fault.ErrRequest.
func (m *Machine) Handle(ctx context.Context, message *wire.Message) (*Response, error) {
	if b, ok := boundaries[message.Event]; ok {
		return m.handleBoundary(ctx, message, b)
	}
	switch message.Event {
	case wire.EventTRData:
		return m.handleTrial(ctx, message)
	case wire.EventTrainModel:
		return m.handleLeaf(ctx, message, wire.LevelRun, 2)
	case wire.EventRetrieveData:
		return m.handleRetrieve(ctx, message)
	case wire.EventDeleteData:
		return m.handleLeaf(ctx, message, wire.LevelRun, 1)
	}
	return nil, fault.New(fault.CodeRequest, "%s is not a hierarchy event", message.Event)
}

func (m *Machine) handleBoundary(ctx context.Context, message *wire.Message, b boundary) (*Response, error) {
	current := m.Position()
	stored := current.Path()
	received := message.Fields.Path
	depth := int(b.level)

	var next Position
	if b.start {
		if current.Depth() < depth-1 {
			if err := compareThrough(stored, received, b.level-1); err != nil {
				return nil, err
			}
			return nil, fault.New(fault.CodeState, "%s with no open %s", message.Event, depthName(depth-1))
		}
		if current.Depth() != depth-1 {
			return nil, fault.New(fault.CodeState, "%s while %s is open", message.Event, depthName(current.Depth()))
		}
		if b.level == wire.LevelSession {
			if !received.Experiment.IsSet() {
				return nil, fault.New(fault.CodeRequest, "%s without an experiment identifier", message.Event)
			}
		} else if err := compareThrough(stored, received, b.level-1); err != nil {
			return nil, err
		}
		id := received.At(b.level)
		if !id.IsSet() {
			return nil, fault.New(fault.CodeRequest, "%s without a %s identifier", message.Event, b.level)
		}
		path := stored.With(b.level, id)
		if b.level == wire.LevelSession {
			path = path.With(wire.LevelExperiment, received.Experiment)
		}
		next = positionAt(path, depth)
	} else {
		switch {
		case current.Depth() < depth:
			if err := compareThrough(stored, received, b.level); err != nil {
				return nil, err
			}
			return nil, fault.New(fault.CodeState, "%s with no open %s", message.Event, b.level)
		case current.Depth() > depth:
			return nil, fault.New(fault.CodeState, "%s while %s is still open", message.Event, depthName(current.Depth()))
		}
		if err := compareThrough(stored, received, b.level); err != nil {
			return nil, err
		}
		next = positionAt(stored, depth-1)
	}

	if b.level == wire.LevelRun {
		m.scheduler.Reset()
	}

	request := &Request{Event: message.Event, Fields: message.Fields, Data: message.Data}
	if b.start {
		request.Path = next.Path()
	} else {
		request.Path = stored
	}
	result, err := m.model.Handle(ctx, request)
	if err != nil {
		return nil, err
	}
	m.setPosition(next)
	m.logger.Debug("hierarchy moved", "event", message.Event, "path", next.Path())
	return &Response{Result: result}, nil
}

// handleLeaf runs an event that needs at least minDepth open levels and
// whose identifiers must match through level.
func (m *Machine) handleLeaf(ctx context.Context, message *wire.Message, through wire.Level, minDepth int) (*Response, error) {
	current := m.Position()
	if err := compareThrough(current.Path(), message.Fields.Path, through); err != nil {
		return nil, err
	}
	if current.Depth() < minDepth {
		return nil, fault.New(fault.CodeState, "%s needs an open %s", message.Event, depthName(minDepth))
	}
	result, err := m.model.Handle(ctx, &Request{
		Event:  message.Event,
		Path:   current.Path(),
		Fields: message.Fields,
		Data:   message.Data,
	})
	if err != nil {
		return nil, err
	}
	return &Response{Result: result}, nil
}

func (m *Machine) handleRetrieve(ctx context.Context, message *wire.Message) (*Response, error) {
	current := m.Position()
	if err := compareThrough(current.Path(), message.Fields.Path, wire.LevelRun); err != nil {
		return nil, err
	}
	if current.Depth() < 1 {
		return nil, fault.New(fault.CodeState, "%s needs an open session", message.Event)
	}

	if handle := message.Fields.RecoveryHandle; handle != "" {
		return m.retrieveDeferred(ctx, handle)
	}

	if m.files != nil && message.Fields.Filename != "" {
		size, err := m.files.Size(message.Fields.Filename)
		if err != nil {
			return nil, err
		}
		if size > m.maxTransfer {
			return nil, fault.New(fault.CodeRequest, "%s is %s, over the %s transfer limit",
				message.Fields.Filename, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(m.maxTransfer)))
		}
	}
	return m.handleLeaf(ctx, message, wire.LevelRun, 1)
}

func (m *Machine) retrieveDeferred(ctx context.Context, handle string) (*Response, error) {
	if m.deferred == nil {
		return nil, fault.New(fault.CodeNotFound, "no deferred result %s", handle)
	}
	payload, err := m.deferred.Lookup(ctx, handle)
	if err != nil {
		return nil, err
	}
	var result Result
	if err := codec.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decoding deferred result %s: %w", handle, err)
	}
	return &Response{Result: &result, RecoveryHandle: handle}, nil
}

func (m *Machine) handleTrial(ctx context.Context, message *wire.Message) (*Response, error) {
	current := m.Position()
	if err := compareThrough(current.Path(), message.Fields.Path, wire.LevelBlock); err != nil {
		return nil, err
	}
	block, ok := current.(InBlock)
	if !ok {
		return nil, fault.New(fault.CodeState, "%s needs an open block, have %s", message.Event, depthName(current.Depth()))
	}
	if !message.Fields.Path.Trial.IsSet() {
		return nil, fault.New(fault.CodeRequest, "%s without a trial identifier", message.Event)
	}
	block.Trial = message.Fields.Path.Trial

	request := &Request{
		Event:  message.Event,
		Path:   block.Path(),
		Fields: message.Fields,
		Data:   message.Data,
	}
	trialDeadline, _ := message.Fields.DeadlineTime()
	background := context.WithoutCancel(ctx)

	outcome, err := m.scheduler.Dispatch(ctx, deadline.Job[*Result]{
		Deadline: trialDeadline,
		Run: func(ctx context.Context) (*Result, error) {
			return m.model.Handle(ctx, request)
		},
		Detached: func(handle string) {
			if m.deferred == nil {
				return
			}
			if err := m.deferred.Begin(background, handle, request.Path); err != nil {
				m.logger.Error("recording late trial", "recovery_handle", handle, "error", err)
			}
		},
		Finished: func(late deadline.Late[*Result]) {
			m.storeLate(background, late)
		},
	})
	if outcome.RecoveryHandle == "" {
		if err != nil {
			return nil, err
		}
		m.setPosition(block)
		return &Response{Result: outcome.Result}, nil
	}
	// A late trial is still running and owns its trial identifier.
	m.setPosition(block)
	return &Response{MissedDeadline: true, RecoveryHandle: outcome.RecoveryHandle}, err
}

func (m *Machine) storeLate(ctx context.Context, late deadline.Late[*Result]) {
	if m.deferred == nil {
		return
	}
	if late.Err != nil {
		if err := m.deferred.Fail(ctx, late.Handle, late.Err.Error()); err != nil {
			m.logger.Error("storing failed late trial", "recovery_handle", late.Handle, "error", err)
		}
		return
	}
	result := late.Result
	if result == nil {
		result = &Result{}
	}
	payload, err := codec.Marshal(result)
	if err == nil {
		err = m.deferred.Complete(ctx, late.Handle, payload)
	}
	if err != nil {
		m.logger.Error("storing late trial", "recovery_handle", late.Handle, "error", err)
	}
}
