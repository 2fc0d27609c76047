// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

// Package session is the scanner side of the protocol. [Run] walks an
// experiment through the server: Init, clock synchronization, then
// every session, run, block group, block and trial in order, one
// command at a time. Trials carry deadlines in real-time mode.
//
// A reply's result decides what happens next. Success moves on. A
// missed-deadline warning is recorded and the session continues; any
// other warning is put to a [Decider]. An error reply ends the session
// with a *fault.Error carrying the server's code.
package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rtfmri-foundation/rtfmri/clocksync"
	"github.com/rtfmri-foundation/rtfmri/deadline"
	"github.com/rtfmri-foundation/rtfmri/lib/clock"
	"github.com/rtfmri-foundation/rtfmri/lib/codec"
	"github.com/rtfmri-foundation/rtfmri/lib/config"
	"github.com/rtfmri-foundation/rtfmri/lib/fault"
	"github.com/rtfmri-foundation/rtfmri/pulse"
	"github.com/rtfmri-foundation/rtfmri/wire"
)

// Decider is asked whether to continue after a warning that is not a
// missed deadline.
type Decider interface {
	Continue(ctx context.Context, warning string) (bool, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, warning string) (bool, error)

// Continue calls f.
func (f DeciderFunc) Continue(ctx context.Context, warning string) (bool, error) {
	return f(ctx, warning)
}

// PulseSource supplies the latest scanner pulse. *pulse.Cell
// implements it.
type PulseSource interface {
	Latest() pulse.Reading
}

// Options configures Run.
type Options struct {
	Experiment *config.Experiment

	// Model is requested in Init; empty selects the server default.
	Model  string
	CodeID string

	// RealTime attaches a deadline to every trial.
	RealTime   bool
	TRInterval time.Duration

	// SyncIterations defaults to clocksync.DefaultIterations.
	SyncIterations int

	// Pulses, when set, provides acquisition times for deadlines.
	Pulses PulseSource

	// Decider judges warnings. Without one any warning other than a
	// missed deadline aborts the session.
	Decider Decider

	// Retrieve lists data files fetched after the last run.
	Retrieve []string

	// CollectDeferred fetches the results of late trials before
	// EndSession. Results still pending are skipped.
	CollectDeferred bool

	// Shutdown stops the server after EndSession.
	Shutdown bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// ReplyRecord is what the report keeps of one reply.
type ReplyRecord struct {
	Event          wire.Event
	Result         wire.Result
	Path           wire.IDPath
	Lines          []string
	Prediction     *wire.Prediction
	MissedDeadline bool
	RecoveryHandle string
	Code           fault.Code
	Text           string
}

// Report summarizes a session.
type Report struct {
	Model    string
	Estimate clocksync.Estimate
	Replies  []ReplyRecord

	// Misses counts trials that missed their deadline.
	Misses int

	// Files holds retrieved data files by name.
	Files map[string][]byte

	// Deferred holds late trial results collected by recovery handle.
	Deferred map[string]*wire.Prediction

	Started  time.Time
	Finished time.Time
}

// RunSession dials address, runs the session and closes the channel.
func RunSession(ctx context.Context, address string, tlsConfig *tls.Config, options Options) (*Report, error) {
	client, err := Dial(ctx, address, tlsConfig, options.Clock, options.Logger)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return Run(ctx, client, options)
}

// Run drives one session over client. The report is returned even when
// the session fails, covering the replies received so far.
func Run(ctx context.Context, client *Client, options Options) (*Report, error) {
	if options.Experiment == nil {
		return nil, errors.New("session: no experiment")
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if options.SyncIterations <= 0 {
		options.SyncIterations = clocksync.DefaultIterations
	}
	if options.RealTime && options.TRInterval <= 0 {
		return nil, errors.New("session: real-time mode needs a TR interval")
	}

	o := &orchestrator{
		client:  client,
		options: options,
		logger:  options.Logger,
		report: &Report{
			Files:    make(map[string][]byte),
			Deferred: make(map[string]*wire.Prediction),
			Started:  options.Clock.Now(),
		},
	}
	err := o.run(ctx)
	o.report.Finished = options.Clock.Now()
	return o.report, err
}

type orchestrator struct {
	client  *Client
	options Options
	logger  *slog.Logger
	report  *Report

	// path mirrors the server's position.
	path     wire.IDPath
	estimate clocksync.Estimate
	handles  []string
}

func (o *orchestrator) run(ctx context.Context) error {
	experiment := o.options.Experiment

	reply, err := o.client.Init(ctx, o.options.Model, o.options.CodeID)
	o.record(reply)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	o.report.Model = reply.Fields.Model
	if err := o.judge(ctx, reply); err != nil {
		return err
	}

	o.estimate, err = clocksync.Run(ctx, o.client, o.options.Clock, o.options.SyncIterations)
	if err != nil {
		return fmt.Errorf("clock sync: %w", err)
	}
	o.report.Estimate = o.estimate
	o.logger.Info("clock synchronized",
		"skew", o.estimate.Skew,
		"min_rtt", o.estimate.MinRTT,
		"max_rtt", o.estimate.MaxRTT,
	)

	o.path = wire.IDPath{Experiment: wire.NewID(experiment.ID), Session: wire.NewID(experiment.Session)}
	if err := o.send(ctx, wire.EventStartSession, experiment.Config, nil); err != nil {
		return err
	}
	for _, run := range experiment.Runs {
		if err := o.runOne(ctx, run); err != nil {
			return err
		}
	}

	for _, name := range o.options.Retrieve {
		data, reply, err := o.client.RetrieveFile(ctx, o.path, name)
		o.record(reply)
		if err != nil {
			return fmt.Errorf("retrieving %s: %w", name, err)
		}
		o.report.Files[name] = data
	}
	if o.options.CollectDeferred {
		if err := o.collectDeferred(ctx); err != nil {
			return err
		}
	}

	if err := o.send(ctx, wire.EventEndSession, nil, nil); err != nil {
		return err
	}

	if o.options.Shutdown {
		if err := o.client.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func (o *orchestrator) runOne(ctx context.Context, run config.Run) error {
	o.path = o.path.With(wire.LevelRun, wire.NewID(run.ID))
	if err := o.send(ctx, wire.EventStartRun, run.Config, nil); err != nil {
		return err
	}
	for _, group := range run.BlockGroups {
		o.path = o.path.With(wire.LevelBlockGroup, wire.NewID(group.ID))
		if err := o.send(ctx, wire.EventStartBlockGroup, group.Config, nil); err != nil {
			return err
		}
		for _, block := range group.Blocks {
			if err := o.blockOne(ctx, block); err != nil {
				return err
			}
		}
		if err := o.send(ctx, wire.EventEndBlockGroup, nil, nil); err != nil {
			return err
		}
	}
	if err := o.send(ctx, wire.EventTrainModel, run.Config, nil); err != nil {
		return err
	}
	return o.send(ctx, wire.EventEndRun, nil, nil)
}

func (o *orchestrator) blockOne(ctx context.Context, block config.Block) error {
	o.path = o.path.With(wire.LevelBlock, wire.NewID(block.ID))
	if err := o.send(ctx, wire.EventStartBlock, block.Config, nil); err != nil {
		return err
	}
	for _, trial := range block.Trials {
		var volume []byte
		if trial.Volume != "" {
			var err error
			if volume, err = os.ReadFile(trial.Volume); err != nil {
				return fmt.Errorf("trial %d volume: %w", trial.ID, err)
			}
		}
		o.path = o.path.With(wire.LevelTrial, wire.NewID(trial.ID))
		if err := o.send(ctx, wire.EventTRData, trial.Config, volume); err != nil {
			return err
		}
	}
	o.path = o.path.Truncate(wire.LevelBlock)
	return o.send(ctx, wire.EventEndBlock, nil, nil)
}

// closes maps each End event to the level it closes.
var closes = map[wire.Event]wire.Level{
	wire.EventEndSession:    wire.LevelSession,
	wire.EventEndRun:        wire.LevelRun,
	wire.EventEndBlockGroup: wire.LevelBlockGroup,
	wire.EventEndBlock:      wire.LevelBlock,
}

// after is the position the server should report once event succeeds.
func (o *orchestrator) after(event wire.Event) wire.IDPath {
	level, ok := closes[event]
	switch {
	case !ok:
		return o.path
	case level == wire.LevelSession:
		return wire.IDPath{}
	}
	return o.path.Truncate(level - 1)
}

// send issues one hierarchy command at the mirrored path, interprets
// the reply and moves the mirror to the server's new position.
func (o *orchestrator) send(ctx context.Context, event wire.Event, nodeConfig map[string]any, data []byte) error {
	fields := wire.Fields{Path: o.path}
	if len(nodeConfig) > 0 {
		encoded, err := codec.Marshal(nodeConfig)
		if err != nil {
			return fmt.Errorf("%s config: %w", event, err)
		}
		fields.Config = encoded
	}
	if event == wire.EventTRData && o.options.RealTime {
		fields.SetDeadline(o.trialDeadline())
	}

	reply, err := o.client.Call(ctx, wire.Message{Kind: wire.KindCommand, Event: event, Fields: fields, Data: data})
	if err != nil {
		return fmt.Errorf("%s at %s: %w", event, o.path, err)
	}
	o.record(reply)
	for _, line := range reply.Fields.Lines {
		o.logger.Info(line, "event", event)
	}
	if err := o.judge(ctx, reply); err != nil {
		return fmt.Errorf("%s at %s: %w", event, o.path, err)
	}
	expected := o.after(event)
	if reply.Fields.Path != expected {
		return fmt.Errorf("%s: %w", event, fault.New(fault.CodeValidation,
			"server is at %s, client expected %s", reply.Fields.Path, expected))
	}
	o.path = expected
	return nil
}

func (o *orchestrator) trialDeadline() time.Time {
	var pulseTime time.Time
	if o.options.Pulses != nil {
		pulseTime = o.options.Pulses.Latest().Timestamp
	}
	start := deadline.TRStart(pulseTime, o.options.Clock.Now())
	return deadline.Compute(start, o.estimate, o.options.TRInterval)
}

// judge applies the reply's result.
func (o *orchestrator) judge(ctx context.Context, reply wire.Message) error {
	fields := reply.Fields
	switch fields.Result {
	case wire.ResultSuccess:
		return nil
	case wire.ResultError:
		return ReplyError(reply)
	case wire.ResultWarning:
	default:
		return fault.New(fault.CodeInternal, "%s reply without a result", reply.Event)
	}

	if fields.MissedDeadline || fields.Code == fault.CodeMissedDeadline {
		o.report.Misses++
		if fields.RecoveryHandle != "" {
			o.handles = append(o.handles, fields.RecoveryHandle)
		}
		o.logger.Warn("trial missed its deadline",
			"path", fields.Path,
			"recovery_handle", fields.RecoveryHandle,
		)
		return nil
	}

	text := fields.Text
	if text == "" {
		text = string(fields.Code)
	}
	o.logger.Warn("server warning", "event", reply.Event, "code", fields.Code, "text", text)
	if o.options.Decider == nil {
		return fault.New(fault.CodeRequest, "aborted on warning: %s", text)
	}
	proceed, err := o.options.Decider.Continue(ctx, text)
	if err != nil {
		return fmt.Errorf("asking whether to continue: %w", err)
	}
	if !proceed {
		return fault.New(fault.CodeRequest, "aborted on warning: %s", text)
	}
	return nil
}

func (o *orchestrator) collectDeferred(ctx context.Context) error {
	for _, handle := range o.handles {
		reply, err := o.client.RetrieveDeferred(ctx, o.path, handle)
		o.record(reply)
		switch {
		case err == nil:
			o.report.Deferred[handle] = reply.Fields.Prediction
		case errors.Is(err, fault.ErrPending), fault.CodeOf(err) == fault.CodeInternal:
			o.logger.Warn("deferred result unavailable", "recovery_handle", handle, "error", err)
		default:
			return fmt.Errorf("retrieving deferred %s: %w", handle, err)
		}
	}
	return nil
}

func (o *orchestrator) record(reply wire.Message) {
	if reply.Kind != wire.KindReply {
		return
	}
	o.report.Replies = append(o.report.Replies, ReplyRecord{
		Event:          reply.Event,
		Result:         reply.Fields.Result,
		Path:           reply.Fields.Path,
		Lines:          reply.Fields.Lines,
		Prediction:     reply.Fields.Prediction,
		MissedDeadline: reply.Fields.MissedDeadline,
		RecoveryHandle: reply.Fields.RecoveryHandle,
		Code:           reply.Fields.Code,
		Text:           reply.Fields.Text,
	})
}
