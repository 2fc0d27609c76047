// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rtfmri-foundation/rtfmri/datafiles"
	"github.com/rtfmri-foundation/rtfmri/experiment"
	"github.com/rtfmri-foundation/rtfmri/lib/clock"
	"github.com/rtfmri-foundation/rtfmri/lib/codec"
	"github.com/rtfmri-foundation/rtfmri/lib/compress"
	"github.com/rtfmri-foundation/rtfmri/lib/fault"
	"github.com/rtfmri-foundation/rtfmri/wire"
)

// TrialConfig is the part of a trial's config the base model reads.
type TrialConfig struct {
	// DelayMillis stalls the trial before it produces a result.
	DelayMillis int64 `cbor:"delay_ms,omitempty"`
}

// Base is the reference model. It produces a header line for every
// hierarchy boundary, a zero-classifier prediction and an output file
// for every trial, and serves RetrieveData and DeleteData from the data
// directory.
type Base struct {
	files  *datafiles.Store
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	trials int
}

// NewBase returns a base model.
func NewBase(cfg Config) *Base {
	cfg = cfg.withDefaults()
	return &Base{files: cfg.Files, clock: cfg.Clock, logger: cfg.Logger}
}

// Handle implements experiment.Model.
func (b *Base) Handle(ctx context.Context, request *experiment.Request) (*experiment.Result, error) {
	path := request.Path
	switch request.Event {
	case wire.EventStartSession:
		return lines("==== Start Session experiment %s session %s ====", path.Experiment, path.Session), nil
	case wire.EventEndSession:
		return lines("==== End Session experiment %s session %s ====", path.Experiment, path.Session), nil
	case wire.EventStartRun:
		b.mu.Lock()
		b.trials = 0
		b.mu.Unlock()
		return lines("---- Start Run %s ----", path.Run), nil
	case wire.EventEndRun:
		return lines("---- End Run %s ----", path.Run), nil
	case wire.EventStartBlockGroup:
		return lines("Start BlockGroup %s", path.BlockGroup), nil
	case wire.EventEndBlockGroup:
		return lines("End BlockGroup %s", path.BlockGroup), nil
	case wire.EventStartBlock:
		return lines("Start Block %s", path.Block), nil
	case wire.EventEndBlock:
		return lines("End Block %s", path.Block), nil
	case wire.EventTRData:
		return b.trial(ctx, request)
	case wire.EventTrainModel:
		b.mu.Lock()
		trials := b.trials
		b.mu.Unlock()
		return lines("Train model run %s on %d trials", path.Run, trials), nil
	case wire.EventRetrieveData:
		return b.retrieve(request)
	case wire.EventDeleteData:
		return b.delete(request)
	}
	return nil, fault.New(fault.CodeRequest, "base model does not handle %s", request.Event)
}

func (b *Base) trial(ctx context.Context, request *experiment.Request) (*experiment.Result, error) {
	var cfg TrialConfig
	if len(request.Fields.Config) > 0 {
		if err := codec.Unmarshal(request.Fields.Config, &cfg); err != nil {
			return nil, fault.New(fault.CodeRequest, "trial config: %v", err)
		}
	}
	if cfg.DelayMillis > 0 {
		select {
		case <-b.clock.After(time.Duration(cfg.DelayMillis) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	trial, _ := request.Path.Trial.Value()
	prediction := &wire.Prediction{Volume: trial, CatSep: 0}
	b.mu.Lock()
	b.trials++
	b.mu.Unlock()

	if b.files != nil {
		name := outputName(request.Path)
		content := fmt.Sprintf("vol %d catsep %.4f bytes %d\n", prediction.Volume, prediction.CatSep, len(request.Data))
		if err := b.files.Write(name, []byte(content)); err != nil {
			return nil, fmt.Errorf("writing trial output: %w", err)
		}
	}

	return &experiment.Result{
		Lines:      []string{fmt.Sprintf("TR %d: %s volume, catsep %.4f", trial, humanize.IBytes(uint64(len(request.Data))), prediction.CatSep)},
		Prediction: prediction,
	}, nil
}

func (b *Base) retrieve(request *experiment.Request) (*experiment.Result, error) {
	if b.files == nil {
		return nil, fault.New(fault.CodeNotFound, "no data directory")
	}
	name := request.Fields.Filename
	data, err := b.files.Read(name)
	if err != nil {
		return nil, err
	}
	tag, packed, err := compress.Pack(data, compress.LZ4)
	if err != nil {
		return nil, fmt.Errorf("compressing %s: %w", name, err)
	}
	b.logger.Info("retrieving file", "filename", name, "size", humanize.IBytes(uint64(len(data))), "compression", tag.String())
	return &experiment.Result{
		Lines:       []string{fmt.Sprintf("Retrieved %s (%s)", name, humanize.IBytes(uint64(len(data))))},
		Data:        packed,
		Filename:    name,
		Compression: tag.String(),
		Size:        int64(len(data)),
	}, nil
}

func (b *Base) delete(request *experiment.Request) (*experiment.Result, error) {
	if b.files == nil {
		return nil, fault.New(fault.CodeNotFound, "no data directory")
	}
	removed, err := b.files.Delete(request.Fields.FilePattern)
	if err != nil {
		return nil, err
	}
	return lines("Deleted %d files matching %s", len(removed), request.Fields.FilePattern), nil
}

// outputName is where a trial's output file is written.
func outputName(path wire.IDPath) string {
	return fmt.Sprintf("experiment-%s/session-%s/run-%s/trial-%s.txt",
		path.Experiment, path.Session, path.Run, path.Trial)
}

func lines(format string, args ...any) *experiment.Result {
	return &experiment.Result{Lines: []string{fmt.Sprintf(format, args...)}}
}
