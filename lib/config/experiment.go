// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Experiment is the structure a session walks: one experiment and
// session identifier, then runs, block groups, blocks and trials in
// order. Config maps at each level are passed through to the model
// untouched.
type Experiment struct {
	ID      uint32         `yaml:"id" json:"id"`
	Session uint32         `yaml:"session" json:"session"`
	Config  map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	Runs    []Run          `yaml:"runs" json:"runs"`
}

// Run is one scanner run.
type Run struct {
	ID          uint32         `yaml:"id" json:"id"`
	Config      map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	BlockGroups []BlockGroup   `yaml:"block_groups" json:"block_groups"`
}

// BlockGroup groups blocks that share a condition.
type BlockGroup struct {
	ID     uint32         `yaml:"id" json:"id"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	Blocks []Block        `yaml:"blocks" json:"blocks"`
}

// Block is a contiguous stretch of trials.
type Block struct {
	ID     uint32         `yaml:"id" json:"id"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	Trials []Trial        `yaml:"trials" json:"trials"`
}

// Trial is one acquired volume.
type Trial struct {
	ID     uint32         `yaml:"id" json:"id"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`

	// Volume is a file whose bytes are sent as the trial's data.
	// Relative paths are resolved against the experiment file.
	Volume string `yaml:"volume,omitempty" json:"volume,omitempty"`
}

// LoadExperiment reads an experiment file. Files ending in .json or
// .jsonc are parsed as JSON with comments and trailing commas; anything
// else is YAML. The result is validated.
func LoadExperiment(path string) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading experiment: %w", err)
	}

	var experiment Experiment
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &experiment); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &experiment); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	base := filepath.Dir(path)
	for _, trial := range experiment.trials() {
		if trial.Volume != "" && !filepath.IsAbs(trial.Volume) {
			trial.Volume = filepath.Join(base, trial.Volume)
		}
	}

	if err := experiment.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &experiment, nil
}

// Validate requires every level to be non-empty and identifiers to be
// unique among siblings.
func (e *Experiment) Validate() error {
	var errs []error
	if len(e.Runs) == 0 {
		errs = append(errs, errors.New("experiment has no runs"))
	}
	runIDs := map[uint32]bool{}
	for _, run := range e.Runs {
		where := fmt.Sprintf("run %d", run.ID)
		if runIDs[run.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate id", where))
		}
		runIDs[run.ID] = true
		if len(run.BlockGroups) == 0 {
			errs = append(errs, fmt.Errorf("%s: no block groups", where))
		}
		groupIDs := map[uint32]bool{}
		for _, group := range run.BlockGroups {
			where := fmt.Sprintf("run %d block group %d", run.ID, group.ID)
			if groupIDs[group.ID] {
				errs = append(errs, fmt.Errorf("%s: duplicate id", where))
			}
			groupIDs[group.ID] = true
			if len(group.Blocks) == 0 {
				errs = append(errs, fmt.Errorf("%s: no blocks", where))
			}
			blockIDs := map[uint32]bool{}
			for _, block := range group.Blocks {
				where := fmt.Sprintf("%s block %d", where, block.ID)
				if blockIDs[block.ID] {
					errs = append(errs, fmt.Errorf("%s: duplicate id", where))
				}
				blockIDs[block.ID] = true
				if len(block.Trials) == 0 {
					errs = append(errs, fmt.Errorf("%s: no trials", where))
				}
				trialIDs := map[uint32]bool{}
				for _, trial := range block.Trials {
					if trialIDs[trial.ID] {
						errs = append(errs, fmt.Errorf("%s trial %d: duplicate id", where, trial.ID))
					}
					trialIDs[trial.ID] = true
				}
			}
		}
	}
	return errors.Join(errs...)
}

// TrialCount is the number of trials across all runs.
func (e *Experiment) TrialCount() int {
	return len(e.trials())
}

func (e *Experiment) trials() []*Trial {
	var trials []*Trial
	for r := range e.Runs {
		for g := range e.Runs[r].BlockGroups {
			for b := range e.Runs[r].BlockGroups[g].Blocks {
				block := &e.Runs[r].BlockGroups[g].Blocks[b]
				for t := range block.Trials {
					trials = append(trials, &block.Trials[t])
				}
			}
		}
	}
	return trials
}

// Uniform builds an experiment with the given number of runs, block
// groups per run, blocks per group and trials per block. Identifiers
// start at 1 within each parent.
func Uniform(experimentID, sessionID uint32, runs, groups, blocks, trials int) *Experiment {
	experiment := &Experiment{ID: experimentID, Session: sessionID}
	for r := 1; r <= runs; r++ {
		run := Run{ID: uint32(r)}
		for g := 1; g <= groups; g++ {
			group := BlockGroup{ID: uint32(g)}
			for b := 1; b <= blocks; b++ {
				block := Block{ID: uint32(b)}
				for t := 1; t <= trials; t++ {
					block.Trials = append(block.Trials, Trial{ID: uint32(t)})
				}
				group.Blocks = append(group.Blocks, block)
			}
			run.BlockGroups = append(run.BlockGroups, group)
		}
		experiment.Runs = append(experiment.Runs, run)
	}
	return experiment
}
