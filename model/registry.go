// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

// Package model holds the processing models a server can run. The
// client picks one by name in Init; [Base] is the default.
package model

import (
	"log/slog"
	"slices"

	"github.com/rtfmri-foundation/rtfmri/datafiles"
	"github.com/rtfmri-foundation/rtfmri/experiment"
	"github.com/rtfmri-foundation/rtfmri/lib/clock"
	"github.com/rtfmri-foundation/rtfmri/lib/fault"
)

// DefaultName is the model used when Init names none.
const DefaultName = "base"

// Config is what a model gets from the server.
type Config struct {
	Files  *datafiles.Store
	Clock  clock.Clock
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Factory builds a fresh model for one connection.
type Factory func(Config) experiment.Model

var registry = map[string]Factory{
	DefaultName: func(cfg Config) experiment.Model { return NewBase(cfg) },
}

// Lookup returns the factory for name. An unknown name is a request
// error.
func Lookup(name string) (Factory, error) {
	if name == "" {
		name = DefaultName
	}
	factory, ok := registry[name]
	if !ok {
		return nil, fault.New(fault.CodeRequest, "unknown model %q (have %v)", name, Names())
	}
	return factory, nil
}

// Names lists the registered models in order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
