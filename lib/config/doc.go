// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads rtfMRI configuration.
//
// Process configuration comes from a single YAML file named by the
// --config flag or, failing that, the RTFMRI_CONFIG environment
// variable. There is no search path and no layering of files: what the
// file says, plus the defaults in [Default], is the configuration.
//
// The experiment structure (runs, block groups, blocks and trials with
// their per-level metadata) is a separate file so operators can keep
// one process config across studies. It may be YAML or JSONC; see
// [LoadExperiment].
package config
