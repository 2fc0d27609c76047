// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable consulted when no --config
// flag is given.
const EnvVar = "RTFMRI_CONFIG"

// DefaultMaxTransfer is the largest data file RetrieveData will send.
const DefaultMaxTransfer = 1 << 30

// Config is the whole process configuration. The server binary reads
// Server, the client binary reads Client; both read LogLevel.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
}

// ServerConfig configures the processing server.
type ServerConfig struct {
	// Listen is the TCP address to accept the client on.
	Listen string `yaml:"listen"`

	// DataDir holds per-session data files. RetrieveData and DeleteData
	// cannot reach outside it.
	DataDir string `yaml:"data_dir"`

	// ResultsDB is the SQLite file for results of late trials.
	ResultsDB string `yaml:"results_db"`

	// DefaultModel is used when Init names no model type.
	DefaultModel string `yaml:"default_model"`

	// MaxTransfer bounds RetrieveData file sizes, in bytes.
	MaxTransfer int64 `yaml:"max_transfer"`

	TLS TLSConfig `yaml:"tls"`
}

// ClientConfig configures the scanner-side session client.
type ClientConfig struct {
	// Address of the server, host:port.
	Address string `yaml:"address"`

	// Model is the model type requested in Init.
	Model string `yaml:"model"`

	// Experiment is the path of the experiment structure file.
	Experiment string `yaml:"experiment"`

	// RealTime attaches deadlines to trial commands.
	RealTime bool `yaml:"real_time"`

	// TRInterval is the acquisition cadence.
	TRInterval time.Duration `yaml:"tr_interval"`

	// SyncIterations is the number of clock synchronization rounds.
	SyncIterations int `yaml:"sync_iterations"`

	// Retrieve lists data files fetched before EndSession.
	Retrieve []string `yaml:"retrieve"`

	// Shutdown asks the server to exit after the session.
	Shutdown bool `yaml:"shutdown"`

	// AcceptWarnings continues past non-deadline warnings without
	// asking an operator.
	AcceptWarnings bool `yaml:"accept_warnings"`

	Pulse PulseConfig `yaml:"pulse"`
	TLS   TLSConfig   `yaml:"tls"`
}

// PulseConfig configures the scanner trigger listener.
type PulseConfig struct {
	// Listen is the UDP address pulses are broadcast to. Empty
	// disables the listener and trial start times are estimated.
	Listen string `yaml:"listen"`
}

// Default returns the configuration a file is merged onto.
func Default() *Config {
	root := filepath.Join("${HOME}", ".cache", "rtfmri")
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Listen:       ":5200",
			DataDir:      filepath.Join(root, "data"),
			ResultsDB:    filepath.Join(root, "deferred.db"),
			DefaultModel: "base",
			MaxTransfer:  DefaultMaxTransfer,
		},
		Client: ClientConfig{
			Address:        "localhost:5200",
			Model:          "base",
			TRInterval:     2 * time.Second,
			SyncIterations: 30,
		},
	}
}

// Load reads the file named by RTFMRI_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; set it to the path of your rtfmri.yaml or pass --config", EnvVar)
	}
	return LoadFile(path)
}

// Resolve loads flagPath when non-empty, otherwise defers to Load.
func Resolve(flagPath string) (*Config, error) {
	if flagPath != "" {
		return LoadFile(flagPath)
	}
	return Load()
}

// LoadFile reads the YAML file at path over the defaults and expands
// ${VAR} references in path-valued fields.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.expand(filepath.Dir(path))
	return cfg, nil
}

// expand substitutes variables in paths and resolves relative paths
// against the directory holding the config file.
func (c *Config) expand(base string) {
	resolve := func(value string) string {
		value = expandVars(value)
		if value == "" || filepath.IsAbs(value) {
			return value
		}
		return filepath.Join(base, value)
	}
	c.Server.DataDir = resolve(c.Server.DataDir)
	c.Server.ResultsDB = resolve(c.Server.ResultsDB)
	c.Client.Experiment = resolve(c.Client.Experiment)
	for _, tlsConfig := range []*TLSConfig{&c.Server.TLS, &c.Client.TLS} {
		tlsConfig.Cert = resolve(tlsConfig.Cert)
		tlsConfig.Key = resolve(tlsConfig.Key)
		tlsConfig.CA = resolve(tlsConfig.CA)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default} with environment
// values.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// ValidateServer checks the fields the server binary depends on.
func (c *Config) ValidateServer() error {
	var errs []error
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if c.Server.DataDir == "" {
		errs = append(errs, errors.New("server.data_dir is required"))
	}
	if c.Server.ResultsDB == "" {
		errs = append(errs, errors.New("server.results_db is required"))
	}
	if c.Server.MaxTransfer <= 0 {
		errs = append(errs, fmt.Errorf("server.max_transfer must be positive, got %d", c.Server.MaxTransfer))
	}
	if err := c.Server.TLS.validate("server.tls", true); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateClient checks the fields the client binary depends on.
func (c *Config) ValidateClient() error {
	var errs []error
	if c.Client.Address == "" {
		errs = append(errs, errors.New("client.address is required"))
	}
	if c.Client.Experiment == "" {
		errs = append(errs, errors.New("client.experiment is required"))
	}
	if c.Client.TRInterval <= 0 {
		errs = append(errs, fmt.Errorf("client.tr_interval must be positive, got %v", c.Client.TRInterval))
	}
	if c.Client.SyncIterations <= 0 {
		errs = append(errs, fmt.Errorf("client.sync_iterations must be positive, got %d", c.Client.SyncIterations))
	}
	if err := c.Client.TLS.validate("client.tls", false); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps a log_level string onto slog.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log_level: unknown level %q", name)
	}
}
