// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the Stats Council configuration from
// a YAML file, .env files, and environment variables. Environment variables
// take precedence over file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	scerrors "github.com/tombee/statscouncil/pkg/errors"
	"github.com/tombee/statscouncil/pkg/llm"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config represents the complete Stats Council configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Keys     KeysConfig     `yaml:"keys"`
	Models   ModelsConfig   `yaml:"models"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Output   OutputConfig   `yaml:"output"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (debug, info, warn, error).
	// Environment: LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text, pretty).
	// Environment: LOG_FORMAT
	// Default: json
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// KeysConfig holds API credentials. Keys belong in the environment or a
// .env file, not in config.yaml, but the YAML fields exist for completeness.
type KeysConfig struct {
	// OpenRouter is the OpenRouter API key used for all council model calls.
	// Environment: OPENROUTER_API_KEY
	OpenRouter string `yaml:"openrouter,omitempty"`

	// OpenAI is the OpenAI API key used for the code execution sandbox.
	// Environment: OPENAI_API_KEY
	OpenAI string `yaml:"openai,omitempty"`
}

// ModelsConfig overrides the default council lineup per seat.
type ModelsConfig struct {
	// Audit is the model ID for the stage-1 data audit seat.
	Audit string `yaml:"audit,omitempty"`

	// Planners are the model IDs consulted in parallel by the planning
	// council. An empty list keeps the default three-model panel.
	Planners []string `yaml:"planners,omitempty"`

	// Reasoner is the model ID for assumption checks and code review.
	Reasoner string `yaml:"reasoner,omitempty"`

	// Synthesis is the model ID that merges proposals and writes code.
	Synthesis string `yaml:"synthesis,omitempty"`

	// Writer is the model ID that produces the final manuscript prose.
	Writer string `yaml:"writer,omitempty"`
}

// PipelineConfig configures pipeline-wide behavior.
type PipelineConfig struct {
	// RequestTimeout is the maximum duration for a single model request.
	// Environment: STATSCOUNCIL_REQUEST_TIMEOUT
	// Default: 120s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Temperature is the sampling temperature for council calls.
	// Default: 0.2
	Temperature float64 `yaml:"temperature"`

	// MaxRequestsPerSecond caps outbound completion requests.
	// 0 disables rate limiting.
	// Default: 2
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second"`

	// Unattended approves every stage gate automatically.
	// Environment: STATSCOUNCIL_UNATTENDED
	// Default: false
	Unattended bool `yaml:"unattended"`

	// JournalFormat selects the target journal's reporting conventions.
	// Default: generic
	JournalFormat string `yaml:"journal_format"`
}

// SandboxConfig configures the remote code execution sandbox.
type SandboxConfig struct {
	// PollInterval is the initial interval between run status polls.
	// Default: 2s
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxPollInterval caps the polling backoff.
	// Default: 15s
	MaxPollInterval time.Duration `yaml:"max_poll_interval"`

	// RunTimeout is the maximum wall-clock time for one sandbox run.
	// Environment: STATSCOUNCIL_SANDBOX_TIMEOUT
	// Default: 10m
	RunTimeout time.Duration `yaml:"run_timeout"`
}

// OutputConfig configures where run artifacts are written.
type OutputConfig struct {
	// Dir is the directory for exported artifacts (audit trail, figures,
	// tables, manuscript). Created on demand.
	// Environment: STATSCOUNCIL_OUTPUT_DIR
	// Default: ./statscouncil-output
	Dir string `yaml:"dir"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:     "info",
			Format:    "json",
			AddSource: false,
		},
		Pipeline: PipelineConfig{
			RequestTimeout:       120 * time.Second,
			Temperature:          0.2,
			MaxRequestsPerSecond: 2,
			Unattended:           false,
			JournalFormat:        "generic",
		},
		Sandbox: SandboxConfig{
			PollInterval:    2 * time.Second,
			MaxPollInterval: 15 * time.Second,
			RunTimeout:      10 * time.Minute,
		},
		Output: OutputConfig{
			Dir: "./statscouncil-output",
		},
	}
}

// Load loads configuration from a .env file, a YAML file, and environment
// variables. Environment variables take precedence over file-based values.
// If configPath is empty, the default XDG config path is tried; a missing
// file there is not an error.
func Load(configPath string) (*Config, error) {
	// A .env file in the working directory supplies API keys during
	// development. Absence is not an error.
	_ = godotenv.Load()

	cfg := Default()

	explicit := configPath != ""
	if !explicit {
		if path, err := ConfigPath(); err == nil {
			configPath = path
		}
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			if explicit || !os.IsNotExist(errors.Unwrap(err)) {
				return nil, &scerrors.ConfigError{
					Key:    "config_file",
					Reason: fmt.Sprintf("failed to load from %s", configPath),
					Cause:  err,
				}
			}
		}
	}

	// Apply defaults to any zero values (handles minimal configs)
	cfg.applyDefaults()

	// Override with environment variables
	cfg.loadFromEnv()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, &scerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero values with sensible defaults.
// This allows minimal configs (e.g., just model overrides) to work
// without specifying all fields explicitly.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	if c.Pipeline.RequestTimeout == 0 {
		c.Pipeline.RequestTimeout = defaults.Pipeline.RequestTimeout
	}
	if c.Pipeline.Temperature == 0 {
		c.Pipeline.Temperature = defaults.Pipeline.Temperature
	}
	if c.Pipeline.MaxRequestsPerSecond == 0 {
		c.Pipeline.MaxRequestsPerSecond = defaults.Pipeline.MaxRequestsPerSecond
	}
	if c.Pipeline.JournalFormat == "" {
		c.Pipeline.JournalFormat = defaults.Pipeline.JournalFormat
	}

	if c.Sandbox.PollInterval == 0 {
		c.Sandbox.PollInterval = defaults.Sandbox.PollInterval
	}
	if c.Sandbox.MaxPollInterval == 0 {
		c.Sandbox.MaxPollInterval = defaults.Sandbox.MaxPollInterval
	}
	if c.Sandbox.RunTimeout == 0 {
		c.Sandbox.RunTimeout = defaults.Sandbox.RunTimeout
	}

	if c.Output.Dir == "" {
		c.Output.Dir = defaults.Output.Dir
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	// Expand home directory if present
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	// Log configuration
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}

	// API keys
	if val := os.Getenv("OPENROUTER_API_KEY"); val != "" {
		c.Keys.OpenRouter = val
	}
	if val := os.Getenv("OPENAI_API_KEY"); val != "" {
		c.Keys.OpenAI = val
	}

	// Pipeline configuration
	if val := os.Getenv("STATSCOUNCIL_REQUEST_TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Pipeline.RequestTimeout = duration
		}
	}
	if val := os.Getenv("STATSCOUNCIL_UNATTENDED"); val != "" {
		c.Pipeline.Unattended = val == "1" || strings.ToLower(val) == "true"
	}
	if val := os.Getenv("STATSCOUNCIL_MAX_RPS"); val != "" {
		if rps, err := strconv.ParseFloat(val, 64); err == nil {
			c.Pipeline.MaxRequestsPerSecond = rps
		}
	}

	// Sandbox configuration
	if val := os.Getenv("STATSCOUNCIL_SANDBOX_TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Sandbox.RunTimeout = duration
		}
	}

	// Output configuration
	if val := os.Getenv("STATSCOUNCIL_OUTPUT_DIR"); val != "" {
		c.Output.Dir = val
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	// Validate log configuration
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true, "pretty": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text, pretty], got %q", c.Log.Format))
	}

	// Validate pipeline configuration
	if c.Pipeline.RequestTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("pipeline.request_timeout must be positive, got %v", c.Pipeline.RequestTimeout))
	}
	if c.Pipeline.Temperature < 0 || c.Pipeline.Temperature > 2 {
		errs = append(errs, fmt.Sprintf("pipeline.temperature must be between 0 and 2, got %v", c.Pipeline.Temperature))
	}
	if c.Pipeline.MaxRequestsPerSecond < 0 {
		errs = append(errs, fmt.Sprintf("pipeline.max_requests_per_second must be non-negative, got %v", c.Pipeline.MaxRequestsPerSecond))
	}

	// Validate sandbox configuration
	if c.Sandbox.PollInterval <= 0 {
		errs = append(errs, fmt.Sprintf("sandbox.poll_interval must be positive, got %v", c.Sandbox.PollInterval))
	}
	if c.Sandbox.MaxPollInterval < c.Sandbox.PollInterval {
		errs = append(errs, fmt.Sprintf("sandbox.max_poll_interval must be at least poll_interval, got %v", c.Sandbox.MaxPollInterval))
	}
	if c.Sandbox.RunTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("sandbox.run_timeout must be positive, got %v", c.Sandbox.RunTimeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}

	return nil
}

// Lineup applies the configured model overrides to the default council
// lineup and returns the result. Unset overrides keep the defaults.
func (c *Config) Lineup() []llm.ModelInfo {
	lineup := llm.DefaultLineup()

	overrideSeat := func(seat llm.Seat, id string) {
		if id == "" {
			return
		}
		for i := range lineup {
			if lineup[i].Seat == seat {
				lineup[i].ID = id
				lineup[i].Name = id
			}
		}
	}

	overrideSeat(llm.SeatAudit, c.Models.Audit)
	overrideSeat(llm.SeatReasoner, c.Models.Reasoner)
	overrideSeat(llm.SeatSynthesis, c.Models.Synthesis)
	overrideSeat(llm.SeatWriter, c.Models.Writer)

	if len(c.Models.Planners) > 0 {
		// Replace the planner panel wholesale, keeping the other seats.
		var out []llm.ModelInfo
		for _, m := range lineup {
			if m.Seat != llm.SeatPlanner {
				out = append(out, m)
			}
		}
		for _, id := range c.Models.Planners {
			out = append(out, llm.ModelInfo{ID: id, Name: id, Seat: llm.SeatPlanner})
		}
		return out
	}

	return lineup
}
