// Package config loads the daemon's single YAML configuration file (spec
// §6: "a single structured file with keys including at minimum
// reasoning_trace.enabled, executor.max_parallel_steps,
// executor.step_timeout_default, planner.exemplar_token_budget,
// planner.max_parse_retries, reflector.max_retries,
// memory.write_behind_interval_seconds"), grounded on
// bartekus-stagecraft's pkg/config.Load: read the file, unmarshal with
// gopkg.in/yaml.v3, then validate and apply defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	ReasoningTrace ReasoningTraceConfig `yaml:"reasoning_trace"`
	Planner        PlannerConfig        `yaml:"planner"`
	Executor       ExecutorConfig       `yaml:"executor"`
	Reflector      ReflectorConfig      `yaml:"reflector"`
	Memory         MemoryConfig         `yaml:"memory"`
	Model          ModelConfig          `yaml:"model"`
}

// ServerConfig describes the HTTP/event-stream listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ReasoningTraceConfig gates session-memory recording (C3).
type ReasoningTraceConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PlannerConfig tunes the Planner (C5).
type PlannerConfig struct {
	ExemplarTokenBudget int `yaml:"exemplar_token_budget"`
	MaxParseRetries     int `yaml:"max_parse_retries"`
}

// ExecutorConfig tunes the Step Executor (C6). StepTimeoutDefaultSeconds is
// stored as a plain integer rather than a time.Duration field because
// yaml.v3 does not parse duration literals ("30s") into time.Duration on
// its own.
type ExecutorConfig struct {
	MaxParallelSteps          int  `yaml:"max_parallel_steps"`
	StepTimeoutDefaultSeconds int  `yaml:"step_timeout_default"`
	NotifyOnRepair            bool `yaml:"notify_on_repair"`
}

// StepTimeoutDefault returns StepTimeoutDefaultSeconds as a time.Duration.
func (e ExecutorConfig) StepTimeoutDefault() time.Duration {
	return time.Duration(e.StepTimeoutDefaultSeconds) * time.Second
}

// ReflectorConfig tunes Reflection/Replanning (C8).
type ReflectorConfig struct {
	MaxRetries int `yaml:"max_retries"`
}

// MemoryConfig tunes session persistence write-behind (spec §6).
type MemoryConfig struct {
	WriteBehindIntervalSeconds int    `yaml:"write_behind_interval_seconds"`
	StoreDir                   string `yaml:"store_dir"`
	MongoURI                   string `yaml:"mongo_uri,omitempty"`
	MongoDatabase              string `yaml:"mongo_database,omitempty"`
}

// ModelConfig configures the LLM client shared by the planner, verifier, and
// replanner.
type ModelConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

// WriteBehindInterval returns Memory.WriteBehindIntervalSeconds as a
// time.Duration.
func (m MemoryConfig) WriteBehindInterval() time.Duration {
	return time.Duration(m.WriteBehindIntervalSeconds) * time.Second
}

// Load reads and validates the config file at path, applying defaults for
// any omitted key.
func Load(path string) (*Config, error) {
	// nolint:gosec // reading a config file from an operator-supplied path is expected
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Planner.ExemplarTokenBudget <= 0 {
		cfg.Planner.ExemplarTokenBudget = 2000
	}
	if cfg.Planner.MaxParseRetries <= 0 {
		cfg.Planner.MaxParseRetries = 2
	}
	if cfg.Executor.MaxParallelSteps <= 0 {
		cfg.Executor.MaxParallelSteps = 4
	}
	if cfg.Executor.StepTimeoutDefaultSeconds <= 0 {
		cfg.Executor.StepTimeoutDefaultSeconds = 30
	}
	if cfg.Reflector.MaxRetries <= 0 {
		cfg.Reflector.MaxRetries = 2
	}
	if cfg.Memory.WriteBehindIntervalSeconds <= 0 {
		cfg.Memory.WriteBehindIntervalSeconds = 10
	}
	if cfg.Memory.StoreDir == "" {
		cfg.Memory.StoreDir = "./data/sessions"
	}
	if cfg.Model.APIKeyEnv == "" {
		cfg.Model.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
}

func validate(cfg *Config) error {
	if cfg.Executor.MaxParallelSteps < 1 {
		return fmt.Errorf("config: executor.max_parallel_steps must be >= 1")
	}
	if cfg.Reflector.MaxRetries < 0 {
		return fmt.Errorf("config: reflector.max_retries must be >= 0")
	}
	if cfg.Memory.MongoURI != "" && cfg.Memory.MongoDatabase == "" {
		return fmt.Errorf("config: memory.mongo_database is required when memory.mongo_uri is set")
	}
	return nil
}
