package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "homeagent.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
reasoning_trace:
  enabled: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.True(t, cfg.ReasoningTrace.Enabled)
	assert.Equal(t, 4, cfg.Executor.MaxParallelSteps)
	assert.Equal(t, 30, cfg.Executor.StepTimeoutDefaultSeconds)
	assert.Equal(t, 2000, cfg.Planner.ExemplarTokenBudget)
	assert.Equal(t, 2, cfg.Planner.MaxParseRetries)
	assert.Equal(t, 2, cfg.Reflector.MaxRetries)
	assert.Equal(t, 10, cfg.Memory.WriteBehindIntervalSeconds)
	assert.Equal(t, "./data/sessions", cfg.Memory.StoreDir)
	assert.Equal(t, "ANTHROPIC_API_KEY", cfg.Model.APIKeyEnv)
}

func TestLoadHonorsExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "homeagent.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
executor:
  max_parallel_steps: 8
  step_timeout_default: 60
  notify_on_repair: true
reflector:
  max_retries: 5
memory:
  write_behind_interval_seconds: 30
  mongo_uri: "mongodb://localhost:27017"
  mongo_database: "homeagent"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Executor.MaxParallelSteps)
	assert.Equal(t, 60*1_000_000_000, int(cfg.Executor.StepTimeoutDefault()))
	assert.True(t, cfg.Executor.NotifyOnRepair)
	assert.Equal(t, 5, cfg.Reflector.MaxRetries)
	assert.Equal(t, 30, cfg.Memory.WriteBehindIntervalSeconds)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Memory.MongoURI)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestLoadRejectsMongoURIWithoutDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "homeagent.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
memory:
  mongo_uri: "mongodb://localhost:27017"
`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadDefaultsZeroMaxParallelSteps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "homeagent.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
executor:
  max_parallel_steps: 0
`), 0o600))

	// A zero value is indistinguishable from "omitted" for an int field, so
	// defaulting fills it in before validate ever sees it; this documents
	// that behavior rather than asserting a rejection.
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Executor.MaxParallelSteps)
}
