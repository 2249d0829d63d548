package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/core"
)

const sampleYAML = `
server:
  addr: ":9090"
models:
  - alias: fast
    provider: anthropic
    model: claude-haiku-4-5
    api_key_env: ANTHROPIC_API_KEY
    context_window: 200000
  - alias: deep
    provider: openai
    model: gpt-5
    api_key_env: OPENAI_API_KEY
    context_window: 128000
rooms:
  - id: design-review
    name: Design Review
    goal: settle the API shape
    mode: orchestrator
    manager_model_alias: deep
    roster:
      - key: architect
        name: Architect
        model_alias: fast
        position: 1
      - key: critic
        name: Critic
        model_alias: deep
        position: 2
agents:
  - key: helper
    name: Helper
    model_alias: fast
pricing:
  version: "2026-08"
  multipliers:
    fast: 1.0
    deep: 4.5
  fallback: 2.0
billing:
  enforcement: false
  low_balance_threshold: 50
storage:
  backend: sqlite
  path: /var/lib/parley/parley.db
log_level: debug
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	require.Len(t, cfg.Models, 2)
	assert.Equal(t, "ANTHROPIC_API_KEY", cfg.Models[0].APIKeyEnv)
	assert.Equal(t, 200000, cfg.Models[0].ContextWindow)

	require.Len(t, cfg.Rooms, 1)
	room := cfg.Rooms[0]
	assert.Equal(t, core.ModeOrchestrator, room.Mode)
	assert.Equal(t, "deep", room.ManagerModelAlias)
	require.Len(t, room.Roster, 2)
	assert.Equal(t, "architect", room.Roster[0].Key)

	require.Len(t, cfg.Agents, 1)
	assert.Equal(t, "helper", cfg.Agents[0].Key)

	assert.Equal(t, "2026-08", cfg.Pricing.Version)
	assert.Equal(t, 4.5, cfg.Pricing.Multipliers["deep"])
	assert.Equal(t, 2.0, cfg.Pricing.Fallback)

	assert.False(t, cfg.Billing.EnforcementEnabled())
	assert.Equal(t, int64(50), cfg.Billing.LowBalanceThreshold)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParse_DefaultsApply(t *testing.T) {
	cfg, err := Parse([]byte(`models: []`))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 1.0, cfg.Pricing.Fallback)
	assert.True(t, cfg.Billing.EnforcementEnabled())
	assert.Equal(t, int64(100), cfg.Billing.LowBalanceThreshold)
}

func TestParse_RejectsUndefinedAlias(t *testing.T) {
	_, err := Parse([]byte(`
models:
  - alias: fast
    provider: mock
rooms:
  - id: r1
    name: R1
    mode: manual
    roster:
      - key: a
        name: A
        model_alias: nonexistent
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined model alias")
}

func TestParse_RejectsDuplicateAlias(t *testing.T) {
	_, err := Parse([]byte(`
models:
  - alias: fast
    provider: mock
  - alias: fast
    provider: mock
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate model alias")
}

func TestParse_RejectsSQLiteWithoutPath(t *testing.T) {
	_, err := Parse([]byte(`
storage:
  backend: sqlite
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a path")
}

func TestParse_RejectsUnknownBackend(t *testing.T) {
	_, err := Parse([]byte(`
storage:
  backend: postgres
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage backend")
}

func TestParse_RejectsInvalidRoom(t *testing.T) {
	_, err := Parse([]byte(`
models:
  - alias: fast
    provider: mock
rooms:
  - id: r1
    name: R1
    mode: manual
    roster:
      - key: a
        name: A
        model_alias: fast
      - key: a
        name: Duplicate
        model_alias: fast
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate agent key")
}

func TestRead_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parley.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)

	_, err = Read(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
