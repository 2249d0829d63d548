// Package config handles reading parley.yaml: the model bindings, rooms,
// standalone agents, pricing table, billing policy, budget knobs and server
// address for one deployment.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/parleyhq/parley/core"
)

// Config is the top-level structure of parley.yaml.
type Config struct {
	Server  ServerConfig    `yaml:"server"`
	Models  []ModelConfig   `yaml:"models"`
	Rooms   []core.Room     `yaml:"rooms"`
	Agents  []core.AgentDef `yaml:"agents"`
	Pricing PricingConfig   `yaml:"pricing"`
	Billing BillingConfig   `yaml:"billing"`
	Budget  BudgetConfig    `yaml:"budget"`
	Storage StorageConfig   `yaml:"storage"`
	LogLevel string         `yaml:"log_level"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ModelConfig binds an alias to a provider model. APIKeyEnv names the
// environment variable the key is read from, never the key itself.
type ModelConfig struct {
	Alias         string `yaml:"alias"`
	Provider      string `yaml:"provider"` // anthropic | openai | mock
	Model         string `yaml:"model"`
	APIKeyEnv     string `yaml:"api_key_env"`
	ContextWindow int    `yaml:"context_window"`
}

// PricingConfig is the per-alias multiplier table with its version tag.
type PricingConfig struct {
	Version     string             `yaml:"version"`
	Multipliers map[string]float64 `yaml:"multipliers"`
	Fallback    float64            `yaml:"fallback"`
}

// BillingConfig holds the policy defaults.
type BillingConfig struct {
	Enforcement         *bool `yaml:"enforcement"`
	LowBalanceThreshold int64 `yaml:"low_balance_threshold"`
}

// EnforcementEnabled resolves the enforcement default (enabled when unset).
func (b BillingConfig) EnforcementEnabled() bool {
	return b.Enforcement == nil || *b.Enforcement
}

// BudgetConfig tunes the context budgeting cascade. Zero values keep the
// built-in defaults.
type BudgetConfig struct {
	MaxOutputTokens        int     `yaml:"max_output_tokens"`
	OverheadFloor          int     `yaml:"overhead_floor"`
	SummarizeRatio         float64 `yaml:"summarize_ratio"`
	SummarizeTurnThreshold int     `yaml:"summarize_turn_threshold"`
	PruneRatio             float64 `yaml:"prune_ratio"`
	KeepRecentTurns        int     `yaml:"keep_recent_turns"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `yaml:"backend"` // sqlite | memory
	Path    string `yaml:"path"`
}

// Read loads and validates the configuration at path.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates raw YAML configuration.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Addr: ":8080"},
		Pricing:  PricingConfig{Version: "v1", Fallback: 1.0},
		Billing:  BillingConfig{LowBalanceThreshold: 100},
		Storage:  StorageConfig{Backend: "memory"},
		LogLevel: "info",
	}
}

// Validate checks cross-references: every roster and agent model alias must
// be defined, rooms must pass structural validation.
func (c *Config) Validate() error {
	aliases := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if m.Alias == "" {
			return fmt.Errorf("model with empty alias")
		}
		if aliases[m.Alias] {
			return fmt.Errorf("duplicate model alias %q", m.Alias)
		}
		aliases[m.Alias] = true
	}

	checkAlias := func(owner, alias string) error {
		if alias == "" {
			return fmt.Errorf("%s: empty model alias", owner)
		}
		if !aliases[alias] {
			return fmt.Errorf("%s: undefined model alias %q", owner, alias)
		}
		return nil
	}

	for _, room := range c.Rooms {
		if err := room.Validate(); err != nil {
			return err
		}
		for _, a := range room.Roster {
			if err := checkAlias(fmt.Sprintf("room %s agent %s", room.ID, a.Key), a.ModelAlias); err != nil {
				return err
			}
		}
		if room.ManagerModelAlias != "" {
			if err := checkAlias(fmt.Sprintf("room %s manager", room.ID), room.ManagerModelAlias); err != nil {
				return err
			}
		}
	}
	for _, a := range c.Agents {
		if a.Key == "" {
			return fmt.Errorf("standalone agent with empty key")
		}
		if err := checkAlias(fmt.Sprintf("agent %s", a.Key), a.ModelAlias); err != nil {
			return err
		}
	}

	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage backend sqlite requires a path")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}
