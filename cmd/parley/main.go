// Command parley runs the conversation engine server from a YAML
// configuration file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	openaisdk "github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"github.com/spf13/cobra"

	"github.com/parleyhq/parley"
	"github.com/parleyhq/parley/budget"
	"github.com/parleyhq/parley/config"
	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/executor"
	"github.com/parleyhq/parley/ledger"
	"github.com/parleyhq/parley/logging"
	"github.com/parleyhq/parley/model"
	"github.com/parleyhq/parley/model/anthropic"
	"github.com/parleyhq/parley/model/openai"
	"github.com/parleyhq/parley/server"
	"github.com/parleyhq/parley/store"
	"github.com/parleyhq/parley/tool"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "parley",
	Short:         "Multi-agent room conversation engine",
	Version:       parley.Version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Read(configPath)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Read(configPath)
		if err != nil {
			return err
		}
		fmt.Printf("config ok: %d models, %d rooms, %d agents\n",
			len(cfg.Models), len(cfg.Rooms), len(cfg.Agents))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "parley.yaml", "Path to configuration file")
	rootCmd.AddCommand(serveCmd, checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := buildLogger(cfg.LogLevel)

	models, err := buildModels(cfg.Models)
	if err != nil {
		return err
	}

	st, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	catalog := ledger.NewStaticCatalog(cfg.Pricing.Version, cfg.Pricing.Multipliers, cfg.Pricing.Fallback)
	policy := ledger.NewPolicy(catalog,
		ledger.WithEnforcement(cfg.Billing.EnforcementEnabled()),
		ledger.WithLowBalanceThreshold(cfg.Billing.LowBalanceThreshold))

	budgeter := budget.New(func(o *budget.Options) {
		if cfg.Budget.MaxOutputTokens > 0 {
			o.MaxOutputTokens = cfg.Budget.MaxOutputTokens
		}
		if cfg.Budget.OverheadFloor > 0 {
			o.OverheadFloor = cfg.Budget.OverheadFloor
		}
		if cfg.Budget.SummarizeRatio > 0 {
			o.SummarizeRatio = cfg.Budget.SummarizeRatio
		}
		if cfg.Budget.SummarizeTurnThreshold > 0 {
			o.SummarizeTurnThreshold = cfg.Budget.SummarizeTurnThreshold
		}
		if cfg.Budget.PruneRatio > 0 {
			o.PruneRatio = cfg.Budget.PruneRatio
		}
		if cfg.Budget.KeepRecentTurns > 0 {
			o.KeepRecentTurns = cfg.Budget.KeepRecentTurns
		}
		o.Logger = logger
	})

	tools := tool.NewRegistry()

	exec := executor.New(st, models, func(o *executor.Options) {
		o.Budgeter = budgeter
		o.Policy = policy
		o.Tools = tools
		o.Logger = logger
	})

	srv := server.New(cfg.Server.Addr, exec, st, func(o *server.Options) {
		o.Tools = tools
		o.Policy = policy
		o.Wallets = st
		o.Logger = logger
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildLogger(level string) logging.Logger {
	lvl := logging.LogLevelInfo
	switch level {
	case "debug":
		lvl = logging.LogLevelDebug
	case "warn":
		lvl = logging.LogLevelWarn
	case "error":
		lvl = logging.LogLevelError
	}
	return logging.NewSlogLogger(lvl, "json", false)
}

func buildModels(configs []config.ModelConfig) (*model.Registry, error) {
	registry := model.NewRegistry()
	for _, mc := range configs {
		m, err := buildModel(mc)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", mc.Alias, err)
		}
		registry.Register(mc.Alias, m)
	}
	return registry, nil
}

func buildModel(mc config.ModelConfig) (model.Model, error) {
	switch mc.Provider {
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if mc.Model != "" {
				o.Model = anthropicsdk.Model(mc.Model)
			}
			if mc.APIKeyEnv != "" {
				o.APIKey = os.Getenv(mc.APIKeyEnv)
			}
			if mc.ContextWindow > 0 {
				o.ContextWindow = mc.ContextWindow
			}
		}), nil
	case "openai":
		var clientOpts []openaioption.RequestOption
		if mc.APIKeyEnv != "" {
			clientOpts = append(clientOpts, openaioption.WithAPIKey(os.Getenv(mc.APIKeyEnv)))
		}
		client := openaisdk.NewClient(clientOpts...)
		return openai.NewModelFromClient(&client, func(o *openai.Options) {
			if mc.Model != "" {
				o.Model = mc.Model
			}
			if mc.ContextWindow > 0 {
				o.ContextWindow = mc.ContextWindow
			}
		}), nil
	case "mock":
		return model.NewMockModel(mc.Alias, "mock"), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", mc.Provider)
	}
}

func buildStore(ctx context.Context, cfg *config.Config) (core.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		s, err := store.NewSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		for _, room := range cfg.Rooms {
			if err := s.PutRoom(ctx, room); err != nil {
				s.Close()
				return nil, nil, err
			}
		}
		for _, agent := range cfg.Agents {
			if err := s.PutAgent(ctx, agent); err != nil {
				s.Close()
				return nil, nil, err
			}
		}
		return s, func() { s.Close() }, nil
	default:
		s := store.NewMemory()
		for _, room := range cfg.Rooms {
			s.PutRoom(room)
		}
		for _, agent := range cfg.Agents {
			s.PutAgent(agent)
		}
		return s, func() {}, nil
	}
}

var _ core.Store = (*store.Memory)(nil)
var _ core.Store = (*store.SQLite)(nil)
