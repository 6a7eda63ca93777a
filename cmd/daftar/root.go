package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"daftar/internal/config"
	"daftar/internal/logging"
	"daftar/internal/policy"
	"daftar/internal/store"
	"daftar/internal/tools"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "daftar",
	Short: "daftar - governed long-term memory for assistants",
	Long: `daftar stores durable per-user memories behind a deterministic
policy engine. Every write resolves to ACCEPT, SUPERSEDE, REJECT, or
EXISTS; retrieval is rate-limited and strictly scoped to the owning user.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/daftar.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// app bundles everything a command needs. close() releases resources in
// reverse dependency order.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *store.Store
	engine   *policy.Engine
	settings *config.SettingsLoader
	memory   *tools.MemoryTool
}

func (a *app) close() {
	if a.settings != nil {
		a.settings.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.log != nil {
		a.log.Sync()
	}
}

// bootstrap loads config and brings up the logger, store, engine, and
// tool facade shared by every command.
func bootstrap() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Logging
	if verbose {
		logCfg.Level = "debug"
	}
	log, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	st, err := store.Open(cfg.Database.Path, log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	engine := policy.New(st, log)
	settings := config.NewSettingsLoader(cfg.Memory.DefaultsPath, st, log)
	memory := tools.NewMemoryTool(engine, settings, log)

	return &app{
		cfg:      cfg,
		log:      log,
		store:    st,
		engine:   engine,
		settings: settings,
		memory:   memory,
	}, nil
}
