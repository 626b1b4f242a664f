package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"cortex-router/internal/config"
	"cortex-router/internal/history"
	"cortex-router/internal/metrics"
	"cortex-router/internal/optimizer"
	"cortex-router/internal/orchestrator"
	"cortex-router/internal/pricing"
	"cortex-router/internal/provider"
	providerfactory "cortex-router/internal/provider/factory"
	"cortex-router/internal/routing"
	"cortex-router/internal/server"
)

const serveUsage = `Usage:
  cortex-router serve --config <path> [--port <port>]

Flags:
  --config string   Path to YAML configuration file (required)
  --port   int      Override server port from configuration`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	if cfgPath == "" {
		return errors.New("serve command requires --config <path>")
	}

	// API keys live in .env during development; absence is not an error.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env file", "err", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	registry := provider.NewRegistry()
	if err := providerfactory.RegisterConfiguredProviders(cfg, registry); err != nil {
		return err
	}

	table := pricing.Default()
	for providerName, rates := range cfg.Pricing {
		overlay := pricing.Table{providerName: map[string]pricing.Rate{}}
		for model, rate := range rates {
			overlay[providerName][model] = pricing.Rate{
				PromptPer1K:     rate.PromptPer1K,
				CompletionPer1K: rate.CompletionPer1K,
			}
		}
		table.Merge(overlay)
	}

	orch := orchestrator.New(registry, table, routing.NewPolicy(), orchestrator.Options{
		MaxConcurrent: int64(cfg.Server.MaxConcurrent),
		ChunkSize:     cfg.Stream.ChunkSize,
		LineDelay:     time.Duration(cfg.Stream.LineDelayMS) * time.Millisecond,
	})

	var opt *optimizer.Optimizer
	if cfg.Optimizer.Enabled {
		opt = optimizer.New(registry, cfg.Optimizer.Provider, cfg.Optimizer.Model, cfg.Optimizer.MaxAttempts)
	}

	var store history.Store = history.NopStore{}
	if cfg.History.Path != "" {
		sqliteStore, err := history.OpenSQLite(cfg.History.Path)
		if err != nil {
			// History is a best-effort side channel; a broken store
			// must not keep the gateway down.
			slog.Warn("history store unavailable, persistence disabled", "path", cfg.History.Path, "err", err)
		} else {
			store = sqliteStore
			defer sqliteStore.Close()
		}
	}

	metrics.Init()

	srv, err := server.New(cfg, orch, opt, store)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
