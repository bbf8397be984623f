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

	"github.com/capmapt/chatsvtr-sub005/internal/config"
	"github.com/capmapt/chatsvtr-sub005/internal/kvstore"
	"github.com/capmapt/chatsvtr-sub005/internal/orchestrator"
	"github.com/capmapt/chatsvtr-sub005/internal/prompt"
	"github.com/capmapt/chatsvtr-sub005/internal/provider"
	providerfactory "github.com/capmapt/chatsvtr-sub005/internal/provider/factory"
	"github.com/capmapt/chatsvtr-sub005/internal/quota"
	"github.com/capmapt/chatsvtr-sub005/internal/selector"
	"github.com/capmapt/chatsvtr-sub005/internal/server"
)

const serveUsage = `Usage:
  chatsvtr serve --config <path> [--port <port>]

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

	// API keys usually live in a local .env next to the config; its absence
	// is not an error.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("load .env failed", "err", err)
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

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	monitor := quota.NewMonitor(store, quota.Limits{
		DailyRequests:       cfg.Quota.DailyRequests,
		MonthlyTokens:       cfg.Quota.MonthlyTokens,
		MaxTokensPerRequest: cfg.Quota.MaxTokensPerRequest,
	})

	prompts, err := prompt.NewLibrary(cfg.Prompt.Persona, cfg.Prompt.FactsPath)
	if err != nil {
		return err
	}
	go prompts.Watch(ctx)

	sel, err := selector.New(cfg.ModelCandidates(), cfg.Prompt.Triggers)
	if err != nil {
		return err
	}

	registry := provider.NewRegistry()
	if err := providerfactory.RegisterConfiguredRunners(cfg, registry); err != nil {
		return err
	}

	orch, err := orchestrator.New(registry, sel, prompts, monitor,
		cfg.GenerationParams(),
		time.Duration(cfg.Orchestrator.AttemptTimeoutSeconds)*time.Second,
	)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, orch, monitor)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}

func openStore(cfg config.Config) (kvstore.Store, error) {
	if cfg.Quota.StorePath == "" {
		slog.Warn("no quota store path configured, usage counters reset on restart")
		return kvstore.NewMemory(), nil
	}

	store, err := kvstore.OpenSQLite(cfg.Quota.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open usage store: %w", err)
	}
	return store, nil
}
