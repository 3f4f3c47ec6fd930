package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hiveworks/swarmd/internal/backend"
	"github.com/hiveworks/swarmd/internal/classifier"
	"github.com/hiveworks/swarmd/internal/config"
	"github.com/hiveworks/swarmd/internal/decompose"
	"github.com/hiveworks/swarmd/internal/events"
	"github.com/hiveworks/swarmd/internal/logging"
	"github.com/hiveworks/swarmd/internal/orchestrator"
	"github.com/hiveworks/swarmd/internal/policy"
	"github.com/hiveworks/swarmd/internal/store"
	"github.com/hiveworks/swarmd/internal/strategy"
	"github.com/hiveworks/swarmd/internal/supervisor"
	"github.com/hiveworks/swarmd/internal/swarm"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration engine",
	Long: `Start the swarmd engine: restore open work items from the store,
watch for ready tasks, decompose non-atomic ones, and execute the rest
on the worker pool. Runs until interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Path:   cfg.Log.Path,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	storePath := cfg.Store.Path
	if storePath == "" {
		storePath = store.DefaultPath()
	}
	db, err := store.Open(storePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	roles, err := cfg.RolePolicies()
	if err != nil {
		return err
	}
	engine := policy.NewEngine(roles)

	bus := events.NewBus()
	defer bus.Close()

	cache := strategy.NewCache(db, logging.Component(logger, "strategy"))
	if cfg.Strategy.SeedFile != "" {
		count, err := strategy.ImportSeed(db, cfg.Strategy.SeedFile)
		if err != nil {
			return fmt.Errorf("import strategy seed: %w", err)
		}
		logger.Info().Int("count", count).Str("path", cfg.Strategy.SeedFile).
			Msg("strategy seed imported")
	}
	if err := cache.Reload(); err != nil {
		return fmt.Errorf("load strategies: %w", err)
	}
	if err := cache.StartRefresh(cfg.Strategy.RefreshSpec); err != nil {
		return fmt.Errorf("schedule strategy refresh: %w", err)
	}
	defer cache.StopRefresh()

	var clfOpts []classifier.AnthropicOption
	if cfg.Anthropic.Model != "" {
		clfOpts = append(clfOpts, classifier.WithModel(anthropic.Model(cfg.Anthropic.Model)))
	}
	clf := classifier.NewAnthropicClassifier(cfg.Anthropic.APIKey,
		logging.Component(logger, "classifier"), clfOpts...)

	orch := orchestrator.New(db, bus, "swarmd", logging.Component(logger, "orchestrator"))
	defer orch.Close()

	// Terminal items are restored too: pending work may depend on
	// tasks completed before this process started.
	restored, err := db.ListAll()
	if err != nil {
		return fmt.Errorf("list work items: %w", err)
	}
	if err := orch.Restore(restored); err != nil {
		return fmt.Errorf("restore work items: %w", err)
	}
	if err := orch.ValidateGraph(); err != nil {
		return fmt.Errorf("restored graph invalid: %w", err)
	}

	ctrl := decompose.NewController(clf, logging.Component(logger, "decompose"), cfg.Decompose.MaxDepth)
	registry := backend.NewRegistry(
		backend.NewShellBackend("", logging.Component(logger, "shell")),
	)
	pool := swarm.New(swarm.Config{
		Size:          cfg.Pool.Size,
		Retry:         swarm.RetryPolicy(cfg.Pool.Retry),
		RetryInterval: cfg.Pool.RetryInterval,
	}, db, engine, cache, registry, bus, orch, logging.Component(logger, "swarm"))

	sched := orchestrator.NewScheduler(orch, ctrl, pool, db, bus, 0,
		logging.Component(logger, "scheduler"))

	sup := supervisor.New(logging.Component(logger, "supervisor"), 5)
	sup.Add(supervisor.Child{Name: "scheduler", Run: sched.Run, Critical: true})
	if cfg.Strategy.SeedFile != "" {
		watcher := strategy.NewWatcher(cfg.Strategy.SeedFile, db, cache,
			logging.Component(logger, "strategy"))
		sup.Add(supervisor.Child{Name: "strategy-watcher", Run: func(ctx context.Context) error {
			if err := watcher.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		}})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup.Start(ctx)
	color.Green("swarmd serving (pool size %d, %d items restored)", cfg.Pool.Size, len(restored))
	logger.Info().Int("pool_size", cfg.Pool.Size).Int("restored", len(restored)).Msg("swarmd started")

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	sup.Stop()
	pool.Wait()
	return nil
}
