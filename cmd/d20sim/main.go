// Package main provides the scenario runner that plays YAML scenarios
// against the rules engine and prints every log line the engine returns.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/d20rules/internal/config"
	"github.com/cory-johannsen/d20rules/internal/engine"
	"github.com/cory-johannsen/d20rules/internal/game/expr"
	"github.com/cory-johannsen/d20rules/internal/game/ruleset"
	"github.com/cory-johannsen/d20rules/internal/observability"
	"github.com/cory-johannsen/d20rules/internal/scenario"
	"github.com/cory-johannsen/d20rules/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	seed := flag.Uint64("seed", 0, "override the engine seed (0 = use config or scenario)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: d20sim [-config <file>] [-seed <n>] <scenario.yaml>...")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	contentStart := time.Now()
	ev := expr.New(cfg.Engine.InstructionLimit)
	content, err := ruleset.Load(ctx, cfg.Content.Dirs(), ev)
	ev.Close()
	if err != nil {
		logger.Fatal("loading content", zap.Error(err))
	}
	logger.Info("content loaded",
		zap.Int("effects", len(content.EffectIDs())),
		zap.Int("conditions", len(content.ConditionIDs())),
		zap.Int("resources", len(content.ResourceIDs())),
		zap.Int("zones", len(content.ZoneIDs())),
		zap.Duration("elapsed", time.Since(contentStart)),
	)

	var saves scenario.SaveStore
	if cfg.Saves.Enabled {
		dbCtx, cancel := context.WithTimeout(ctx, cfg.Saves.Timeout)
		pool, err := postgres.NewPool(dbCtx, cfg.Database)
		cancel()
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		defer pool.Close()
		saves = pool.Saves()
		logger.Info("save slots enabled", zap.String("host", cfg.Database.Host))
	}

	opts := engine.Options{
		Seed:                cfg.Engine.Seed,
		InstructionLimit:    cfg.Engine.InstructionLimit,
		MaxRoundsPerAdvance: cfg.Engine.MaxRoundsPerAdvance,
	}

	failed := false
	for _, path := range flag.Args() {
		if err := play(ctx, path, content, opts, *seed, saves, logger); err != nil {
			logger.Error("scenario failed", zap.String("scenario", path), zap.Error(err))
			failed = true
		}
	}
	logger.Info("done", zap.Int("scenarios", flag.NArg()), zap.Duration("elapsed", time.Since(start)))
	if failed {
		os.Exit(1)
	}
}

func play(ctx context.Context, path string, content *ruleset.Content, opts engine.Options, seed uint64, saves scenario.SaveStore, logger *zap.Logger) error {
	sc, err := scenario.LoadFile(path)
	if err != nil {
		return err
	}
	if err := sc.CheckContent(content); err != nil {
		return err
	}
	opts = sc.Options(opts)
	if seed != 0 {
		opts.Seed = seed
	}

	eng := engine.New(content, opts, logger)
	defer eng.Close()

	fmt.Printf("== %s (seed %d)\n", sc.Name, opts.Seed)
	lines, err := scenario.NewRunner(eng, saves, logger).Run(ctx, sc)
	for _, l := range lines {
		fmt.Println(l)
	}
	return err
}
