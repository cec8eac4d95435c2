// Package main validates rule content and, optionally, scenario files
// without starting the engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cory-johannsen/d20rules/internal/config"
	"github.com/cory-johannsen/d20rules/internal/game/expr"
	"github.com/cory-johannsen/d20rules/internal/game/ruleset"
	"github.com/cory-johannsen/d20rules/internal/scenario"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (empty = defaults)")
	root := flag.String("root", "", "override content.root")
	scenarios := flag.String("scenarios", "", "directory of scenario files to check against the content")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	if *root != "" {
		cfg.Content.Root = *root
	}

	start := time.Now()
	ev := expr.New(cfg.Engine.InstructionLimit)
	defer ev.Close()

	content, err := ruleset.Load(context.Background(), cfg.Content.Dirs(), ev)
	if err != nil {
		report(err)
		os.Exit(1)
	}
	fmt.Printf("content ok: %d effects, %d conditions, %d resources, %d zones\n",
		len(content.EffectIDs()), len(content.ConditionIDs()), len(content.ResourceIDs()), len(content.ZoneIDs()))

	if *scenarios != "" {
		if err := checkScenarios(*scenarios, content); err != nil {
			report(err)
			os.Exit(1)
		}
	}
	fmt.Printf("validated in %s\n", time.Since(start).Round(time.Millisecond))
}

func checkScenarios(dir string, content *ruleset.Content) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return err
	}
	var errs []error
	for _, path := range paths {
		sc, err := scenario.LoadFile(path)
		if err == nil {
			err = sc.CheckContent(content)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		fmt.Printf("scenario ok: %s (%d steps)\n", filepath.Base(path), len(sc.Steps))
	}
	return errors.Join(errs...)
}

// report prints one problem per line.
func report(err error) {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			report(e)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}
