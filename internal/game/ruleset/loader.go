package ruleset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Dirs names the content directories for each definition kind. An empty
// entry is skipped.
type Dirs struct {
	Effects    string
	Conditions string
	Resources  string
	Zones      string
}

// FormulaCompiler checks formula syntax. *expr.Evaluator satisfies it.
type FormulaCompiler interface {
	Compile(formula string) error
}

// Load reads all four directories concurrently, registers every definition
// and validates the result.
//
// Precondition: compiler must be non-nil.
// Postcondition: Returns fully validated Content, or an error listing every
// parse and validation problem found.
func Load(ctx context.Context, dirs Dirs, compiler FormulaCompiler) (*Content, error) {
	var (
		effects, conditions []*EffectDef
		resources           []*ResourceDef
		zones               []*ZoneDef
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		effects, err = LoadDirectory[EffectDef](dirs.Effects)
		return err
	})
	g.Go(func() (err error) {
		conditions, err = LoadDirectory[EffectDef](dirs.Conditions)
		return err
	})
	g.Go(func() (err error) {
		resources, err = LoadDirectory[ResourceDef](dirs.Resources)
		return err
	})
	g.Go(func() (err error) {
		zones, err = LoadDirectory[ZoneDef](dirs.Zones)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c := NewContent()
	var errs []error
	for _, d := range effects {
		errs = append(errs, c.AddEffect(d))
	}
	for _, d := range conditions {
		errs = append(errs, c.AddCondition(d))
	}
	for _, d := range resources {
		errs = append(errs, c.AddResource(d))
	}
	for _, d := range zones {
		errs = append(errs, c.AddZone(d))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := Validate(c, compiler); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadDirectory reads every *.yaml and *.yml file in dir. A file holds either
// one definition (a mapping) or a list of them (a sequence). Unknown fields
// are rejected. Files are read in name order.
//
// Postcondition: Returns the definitions in file order, or an error naming the
// first file that fails to parse.
func LoadDirectory[T any](dir string) ([]*T, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading content dir %q: %w", dir, err)
	}
	var out []*T
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}
		defs, err := decodeFile[T](data)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", path, err)
		}
		out = append(out, defs...)
	}
	return out, nil
}

func decodeFile[T any](data []byte) ([]*T, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if doc.Content[0].Kind == yaml.SequenceNode {
		var defs []*T
		if err := dec.Decode(&defs); err != nil {
			return nil, err
		}
		return slices.DeleteFunc(defs, func(d *T) bool { return d == nil }), nil
	}
	var def T
	if err := dec.Decode(&def); err != nil {
		return nil, err
	}
	return []*T{&def}, nil
}
