// Package scenario reads scripted sessions (actors plus an ordered list of
// steps) from YAML and plays them against the rules engine.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/d20rules/internal/game/actor"
	"github.com/cory-johannsen/d20rules/internal/game/damage"
	"github.com/cory-johannsen/d20rules/internal/game/ruleset"
)

// Scenario is one scripted session.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	// Seed overrides the configured engine seed when set.
	Seed   *uint64        `yaml:"seed,omitempty"`
	Actors []*actor.Actor `yaml:"actors"`
	Steps  []Step         `yaml:"steps"`
}

// Step is one engine call. Do selects the step kind; the other fields are
// read as that kind requires.
type Step struct {
	Do string `yaml:"do"`
	// As names the id a step returns (instance or zone) for later Ref use.
	As  string `yaml:"as,omitempty"`
	Ref string `yaml:"ref,omitempty"`

	Def     string          `yaml:"def,omitempty"`
	Source  string          `yaml:"source,omitempty"`
	Target  string          `yaml:"target,omitempty"`
	Members []string        `yaml:"members,omitempty"`
	Packets []damage.Packet `yaml:"packets,omitempty"`
	Amount  int             `yaml:"amount,omitempty"`
	Rounds  int             `yaml:"rounds,omitempty"`
	Stack   bool            `yaml:"stack,omitempty"`
	Cadence string          `yaml:"cadence,omitempty"`
	Path    string          `yaml:"path,omitempty"`
	Slot    string          `yaml:"slot,omitempty"`
	Label   string          `yaml:"label,omitempty"`
}

// LoadFile reads and validates a scenario file.
//
// Precondition: path names a readable YAML file.
// Postcondition: Returns a validated Scenario or a non-nil error.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", path, err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes a scenario, rejecting unknown fields, and validates it.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks that every actor has a unique id and every step names a
// known kind with the fields that kind needs.
//
// Postcondition: Returns nil, or an error joining one entry per problem.
func (sc *Scenario) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(sc.Actors))
	for i, a := range sc.Actors {
		switch {
		case a == nil || a.ID == "":
			errs = append(errs, fmt.Errorf("actor %d: id is required", i))
		case seen[a.ID]:
			errs = append(errs, fmt.Errorf("actor %d: duplicate id %q", i, a.ID))
		default:
			seen[a.ID] = true
		}
	}
	for i, st := range sc.Steps {
		kind, ok := defaultRegistry.Resolve(st.Do)
		if !ok {
			errs = append(errs, fmt.Errorf("step %d: unknown step %q", i+1, st.Do))
			continue
		}
		if missing := kind.missing(st); len(missing) > 0 {
			errs = append(errs, fmt.Errorf("step %d (%s): missing %s", i+1, kind.Name, strings.Join(missing, ", ")))
		}
	}
	return errors.Join(errs...)
}

// CheckContent reports steps that name definitions c does not hold.
//
// Postcondition: Returns nil, or an error joining one entry per unknown reference.
func (sc *Scenario) CheckContent(c *ruleset.Content) error {
	var errs []error
	for i, st := range sc.Steps {
		kind, ok := defaultRegistry.Resolve(st.Do)
		if !ok || st.Def == "" {
			continue
		}
		var found bool
		switch kind.Name {
		case "attach":
			_, found = c.Attachable(st.Def)
		case "condition":
			_, found = c.Condition(st.Def)
		case "zone.create":
			_, found = c.Zone(st.Def)
		case "resource.create", "resource.spend":
			_, found = c.Resource(st.Def)
		default:
			found = true
		}
		if !found {
			errs = append(errs, fmt.Errorf("step %d (%s): unknown definition %q", i+1, kind.Name, st.Def))
		}
	}
	return errors.Join(errs...)
}
