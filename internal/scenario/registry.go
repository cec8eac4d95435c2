package scenario

import (
	"context"
	"fmt"
	"slices"
)

// StepKind defines one kind of scenario step.
type StepKind struct {
	Name    string
	Aliases []string
	Help    string
	// Requires lists the Step fields the kind reads, by YAML name.
	Requires []string
	run      func(r *Runner, ctx context.Context, st Step) ([]string, error)
}

func (k *StepKind) missing(st Step) []string {
	var out []string
	for _, field := range k.Requires {
		var empty bool
		switch field {
		case "def":
			empty = st.Def == ""
		case "source":
			empty = st.Source == ""
		case "target":
			empty = st.Target == ""
		case "ref":
			empty = st.Ref == ""
		case "packets":
			empty = len(st.Packets) == 0
		case "amount":
			empty = st.Amount <= 0
		case "cadence":
			empty = st.Cadence == ""
		case "path":
			empty = st.Path == ""
		case "slot":
			empty = st.Slot == ""
		}
		if empty {
			out = append(out, field)
		}
	}
	return out
}

// Registry maps step names and aliases to StepKinds.
type Registry struct {
	kinds   map[string]*StepKind
	aliases map[string]string
}

// NewRegistry creates a Registry populated with kinds.
//
// Precondition: No two kinds may share a name or alias.
// Postcondition: Returns a Registry or an error on name/alias collisions.
func NewRegistry(kinds []StepKind) (*Registry, error) {
	r := &Registry{
		kinds:   make(map[string]*StepKind, len(kinds)),
		aliases: make(map[string]string),
	}
	for i := range kinds {
		k := &kinds[i]
		if _, exists := r.kinds[k.Name]; exists {
			return nil, fmt.Errorf("duplicate step name: %q", k.Name)
		}
		if _, exists := r.aliases[k.Name]; exists {
			return nil, fmt.Errorf("step name %q conflicts with an existing alias", k.Name)
		}
		r.kinds[k.Name] = k
		for _, alias := range k.Aliases {
			if _, exists := r.kinds[alias]; exists {
				return nil, fmt.Errorf("alias %q conflicts with step name %q", alias, alias)
			}
			if existing, exists := r.aliases[alias]; exists {
				return nil, fmt.Errorf("duplicate alias %q: used by %q and %q", alias, existing, k.Name)
			}
			r.aliases[alias] = k.Name
		}
	}
	return r, nil
}

// Resolve looks up a step kind by name or alias.
func (r *Registry) Resolve(name string) (*StepKind, bool) {
	if k, ok := r.kinds[name]; ok {
		return k, true
	}
	if canonical, ok := r.aliases[name]; ok {
		return r.kinds[canonical], true
	}
	return nil, false
}

// Names returns every canonical step name, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// DefaultRegistry returns the registry of built-in steps.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

var defaultRegistry = mustRegistry(builtinSteps())

func mustRegistry(kinds []StepKind) *Registry {
	r, err := NewRegistry(kinds)
	if err != nil {
		panic(fmt.Sprintf("building step registry: %v", err))
	}
	return r
}

func builtinSteps() []StepKind {
	return []StepKind{
		{Name: "attach", Aliases: []string{"cast", "use"}, Help: "attach an effect", Requires: []string{"def", "source", "target"}, run: (*Runner).attach},
		{Name: "condition", Help: "apply a condition", Requires: []string{"def", "source", "target"}, run: (*Runner).condition},
		{Name: "detach", Help: "remove an instance", Requires: []string{"ref"}, run: (*Runner).detach},
		{Name: "damage", Aliases: []string{"hit"}, Help: "apply damage packets", Requires: []string{"target", "packets"}, run: (*Runner).damage},
		{Name: "heal", Help: "restore hit points", Requires: []string{"target", "amount"}, run: (*Runner).heal},
		{Name: "advance", Aliases: []string{"tick"}, Help: "advance rounds", run: (*Runner).advance},
		{Name: "zone.create", Help: "create a zone", Requires: []string{"def", "source"}, run: (*Runner).zoneCreate},
		{Name: "zone.enter", Help: "move an actor into a zone", Requires: []string{"ref", "target"}, run: (*Runner).zoneEnter},
		{Name: "zone.leave", Help: "move an actor out of a zone", Requires: []string{"ref", "target"}, run: (*Runner).zoneLeave},
		{Name: "zone.destroy", Help: "destroy a zone", Requires: []string{"ref"}, run: (*Runner).zoneDestroy},
		{Name: "resource.create", Help: "give an actor a pool", Requires: []string{"def", "target"}, run: (*Runner).resourceCreate},
		{Name: "resource.spend", Help: "spend from a pool", Requires: []string{"def", "target", "amount"}, run: (*Runner).resourceSpend},
		{Name: "refresh", Help: "refresh pools for a cadence", Requires: []string{"cadence"}, run: (*Runner).refresh},
		{Name: "explain", Help: "trace how a stat resolves", Requires: []string{"path", "target"}, run: (*Runner).explain},
		{Name: "stats", Help: "print resolved statistics", Requires: []string{"target"}, run: (*Runner).stats},
		{Name: "active", Help: "list active instances", Requires: []string{"target"}, run: (*Runner).active},
		{Name: "resources", Help: "list an actor's pools", Requires: []string{"target"}, run: (*Runner).resources},
		{Name: "remove", Help: "remove an actor", Requires: []string{"target"}, run: (*Runner).remove},
		{Name: "save", Help: "store a snapshot in a slot", Requires: []string{"slot"}, run: (*Runner).save},
		{Name: "load", Aliases: []string{"restore"}, Help: "restore a snapshot from a slot", Requires: []string{"slot"}, run: (*Runner).load},
		{Name: "digest", Help: "print the state digest", run: (*Runner).digest},
	}
}
