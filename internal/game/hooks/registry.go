// Package hooks keeps the registry of live rule hooks, folds matched hook
// actions into a Decision, and drains the deferred action queue.
//
// Registrations are derived state: they are rebuilt from instances and
// zones whenever a game state is restored.
package hooks

import (
	"cmp"
	"slices"
	"strings"

	"github.com/cory-johannsen/d20rules/internal/game/ruleset"
)

// Owner identifies what registered a hook.
type Owner struct {
	// ID is the instance or zone id.
	ID string
	// SourceID is the actor whose formulas the hook's actions evaluate against.
	SourceID string
	// Label is the owning definition id, used in log lines.
	Label string
}

// Registered is one live hook listening on one actor.
type Registered struct {
	ID      uint64
	Owner   Owner
	ActorID string
	Hook    ruleset.Hook
}

// Registry indexes hooks by (scope, actor) and by owner.
// It is not safe for concurrent use; the caller must serialise access.
type Registry struct {
	byScope    map[string]map[string][]*Registered
	byOwner    map[string][]*Registered
	seq        uint64
	suppressed func(ownerID string) bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byScope: make(map[string]map[string][]*Registered),
		byOwner: make(map[string][]*Registered),
	}
}

// SetSuppressionCheck installs the predicate Match uses to skip hooks whose
// owner is currently suppressed.
func (r *Registry) SetSuppressionCheck(fn func(ownerID string) bool) {
	r.suppressed = fn
}

// Register adds h for actorID on behalf of owner.
//
// Postcondition: the returned registration is reachable from Match and RemoveByOwner.
func (r *Registry) Register(owner Owner, actorID string, h ruleset.Hook) *Registered {
	r.seq++
	reg := &Registered{ID: r.seq, Owner: owner, ActorID: actorID, Hook: h}
	actors, ok := r.byScope[h.Scope]
	if !ok {
		actors = make(map[string][]*Registered)
		r.byScope[h.Scope] = actors
	}
	actors[actorID] = append(actors[actorID], reg)
	r.byOwner[owner.ID] = append(r.byOwner[owner.ID], reg)
	return reg
}

// RemoveByOwner unregisters every hook owned by ownerID and returns how many
// were removed.
func (r *Registry) RemoveByOwner(ownerID string) int {
	regs := r.byOwner[ownerID]
	for _, reg := range regs {
		r.unindex(reg)
	}
	delete(r.byOwner, ownerID)
	return len(regs)
}

// RemoveActor unregisters ownerID's hooks that listen on actorID, used when
// an actor leaves a zone.
func (r *Registry) RemoveActor(ownerID, actorID string) int {
	removed := 0
	r.byOwner[ownerID] = slices.DeleteFunc(r.byOwner[ownerID], func(reg *Registered) bool {
		if reg.ActorID != actorID {
			return false
		}
		r.unindex(reg)
		removed++
		return true
	})
	if len(r.byOwner[ownerID]) == 0 {
		delete(r.byOwner, ownerID)
	}
	return removed
}

func (r *Registry) unindex(reg *Registered) {
	actors := r.byScope[reg.Hook.Scope]
	actors[reg.ActorID] = slices.DeleteFunc(actors[reg.ActorID], func(x *Registered) bool { return x == reg })
	if len(actors[reg.ActorID]) == 0 {
		delete(actors, reg.ActorID)
	}
}

// Owned returns the hooks registered by ownerID.
func (r *Registry) Owned(ownerID string) []*Registered {
	return slices.Clone(r.byOwner[ownerID])
}

// Len returns the number of live registrations.
func (r *Registry) Len() int {
	n := 0
	for _, regs := range r.byOwner {
		n += len(regs)
	}
	return n
}

// Reset drops every registration.
func (r *Registry) Reset() {
	clear(r.byScope)
	clear(r.byOwner)
}

// Match returns actorID's hooks for scope whose event prefix and match
// predicate accept the dispatch, ordered by ascending priority then
// registration order. Hooks with a suppressed owner are skipped.
func (r *Registry) Match(scope, actorID, event string, attrs map[string]string) []*Registered {
	var out []*Registered
	for _, reg := range r.byScope[scope][actorID] {
		if r.suppressed != nil && r.suppressed(reg.Owner.ID) {
			continue
		}
		if !accepts(reg.Hook, event, attrs) {
			continue
		}
		out = append(out, reg)
	}
	slices.SortFunc(out, func(a, b *Registered) int {
		if c := cmp.Compare(a.Hook.Priority, b.Hook.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func accepts(h ruleset.Hook, event string, attrs map[string]string) bool {
	if h.Event != "" && !strings.HasPrefix(event, h.Event) {
		return false
	}
	for k, v := range h.Match {
		if attrs[k] != v {
			return false
		}
	}
	return true
}
