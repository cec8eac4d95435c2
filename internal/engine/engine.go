// Package engine is the public facade over the rules components. It owns the
// game state, wires every collaborator to it and serialises calls so a host
// can drive it from any goroutine.
package engine

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/d20rules/internal/game/actor"
	"github.com/cory-johannsen/d20rules/internal/game/damage"
	"github.com/cory-johannsen/d20rules/internal/game/dice"
	"github.com/cory-johannsen/d20rules/internal/game/effect"
	"github.com/cory-johannsen/d20rules/internal/game/expr"
	"github.com/cory-johannsen/d20rules/internal/game/gates"
	"github.com/cory-johannsen/d20rules/internal/game/hooks"
	"github.com/cory-johannsen/d20rules/internal/game/modifier"
	"github.com/cory-johannsen/d20rules/internal/game/resource"
	"github.com/cory-johannsen/d20rules/internal/game/ruleset"
	"github.com/cory-johannsen/d20rules/internal/game/state"
	"github.com/cory-johannsen/d20rules/internal/game/stats"
	"github.com/cory-johannsen/d20rules/internal/game/zone"
)

// ErrActorNotFound is returned when an operation names an actor that is not
// in the game.
var ErrActorNotFound = errors.New("engine: actor not found")

// Scheduler events raised on every actor each round.
const (
	EventStartOfTurn = "start_of_turn"
	EventEndOfTurn   = "end_of_turn"
)

// Options configure an Engine.
type Options struct {
	// Seed seeds the random source.
	Seed uint64
	// InstructionLimit bounds a single formula evaluation; 0 means unlimited.
	InstructionLimit int
	// MaxRoundsPerAdvance caps AdvanceRound's n; 0 means uncapped.
	MaxRoundsPerAdvance int
}

// Engine is the rules engine. All methods are safe for concurrent use; rule
// logic itself always runs one call at a time.
type Engine struct {
	mu sync.Mutex

	opts    Options
	content *ruleset.Content
	state   *state.GameState
	logger  *zap.Logger

	eval      *expr.Evaluator
	stats     *stats.Resolver
	registry  *hooks.Registry
	dispatch  *hooks.Dispatcher
	gates     *gates.Evaluator
	resources *resource.Engine
	damage    *damage.Pipeline
	zones     *zone.Engine
	lifecycle *effect.Lifecycle
}

// New builds an Engine over validated content.
//
// Precondition: content must have passed ruleset.Validate.
// Postcondition: the engine holds an empty state seeded with opts.Seed. Close
// must be called to release the formula evaluator.
func New(content *ruleset.Content, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		opts:    opts,
		content: content,
		state:   state.New(opts.Seed),
		logger:  logger,
		eval:    expr.New(opts.InstructionLimit),
	}
	e.stats = stats.NewResolver(content, e.eval, logger.Named("stats"))
	e.registry = hooks.NewRegistry()
	e.registry.SetSuppressionCheck(func(ownerID string) bool {
		return effect.OwnerSuppressed(e.state, ownerID)
	})
	e.dispatch = hooks.NewDispatcher(e.registry, e.eval, logger.Named("hooks"))
	e.gates = gates.New(e.stats, e.dispatch, e.eval, logger.Named("gates"))
	e.resources = resource.NewEngine(content, e.eval, e.stats, logger.Named("resource"))
	e.damage = damage.NewPipeline(e.stats, e.resources, e.dispatch, logger.Named("damage"))
	e.zones = zone.NewEngine(content, e.stats, e.registry, e.resources, logger.Named("zone"))
	e.lifecycle = effect.New(content, e.eval, e.stats, e.gates, e.dispatch, e.resources, e.damage, e.zones, logger.Named("effect"))
	return e
}

// Close releases the formula evaluator.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eval.Close()
}

// Content returns the definitions the engine was built with.
func (e *Engine) Content() *ruleset.Content {
	return e.content
}

// UseSource replaces the random source for subsequent rolls.
func (e *Engine) UseSource(src dice.Source) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.UseSource(src)
}

// Round returns the current round number.
func (e *Engine) Round() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Round
}

// AddActor adds a copy of a to the game.
//
// Postcondition: later changes to a do not affect the engine.
func (e *Engine) AddActor(a *actor.Actor) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.state.AddActor(a.Clone()); err != nil {
		return err
	}
	e.logger.Debug("actor added", zap.String("actor", a.ID))
	return nil
}

// Actor returns a copy of the actor with id.
func (e *Engine) Actor(id string) (*actor.Actor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.state.Actor(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrActorNotFound, id)
	}
	return a.Clone(), nil
}

// ActorIDs returns the actor ids in the order they were added.
func (e *Engine) ActorIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.ActorIDs()
}

// RemoveActor drops an actor together with everything it owns: its
// instances, pools and zones, and its zone memberships.
func (e *Engine) RemoveActor(id string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.state.Actor(id); !ok {
		return nil, fmt.Errorf("%w: %q", ErrActorNotFound, id)
	}
	var lines []string
	for _, inst := range e.state.InstancesOf(id) {
		l, _ := e.lifecycle.Detach(e.state, inst.ID)
		lines = append(lines, l...)
	}
	for _, z := range e.state.Zones() {
		if z.OwnerID == id {
			l, _ := e.zones.Destroy(e.state, z.ID)
			lines = append(lines, l...)
			continue
		}
		l, err := e.zones.Leave(e.state, z.ID, id)
		if err != nil {
			e.logger.Warn("leaving zone on removal", zap.String("zone", z.ID), zap.Error(err))
		}
		lines = append(lines, l...)
	}
	lines = append(lines, e.resources.ReleaseOwner(e.state, id)...)
	e.state.RemoveActor(id)
	return append(lines, fmt.Sprintf("%s leaves the game", id)), nil
}

// Attach applies an effect (or, failing that, a condition) from sourceID to
// targetID. It returns the id of the stored or refreshed instance, "" when
// nothing persists, and the log lines including any resulting stat changes.
func (e *Engine) Attach(defID, sourceID, targetID string, opts effect.Options) (string, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger.Debug("attach",
		zap.String("definition", defID),
		zap.String("source", sourceID),
		zap.String("target", targetID),
	)
	var id string
	lines := e.tracked(func() []string {
		var l []string
		id, l = e.lifecycle.Attach(e.state, defID, sourceID, targetID, opts)
		return l
	})
	return id, lines
}

// ApplyCondition applies a canonical condition.
func (e *Engine) ApplyCondition(conditionID, sourceID, targetID string, opts effect.Options) (string, []string) {
	opts.Kind = ruleset.KindCondition
	return e.Attach(conditionID, sourceID, targetID, opts)
}

// Detach removes an instance. A second detach of the same id reports false
// and changes nothing.
func (e *Engine) Detach(instanceID string) ([]string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ok bool
	lines := e.tracked(func() []string {
		var l []string
		l, ok = e.lifecycle.Detach(e.state, instanceID)
		return l
	})
	return lines, ok
}

// ApplyDamage sends packets to targetID as a single attack with no source.
func (e *Engine) ApplyDamage(targetID string, packets []damage.Packet) damage.Result {
	return e.ApplyAttack(damage.Attack{TargetID: targetID, Label: "damage", Packets: packets})
}

// ApplyAttack sends a fully described attack through the damage pipeline.
func (e *Engine) ApplyAttack(atk damage.Attack) damage.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger.Debug("apply damage", zap.String("target", atk.TargetID), zap.Int("packets", len(atk.Packets)))
	var res damage.Result
	res.Log = e.tracked(func() []string {
		res = e.damage.Apply(e.state, atk)
		return res.Log
	})
	return res
}

// Heal restores hit points to targetID.
func (e *Engine) Heal(targetID string, amount int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.damage.Heal(e.state, targetID, amount)
}

// AdvanceRound runs n full rounds. Each round raises start_of_turn on every
// actor, fires due scheduled operations, ticks effects, refreshes per-round
// pools, ticks zones and finally raises end_of_turn. n below 1 runs one round.
//
// Postcondition: every change made in a round is applied before the next one
// starts.
func (e *Engine) AdvanceRound(n int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	n = max(n, 1)
	var lines []string
	if limit := e.opts.MaxRoundsPerAdvance; limit > 0 && n > limit {
		lines = append(lines, fmt.Sprintf("advance capped at %d rounds (asked for %d)", limit, n))
		n = limit
	}
	for range n {
		lines = append(lines, e.tracked(e.round)...)
	}
	return lines
}

func (e *Engine) round() []string {
	s := e.state
	s.Round++
	e.logger.Debug("round", zap.Int("round", s.Round))
	lines := []string{fmt.Sprintf("round %d", s.Round)}
	lines = append(lines, e.turnHooks(EventStartOfTurn)...)
	lines = append(lines, hooks.Drain(s, s.Round, e.lifecycle.Executor())...)
	lines = append(lines, e.lifecycle.Tick(s)...)
	lines = append(lines, e.resources.Refresh(s, ruleset.CadencePerRound)...)
	lines = append(lines, e.zones.Tick(s)...)
	lines = append(lines, e.turnHooks(EventEndOfTurn)...)
	return lines
}

func (e *Engine) turnHooks(event string) []string {
	var lines []string
	for _, id := range e.state.ActorIDs() {
		if _, ok := e.state.Actor(id); !ok {
			continue
		}
		dec := e.dispatch.Dispatch(e.state, hooks.Event{
			Scope:   ruleset.ScopeScheduler,
			Event:   event,
			ActorID: id,
			Attrs:   map[string]string{"round": fmt.Sprint(e.state.Round)},
		})
		lines = append(lines, dec.Lines...)
	}
	return lines
}

// tracked runs fn and appends one line per resolved stat that changed.
func (e *Engine) tracked(fn func() []string) []string {
	before := e.flatten()
	lines := fn()
	after := e.flatten()
	for _, id := range e.state.ActorIDs() {
		for _, c := range modifier.Diff(before[id], after[id]) {
			lines = append(lines, fmt.Sprintf("%s %s", id, c))
		}
	}
	return lines
}

func (e *Engine) flatten() map[string]map[string]int {
	out := make(map[string]map[string]int)
	for _, id := range e.state.ActorIDs() {
		r, err := e.stats.Resolve(e.state, id)
		if err != nil {
			continue
		}
		out[id] = r.Flatten()
	}
	return out
}

// ResolvedStats returns actorID's effective statistics.
func (e *Engine) ResolvedStats(actorID string) (stats.Resolved, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.state.Actor(actorID); !ok {
		return stats.Resolved{}, fmt.Errorf("%w: %q", ErrActorNotFound, actorID)
	}
	return e.stats.Resolve(e.state, actorID)
}

// Explain traces how path resolves for actorID and renders it as lines.
func (e *Engine) Explain(path, actorID string) (modifier.Trace, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, err := e.stats.Explain(e.state, actorID, path)
	if err != nil {
		return modifier.Trace{}, []string{fmt.Sprintf("explain %s: %v", path, err)}
	}
	return t, t.Lines()
}

// ListActive returns copies of actorID's active instances in attach order.
func (e *Engine) ListActive(actorID string) []state.Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []state.Instance
	for _, inst := range e.state.InstancesOf(actorID) {
		if inst.Status == state.StatusActive {
			out = append(out, *inst)
		}
	}
	return out
}

// CreateZone instantiates a zone owned by ownerID with extra members. It
// returns the zone id, or "" and an explanatory line when creation fails.
func (e *Engine) CreateZone(zoneID, ownerID string, members ...string) (string, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var id string
	lines := e.tracked(func() []string {
		z, l, err := e.zones.Create(e.state, zoneID, ownerID, "", members...)
		if err != nil {
			return []string{fmt.Sprintf("create zone %s: %v", zoneID, err)}
		}
		id = z.ID
		return l
	})
	return id, lines
}

// EnterZone moves actorID into a zone.
func (e *Engine) EnterZone(zoneID, actorID string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	lines := e.tracked(func() []string {
		var l []string
		l, err = e.zones.Enter(e.state, zoneID, actorID)
		return l
	})
	return lines, err
}

// LeaveZone moves actorID out of a zone.
func (e *Engine) LeaveZone(zoneID, actorID string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	lines := e.tracked(func() []string {
		var l []string
		l, err = e.zones.Leave(e.state, zoneID, actorID)
		return l
	})
	return lines, err
}

// DestroyZone removes a zone. It reports false if the zone does not exist.
func (e *Engine) DestroyZone(zoneID string) ([]string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ok bool
	lines := e.tracked(func() []string {
		var l []string
		l, ok = e.zones.Destroy(e.state, zoneID)
		return l
	})
	return lines, ok
}

// Zones returns copies of the live zones in creation order.
func (e *Engine) Zones() []state.Zone {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []state.Zone
	for _, z := range e.state.Zones() {
		out = append(out, *z)
	}
	return out
}

// CreateResource gives actorID a pool of defID.
func (e *Engine) CreateResource(defID, actorID string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.state.Actor(actorID); !ok {
		return nil, fmt.Errorf("%w: %q", ErrActorNotFound, actorID)
	}
	_, line, err := e.resources.Create(e.state, defID, resource.Owner{ActorID: actorID, SourceID: actorID}, resource.Overrides{})
	if err != nil {
		return nil, err
	}
	return []string{line}, nil
}

// RefreshResources runs the refresh pass for cadence, e.g. "per_rest".
func (e *Engine) RefreshResources(cadence string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resources.Refresh(e.state, cadence)
}

// SpendResource spends amount from actorID's pool of defID. An insufficient
// pool is rejected with resource.ErrInsufficient and left unchanged.
func (e *Engine) SpendResource(actorID, defID string, amount int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resources.Spend(e.state, actorID, defID, amount)
}

// Resources returns copies of actorID's pools.
func (e *Engine) Resources(actorID string) []state.Resource {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resources.Query(e.state, actorID)
}

// Snapshot captures the full game state.
func (e *Engine) Snapshot() (state.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Snapshot()
}

// Digest returns the digest of the current snapshot.
func (e *Engine) Digest() (string, error) {
	snap, err := e.Snapshot()
	if err != nil {
		return "", err
	}
	return snap.Digest()
}

// Restore replaces the game state with snap and rebuilds the hook registry.
//
// Postcondition: continuing from the restored state is identical to
// continuing the session snap was taken from.
func (e *Engine) Restore(snap state.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := state.FromSnapshot(snap)
	if err != nil {
		return fmt.Errorf("restoring snapshot: %w", err)
	}
	e.state = s
	e.lifecycle.RebuildHooks(s)
	e.logger.Debug("state restored", zap.Int("round", s.Round), zap.Int("hooks", e.registry.Len()))
	return nil
}
