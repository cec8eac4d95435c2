// Package resource manages consumable and regenerating pools: spell slots,
// per-day uses, temporary hit points and other absorption pools.
//
// Every pool satisfies 0 <= Current <= Max at every observation point.
package resource

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/cory-johannsen/d20rules/internal/game/expr"
	"github.com/cory-johannsen/d20rules/internal/game/ruleset"
	"github.com/cory-johannsen/d20rules/internal/game/state"
	"github.com/cory-johannsen/d20rules/internal/game/stats"
)

var (
	// ErrInsufficient is returned by Spend when the pool cannot cover the amount.
	ErrInsufficient = errors.New("resource: insufficient")
	// ErrNotFound is returned when an actor has no pool of the definition.
	ErrNotFound = errors.New("resource: pool not found")
	// ErrUnknownDefinition is returned by Create for an unknown resource id.
	ErrUnknownDefinition = errors.New("resource: unknown definition")
)

// Owner identifies who a new pool belongs to.
type Owner struct {
	ActorID string
	// SourceID is the actor formulas evaluate against; defaults to ActorID.
	SourceID   string
	Scope      string
	InstanceID string
	ZoneID     string
}

// Overrides replace a definition's capacity or initial formula.
type Overrides struct {
	Capacity string
	Initial  string
}

// Engine evaluates capacities and mutates pools held in a game state.
type Engine struct {
	content *ruleset.Content
	eval    *expr.Evaluator
	stats   *stats.Resolver
	logger  *zap.Logger
}

// NewEngine creates an Engine.
//
// Precondition: content, eval and resolver must be non-nil; a nil logger discards warnings.
func NewEngine(content *ruleset.Content, eval *expr.Evaluator, resolver *stats.Resolver, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{content: content, eval: eval, stats: resolver, logger: logger}
}

// Create instantiates defID for owner. Re-creating the same definition for
// the same owner actor and instance keeps a single pool whose max and
// current are the larger of the old and new values.
//
// Postcondition: the returned pool satisfies 0 <= Current <= Max.
func (e *Engine) Create(s *state.GameState, defID string, owner Owner, ov Overrides) (*state.Resource, string, error) {
	def, ok := e.content.Resource(defID)
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownDefinition, defID)
	}
	if owner.SourceID == "" {
		owner.SourceID = owner.ActorID
	}
	if owner.Scope == "" {
		owner.Scope = def.Scope
	}
	if owner.Scope == "" {
		owner.Scope = ruleset.ScopeEntity
	}

	capFormula := def.Capacity
	if ov.Capacity != "" {
		capFormula = ov.Capacity
	}
	maxV := e.capacity(s, def, capFormula, owner.SourceID, owner.ActorID)

	initial := def.Initial
	if ov.Initial != "" {
		initial = ov.Initial
	}
	cur := maxV
	if initial != "" && initial != "max" {
		cur = clamp(e.evalInt(s, initial, owner.SourceID, owner.ActorID), 0, maxV)
	}

	for _, r := range s.ResourcesOf(owner.ActorID) {
		if r.DefinitionID == defID && r.InstanceID == owner.InstanceID && r.ZoneID == owner.ZoneID {
			r.Max = max(r.Max, maxV)
			r.Current = clamp(max(r.Current, cur), 0, r.Max)
			return r, fmt.Sprintf("%s on %s refreshed to %d/%d", defID, owner.ActorID, r.Current, r.Max), nil
		}
	}

	id, seq := s.NextID("resource")
	r := &state.Resource{
		ID:           id,
		DefinitionID: defID,
		Scope:        owner.Scope,
		OwnerID:      owner.ActorID,
		SourceID:     owner.SourceID,
		InstanceID:   owner.InstanceID,
		ZoneID:       owner.ZoneID,
		Current:      cur,
		Max:          maxV,
		Frozen:       def.FreezeOnAttach,
		Capacity:     ov.Capacity,
		Seq:          seq,
	}
	s.AddResource(r)
	return r, fmt.Sprintf("%s created on %s: %d/%d", defID, owner.ActorID, r.Current, r.Max), nil
}

func (e *Engine) capacity(s *state.GameState, def *ruleset.ResourceDef, formula, sourceID, ownerID string) int {
	v := max(0, e.evalInt(s, formula, sourceID, ownerID))
	if def.Cap != nil {
		v = min(v, *def.Cap)
	}
	return v
}

// evalInt evaluates formula with sourceID as actor and ownerID as target.
// Failures log a warning and yield 0.
func (e *Engine) evalInt(s *state.GameState, formula, sourceID, ownerID string) int {
	var ctx expr.Context
	if src, err := e.stats.Subject(s, sourceID); err == nil {
		ctx.Actor = src
	}
	if own, err := e.stats.Subject(s, ownerID); err == nil {
		ctx.Target = own
	}
	v, err := e.eval.EvaluateInt(formula, ctx)
	if err != nil {
		e.logger.Warn("resource formula evaluation failed", zap.String("formula", formula), zap.Error(err))
		return 0
	}
	return v
}

func (e *Engine) find(s *state.GameState, actorID, defID string) (*state.Resource, error) {
	r, ok := s.FindResource(actorID, defID)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrNotFound, defID, actorID)
	}
	e.queryRecompute(s, r)
	return r, nil
}

// Spend removes amount from actorID's pool of defID.
//
// Postcondition: on ErrInsufficient the pool is unchanged.
func (e *Engine) Spend(s *state.GameState, actorID, defID string, amount int) error {
	if amount < 0 {
		return fmt.Errorf("resource: negative spend %d", amount)
	}
	r, err := e.find(s, actorID, defID)
	if err != nil {
		return err
	}
	if amount > r.Current {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficient, defID, r.Current, amount)
	}
	r.Current -= amount
	return nil
}

// Restore adds amount to the pool, or fills it when toMax is set, and
// returns the new current value.
func (e *Engine) Restore(s *state.GameState, actorID, defID string, amount int, toMax bool) (int, error) {
	r, err := e.find(s, actorID, defID)
	if err != nil {
		return 0, err
	}
	if toMax {
		r.Current = r.Max
	} else {
		r.Current = clamp(r.Current+max(amount, 0), 0, r.Max)
	}
	return r.Current, nil
}

// Set stores v clamped into [0, Max].
func (e *Engine) Set(s *state.GameState, actorID, defID string, v int) (int, error) {
	r, err := e.find(s, actorID, defID)
	if err != nil {
		return 0, err
	}
	r.Current = clamp(v, 0, r.Max)
	return r.Current, nil
}

// Recompute re-evaluates r's capacity unless it is frozen, clamping current.
func (e *Engine) Recompute(s *state.GameState, r *state.Resource) {
	if r.Frozen {
		return
	}
	def, ok := e.content.Resource(r.DefinitionID)
	if !ok {
		return
	}
	formula := def.Capacity
	if r.Capacity != "" {
		formula = r.Capacity
	}
	r.Max = e.capacity(s, def, formula, r.SourceID, r.OwnerID)
	r.Current = clamp(r.Current, 0, r.Max)
}

func (e *Engine) queryRecompute(s *state.GameState, r *state.Resource) {
	if def, ok := e.content.Resource(r.DefinitionID); ok && def.ComputeAt == ruleset.ComputeAtQuery {
		e.Recompute(s, r)
	}
}

// Query returns copies of actorID's pools, recomputing those declared
// compute_at: query first.
func (e *Engine) Query(s *state.GameState, actorID string) []state.Resource {
	var out []state.Resource
	for _, r := range s.ResourcesOf(actorID) {
		e.queryRecompute(s, r)
		out = append(out, *r)
	}
	return out
}

// Refresh applies every pool's refresh behaviour for cadence.
func (e *Engine) Refresh(s *state.GameState, cadence string) []string {
	var lines []string
	for _, r := range s.Resources() {
		def, ok := e.content.Resource(r.DefinitionID)
		if !ok || def.Refresh.Cadence != cadence {
			continue
		}
		if def.ComputeAt == ruleset.ComputeAtRefresh {
			e.Recompute(s, r)
		}
		before := r.Current
		switch def.Refresh.Behavior {
		case ruleset.RefreshResetToMax, "":
			r.Current = r.Max
		case ruleset.RefreshIncrement:
			r.Current = clamp(r.Current+e.evalInt(s, def.Refresh.Increment, r.SourceID, r.OwnerID), 0, r.Max)
		case ruleset.RefreshNone:
		}
		if r.Current != before {
			lines = append(lines, fmt.Sprintf("%s on %s refreshed (%s): %d -> %d", r.DefinitionID, r.OwnerID, cadence, before, r.Current))
		}
	}
	return lines
}

// ReleaseInstance drops the pools owned by instanceID.
func (e *Engine) ReleaseInstance(s *state.GameState, instanceID string) []string {
	return e.release(s, func(r *state.Resource) bool { return r.InstanceID == instanceID })
}

// ReleaseZone drops the pools owned by zoneID.
func (e *Engine) ReleaseZone(s *state.GameState, zoneID string) []string {
	return e.release(s, func(r *state.Resource) bool { return r.ZoneID == zoneID })
}

// ReleaseOwner drops every pool held by actorID.
func (e *Engine) ReleaseOwner(s *state.GameState, actorID string) []string {
	return e.release(s, func(r *state.Resource) bool { return r.OwnerID == actorID })
}

func (e *Engine) release(s *state.GameState, match func(*state.Resource) bool) []string {
	var lines []string
	for _, r := range s.Resources() {
		if match(r) {
			s.RemoveResource(r.ID)
			lines = append(lines, fmt.Sprintf("%s on %s released", r.DefinitionID, r.OwnerID))
		}
	}
	return lines
}

// Absorption is the running state of one attack's absorption: how much each
// pool has already soaked, for per-hit caps.
type Absorption struct {
	used map[string]int
}

// NewAbsorption starts tracking absorption for one attack.
func NewAbsorption() *Absorption {
	return &Absorption{used: make(map[string]int)}
}

// Absorb soaks amount of kind with targetID's absorption pools, most
// specific first (exact kind, then category, then any) and in creation order
// among equals. Pools whose owning instance is suppressed are skipped. It
// returns the unabsorbed remainder.
func (e *Engine) Absorb(s *state.GameState, a *Absorption, targetID, kind string, amount int, suppressed func(instanceID string) bool) (int, []string) {
	type candidate struct {
		r    *state.Resource
		def  *ruleset.ResourceDef
		rank int
	}
	var cands []candidate
	for _, r := range s.ResourcesOf(targetID) {
		def, ok := e.content.Resource(r.DefinitionID)
		if !ok || def.Absorption == nil || r.Current == 0 {
			continue
		}
		if r.InstanceID != "" && suppressed != nil && suppressed(r.InstanceID) {
			continue
		}
		if rank, ok := specificity(def.Absorption.Kinds, kind); ok {
			cands = append(cands, candidate{r: r, def: def, rank: rank})
		}
	}
	slices.SortStableFunc(cands, func(x, y candidate) int { return x.rank - y.rank })

	var lines []string
	for _, c := range cands {
		if amount == 0 {
			break
		}
		room := c.r.Current
		if c.def.Absorption.PerHit > 0 {
			room = min(room, c.def.Absorption.PerHit-a.used[c.r.ID])
		}
		soak := min(max(room, 0), amount)
		if soak == 0 {
			continue
		}
		c.r.Current -= soak
		a.used[c.r.ID] += soak
		amount -= soak
		lines = append(lines, fmt.Sprintf("%s absorbs %d %s (%d left)", c.r.DefinitionID, soak, kind, c.r.Current))
	}
	return amount, lines
}

// specificity ranks how closely an absorption kind list matches kind:
// 0 exact, 1 category, 2 any.
func specificity(kinds []string, kind string) (int, bool) {
	switch {
	case slices.Contains(kinds, kind):
		return 0, true
	case ruleset.Category(kind) != "" && slices.Contains(kinds, ruleset.Category(kind)):
		return 1, true
	case slices.Contains(kinds, ruleset.CategoryAny):
		return 2, true
	}
	return 0, false
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
