// Package effect implements the effect and condition lifecycle: attaching a
// definition to a target through hooks, antimagic and gates, running its
// operations, storing persistent instances and expiring them.
package effect

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/cory-johannsen/d20rules/internal/game/actor"
	"github.com/cory-johannsen/d20rules/internal/game/damage"
	"github.com/cory-johannsen/d20rules/internal/game/expr"
	"github.com/cory-johannsen/d20rules/internal/game/gates"
	"github.com/cory-johannsen/d20rules/internal/game/hooks"
	"github.com/cory-johannsen/d20rules/internal/game/resource"
	"github.com/cory-johannsen/d20rules/internal/game/ruleset"
	"github.com/cory-johannsen/d20rules/internal/game/state"
	"github.com/cory-johannsen/d20rules/internal/game/stats"
	"github.com/cory-johannsen/d20rules/internal/game/zone"
)

// Options adjust a single attach.
type Options struct {
	// Kind restricts the definition lookup; empty accepts either kind,
	// preferring effects.
	Kind ruleset.Kind
	// Stack creates an independent instance instead of refreshing.
	Stack bool
	// Duration overrides the definition's duration.
	Duration *ruleset.Duration
	// ZoneID marks the instance as granted by a zone, which then never
	// suppresses it.
	ZoneID string
}

// Lifecycle attaches, ticks and detaches instances.
type Lifecycle struct {
	content   *ruleset.Content
	eval      *expr.Evaluator
	stats     *stats.Resolver
	gates     *gates.Evaluator
	dispatch  *hooks.Dispatcher
	resources *resource.Engine
	damage    *damage.Pipeline
	zones     *zone.Engine
	exec      *Executor
	logger    *zap.Logger
}

// New creates a Lifecycle and installs its Executor on dispatch.
//
// Precondition: every collaborator must be non-nil; a nil logger discards logs.
// Postcondition: operation actions dispatched through dispatch run on the
// returned lifecycle.
func New(
	content *ruleset.Content,
	eval *expr.Evaluator,
	resolver *stats.Resolver,
	g *gates.Evaluator,
	dispatch *hooks.Dispatcher,
	resources *resource.Engine,
	pipeline *damage.Pipeline,
	zones *zone.Engine,
	logger *zap.Logger,
) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Lifecycle{
		content:   content,
		eval:      eval,
		stats:     resolver,
		gates:     g,
		dispatch:  dispatch,
		resources: resources,
		damage:    pipeline,
		zones:     zones,
		logger:    logger,
	}
	l.exec = &Executor{l: l}
	dispatch.SetExecutor(l.exec)
	return l
}

// Executor returns the shared operation executor.
func (l *Lifecycle) Executor() *Executor {
	return l.exec
}

// Attach applies defID from sourceID to targetID and returns the id of the
// stored or refreshed instance ("" when nothing persists) with the log lines.
//
// Postcondition: an unknown definition, a blocked attach or a failed gate
// leaves s unchanged apart from consumed dice.
func (l *Lifecycle) Attach(s *state.GameState, defID, sourceID, targetID string, opts Options) (string, []string) {
	return l.attach(s, defID, sourceID, targetID, opts, 0)
}

func (l *Lifecycle) lookup(defID string, kind ruleset.Kind) (*ruleset.EffectDef, bool) {
	switch kind {
	case ruleset.KindEffect:
		return l.content.Effect(defID)
	case ruleset.KindCondition:
		return l.content.Condition(defID)
	default:
		return l.content.Attachable(defID)
	}
}

func (l *Lifecycle) attach(s *state.GameState, defID, sourceID, targetID string, opts Options, depth int) (string, []string) {
	def, ok := l.lookup(defID, opts.Kind)
	if !ok {
		l.logger.Warn("attach of unknown definition", zap.String("definition", defID), zap.String("kind", string(opts.Kind)))
		return "", []string{fmt.Sprintf("unknown definition %q", defID)}
	}
	target, ok := s.Actor(targetID)
	if !ok {
		return "", []string{fmt.Sprintf("%s: unknown target %q", def.ID, targetID)}
	}
	if sourceID != "" {
		if _, ok := s.Actor(sourceID); !ok {
			return "", []string{fmt.Sprintf("%s: unknown source %q", def.ID, sourceID)}
		}
	}
	if immuneTo(target, def) {
		return "", []string{fmt.Sprintf("%s is immune to %s", targetID, def.ID)}
	}

	scope := ruleset.ScopeIncomingEffect
	if def.Kind == ruleset.KindCondition {
		scope = ruleset.ScopeIncomingCondition
	}
	dec := l.dispatch.Dispatch(s, hooks.Event{Scope: scope, Event: def.ID, ActorID: targetID, Attrs: incomingAttrs(def, sourceID)})
	lines := dec.Lines
	if dec.Blocked() {
		return "", append(lines, fmt.Sprintf("%s on %s is blocked", def.ID, targetID))
	}

	duration := def.Duration
	if opts.Duration != nil {
		duration = *opts.Duration
	}
	remaining, err := l.stats.Rounds(s, duration, sourceID, targetID)
	if err != nil {
		l.logger.Warn("duration evaluation failed", zap.String("definition", def.ID), zap.Error(err))
	}
	if duration.Timed() && remaining <= 0 {
		remaining = 1
	}
	existing := l.existing(s, def, sourceID, targetID, opts)

	zoneID, antimagic := l.zones.Suppressor(s, targetID, def.AbilityType, opts.ZoneID, "")
	if antimagic && !duration.Persistent() {
		return "", append(lines, fmt.Sprintf("%s is suppressed on %s: no effect", def.ID, targetID))
	}
	if antimagic || dec.Outcome == ruleset.OutcomeSuppress {
		if existing != nil {
			return existing.ID, append(lines, l.refresh(existing, remaining))
		}
		inst := l.store(s, def, sourceID, targetID, duration.Type, remaining, opts)
		inst.Status = state.StatusActive
		inst.Suppressed = true
		inst.SuppressedBy = zoneID
		l.register(inst, def)
		return inst.ID, append(lines, fmt.Sprintf("%s attached to %s suppressed (%s)", def.ID, targetID, describe(duration.Type, remaining)))
	}

	out := l.gates.Evaluate(s, def, sourceID, targetID)
	lines = append(lines, out.Trace...)
	if !out.Allowed {
		return "", append(lines, fmt.Sprintf("%s has no effect on %s", def.ID, targetID))
	}

	var inst *state.Instance
	c := opContext{
		SourceID:    sourceID,
		TargetID:    targetID,
		Label:       def.ID,
		Descriptors: def.Descriptors,
		Scale:       out.Scale,
		Crit:        out.CritMultiplier,
		depth:       depth,
	}
	switch {
	case existing != nil:
		c.InstanceID = existing.ID
	case duration.Persistent():
		inst = l.store(s, def, sourceID, targetID, duration.Type, remaining, opts)
		c.InstanceID = inst.ID
	}
	if out.SaveRolled {
		saved := out.SaveSucceeded
		c.Saved = &saved
	}
	lines = append(lines, l.exec.run(s, c, def.Operations)...)

	switch {
	case existing != nil:
		return existing.ID, append(lines, l.refresh(existing, remaining))
	case inst != nil:
		if _, ok := s.Instance(inst.ID); !ok {
			return "", lines
		}
		inst.Status = state.StatusActive
		l.register(inst, def)
		if z, covered := l.zones.Suppressor(s, targetID, def.AbilityType, opts.ZoneID, inst.ID); covered {
			inst.Suppressed = true
			inst.SuppressedBy = z
		}
		return inst.ID, append(lines, fmt.Sprintf("%s attached to %s (%s)", def.ID, targetID, describe(duration.Type, remaining)))
	}
	return "", append(lines, fmt.Sprintf("%s resolves on %s", def.ID, targetID))
}

// existing returns the instance a new attach of def refreshes, or nil when
// the attach stacks. Conditions refresh regardless of source.
func (l *Lifecycle) existing(s *state.GameState, def *ruleset.EffectDef, sourceID, targetID string, opts Options) *state.Instance {
	if opts.Stack || def.Stacking == ruleset.StackIndependent {
		return nil
	}
	for _, inst := range s.InstancesOf(targetID) {
		if inst.DefinitionID != def.ID || inst.Status == state.StatusExpired {
			continue
		}
		if def.Kind == ruleset.KindCondition || inst.SourceID == sourceID {
			return inst
		}
	}
	return nil
}

func (l *Lifecycle) refresh(inst *state.Instance, remaining int) string {
	if inst.Timed() {
		inst.Remaining = max(inst.Remaining, remaining)
	}
	return fmt.Sprintf("%s on %s refreshed (%s)", inst.DefinitionID, inst.TargetID, describe(inst.DurationType, inst.Remaining))
}

func (l *Lifecycle) store(s *state.GameState, def *ruleset.EffectDef, sourceID, targetID string, dt ruleset.DurationType, remaining int, opts Options) *state.Instance {
	id, seq := s.NextID("instance")
	inst := &state.Instance{
		ID:           id,
		Kind:         def.Kind,
		DefinitionID: def.ID,
		SourceID:     sourceID,
		TargetID:     targetID,
		AbilityType:  def.AbilityType,
		DurationType: dt,
		Remaining:    remaining,
		Status:       state.StatusPending,
		Stacked:      opts.Stack || def.Stacking == ruleset.StackIndependent,
		ZoneID:       opts.ZoneID,
		Seq:          seq,
	}
	s.AddInstance(inst)
	return inst
}

func (l *Lifecycle) register(inst *state.Instance, def *ruleset.EffectDef) {
	owner := hooks.Owner{ID: inst.ID, SourceID: inst.SourceID, Label: def.ID}
	for _, h := range def.Hooks {
		l.dispatch.Registry().Register(owner, inst.TargetID, h)
	}
}

// Tick counts every active rounds-based instance down one round, suppressed
// ones included, and expires those that reach zero.
//
// Postcondition: no instance with Remaining <= 0 and a timed duration is left in s.
func (l *Lifecycle) Tick(s *state.GameState) []string {
	var due []*state.Instance
	for _, inst := range s.AllInstances() {
		if inst.Status != state.StatusActive || !inst.Timed() {
			continue
		}
		inst.Remaining--
		if inst.Remaining <= 0 {
			due = append(due, inst)
		}
	}
	var lines []string
	for _, inst := range due {
		lines = append(lines, l.expire(s, inst, "expired")...)
	}
	return lines
}

// Detach removes instanceID. It reports false when the instance does not
// exist, so a second detach of the same id is a no-op.
func (l *Lifecycle) Detach(s *state.GameState, instanceID string) ([]string, bool) {
	inst, ok := s.Instance(instanceID)
	if !ok {
		return nil, false
	}
	return l.expire(s, inst, "removed"), true
}

// DetachDefinition removes every instance of defID on targetID.
func (l *Lifecycle) DetachDefinition(s *state.GameState, defID, targetID string) []string {
	var lines []string
	for _, inst := range s.InstancesOf(targetID) {
		if inst.DefinitionID == defID {
			lines = append(lines, l.expire(s, inst, "removed")...)
		}
	}
	if len(lines) == 0 {
		return []string{fmt.Sprintf("%s is not on %s", defID, targetID)}
	}
	return lines
}

// expire releases inst's hooks, resources and zones, then drops it.
func (l *Lifecycle) expire(s *state.GameState, inst *state.Instance, how string) []string {
	if _, ok := s.Instance(inst.ID); !ok {
		return nil
	}
	inst.Status = state.StatusExpired
	l.dispatch.Registry().RemoveByOwner(inst.ID)
	lines := l.resources.ReleaseInstance(s, inst.ID)
	lines = append(lines, l.zones.DestroyOwnedBy(s, inst.ID)...)
	s.RemoveInstance(inst.ID)
	return append(lines, fmt.Sprintf("%s on %s %s", inst.DefinitionID, inst.TargetID, how))
}

// RebuildHooks clears the registry and registers the hooks of every stored
// instance and zone. Hooks are derived state and are not persisted.
func (l *Lifecycle) RebuildHooks(s *state.GameState) {
	l.dispatch.Registry().Reset()
	for _, inst := range s.AllInstances() {
		def, ok := l.content.Attachable(inst.DefinitionID)
		if !ok {
			l.logger.Warn("restored instance has no definition", zap.String("instance", inst.ID), zap.String("definition", inst.DefinitionID))
			continue
		}
		l.register(inst, def)
	}
	l.zones.RegisterAll(s)
}

// OwnerSuppressed reports whether hooks registered by ownerID are currently
// inert: the owner is a suppressed instance, or a zone belonging to one.
func OwnerSuppressed(s *state.GameState, ownerID string) bool {
	if inst, ok := s.Instance(ownerID); ok {
		return inst.Suppressed
	}
	if z, ok := s.Zone(ownerID); ok && z.InstanceID != "" {
		inst, ok := s.Instance(z.InstanceID)
		return ok && inst.Suppressed
	}
	return false
}

func immuneTo(a *actor.Actor, def *ruleset.EffectDef) bool {
	if slices.Contains(a.Immunities, def.ID) {
		return true
	}
	for _, d := range def.Descriptors {
		if slices.Contains(a.Immunities, d) {
			return true
		}
	}
	return false
}

func incomingAttrs(def *ruleset.EffectDef, sourceID string) map[string]string {
	attrs := map[string]string{
		"effect":       def.ID,
		"source":       sourceID,
		"kind":         string(def.Kind),
		"ability_type": string(def.AbilityType),
	}
	for _, d := range def.Descriptors {
		attrs["descriptor."+d] = "true"
	}
	return attrs
}

func describe(dt ruleset.DurationType, remaining int) string {
	if (ruleset.Duration{Type: dt}).Timed() {
		return fmt.Sprintf("%d rounds", remaining)
	}
	return string(dt)
}
