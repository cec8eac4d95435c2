// Package zone manages area-scoped persistent effects: their membership, the
// hooks they lend their members and the antimagic suppression they impose.
//
// Coverage is explicit membership; shapes are carried for display only.
package zone

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/cory-johannsen/d20rules/internal/game/hooks"
	"github.com/cory-johannsen/d20rules/internal/game/resource"
	"github.com/cory-johannsen/d20rules/internal/game/ruleset"
	"github.com/cory-johannsen/d20rules/internal/game/state"
	"github.com/cory-johannsen/d20rules/internal/game/stats"
)

var (
	// ErrUnknownDefinition is returned by Create for an unknown zone id.
	ErrUnknownDefinition = errors.New("zone: unknown definition")
	// ErrNotFound is returned when a zone instance does not exist.
	ErrNotFound = errors.New("zone: not found")
	// ErrUnknownActor is returned when an owner or member is not in the state.
	ErrUnknownActor = errors.New("zone: unknown actor")
)

// Engine creates, ticks and destroys zones.
type Engine struct {
	content   *ruleset.Content
	stats     *stats.Resolver
	registry  *hooks.Registry
	resources *resource.Engine
	logger    *zap.Logger
}

// NewEngine creates an Engine.
//
// Precondition: content, resolver, registry and resources must be non-nil.
func NewEngine(content *ruleset.Content, resolver *stats.Resolver, registry *hooks.Registry, resources *resource.Engine, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{content: content, stats: resolver, registry: registry, resources: resources, logger: logger}
}

// Create instantiates defID owned by ownerID. The owner joins automatically;
// extra members join after it. instanceID names the effect instance the zone
// belongs to, if any.
//
// Postcondition: every member has the zone's hooks registered and suppression
// is recomputed.
func (e *Engine) Create(s *state.GameState, defID, ownerID, instanceID string, members ...string) (*state.Zone, []string, error) {
	def, ok := e.content.Zone(defID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownDefinition, defID)
	}
	if _, ok := s.Actor(ownerID); !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownActor, ownerID)
	}
	remaining, err := e.stats.Rounds(s, def.Duration, ownerID, ownerID)
	if err != nil {
		e.logger.Warn("zone duration evaluation failed", zap.String("zone", defID), zap.Error(err))
	}
	if def.Duration.Timed() && remaining <= 0 {
		remaining = 1
	}

	id, seq := s.NextID("zone")
	z := &state.Zone{
		ID:           id,
		DefinitionID: defID,
		OwnerID:      ownerID,
		InstanceID:   instanceID,
		DurationType: def.Duration.Type,
		Remaining:    remaining,
		Seq:          seq,
	}
	s.AddZone(z)
	lines := []string{fmt.Sprintf("zone %s created by %s", defID, ownerID)}
	for _, m := range append([]string{ownerID}, members...) {
		if _, ok := s.Actor(m); !ok {
			lines = append(lines, fmt.Sprintf("zone %s: unknown member %q skipped", defID, m))
			continue
		}
		if z.Covers(m) {
			continue
		}
		e.join(z, def, m)
		lines = append(lines, fmt.Sprintf("%s is inside %s", m, defID))
	}
	lines = append(lines, e.Recompute(s)...)
	return z, lines, nil
}

func (e *Engine) join(z *state.Zone, def *ruleset.ZoneDef, actorID string) {
	z.Members = append(z.Members, actorID)
	owner := hooks.Owner{ID: z.ID, SourceID: z.OwnerID, Label: def.ID}
	for _, h := range def.Hooks {
		e.registry.Register(owner, actorID, h)
	}
}

// Enter adds actorID to zoneID.
func (e *Engine) Enter(s *state.GameState, zoneID, actorID string) ([]string, error) {
	z, def, err := e.lookup(s, zoneID)
	if err != nil {
		return nil, err
	}
	if _, ok := s.Actor(actorID); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownActor, actorID)
	}
	if z.Covers(actorID) {
		return nil, nil
	}
	e.join(z, def, actorID)
	lines := []string{fmt.Sprintf("%s enters %s", actorID, def.ID)}
	return append(lines, e.Recompute(s)...), nil
}

// Leave removes actorID from zoneID.
func (e *Engine) Leave(s *state.GameState, zoneID, actorID string) ([]string, error) {
	z, def, err := e.lookup(s, zoneID)
	if err != nil {
		return nil, err
	}
	if !z.Covers(actorID) {
		return nil, nil
	}
	z.Members = slices.DeleteFunc(z.Members, func(m string) bool { return m == actorID })
	e.registry.RemoveActor(z.ID, actorID)
	lines := []string{fmt.Sprintf("%s leaves %s", actorID, def.ID)}
	return append(lines, e.Recompute(s)...), nil
}

func (e *Engine) lookup(s *state.GameState, zoneID string) (*state.Zone, *ruleset.ZoneDef, error) {
	z, ok := s.Zone(zoneID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrNotFound, zoneID)
	}
	def, ok := e.content.Zone(z.DefinitionID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownDefinition, z.DefinitionID)
	}
	return z, def, nil
}

// Destroy removes zoneID, its hooks and its resources, then recomputes
// suppression. It reports false if the zone does not exist.
func (e *Engine) Destroy(s *state.GameState, zoneID string) ([]string, bool) {
	lines, ok := e.destroy(s, zoneID, "destroyed")
	if !ok {
		return nil, false
	}
	return append(lines, e.Recompute(s)...), true
}

func (e *Engine) destroy(s *state.GameState, zoneID, how string) ([]string, bool) {
	z, ok := s.Zone(zoneID)
	if !ok {
		return nil, false
	}
	e.registry.RemoveByOwner(z.ID)
	lines := []string{fmt.Sprintf("zone %s %s", z.DefinitionID, how)}
	lines = append(lines, e.resources.ReleaseZone(s, z.ID)...)
	s.RemoveZone(z.ID)
	return lines, true
}

// DestroyDefinition destroys ownerID's zones of defID.
func (e *Engine) DestroyDefinition(s *state.GameState, defID, ownerID string) []string {
	var lines []string
	for _, z := range s.Zones() {
		if z.DefinitionID == defID && z.OwnerID == ownerID {
			l, _ := e.destroy(s, z.ID, "destroyed")
			lines = append(lines, l...)
		}
	}
	return append(lines, e.Recompute(s)...)
}

// DestroyOwnedBy destroys the zones belonging to instanceID.
func (e *Engine) DestroyOwnedBy(s *state.GameState, instanceID string) []string {
	var lines []string
	for _, z := range s.Zones() {
		if z.InstanceID != "" && z.InstanceID == instanceID {
			l, _ := e.destroy(s, z.ID, "collapses")
			lines = append(lines, l...)
		}
	}
	if len(lines) == 0 {
		return nil
	}
	return append(lines, e.Recompute(s)...)
}

// Tick counts timed zones down one round, destroying the ones that run out.
//
// Postcondition: suppression is recomputed.
func (e *Engine) Tick(s *state.GameState) []string {
	var lines []string
	for _, z := range s.Zones() {
		if !z.Timed() {
			continue
		}
		z.Remaining--
		if z.Remaining <= 0 {
			l, _ := e.destroy(s, z.ID, "expired")
			lines = append(lines, l...)
		}
	}
	return append(lines, e.Recompute(s)...)
}

// Suppressor returns the zone that would suppress an instance of abilityType
// on actorID, ignoring the zone exempt and any zone owned by the instance
// exemptInstance.
func (e *Engine) Suppressor(s *state.GameState, actorID string, abilityType ruleset.AbilityType, exempt, exemptInstance string) (string, bool) {
	for _, z := range s.Zones() {
		if z.ID == exempt || (exemptInstance != "" && z.InstanceID == exemptInstance) || !z.Covers(actorID) {
			continue
		}
		def, ok := e.content.Zone(z.DefinitionID)
		if !ok || def.Suppression == nil || def.Suppression.Kind != ruleset.SuppressAntimagic {
			continue
		}
		if def.Suppression.Suppresses(abilityType) {
			return z.ID, true
		}
	}
	return "", false
}

// Recompute re-evaluates zone suppression for every instance. Covered
// magical instances become suppressed; instances a zone suppressed earlier
// and that are no longer covered resume without re-gating. An instance is
// never suppressed by its own zone.
func (e *Engine) Recompute(s *state.GameState) []string {
	var lines []string
	for _, inst := range s.AllInstances() {
		zoneID, covered := e.Suppressor(s, inst.TargetID, inst.AbilityType, inst.ZoneID, inst.ID)
		switch {
		case covered && !inst.Suppressed:
			inst.Suppressed = true
			inst.SuppressedBy = zoneID
			lines = append(lines, fmt.Sprintf("%s on %s is suppressed", inst.DefinitionID, inst.TargetID))
		case covered:
			if inst.SuppressedBy != "" {
				inst.SuppressedBy = zoneID
			}
		case inst.SuppressedBy != "":
			inst.Suppressed = false
			inst.SuppressedBy = ""
			lines = append(lines, fmt.Sprintf("%s on %s resumes", inst.DefinitionID, inst.TargetID))
		}
	}
	return lines
}

// RegisterAll registers every zone's hooks for its members. It is used after
// a restore, when the registry starts empty.
func (e *Engine) RegisterAll(s *state.GameState) {
	for _, z := range s.Zones() {
		def, ok := e.content.Zone(z.DefinitionID)
		if !ok {
			e.logger.Warn("restored zone has no definition", zap.String("zone", z.ID), zap.String("definition", z.DefinitionID))
			continue
		}
		owner := hooks.Owner{ID: z.ID, SourceID: z.OwnerID, Label: def.ID}
		for _, m := range z.Members {
			for _, h := range def.Hooks {
				e.registry.Register(owner, m, h)
			}
		}
	}
}
