package ruleset

import (
	"fmt"
	"maps"
	"slices"
)

// Content holds every loaded definition keyed by id. It is built once at
// startup and read-only afterwards.
type Content struct {
	effects    map[string]*EffectDef
	conditions map[string]*EffectDef
	resources  map[string]*ResourceDef
	zones      map[string]*ZoneDef
}

// NewContent creates an empty Content.
func NewContent() *Content {
	return &Content{
		effects:    make(map[string]*EffectDef),
		conditions: make(map[string]*EffectDef),
		resources:  make(map[string]*ResourceDef),
		zones:      make(map[string]*ZoneDef),
	}
}

// AddEffect registers an effect definition.
//
// Precondition: def must be non-nil.
// Postcondition: def.Kind is KindEffect; returns an error if the id is empty or taken.
func (c *Content) AddEffect(def *EffectDef) error {
	def.Kind = KindEffect
	return add(c.effects, def.ID, def, "effect")
}

// AddCondition registers a condition definition.
func (c *Content) AddCondition(def *EffectDef) error {
	def.Kind = KindCondition
	return add(c.conditions, def.ID, def, "condition")
}

// AddResource registers a resource definition.
func (c *Content) AddResource(def *ResourceDef) error {
	return add(c.resources, def.ID, def, "resource")
}

// AddZone registers a zone definition.
func (c *Content) AddZone(def *ZoneDef) error {
	return add(c.zones, def.ID, def, "zone")
}

func add[T any](m map[string]*T, id string, def *T, what string) error {
	if id == "" {
		return fmt.Errorf("%s definition has an empty id", what)
	}
	if _, dup := m[id]; dup {
		return fmt.Errorf("duplicate %s id %q", what, id)
	}
	m[id] = def
	return nil
}

// Effect returns the effect definition for id.
func (c *Content) Effect(id string) (*EffectDef, bool) {
	d, ok := c.effects[id]
	return d, ok
}

// Condition returns the condition definition for id.
func (c *Content) Condition(id string) (*EffectDef, bool) {
	d, ok := c.conditions[id]
	return d, ok
}

// Attachable returns the effect or condition definition for id, preferring effects.
func (c *Content) Attachable(id string) (*EffectDef, bool) {
	if d, ok := c.effects[id]; ok {
		return d, true
	}
	return c.Condition(id)
}

// Resource returns the resource definition for id.
func (c *Content) Resource(id string) (*ResourceDef, bool) {
	d, ok := c.resources[id]
	return d, ok
}

// Zone returns the zone definition for id.
func (c *Content) Zone(id string) (*ZoneDef, bool) {
	d, ok := c.zones[id]
	return d, ok
}

// EffectIDs returns all effect ids in sorted order.
func (c *Content) EffectIDs() []string { return slices.Sorted(maps.Keys(c.effects)) }

// ConditionIDs returns all condition ids in sorted order.
func (c *Content) ConditionIDs() []string { return slices.Sorted(maps.Keys(c.conditions)) }

// ResourceIDs returns all resource ids in sorted order.
func (c *Content) ResourceIDs() []string { return slices.Sorted(maps.Keys(c.resources)) }

// ZoneIDs returns all zone ids in sorted order.
func (c *Content) ZoneIDs() []string { return slices.Sorted(maps.Keys(c.zones)) }
