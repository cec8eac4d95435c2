// Package state owns the single mutable game state every rules component is
// handed by reference: actors, effect/condition instances, resource pools,
// zones, the deferred action queue, the round counter and the random source.
//
// Everything is stored in arena maps keyed by stable ids; ordering slices
// keep iteration deterministic so replays are bit-identical.
package state

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/google/uuid"

	"github.com/cory-johannsen/d20rules/internal/game/actor"
	"github.com/cory-johannsen/d20rules/internal/game/dice"
	"github.com/cory-johannsen/d20rules/internal/game/ruleset"
)

// ErrDuplicateActor is returned by AddActor when the id is already present.
var ErrDuplicateActor = errors.New("state: duplicate actor id")

// idNamespace seeds the deterministic ids handed out by NextID.
var idNamespace = uuid.MustParse("8b7e1f64-3c2a-5d0e-9f41-6a2d8c0b7e15")

// Status is the lifecycle state of an instance.
type Status string

// Instance statuses.
const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// Instance is a runtime attachment of an effect or condition definition.
type Instance struct {
	ID           string               `yaml:"id"`
	Kind         ruleset.Kind         `yaml:"kind"`
	DefinitionID string               `yaml:"definition"`
	SourceID     string               `yaml:"source"`
	TargetID     string               `yaml:"target"`
	AbilityType  ruleset.AbilityType  `yaml:"ability_type,omitempty"`
	DurationType ruleset.DurationType `yaml:"duration_type"`
	Remaining    int                  `yaml:"remaining"`
	Status       Status               `yaml:"status"`
	Suppressed   bool                 `yaml:"suppressed,omitempty"`
	// SuppressedBy is the zone holding the instance suppressed; empty when the
	// suppression came from a hook and only detaching lifts it.
	SuppressedBy string `yaml:"suppressed_by,omitempty"`
	Stacked      bool   `yaml:"stacked,omitempty"`
	// ZoneID is set when the instance was attached by a zone it must not be
	// suppressed by.
	ZoneID string            `yaml:"zone,omitempty"`
	Vars   map[string]string `yaml:"vars,omitempty"`
	Seq    uint64            `yaml:"seq"`
}

// Timed reports whether the instance counts down in rounds.
func (i *Instance) Timed() bool {
	return ruleset.Duration{Type: i.DurationType}.Timed()
}

// Resource is a live resource pool.
type Resource struct {
	ID           string `yaml:"id"`
	DefinitionID string `yaml:"definition"`
	Scope        string `yaml:"scope"`
	OwnerID      string `yaml:"owner"`

	// SourceID is the actor capacity formulas are evaluated against.
	SourceID   string `yaml:"source,omitempty"`
	InstanceID string `yaml:"instance,omitempty"`
	ZoneID     string `yaml:"zone,omitempty"`
	Current    int    `yaml:"current"`
	Max        int    `yaml:"max"`
	Frozen     bool   `yaml:"frozen,omitempty"`
	// Capacity overrides the definition's capacity formula when set.
	Capacity string `yaml:"capacity,omitempty"`
	Seq      uint64 `yaml:"seq"`
}

// Zone is a live zone instance.
type Zone struct {
	ID           string               `yaml:"id"`
	DefinitionID string               `yaml:"definition"`
	OwnerID      string               `yaml:"owner"`
	InstanceID   string               `yaml:"instance,omitempty"`
	DurationType ruleset.DurationType `yaml:"duration_type"`
	Remaining    int                  `yaml:"remaining"`
	Members      []string             `yaml:"members"`
	Seq          uint64               `yaml:"seq"`
}

// Timed reports whether the zone counts down in rounds.
func (z *Zone) Timed() bool {
	return ruleset.Duration{Type: z.DurationType}.Timed()
}

// Covers reports whether actorID is inside the zone.
func (z *Zone) Covers(actorID string) bool {
	return slices.Contains(z.Members, actorID)
}

// Scheduled is a deferred set of operations.
type Scheduled struct {
	Due      int         `yaml:"due"`
	SourceID string      `yaml:"source"`
	TargetID string      `yaml:"target"`
	Label    string      `yaml:"label,omitempty"`
	Ops      ruleset.Ops `yaml:"ops"`
	Seq      uint64      `yaml:"seq"`
}

// GameState is the single owner of all mutable rules state.
type GameState struct {
	Round int

	actors     map[string]*actor.Actor
	actorOrder []string

	instances map[string]*Instance
	byTarget  map[string][]string

	resources     map[string]*Resource
	resourceOrder []string

	zones     map[string]*Zone
	zoneOrder []string

	queue []Scheduled

	seq uint64
	rng *dice.SeededSource
	src dice.Source
}

// New returns an empty state whose random source is seeded with seed.
func New(seed uint64) *GameState {
	return &GameState{
		actors:    make(map[string]*actor.Actor),
		instances: make(map[string]*Instance),
		byTarget:  make(map[string][]string),
		resources: make(map[string]*Resource),
		zones:     make(map[string]*Zone),
		rng:       dice.NewSeededSource(seed),
	}
}

// Source returns the random source threaded through the engine.
func (s *GameState) Source() dice.Source {
	if s.src != nil {
		return s.src
	}
	return s.rng
}

// UseSource replaces the random source, typically with a dice.ScriptedSource
// in tests. Snapshots keep capturing the seeded source.
func (s *GameState) UseSource(src dice.Source) {
	s.src = src
}

// NextID returns a fresh deterministic id for kind and advances the sequence.
//
// Postcondition: the same sequence of calls from the same state yields the same ids.
func (s *GameState) NextID(kind string) (string, uint64) {
	s.seq++
	id := uuid.NewSHA1(idNamespace, []byte(kind+":"+strconv.FormatUint(s.seq, 10)))
	return id.String(), s.seq
}

// AddActor stores a. The state takes ownership of the pointer.
func (s *GameState) AddActor(a *actor.Actor) error {
	if a.ID == "" {
		return fmt.Errorf("state: actor id must not be empty")
	}
	if _, dup := s.actors[a.ID]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateActor, a.ID)
	}
	s.actors[a.ID] = a
	s.actorOrder = append(s.actorOrder, a.ID)
	return nil
}

// Actor returns the actor with id.
func (s *GameState) Actor(id string) (*actor.Actor, bool) {
	a, ok := s.actors[id]
	return a, ok
}

// ActorIDs returns actor ids in insertion order.
func (s *GameState) ActorIDs() []string {
	return slices.Clone(s.actorOrder)
}

// RemoveActor drops the actor record. Callers release its instances,
// resources and zones first.
func (s *GameState) RemoveActor(id string) bool {
	if _, ok := s.actors[id]; !ok {
		return false
	}
	delete(s.actors, id)
	s.actorOrder = slices.DeleteFunc(s.actorOrder, func(x string) bool { return x == id })
	delete(s.byTarget, id)
	return true
}

// AddInstance stores inst at the end of its target's instance list.
func (s *GameState) AddInstance(inst *Instance) {
	s.instances[inst.ID] = inst
	s.byTarget[inst.TargetID] = append(s.byTarget[inst.TargetID], inst.ID)
}

// Instance returns the instance with id.
func (s *GameState) Instance(id string) (*Instance, bool) {
	i, ok := s.instances[id]
	return i, ok
}

// InstancesOf returns the instances on actorID in attach order.
func (s *GameState) InstancesOf(actorID string) []*Instance {
	ids := s.byTarget[actorID]
	out := make([]*Instance, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.instances[id])
	}
	return out
}

// AllInstances returns every instance ordered by actor then attach order.
func (s *GameState) AllInstances() []*Instance {
	var out []*Instance
	for _, a := range s.actorOrder {
		out = append(out, s.InstancesOf(a)...)
	}
	return out
}

// RemoveInstance drops the instance with id, reporting whether it existed.
func (s *GameState) RemoveInstance(id string) bool {
	inst, ok := s.instances[id]
	if !ok {
		return false
	}
	delete(s.instances, id)
	s.byTarget[inst.TargetID] = slices.DeleteFunc(s.byTarget[inst.TargetID], func(x string) bool { return x == id })
	return true
}

// AddResource stores r.
func (s *GameState) AddResource(r *Resource) {
	s.resources[r.ID] = r
	s.resourceOrder = append(s.resourceOrder, r.ID)
}

// Resource returns the resource with id.
func (s *GameState) Resource(id string) (*Resource, bool) {
	r, ok := s.resources[id]
	return r, ok
}

// Resources returns every resource in creation order.
func (s *GameState) Resources() []*Resource {
	out := make([]*Resource, 0, len(s.resourceOrder))
	for _, id := range s.resourceOrder {
		out = append(out, s.resources[id])
	}
	return out
}

// ResourcesOf returns the resources owned by actorID in creation order.
func (s *GameState) ResourcesOf(actorID string) []*Resource {
	var out []*Resource
	for _, r := range s.Resources() {
		if r.OwnerID == actorID {
			out = append(out, r)
		}
	}
	return out
}

// FindResource returns actorID's first pool of definition defID.
func (s *GameState) FindResource(actorID, defID string) (*Resource, bool) {
	for _, r := range s.Resources() {
		if r.OwnerID == actorID && r.DefinitionID == defID {
			return r, true
		}
	}
	return nil, false
}

// RemoveResource drops the resource with id.
func (s *GameState) RemoveResource(id string) bool {
	if _, ok := s.resources[id]; !ok {
		return false
	}
	delete(s.resources, id)
	s.resourceOrder = slices.DeleteFunc(s.resourceOrder, func(x string) bool { return x == id })
	return true
}

// AddZone stores z.
func (s *GameState) AddZone(z *Zone) {
	s.zones[z.ID] = z
	s.zoneOrder = append(s.zoneOrder, z.ID)
}

// Zone returns the zone with id.
func (s *GameState) Zone(id string) (*Zone, bool) {
	z, ok := s.zones[id]
	return z, ok
}

// Zones returns every zone in creation order.
func (s *GameState) Zones() []*Zone {
	out := make([]*Zone, 0, len(s.zoneOrder))
	for _, id := range s.zoneOrder {
		out = append(out, s.zones[id])
	}
	return out
}

// RemoveZone drops the zone with id.
func (s *GameState) RemoveZone(id string) bool {
	if _, ok := s.zones[id]; !ok {
		return false
	}
	delete(s.zones, id)
	s.zoneOrder = slices.DeleteFunc(s.zoneOrder, func(x string) bool { return x == id })
	return true
}

// Enqueue appends a scheduled entry, stamping its sequence number.
func (s *GameState) Enqueue(e Scheduled) {
	s.seq++
	e.Seq = s.seq
	s.queue = append(s.queue, e)
}

// Pending returns a copy of the deferred queue.
func (s *GameState) Pending() []Scheduled {
	return slices.Clone(s.queue)
}

// TakeDue removes and returns every entry due at or before round, ordered by
// due round then enqueue order.
func (s *GameState) TakeDue(round int) []Scheduled {
	var due, rest []Scheduled
	for _, e := range s.queue {
		if e.Due <= round {
			due = append(due, e)
		} else {
			rest = append(rest, e)
		}
	}
	s.queue = rest
	slices.SortStableFunc(due, func(a, b Scheduled) int {
		if c := cmp.Compare(a.Due, b.Due); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return due
}
