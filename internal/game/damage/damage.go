// Package damage applies attacks to actors through the fixed reduction
// pipeline: immunity, pre-transform hooks, resistance, damage reduction,
// absorption, vulnerability, commit, injury and post hooks.
package damage

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/d20rules/internal/game/actor"
	"github.com/cory-johannsen/d20rules/internal/game/hooks"
	"github.com/cory-johannsen/d20rules/internal/game/resource"
	"github.com/cory-johannsen/d20rules/internal/game/ruleset"
	"github.com/cory-johannsen/d20rules/internal/game/state"
	"github.com/cory-johannsen/d20rules/internal/game/stats"
)

// Packet is one typed portion of an attack's damage.
type Packet struct {
	Amount     int      `yaml:"amount"`
	Kind       string   `yaml:"kind"`
	Magic      bool     `yaml:"magic,omitempty"`
	Materials  []string `yaml:"materials,omitempty"`
	Alignments []string `yaml:"alignments,omitempty"`
}

// Attack is a single attack: every packet is reduced together, and damage
// reduction applies once across all of them.
type Attack struct {
	SourceID string
	TargetID string
	Label    string
	Packets  []Packet
	// Reflected marks damage sent back by a reflect action; it is never
	// reflected again.
	Reflected bool
}

// Result summarises what an attack did.
type Result struct {
	HPDelta        int
	NonlethalDelta int
	Absorbed       int
	Injured        bool
	Blocked        bool
	Reflected      int
	Log            []string
}

// Pipeline applies damage, healing and ability damage.
type Pipeline struct {
	stats     *stats.Resolver
	resources *resource.Engine
	dispatch  *hooks.Dispatcher
	logger    *zap.Logger
}

// NewPipeline creates a Pipeline.
//
// Precondition: resolver, resources and dispatch must be non-nil; a nil logger discards logs.
func NewPipeline(resolver *stats.Resolver, resources *resource.Engine, dispatch *hooks.Dispatcher, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{stats: resolver, resources: resources, dispatch: dispatch, logger: logger}
}

// Apply runs atk through the pipeline and commits the result to the target.
//
// Postcondition: target HP >= 0; nonlethal >= 0; Result.Log lists every stage
// that changed a packet.
func (p *Pipeline) Apply(s *state.GameState, atk Attack) Result {
	var res Result
	target, ok := s.Actor(atk.TargetID)
	if !ok {
		res.Log = append(res.Log, fmt.Sprintf("damage: unknown target %q", atk.TargetID))
		return res
	}
	resolved, err := p.stats.Resolve(s, atk.TargetID)
	if err != nil {
		res.Log = append(res.Log, fmt.Sprintf("damage: %v", err))
		return res
	}
	packets := make([]Packet, 0, len(atk.Packets))
	for _, pk := range atk.Packets {
		if pk.Kind == "" {
			pk.Kind = ruleset.DamageUntyped
		}
		pk.Amount = max(pk.Amount, 0)
		packets = append(packets, pk)
	}

	// 1. Immunity.
	packets = slices.DeleteFunc(packets, func(pk Packet) bool {
		if immune(target, pk.Kind) {
			res.Log = append(res.Log, fmt.Sprintf("%s is immune to %s", target.ID, pk.Kind))
			return true
		}
		return false
	})

	// 2. Pre-transform hooks.
	reflected := 0
	blocked := 0
	for i := range packets {
		pk := &packets[i]
		dec := p.dispatch.Dispatch(s, hooks.Event{
			Scope:   ruleset.ScopeIncomingDamage,
			Event:   "pre",
			ActorID: atk.TargetID,
			Attrs:   attrs(atk, pk.Kind),
		})
		res.Log = append(res.Log, dec.Lines...)
		if dec.Blocked() {
			res.Log = append(res.Log, fmt.Sprintf("%d %s blocked", pk.Amount, pk.Kind))
			pk.Amount = 0
			blocked++
			continue
		}
		for _, c := range dec.Conversions {
			if c.From == pk.Kind || c.From == ruleset.Category(pk.Kind) || c.From == ruleset.CategoryAny {
				pk.Kind = c.To
			}
		}
		if dec.Factor != 1 {
			pk.Amount = int(math.Floor(float64(pk.Amount)*dec.Factor + 1e-9))
		}
		pk.Amount = max(0, pk.Amount+dec.Add)
		if dec.Cap >= 0 {
			pk.Amount = min(pk.Amount, dec.Cap)
		}
		if dec.ReflectPercent > 0 && !atk.Reflected && atk.SourceID != "" && atk.SourceID != atk.TargetID {
			r := pk.Amount * dec.ReflectPercent / 100
			reflected += r
			pk.Amount -= r
		}
	}
	if blocked > 0 && blocked == len(packets) {
		res.Blocked = true
	}

	// 3. Resistance.
	for i := range packets {
		pk := &packets[i]
		if r := resolved.Resist[pk.Kind]; r > 0 && pk.Amount > 0 {
			cut := min(r, pk.Amount)
			pk.Amount -= cut
			res.Log = append(res.Log, fmt.Sprintf("resist %s %d: -%d", pk.Kind, r, cut))
		}
	}

	// 4. Damage reduction, once per attack.
	res.Log = append(res.Log, reduce(packets, resolved.DR)...)

	// 5. Absorption.
	abs := resource.NewAbsorption()
	suppressed := func(id string) bool {
		inst, ok := s.Instance(id)
		return ok && inst.Suppressed
	}
	for i := range packets {
		pk := &packets[i]
		if pk.Amount == 0 {
			continue
		}
		left, lines := p.resources.Absorb(s, abs, atk.TargetID, pk.Kind, pk.Amount, suppressed)
		res.Absorbed += pk.Amount - left
		pk.Amount = left
		res.Log = append(res.Log, lines...)
	}

	// 6. Vulnerability.
	for i := range packets {
		pk := &packets[i]
		if pct, ok := resolved.Vuln[pk.Kind]; ok && pk.Amount > 0 {
			m := float64(pct) / 100
			before := pk.Amount
			pk.Amount = int(math.Round(float64(pk.Amount) * m))
			res.Log = append(res.Log, fmt.Sprintf("vulnerable to %s x%g: %d -> %d", pk.Kind, m, before, pk.Amount))
		}
	}

	// 7. Commit, 8. injury.
	hpBefore := target.HP
	for _, pk := range packets {
		if pk.Amount == 0 {
			continue
		}
		if pk.Kind == ruleset.DamageNonlethal {
			target.Nonlethal += pk.Amount
			res.NonlethalDelta += pk.Amount
			continue
		}
		target.HP = max(0, target.HP-pk.Amount)
		if ruleset.IsPhysical(pk.Kind) {
			res.Injured = true
		}
	}
	res.HPDelta = hpBefore - target.HP
	res.Log = append(res.Log, fmt.Sprintf("%s takes %d damage%s (hp %d/%d)", target.ID, res.HPDelta, nonlethalNote(res.NonlethalDelta), target.HP, target.MaxHP))
	if target.HP == 0 && hpBefore > 0 {
		res.Log = append(res.Log, fmt.Sprintf("%s is down", target.ID))
	} else if target.Nonlethal >= target.HP && res.NonlethalDelta > 0 {
		res.Log = append(res.Log, fmt.Sprintf("%s is knocked out by nonlethal damage", target.ID))
	}

	// 9. Post hooks.
	post := p.dispatch.Dispatch(s, hooks.Event{
		Scope:   ruleset.ScopeIncomingDamage,
		Event:   "post",
		ActorID: atk.TargetID,
		Attrs:   attrs(atk, ""),
	})
	res.Log = append(res.Log, post.Lines...)
	if res.HPDelta > 0 {
		taken := p.dispatch.Dispatch(s, hooks.Event{
			Scope:   ruleset.ScopeOnDamageTaken,
			ActorID: atk.TargetID,
			Attrs:   attrs(atk, ""),
		})
		res.Log = append(res.Log, taken.Lines...)
	}

	if reflected > 0 {
		res.Reflected = reflected
		res.Log = append(res.Log, fmt.Sprintf("%d damage reflected to %s", reflected, atk.SourceID))
		back := p.Apply(s, Attack{
			SourceID:  atk.TargetID,
			TargetID:  atk.SourceID,
			Label:     atk.Label,
			Packets:   []Packet{{Amount: reflected, Kind: ruleset.DamageUntyped}},
			Reflected: true,
		})
		res.Log = append(res.Log, back.Log...)
	}
	return res
}

func attrs(atk Attack, kind string) map[string]string {
	m := map[string]string{"source": atk.SourceID, "effect": atk.Label}
	if kind != "" {
		m["kind"] = kind
		if c := ruleset.Category(kind); c != "" {
			m["category"] = c
		}
	}
	return m
}

func nonlethalNote(n int) string {
	if n == 0 {
		return ""
	}
	return fmt.Sprintf(" and %d nonlethal", n)
}

func immune(a *actor.Actor, kind string) bool {
	if slices.Contains(a.Immunities, kind) {
		return true
	}
	c := ruleset.Category(kind)
	return c != "" && slices.Contains(a.Immunities, c)
}

// reduce applies the single best damage reduction entry to the physical
// packets it is not bypassed by.
func reduce(packets []Packet, entries []actor.DR) []string {
	best := -1
	for i, dr := range entries {
		if dr.Value <= 0 {
			continue
		}
		if !appliesToAny(packets, dr) {
			continue
		}
		if best < 0 || dr.Value > entries[best].Value {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	dr := entries[best]
	total := 0
	for _, pk := range packets {
		if ruleset.IsPhysical(pk.Kind) && !bypasses(pk, dr.Bypass) {
			total += pk.Amount
		}
	}
	cut := min(dr.Value, total)
	remaining := cut
	for i := range packets {
		pk := &packets[i]
		if remaining == 0 {
			break
		}
		if !ruleset.IsPhysical(pk.Kind) || bypasses(*pk, dr.Bypass) {
			continue
		}
		take := min(remaining, pk.Amount)
		pk.Amount -= take
		remaining -= take
	}
	if cut == 0 {
		return nil
	}
	return []string{fmt.Sprintf("DR %d/%s: -%d", dr.Value, dr.Bypass, cut)}
}

func appliesToAny(packets []Packet, dr actor.DR) bool {
	for _, pk := range packets {
		if ruleset.IsPhysical(pk.Kind) && pk.Amount > 0 && !bypasses(pk, dr.Bypass) {
			return true
		}
	}
	return false
}

// bypasses reports whether pk ignores damage reduction with bypass.
func bypasses(pk Packet, bypass string) bool {
	switch bypass {
	case "-", "":
		return false
	case "magic":
		return pk.Magic
	case "slashing", "piercing", "bludgeoning":
		return strings.TrimPrefix(pk.Kind, ruleset.DamagePhysicalPrefix) == bypass
	}
	return slices.Contains(pk.Materials, bypass) || slices.Contains(pk.Alignments, bypass)
}

// Heal restores amount hit points to targetID, clamped to max, and removes
// the same amount of nonlethal damage.
func (p *Pipeline) Heal(s *state.GameState, targetID string, amount int) []string {
	a, ok := s.Actor(targetID)
	if !ok {
		return []string{fmt.Sprintf("heal: unknown target %q", targetID)}
	}
	amount = max(amount, 0)
	before := a.HP
	a.HP = min(a.MaxHP, a.HP+amount)
	nl := min(a.Nonlethal, amount)
	a.Nonlethal -= nl
	line := fmt.Sprintf("%s heals %d (hp %d/%d)", a.ID, a.HP-before, a.HP, a.MaxHP)
	if nl > 0 {
		line += fmt.Sprintf(", nonlethal -%d", nl)
	}
	return []string{line}
}

// AbilityDamage adds damage (or drain) to an ability score.
func (p *Pipeline) AbilityDamage(s *state.GameState, targetID, ability string, amount int, drain bool) []string {
	a, ok := s.Actor(targetID)
	if !ok {
		return []string{fmt.Sprintf("ability damage: unknown target %q", targetID)}
	}
	if !actor.IsAbility(ability) {
		return []string{fmt.Sprintf("ability damage: unknown ability %q", ability)}
	}
	if slices.Contains(a.Immunities, "ability_damage") {
		return []string{fmt.Sprintf("%s is immune to ability damage", a.ID)}
	}
	sc := a.Ability(ability)
	what := "damage"
	if drain {
		sc.Drain = max(0, sc.Drain+amount)
		what = "drain"
	} else {
		sc.Damage = max(0, sc.Damage+amount)
	}
	a.SetAbility(ability, sc)
	return []string{fmt.Sprintf("%s takes %d %s %s (%s %d)", a.ID, amount, ability, what, ability, sc.Score())}
}

// AbilityRestore removes up to amount of damage (or drain) from an ability.
func (p *Pipeline) AbilityRestore(s *state.GameState, targetID, ability string, amount int, drain bool) []string {
	a, ok := s.Actor(targetID)
	if !ok {
		return []string{fmt.Sprintf("ability restore: unknown target %q", targetID)}
	}
	if !actor.IsAbility(ability) {
		return []string{fmt.Sprintf("ability restore: unknown ability %q", ability)}
	}
	sc := a.Ability(ability)
	if drain {
		sc.Drain = max(0, sc.Drain-amount)
	} else {
		sc.Damage = max(0, sc.Damage-amount)
	}
	a.SetAbility(ability, sc)
	return []string{fmt.Sprintf("%s restores %s (%s %d)", a.ID, ability, ability, sc.Score())}
}
