package effect

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/cory-johannsen/d20rules/internal/game/damage"
	"github.com/cory-johannsen/d20rules/internal/game/dice"
	"github.com/cory-johannsen/d20rules/internal/game/gates"
	"github.com/cory-johannsen/d20rules/internal/game/hooks"
	"github.com/cory-johannsen/d20rules/internal/game/resource"
	"github.com/cory-johannsen/d20rules/internal/game/ruleset"
	"github.com/cory-johannsen/d20rules/internal/game/state"
)

// maxDepth bounds nested attaches, saves and riders.
const maxDepth = 8

// opContext is what an operation list runs against.
type opContext struct {
	SourceID    string
	TargetID    string
	InstanceID  string
	Label       string
	Descriptors []string
	Scale       float64
	Crit        int
	// Saved is the gate save result, nil when no save was rolled.
	Saved *bool
	depth int
}

func (c opContext) who(w ruleset.Who) string {
	if w == ruleset.WhoSelf {
		return c.SourceID
	}
	return c.TargetID
}

func (c opContext) nested() opContext {
	c.depth++
	return c
}

// Executor runs operation lists. Effects, hook operation actions and the
// scheduler all share it.
type Executor struct {
	l *Lifecycle
	// depth is the nesting depth of the operation list currently running.
	// Hooks fired from inside it (damage taken, saves) continue one level
	// deeper, so a hook that triggers itself stops at maxDepth.
	depth int
}

var _ hooks.Executor = (*Executor)(nil)

// Execute runs ops for a hook or scheduled entry, unscaled and without a
// critical multiplier. A call made while another list is running nests one
// level below it.
func (e *Executor) Execute(s *state.GameState, inv hooks.Invocation, ops ruleset.Ops) []string {
	c := opContext{SourceID: inv.SourceID, TargetID: inv.TargetID, Label: inv.Label, Scale: 1, Crit: 1, depth: e.depth + 1}
	if _, ok := s.Instance(inv.OwnerID); ok {
		c.InstanceID = inv.OwnerID
	}
	return e.run(s, c, ops)
}

// run executes ops in order. A failing operation logs a line and never stops
// its siblings.
func (e *Executor) run(s *state.GameState, c opContext, ops ruleset.Ops) []string {
	if len(ops) == 0 {
		return nil
	}
	if c.depth > maxDepth {
		e.l.logger.Warn("operation depth limit reached", zap.String("label", c.Label))
		return []string{fmt.Sprintf("%s: operation depth limit reached", c.Label)}
	}
	outer := e.depth
	e.depth = c.depth
	defer func() { e.depth = outer }()
	var lines []string
	for _, op := range ops {
		lines = append(lines, e.exec(s, c, op.Operation)...)
	}
	return lines
}

func (e *Executor) exec(s *state.GameState, c opContext, op ruleset.Operation) []string {
	l := e.l
	switch o := op.(type) {
	case ruleset.Damage:
		return e.damage(s, c, o)
	case ruleset.Heal:
		amt, lines := e.amount(s, c, o.Amount)
		return append(lines, l.damage.Heal(s, c.who(o.Who), amt)...)
	case ruleset.AbilityDamage:
		amt, lines := e.amount(s, c, o.Amount)
		return append(lines, l.damage.AbilityDamage(s, c.who(o.Who), o.Ability, scale(amt, c.Scale), o.Drain)...)
	case ruleset.AbilityRestore:
		amt, lines := e.amount(s, c, o.Amount)
		return append(lines, l.damage.AbilityRestore(s, c.who(o.Who), o.Ability, amt, o.Drain)...)
	case ruleset.ResourceCreate:
		return e.createResource(s, c, o)
	case ruleset.ResourceSpend:
		who := c.who(o.Who)
		amt, lines := e.amount(s, c, o.Amount)
		if err := l.resources.Spend(s, who, o.Resource, amt); err != nil {
			return append(lines, fmt.Sprintf("%s cannot spend %d %s: %v", who, amt, o.Resource, err))
		}
		return append(lines, fmt.Sprintf("%s spends %d %s", who, amt, o.Resource))
	case ruleset.ResourceRestore:
		who := c.who(o.Who)
		amt := 0
		var lines []string
		if !o.ToMax {
			amt, lines = e.amount(s, c, o.Amount)
		}
		v, err := l.resources.Restore(s, who, o.Resource, amt, o.ToMax)
		if err != nil {
			return append(lines, fmt.Sprintf("resource.restore: %v", err))
		}
		return append(lines, fmt.Sprintf("%s %s restored to %d", who, o.Resource, v))
	case ruleset.ResourceSet:
		who := c.who(o.Who)
		amt, lines := e.amount(s, c, o.Amount)
		v, err := l.resources.Set(s, who, o.Resource, amt)
		if err != nil {
			return append(lines, fmt.Sprintf("resource.set: %v", err))
		}
		return append(lines, fmt.Sprintf("%s %s set to %d", who, o.Resource, v))
	case ruleset.ConditionApply:
		_, lines := l.attach(s, o.Condition, c.SourceID, c.who(o.Who), Options{Kind: ruleset.KindCondition, Stack: o.Stack, Duration: o.Duration}, c.depth+1)
		return lines
	case ruleset.ConditionRemove:
		return l.DetachDefinition(s, o.Condition, c.who(o.Who))
	case ruleset.EffectAttach:
		_, lines := l.attach(s, o.Effect, c.SourceID, c.who(o.Who), Options{Kind: ruleset.KindEffect, Stack: o.Stack}, c.depth+1)
		return lines
	case ruleset.EffectDetach:
		return l.DetachDefinition(s, o.Effect, c.who(o.Who))
	case ruleset.ZoneCreate:
		var members []string
		if o.IncludeTarget && c.TargetID != c.SourceID {
			members = append(members, c.TargetID)
		}
		_, lines, err := l.zones.Create(s, o.Zone, c.SourceID, c.InstanceID, members...)
		if err != nil {
			return []string{fmt.Sprintf("zone.create: %v", err)}
		}
		return lines
	case ruleset.ZoneDestroy:
		return l.zones.DestroyDefinition(s, o.Zone, c.SourceID)
	case ruleset.Schedule:
		hooks.Schedule(s, o.Delay, hooks.Invocation{SourceID: c.SourceID, TargetID: c.TargetID, OwnerID: c.InstanceID, Label: c.Label}, o.Ops)
		return []string{fmt.Sprintf("%s: %d operations scheduled for round %d", c.Label, len(o.Ops), s.Round+max(o.Delay, 1))}
	case ruleset.Save:
		dc := l.gates.DC(s, o.DC, c.SourceID, c.TargetID)
		ok, lines := l.gates.Save(s, gates.SaveCheck{
			Type:        o.Type,
			DC:          dc,
			SourceID:    c.SourceID,
			TargetID:    c.TargetID,
			Label:       c.Label,
			Descriptors: c.Descriptors,
		})
		branch := o.OnFail
		if ok {
			branch = o.OnSuccess
		}
		return append(lines, e.run(s, c.nested(), branch)...)
	case ruleset.SaveBranch:
		if c.Saved != nil && *c.Saved {
			return e.run(s, c.nested(), o.OnSuccess)
		}
		return e.run(s, c.nested(), o.OnFail)
	default:
		l.logger.Warn("unsupported operation", zap.String("kind", string(op.Kind())))
		return []string{fmt.Sprintf("%s: unsupported operation %s", c.Label, op.Kind())}
	}
}

func (e *Executor) createResource(s *state.GameState, c opContext, o ruleset.ResourceCreate) []string {
	owner := resource.Owner{ActorID: c.who(o.Who), SourceID: c.SourceID, Scope: o.Scope}
	scope := o.Scope
	if def, ok := e.l.content.Resource(o.Resource); ok && scope == "" {
		scope = def.Scope
	}
	if scope == ruleset.ScopeEffect {
		owner.InstanceID = c.InstanceID
	}
	_, line, err := e.l.resources.Create(s, o.Resource, owner, resource.Overrides{Capacity: o.Capacity, Initial: o.Initial})
	if err != nil {
		return []string{fmt.Sprintf("resource.create: %v", err)}
	}
	return []string{line}
}

// damage rolls a damage operation and sends it through the pipeline. A
// confirmed critical rolls dice and adds the static bonus once per multiple.
func (e *Executor) damage(s *state.GameState, c opContext, o ruleset.Damage) []string {
	pk := damage.Packet{Kind: o.DamageKind, Magic: o.Magic, Materials: o.Materials, Alignments: o.Alignments}
	formula := o.Dice
	bonus, warnings := e.amount(s, c, o.Bonus)
	if o.UseWeapon {
		if src, ok := s.Actor(c.SourceID); ok {
			w := src.Weapon()
			if formula == "" {
				formula = w.Damage
			}
			if pk.Kind == "" {
				pk.Kind = w.DamageKind
			}
			pk.Magic = pk.Magic || w.Magic || w.Enhancement > 0
			if w.Material != "" {
				pk.Materials = append(pk.Materials, w.Material)
			}
			pk.Alignments = append(pk.Alignments, w.Alignments...)
			bonus += w.Enhancement
		}
	}
	mult := 1
	if !o.NoCrit && c.Crit > 1 {
		mult = c.Crit
	}

	roller := dice.NewLoggedRoller(s.Source(), e.l.logger)
	total := 0
	for range mult {
		if formula != "" {
			r, err := roller.RollExpr(formula)
			if err != nil {
				return append(warnings, fmt.Sprintf("%s: %v", c.Label, err))
			}
			total += r.Total()
		}
		total += bonus
	}
	pk.Amount = max(0, scale(total, c.Scale))

	target := c.who(o.Who)
	note := ""
	if mult > 1 {
		note = fmt.Sprintf(" (critical x%d)", mult)
	}
	lines := append(warnings, fmt.Sprintf("%s deals %d %s damage to %s%s", c.Label, pk.Amount, kindOrUntyped(pk.Kind), target, note))
	res := e.l.damage.Apply(s, damage.Attack{SourceID: c.SourceID, TargetID: target, Label: c.Label, Packets: []damage.Packet{pk}})
	lines = append(lines, res.Log...)
	if res.Injured && len(o.OnInjury) > 0 {
		lines = append(lines, e.run(s, c.nested(), o.OnInjury)...)
	}
	return lines
}

// amount evaluates a formula with the source as actor and the target as
// target, falling back to rolling it as a dice expression. Failures log a
// warning and yield 0.
func (e *Executor) amount(s *state.GameState, c opContext, formula string) (int, []string) {
	if formula == "" {
		return 0, nil
	}
	v, err := e.l.eval.EvaluateInt(formula, e.l.stats.Context(s, c.SourceID, c.TargetID))
	if err == nil {
		return v, nil
	}
	if expr, perr := dice.Parse(formula); perr == nil {
		r, rerr := dice.NewLoggedRoller(s.Source(), e.l.logger).Roll(expr)
		if rerr == nil {
			return r.Total(), nil
		}
	}
	e.l.logger.Warn("operation amount evaluation failed",
		zap.String("label", c.Label),
		zap.String("formula", formula),
		zap.Error(err),
	)
	return 0, []string{fmt.Sprintf("%s: %q evaluated as 0: %v", c.Label, formula, err)}
}

func scale(v int, factor float64) int {
	if factor == 1 {
		return v
	}
	return int(math.Floor(float64(v) * factor))
}

func kindOrUntyped(kind string) string {
	if kind == "" {
		return ruleset.DamageUntyped
	}
	return kind
}
