package ruleset

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cory-johannsen/d20rules/internal/game/dice"
)

// Validate checks every definition in c for semantic problems: unknown
// references, malformed formulas, invalid enumerations and stat paths.
//
// Postcondition: Returns nil, or an error joining one entry per problem.
func Validate(c *Content, compiler FormulaCompiler) error {
	v := &validator{c: c, compiler: compiler}
	for _, id := range c.EffectIDs() {
		d, _ := c.Effect(id)
		v.effect("effect "+id, d)
	}
	for _, id := range c.ConditionIDs() {
		d, _ := c.Condition(id)
		v.effect("condition "+id, d)
	}
	for _, id := range c.ResourceIDs() {
		d, _ := c.Resource(id)
		v.resource("resource "+id, d)
	}
	for _, id := range c.ZoneIDs() {
		d, _ := c.Zone(id)
		v.zone("zone "+id, d)
	}
	return errors.Join(v.errs...)
}

type validator struct {
	c        *Content
	compiler FormulaCompiler
	errs     []error
}

func (v *validator) fail(where, format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf("%s: %s", where, fmt.Sprintf(format, args...)))
}

func (v *validator) formula(where, field, f string, required bool) {
	if f == "" {
		if required {
			v.fail(where, "%s is required", field)
		}
		return
	}
	if err := v.compiler.Compile(f); err != nil {
		v.fail(where, "%s: %v", field, err)
	}
}

func (v *validator) effect(where string, d *EffectDef) {
	if d.Name == "" {
		v.fail(where, "name is required")
	}
	if !d.AbilityType.valid() {
		v.fail(where, "unknown ability_type %q", d.AbilityType)
	}
	v.duration(where, d.Duration, d.Kind == KindCondition)
	if d.Stacking != "" && d.Stacking != StackRefresh && d.Stacking != StackIndependent {
		v.fail(where, "stacking must be %q or %q, got %q", StackRefresh, StackIndependent, d.Stacking)
	}
	for i, m := range d.Modifiers {
		v.modifier(fmt.Sprintf("%s modifier %d", where, i), m)
	}
	v.gates(where, d.Gates)
	v.ops(where, d.Operations)
	v.hooks(where, d.Hooks)
}

func (v *validator) duration(where string, d Duration, optional bool) {
	switch d.Type {
	case "":
		if !optional {
			v.fail(where, "duration.type is required")
		}
	case Instantaneous, Permanent, Concentration:
	case Rounds, Minutes, Hours, Days:
		v.formula(where, "duration.value", d.Value, true)
	default:
		v.fail(where, "unknown duration type %q", d.Type)
	}
}

func (v *validator) modifier(where string, m Modifier) {
	if !ValidPath(m.Target) {
		v.fail(where, "unknown target path %q", m.Target)
	}
	if !slices.Contains(modOps, m.Op) {
		v.fail(where, "unknown operator %q", m.Op)
	}
	if m.BonusType != "" && !slices.Contains(BonusTypes, m.BonusType) {
		v.fail(where, "unknown bonus type %q", m.BonusType)
	}
	v.formula(where, "value", m.Value, true)
}

func (v *validator) gates(where string, g Gates) {
	if s := g.Save; s != nil {
		if !slices.Contains(SaveTypes, s.Type) {
			v.fail(where, "save type must be one of %v, got %q", SaveTypes, s.Type)
		}
		v.formula(where, "save dc", s.DC, true)
		switch s.Branch {
		case BranchNegates, BranchHalf, BranchPartial, BranchNone:
		default:
			v.fail(where, "unknown save branch %q", s.Branch)
		}
	}
	if a := g.Attack; a != nil {
		switch a.Mode {
		case AttackNone, AttackMelee, AttackRanged, AttackTouchMelee, AttackTouchRanged:
		default:
			v.fail(where, "unknown attack mode %q", a.Mode)
		}
		switch a.AC {
		case "", ACNormal, ACTouch, ACFlatFooted:
		default:
			v.fail(where, "unknown attack ac %q", a.AC)
		}
	}
}

func (v *validator) hooks(where string, hooks []Hook) {
	for i, h := range hooks {
		hw := fmt.Sprintf("%s hook %d", where, i)
		if !slices.Contains(hookScopes, h.Scope) {
			v.fail(hw, "unknown scope %q", h.Scope)
		}
		if len(h.Actions) == 0 {
			v.fail(hw, "at least one action is required")
		}
		for _, a := range h.Actions {
			v.action(hw, a)
			if transformsDamage(a) && (h.Scope != ScopeIncomingDamage || h.Event == "post") {
				v.fail(hw, "%s only takes effect on %s before damage is applied", a.HookAction.ActionKind(), ScopeIncomingDamage)
			}
		}
	}
}

// transformsDamage reports actions the damage pipeline reads only from its
// pre-transform dispatch.
func transformsDamage(a Action) bool {
	switch a.HookAction.(type) {
	case Multiply, Cap, Reflect, Convert:
		return true
	}
	return false
}

func (v *validator) action(where string, a Action) {
	switch act := a.HookAction.(type) {
	case SetOutcome:
		if !slices.Contains(outcomes, act.Outcome) {
			v.fail(where, "unknown outcome %q", act.Outcome)
		}
	case Modify:
		v.formula(where, "modify amount", act.Amount, true)
	case Multiply:
		if act.Factor < 0 {
			v.fail(where, "multiply factor must not be negative")
		}
	case Cap:
		if act.Amount < 0 {
			v.fail(where, "cap amount must not be negative")
		}
	case Reflect:
		if act.Percent < 0 || act.Percent > 100 {
			v.fail(where, "reflect percent must be 0-100, got %d", act.Percent)
		}
	case Reroll:
		if act.Keep != "higher" && act.Keep != "lower" {
			v.fail(where, "reroll keep must be higher or lower, got %q", act.Keep)
		}
	case Convert:
		if !ValidDamageKind(act.From) || !ValidDamageKind(act.To) {
			v.fail(where, "convert needs valid damage kinds, got %q -> %q", act.From, act.To)
		}
	case OperationAction:
		v.ops(where, Ops{act.Op})
	default:
		v.fail(where, "missing hook action")
	}
}

func (v *validator) who(where string, w Who) {
	if w != "" && w != WhoTarget && w != WhoSelf {
		v.fail(where, "who must be target or self, got %q", w)
	}
}

func (v *validator) ability(where, ability string) {
	if !slices.Contains(abilityKeys, ability) {
		v.fail(where, "unknown ability %q", ability)
	}
}

func (v *validator) resourceRef(where, id string) {
	if _, ok := v.c.Resource(id); !ok {
		v.fail(where, "unknown resource %q", id)
	}
}

func (v *validator) ops(where string, ops Ops) {
	for i, o := range ops {
		ow := fmt.Sprintf("%s op %d", where, i)
		switch op := o.Operation.(type) {
		case Damage:
			v.who(ow, op.Who)
			if op.Dice == "" && op.Bonus == "" && !op.UseWeapon {
				v.fail(ow, "damage needs dice, bonus or use_weapon")
			}
			if op.DamageKind != "" && !ValidDamageKind(op.DamageKind) {
				v.fail(ow, "unknown damage kind %q", op.DamageKind)
			}
			if op.DamageKind == "" && !op.UseWeapon {
				v.fail(ow, "damage kind is required without use_weapon")
			}
			if op.Dice != "" {
				if _, err := dice.Parse(op.Dice); err != nil {
					v.fail(ow, "%v", err)
				}
			}
			v.formula(ow, "bonus", op.Bonus, false)
			v.ops(ow+" on_injury", op.OnInjury)
		case Heal:
			v.who(ow, op.Who)
			v.formula(ow, "amount", op.Amount, true)
		case AbilityDamage:
			v.who(ow, op.Who)
			v.ability(ow, op.Ability)
			v.formula(ow, "amount", op.Amount, true)
		case AbilityRestore:
			v.who(ow, op.Who)
			v.ability(ow, op.Ability)
			v.formula(ow, "amount", op.Amount, true)
		case ResourceCreate:
			v.who(ow, op.Who)
			v.resourceRef(ow, op.Resource)
			v.formula(ow, "capacity", op.Capacity, false)
			if op.Initial != "max" {
				v.formula(ow, "initial", op.Initial, false)
			}
			if op.Scope != "" && op.Scope != ScopeEntity && op.Scope != ScopeEffect {
				v.fail(ow, "resource.create scope must be entity or effect, got %q", op.Scope)
			}
		case ResourceSpend:
			v.who(ow, op.Who)
			v.resourceRef(ow, op.Resource)
			v.formula(ow, "amount", op.Amount, true)
		case ResourceRestore:
			v.who(ow, op.Who)
			v.resourceRef(ow, op.Resource)
			v.formula(ow, "amount", op.Amount, !op.ToMax)
		case ResourceSet:
			v.who(ow, op.Who)
			v.resourceRef(ow, op.Resource)
			v.formula(ow, "amount", op.Amount, true)
		case ConditionApply:
			v.who(ow, op.Who)
			if _, ok := v.c.Condition(op.Condition); !ok {
				v.fail(ow, "unknown condition %q", op.Condition)
			}
			if op.Duration != nil {
				v.duration(ow, *op.Duration, false)
			}
		case ConditionRemove:
			v.who(ow, op.Who)
			if _, ok := v.c.Condition(op.Condition); !ok {
				v.fail(ow, "unknown condition %q", op.Condition)
			}
		case EffectAttach:
			v.who(ow, op.Who)
			if _, ok := v.c.Effect(op.Effect); !ok {
				v.fail(ow, "unknown effect %q", op.Effect)
			}
		case EffectDetach:
			v.who(ow, op.Who)
			if _, ok := v.c.Effect(op.Effect); !ok {
				v.fail(ow, "unknown effect %q", op.Effect)
			}
		case ZoneCreate:
			if _, ok := v.c.Zone(op.Zone); !ok {
				v.fail(ow, "unknown zone %q", op.Zone)
			}
		case ZoneDestroy:
			if _, ok := v.c.Zone(op.Zone); !ok {
				v.fail(ow, "unknown zone %q", op.Zone)
			}
		case Schedule:
			if op.Delay < 1 {
				v.fail(ow, "schedule delay must be >= 1, got %d", op.Delay)
			}
			if len(op.Ops) == 0 {
				v.fail(ow, "schedule needs at least one op")
			}
			v.ops(ow+" scheduled", op.Ops)
		case Save:
			if !slices.Contains(SaveTypes, op.Type) {
				v.fail(ow, "save type must be one of %v, got %q", SaveTypes, op.Type)
			}
			v.formula(ow, "dc", op.DC, true)
			v.ops(ow+" on_success", op.OnSuccess)
			v.ops(ow+" on_fail", op.OnFail)
		case SaveBranch:
			v.ops(ow+" on_success", op.OnSuccess)
			v.ops(ow+" on_fail", op.OnFail)
		default:
			v.fail(ow, "missing operation")
		}
	}
}

func (v *validator) resource(where string, d *ResourceDef) {
	switch d.Scope {
	case "", ScopeEntity, ScopeEffect, ScopeItem, ScopeZone:
	default:
		v.fail(where, "unknown scope %q", d.Scope)
	}
	v.formula(where, "capacity", d.Capacity, true)
	if d.Cap != nil && *d.Cap < 0 {
		v.fail(where, "cap must not be negative")
	}
	switch d.ComputeAt {
	case "", ComputeAtAttach, ComputeAtRefresh, ComputeAtQuery:
	default:
		v.fail(where, "unknown compute_at %q", d.ComputeAt)
	}
	if d.Initial != "max" {
		v.formula(where, "initial", d.Initial, false)
	}
	if c := d.Refresh.Cadence; c != "" && c != CadenceNone && !slices.Contains(Cadences, c) {
		v.fail(where, "unknown refresh cadence %q", c)
	}
	switch d.Refresh.Behavior {
	case "", RefreshResetToMax, RefreshNone:
	case RefreshIncrement:
		v.formula(where, "refresh.increment", d.Refresh.Increment, true)
	default:
		v.fail(where, "unknown refresh behavior %q", d.Refresh.Behavior)
	}
	if a := d.Absorption; a != nil {
		if len(a.Kinds) == 0 {
			v.fail(where, "absorption needs at least one kind")
		}
		for _, k := range a.Kinds {
			if k != CategoryAny && k != CategoryPhysical && k != CategoryEnergy && !ValidDamageKind(k) {
				v.fail(where, "unknown absorption kind %q", k)
			}
		}
		if a.PerHit < 0 {
			v.fail(where, "absorption per_hit must not be negative")
		}
	}
}

func (v *validator) zone(where string, d *ZoneDef) {
	if d.Name == "" {
		v.fail(where, "name is required")
	}
	if !d.AbilityType.valid() {
		v.fail(where, "unknown ability_type %q", d.AbilityType)
	}
	if d.Shape.Kind == "" {
		v.fail(where, "shape.kind is required")
	}
	v.duration(where, d.Duration, false)
	v.hooks(where, d.Hooks)
	if s := d.Suppression; s != nil {
		if s.Kind != SuppressAntimagic {
			v.fail(where, "unknown suppression kind %q", s.Kind)
		}
		for _, t := range s.AbilityTypes {
			if !t.Magical() {
				v.fail(where, "suppression ability type %q is not magical", t)
			}
		}
	}
}
