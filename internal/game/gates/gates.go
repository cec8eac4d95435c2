// Package gates runs the checks that stand between an effect and its target:
// spell resistance, then the saving throw, then the attack roll. The first
// failing check short-circuits the rest.
package gates

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/d20rules/internal/game/dice"
	"github.com/cory-johannsen/d20rules/internal/game/expr"
	"github.com/cory-johannsen/d20rules/internal/game/hooks"
	"github.com/cory-johannsen/d20rules/internal/game/ruleset"
	"github.com/cory-johannsen/d20rules/internal/game/state"
	"github.com/cory-johannsen/d20rules/internal/game/stats"
)

// Outcome is the result of running a definition's gates.
type Outcome struct {
	Allowed bool
	// Scale multiplies numeric operation results: 1, or 0.5 after a successful
	// save against a half branch.
	Scale float64
	// CritMultiplier is 1 unless a confirmed critical hit raised it.
	CritMultiplier int
	SaveRolled     bool
	SaveSucceeded  bool
	Trace          []string
}

// Evaluator runs gates against a game state.
type Evaluator struct {
	stats    *stats.Resolver
	dispatch *hooks.Dispatcher
	eval     *expr.Evaluator
	logger   *zap.Logger
}

// New creates an Evaluator.
//
// Precondition: resolver, dispatch and eval must be non-nil; a nil logger discards logs.
func New(resolver *stats.Resolver, dispatch *hooks.Dispatcher, eval *expr.Evaluator, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{stats: resolver, dispatch: dispatch, eval: eval, logger: logger}
}

func (g *Evaluator) roller(s *state.GameState) *dice.Roller {
	return dice.NewLoggedRoller(s.Source(), g.logger)
}

// Evaluate runs def's gates with sourceID acting on targetID.
//
// Precondition: both actors exist in s.
// Postcondition: Trace holds one line per check that ran; later checks do not
// run once Allowed is false.
func (g *Evaluator) Evaluate(s *state.GameState, def *ruleset.EffectDef, sourceID, targetID string) Outcome {
	out := Outcome{Allowed: true, Scale: 1, CritMultiplier: 1}
	target, err := g.stats.Resolve(s, targetID)
	if err != nil {
		out.Allowed = false
		out.Trace = append(out.Trace, fmt.Sprintf("gates: %v", err))
		return out
	}

	if def.Gates.SR {
		switch {
		case !def.AbilityType.ResistedBySR():
			out.Trace = append(out.Trace, fmt.Sprintf("SR: %s ignores spell resistance", def.AbilityType))
		case target.SR <= 0:
			out.Trace = append(out.Trace, fmt.Sprintf("SR: %s has none", targetID))
		default:
			passed, line := g.SpellResistance(s, sourceID, target.SR)
			out.Trace = append(out.Trace, line)
			if !passed {
				out.Allowed = false
				return out
			}
		}
	}

	if sg := def.Gates.Save; sg != nil {
		dc := g.DC(s, sg.DC, sourceID, targetID)
		ok, lines := g.Save(s, SaveCheck{Type: sg.Type, DC: dc, SourceID: sourceID, TargetID: targetID, Label: def.ID, Descriptors: def.Descriptors})
		out.Trace = append(out.Trace, lines...)
		out.SaveRolled = true
		out.SaveSucceeded = ok
		if ok {
			switch sg.Branch {
			case ruleset.BranchNegates:
				out.Allowed = false
				out.Trace = append(out.Trace, fmt.Sprintf("%s negated by successful %s save", def.ID, sg.Type))
				return out
			case ruleset.BranchHalf:
				out.Scale = 0.5
			}
		}
	}

	if ag := def.Gates.Attack; ag != nil && ag.Mode != ruleset.AttackNone && ag.Mode != "" {
		hit, mult, lines := g.Attack(s, *ag, sourceID, targetID, def.ID)
		out.Trace = append(out.Trace, lines...)
		if !hit {
			out.Allowed = false
			return out
		}
		out.CritMultiplier = mult
	}
	return out
}

// SpellResistance rolls d20 + the source's caster level against sr. A
// natural 20 always overcomes it.
func (g *Evaluator) SpellResistance(s *state.GameState, sourceID string, sr int) (bool, string) {
	cl := 0
	if src, ok := s.Actor(sourceID); ok {
		cl = src.CasterLevel("")
	}
	nat := g.roller(s).D20("spell resistance")
	total := nat + cl
	passed := nat == 20 || total >= sr
	verdict := "resisted"
	if passed {
		verdict = "overcome"
	}
	return passed, fmt.Sprintf("SR: d20 %d + CL %d = %d vs SR %d: %s", nat, cl, total, sr, verdict)
}

// DC evaluates a DC formula with the source as actor and the target as
// target. A failing formula logs a warning and yields 0.
func (g *Evaluator) DC(s *state.GameState, formula, sourceID, targetID string) int {
	ctx, err := g.context(s, sourceID, targetID)
	if err == nil {
		var dc int
		if dc, err = g.eval.EvaluateInt(formula, ctx); err == nil {
			return dc
		}
	}
	g.logger.Warn("DC evaluation failed", zap.String("formula", formula), zap.Error(err))
	return 0
}

func (g *Evaluator) context(s *state.GameState, sourceID, targetID string) (expr.Context, error) {
	var ctx expr.Context
	src, err := g.stats.Subject(s, sourceID)
	if err != nil {
		return ctx, err
	}
	ctx.Actor = src
	if tgt, err := g.stats.Subject(s, targetID); err == nil {
		ctx.Target = tgt
	}
	return ctx, nil
}

// SaveCheck describes one saving throw.
type SaveCheck struct {
	Type        string
	DC          int
	SourceID    string
	TargetID    string
	Label       string
	Descriptors []string
}

// Save rolls the target's saving throw, consulting its on.save hooks. A
// natural 1 always fails and a natural 20 always succeeds unless a hook
// forces the outcome.
func (g *Evaluator) Save(s *state.GameState, c SaveCheck) (bool, []string) {
	res, err := g.stats.Resolve(s, c.TargetID)
	if err != nil {
		return false, []string{fmt.Sprintf("save: %v", err)}
	}
	attrs := map[string]string{"save": c.Type, "source": c.SourceID, "effect": c.Label}
	for _, d := range c.Descriptors {
		attrs["descriptor."+d] = "true"
	}
	dec := g.dispatch.Dispatch(s, hooks.Event{Scope: ruleset.ScopeOnSave, Event: c.Type, ActorID: c.TargetID, Attrs: attrs})
	lines := dec.Lines

	r := g.roller(s)
	nat := r.D20(c.Type + " save")
	if dec.Reroll != "" {
		again := r.D20(c.Type + " save reroll")
		kept := keep(nat, again, dec.Reroll)
		lines = append(lines, fmt.Sprintf("%s save reroll: %d and %d, keep %s %d", c.Type, nat, again, dec.Reroll, kept))
		nat = kept
	}
	bonus := res.Saves[c.Type] + dec.Add
	total := nat + bonus
	ok := total >= c.DC
	switch {
	case dec.Outcome == ruleset.OutcomeSuccess:
		ok = true
	case dec.Outcome == ruleset.OutcomeFail:
		ok = false
	case nat == 1:
		ok = false
	case nat == 20:
		ok = true
	}
	verdict := "fails"
	if ok {
		verdict = "succeeds"
	}
	lines = append(lines, fmt.Sprintf("%s save: d20 %d %+d = %d vs DC %d: %s", c.Type, nat, bonus, total, c.DC, verdict))
	return ok, lines
}

// Attack rolls sourceID's attack against targetID. It returns whether the
// attack hit and the critical multiplier (1 when no critical was confirmed).
func (g *Evaluator) Attack(s *state.GameState, ag ruleset.AttackGate, sourceID, targetID, label string) (bool, int, []string) {
	atk, err := g.stats.Resolve(s, sourceID)
	if err != nil {
		return false, 1, []string{fmt.Sprintf("attack: %v", err)}
	}
	def, err := g.stats.Resolve(s, targetID)
	if err != nil {
		return false, 1, []string{fmt.Sprintf("attack: %v", err)}
	}
	src, _ := s.Actor(sourceID)
	tgt, _ := s.Actor(targetID)
	weapon := src.Weapon()

	bonus := atk.Melee
	if ag.Ranged() {
		bonus = atk.Ranged
	}
	ac := def.ACFor(ag.AC)

	attrs := map[string]string{"mode": ag.Mode, "effect": label, "role": "attacker", "other": targetID}
	mine := g.dispatch.Dispatch(s, hooks.Event{Scope: ruleset.ScopeOnAttack, ActorID: sourceID, Attrs: attrs})
	attrs = map[string]string{"mode": ag.Mode, "effect": label, "role": "defender", "other": sourceID}
	theirs := g.dispatch.Dispatch(s, hooks.Event{Scope: ruleset.ScopeOnAttack, ActorID: targetID, Attrs: attrs})
	lines := append(mine.Lines, theirs.Lines...)
	bonus += mine.Add + theirs.Add

	r := g.roller(s)
	nat := r.D20("attack")
	for _, dec := range []hooks.Decision{mine, theirs} {
		if dec.Reroll == "" {
			continue
		}
		again := r.D20("attack reroll")
		kept := keep(nat, again, dec.Reroll)
		lines = append(lines, fmt.Sprintf("attack reroll: %d and %d, keep %s %d", nat, again, dec.Reroll, kept))
		nat = kept
	}

	total := nat + bonus
	hit := total >= ac
	switch {
	case nat == 1:
		hit = false
	case nat == 20:
		hit = true
	}
	for _, forced := range []string{mine.Outcome, theirs.Outcome} {
		switch forced {
		case ruleset.OutcomeHit:
			hit = true
		case ruleset.OutcomeMiss:
			hit = false
		}
	}
	verdict := "misses"
	if hit {
		verdict = "hits"
	}
	lines = append(lines, fmt.Sprintf("attack (%s): d20 %d %+d = %d vs AC %d: %s", ag.Mode, nat, bonus, total, ac, verdict))
	if !hit {
		return false, 1, lines
	}

	if chance := def.MissChance(); chance > 0 {
		roll := r.D100("concealment")
		if roll <= chance {
			lines = append(lines, fmt.Sprintf("concealment: d100 %d <= %d%%: miss", roll, chance))
			return false, 1, lines
		}
		lines = append(lines, fmt.Sprintf("concealment: d100 %d > %d%%: hit stands", roll, chance))
	}

	mult := 1
	critImmune := tgt.HasTag("crit_immune") || def.HasTag("crit_immune")
	if !ag.NoCrit && !critImmune && nat >= weapon.ThreatRange {
		confirm := r.D20("critical confirmation")
		ctotal := confirm + bonus
		confirmed := confirm == 20 || (confirm != 1 && ctotal >= ac)
		if confirmed {
			mult = weapon.CritMultiplier
			lines = append(lines, fmt.Sprintf("critical threat confirmed: d20 %d %+d = %d vs AC %d: x%d", confirm, bonus, ctotal, ac, mult))
		} else {
			lines = append(lines, fmt.Sprintf("critical threat not confirmed: d20 %d %+d = %d vs AC %d", confirm, bonus, ctotal, ac))
		}
	}
	return true, mult, lines
}

func keep(a, b int, which string) int {
	if which == "lower" {
		return min(a, b)
	}
	return max(a, b)
}
