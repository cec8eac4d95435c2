package gates_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/d20rules/internal/game/actor"
	"github.com/cory-johannsen/d20rules/internal/game/dice"
	"github.com/cory-johannsen/d20rules/internal/game/expr"
	"github.com/cory-johannsen/d20rules/internal/game/gates"
	"github.com/cory-johannsen/d20rules/internal/game/hooks"
	"github.com/cory-johannsen/d20rules/internal/game/ruleset"
	"github.com/cory-johannsen/d20rules/internal/game/state"
	"github.com/cory-johannsen/d20rules/internal/game/stats"
)

type fixture struct {
	gates    *gates.Evaluator
	state    *state.GameState
	registry *hooks.Registry
}

func newFixture(t *testing.T, faces ...int) *fixture {
	t.Helper()
	eval := expr.New(0)
	t.Cleanup(eval.Close)

	content := ruleset.NewContent()
	require.NoError(t, content.AddCondition(&ruleset.EffectDef{
		ID: "cond.invisible", Duration: ruleset.Duration{Type: ruleset.Permanent}, Tags: []string{"invisible"},
	}))

	s := state.New(1)
	if len(faces) > 0 {
		s.UseSource(dice.NewScriptedSource(faces...))
	}
	require.NoError(t, s.AddActor(&actor.Actor{
		ID: "caster", CharacterLevel: 9, BAB: 5,
		Abilities: map[string]actor.AbilityScore{
			actor.Str: {Base: 14}, actor.Dex: {Base: 10}, actor.Wis: {Base: 16},
		},
		CasterLevels: map[string]int{"cleric": 9},
		Equipment: map[string]actor.Item{
			actor.SlotMainHand: {Name: "scimitar", Damage: "1d6", DamageKind: ruleset.DamageSlashing, ThreatRange: 18},
		},
		HP: 50, MaxHP: 50,
	}))
	require.NoError(t, s.AddActor(&actor.Actor{
		ID: "orc", CharacterLevel: 3, BAB: 3,
		Abilities: map[string]actor.AbilityScore{
			actor.Str: {Base: 16}, actor.Dex: {Base: 10}, actor.Con: {Base: 12}, actor.Wis: {Base: 10},
		},
		BaseSaves:    actor.Saves{Fort: 3, Ref: 1, Will: 1},
		NaturalArmor: 3,
		HP:           20, MaxHP: 20,
	}))
	require.NoError(t, s.AddActor(&actor.Actor{
		ID: "dummy", Abilities: map[string]actor.AbilityScore{actor.Dex: {Base: 1}}, HP: 5, MaxHP: 5,
	}))

	resolver := stats.NewResolver(content, eval, nil)
	registry := hooks.NewRegistry()
	dispatch := hooks.NewDispatcher(registry, eval, nil)
	return &fixture{gates: gates.New(resolver, dispatch, eval, nil), state: s, registry: registry}
}

func (f *fixture) setSR(t *testing.T, id string, sr int) {
	t.Helper()
	a, ok := f.state.Actor(id)
	require.True(t, ok)
	a.SR = sr
}

func spell(g ruleset.Gates) *ruleset.EffectDef {
	return &ruleset.EffectDef{ID: "spell.test", AbilityType: ruleset.Spell, Gates: g}
}

func TestEvaluate_NoGatesAllows(t *testing.T) {
	f := newFixture(t)
	out := f.gates.Evaluate(f.state, spell(ruleset.Gates{}), "caster", "orc")
	assert.True(t, out.Allowed)
	assert.InDelta(t, 1.0, out.Scale, 1e-9)
	assert.Equal(t, 1, out.CritMultiplier)
	assert.Empty(t, out.Trace)
}

func TestEvaluate_SpellResistanceBlocks(t *testing.T) {
	f := newFixture(t, 10)
	f.setSR(t, "orc", 20)
	out := f.gates.Evaluate(f.state, spell(ruleset.Gates{SR: true, Save: &ruleset.SaveGate{Type: "will", DC: "15", Branch: ruleset.BranchNegates}}), "caster", "orc")
	assert.False(t, out.Allowed)
	assert.False(t, out.SaveRolled, "save must not run after SR fails")
	require.Len(t, out.Trace, 1)
	assert.Equal(t, "SR: d20 10 + CL 9 = 19 vs SR 20: resisted", out.Trace[0])
}

func TestEvaluate_SpellResistanceNatural20Passes(t *testing.T) {
	f := newFixture(t, 20)
	f.setSR(t, "orc", 40)
	out := f.gates.Evaluate(f.state, spell(ruleset.Gates{SR: true}), "caster", "orc")
	assert.True(t, out.Allowed)
}

func TestEvaluate_SpellResistanceIgnoresSupernatural(t *testing.T) {
	f := newFixture(t)
	f.setSR(t, "orc", 40)
	def := spell(ruleset.Gates{SR: true})
	def.AbilityType = ruleset.Supernatural
	out := f.gates.Evaluate(f.state, def, "caster", "orc")
	assert.True(t, out.Allowed)
	assert.Equal(t, []string{"SR: Su ignores spell resistance"}, out.Trace)
}

func TestEvaluate_SpellResistanceSkippedWithoutSR(t *testing.T) {
	f := newFixture(t)
	out := f.gates.Evaluate(f.state, spell(ruleset.Gates{SR: true}), "caster", "orc")
	assert.True(t, out.Allowed)
	assert.Equal(t, []string{"SR: orc has none"}, out.Trace)
}

func TestEvaluate_SaveNegates(t *testing.T) {
	// will +1, roll 14: 15 vs DC 15 succeeds.
	f := newFixture(t, 14)
	out := f.gates.Evaluate(f.state, spell(ruleset.Gates{Save: &ruleset.SaveGate{Type: "will", DC: "15", Branch: ruleset.BranchNegates}}), "caster", "orc")
	assert.False(t, out.Allowed)
	assert.True(t, out.SaveRolled)
	assert.True(t, out.SaveSucceeded)
	assert.Contains(t, out.Trace, "will save: d20 14 +1 = 15 vs DC 15: succeeds")
}

func TestEvaluate_SaveHalfScales(t *testing.T) {
	f := newFixture(t, 18)
	out := f.gates.Evaluate(f.state, spell(ruleset.Gates{Save: &ruleset.SaveGate{Type: "ref", DC: "15", Branch: ruleset.BranchHalf}}), "caster", "orc")
	assert.True(t, out.Allowed)
	assert.InDelta(t, 0.5, out.Scale, 1e-9)
}

func TestEvaluate_FailedSaveKeepsFullEffect(t *testing.T) {
	f := newFixture(t, 2)
	out := f.gates.Evaluate(f.state, spell(ruleset.Gates{Save: &ruleset.SaveGate{Type: "ref", DC: "15", Branch: ruleset.BranchHalf}}), "caster", "orc")
	assert.True(t, out.Allowed)
	assert.False(t, out.SaveSucceeded)
	assert.InDelta(t, 1.0, out.Scale, 1e-9)
}

func TestSave_NaturalRollsOverrideTotals(t *testing.T) {
	f := newFixture(t, 1, 20)
	ok, _ := f.gates.Save(f.state, gates.SaveCheck{Type: "fort", DC: -10, SourceID: "caster", TargetID: "orc"})
	assert.False(t, ok, "natural 1 fails")
	ok, _ = f.gates.Save(f.state, gates.SaveCheck{Type: "fort", DC: 99, SourceID: "caster", TargetID: "orc"})
	assert.True(t, ok, "natural 20 succeeds")
}

func TestSave_HooksModifyAndReroll(t *testing.T) {
	f := newFixture(t, 3, 12)
	f.registry.Register(hooks.Owner{ID: "inst-1", SourceID: "orc", Label: "feat.iron_will"}, "orc", ruleset.Hook{
		Scope: ruleset.ScopeOnSave, Event: "will",
		Actions: []ruleset.Action{
			{HookAction: ruleset.Modify{Amount: "2"}},
			{HookAction: ruleset.Reroll{Keep: "higher"}},
		},
	})
	ok, lines := f.gates.Save(f.state, gates.SaveCheck{Type: "will", DC: 15, SourceID: "caster", TargetID: "orc"})
	assert.True(t, ok)
	assert.Contains(t, lines, "will save reroll: 3 and 12, keep higher 12")
	assert.Contains(t, lines, "will save: d20 12 +3 = 15 vs DC 15: succeeds")
}

func TestSave_DescriptorMatchedHook(t *testing.T) {
	f := newFixture(t, 10)
	f.registry.Register(hooks.Owner{ID: "inst-1", SourceID: "orc", Label: "cond.fearless"}, "orc", ruleset.Hook{
		Scope:   ruleset.ScopeOnSave,
		Match:   map[string]string{"descriptor.fear": "true"},
		Actions: []ruleset.Action{{HookAction: ruleset.SetOutcome{Outcome: ruleset.OutcomeSuccess}}},
	})
	ok, _ := f.gates.Save(f.state, gates.SaveCheck{Type: "will", DC: 30, SourceID: "caster", TargetID: "orc", Descriptors: []string{"fear", "mind-affecting"}})
	assert.True(t, ok)
}

func TestDC_EvaluatesAgainstSource(t *testing.T) {
	f := newFixture(t)
	dc := f.gates.DC(f.state, "10 + floor(caster_level() / 2) + ability_mod('wis')", "caster", "orc")
	assert.Equal(t, 17, dc)
	assert.Zero(t, f.gates.DC(f.state, "unknown_fn()", "caster", "orc"))
}

func TestAttack_Natural1Misses(t *testing.T) {
	f := newFixture(t, 1)
	hit, mult, lines := f.gates.Attack(f.state, ruleset.AttackGate{Mode: ruleset.AttackMelee}, "caster", "dummy", "strike")
	assert.False(t, hit)
	assert.Equal(t, 1, mult)
	assert.Equal(t, []string{"attack (melee): d20 1 +7 = 8 vs AC 5: misses"}, lines)
}

func TestAttack_ThreatConfirmedUsesWeaponMultiplier(t *testing.T) {
	// 18 threatens with a scimitar; confirmation 10 + 7 = 17 >= 13.
	f := newFixture(t, 18, 10)
	hit, mult, _ := f.gates.Attack(f.state, ruleset.AttackGate{Mode: ruleset.AttackMelee}, "caster", "orc", "strike")
	assert.True(t, hit)
	assert.Equal(t, 2, mult)
}

func TestAttack_ThreatNotConfirmed(t *testing.T) {
	f := newFixture(t, 19, 1)
	hit, mult, lines := f.gates.Attack(f.state, ruleset.AttackGate{Mode: ruleset.AttackMelee}, "caster", "orc", "strike")
	assert.True(t, hit)
	assert.Equal(t, 1, mult)
	assert.Contains(t, lines, "critical threat not confirmed: d20 1 +7 = 8 vs AC 13")
}

func TestAttack_NoCritNeverThreatens(t *testing.T) {
	f := newFixture(t, 20)
	hit, mult, _ := f.gates.Attack(f.state, ruleset.AttackGate{Mode: ruleset.AttackTouchRanged, AC: ruleset.ACTouch, NoCrit: true}, "caster", "orc", "ray")
	assert.True(t, hit)
	assert.Equal(t, 1, mult)
}

func TestAttack_ConcealmentMissChance(t *testing.T) {
	f := newFixture(t, 15, 30, 15, 80)
	id, seq := f.state.NextID("instance")
	f.state.AddInstance(&state.Instance{ID: id, DefinitionID: "cond.invisible", SourceID: "orc", TargetID: "orc", Status: state.StatusActive, Seq: seq})

	hit, _, lines := f.gates.Attack(f.state, ruleset.AttackGate{Mode: ruleset.AttackMelee}, "caster", "orc", "strike")
	assert.False(t, hit)
	assert.Contains(t, lines, "concealment: d100 30 <= 50%: miss")

	hit, _, _ = f.gates.Attack(f.state, ruleset.AttackGate{Mode: ruleset.AttackMelee}, "caster", "orc", "strike")
	assert.True(t, hit)
}

func TestAttack_DefenderHookForcesMiss(t *testing.T) {
	f := newFixture(t, 17)
	f.registry.Register(hooks.Owner{ID: "inst-1", SourceID: "orc", Label: "spell.blink"}, "orc", ruleset.Hook{
		Scope:   ruleset.ScopeOnAttack,
		Match:   map[string]string{"role": "defender"},
		Actions: []ruleset.Action{{HookAction: ruleset.SetOutcome{Outcome: ruleset.OutcomeMiss}}},
	})
	out := f.gates.Evaluate(f.state, spell(ruleset.Gates{Attack: &ruleset.AttackGate{Mode: ruleset.AttackMelee}}), "caster", "orc")
	assert.False(t, out.Allowed)
	assert.Contains(t, out.Trace, "spell.blink: on.attack forces miss")
}
