package stats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/d20rules/internal/game/actor"
	"github.com/cory-johannsen/d20rules/internal/game/expr"
	"github.com/cory-johannsen/d20rules/internal/game/modifier"
	"github.com/cory-johannsen/d20rules/internal/game/ruleset"
	"github.com/cory-johannsen/d20rules/internal/game/state"
	"github.com/cory-johannsen/d20rules/internal/game/stats"
)

func content(t *testing.T) *ruleset.Content {
	t.Helper()
	c := ruleset.NewContent()
	require.NoError(t, c.AddEffect(&ruleset.EffectDef{
		ID: "spell.bulls_strength", AbilityType: ruleset.Spell,
		Duration: ruleset.Duration{Type: ruleset.Minutes, Value: "level()"},
		Modifiers: []ruleset.Modifier{
			{Target: "abilities.str", Op: ruleset.OpAdd, Value: "4", BonusType: "enhancement"},
		},
	}))
	require.NoError(t, c.AddEffect(&ruleset.EffectDef{
		ID: "spell.bless", AbilityType: ruleset.Spell,
		Duration: ruleset.Duration{Type: ruleset.Minutes, Value: "level()"},
		Modifiers: []ruleset.Modifier{
			{Target: ruleset.PathAttackAll, Op: ruleset.OpAdd, Value: "1", BonusType: "morale"},
			{Target: ruleset.PathSaveAll, Op: ruleset.OpAdd, Value: "1", BonusType: "morale"},
		},
	}))
	require.NoError(t, c.AddEffect(&ruleset.EffectDef{
		ID: "spell.shield_of_faith", AbilityType: ruleset.Spell,
		Duration: ruleset.Duration{Type: ruleset.Minutes, Value: "level()"},
		Modifiers: []ruleset.Modifier{
			{Target: ruleset.PathACDeflection, Op: ruleset.OpAdd, Value: "2 + floor(caster_level() / 6)", BonusType: "deflection"},
		},
	}))
	require.NoError(t, c.AddEffect(&ruleset.EffectDef{
		ID: "spell.stoneskin", AbilityType: ruleset.Spell,
		Duration: ruleset.Duration{Type: ruleset.Minutes, Value: "10"},
		Modifiers: []ruleset.Modifier{
			{Target: "dr.adamantine", Op: ruleset.OpAdd, Value: "10"},
			{Target: "resist.fire", Op: ruleset.OpAdd, Value: "bogus_fn()"},
		},
	}))
	require.NoError(t, c.AddEffect(&ruleset.EffectDef{
		ID: "spell.kindling_curse", AbilityType: ruleset.Spell,
		Duration:  ruleset.Duration{Type: ruleset.Rounds, Value: "3"},
		Modifiers: []ruleset.Modifier{{Target: ruleset.VulnPath("fire"), Op: ruleset.OpSet, Value: "150"}},
	}))
	require.NoError(t, c.AddEffect(&ruleset.EffectDef{
		ID: "spell.warm_ward", AbilityType: ruleset.Spell,
		Duration:  ruleset.Duration{Type: ruleset.Rounds, Value: "3"},
		Modifiers: []ruleset.Modifier{{Target: ruleset.VulnPath("cold"), Op: ruleset.OpSet, Value: "100"}},
	}))
	require.NoError(t, c.AddCondition(&ruleset.EffectDef{
		ID: "cond.flat_footed", Duration: ruleset.Duration{Type: ruleset.Permanent},
		Tags: []string{"flat_footed"},
	}))
	require.NoError(t, c.AddCondition(&ruleset.EffectDef{
		ID: "cond.invisible", Duration: ruleset.Duration{Type: ruleset.Permanent},
		Tags: []string{"invisible"},
	}))
	return c
}

func hero() *actor.Actor {
	return &actor.Actor{
		ID: "hero", Name: "Hero",
		Abilities: map[string]actor.AbilityScore{
			actor.Str: {Base: 14}, actor.Dex: {Base: 16}, actor.Con: {Base: 12},
			actor.Int: {Base: 10}, actor.Wis: {Base: 13}, actor.Cha: {Base: 8},
		},
		CharacterLevel: 6,
		CasterLevels:   map[string]int{"cleric": 6},
		BAB:            4,
		BaseSaves:      actor.Saves{Fort: 5, Ref: 2, Will: 5},
		Speed:          30,
		Equipment: map[string]actor.Item{
			actor.SlotArmor:    {Name: "chain shirt", ArmorBonus: 4, MaxDex: intPtr(4)},
			actor.SlotMainHand: {Name: "longsword", Damage: "1d8", DamageKind: ruleset.DamageSlashing, Enhancement: 1},
		},
		Resistances: map[string]int{"cold": 5},
		HP:          40, MaxHP: 40,
	}
}

func intPtr(v int) *int { return &v }

func attach(s *state.GameState, def string, suppressed bool) {
	id, seq := s.NextID("instance")
	s.AddInstance(&state.Instance{
		ID: id, DefinitionID: def, SourceID: "hero", TargetID: "hero",
		Status: state.StatusActive, Suppressed: suppressed, Seq: seq,
	})
}

func setup(t *testing.T) (*stats.Resolver, *state.GameState) {
	t.Helper()
	eval := expr.New(0)
	t.Cleanup(eval.Close)
	s := state.New(1)
	require.NoError(t, s.AddActor(hero()))
	return stats.NewResolver(content(t), eval, nil), s
}

func TestResolve_BaseValues(t *testing.T) {
	r, s := setup(t)
	res, err := r.Resolve(s, "hero")
	require.NoError(t, err)

	assert.Equal(t, 14, res.Abilities[actor.Str])
	assert.Equal(t, 3, res.AbilityMods[actor.Dex])
	assert.Equal(t, 17, res.AC, "10 + armor 4 + dex 3")
	assert.Equal(t, 13, res.TouchAC)
	assert.Equal(t, 14, res.FlatFooted)
	assert.Equal(t, 6, res.Saves["fort"])
	assert.Equal(t, 5, res.Saves["ref"])
	assert.Equal(t, 6, res.Saves["will"])
	assert.Equal(t, 4, res.BAB)
	assert.Equal(t, 7, res.Melee, "bab 4 + str 2 + enhancement 1")
	assert.Equal(t, 7, res.Ranged, "bab 4 + dex 3")
	assert.Equal(t, 30, res.Speed)
	assert.Equal(t, map[string]int{"cold": 5}, res.Resist)
}

func TestResolve_ActiveModifiersApplyAndFeedDerivedStats(t *testing.T) {
	r, s := setup(t)
	attach(s, "spell.bulls_strength", false)
	attach(s, "spell.bless", false)
	attach(s, "spell.shield_of_faith", false)

	res, err := r.Resolve(s, "hero")
	require.NoError(t, err)
	assert.Equal(t, 18, res.Abilities[actor.Str])
	assert.Equal(t, 10, res.Melee, "bab 4 + str 4 + enhancement 1 + morale 1")
	assert.Equal(t, 8, res.Ranged)
	assert.Equal(t, 7, res.Saves["fort"])
	assert.Equal(t, 20, res.AC, "deflection 2 + floor(6/6)")
	assert.Equal(t, 16, res.TouchAC)
}

func TestResolve_SuppressedInstancesContributeNothing(t *testing.T) {
	r, s := setup(t)
	attach(s, "spell.bulls_strength", true)
	res, err := r.Resolve(s, "hero")
	require.NoError(t, err)
	assert.Equal(t, 14, res.Abilities[actor.Str])
}

func TestResolve_FlatFootedTagDeniesDexAndDodge(t *testing.T) {
	r, s := setup(t)
	attach(s, "cond.flat_footed", false)
	res, err := r.Resolve(s, "hero")
	require.NoError(t, err)
	assert.Equal(t, 14, res.AC)
	assert.True(t, res.HasTag("flat_footed"))
}

func TestResolve_DRPathsAndFailedFormulasCountAsZero(t *testing.T) {
	r, s := setup(t)
	attach(s, "spell.stoneskin", false)
	res, err := r.Resolve(s, "hero")
	require.NoError(t, err)
	assert.Equal(t, []actor.DR{{Value: 10, Bypass: "adamantine"}}, res.DR)
	_, hasFire := res.Resist["fire"]
	assert.False(t, hasFire)
	assert.Equal(t, 10, res.Flatten()["dr.adamantine"])
}

func TestResolve_VulnerabilityFollowsActiveEffects(t *testing.T) {
	r, s := setup(t)
	a, _ := s.Actor("hero")
	a.Vulnerabilities = map[string]float64{"cold": 1.5}

	res, err := r.Resolve(s, "hero")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"cold": 150}, res.Vuln)

	attach(s, "spell.kindling_curse", false)
	attach(s, "spell.warm_ward", false)
	res, err = r.Resolve(s, "hero")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"fire": 150}, res.Vuln)
	assert.Equal(t, 150, res.Flatten()["vuln.fire"])
}

func TestResolve_MissChanceFromConcealmentTags(t *testing.T) {
	r, s := setup(t)
	res, err := r.Resolve(s, "hero")
	require.NoError(t, err)
	assert.Zero(t, res.MissChance())

	attach(s, "cond.invisible", false)
	res, err = r.Resolve(s, "hero")
	require.NoError(t, err)
	assert.Equal(t, 50, res.MissChance())
}

func TestResolve_UnknownActor(t *testing.T) {
	r, s := setup(t)
	_, err := r.Resolve(s, "nobody")
	assert.ErrorIs(t, err, stats.ErrUnknownActor)
}

func TestExplain_ShowsWinningBonus(t *testing.T) {
	r, s := setup(t)
	attach(s, "spell.bulls_strength", false)
	tr, err := r.Explain(s, "hero", "abilities.str")
	require.NoError(t, err)
	assert.Equal(t, 14, tr.Base)
	assert.Equal(t, 18, tr.Final)
	require.Len(t, tr.Contributions, 1)
	assert.Equal(t, modifier.StatusWon, tr.Contributions[0].Status)
	assert.Equal(t, "spell.bulls_strength", tr.Contributions[0].Source)

	_, err = r.Explain(s, "hero", "abilities.luck")
	assert.ErrorIs(t, err, stats.ErrUnknownPath)
}

func TestSubject_UsesResolvedAbilityModifiers(t *testing.T) {
	r, s := setup(t)
	attach(s, "spell.bulls_strength", false)
	subj, err := r.Subject(s, "hero")
	require.NoError(t, err)
	assert.Equal(t, 4, subj.AbilityMod(actor.Str))
	assert.Equal(t, 6, subj.Level())
}

func TestFlatten_FeedsDiff(t *testing.T) {
	r, s := setup(t)
	before, err := r.Resolve(s, "hero")
	require.NoError(t, err)
	attach(s, "spell.bulls_strength", false)
	after, err := r.Resolve(s, "hero")
	require.NoError(t, err)

	changes := modifier.Diff(before.Flatten(), after.Flatten())
	require.Len(t, changes, 2)
	assert.Equal(t, "abilities.str: 14 -> 18", changes[0].String())
	assert.Equal(t, "attack.melee.bonus: 7 -> 9", changes[1].String())
}
