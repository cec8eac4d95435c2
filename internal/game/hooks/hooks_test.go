package hooks_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/d20rules/internal/game/actor"
	"github.com/cory-johannsen/d20rules/internal/game/expr"
	"github.com/cory-johannsen/d20rules/internal/game/hooks"
	"github.com/cory-johannsen/d20rules/internal/game/ruleset"
	"github.com/cory-johannsen/d20rules/internal/game/state"
)

type recordingExecutor struct {
	calls []hooks.Invocation
	ops   []ruleset.Ops
}

func (r *recordingExecutor) Execute(_ *state.GameState, inv hooks.Invocation, ops ruleset.Ops) []string {
	r.calls = append(r.calls, inv)
	r.ops = append(r.ops, ops)
	return []string{fmt.Sprintf("executed %d ops for %s", len(ops), inv.Label)}
}

func act(a ruleset.HookAction) ruleset.Action { return ruleset.Action{HookAction: a} }

func owner(id string) hooks.Owner {
	return hooks.Owner{ID: id, SourceID: "caster", Label: "def." + id}
}

func newState(t *testing.T) *state.GameState {
	t.Helper()
	s := state.New(7)
	for _, id := range []string{"caster", "target"} {
		require.NoError(t, s.AddActor(&actor.Actor{
			ID: id, CharacterLevel: 4, HP: 20, MaxHP: 20,
			Abilities: map[string]actor.AbilityScore{actor.Cha: {Base: 16}},
		}))
	}
	return s
}

func TestMatch_FiltersByScopeActorEventAndPredicate(t *testing.T) {
	r := hooks.NewRegistry()
	r.Register(owner("a"), "target", ruleset.Hook{Scope: ruleset.ScopeIncomingDamage, Event: "pre"})
	r.Register(owner("b"), "target", ruleset.Hook{Scope: ruleset.ScopeIncomingDamage, Event: "post"})
	r.Register(owner("c"), "target", ruleset.Hook{Scope: ruleset.ScopeIncomingDamage, Match: map[string]string{"kind": "fire"}})
	r.Register(owner("d"), "caster", ruleset.Hook{Scope: ruleset.ScopeIncomingDamage})
	r.Register(owner("e"), "target", ruleset.Hook{Scope: ruleset.ScopeOnSave})

	got := r.Match(ruleset.ScopeIncomingDamage, "target", "pre", map[string]string{"kind": "cold"})
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Owner.ID)

	got = r.Match(ruleset.ScopeIncomingDamage, "target", "pre", map[string]string{"kind": "fire"})
	require.Len(t, got, 2)
}

func TestMatch_OrdersByPriorityThenRegistration(t *testing.T) {
	r := hooks.NewRegistry()
	r.Register(owner("late"), "target", ruleset.Hook{Scope: ruleset.ScopeOnSave, Priority: 10})
	r.Register(owner("first"), "target", ruleset.Hook{Scope: ruleset.ScopeOnSave, Priority: -5})
	r.Register(owner("second"), "target", ruleset.Hook{Scope: ruleset.ScopeOnSave})
	r.Register(owner("third"), "target", ruleset.Hook{Scope: ruleset.ScopeOnSave})

	var ids []string
	for _, reg := range r.Match(ruleset.ScopeOnSave, "target", "", nil) {
		ids = append(ids, reg.Owner.ID)
	}
	assert.Equal(t, []string{"first", "second", "third", "late"}, ids)
}

func TestMatch_SkipsSuppressedOwners(t *testing.T) {
	r := hooks.NewRegistry()
	r.Register(owner("live"), "target", ruleset.Hook{Scope: ruleset.ScopeOnSave})
	r.Register(owner("dampened"), "target", ruleset.Hook{Scope: ruleset.ScopeOnSave})
	r.SetSuppressionCheck(func(id string) bool { return id == "dampened" })

	got := r.Match(ruleset.ScopeOnSave, "target", "", nil)
	require.Len(t, got, 1)
	assert.Equal(t, "live", got[0].Owner.ID)
}

func TestRemoveByOwner_ReleasesEveryRegistration(t *testing.T) {
	r := hooks.NewRegistry()
	r.Register(owner("zone"), "caster", ruleset.Hook{Scope: ruleset.ScopeOnSave})
	r.Register(owner("zone"), "target", ruleset.Hook{Scope: ruleset.ScopeOnSave})
	r.Register(owner("other"), "target", ruleset.Hook{Scope: ruleset.ScopeOnSave})

	assert.Equal(t, 1, r.RemoveActor("zone", "target"))
	assert.Len(t, r.Owned("zone"), 1)
	assert.Equal(t, 1, r.RemoveByOwner("zone"))
	assert.Equal(t, 0, r.RemoveByOwner("zone"))
	assert.Equal(t, 1, r.Len())
	assert.Empty(t, r.Match(ruleset.ScopeOnSave, "caster", "", nil))

	r.Reset()
	assert.Zero(t, r.Len())
}

func TestDispatch_FoldsActions(t *testing.T) {
	eval := expr.New(0)
	t.Cleanup(eval.Close)
	s := newState(t)
	r := hooks.NewRegistry()
	exec := &recordingExecutor{}
	d := hooks.NewDispatcher(r, eval, nil)
	d.SetExecutor(exec)

	r.Register(owner("ward"), "target", ruleset.Hook{
		Scope: ruleset.ScopeIncomingDamage, Event: "pre", Priority: 1,
		Actions: []ruleset.Action{
			act(ruleset.Multiply{Factor: 0.5}),
			act(ruleset.Cap{Amount: 20}),
			act(ruleset.Convert{From: "fire", To: "cold"}),
		},
	})
	r.Register(owner("aura"), "target", ruleset.Hook{
		Scope: ruleset.ScopeIncomingDamage, Event: "pre", Priority: 2,
		Actions: []ruleset.Action{
			act(ruleset.Modify{Amount: "ability_mod('cha')"}),
			act(ruleset.Cap{Amount: 10}),
			act(ruleset.Reflect{Percent: 60}),
			act(ruleset.Reflect{Percent: 60}),
			act(ruleset.SetOutcome{Outcome: ruleset.OutcomeBlock}),
			act(ruleset.OperationAction{Op: ruleset.Op{Operation: ruleset.Heal{Amount: "1"}}}),
		},
	})

	dec := d.Dispatch(s, hooks.Event{Scope: ruleset.ScopeIncomingDamage, Event: "pre", ActorID: "target"})
	assert.InDelta(t, 0.5, dec.Factor, 1e-9)
	assert.Equal(t, 10, dec.Cap)
	assert.Equal(t, 3, dec.Add)
	assert.Equal(t, 100, dec.ReflectPercent)
	assert.True(t, dec.Blocked())
	require.Len(t, dec.Conversions, 1)
	assert.Equal(t, "cold", dec.Conversions[0].To)

	require.Len(t, exec.calls, 1)
	assert.Equal(t, hooks.Invocation{SourceID: "caster", TargetID: "target", OwnerID: "aura", Label: "def.aura"}, exec.calls[0])
	assert.Contains(t, dec.Lines, "executed 1 ops for def.aura")
}

func TestDispatch_NoHooksIsNeutral(t *testing.T) {
	eval := expr.New(0)
	t.Cleanup(eval.Close)
	d := hooks.NewDispatcher(hooks.NewRegistry(), eval, nil)
	dec := d.Dispatch(newState(t), hooks.Event{Scope: ruleset.ScopeOnAttack, ActorID: "target"})
	assert.Equal(t, hooks.Decision{Factor: 1, Cap: -1}, dec)
}

func TestDispatch_FailedModifyIsSkipped(t *testing.T) {
	eval := expr.New(0)
	t.Cleanup(eval.Close)
	r := hooks.NewRegistry()
	d := hooks.NewDispatcher(r, eval, nil)
	r.Register(owner("bad"), "target", ruleset.Hook{
		Scope: ruleset.ScopeOnSave,
		Actions: []ruleset.Action{
			act(ruleset.Modify{Amount: "nonsense_fn()"}),
			act(ruleset.Reroll{Keep: "higher"}),
		},
	})
	dec := d.Dispatch(newState(t), hooks.Event{Scope: ruleset.ScopeOnSave, ActorID: "target"})
	assert.Zero(t, dec.Add)
	assert.Equal(t, "higher", dec.Reroll)
}

func TestDrain_RunsDueEntriesInOrder(t *testing.T) {
	s := newState(t)
	exec := &recordingExecutor{}
	s.Round = 1
	hooks.Schedule(s, 2, hooks.Invocation{SourceID: "caster", TargetID: "target", Label: "second"}, ruleset.Ops{})
	hooks.Schedule(s, 1, hooks.Invocation{SourceID: "caster", TargetID: "target", Label: "first"}, ruleset.Ops{})
	hooks.Schedule(s, 1, hooks.Invocation{SourceID: "caster", TargetID: "ghost", Label: "orphan"}, ruleset.Ops{})

	s.Round = 2
	lines := hooks.Drain(s, 2, exec)
	require.Len(t, exec.calls, 1)
	assert.Equal(t, "first", exec.calls[0].Label)
	assert.Contains(t, lines, "scheduled orphan dropped: target ghost is gone")

	s.Round = 3
	hooks.Drain(s, 3, exec)
	require.Len(t, exec.calls, 2)
	assert.Equal(t, "second", exec.calls[1].Label)
	assert.Empty(t, s.Pending())
}

// TestPropertyMatch_SortedByPriority checks that Match always returns hooks in
// non-decreasing priority with registration order breaking ties.
func TestPropertyMatch_SortedByPriority(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r := hooks.NewRegistry()
		n := rapid.IntRange(0, 20).Draw(rt, "n")
		for i := range n {
			p := rapid.IntRange(-3, 3).Draw(rt, "priority")
			r.Register(owner(fmt.Sprint(i)), "target", ruleset.Hook{Scope: ruleset.ScopeOnAttack, Priority: p})
		}
		got := r.Match(ruleset.ScopeOnAttack, "target", "", nil)
		if len(got) != n {
			rt.Fatalf("matched %d of %d", len(got), n)
		}
		for i := 1; i < len(got); i++ {
			a, b := got[i-1], got[i]
			if a.Hook.Priority > b.Hook.Priority || (a.Hook.Priority == b.Hook.Priority && a.ID > b.ID) {
				rt.Fatalf("out of order at %d: %+v before %+v", i, a, b)
			}
		}
	})
}
