package expr_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/d20rules/internal/game/expr"
)

type stubSubject struct {
	mods    map[string]int
	level   int
	classes map[string]int
	casters map[string]int
	ini     int
	hd      int
}

func (s stubSubject) AbilityMod(a string) int { return s.mods[a] }
func (s stubSubject) Level() int              { return s.level }
func (s stubSubject) ClassLevel(c string) int { return s.classes[c] }
func (s stubSubject) InitiatorLevel() int     { return s.ini }
func (s stubSubject) HitDice() int            { return s.hd }
func (s stubSubject) CasterLevel(c string) int {
	if c != "" {
		return s.casters[c]
	}
	best := 0
	for _, v := range s.casters {
		best = max(best, v)
	}
	return best
}

func cleric() stubSubject {
	return stubSubject{
		mods:    map[string]int{"str": 2, "wis": 3},
		level:   7,
		classes: map[string]int{"cleric": 5, "fighter": 2},
		casters: map[string]int{"cleric": 5},
		ini:     3,
		hd:      7,
	}
}

func newEval(t *testing.T) *expr.Evaluator {
	t.Helper()
	e := expr.New(0)
	t.Cleanup(e.Close)
	return e
}

func TestEvaluate_LevelPlusTwo(t *testing.T) {
	e := newEval(t)
	v, err := e.Evaluate("level()+2", expr.Context{Actor: cleric()})
	require.NoError(t, err)
	assert.Equal(t, 9.0, v)
}

func TestEvaluate_FunctionSet(t *testing.T) {
	e := newEval(t)
	target := stubSubject{mods: map[string]int{"dex": -1}, level: 3, hd: 4}
	ctx := expr.Context{Actor: cleric(), Target: target}

	cases := map[string]float64{
		"ability_mod('wis')":           3,
		"ability_mod('dex', 'target')": -1,
		"class_level('cleric')":        5,
		"class_level('wizard')":        0,
		"caster_level()":               5,
		"caster_level('cleric')":       5,
		"caster_level('target')":       0,
		"initiator_level()":            3,
		"hd('target')":                 4,
		"level('target')":              3,
		"min(10, level())":             7,
		"max(1, floor(level() / 2))":   3,
		"ceil(level() / 2)":            4,
		"10 + floor(caster_level() / 2) + ability_mod('wis')": 15,
	}
	for formula, want := range cases {
		got, err := e.Evaluate(formula, ctx)
		require.NoError(t, err, formula)
		assert.Equal(t, want, got, formula)
	}
}

func TestEvaluate_IntegralResultsNormalized(t *testing.T) {
	e := newEval(t)
	v, err := e.Evaluate("0.1 * 30", expr.Context{})
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	v, err = e.Evaluate("level() / 2", expr.Context{Actor: cleric()})
	require.NoError(t, err)
	assert.Equal(t, 3.5, v)
}

func TestEvaluateInt_RoundsDown(t *testing.T) {
	e := newEval(t)
	v, err := e.EvaluateInt("level() / 2", expr.Context{Actor: cleric()})
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestEvaluate_UnknownIdentifierIsError(t *testing.T) {
	e := newEval(t)
	for _, formula := range []string{"foo", "foo + 1", "bar()", "math.floor(2.5)", "os"} {
		_, err := e.Evaluate(formula, expr.Context{Actor: cleric()})
		assert.ErrorIs(t, err, expr.ErrEvaluation, formula)
	}
}

func TestEvaluate_MalformedSyntaxIsError(t *testing.T) {
	e := newEval(t)
	for _, formula := range []string{"level(", "1 +", "", "1; os.exit()", "return 3"} {
		_, err := e.Evaluate(formula, expr.Context{Actor: cleric()})
		assert.ErrorIs(t, err, expr.ErrSyntax, formula)
	}
}

func TestEvaluate_MissingTargetIsError(t *testing.T) {
	e := newEval(t)
	_, err := e.Evaluate("level('target')", expr.Context{Actor: cleric()})
	assert.ErrorIs(t, err, expr.ErrEvaluation)

	_, err = e.Evaluate("level('ally')", expr.Context{Actor: cleric()})
	assert.ErrorIs(t, err, expr.ErrEvaluation)
}

func TestEvaluate_RunawayFormulaHitsInstructionLimit(t *testing.T) {
	e := expr.New(500)
	defer e.Close()
	_, err := e.Evaluate("(function() while true do end end)()", expr.Context{})
	require.ErrorIs(t, err, expr.ErrEvaluation)

	v, err := e.Evaluate("1 + 1", expr.Context{})
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
}

func TestEvaluate_CachesByFormula(t *testing.T) {
	e := newEval(t)
	ctx := expr.Context{Actor: cleric()}
	for range 5 {
		_, err := e.Evaluate("level() + 1", ctx)
		require.NoError(t, err)
	}
	_, _ = e.Evaluate("level(", ctx)
	_, _ = e.Evaluate("level(", ctx)
	assert.Equal(t, 2, e.Cached())

	_, err := e.Evaluate("7", ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, e.Cached(), "literals bypass the compiler")
}

func TestEvaluate_ContextIsExplicitPerCall(t *testing.T) {
	e := newEval(t)
	a := stubSubject{level: 3}
	b := stubSubject{level: 11}
	va, err := e.Evaluate("level()", expr.Context{Actor: a})
	require.NoError(t, err)
	vb, err := e.Evaluate("level()", expr.Context{Actor: b})
	require.NoError(t, err)
	assert.Equal(t, 3.0, va)
	assert.Equal(t, 11.0, vb)
}

func TestCompile_ReportsSyntaxOnly(t *testing.T) {
	e := newEval(t)
	assert.NoError(t, e.Compile("level() * 2"))
	assert.NoError(t, e.Compile("12"))
	assert.ErrorIs(t, e.Compile("level() *"), expr.ErrSyntax)
}

func TestPropertyEvaluate_IntegerArithmetic(t *testing.T) {
	e := newEval(t)
	rapid.Check(t, func(rt *rapid.T) {
		a := rapid.IntRange(-1000, 1000).Draw(rt, "a")
		b := rapid.IntRange(-1000, 1000).Draw(rt, "b")
		lvl := rapid.IntRange(1, 20).Draw(rt, "level")
		ctx := expr.Context{Actor: stubSubject{level: lvl}}

		v, err := e.Evaluate(fmt.Sprintf("level() + (%d) - (%d)", a, b), ctx)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if v != float64(lvl+a-b) {
			rt.Fatalf("got %v want %d", v, lvl+a-b)
		}
	})
}
