package dice_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cory-johannsen/d20rules/internal/game/dice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestRollResult_Total verifies the postcondition: Total() == sum(Dice) + Modifier.
func TestRollResult_Total(t *testing.T) {
	r := dice.RollResult{
		Expression: "2d6+3",
		Dice:       []int{4, 5},
		Modifier:   3,
	}
	assert.Equal(t, 12, r.Total(), "Total() must equal sum(Dice)+Modifier")
}

// TestRollResult_String verifies the audit string contains expression, dice, and total.
func TestRollResult_String(t *testing.T) {
	r := dice.RollResult{
		Expression: "2d6+3",
		Dice:       []int{4, 5},
		Modifier:   3,
	}
	s := r.String()
	require.Contains(t, s, "2d6+3", "String() must contain the expression")
	require.Contains(t, s, "[4 5]", "String() must contain the dice results")
	require.Contains(t, s, "12", "String() must contain the total")
	assert.Equal(t, "2d6+3 \u2192 [4 5] +3 = 12", s, "String() must match exact format")
}

// TestRollResult_Total_Property uses property-based testing to verify the
// postcondition Total() == sum(Dice) + Modifier for arbitrary inputs.
func TestRollResult_Total_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dice_ := rapid.SliceOf(rapid.IntRange(1, 20)).Draw(rt, "dice")
		modifier := rapid.Int().Draw(rt, "modifier")

		r := dice.RollResult{
			Expression: "Nd6+M",
			Dice:       dice_,
			Modifier:   modifier,
		}

		expected := modifier
		for _, d := range dice_ {
			expected += d
		}

		assert.Equal(rt, expected, r.Total(),
			"Total() postcondition: must equal sum(Dice)+Modifier")
	})
}

// TestRollResult_String_Property verifies String() always contains the expression
// and the total for arbitrary RollResult values.
func TestRollResult_String_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		expr := rapid.StringMatching(`[0-9]+d[0-9]+[+-][0-9]+`).Draw(rt, "expression")
		dice_ := rapid.SliceOfN(rapid.IntRange(1, 20), 1, 10).Draw(rt, "dice")
		modifier := rapid.IntRange(-100, 100).Draw(rt, "modifier")

		r := dice.RollResult{
			Expression: expr,
			Dice:       dice_,
			Modifier:   modifier,
		}

		s := r.String()
		assert.True(rt, strings.Contains(s, expr),
			"String() must contain the expression %q", expr)
		assert.True(rt, strings.Contains(s, "\u2192"),
			"String() must contain the unicode arrow \u2192")
		assert.Contains(rt, s, fmt.Sprintf("%d", r.Total()),
			"String() must contain the computed total")
	})
}

// TestRollResult_String_PanicsOnEmptyExpression verifies that String() enforces
// its precondition and panics when Expression is empty.
func TestRollResult_String_PanicsOnEmptyExpression(t *testing.T) {
	r := dice.RollResult{Dice: []int{4}, Modifier: 0}
	assert.Panics(t, func() { _ = r.String() })
}

// TestSeededSource_Intn_InRange verifies every value returned by Intn(6) is in [0, 6).
func TestSeededSource_Intn_InRange(t *testing.T) {
	src := dice.NewSeededSource(42)
	for i := 0; i < 1000; i++ {
		v := src.Intn(6)
		assert.GreaterOrEqual(t, v, 0)
		assert.Less(t, v, 6)
	}
}

func TestSeededSource_Intn_PanicsOnZero(t *testing.T) {
	src := dice.NewSeededSource(1)
	assert.Panics(t, func() { src.Intn(0) })
}

func TestSeededSource_SameSeedSameSequence(t *testing.T) {
	a := dice.NewSeededSource(7)
	b := dice.NewSeededSource(7)
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Intn(20), b.Intn(20), "roll %d", i)
	}
}

// TestSeededSource_StateRoundTrip verifies a restored source continues with
// exactly the rolls the original would have produced.
func TestSeededSource_StateRoundTrip(t *testing.T) {
	live := dice.NewSeededSource(99)
	for i := 0; i < 17; i++ {
		live.Intn(20)
	}
	state, err := live.MarshalBinary()
	require.NoError(t, err)

	restored := dice.NewSeededSource(0)
	require.NoError(t, restored.UnmarshalBinary(state))
	for i := 0; i < 50; i++ {
		require.Equal(t, live.Intn(100), restored.Intn(100), "roll %d after restore", i)
	}
}

func TestSeededSource_UnmarshalGarbageFails(t *testing.T) {
	src := dice.NewSeededSource(0)
	assert.Error(t, src.UnmarshalBinary([]byte("nope")))
}

func TestScriptedSource_ReplaysFacesAndCycles(t *testing.T) {
	src := dice.NewScriptedSource(20, 1, 7)
	assert.Equal(t, 19, src.Intn(20))
	assert.Equal(t, 0, src.Intn(20))
	assert.Equal(t, 5, src.Intn(6), "face larger than the die clamps to the top face")
	assert.Equal(t, 19, src.Intn(20))
	assert.Equal(t, 4, src.Consumed())
}

func TestParse_Forms(t *testing.T) {
	cases := []struct {
		in                      string
		count, sides, mod, keep int
		reroll                  bool
		canonical               string
	}{
		{"d20", 1, 20, 0, 0, false, "1d20"},
		{"2d6", 2, 6, 0, 0, false, "2d6"},
		{"2d6+3", 2, 6, 3, 0, false, "2d6+3"},
		{"4d8-2", 4, 8, -2, 0, false, "4d8-2"},
		{"4d6kh3", 4, 6, 0, 3, false, "4d6kh3"},
		{"4d6dl1", 4, 6, 0, 3, false, "4d6kh3"},
		{"4D6r1KH3 + 1", 4, 6, 1, 3, true, "4d6r1kh3+1"},
		{"2d20kh1", 2, 20, 0, 1, false, "2d20kh1"},
		{"d100", 1, 100, 0, 0, false, "1d100"},
	}
	for _, tc := range cases {
		e, err := dice.Parse(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.count, e.Count, tc.in)
		assert.Equal(t, tc.sides, e.Sides, tc.in)
		assert.Equal(t, tc.mod, e.Modifier, tc.in)
		assert.Equal(t, tc.keep, e.Keep, tc.in)
		assert.Equal(t, tc.reroll, e.RerollOnes, tc.in)
		assert.Equal(t, tc.canonical, e.String(), tc.in)
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"":       "empty expression",
		"20":     "not a dice expression",
		"2dx":    "not a dice expression",
		"2d6+x":  "not a dice expression",
		"2d6+":   "not a dice expression",
		"2d6kh":  "not a dice expression",
		"0d6":    "want 1..100",
		"101d6":  "want 1..100",
		"2d1":    "uses a d1",
		"3d7":    "uses a d7",
		"4d6kh4": "must keep between 1 and 3",
		"4d6dl4": "must keep between 1 and 3",
		"d20kh1": "must keep between 1 and 0",
	}
	for in, want := range cases {
		_, err := dice.Parse(in)
		assert.ErrorContains(t, err, want, in)
	}
}

func TestRoll_KeepHighestReportsDropped(t *testing.T) {
	res, err := dice.RollExpr("4d6kh3", dice.NewScriptedSource(2, 6, 1, 5))
	require.NoError(t, err)
	assert.Equal(t, []int{6, 5, 2}, res.Dice)
	assert.Equal(t, []int{1}, res.Dropped)
	assert.Equal(t, 13, res.Total())
	assert.Equal(t, "4d6kh3 \u2192 [6 5 2] drop [1] +0 = 13", res.String())
}

func TestRoll_RerollOnes(t *testing.T) {
	src := dice.NewScriptedSource(1, 1, 4, 3)
	res, err := dice.RollExpr("2d6r1", src)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 3}, res.Dice)
	assert.Equal(t, 4, src.Consumed())
}

func TestRoll_RerollOnesTerminatesOnEndlessOnes(t *testing.T) {
	res, err := dice.RollExpr("d6r1", dice.NewScriptedSource(1))
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Dice)
}

func TestRoll_RejectsUnparsedExpression(t *testing.T) {
	_, err := dice.Roll(dice.Expression{}, dice.NewScriptedSource(1))
	assert.ErrorContains(t, err, "cannot roll unparsed expression")
	_, err = dice.Roll(dice.Expression{Count: 2, Sides: 6, Keep: 2}, dice.NewScriptedSource(1))
	assert.Error(t, err)
}

func TestPropertyRoll_KeepPartitionsDice(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		count := rapid.IntRange(2, 12).Draw(rt, "count")
		keep := rapid.IntRange(1, count-1).Draw(rt, "keep")
		sides := rapid.SampledFrom(dice.Sizes).Draw(rt, "sides")
		seed := rapid.Uint64().Draw(rt, "seed")

		e, err := dice.Parse(fmt.Sprintf("%dd%dkh%d", count, sides, keep))
		require.NoError(rt, err)
		res, err := dice.Roll(e, dice.NewSeededSource(seed))
		require.NoError(rt, err)
		require.Len(rt, res.Dice, keep)
		require.Len(rt, res.Dropped, count-keep)
		for _, d := range res.Dropped {
			if d > res.Dice[keep-1] {
				rt.Fatalf("dropped %d above kept %v", d, res.Dice)
			}
		}
		for _, d := range append(res.Dice, res.Dropped...) {
			if d < 1 || d > sides {
				rt.Fatalf("die %d outside d%d", d, sides)
			}
		}
	})
}

func TestPropertyParse_CanonicalFormReparses(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		e := dice.Expression{
			Count:      rapid.IntRange(1, dice.MaxDice).Draw(rt, "count"),
			Sides:      rapid.SampledFrom(dice.Sizes).Draw(rt, "sides"),
			Modifier:   rapid.IntRange(-20, 20).Draw(rt, "mod"),
			RerollOnes: rapid.Bool().Draw(rt, "reroll"),
		}
		if e.Count > 1 {
			e.Keep = rapid.IntRange(0, e.Count-1).Draw(rt, "keep")
		}
		back, err := dice.Parse(e.String())
		require.NoError(rt, err)
		back.Raw = ""
		assert.Equal(rt, e, back)
	})
}

func TestRollExpr_UsesSource(t *testing.T) {
	res, err := dice.RollExpr("2d6+3", dice.NewScriptedSource(4, 5))
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, res.Dice)
	assert.Equal(t, 12, res.Total())
}

func TestRoller_DieLogsAndStaysInRange(t *testing.T) {
	r := dice.NewLoggedRoller(dice.NewScriptedSource(20, 1), nil)
	assert.Equal(t, 20, r.D20("attack"))
	assert.Equal(t, 1, r.D20("attack"))
	rapid.Check(t, func(rt *rapid.T) {
		seed := rapid.Uint64().Draw(rt, "seed")
		roller := dice.NewLoggedRoller(dice.NewSeededSource(seed), nil)
		v := roller.D100("miss chance")
		if v < 1 || v > 100 {
			rt.Fatalf("d100 out of range: %d", v)
		}
	})
}
