package dice

import (
	"fmt"
	"slices"
)

// maxRerolls bounds r1 rerolls per die so a scripted source of all ones
// still terminates; the last face stands.
const maxRerolls = 20

// Roll evaluates expr with src. Kept dice are reported highest first when
// a keep clause applies, in roll order otherwise; discarded dice go to
// Dropped.
//
// Postcondition: len(Dice)+len(Dropped) == expr.Count.
func Roll(expr Expression, src Source) (RollResult, error) {
	if expr.Count < 1 || expr.Count > MaxDice || expr.Sides < 2 || expr.Keep < 0 || (expr.Keep > 0 && expr.Keep >= expr.Count) {
		return RollResult{}, fmt.Errorf("dice: cannot roll unparsed expression %+v", expr)
	}
	rolled := make([]int, expr.Count)
	for i := range rolled {
		rolled[i] = src.Intn(expr.Sides) + 1
		for n := 0; expr.RerollOnes && rolled[i] == 1 && n < maxRerolls; n++ {
			rolled[i] = src.Intn(expr.Sides) + 1
		}
	}

	res := RollResult{Expression: expr.Raw, Dice: rolled, Modifier: expr.Modifier}
	if res.Expression == "" {
		res.Expression = expr.String()
	}
	if expr.Keep > 0 {
		slices.SortStableFunc(rolled, func(a, b int) int { return b - a })
		res.Dice, res.Dropped = rolled[:expr.Keep:expr.Keep], rolled[expr.Keep:]
	}
	return res, nil
}

// RollExpr parses expr and rolls it with src.
func RollExpr(expr string, src Source) (RollResult, error) {
	e, err := Parse(expr)
	if err != nil {
		return RollResult{}, err
	}
	return Roll(e, src)
}
