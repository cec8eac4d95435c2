package dice

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// MaxDice bounds the number of dice one expression may roll.
const MaxDice = 100

// Sizes lists the die sizes content may name.
var Sizes = []int{2, 3, 4, 6, 8, 10, 12, 20, 100}

// Expression is a parsed dice expression. Parse guarantees 1 <= Count <=
// MaxDice, Sides is one of Sizes and 0 <= Keep < Count.
type Expression struct {
	Raw        string
	Count      int
	Sides      int
	Modifier   int
	Keep       int  // keep only the Keep highest dice when > 0
	RerollOnes bool // a die showing 1 is rolled again
}

// String returns the canonical form of e, e.g. "4d6r1kh3+1".
func (e Expression) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%dd%d", e.Count, e.Sides)
	if e.RerollOnes {
		b.WriteString("r1")
	}
	if e.Keep > 0 {
		fmt.Fprintf(&b, "kh%d", e.Keep)
	}
	if e.Modifier != 0 {
		fmt.Fprintf(&b, "%+d", e.Modifier)
	}
	return b.String()
}

// count, sides, reroll, keep clause, keep n, modifier
var grammar = regexp.MustCompile(`^(\d*)d(\d+)(r1)?(?:(kh|dl)(\d+))?([+-]\d+)?$`)

// Parse reads a dice expression of the form [N]dS[r1][khK|dlK][+M|-M].
// "kh3" keeps the three highest dice; "dl1" drops the lowest one, so
// "4d6dl1" and "4d6kh3" are the same roll. Whitespace and case are ignored.
func Parse(expr string) (Expression, error) {
	s := strings.ToLower(strings.Join(strings.Fields(expr), ""))
	if s == "" {
		return Expression{}, fmt.Errorf("dice: empty expression")
	}
	m := grammar.FindStringSubmatch(s)
	if m == nil {
		return Expression{}, fmt.Errorf("dice: %q is not a dice expression", expr)
	}

	e := Expression{Raw: expr, Count: 1, RerollOnes: m[3] != ""}
	var err error
	if m[1] != "" {
		if e.Count, err = strconv.Atoi(m[1]); err != nil {
			return Expression{}, fmt.Errorf("dice: die count in %q: %w", expr, err)
		}
	}
	if e.Count < 1 || e.Count > MaxDice {
		return Expression{}, fmt.Errorf("dice: %q rolls %d dice, want 1..%d", expr, e.Count, MaxDice)
	}
	if e.Sides, err = strconv.Atoi(m[2]); err != nil {
		return Expression{}, fmt.Errorf("dice: die size in %q: %w", expr, err)
	}
	if !slices.Contains(Sizes, e.Sides) {
		return Expression{}, fmt.Errorf("dice: %q uses a d%d, want one of %v", expr, e.Sides, Sizes)
	}

	if m[4] != "" {
		n, err := strconv.Atoi(m[5])
		if err != nil {
			return Expression{}, fmt.Errorf("dice: %s count in %q: %w", m[4], expr, err)
		}
		if m[4] == "dl" {
			n = e.Count - n
		}
		if n <= 0 || n >= e.Count {
			return Expression{}, fmt.Errorf("dice: %q must keep between 1 and %d of its %d dice", expr, e.Count-1, e.Count)
		}
		e.Keep = n
	}

	if m[6] != "" {
		if e.Modifier, err = strconv.Atoi(m[6]); err != nil {
			return Expression{}, fmt.Errorf("dice: modifier in %q: %w", expr, err)
		}
	}
	return e, nil
}
