// Package modifier resolves a numeric base and a set of typed or untyped
// modifiers into the ruleset-correct total.
//
// Resolution always runs in this order, regardless of authoring order:
//
//  1. set/replace override the running value (last one wins)
//  2. additive modifiers, grouped by bonus type: a typed group keeps only its
//     largest value; dodge always stacks; untyped entries stack unless they
//     share a source key, in which case only the larger counts
//  3. multiply/divide factors are multiplied together and applied once
//  4. min (lower bound) and max (upper bound) are intersected
//  5. cap/clamp apply as a final upper bound
//
// The result is rounded down.
package modifier

import (
	"fmt"
	"math"
	"strings"

	"github.com/cory-johannsen/d20rules/internal/game/ruleset"
)

// Applied is a modifier whose value has already been evaluated.
type Applied struct {
	Op        ruleset.ModOp
	Value     float64
	BonusType string
	SourceKey string
	// Source labels where the modifier came from, for traces.
	Source string
}

// Status describes what happened to one contribution during resolution.
type Status string

// Contribution statuses.
const (
	StatusWon        Status = "won"
	StatusStacked    Status = "stacked"
	StatusSuppressed Status = "suppressed"
	StatusOverridden Status = "overridden"
	StatusApplied    Status = "applied"
	StatusIgnored    Status = "ignored"
)

// Contribution is one modifier's entry in a Trace.
type Contribution struct {
	Applied
	Stage  int
	Status Status
}

// Trace explains how a value was resolved.
type Trace struct {
	Path          string
	Base          int
	Final         int
	Contributions []Contribution
}

// Resolve returns the total of base with mods applied.
func Resolve(base int, mods []Applied) int {
	return Explain("", base, mods).Final
}

// Explain resolves base with mods and records every contribution in stage
// order, marking which entries won, stacked or were suppressed.
func Explain(path string, base int, mods []Applied) Trace {
	t := Trace{Path: path, Base: base}
	running := float64(base)

	// Stage 1: overrides.
	lastSet := -1
	for i, m := range mods {
		if m.Op == ruleset.OpSet || m.Op == ruleset.OpReplace {
			lastSet = i
		}
	}
	for i, m := range mods {
		if m.Op != ruleset.OpSet && m.Op != ruleset.OpReplace {
			continue
		}
		st := StatusOverridden
		if i == lastSet {
			st = StatusWon
			running = m.Value
		}
		t.Contributions = append(t.Contributions, Contribution{Applied: m, Stage: 1, Status: st})
	}

	// Stage 2: additive stacking.
	var additive []Applied
	for _, m := range mods {
		switch m.Op {
		case ruleset.OpAdd:
			additive = append(additive, m)
		case ruleset.OpSubtract:
			m.Value = -m.Value
			additive = append(additive, m)
		}
	}
	sum, contribs := stack(additive)
	running += sum
	t.Contributions = append(t.Contributions, contribs...)

	// Stage 3: factors.
	factor := 1.0
	for _, m := range mods {
		switch m.Op {
		case ruleset.OpMultiply:
			factor *= m.Value
			t.Contributions = append(t.Contributions, Contribution{Applied: m, Stage: 3, Status: StatusApplied})
		case ruleset.OpDivide:
			st := StatusApplied
			if m.Value == 0 {
				st = StatusIgnored
			} else {
				factor /= m.Value
			}
			t.Contributions = append(t.Contributions, Contribution{Applied: m, Stage: 3, Status: st})
		}
	}
	running *= factor

	// Stage 4: bounds.
	lo, hi := math.Inf(-1), math.Inf(1)
	loIdx, hiIdx := -1, -1
	for i, m := range mods {
		switch m.Op {
		case ruleset.OpMin:
			if m.Value > lo {
				lo, loIdx = m.Value, i
			}
		case ruleset.OpMax:
			if m.Value < hi {
				hi, hiIdx = m.Value, i
			}
		}
	}
	for i, m := range mods {
		if m.Op != ruleset.OpMin && m.Op != ruleset.OpMax {
			continue
		}
		st := StatusSuppressed
		if i == loIdx || i == hiIdx {
			st = StatusWon
		}
		t.Contributions = append(t.Contributions, Contribution{Applied: m, Stage: 4, Status: st})
	}
	running = math.Min(math.Max(running, lo), hi)

	// Stage 5: caps.
	capAt := math.Inf(1)
	capIdx := -1
	for i, m := range mods {
		if (m.Op == ruleset.OpCap || m.Op == ruleset.OpClamp) && m.Value < capAt {
			capAt, capIdx = m.Value, i
		}
	}
	for i, m := range mods {
		if m.Op != ruleset.OpCap && m.Op != ruleset.OpClamp {
			continue
		}
		st := StatusSuppressed
		if i == capIdx {
			st = StatusWon
		}
		t.Contributions = append(t.Contributions, Contribution{Applied: m, Stage: 5, Status: st})
	}
	running = math.Min(running, capAt)

	t.Final = int(math.Floor(running + 1e-9))
	return t
}

// stack sums additive modifiers under the bonus-type rules.
func stack(mods []Applied) (float64, []Contribution) {
	groups := make(map[string][]int)
	var order []string
	var contribs []Contribution
	sum := 0.0
	for i, m := range mods {
		key, grouped := groupKey(m)
		if !grouped {
			sum += m.Value
			contribs = append(contribs, Contribution{Applied: m, Stage: 2, Status: StatusStacked})
			continue
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}
	for _, key := range order {
		idx := groups[key]
		best := idx[0]
		for _, i := range idx[1:] {
			if mods[i].Value > mods[best].Value {
				best = i
			}
		}
		sum += mods[best].Value
		for _, i := range idx {
			st := StatusSuppressed
			if i == best {
				st = StatusWon
			}
			contribs = append(contribs, Contribution{Applied: mods[i], Stage: 2, Status: st})
		}
	}
	return sum, contribs
}

// groupKey returns the non-stacking group a modifier belongs to; only the
// largest value of a group counts. Dodge always stacks, and untyped modifiers
// group only when they share a source key.
func groupKey(m Applied) (string, bool) {
	switch m.BonusType {
	case "dodge":
		return "", false
	case "", "untyped":
		if m.SourceKey == "" {
			return "", false
		}
		return "untyped#" + m.SourceKey, true
	}
	return m.BonusType, true
}

// Lines renders the trace as human-readable log lines.
func (t Trace) Lines() []string {
	lines := []string{fmt.Sprintf("%s: base %d", t.Path, t.Base)}
	for _, c := range t.Contributions {
		var b strings.Builder
		fmt.Fprintf(&b, "  %s %s", c.Op, formatNumber(c.Value))
		if c.BonusType != "" {
			fmt.Fprintf(&b, " (%s)", c.BonusType)
		}
		if c.Source != "" {
			fmt.Fprintf(&b, " from %s", c.Source)
		}
		fmt.Fprintf(&b, ": %s", c.Status)
		lines = append(lines, b.String())
	}
	lines = append(lines, fmt.Sprintf("%s: final %d", t.Path, t.Final))
	return lines
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%+d", int(v))
	}
	return fmt.Sprintf("%+g", v)
}
