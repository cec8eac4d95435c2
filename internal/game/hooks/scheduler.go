package hooks

import (
	"fmt"

	"github.com/cory-johannsen/d20rules/internal/game/ruleset"
	"github.com/cory-johannsen/d20rules/internal/game/state"
)

// Schedule defers ops by delay rounds from the current round.
//
// Precondition: delay >= 1.
func Schedule(s *state.GameState, delay int, inv Invocation, ops ruleset.Ops) {
	s.Enqueue(state.Scheduled{
		Due:      s.Round + max(delay, 1),
		SourceID: inv.SourceID,
		TargetID: inv.TargetID,
		Label:    inv.Label,
		Ops:      ops,
	})
}

// Drain executes every entry due at or before round through exec in
// (due round, enqueue order). Entries whose actors are gone are dropped.
// Operations scheduled while draining wait for a later round.
func Drain(s *state.GameState, round int, exec Executor) []string {
	var lines []string
	for _, e := range s.TakeDue(round) {
		if _, ok := s.Actor(e.TargetID); !ok {
			lines = append(lines, fmt.Sprintf("scheduled %s dropped: target %s is gone", e.Label, e.TargetID))
			continue
		}
		lines = append(lines, fmt.Sprintf("scheduled %s fires (due round %d)", e.Label, e.Due))
		inv := Invocation{SourceID: e.SourceID, TargetID: e.TargetID, Label: e.Label}
		lines = append(lines, exec.Execute(s, inv, e.Ops)...)
	}
	return lines
}
