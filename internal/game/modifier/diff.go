package modifier

import (
	"fmt"
	"maps"
	"slices"
)

// Change is one stat path whose resolved value differs between two snapshots.
type Change struct {
	Path   string
	Before int
	After  int
}

// String renders the change as "path: before -> after".
func (c Change) String() string {
	return fmt.Sprintf("%s: %d -> %d", c.Path, c.Before, c.After)
}

// Diff lists the paths whose values differ between before and after, sorted
// by path. A path missing from one side counts as zero.
func Diff(before, after map[string]int) []Change {
	paths := make(map[string]struct{}, len(before)+len(after))
	for p := range before {
		paths[p] = struct{}{}
	}
	for p := range after {
		paths[p] = struct{}{}
	}
	var out []Change
	for _, p := range slices.Sorted(maps.Keys(paths)) {
		if before[p] != after[p] {
			out = append(out, Change{Path: p, Before: before[p], After: after[p]})
		}
	}
	return out
}
