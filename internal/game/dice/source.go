package dice

import (
	"fmt"
	"math/rand/v2"
)

// SeededSource is a replayable Source backed by a PCG generator. Its full
// internal state can be captured with MarshalBinary and restored with
// UnmarshalBinary, so a saved game continues with the same rolls it would
// have produced live.
type SeededSource struct {
	pcg *rand.PCG
	rng *rand.Rand
}

// NewSeededSource returns a SeededSource initialised from seed.
//
// Postcondition: two sources built from the same seed produce identical sequences.
func NewSeededSource(seed uint64) *SeededSource {
	pcg := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &SeededSource{pcg: pcg, rng: rand.New(pcg)}
}

// Intn returns a uniformly distributed int in [0, n).
//
// Precondition: n > 0. Panics with "dice: Intn called with n <= 0" otherwise.
func (s *SeededSource) Intn(n int) int {
	if n <= 0 {
		panic("dice: Intn called with n <= 0")
	}
	return s.rng.IntN(n)
}

// MarshalBinary captures the generator state.
func (s *SeededSource) MarshalBinary() ([]byte, error) {
	return s.pcg.MarshalBinary()
}

// UnmarshalBinary restores a state captured by MarshalBinary.
func (s *SeededSource) UnmarshalBinary(data []byte) error {
	if err := s.pcg.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("dice: restoring source state: %w", err)
	}
	return nil
}

// ScriptedSource replays a fixed list of die faces, cycling when exhausted.
// It exists for tests and for re-running a recorded sequence of rolls.
type ScriptedSource struct {
	faces []int
	next  int
}

// NewScriptedSource returns a source whose successive rolls show faces in order.
//
// Precondition: len(faces) > 0; each face is the 1-based value the die should show.
// Postcondition: Intn(n) returns face-1 clamped into [0, n).
func NewScriptedSource(faces ...int) *ScriptedSource {
	if len(faces) == 0 {
		panic("dice: NewScriptedSource requires at least one face")
	}
	return &ScriptedSource{faces: faces}
}

// Intn returns the next scripted face minus one, clamped into [0, n).
func (s *ScriptedSource) Intn(n int) int {
	if n <= 0 {
		panic("dice: Intn called with n <= 0")
	}
	face := s.faces[s.next%len(s.faces)]
	s.next++
	return min(max(face-1, 0), n-1)
}

// Consumed reports how many rolls have been drawn.
func (s *ScriptedSource) Consumed() int {
	return s.next
}
