package state

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"

	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/d20rules/internal/game/actor"
	"github.com/cory-johannsen/d20rules/internal/game/dice"
)

// SnapshotVersion is the current snapshot schema version.
const SnapshotVersion = 1

// Snapshot is the persisted form of a GameState. It round-trips everything
// the engine needs, including the random source, so continuing a restored
// game is bit-identical to continuing the live one. Registered hooks are not
// stored; they are rebuilt from instances and zones on restore.
type Snapshot struct {
	Version   int            `yaml:"version"`
	Round     int            `yaml:"round"`
	Seq       uint64         `yaml:"seq"`
	RNG       string         `yaml:"rng"`
	Actors    []*actor.Actor `yaml:"actors"`
	Instances []Instance     `yaml:"instances"`
	Resources []Resource     `yaml:"resources"`
	Zones     []Zone         `yaml:"zones"`
	Queue     []Scheduled    `yaml:"queue"`
}

// Snapshot captures a deep copy of s.
func (s *GameState) Snapshot() (Snapshot, error) {
	rng, err := s.rng.MarshalBinary()
	if err != nil {
		return Snapshot{}, fmt.Errorf("capturing random source: %w", err)
	}
	snap := Snapshot{
		Version: SnapshotVersion,
		Round:   s.Round,
		Seq:     s.seq,
		RNG:     base64.StdEncoding.EncodeToString(rng),
		Queue:   slices.Clone(s.queue),
	}
	for _, id := range s.actorOrder {
		snap.Actors = append(snap.Actors, s.actors[id].Clone())
	}
	for _, inst := range s.AllInstances() {
		c := *inst
		c.Vars = maps.Clone(inst.Vars)
		snap.Instances = append(snap.Instances, c)
	}
	for _, r := range s.Resources() {
		snap.Resources = append(snap.Resources, *r)
	}
	for _, z := range s.Zones() {
		c := *z
		c.Members = slices.Clone(z.Members)
		snap.Zones = append(snap.Zones, c)
	}
	return snap, nil
}

// FromSnapshot rebuilds a GameState from snap.
//
// Postcondition: the returned state's Snapshot() equals snap.
func FromSnapshot(snap Snapshot) (*GameState, error) {
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("state: unsupported snapshot version %d", snap.Version)
	}
	s := New(0)
	raw, err := base64.StdEncoding.DecodeString(snap.RNG)
	if err != nil {
		return nil, fmt.Errorf("decoding random source: %w", err)
	}
	src := dice.NewSeededSource(0)
	if err := src.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	s.rng = src
	s.Round = snap.Round
	s.seq = snap.Seq
	for _, a := range snap.Actors {
		if err := s.AddActor(a.Clone()); err != nil {
			return nil, err
		}
	}
	for _, inst := range snap.Instances {
		c := inst
		c.Vars = maps.Clone(inst.Vars)
		if _, ok := s.actors[c.TargetID]; !ok {
			return nil, fmt.Errorf("state: instance %s targets unknown actor %q", c.ID, c.TargetID)
		}
		s.AddInstance(&c)
	}
	for _, r := range snap.Resources {
		c := r
		s.AddResource(&c)
	}
	for _, z := range snap.Zones {
		c := z
		c.Members = slices.Clone(z.Members)
		s.AddZone(&c)
	}
	s.queue = slices.Clone(snap.Queue)
	return s, nil
}

// Encode serialises the snapshot as YAML. Map keys are emitted sorted, so
// equal snapshots encode to identical bytes.
func (snap Snapshot) Encode() ([]byte, error) {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a snapshot produced by Encode.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}

// Digest returns the hex BLAKE2b-256 digest of the encoded snapshot.
func (snap Snapshot) Digest() (string, error) {
	data, err := snap.Encode()
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
