package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/d20rules/internal/game/actor"
	"github.com/cory-johannsen/d20rules/internal/game/state"
	"github.com/cory-johannsen/d20rules/internal/storage/postgres"
	"github.com/cory-johannsen/d20rules/internal/testutil"
)

func sampleSnapshot(t *testing.T, round int) state.Snapshot {
	t.Helper()
	s := state.New(11)
	require.NoError(t, s.AddActor(&actor.Actor{
		ID: "fighter", HP: 12, MaxHP: 20,
		Abilities: map[string]actor.AbilityScore{actor.Str: {Base: 16}},
	}))
	s.Round = round
	snap, err := s.Snapshot()
	require.NoError(t, err)
	return snap
}

func TestValidSlot(t *testing.T) {
	for _, slot := range []string{"autosave", "slot-1_b", "0"} {
		assert.True(t, postgres.ValidSlot(slot), slot)
	}
	for _, slot := range []string{"", "-leading", "Upper", "has space", "a/b"} {
		assert.False(t, postgres.ValidSlot(slot), slot)
	}
}

func TestPropertyValidSlot_LowercaseNamesUpTo64(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		slot := rapid.StringMatching(`[a-z0-9][a-z0-9_-]{0,63}`).Draw(t, "slot")
		if !postgres.ValidSlot(slot) {
			t.Fatalf("slot %q rejected", slot)
		}
		if postgres.ValidSlot(slot + "X") {
			t.Fatalf("slot %q with uppercase accepted", slot+"X")
		}
	})
}

func TestSaveRepository_RoundTrip(t *testing.T) {
	repo := postgres.NewSaveRepository(testutil.NewPool(t))
	ctx := context.Background()

	snap := sampleSnapshot(t, 3)
	info, err := repo.Save(ctx, "slot-1", "before the dragon", snap)
	require.NoError(t, err)
	assert.Equal(t, "slot-1", info.Slot)
	assert.Equal(t, 3, info.Round)
	want, err := snap.Digest()
	require.NoError(t, err)
	assert.Equal(t, want, info.Digest)

	got, loaded, err := repo.Load(ctx, "slot-1")
	require.NoError(t, err)
	assert.Equal(t, "before the dragon", loaded.Label)
	digest, err := got.Digest()
	require.NoError(t, err)
	assert.Equal(t, want, digest)

	restored, err := state.FromSnapshot(got)
	require.NoError(t, err)
	a, ok := restored.Actor("fighter")
	require.True(t, ok)
	assert.Equal(t, 12, a.HP)
}

func TestSaveRepository_OverwriteKeepsCreatedAt(t *testing.T) {
	repo := postgres.NewSaveRepository(testutil.NewPool(t))
	ctx := context.Background()

	first, err := repo.Save(ctx, "auto", "", sampleSnapshot(t, 1))
	require.NoError(t, err)
	second, err := repo.Save(ctx, "auto", "later", sampleSnapshot(t, 9))
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, 9, second.Round)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "later", list[0].Label)
}

func TestSaveRepository_MissingAndInvalidSlots(t *testing.T) {
	repo := postgres.NewSaveRepository(testutil.NewPool(t))
	ctx := context.Background()

	_, _, err := repo.Load(ctx, "nothing-here")
	assert.ErrorIs(t, err, postgres.ErrSaveNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "nothing-here"), postgres.ErrSaveNotFound)
	_, err = repo.Save(ctx, "Bad Slot", "", sampleSnapshot(t, 0))
	assert.ErrorIs(t, err, postgres.ErrInvalidSlot)
}

func TestSaveRepository_DeleteAndList(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewSaveRepository(pool)
	ctx := context.Background()

	for _, slot := range []string{"a", "b", "c"} {
		_, err := repo.Save(ctx, slot, "", sampleSnapshot(t, 0))
		require.NoError(t, err)
	}
	require.NoError(t, repo.Delete(ctx, "b"))
	list, err := repo.List(ctx)
	require.NoError(t, err)
	var slots []string
	for _, info := range list {
		slots = append(slots, info.Slot)
	}
	assert.ElementsMatch(t, []string{"a", "c"}, slots)
}

func TestSaveRepository_DetectsTampering(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewSaveRepository(pool)
	ctx := context.Background()

	_, err := repo.Save(ctx, "tampered", "", sampleSnapshot(t, 2))
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `UPDATE saves SET snapshot = convert_to(replace(convert_from(snapshot, 'UTF8'), 'hp: 12', 'hp: 13'), 'UTF8') WHERE slot = $1`, "tampered")
	require.NoError(t, err)

	_, _, err = repo.Load(ctx, "tampered")
	assert.ErrorIs(t, err, postgres.ErrCorruptSave)
}
