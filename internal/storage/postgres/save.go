package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/d20rules/internal/game/state"
)

var (
	// ErrSaveNotFound is returned when a slot holds no save.
	ErrSaveNotFound = errors.New("save not found")
	// ErrInvalidSlot is returned for slot names outside [a-z0-9_-], 1-64 chars.
	ErrInvalidSlot = errors.New("invalid save slot")
	// ErrCorruptSave is returned when a stored snapshot no longer matches its digest.
	ErrCorruptSave = errors.New("corrupt save")
)

var slotPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidSlot reports whether slot is an acceptable save slot name.
func ValidSlot(slot string) bool {
	return slotPattern.MatchString(slot)
}

// SaveInfo describes a stored save without its snapshot.
type SaveInfo struct {
	Slot      string
	Label     string
	Round     int
	Digest    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SaveRepository persists engine snapshots in named slots.
type SaveRepository struct {
	db *pgxpool.Pool
}

// NewSaveRepository creates a SaveRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool with the saves
// migrations applied.
func NewSaveRepository(db *pgxpool.Pool) *SaveRepository {
	return &SaveRepository{db: db}
}

// Save writes snap to slot, replacing any earlier save there.
//
// Precondition: slot must satisfy ValidSlot.
// Postcondition: Returns the stored SaveInfo; CreatedAt is kept when an
// existing slot is overwritten.
func (r *SaveRepository) Save(ctx context.Context, slot, label string, snap state.Snapshot) (SaveInfo, error) {
	if !ValidSlot(slot) {
		return SaveInfo{}, fmt.Errorf("%w: %q", ErrInvalidSlot, slot)
	}
	data, err := snap.Encode()
	if err != nil {
		return SaveInfo{}, err
	}
	digest, err := snap.Digest()
	if err != nil {
		return SaveInfo{}, err
	}

	var info SaveInfo
	err = r.db.QueryRow(ctx,
		`INSERT INTO saves (slot, label, round, digest, snapshot)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (slot) DO UPDATE
		 SET label = EXCLUDED.label, round = EXCLUDED.round, digest = EXCLUDED.digest,
		     snapshot = EXCLUDED.snapshot, updated_at = NOW()
		 RETURNING slot, label, round, digest, created_at, updated_at`,
		slot, label, snap.Round, digest, data,
	).Scan(&info.Slot, &info.Label, &info.Round, &info.Digest, &info.CreatedAt, &info.UpdatedAt)
	if err != nil {
		return SaveInfo{}, fmt.Errorf("writing save %q: %w", slot, err)
	}
	return info, nil
}

// Load reads the snapshot stored in slot and checks it against its digest.
//
// Postcondition: Returns the snapshot and its info, ErrSaveNotFound, or
// ErrCorruptSave when the stored bytes no longer match the digest.
func (r *SaveRepository) Load(ctx context.Context, slot string) (state.Snapshot, SaveInfo, error) {
	var (
		info SaveInfo
		data []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT slot, label, round, digest, snapshot, created_at, updated_at
		 FROM saves WHERE slot = $1`,
		slot,
	).Scan(&info.Slot, &info.Label, &info.Round, &info.Digest, &data, &info.CreatedAt, &info.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return state.Snapshot{}, SaveInfo{}, ErrSaveNotFound
		}
		return state.Snapshot{}, SaveInfo{}, fmt.Errorf("querying save %q: %w", slot, err)
	}

	snap, err := state.DecodeSnapshot(data)
	if err != nil {
		return state.Snapshot{}, SaveInfo{}, fmt.Errorf("%w: %v", ErrCorruptSave, err)
	}
	digest, err := snap.Digest()
	if err != nil {
		return state.Snapshot{}, SaveInfo{}, err
	}
	if digest != info.Digest {
		return state.Snapshot{}, SaveInfo{}, fmt.Errorf("%w: slot %q digest %s, stored %s", ErrCorruptSave, slot, digest, info.Digest)
	}
	return snap, info, nil
}

// List returns every save, most recently updated first.
func (r *SaveRepository) List(ctx context.Context) ([]SaveInfo, error) {
	rows, err := r.db.Query(ctx,
		`SELECT slot, label, round, digest, created_at, updated_at
		 FROM saves ORDER BY updated_at DESC, slot`)
	if err != nil {
		return nil, fmt.Errorf("listing saves: %w", err)
	}
	defer rows.Close()

	var out []SaveInfo
	for rows.Next() {
		var info SaveInfo
		if err := rows.Scan(&info.Slot, &info.Label, &info.Round, &info.Digest, &info.CreatedAt, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning save: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating saves: %w", err)
	}
	return out, nil
}

// Delete removes the save in slot.
//
// Postcondition: Returns ErrSaveNotFound if the slot was empty.
func (r *SaveRepository) Delete(ctx context.Context, slot string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM saves WHERE slot = $1`, slot)
	if err != nil {
		return fmt.Errorf("deleting save %q: %w", slot, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSaveNotFound
	}
	return nil
}
