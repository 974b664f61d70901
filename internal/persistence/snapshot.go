package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"Orion/internal/core"

	"github.com/google/uuid"
)

// snapshotFormat versions the JSON layout of core.SnapshotState.
const snapshotFormat int32 = 1

// SnapshotManager stores core snapshots and reads the event log back for
// recovery. Snapshots are written by the persistence worker in the same
// transaction as the tick that produced them.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists snap outside any batch, e.g. for an operator
// triggered checkpoint. Returns the encoded size.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.SnapshotState) (int, error) {
	return sm.save(ctx, sm.db, snap)
}

func (sm *SnapshotManager) save(ctx context.Context, exec execer, snap *core.SnapshotState) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, string(data), snap.StateHash[:], snapshotFormat, len(data), snap.CreatedAt)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent snapshot, or nil on a cold
// start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM event_log.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var (
		data    []byte
		version int32
	)
	if err := row.Scan(&data, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormat {
		return nil, fmt.Errorf("snapshot format %d, expected %d", version, snapshotFormat)
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified records that replay from the snapshot reproduced the
// logged hash chain.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, vault, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Vault, &e.Payload,
			&e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or -1
// when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
