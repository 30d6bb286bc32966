package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/objidx/internal/types"
)

type snapshotState struct {
	exists   bool
	mode     SnapshotMode
	frontier sql.NullInt64
}

func loadSnapshotState(ctx context.Context, q dbtx) (snapshotState, error) {
	var st snapshotState
	var mode string
	err := q.QueryRowContext(ctx, `SELECT mode, frontier FROM snapshot_state WHERE id = 0`).Scan(&mode, &st.frontier)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshotState{}, nil
	}
	if err != nil {
		return snapshotState{}, fmt.Errorf("read snapshot state: %w", err)
	}
	st.exists = true
	st.mode = SnapshotMode(mode)
	return st, nil
}

func saveSnapshotState(ctx context.Context, q dbtx, mode SnapshotMode, frontier sql.NullInt64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO snapshot_state (id, mode, frontier)
		VALUES (0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET mode = excluded.mode, frontier = excluded.frontier
	`, string(mode), frontier)
	if err != nil {
		return fmt.Errorf("write snapshot state: %w", err)
	}
	return nil
}

// GetLatestObjectSnapshotCheckpointSequenceNumber returns the last
// checkpoint the snapshot covers. ok is false before any snapshot write.
func (s *Store) GetLatestObjectSnapshotCheckpointSequenceNumber(ctx context.Context) (uint64, bool, error) {
	st, err := loadSnapshotState(ctx, s.db)
	if err != nil {
		return 0, false, classify("get snapshot frontier", err)
	}
	if !st.frontier.Valid {
		return 0, false, nil
	}
	return uint64(st.frontier.Int64), true, nil
}

// SnapshotMode returns the maintenance mode that owns the snapshot. ok is
// false before any snapshot write.
func (s *Store) SnapshotMode(ctx context.Context) (SnapshotMode, bool, error) {
	st, err := loadSnapshotState(ctx, s.db)
	if err != nil {
		return "", false, classify("get snapshot mode", err)
	}
	return st.mode, st.exists, nil
}

// BackfillObjectsSnapshot materializes snapshot rows straight from object
// changes, without waiting for their checkpoints to commit. The frontier
// becomes the highest checkpoint seen. Refused with ErrInvalidSnapshotWindow
// once incremental updates have started.
func (s *Store) BackfillObjectsSnapshot(ctx context.Context, changes []TransactionObjectChanges) error {
	const op = "backfill objects snapshot"
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		st, err := loadSnapshotState(ctx, tx)
		if err != nil {
			return err
		}
		if st.exists && st.mode == SnapshotIncremental {
			return newError(KindInvalidSnapshotWindow, op, "snapshot is maintained incrementally")
		}

		if err := applyObjectChanges(ctx, tx, op, "objects_snapshot", changes); err != nil {
			return err
		}

		frontier := st.frontier
		for _, c := range changes {
			for _, records := range [][]ObjectRecord{c.Changed, c.Deleted} {
				for _, r := range records {
					cp, err := int64Of(op, "checkpoint", r.Checkpoint)
					if err != nil {
						return err
					}
					if !frontier.Valid || cp > frontier.Int64 {
						frontier = sql.NullInt64{Int64: cp, Valid: true}
					}
				}
			}
		}
		return saveSnapshotState(ctx, tx, SnapshotBackfill, frontier)
	})
}

// UpdateObjectsSnapshot advances the snapshot over the checkpoint window
// [startCP, endCP) using committed object history. The window must start
// right after the frontier (at 0 for an empty snapshot) and end at or below
// the latest committed checkpoint; otherwise ErrInvalidSnapshotWindow.
// The first update switches the snapshot to incremental mode.
func (s *Store) UpdateObjectsSnapshot(ctx context.Context, startCP, endCP uint64) error {
	const op = "update objects snapshot"
	if endCP < startCP {
		return newError(KindInvalidSnapshotWindow, op, "window [%d, %d) is inverted", startCP, endCP)
	}
	start, err := int64Of(op, "start checkpoint", startCP)
	if err != nil {
		return err
	}
	end, err := int64Of(op, "end checkpoint", endCP)
	if err != nil {
		return err
	}

	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		st, err := loadSnapshotState(ctx, tx)
		if err != nil {
			return err
		}
		var expected uint64
		if st.frontier.Valid {
			expected = uint64(st.frontier.Int64) + 1
		}
		if startCP != expected {
			return newError(KindInvalidSnapshotWindow, op, "window starts at %d, snapshot continues at %d", startCP, expected)
		}
		if endCP == startCP {
			return nil
		}
		latest, ok, err := latestCheckpoint(ctx, tx)
		if err != nil {
			return err
		}
		if !ok || endCP-1 > latest {
			return newError(KindInvalidSnapshotWindow, op, "window [%d, %d) reaches past the committed checkpoints", startCP, endCP)
		}

		// Newest row per object inside the window.
		window := `
			SELECT h.*, ROW_NUMBER() OVER (PARTITION BY h.object_id ORDER BY h.version DESC, h.checkpoint DESC) AS rn
			FROM objects_history h
			WHERE h.checkpoint >= ? AND h.checkpoint < ?`
		nonLive := statusList(types.NonLiveStatuses)

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO objects_snapshot (%[1]s)
			SELECT %[1]s FROM (%[2]s) AS t
			WHERE t.rn = 1 AND t.object_status NOT IN (%[3]s)
			ON CONFLICT(object_id) DO UPDATE SET %[4]s
			WHERE excluded.version >= objects_snapshot.version
		`, objectColumnList, window, nonLive, objectUpdateList), start, end); err != nil {
			return fmt.Errorf("advance live objects: %w", err)
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			DELETE FROM objects_snapshot WHERE object_id IN (
				SELECT t.object_id FROM (%s) AS t
				WHERE t.rn = 1 AND t.object_status IN (%s)
			)
		`, window, nonLive), start, end); err != nil {
			return fmt.Errorf("remove dead objects: %w", err)
		}

		return saveSnapshotState(ctx, tx, SnapshotIncremental, sql.NullInt64{Int64: end - 1, Valid: true})
	})
}

// ObjectsSnapshot returns every snapshot row ordered by object id.
func (s *Store) ObjectsSnapshot(ctx context.Context) ([]ObjectRecord, error) {
	const op = "read objects snapshot"
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM objects_snapshot ORDER BY object_id
	`, objectColumnList))
	if err != nil {
		return nil, classify(op, err)
	}
	return collectObjects(op, rows)
}

// statusList renders statuses as a SQL list of literals.
func statusList(statuses []types.ObjectStatus) string {
	parts := make([]string, len(statuses))
	for i, st := range statuses {
		parts[i] = "'" + string(st) + "'"
	}
	return strings.Join(parts, ", ")
}
