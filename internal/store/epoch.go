package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetAvailableEpochRange returns the inclusive range of retained epochs, or
// ErrOutOfRange when none are stored.
func (s *Store) GetAvailableEpochRange(ctx context.Context) (uint64, uint64, error) {
	const op = "get available epoch range"
	var lo, hi sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(epoch), MAX(epoch) FROM epochs`).Scan(&lo, &hi); err != nil {
		return 0, 0, classify(op, err)
	}
	if !lo.Valid {
		return 0, 0, newError(KindOutOfRange, op, "no epochs stored")
	}
	return uint64(lo.Int64), uint64(hi.Int64), nil
}

// GetNetworkTotalTransactionsByEndOfEpoch returns the cumulative transaction
// count at the end of epoch. Epochs that are unknown, pruned or not yet
// advanced are ErrOutOfRange.
func (s *Store) GetNetworkTotalTransactionsByEndOfEpoch(ctx context.Context, epoch uint64) (uint64, error) {
	const op = "get network total transactions by end of epoch"
	e, err := int64Of(op, "epoch", epoch)
	if err != nil {
		return 0, err
	}

	var total sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT network_total_transactions FROM epochs WHERE epoch = ?
	`, e).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, newError(KindOutOfRange, op, "epoch %d is not stored", epoch)
	}
	if err != nil {
		return 0, classify(op, err)
	}
	if !total.Valid {
		return 0, newError(KindOutOfRange, op, "epoch %d has not been advanced", epoch)
	}
	return uint64(total.Int64), nil
}

// PersistEpoch records the end of the last epoch and inserts the new one.
// Epochs must arrive in strictly increasing order starting at 0; persisting
// the latest epoch again is a no-op. The cumulative transaction counter is
// left for AdvanceEpoch.
func (s *Store) PersistEpoch(ctx context.Context, epoch EpochToCommit) error {
	return s.withTx(ctx, "persist epoch", func(tx *sql.Tx) error {
		return persistEpoch(ctx, tx, epoch)
	})
}

func persistEpoch(ctx context.Context, tx dbtx, e EpochToCommit) error {
	const op = "persist epoch"
	n := e.NewEpoch

	latest, ok, err := latestEpoch(ctx, tx)
	if err != nil {
		return err
	}
	switch {
	case ok && n.Epoch == latest:
		return nil
	case ok && n.Epoch != latest+1:
		return newError(KindSequenceGap, op, "epoch %d persisted after epoch %d", n.Epoch, latest)
	case !ok && n.Epoch != 0:
		return newError(KindSequenceGap, op, "first epoch must be 0, got %d", n.Epoch)
	}

	if last := e.LastEpoch; last != nil {
		if last.Epoch+1 != n.Epoch {
			return newError(KindSchemaViolation, op, "epoch %d does not follow epoch %d", n.Epoch, last.Epoch)
		}
		if n.FirstCheckpoint != last.LastCheckpoint+1 {
			return newError(KindSchemaViolation, op, "epoch %d starts at checkpoint %d, epoch %d ended at %d",
				n.Epoch, n.FirstCheckpoint, last.Epoch, last.LastCheckpoint)
		}
		lastEpoch, err := int64Of(op, "epoch", last.Epoch)
		if err != nil {
			return err
		}
		lastCP, err := int64Of(op, "last checkpoint", last.LastCheckpoint)
		if err != nil {
			return err
		}
		endTS, err := int64Of(op, "end timestamp", last.EndTimestampMs)
		if err != nil {
			return err
		}
		txs, err := int64Of(op, "epoch total transactions", last.EpochTotalTransactions)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE epochs
			SET last_checkpoint_id = ?, epoch_end_timestamp = ?, epoch_total_transactions = ?
			WHERE epoch = ?
		`, lastCP, endTS, txs, lastEpoch); err != nil {
			return fmt.Errorf("end epoch %d: %w", last.Epoch, err)
		}
	} else if n.Epoch != 0 {
		return newError(KindSchemaViolation, op, "epoch %d has no preceding epoch end", n.Epoch)
	}

	vals := []struct {
		field string
		v     uint64
	}{
		{"epoch", n.Epoch},
		{"first checkpoint", n.FirstCheckpoint},
		{"start timestamp", n.StartTimestampMs},
		{"reference gas price", n.ReferenceGasPrice},
		{"protocol version", n.ProtocolVersion},
		{"total stake", n.TotalStake},
	}
	args := make([]any, len(vals))
	for i, f := range vals {
		v, err := int64Of(op, f.field, f.v)
		if err != nil {
			return err
		}
		args[i] = v
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO epochs
		(epoch, first_checkpoint_id, epoch_start_timestamp, reference_gas_price, protocol_version, total_stake)
		VALUES (?, ?, ?, ?, ?, ?)
	`, args...); err != nil {
		return fmt.Errorf("insert epoch %d: %w", n.Epoch, err)
	}
	return nil
}

// AdvanceEpoch writes the cumulative transaction counter of the epoch that
// just ended. It must follow PersistEpoch for the same boundary
// (ErrSequenceGap otherwise). Advancing an epoch whose counter is already
// set changes nothing.
func (s *Store) AdvanceEpoch(ctx context.Context, epoch EpochToCommit) error {
	return s.withTx(ctx, "advance epoch", func(tx *sql.Tx) error {
		return advanceEpoch(ctx, tx, epoch)
	})
}

func advanceEpoch(ctx context.Context, tx dbtx, e EpochToCommit) error {
	const op = "advance epoch"
	newEpoch, err := int64Of(op, "epoch", e.NewEpoch.Epoch)
	if err != nil {
		return err
	}

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM epochs WHERE epoch = ?`, newEpoch).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return newError(KindSequenceGap, op, "epoch %d advanced before it was persisted", e.NewEpoch.Epoch)
	}
	if err != nil {
		return fmt.Errorf("read epoch %d: %w", e.NewEpoch.Epoch, err)
	}

	last := e.LastEpoch
	if last == nil {
		return nil
	}
	lastEpoch, err := int64Of(op, "epoch", last.Epoch)
	if err != nil {
		return err
	}
	total, err := int64Of(op, "network total transactions", last.NetworkTotalTransactions)
	if err != nil {
		return err
	}

	var ended bool
	var counter sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT last_checkpoint_id IS NOT NULL, network_total_transactions
		FROM epochs WHERE epoch = ?
	`, lastEpoch).Scan(&ended, &counter)
	if errors.Is(err, sql.ErrNoRows) {
		// Pruned after it was advanced.
		return nil
	}
	if err != nil {
		return fmt.Errorf("read epoch %d: %w", last.Epoch, err)
	}
	if counter.Valid {
		return nil
	}
	if !ended {
		return newError(KindSequenceGap, op, "epoch %d advanced before its end was persisted", last.Epoch)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE epochs SET network_total_transactions = ? WHERE epoch = ?
	`, total, lastEpoch); err != nil {
		return fmt.Errorf("advance epoch %d: %w", last.Epoch, err)
	}
	return nil
}

// PruneEpoch removes the retired history of epoch: its checkpoints,
// transactions and their indexes, events, and the object history rows
// superseded by the end of its checkpoint range. The newest version of each
// object at that point is kept so historical queries above it stay exact.
//
// Only the oldest retained epoch can be pruned. Any other epoch is refused
// with ErrInvalidSnapshotWindow, as are the current epoch, an epoch that has
// not ended, and an epoch reaching past the snapshot frontier or the latest
// checkpoint.
func (s *Store) PruneEpoch(ctx context.Context, epoch uint64) error {
	const op = "prune epoch"
	e, err := int64Of(op, "epoch", epoch)
	if err != nil {
		return err
	}

	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		var firstCP int64
		var lastCP sql.NullInt64
		err := tx.QueryRowContext(ctx, `
			SELECT first_checkpoint_id, last_checkpoint_id FROM epochs WHERE epoch = ?
		`, e).Scan(&firstCP, &lastCP)
		if errors.Is(err, sql.ErrNoRows) {
			return newError(KindOutOfRange, op, "epoch %d is not stored", epoch)
		}
		if err != nil {
			return fmt.Errorf("read epoch %d: %w", epoch, err)
		}

		latest, _, err := latestEpoch(ctx, tx)
		if err != nil {
			return err
		}
		if epoch == latest {
			return newError(KindInvalidSnapshotWindow, op, "epoch %d is the current epoch", epoch)
		}
		if !lastCP.Valid {
			return newError(KindInvalidSnapshotWindow, op, "epoch %d has not ended", epoch)
		}
		last := uint64(lastCP.Int64)

		var older int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM epochs WHERE epoch < ?`, e).Scan(&older); err != nil {
			return fmt.Errorf("read epochs before %d: %w", epoch, err)
		}
		if older > 0 {
			return newError(KindInvalidSnapshotWindow, op, "epoch %d is not the oldest retained epoch", epoch)
		}

		st, err := loadSnapshotState(ctx, tx)
		if err != nil {
			return err
		}
		if !st.frontier.Valid || last > uint64(st.frontier.Int64) {
			return newError(KindInvalidSnapshotWindow, op, "epoch %d ends at checkpoint %d beyond the snapshot frontier", epoch, last)
		}
		latestCP, ok, err := latestCheckpoint(ctx, tx)
		if err != nil {
			return err
		}
		if !ok || last >= latestCP {
			return newError(KindInvalidSnapshotWindow, op, "epoch %d holds the latest checkpoint", epoch)
		}

		// Versions kept by an earlier prune go once this epoch supersedes them.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM objects_history
			WHERE checkpoint <= ?
			AND EXISTS (
				SELECT 1 FROM objects_history n
				WHERE n.object_id = objects_history.object_id
				AND n.checkpoint <= ?
				AND n.version > objects_history.version
			)
		`, lastCP.Int64, lastCP.Int64); err != nil {
			return fmt.Errorf("prune object history: %w", err)
		}

		for _, table := range []string{
			"transactions",
			"tx_senders",
			"tx_recipients",
			"tx_input_objects",
			"tx_changed_objects",
			"tx_calls",
			"events",
			"event_indices",
		} {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE checkpoint BETWEEN ? AND ?`, table), firstCP, lastCP.Int64); err != nil {
				return fmt.Errorf("prune %s: %w", table, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE sequence_number BETWEEN ? AND ?`, firstCP, lastCP.Int64); err != nil {
			return fmt.Errorf("prune checkpoints: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM epochs WHERE epoch = ?`, e); err != nil {
			return fmt.Errorf("prune epochs: %w", err)
		}
		return nil
	})
}

// latestEpoch returns MAX(epoch) from epochs.
func latestEpoch(ctx context.Context, q dbtx) (uint64, bool, error) {
	var e sql.NullInt64
	if err := q.QueryRowContext(ctx, `SELECT MAX(epoch) FROM epochs`).Scan(&e); err != nil {
		return 0, false, fmt.Errorf("read latest epoch: %w", err)
	}
	if !e.Valid {
		return 0, false, nil
	}
	return uint64(e.Int64), true, nil
}
