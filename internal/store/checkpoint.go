package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetLatestCheckpointSequenceNumber returns the highest committed
// checkpoint. ok is false on an empty store.
func (s *Store) GetLatestCheckpointSequenceNumber(ctx context.Context) (uint64, bool, error) {
	seq, ok, err := latestCheckpoint(ctx, s.db)
	if err != nil {
		return 0, false, classify("get latest checkpoint", err)
	}
	return seq, ok, nil
}

// GetAvailableCheckpointRange returns the inclusive range of retained
// checkpoints, or ErrOutOfRange when none are stored.
func (s *Store) GetAvailableCheckpointRange(ctx context.Context) (uint64, uint64, error) {
	const op = "get available checkpoint range"
	var lo, hi sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(sequence_number), MAX(sequence_number) FROM checkpoints
	`).Scan(&lo, &hi)
	if err != nil {
		return 0, 0, classify(op, err)
	}
	if !lo.Valid {
		return 0, 0, newError(KindOutOfRange, op, "no checkpoints stored")
	}
	return uint64(lo.Int64), uint64(hi.Int64), nil
}

// PersistCheckpoints commits checkpoint rows. The batch must be contiguous
// and start right after the latest committed checkpoint (at 0 on an empty
// store); anything else fails with ErrSequenceGap. Checkpoints already
// committed with the same digest are skipped. A checkpoint that has been
// pruned fails with ErrOutOfRange, which rolls back the rest of its batch.
func (s *Store) PersistCheckpoints(ctx context.Context, checkpoints []Checkpoint) error {
	return s.withTx(ctx, "persist checkpoints", func(tx *sql.Tx) error {
		return persistCheckpoints(ctx, tx, checkpoints)
	})
}

func persistCheckpoints(ctx context.Context, tx dbtx, checkpoints []Checkpoint) error {
	const op = "persist checkpoints"
	if len(checkpoints) == 0 {
		return nil
	}
	for i := 1; i < len(checkpoints); i++ {
		if checkpoints[i].SequenceNumber != checkpoints[i-1].SequenceNumber+1 {
			return newError(KindSequenceGap, op, "batch is not contiguous: %d follows %d",
				checkpoints[i].SequenceNumber, checkpoints[i-1].SequenceNumber)
		}
	}

	latest, committed, err := latestCheckpoint(ctx, tx)
	if err != nil {
		return err
	}
	var next uint64
	if committed {
		next = latest + 1
	}

	for _, cp := range checkpoints {
		seq, err := int64Of(op, "checkpoint", cp.SequenceNumber)
		if err != nil {
			return err
		}

		if committed && cp.SequenceNumber <= latest {
			var digest string
			err := tx.QueryRowContext(ctx, `
				SELECT checkpoint_digest FROM checkpoints WHERE sequence_number = ?
			`, seq).Scan(&digest)
			if errors.Is(err, sql.ErrNoRows) {
				return newError(KindOutOfRange, op, "checkpoint %d was committed and has since been pruned", cp.SequenceNumber)
			}
			if err != nil {
				return fmt.Errorf("read checkpoint %d: %w", cp.SequenceNumber, err)
			}
			if digest != cp.Digest {
				return newError(KindSchemaViolation, op, "checkpoint %d already committed with digest %s, got %s",
					cp.SequenceNumber, digest, cp.Digest)
			}
			continue
		}

		if cp.SequenceNumber != next {
			return newError(KindSequenceGap, op, "checkpoint %d persisted before checkpoint %d", cp.SequenceNumber, next)
		}
		if cp.Digest == "" {
			return newError(KindSchemaViolation, op, "checkpoint %d has no digest", cp.SequenceNumber)
		}
		epoch, err := int64Of(op, "epoch", cp.Epoch)
		if err != nil {
			return err
		}
		ts, err := int64Of(op, "timestamp", cp.TimestampMs)
		if err != nil {
			return err
		}
		total, err := int64Of(op, "network total transactions", cp.NetworkTotalTransactions)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoints
			(sequence_number, checkpoint_digest, epoch, timestamp_ms, network_total_transactions, end_of_epoch)
			VALUES (?, ?, ?, ?, ?, ?)
		`, seq, cp.Digest, epoch, ts, total, cp.EndOfEpoch); err != nil {
			return fmt.Errorf("insert checkpoint %d: %w", cp.SequenceNumber, err)
		}
		next++
	}
	return nil
}

// CommitCheckpointBatch writes everything a batch of checkpoints produced in
// one transaction, so readers see either all of it or none of it. Writes go
// in the order objects, history, the remaining indexes and epoch, and the
// checkpoint rows last; an ended epoch is advanced after its checkpoints.
//
// The transaction runs under ctx. Callers that must never abort a batch
// halfway (the committer) pass a context without cancellation.
func (s *Store) CommitCheckpointBatch(ctx context.Context, batch CheckpointBatch) error {
	const op = "commit checkpoint batch"
	if err := validateBatch(op, batch); err != nil {
		return err
	}

	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		if err := persistObjects(ctx, tx, batch.ObjectChanges); err != nil {
			return err
		}
		if err := persistObjectHistory(ctx, tx, batch.ObjectChanges); err != nil {
			return err
		}
		if err := persistTransactions(ctx, tx, batch.Transactions); err != nil {
			return err
		}
		if err := persistTxIndices(ctx, tx, batch.TxIndices); err != nil {
			return err
		}
		if err := persistEvents(ctx, tx, batch.Events); err != nil {
			return err
		}
		if err := persistEventIndices(ctx, tx, batch.EventIndices); err != nil {
			return err
		}
		if err := persistDisplays(ctx, tx, batch.Displays); err != nil {
			return err
		}
		if err := persistPackages(ctx, tx, batch.Packages); err != nil {
			return err
		}
		if batch.Epoch != nil {
			if err := persistEpoch(ctx, tx, *batch.Epoch); err != nil {
				return err
			}
		}
		if err := persistCheckpoints(ctx, tx, batch.Checkpoints); err != nil {
			return err
		}
		if batch.Epoch != nil {
			if err := advanceEpoch(ctx, tx, *batch.Epoch); err != nil {
				return err
			}
		}
		return nil
	})
}

// validateBatch checks that every record belongs to one of the batch's
// checkpoints.
func validateBatch(op string, b CheckpointBatch) error {
	if len(b.Checkpoints) == 0 {
		return newError(KindSchemaViolation, op, "batch has no checkpoints")
	}
	first := b.Checkpoints[0].SequenceNumber
	last, _ := b.LastCheckpoint()

	check := func(what string, cp uint64) error {
		if cp < first || cp > last {
			return newError(KindSchemaViolation, op, "%s at checkpoint %d outside batch [%d, %d]", what, cp, first, last)
		}
		return nil
	}
	for _, c := range b.ObjectChanges {
		for _, records := range [][]ObjectRecord{c.Changed, c.Deleted} {
			for _, r := range records {
				if err := check("object "+r.ObjectID.String(), r.Checkpoint); err != nil {
					return err
				}
			}
		}
	}
	for _, t := range b.Transactions {
		if err := check("transaction "+t.Digest, t.Checkpoint); err != nil {
			return err
		}
	}
	for _, e := range b.Events {
		if err := check("event", e.Checkpoint); err != nil {
			return err
		}
	}
	if b.Epoch != nil && b.Epoch.LastEpoch != nil && b.Epoch.LastEpoch.LastCheckpoint != last {
		return newError(KindSchemaViolation, op, "epoch %d ends at checkpoint %d, batch ends at %d",
			b.Epoch.LastEpoch.Epoch, b.Epoch.LastEpoch.LastCheckpoint, last)
	}
	return nil
}

// latestCheckpoint returns MAX(sequence_number) from checkpoints.
func latestCheckpoint(ctx context.Context, q dbtx) (uint64, bool, error) {
	var seq sql.NullInt64
	if err := q.QueryRowContext(ctx, `SELECT MAX(sequence_number) FROM checkpoints`).Scan(&seq); err != nil {
		return 0, false, fmt.Errorf("read latest checkpoint: %w", err)
	}
	if !seq.Valid {
		return 0, false, nil
	}
	return uint64(seq.Int64), true, nil
}
