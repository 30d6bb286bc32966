package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// PersistTransactions inserts transactions.
// Uses ON CONFLICT DO NOTHING for idempotency - replayed transactions are silently ignored.
func (s *Store) PersistTransactions(ctx context.Context, txs []Transaction) error {
	return s.withTx(ctx, "persist transactions", func(tx *sql.Tx) error {
		return persistTransactions(ctx, tx, txs)
	})
}

func persistTransactions(ctx context.Context, tx dbtx, txs []Transaction) error {
	const op = "persist transactions"
	for _, t := range txs {
		seq, err := int64Of(op, "tx sequence number", t.SequenceNumber)
		if err != nil {
			return err
		}
		cp, err := int64Of(op, "checkpoint", t.Checkpoint)
		if err != nil {
			return err
		}
		ts, err := int64Of(op, "timestamp", t.TimestampMs)
		if err != nil {
			return err
		}
		if t.Digest == "" {
			return newError(KindSchemaViolation, op, "transaction %d has no digest", t.SequenceNumber)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO transactions
			(tx_sequence_number, transaction_digest, checkpoint, timestamp_ms, sender, raw_transaction, raw_effects)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(tx_sequence_number) DO NOTHING
		`, seq, t.Digest, cp, ts, t.Sender.String(), t.RawTransaction, t.RawEffects)
		if err != nil {
			return fmt.Errorf("insert transaction %d: %w", t.SequenceNumber, err)
		}
	}
	return nil
}

// PersistTxIndices inserts the lookup rows of each transaction: sender,
// recipients, input and changed objects, and Move calls.
func (s *Store) PersistTxIndices(ctx context.Context, indices []TxIndex) error {
	return s.withTx(ctx, "persist tx indices", func(tx *sql.Tx) error {
		return persistTxIndices(ctx, tx, indices)
	})
}

func persistTxIndices(ctx context.Context, tx dbtx, indices []TxIndex) error {
	const op = "persist tx indices"
	for _, idx := range indices {
		seq, err := int64Of(op, "tx sequence number", idx.TxSequenceNumber)
		if err != nil {
			return err
		}
		cp, err := int64Of(op, "checkpoint", idx.Checkpoint)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tx_senders (sender, tx_sequence_number, checkpoint)
			VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING
		`, idx.Sender.String(), seq, cp); err != nil {
			return fmt.Errorf("insert tx sender %d: %w", idx.TxSequenceNumber, err)
		}

		for _, r := range idx.Recipients {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tx_recipients (recipient, tx_sequence_number, checkpoint)
				VALUES (?, ?, ?)
				ON CONFLICT DO NOTHING
			`, r.String(), seq, cp); err != nil {
				return fmt.Errorf("insert tx recipient %d: %w", idx.TxSequenceNumber, err)
			}
		}

		for _, id := range idx.InputObjects {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tx_input_objects (object_id, tx_sequence_number, checkpoint)
				VALUES (?, ?, ?)
				ON CONFLICT DO NOTHING
			`, id.String(), seq, cp); err != nil {
				return fmt.Errorf("insert tx input object %d: %w", idx.TxSequenceNumber, err)
			}
		}

		for _, id := range idx.ChangedObjects {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tx_changed_objects (object_id, tx_sequence_number, checkpoint)
				VALUES (?, ?, ?)
				ON CONFLICT DO NOTHING
			`, id.String(), seq, cp); err != nil {
				return fmt.Errorf("insert tx changed object %d: %w", idx.TxSequenceNumber, err)
			}
		}

		for _, call := range idx.MoveCalls {
			if call.Module == "" || call.Function == "" {
				return newError(KindSchemaViolation, op, "tx %d: move call without module or function", idx.TxSequenceNumber)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tx_calls (package, module, func, tx_sequence_number, checkpoint)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT DO NOTHING
			`, call.Package.String(), call.Module, call.Function, seq, cp); err != nil {
				return fmt.Errorf("insert tx call %d: %w", idx.TxSequenceNumber, err)
			}
		}
	}
	return nil
}

// PersistEvents inserts events keyed by (tx sequence, event sequence).
func (s *Store) PersistEvents(ctx context.Context, events []Event) error {
	return s.withTx(ctx, "persist events", func(tx *sql.Tx) error {
		return persistEvents(ctx, tx, events)
	})
}

func persistEvents(ctx context.Context, tx dbtx, events []Event) error {
	const op = "persist events"
	for _, e := range events {
		txSeq, err := int64Of(op, "tx sequence number", e.TxSequenceNumber)
		if err != nil {
			return err
		}
		evSeq, err := int64Of(op, "event sequence number", e.EventSequenceNumber)
		if err != nil {
			return err
		}
		cp, err := int64Of(op, "checkpoint", e.Checkpoint)
		if err != nil {
			return err
		}
		ts, err := int64Of(op, "timestamp", e.TimestampMs)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO events
			(tx_sequence_number, event_sequence_number, checkpoint, transaction_digest,
			 sender, package, module, event_type, timestamp_ms, bcs)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, txSeq, evSeq, cp, e.TransactionDigest,
			e.Sender.String(), e.Package.String(), e.Module, e.EventType, ts, e.BCS)
		if err != nil {
			return fmt.Errorf("insert event %d/%d: %w", e.TxSequenceNumber, e.EventSequenceNumber, err)
		}
	}
	return nil
}

// PersistEventIndices inserts event lookup rows.
func (s *Store) PersistEventIndices(ctx context.Context, indices []EventIndex) error {
	return s.withTx(ctx, "persist event indices", func(tx *sql.Tx) error {
		return persistEventIndices(ctx, tx, indices)
	})
}

func persistEventIndices(ctx context.Context, tx dbtx, indices []EventIndex) error {
	const op = "persist event indices"
	for _, e := range indices {
		txSeq, err := int64Of(op, "tx sequence number", e.TxSequenceNumber)
		if err != nil {
			return err
		}
		evSeq, err := int64Of(op, "event sequence number", e.EventSequenceNumber)
		if err != nil {
			return err
		}
		cp, err := int64Of(op, "checkpoint", e.Checkpoint)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO event_indices
			(tx_sequence_number, event_sequence_number, checkpoint, sender, emit_package, emit_module, event_type)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, txSeq, evSeq, cp, e.Sender.String(), e.EmitPackage.String(), e.EmitModule, e.EventType)
		if err != nil {
			return fmt.Errorf("insert event index %d/%d: %w", e.TxSequenceNumber, e.EventSequenceNumber, err)
		}
	}
	return nil
}

// PersistDisplays stores display templates keyed by object type. An update
// only replaces a stored template with an equal or higher version.
func (s *Store) PersistDisplays(ctx context.Context, displays map[string]Display) error {
	return s.withTx(ctx, "persist displays", func(tx *sql.Tx) error {
		return persistDisplays(ctx, tx, displays)
	})
}

func persistDisplays(ctx context.Context, tx dbtx, displays map[string]Display) error {
	const op = "persist displays"

	// Deterministic statement order.
	keys := make([]string, 0, len(displays))
	for k := range displays {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		d := displays[k]
		if d.ObjectType != k {
			return newError(KindSchemaViolation, op, "display keyed %q has object type %q", k, d.ObjectType)
		}
		version, err := int64Of(op, "display version", d.Version)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO displays (object_type, id, version, bcs)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(object_type) DO UPDATE SET
				id = excluded.id, version = excluded.version, bcs = excluded.bcs
			WHERE excluded.version >= displays.version
		`, d.ObjectType, d.ID.String(), version, d.BCS)
		if err != nil {
			return fmt.Errorf("upsert display %s: %w", d.ObjectType, err)
		}
	}
	return nil
}

// PersistPackages inserts published packages. Packages are immutable, so a
// repeated id is ignored.
func (s *Store) PersistPackages(ctx context.Context, packages []Package) error {
	return s.withTx(ctx, "persist packages", func(tx *sql.Tx) error {
		return persistPackages(ctx, tx, packages)
	})
}

func persistPackages(ctx context.Context, tx dbtx, packages []Package) error {
	const op = "persist packages"
	for _, p := range packages {
		cp, err := int64Of(op, "checkpoint", p.Checkpoint)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO packages (package_id, checkpoint, move_package)
			VALUES (?, ?, ?)
			ON CONFLICT(package_id) DO NOTHING
		`, p.PackageID.String(), cp, p.BCS); err != nil {
			return fmt.Errorf("insert package %s: %w", p.PackageID, err)
		}
	}
	return nil
}
