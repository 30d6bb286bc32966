package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/objidx/internal/types"
)

// objectColumns is the shared column layout of objects, objects_history and
// objects_snapshot, in scan order.
var objectColumns = []string{
	"object_id",
	"version",
	"object_digest",
	"checkpoint",
	"owner_type",
	"owner_address",
	"old_owner_type",
	"old_owner_address",
	"object_type",
	"object_status",
	"coin_type",
	"coin_balance",
	"serialized_object",
}

var (
	objectColumnList   = strings.Join(objectColumns, ", ")
	objectPlaceholders = strings.TrimSuffix(strings.Repeat("?, ", len(objectColumns)), ", ")
	objectUpdateList   = upsertAssignments(objectColumns[1:])
)

func upsertAssignments(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c + " = excluded." + c
	}
	return strings.Join(parts, ", ")
}

// PersistObjects applies object changes to the live objects relation.
// Changed versions replace older ones; removed objects are dropped.
// A change never overwrites a newer version, so replays are idempotent.
func (s *Store) PersistObjects(ctx context.Context, changes []TransactionObjectChanges) error {
	const op = "persist objects"
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		return persistObjects(ctx, tx, changes)
	})
}

func persistObjects(ctx context.Context, tx dbtx, changes []TransactionObjectChanges) error {
	const op = "persist objects"
	return applyObjectChanges(ctx, tx, op, "objects", changes)
}

// PersistObjectHistory appends every version in changes, removed ones
// included, to objects_history. Rows already present are left untouched.
func (s *Store) PersistObjectHistory(ctx context.Context, changes []TransactionObjectChanges) error {
	const op = "persist object history"
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		return persistObjectHistory(ctx, tx, changes)
	})
}

func persistObjectHistory(ctx context.Context, tx dbtx, changes []TransactionObjectChanges) error {
	const op = "persist object history"
	if err := validateChanges(op, changes); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO objects_history (%s)
		VALUES (%s)
		ON CONFLICT(object_id, version) DO NOTHING
	`, objectColumnList, objectPlaceholders)

	for _, c := range changes {
		for _, records := range [][]ObjectRecord{c.Changed, c.Deleted} {
			for _, r := range records {
				args, err := encodeObject(op, r)
				if err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, query, args...); err != nil {
					return fmt.Errorf("insert history %s@%d: %w", r.ObjectID, r.Version, err)
				}
			}
		}
	}
	return nil
}

// applyObjectChanges upserts live versions into table and deletes removed
// objects from it. table is one of the current-state relations.
func applyObjectChanges(ctx context.Context, tx dbtx, op, table string, changes []TransactionObjectChanges) error {
	if err := validateChanges(op, changes); err != nil {
		return err
	}

	upsert := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s)
		VALUES (%[3]s)
		ON CONFLICT(object_id) DO UPDATE SET %[4]s
		WHERE excluded.version >= %[1]s.version
	`, table, objectColumnList, objectPlaceholders, objectUpdateList)
	remove := fmt.Sprintf(`DELETE FROM %s WHERE object_id = ? AND version <= ?`, table)

	for _, c := range changes {
		for _, r := range c.Changed {
			args, err := encodeObject(op, r)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, upsert, args...); err != nil {
				return fmt.Errorf("upsert %s %s@%d: %w", table, r.ObjectID, r.Version, err)
			}
		}
		for _, r := range c.Deleted {
			version, err := int64Of(op, "version", r.Version)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, remove, r.ObjectID.String(), version); err != nil {
				return fmt.Errorf("delete %s %s@%d: %w", table, r.ObjectID, r.Version, err)
			}
		}
	}
	return nil
}

// validateChanges rejects live versions filed as removed and vice versa.
func validateChanges(op string, changes []TransactionObjectChanges) error {
	for _, c := range changes {
		for _, r := range c.Changed {
			if !r.Status.Live() {
				return newError(KindSchemaViolation, op, "changed object %s@%d has non-live status %q", r.ObjectID, r.Version, r.Status)
			}
		}
		for _, r := range c.Deleted {
			if r.Status.Live() {
				return newError(KindSchemaViolation, op, "deleted object %s@%d has live status %q", r.ObjectID, r.Version, r.Status)
			}
		}
	}
	return nil
}

// encodeObject validates r and returns its column values in objectColumns
// order.
func encodeObject(op string, r ObjectRecord) ([]any, error) {
	version, err := int64Of(op, "version", r.Version)
	if err != nil {
		return nil, err
	}
	checkpoint, err := int64Of(op, "checkpoint", r.Checkpoint)
	if err != nil {
		return nil, err
	}
	if !r.Status.Valid() {
		return nil, newError(KindSchemaViolation, op, "object %s@%d: unknown status %q", r.ObjectID, r.Version, r.Status)
	}
	for _, ot := range []types.OwnerType{r.OwnerType, r.OldOwnerType} {
		if ot != "" && !ot.Valid() {
			return nil, newError(KindSchemaViolation, op, "object %s@%d: unknown owner type %q", r.ObjectID, r.Version, ot)
		}
	}

	// Types are stored canonically so prefix filters match every spelling
	// of the same address.
	var objectType string
	if r.ObjectType != "" {
		tag, err := types.ParseStructTag(r.ObjectType)
		if err != nil {
			return nil, &Error{Kind: KindSchemaViolation, Op: op, Msg: fmt.Sprintf("object %s@%d: object type", r.ObjectID, r.Version), Err: err}
		}
		objectType = tag.String()
	}

	var balance sql.NullInt64
	if r.CoinBalance != nil {
		b, err := int64Of(op, "coin balance", *r.CoinBalance)
		if err != nil {
			return nil, err
		}
		balance = sql.NullInt64{Int64: b, Valid: true}
	}

	return []any{
		r.ObjectID.String(),
		version,
		r.Digest,
		checkpoint,
		string(r.OwnerType),
		addressText(r.OwnerAddress),
		string(r.OldOwnerType),
		addressText(r.OldOwnerAddress),
		objectType,
		string(r.Status),
		nullString(r.CoinType),
		balance,
		r.BCS,
	}, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanObject reads one row laid out as objectColumns.
func scanObject(sc rowScanner) (ObjectRecord, error) {
	var (
		id, digest, status                         string
		version, checkpoint                        int64
		ownerType, ownerAddr, oldOwnerType, oldOwn sql.NullString
		objectType, coinType                       sql.NullString
		balance                                    sql.NullInt64
		bcs                                        []byte
	)
	if err := sc.Scan(&id, &version, &digest, &checkpoint,
		&ownerType, &ownerAddr, &oldOwnerType, &oldOwn,
		&objectType, &status, &coinType, &balance, &bcs); err != nil {
		return ObjectRecord{}, fmt.Errorf("scan object: %w", err)
	}

	oid, err := types.ParseAddress(id)
	if err != nil {
		return ObjectRecord{}, fmt.Errorf("scan object: %w", err)
	}
	owner, err := scanAddress(ownerAddr)
	if err != nil {
		return ObjectRecord{}, err
	}
	oldOwner, err := scanAddress(oldOwn)
	if err != nil {
		return ObjectRecord{}, err
	}

	r := ObjectRecord{
		ObjectID:        oid,
		Version:         uint64(version),
		Digest:          digest,
		Checkpoint:      uint64(checkpoint),
		OwnerType:       types.OwnerType(ownerType.String),
		OwnerAddress:    owner,
		OldOwnerType:    types.OwnerType(oldOwnerType.String),
		OldOwnerAddress: oldOwner,
		ObjectType:      objectType.String,
		Status:          types.ObjectStatus(status),
		CoinType:        coinType.String,
		BCS:             bcs,
	}
	if balance.Valid {
		b := uint64(balance.Int64)
		r.CoinBalance = &b
	}
	return r, nil
}

func scanAddress(s sql.NullString) (*types.Address, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	a, err := types.ParseAddress(s.String)
	if err != nil {
		return nil, fmt.Errorf("scan address: %w", err)
	}
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// addressText renders an optional address. Absent owners are stored as ''
// so filter comparisons never see NULL.
func addressText(a *types.Address) string {
	if a == nil {
		return ""
	}
	return a.String()
}
