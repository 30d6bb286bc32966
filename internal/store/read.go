package store

import (
	"context"
	"database/sql"

	"github.com/roach88/objidx/internal/filter"
	"github.com/roach88/objidx/internal/querysql"
	"github.com/roach88/objidx/internal/types"
)

// QueryObjectsHistory returns up to limit live objects matching f as they
// were at checkpoint, ordered by object id and starting after cursor.
// A checkpoint outside the retained range is ErrOutOfRange.
//
// Passing the id of the last returned object as the next cursor pages through
// the whole result without gaps or duplicates.
func (s *Store) QueryObjectsHistory(ctx context.Context, f filter.ObjectFilter, checkpoint uint64, cursor *types.ObjectID, limit int) ([]ObjectRecord, error) {
	const op = "query objects history"

	lo, hi, err := s.GetAvailableCheckpointRange(ctx)
	if err != nil {
		return nil, err
	}
	if checkpoint < lo || checkpoint > hi {
		return nil, newError(KindOutOfRange, op, "checkpoint %d outside retained range [%d, %d]", checkpoint, lo, hi)
	}

	stmt, err := s.planner.History(f, checkpoint, cursor, limit, objectColumns)
	if err != nil {
		return nil, newError(KindSchemaViolation, op, "%v", err)
	}
	return s.queryObjects(ctx, op, stmt)
}

// QueryLatestObjects returns up to limit live objects from the current
// objects relation. Only a top-level AddressOwner filter is applied; see
// filter.Analyze for the warnings to surface about anything else.
func (s *Store) QueryLatestObjects(ctx context.Context, f filter.ObjectFilter, cursor *types.ObjectID, limit int) ([]ObjectRecord, error) {
	const op = "query latest objects"
	stmt, err := s.planner.Latest(f, cursor, limit, objectColumns)
	if err != nil {
		return nil, newError(KindSchemaViolation, op, "%v", err)
	}
	return s.queryObjects(ctx, op, stmt)
}

// QuerySnapshotObjects is QueryLatestObjects against the object snapshot,
// which lags the live relation by the snapshot processor's window.
func (s *Store) QuerySnapshotObjects(ctx context.Context, f filter.ObjectFilter, cursor *types.ObjectID, limit int) ([]ObjectRecord, error) {
	const op = "query snapshot objects"
	stmt, err := s.planner.WithLatestTable(querysql.SnapshotTable).Latest(f, cursor, limit, objectColumns)
	if err != nil {
		return nil, newError(KindSchemaViolation, op, "%v", err)
	}
	return s.queryObjects(ctx, op, stmt)
}

func (s *Store) queryObjects(ctx context.Context, op string, stmt querysql.Statement) ([]ObjectRecord, error) {
	rows, err := s.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, classify(op, err)
	}
	return collectObjects(op, rows)
}

// collectObjects scans and closes rows. Returns an empty slice (not nil)
// when there are no rows.
func collectObjects(op string, rows *sql.Rows) ([]ObjectRecord, error) {
	defer rows.Close()

	objects := []ObjectRecord{}
	for rows.Next() {
		r, err := scanObject(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		objects = append(objects, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return objects, nil
}
