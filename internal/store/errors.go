package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// Kind categorizes store errors by how the caller must react.
type Kind int

const (
	// KindTransient marks connectivity or lock contention failures.
	// The caller may retry with backoff.
	KindTransient Kind = iota + 1

	// KindOutOfRange marks a checkpoint or epoch outside the retained range.
	// It is a normal result for range queries.
	KindOutOfRange

	// KindSequenceGap marks a write that violates checkpoint or epoch
	// ordering. Fatal: ingestion must stop.
	KindSequenceGap

	// KindInvalidSnapshotWindow marks snapshot maintenance or pruning called
	// out of order.
	KindInvalidSnapshotWindow

	// KindSchemaViolation marks a malformed record. Fatal.
	KindSchemaViolation
)

// String returns the kind's code.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "TRANSIENT"
	case KindOutOfRange:
		return "OUT_OF_RANGE"
	case KindSequenceGap:
		return "SEQUENCE_GAP"
	case KindInvalidSnapshotWindow:
		return "INVALID_SNAPSHOT_WINDOW"
	case KindSchemaViolation:
		return "SCHEMA_VIOLATION"
	default:
		return fmt.Sprintf("KIND_%d", int(k))
	}
}

// Error is a classified store failure.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Op names the store operation that failed.
	Op string

	// Msg is a human-readable description.
	Msg string

	// Err is the underlying driver error, if any.
	Err error
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrTransient             = &Error{Kind: KindTransient}
	ErrOutOfRange            = &Error{Kind: KindOutOfRange}
	ErrSequenceGap           = &Error{Kind: KindSequenceGap}
	ErrInvalidSnapshotWindow = &Error{Kind: KindInvalidSnapshotWindow}
	ErrSchemaViolation       = &Error{Kind: KindSchemaViolation}
)

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsFatal reports whether err must stop ingestion.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSequenceGap) || errors.Is(err, ErrSchemaViolation)
}

func newError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// classify maps driver errors onto store kinds. Errors that are already
// classified pass through unchanged; anything else is wrapped with op.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}

	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return &Error{Kind: KindTransient, Op: op, Err: err}
		case sqlite3.ErrConstraint:
			return &Error{Kind: KindSchemaViolation, Op: op, Err: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTransient, Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
