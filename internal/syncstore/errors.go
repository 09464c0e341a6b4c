package syncstore

import (
	"fmt"

	"github.com/evmweave/indexer/internal/errclass"
)

// UniqueConstraintError reports a duplicate-key write. The sync store's
// writes are natural-key upserts, so callers normally never see this.
// It surfaces when a bbolt batch or a hand-built statement skipped the
// upsert path.
type UniqueConstraintError struct {
	Table, Constraint string
	Err               error
}

func (e *UniqueConstraintError) Error() string {
	return fmt.Sprintf("unique constraint %q violated on %s: %v", e.Constraint, e.Table, e.Err)
}
func (e *UniqueConstraintError) Unwrap() error         { return e.Err }
func (e *UniqueConstraintError) Class() errclass.Class { return errclass.Fatal }

// NotNullConstraintError reports a row missing a required column, almost
// always a decoding bug upstream rather than a transient condition.
type NotNullConstraintError struct {
	Table, Column string
	Err           error
}

func (e *NotNullConstraintError) Error() string {
	return fmt.Sprintf("not-null constraint violated on %s.%s: %v", e.Table, e.Column, e.Err)
}
func (e *NotNullConstraintError) Unwrap() error         { return e.Err }
func (e *NotNullConstraintError) Class() errclass.Class { return errclass.Fatal }

// CheckConstraintError reports a row that violated a table-level check
// constraint (e.g. a negative block number).
type CheckConstraintError struct {
	Table, Constraint string
	Err               error
}

func (e *CheckConstraintError) Error() string {
	return fmt.Sprintf("check constraint %q violated on %s: %v", e.Constraint, e.Table, e.Err)
}
func (e *CheckConstraintError) Unwrap() error         { return e.Err }
func (e *CheckConstraintError) Class() errclass.Class { return errclass.Fatal }

// classifyPgError inspects a pgx/pgconn error's SQLSTATE and message to
// return one of the typed errors above, or err unchanged if it isn't a
// recognized constraint violation.
func classifyPgError(table string, err error) error {
	code, constraint, column := pgErrorDetail(err)
	switch code {
	case "23505":
		return &UniqueConstraintError{Table: table, Constraint: constraint, Err: err}
	case "23502":
		return &NotNullConstraintError{Table: table, Column: column, Err: err}
	case "23514":
		return &CheckConstraintError{Table: table, Constraint: constraint, Err: err}
	default:
		return err
	}
}
