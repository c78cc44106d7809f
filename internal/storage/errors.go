package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// PersistError wraps a failed descriptor write with the offending links and
// whether retrying can help. Constraint violations are never retriable;
// connectivity blips are.
type PersistError struct {
	Links     []string
	Retriable bool
	Err       error
}

func (e *PersistError) Error() string {
	kind := "non-retriable"
	if e.Retriable {
		kind = "retriable"
	}
	return fmt.Sprintf("persist descriptors for [%s]: %s: %v", strings.Join(e.Links, ", "), kind, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// isRetriable classifies a write failure. Postgres integrity violations
// (SQLSTATE class 23) cannot be fixed by retrying; anything else (dropped
// connections, serialization failures) gets another attempt.
func isRetriable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return !strings.HasPrefix(pgErr.Code, "23")
	}
	return true
}
