package store

import (
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// ErrLockConflict is returned when a row lock could not be acquired
// immediately (Postgres SQLSTATE 55P03, raised by SELECT ... FOR UPDATE
// NOWAIT). Callers translate this into a 409 response.
var ErrLockConflict = errors.New("store: row lock conflict")

// lockConflictCode is the Postgres SQLSTATE for "lock_not_available".
const lockConflictCode = "55P03"

// classifyPQError maps a raw driver error to the sentinel errors above,
// passing through anything else unchanged.
func classifyPQError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == lockConflictCode {
		return ErrLockConflict
	}
	return err
}
