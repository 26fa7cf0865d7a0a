package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("repository: duplicate key")
	// ErrCommitUnknown wraps a failed COMMIT. The server may still have applied
	// the transaction, so callers must re-read before undoing side effects.
	ErrCommitUnknown = errors.New("repository: commit outcome unknown")
)

const (
	uniqueViolation           = "23505"
	invalidTextRepresentation = "22P02"
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// isInvalidTextRepresentation reports a value Postgres could not parse for the
// column type, such as a malformed uuid.
func isInvalidTextRepresentation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == invalidTextRepresentation
}
