package identity

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups that match no identity.
var ErrNotFound = errors.New("identity not found")

// InvalidRowError marks an import row that failed validation. The row is
// skipped and counted; the batch continues.
type InvalidRowError struct {
	Reason string
}

func (e *InvalidRowError) Error() string {
	return "invalid import row: " + e.Reason
}

// IsInvalidRow checks if an error is an InvalidRowError.
func IsInvalidRow(err error) bool {
	var ire *InvalidRowError
	return errors.As(err, &ire)
}

// AliasConflictError is returned when an email address is assigned to an
// identity while already being owned by a different one. This indicates a
// race or an upstream data-integrity bug, so it aborts the current batch
// rather than being recovered per row.
type AliasConflictError struct {
	Email   string
	OwnerID string // identity currently owning the address, when known
}

func (e *AliasConflictError) Error() string {
	if e.OwnerID != "" {
		return fmt.Sprintf("email %s is already owned by identity %s", e.Email, e.OwnerID)
	}
	return fmt.Sprintf("email %s is already owned by another identity", e.Email)
}

// IsAliasConflict checks if an error is an AliasConflictError.
func IsAliasConflict(err error) bool {
	var ace *AliasConflictError
	return errors.As(err, &ace)
}
