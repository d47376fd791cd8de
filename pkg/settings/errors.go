package settings

import (
	"errors"
	"fmt"
)

// PathConflictError marks a batch of flattened pairs that cannot coexist:
// one path addresses a scalar where another needs a branch (or vice versa).
// The whole submitted batch is rejected; nothing is partially applied.
type PathConflictError struct {
	Path string
}

func (e *PathConflictError) Error() string {
	return fmt.Sprintf("path conflict at %s", e.Path)
}

// IsPathConflict checks if an error is a PathConflictError.
func IsPathConflict(err error) bool {
	var pce *PathConflictError
	return errors.As(err, &pce)
}

// MergeConflictError marks two trees defining structurally different values
// at the same key path.
type MergeConflictError struct {
	Path string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("conflict at %s", e.Path)
}

// IsMergeConflict checks if an error is a MergeConflictError.
func IsMergeConflict(err error) bool {
	var mce *MergeConflictError
	return errors.As(err, &mce)
}

// IsConflict reports whether err is either kind of settings conflict. Both
// reject the whole write request.
func IsConflict(err error) bool {
	return IsPathConflict(err) || IsMergeConflict(err)
}

// NotFoundError marks a deletion request addressing a path that does not
// exist in the stored tree.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no settings at %s", e.Path)
}

// IsNotFound checks if an error is a NotFoundError.
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// MultipleChoicesError marks an update target matching more than one stored
// row. The root-key uniqueness invariant makes this structurally impossible,
// so it is surfaced distinctly from ordinary conflicts for alerting.
type MultipleChoicesError struct {
	RootKey string
	Count   int
}

func (e *MultipleChoicesError) Error() string {
	return fmt.Sprintf("%d rows stored for root key %q, expected at most one", e.Count, e.RootKey)
}

// IsMultipleChoices checks if an error is a MultipleChoicesError.
func IsMultipleChoices(err error) bool {
	var mme *MultipleChoicesError
	return errors.As(err, &mme)
}
