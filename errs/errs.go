// Package errs implements the error taxonomy of spec.md §7 as sentinel
// errors and small wrapped types, following the teacher's own mix of plain
// wrapped fmt.Errorf values and richer typed errors
// (*types.ConditionalCheckFailedException in ddbstore/store_put_item.go).
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors comparable with errors.Is. NotFound is intentionally not
// among them: spec.md §7 treats a missing record as an absent result, not a
// raised error (Store.Load returns (nil, false, nil), not an error).
var (
	ErrInvalidTransition = errors.New("recordlayer: invalid index state transition")
	ErrInvalidArgument   = errors.New("recordlayer: invalid argument")
	ErrTransactionConflict = errors.New("recordlayer: transaction conflict")
	ErrCancelled         = errors.New("recordlayer: operation cancelled")
	ErrSerialization     = errors.New("recordlayer: serialization error")
)

// UniqueViolation reports that a unique value-index insert would create a
// second index entry for a key tuple already owned by a different primary
// key (spec.md §4.2, invariant 3).
type UniqueViolation struct {
	Index       string
	ExistingPK  string
	AttemptedPK string
}

func (e *UniqueViolation) Error() string {
	return fmt.Sprintf("recordlayer: unique index %q already has an entry for primary key %s (attempted %s)",
		e.Index, e.ExistingPK, e.AttemptedPK)
}

// Is lets errors.Is(err, ErrUniqueViolation) match any *UniqueViolation.
func (e *UniqueViolation) Is(target error) bool {
	_, ok := target.(*UniqueViolation)
	return ok
}

// ErrUniqueViolation is a matchable sentinel for errors.Is checks against
// any *UniqueViolation value.
var ErrUniqueViolation = &UniqueViolation{}

// InvalidArgumentf builds an ErrInvalidArgument-wrapping error with a
// formatted message, surfaced synchronously before any KV call per §7.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
