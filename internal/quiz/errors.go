package quiz

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to check.
var (
	ErrValidation          = errors.New("quiz: invalid input")
	ErrNotFound            = errors.New("quiz: not found")
	ErrAlreadyCompleted    = errors.New("quiz: already completed")
	ErrConcurrencyConflict = errors.New("quiz: concurrent update")
	ErrPartialWrite        = errors.New("quiz: attempt recorded but quiz update failed")
)

// ValidationError describes malformed caller input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("quiz: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// PartialWriteError is returned by Ledger.Record when the attempt was stored
// but the quiz could not be advanced. Pass Attempt to Ledger.CompleteTransition
// instead of submitting the answer again.
type PartialWriteError struct {
	Attempt Attempt
	Err     error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("quiz %s: attempt %s recorded, status update failed: %v", e.Attempt.QuizID, e.Attempt.ID, e.Err)
}

func (e *PartialWriteError) Is(target error) bool { return target == ErrPartialWrite }

func (e *PartialWriteError) Unwrap() error { return e.Err }

// Retryable reports whether the whole operation may be retried once.
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) && !errors.Is(err, ErrPartialWrite)
}
