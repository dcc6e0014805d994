package quiz

import (
	"context"
	"time"
)

// Repository is the storage collaborator of the scheduler core.
type Repository interface {
	GetQuiz(ctx context.Context, id string) (Quiz, error)

	// UpdateQuizStatus moves a quiz from expected to next. It must fail with
	// ErrConcurrencyConflict when the stored status is no longer expected.
	UpdateQuizStatus(ctx context.Context, id string, expected, next Status, scheduledAt *time.Time) error

	// CreateAttempt appends an attempt. A second attempt for the same
	// (quiz, occasion) must fail with ErrConcurrencyConflict.
	CreateAttempt(ctx context.Context, a Attempt) error

	// FindQuizzesDueForSweep returns at most limit quizzes in status that the
	// sweep should look at: scheduled_at <= now for day1/day7, and quizzes
	// with at least one attempt for today.
	FindQuizzesDueForSweep(ctx context.Context, status Status, now time.Time, limit int) ([]DueQuiz, error)

	CountAttempts(ctx context.Context, quizID string) (int, error)
}

// Transactor is implemented by repositories that can run several writes
// atomically. fn receives a Repository bound to the transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx Repository) error) error
}

// Notifier delivers messages to users. Delivery is fire-and-forget for the
// core: errors are logged, never retried here.
type Notifier interface {
	Deliver(ctx context.Context, userID string, msg Message) error
}
