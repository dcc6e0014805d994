package storage

import (
	"context"
	"errors"
	"time"

	"reviewbot/internal/quiz"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Path is the database file for sqlite (":memory:" works) and the DSN for
// postgres. It is ignored by the memory driver.
type Config struct {
	Driver       string
	Path         string
	BusyTimeout  time.Duration // sqlite only; 0 means 5s
	MaxOpenConns int           // postgres only; 0 means 10
}

// Store is everything the service needs from persistence.
type Store interface {
	quiz.Repository

	// CreateQuiz inserts a new quiz in status today. ID and CreatedAt are
	// filled in when empty.
	CreateQuiz(ctx context.Context, q quiz.Quiz) (quiz.Quiz, error)

	// ListDue returns the user's quizzes that wait for an answer at now,
	// oldest first.
	ListDue(ctx context.Context, userID string, now time.Time, limit int) ([]quiz.Quiz, error)

	// GetAttempt loads one attempt by id; quiz.ErrNotFound when missing.
	GetAttempt(ctx context.Context, id string) (quiz.Attempt, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

func prepareQuiz(q quiz.Quiz, newID func() string, now time.Time) (quiz.Quiz, error) {
	if q.UserID == "" {
		return q, &quiz.ValidationError{Field: "user_id", Reason: "required"}
	}
	if !q.Kind.Valid() {
		return q, &quiz.ValidationError{Field: "kind", Reason: "must be cloze or true_false"}
	}
	if q.Question == "" {
		return q, &quiz.ValidationError{Field: "question", Reason: "required"}
	}
	if q.ID == "" {
		q.ID = newID()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	q.CreatedAt = q.CreatedAt.UTC().Truncate(time.Millisecond)
	q.Status = quiz.StatusToday
	q.ScheduledAt = nil
	return q, nil
}
