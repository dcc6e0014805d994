package quiz

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"reviewbot/internal/eventbus"
	logx "reviewbot/pkg/logx"
)

// Event types published by the ledger and the sweeper.
const (
	EventAnswered      = "quiz.answered"
	EventAdvanced      = "quiz.advanced"
	EventSweepComplete = "sweep.completed"
)

// AnsweredEvent is the payload of EventAnswered.
type AnsweredEvent struct {
	Attempt Attempt `json:"attempt"`
	Status  Status  `json:"status"`
}

// Outcome is the result of a recorded answer: the stored attempt and the quiz
// as it looks after the transition.
type Outcome struct {
	Attempt Attempt
	Quiz    Quiz
}

// Ledger records answer submissions, at most one per (quiz, occasion), and
// drives the state machine forward for each of them.
type Ledger struct {
	repo  Repository
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time
	newID func() string
}

type LedgerOption func(*Ledger)

func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithLedgerIDs(newID func() string) LedgerOption {
	return func(l *Ledger) {
		if newID != nil {
			l.newID = newID
		}
	}
}

func WithLedgerEvents(bus eventbus.Bus) LedgerOption {
	return func(l *Ledger) { l.bus = bus }
}

func NewLedger(repo Repository, log logx.Logger, opts ...LedgerOption) *Ledger {
	if log.IsZero() {
		log = logx.Nop()
	}
	l := &Ledger{
		repo:  repo,
		log:   log,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Record evaluates answer for the quiz and advances it one step.
func (l *Ledger) Record(ctx context.Context, quizID, userID, answer string) (Attempt, error) {
	out, err := l.RecordOutcome(ctx, quizID, userID, answer)
	if err != nil {
		var pw *PartialWriteError
		if errors.As(err, &pw) {
			return pw.Attempt, err
		}
		return Attempt{}, err
	}
	return out.Attempt, nil
}

// RecordOutcome is Record but also returns the advanced quiz.
func (l *Ledger) RecordOutcome(ctx context.Context, quizID, userID, answer string) (Outcome, error) {
	quizID = strings.TrimSpace(quizID)
	userID = strings.TrimSpace(userID)
	switch {
	case quizID == "":
		return Outcome{}, &ValidationError{Field: "quiz_id", Reason: "required"}
	case userID == "":
		return Outcome{}, &ValidationError{Field: "user_id", Reason: "required"}
	case strings.TrimSpace(answer) == "":
		return Outcome{}, &ValidationError{Field: "answer", Reason: "required"}
	}

	q, err := l.repo.GetQuiz(ctx, quizID)
	if err != nil {
		return Outcome{}, err
	}
	if q.UserID != userID {
		// Do not reveal quizzes owned by someone else.
		return Outcome{}, ErrNotFound
	}
	if q.Status.Terminal() {
		return Outcome{}, ErrAlreadyCompleted
	}

	a := Attempt{
		ID:        l.newID(),
		QuizID:    q.ID,
		UserID:    userID,
		Occasion:  q.Status,
		Answer:    answer,
		Correct:   Evaluate(q.Kind, answer, q.Answer),
		CreatedAt: l.now().UTC(),
	}
	next, at := Transition(q)

	if tx, ok := l.repo.(Transactor); ok {
		err := tx.InTx(ctx, func(r Repository) error {
			if err := r.CreateAttempt(ctx, a); err != nil {
				return err
			}
			return r.UpdateQuizStatus(ctx, q.ID, q.Status, next, at)
		})
		if err != nil {
			return Outcome{}, err
		}
	} else {
		if err := l.repo.CreateAttempt(ctx, a); err != nil {
			return Outcome{}, err
		}
		if err := l.advance(ctx, q.ID, q.Status, next, at); err != nil {
			l.log.Warn("attempt stored but quiz not advanced",
				logx.String("quiz_id", q.ID), logx.String("attempt_id", a.ID), logx.Err(err))
			return Outcome{Attempt: a, Quiz: q}, &PartialWriteError{Attempt: a, Err: err}
		}
	}

	q.Status = next
	q.ScheduledAt = at
	l.log.Debug("answer recorded",
		logx.String("quiz_id", q.ID),
		logx.String("occasion", string(a.Occasion)),
		logx.String("status", string(next)),
		logx.Bool("correct", a.Correct))
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: EventAnswered, Data: AnsweredEvent{Attempt: a, Status: next}})
	}
	return Outcome{Attempt: a, Quiz: q}, nil
}

// CompleteTransition retries the quiz update for an attempt whose Record call
// ended in a PartialWriteError. It is a no-op when the quiz has already moved
// past the attempt's occasion.
func (l *Ledger) CompleteTransition(ctx context.Context, a Attempt) (Quiz, error) {
	q, err := l.repo.GetQuiz(ctx, a.QuizID)
	if err != nil {
		return Quiz{}, err
	}
	if q.UserID != a.UserID {
		return Quiz{}, ErrNotFound
	}
	if q.Status != a.Occasion {
		if q.Status == Next(a.Occasion) {
			return q, nil
		}
		return Quiz{}, ErrConcurrencyConflict
	}
	next, at := Transition(q)
	if err := l.advance(ctx, q.ID, q.Status, next, at); err != nil {
		return Quiz{}, err
	}
	q.Status = next
	q.ScheduledAt = at
	return q, nil
}

// advance applies one optimistic status update. Losing to a writer that
// applied the very same transition counts as success.
func (l *Ledger) advance(ctx context.Context, id string, from, to Status, at *time.Time) error {
	err := l.repo.UpdateQuizStatus(ctx, id, from, to, at)
	if err == nil || !errors.Is(err, ErrConcurrencyConflict) {
		return err
	}
	cur, gerr := l.repo.GetQuiz(ctx, id)
	if gerr == nil && cur.Status == to {
		return nil
	}
	return err
}
