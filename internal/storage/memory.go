package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"reviewbot/internal/quiz"
)

// Memory is an in-process Store. Every call is atomic on its own but there
// is no InTx, so the ledger takes its two-step path against it.
type Memory struct {
	mu       sync.RWMutex
	closed   bool
	quizzes  map[string]quiz.Quiz
	attempts map[string][]quiz.Attempt // by quiz id
	dedup    map[string]time.Time
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		quizzes:  map[string]quiz.Quiz{},
		attempts: map[string][]quiz.Attempt{},
		dedup:    map[string]time.Time{},
		now:      time.Now,
	}
}

func (m *Memory) GetQuiz(_ context.Context, id string) (quiz.Quiz, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return quiz.Quiz{}, ErrClosed
	}
	q, ok := m.quizzes[id]
	if !ok {
		return quiz.Quiz{}, quiz.ErrNotFound
	}
	return cloneQuiz(q), nil
}

func (m *Memory) CreateQuiz(_ context.Context, q quiz.Quiz) (quiz.Quiz, error) {
	q, err := prepareQuiz(q, uuid.NewString, m.now())
	if err != nil {
		return quiz.Quiz{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return quiz.Quiz{}, ErrClosed
	}
	if _, dup := m.quizzes[q.ID]; dup {
		return quiz.Quiz{}, &quiz.ValidationError{Field: "id", Reason: "already exists"}
	}
	m.quizzes[q.ID] = q
	return q, nil
}

func (m *Memory) UpdateQuizStatus(_ context.Context, id string, expected, next quiz.Status, scheduledAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	q, ok := m.quizzes[id]
	if !ok {
		return quiz.ErrNotFound
	}
	if q.Status != expected {
		return fmt.Errorf("quiz %s not in status %s: %w", id, expected, quiz.ErrConcurrencyConflict)
	}
	q.Status = next
	q.ScheduledAt = nil
	if scheduledAt != nil {
		at := scheduledAt.UTC()
		q.ScheduledAt = &at
	}
	m.quizzes[id] = q
	return nil
}

func (m *Memory) CreateAttempt(_ context.Context, a quiz.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.quizzes[a.QuizID]; !ok {
		return quiz.ErrNotFound
	}
	for _, x := range m.attempts[a.QuizID] {
		if x.Occasion == a.Occasion {
			return fmt.Errorf("attempt for quiz %s occasion %s exists: %w", a.QuizID, a.Occasion, quiz.ErrConcurrencyConflict)
		}
	}
	m.attempts[a.QuizID] = append(m.attempts[a.QuizID], a)
	return nil
}

func (m *Memory) GetAttempt(_ context.Context, id string) (quiz.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return quiz.Attempt{}, ErrClosed
	}
	for _, list := range m.attempts {
		for _, a := range list {
			if a.ID == id {
				return a, nil
			}
		}
	}
	return quiz.Attempt{}, quiz.ErrNotFound
}

func (m *Memory) CountAttempts(_ context.Context, quizID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return len(m.attempts[quizID]), nil
}

func (m *Memory) FindQuizzesDueForSweep(_ context.Context, status quiz.Status, now time.Time, limit int) ([]quiz.DueQuiz, error) {
	if limit <= 0 {
		limit = 200
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	var out []quiz.DueQuiz
	for _, q := range m.quizzes {
		if q.Status != status {
			continue
		}
		n := len(m.attempts[q.ID])
		switch status {
		case quiz.StatusToday:
			if n == 0 {
				continue
			}
		case quiz.StatusDay1, quiz.StatusDay7:
			if q.ScheduledAt == nil || q.ScheduledAt.After(now) {
				continue
			}
		default:
			return nil, fmt.Errorf("no sweep for status %q", status)
		}
		out = append(out, quiz.DueQuiz{Quiz: cloneQuiz(q), Attempts: n})
	}
	sort.Slice(out, func(i, j int) bool { return dueBefore(out[i].Quiz, out[j].Quiz) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListDue(_ context.Context, userID string, now time.Time, limit int) ([]quiz.Quiz, error) {
	if limit <= 0 {
		limit = 20
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []quiz.Quiz
	for _, q := range m.quizzes {
		if q.UserID == userID && q.Due(now) {
			out = append(out, cloneQuiz(q))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) PutDedup(_ context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	now := m.now()
	for k, v := range m.dedup {
		if v.Before(now) {
			delete(m.dedup, k)
		}
	}
	m.dedup[key] = until
	return nil
}

func (m *Memory) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return time.Time{}, false, ErrClosed
	}
	until, ok := m.dedup[key]
	return until, ok, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Attempts returns a copy of the attempts stored for quizID.
func (m *Memory) Attempts(quizID string) []quiz.Attempt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]quiz.Attempt(nil), m.attempts[quizID]...)
}

func cloneQuiz(q quiz.Quiz) quiz.Quiz {
	if q.ScheduledAt != nil {
		at := *q.ScheduledAt
		q.ScheduledAt = &at
	}
	return q
}

// dueBefore orders sweep candidates like the SQL store: by due time, then
// creation, then id.
func dueBefore(a, b quiz.Quiz) bool {
	if a.ScheduledAt != nil && b.ScheduledAt != nil && !a.ScheduledAt.Equal(*b.ScheduledAt) {
		return a.ScheduledAt.Before(*b.ScheduledAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
