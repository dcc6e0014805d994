package quiz

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memRepo is a non-transactional Repository with optional fault injection.
type memRepo struct {
	mu       sync.Mutex
	quizzes  map[string]Quiz
	attempts []Attempt

	updateErr error
	findErr   map[Status]error
	onUpdate  func(id string)
}

func newMemRepo(qs ...Quiz) *memRepo {
	r := &memRepo{quizzes: map[string]Quiz{}, findErr: map[Status]error{}}
	for _, q := range qs {
		r.quizzes[q.ID] = q
	}
	return r
}

func (r *memRepo) GetQuiz(_ context.Context, id string) (Quiz, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quizzes[id]
	if !ok {
		return Quiz{}, ErrNotFound
	}
	return q, nil
}

func (r *memRepo) UpdateQuizStatus(_ context.Context, id string, expected, next Status, at *time.Time) error {
	if r.onUpdate != nil {
		r.onUpdate(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	q, ok := r.quizzes[id]
	if !ok {
		return ErrNotFound
	}
	if q.Status != expected {
		return ErrConcurrencyConflict
	}
	q.Status = next
	q.ScheduledAt = at
	r.quizzes[id] = q
	return nil
}

func (r *memRepo) CreateAttempt(_ context.Context, a Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.attempts {
		if x.QuizID == a.QuizID && x.Occasion == a.Occasion {
			return ErrConcurrencyConflict
		}
	}
	r.attempts = append(r.attempts, a)
	return nil
}

func (r *memRepo) FindQuizzesDueForSweep(_ context.Context, status Status, now time.Time, limit int) ([]DueQuiz, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.findErr[status]; err != nil {
		return nil, err
	}
	var out []DueQuiz
	for _, q := range r.quizzes {
		if q.Status != status {
			continue
		}
		n := r.countLocked(q.ID)
		if status == StatusToday {
			if n == 0 {
				continue
			}
		} else if q.ScheduledAt == nil || q.ScheduledAt.After(now) {
			continue
		}
		out = append(out, DueQuiz{Quiz: q, Attempts: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) CountAttempts(_ context.Context, quizID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked(quizID), nil
}

func (r *memRepo) countLocked(id string) int {
	n := 0
	for _, a := range r.attempts {
		if a.QuizID == id {
			n++
		}
	}
	return n
}

func (r *memRepo) quiz(id string) Quiz {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quizzes[id]
}

// txRepo runs InTx against a copy and commits only on success.
type txRepo struct {
	*memRepo
	txMu sync.Mutex
}

func (r *txRepo) InTx(ctx context.Context, fn func(tx Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	snap := &memRepo{quizzes: map[string]Quiz{}, findErr: r.findErr, updateErr: r.updateErr}
	for k, v := range r.quizzes {
		snap.quizzes[k] = v
	}
	snap.attempts = append([]Attempt(nil), r.attempts...)
	r.mu.Unlock()

	if err := fn(snap); err != nil {
		return err
	}
	r.mu.Lock()
	r.quizzes = snap.quizzes
	r.attempts = snap.attempts
	r.mu.Unlock()
	return nil
}

type recordedDelivery struct {
	UserID string
	Msg    Message
}

type fakeNotifier struct {
	mu   sync.Mutex
	err  error
	sent []recordedDelivery
}

func (n *fakeNotifier) Deliver(_ context.Context, userID string, msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, recordedDelivery{UserID: userID, Msg: msg})
	return nil
}

var t0 = time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)

func newQuiz(id string, kind Kind, answer string) Quiz {
	return Quiz{
		ID:        id,
		UserID:    "42",
		Kind:      kind,
		Question:  "question " + id,
		Answer:    answer,
		Status:    StatusToday,
		CreatedAt: t0,
	}
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func seqIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + string(rune('0'+n))
	}
}
