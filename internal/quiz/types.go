package quiz

import (
	"fmt"
	"time"
)

// Status is the review occasion a quiz is waiting for.
type Status string

const (
	StatusToday Status = "today"
	StatusDay1  Status = "day1"
	StatusDay7  Status = "day7"
	StatusDone  Status = "done"
)

// SweepOrder is the order in which the sweep visits non-terminal statuses.
var SweepOrder = [...]Status{StatusToday, StatusDay1, StatusDay7}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) Terminal() bool { return s == StatusDone }

// ParseStatus accepts the stored representation of a status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("quiz: invalid status %q", raw)
	}
	return s, nil
}

// Kind is the question type; it selects the answer matching rule.
type Kind string

const (
	KindCloze     Kind = "cloze"
	KindTrueFalse Kind = "true_false"
)

func (k Kind) Valid() bool { return k == KindCloze || k == KindTrueFalse }

// Quiz is one generated review item owned by a single user.
//
// ScheduledAt is set iff Status is day1 or day7.
type Quiz struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Kind        Kind       `json:"kind"`
	Question    string     `json:"question"`
	Answer      string     `json:"-"`
	Status      Status     `json:"status"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Due reports whether the quiz is waiting for an answer at now.
func (q Quiz) Due(now time.Time) bool {
	switch q.Status {
	case StatusToday:
		return true
	case StatusDay1, StatusDay7:
		return q.ScheduledAt != nil && !q.ScheduledAt.After(now)
	default:
		return false
	}
}

// Attempt is an immutable answer submission. Occasion is the quiz status the
// answer was given for; (QuizID, Occasion) is unique.
type Attempt struct {
	ID        string    `json:"id"`
	QuizID    string    `json:"quiz_id"`
	UserID    string    `json:"user_id"`
	Occasion  Status    `json:"occasion"`
	Answer    string    `json:"answer"`
	Correct   bool      `json:"is_correct"`
	CreatedAt time.Time `json:"created_at"`
}

// DueQuiz is a sweep candidate together with its recorded attempt count.
type DueQuiz struct {
	Quiz
	Attempts int
}

// Message is a user-facing notification produced by the core.
type Message struct {
	// Key deduplicates repeated deliveries of the same reminder.
	Key  string
	Text string
}
