package quiz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"reviewbot/internal/eventbus"
	logx "reviewbot/pkg/logx"
)

const defaultSweepBatch = 200

// SweepConfig controls one sweep pass.
type SweepConfig struct {
	// BatchSize bounds the rows read per status in one pass.
	BatchSize int
	// ReconcileToday enables the today phase, which repairs quizzes whose
	// first attempt was stored without the matching status update.
	ReconcileToday bool
	// Reminders sends a notification for due quizzes that are still unanswered.
	Reminders bool
}

// SweepError is a per-quiz failure; it never aborts the pass.
type SweepError struct {
	QuizID string
	Status Status
	Err    error
}

func (e SweepError) Error() string {
	if e.QuizID == "" {
		return fmt.Sprintf("sweep %s: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("sweep %s quiz %s: %v", e.Status, e.QuizID, e.Err)
}

func (e SweepError) Unwrap() error { return e.Err }

// SweepReport summarises one pass.
type SweepReport struct {
	At       time.Time
	Advanced map[Status]int
	Reminded int
	Pending  int
	Errors   []SweepError
	Took     time.Duration
}

// Total returns the number of advanced quizzes over all statuses.
func (r SweepReport) Total() int {
	n := 0
	for _, v := range r.Advanced {
		n += v
	}
	return n
}

// Err joins the per-quiz errors (nil if none).
func (r SweepReport) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}

// ReminderFunc renders the reminder sent for a due quiz.
type ReminderFunc func(q Quiz) Message

// Sweeper advances quizzes whose due time has passed and whose current
// occasion is already answered. Unanswered due quizzes stay pending and their
// owners are reminded.
type Sweeper struct {
	repo     Repository
	notifier Notifier
	log      logx.Logger
	bus      eventbus.Bus
	remind   ReminderFunc

	mu  sync.Mutex
	cfg SweepConfig
}

type SweeperOption func(*Sweeper)

func WithSweepEvents(bus eventbus.Bus) SweeperOption {
	return func(s *Sweeper) { s.bus = bus }
}

func WithReminder(fn ReminderFunc) SweeperOption {
	return func(s *Sweeper) {
		if fn != nil {
			s.remind = fn
		}
	}
}

func NewSweeper(repo Repository, notifier Notifier, cfg SweepConfig, log logx.Logger, opts ...SweeperOption) *Sweeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sweeper{
		repo:     repo,
		notifier: notifier,
		log:      log,
		remind:   DefaultReminder,
	}
	s.Apply(cfg)
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply swaps the sweep settings; the next pass uses them.
func (s *Sweeper) Apply(cfg SweepConfig) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultSweepBatch
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Sweeper) config() SweepConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Sweep runs one pass over today, day1 and day7. Running it again with the
// same now advances nothing.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) SweepReport {
	start := time.Now()
	cfg := s.config()
	now = now.UTC()
	rep := SweepReport{At: now, Advanced: map[Status]int{}}

	for _, status := range SweepOrder {
		if status == StatusToday && !cfg.ReconcileToday {
			continue
		}
		if err := ctx.Err(); err != nil {
			rep.Errors = append(rep.Errors, SweepError{Status: status, Err: err})
			break
		}
		due, err := s.repo.FindQuizzesDueForSweep(ctx, status, now, cfg.BatchSize)
		if err != nil {
			rep.Errors = append(rep.Errors, SweepError{Status: status, Err: err})
			continue
		}
		for _, dq := range due {
			if ctx.Err() != nil {
				rep.Errors = append(rep.Errors, SweepError{Status: status, Err: ctx.Err()})
				break
			}
			res, err := s.sweepOne(ctx, dq, cfg)
			if err != nil {
				rep.Errors = append(rep.Errors, SweepError{QuizID: dq.ID, Status: status, Err: err})
				continue
			}
			switch res {
			case sweepAdvanced:
				rep.Advanced[status]++
			case sweepReminded:
				rep.Reminded++
				rep.Pending++
			case sweepPending:
				rep.Pending++
			}
		}
	}
	rep.Took = time.Since(start)

	fields := []logx.Field{
		logx.Int("advanced", rep.Total()),
		logx.Int("pending", rep.Pending),
		logx.Int("reminded", rep.Reminded),
		logx.Int("errors", len(rep.Errors)),
		logx.Duration("took", rep.Took),
	}
	if len(rep.Errors) > 0 {
		s.log.Warn("sweep finished with errors", append(fields, logx.Err(rep.Err()))...)
	} else {
		s.log.Debug("sweep finished", fields...)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventSweepComplete, Data: rep})
	}
	return rep
}

type sweepResult int

const (
	sweepPending sweepResult = iota
	sweepAdvanced
	sweepReminded
)

func (s *Sweeper) sweepOne(ctx context.Context, dq DueQuiz, cfg SweepConfig) (res sweepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if !dq.Status.Valid() || dq.Status.Terminal() {
		return sweepPending, fmt.Errorf("unexpected status %q", dq.Status)
	}

	if occasionAnswered(dq.Status, dq.Attempts) {
		next, at := Transition(dq.Quiz)
		if err := s.repo.UpdateQuizStatus(ctx, dq.ID, dq.Status, next, at); err != nil {
			return sweepPending, err
		}
		s.log.Info("quiz advanced by sweep",
			logx.String("quiz_id", dq.ID),
			logx.String("from", string(dq.Status)),
			logx.String("to", string(next)))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: EventAdvanced, Data: map[string]string{
				"quiz_id": dq.ID, "from": string(dq.Status), "to": string(next),
			}})
		}
		return sweepAdvanced, nil
	}

	if !cfg.Reminders || s.notifier == nil || dq.Status == StatusToday {
		return sweepPending, nil
	}
	msg := s.remind(dq.Quiz)
	if err := s.notifier.Deliver(ctx, dq.UserID, msg); err != nil {
		// Reminders are best-effort; the quiz stays due either way.
		s.log.Warn("reminder delivery failed", logx.String("quiz_id", dq.ID), logx.String("user_id", dq.UserID), logx.Err(err))
		return sweepPending, nil
	}
	return sweepReminded, nil
}

// DefaultReminder is the plain-text reminder used when no ReminderFunc is set.
func DefaultReminder(q Quiz) Message {
	return Message{
		Key:  "remind:" + q.ID + ":" + string(q.Status),
		Text: fmt.Sprintf("Time to review (%s): %s\nReply with /answer %s <your answer>", q.Status, q.Question, q.ID),
	}
}
