package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reviewbot/internal/quiz"
	logx "reviewbot/pkg/logx"
)

func (r *Router) handleHelp(ctx context.Context, req *Request) error {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range r.Commands() {
		b.WriteString("/" + c.Command + " - " + c.Description + "\n")
	}
	b.WriteString("\nAfter /quiz you can also just send your answer as a message.")
	r.reply(ctx, req, b.String())
	return nil
}

// handleShow serves /start <id> and /quiz <id>.
func (r *Router) handleShow(ctx context.Context, req *Request) error {
	id := firstField(req.Rest)
	if id == "" {
		if req.Command == "start" {
			r.reply(ctx, req, "Hi! Use /due to see what is waiting for review.")
			return nil
		}
		r.reply(ctx, req, "usage: /quiz <quiz_id>")
		return nil
	}
	q, err := r.store.GetQuiz(ctx, id)
	if errors.Is(err, quiz.ErrNotFound) || (err == nil && q.UserID != req.UserID) {
		r.reply(ctx, req, "quiz not found")
		return nil
	}
	if err != nil {
		return err
	}
	if q.Status.Terminal() {
		r.reply(ctx, req, "this quiz is already completed")
		return nil
	}
	now := r.now()
	if !q.Due(now) {
		r.reply(ctx, req, fmt.Sprintf("not due yet, next review %s", formatTime(*q.ScheduledAt)))
		return nil
	}
	r.sessions.set(req.Chat.ChatID, req.UserID, q.ID)
	r.reply(ctx, req, formatQuestion(q))
	return nil
}

func (r *Router) handleDue(ctx context.Context, req *Request) error {
	list, err := r.store.ListDue(ctx, req.UserID, r.now(), r.cfg.DueLimit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		r.reply(ctx, req, "nothing to review right now")
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d quiz(zes) due:\n", len(list))
	for _, q := range list {
		fmt.Fprintf(&b, "- [%s] %s\n  /quiz %s\n", q.Status, truncate(q.Question, 80), q.ID)
	}
	r.reply(ctx, req, strings.TrimRight(b.String(), "\n"))
	return nil
}

func (r *Router) handleAnswer(ctx context.Context, req *Request) error {
	id := firstField(req.Rest)
	answer := strings.TrimSpace(strings.TrimPrefix(req.Rest, id))
	if id == "" || answer == "" {
		r.reply(ctx, req, "usage: /answer <quiz_id> <your answer>")
		return nil
	}
	return r.record(ctx, req, id, answer)
}

// handleReply takes a plain message as the answer to the quiz last shown in
// the chat.
func (r *Router) handleReply(ctx context.Context, req *Request) error {
	id, ok := r.sessions.take(req.Chat.ChatID, req.UserID)
	if !ok {
		r.reply(ctx, req, "open a quiz with /quiz <id> or see /due first")
		return nil
	}
	return r.record(ctx, req, id, req.Rest)
}

func (r *Router) record(ctx context.Context, req *Request, quizID, answer string) error {
	// The ledger accepts an answer for the current occasion at any time; the
	// bot only takes it once the occasion is due.
	q, err := r.store.GetQuiz(ctx, quizID)
	switch {
	case errors.Is(err, quiz.ErrNotFound) || (err == nil && q.UserID != req.UserID):
		r.reply(ctx, req, "quiz not found")
		return nil
	case err != nil:
		return err
	case !q.Status.Terminal() && !q.Due(r.now()):
		r.reply(ctx, req, fmt.Sprintf("not due yet, next review %s", formatTime(*q.ScheduledAt)))
		return nil
	}

	out, err := r.ledger.RecordOutcome(ctx, quizID, req.UserID, answer)
	var pw *quiz.PartialWriteError
	if errors.As(err, &pw) {
		req.Log.Warn("completing partial write", logx.String("quiz_id", quizID), logx.String("attempt_id", pw.Attempt.ID))
		q, cerr := r.ledger.CompleteTransition(ctx, pw.Attempt)
		if cerr != nil {
			req.Log.Warn("complete transition failed", logx.String("quiz_id", quizID), logx.Err(cerr))
			r.reply(ctx, req, resultText(pw.Attempt, nil)+"\nYour answer is saved; the schedule will catch up shortly.")
			return nil
		}
		out, err = quiz.Outcome{Attempt: pw.Attempt, Quiz: q}, nil
	}
	switch {
	case err == nil:
	case errors.Is(err, quiz.ErrValidation):
		r.reply(ctx, req, "the answer cannot be empty")
		return nil
	case errors.Is(err, quiz.ErrNotFound):
		r.reply(ctx, req, "quiz not found")
		return nil
	case errors.Is(err, quiz.ErrAlreadyCompleted):
		r.reply(ctx, req, "this quiz is already completed")
		return nil
	case errors.Is(err, quiz.ErrConcurrencyConflict):
		r.reply(ctx, req, "this review was already answered")
		return nil
	default:
		return err
	}
	r.sessions.clear(req.Chat.ChatID, quizID)
	r.reply(ctx, req, resultText(out.Attempt, &out.Quiz))
	return nil
}

func resultText(a quiz.Attempt, q *quiz.Quiz) string {
	var b strings.Builder
	if a.Correct {
		b.WriteString("Correct!")
	} else {
		b.WriteString("Not quite.")
		if q != nil && q.Answer != "" {
			b.WriteString(" Answer: " + q.Answer)
		}
	}
	if q == nil {
		return b.String()
	}
	switch {
	case q.Status == quiz.StatusDone:
		b.WriteString("\nAll reviews of this quiz are done.")
	case q.ScheduledAt != nil:
		fmt.Fprintf(&b, "\nNext review (%s): %s", q.Status, formatTime(*q.ScheduledAt))
	}
	return b.String()
}

func formatQuestion(q quiz.Quiz) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review (%s)\n\n%s", q.Status, q.Question)
	switch q.Kind {
	case quiz.KindTrueFalse:
		b.WriteString("\n\nReply with true or false.")
	case quiz.KindCloze:
		b.WriteString("\n\nReply with the missing word(s).")
	}
	return b.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

func firstField(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n-3]) + "..."
}
