package quiz

import (
	"testing"
	"time"
)

func TestNext(t *testing.T) {
	if got := Next(Next(Next(StatusToday))); got != StatusDone {
		t.Fatalf("three steps from today = %s, want done", got)
	}
	if got := Next(StatusDone); got != StatusDone {
		t.Fatalf("Next(done) = %s", got)
	}
	if got := Next(Status("bogus")); got != Status("bogus") {
		t.Fatalf("Next(bogus) = %s", got)
	}
}

func TestTransitionAnchorsAtCreation(t *testing.T) {
	q := newQuiz("q1", KindCloze, "x")

	want := []struct {
		status Status
		at     *time.Time
	}{
		{StatusDay1, ptr(t0.Add(24 * time.Hour))},
		{StatusDay7, ptr(t0.Add(168 * time.Hour))},
		{StatusDone, nil},
		{StatusDone, nil},
	}
	for i, w := range want {
		next, at := Transition(q)
		if next != w.status {
			t.Fatalf("step %d: status = %s, want %s", i, next, w.status)
		}
		switch {
		case w.at == nil && at != nil:
			t.Fatalf("step %d: scheduled_at = %v, want nil", i, *at)
		case w.at != nil && (at == nil || !at.Equal(*w.at)):
			t.Fatalf("step %d: scheduled_at = %v, want %v", i, at, *w.at)
		}
		q.Status, q.ScheduledAt = next, at
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"today", "day1", "day7", "done"} {
		if _, err := ParseStatus(s); err != nil {
			t.Fatalf("ParseStatus(%q): %v", s, err)
		}
	}
	if _, err := ParseStatus("day3"); err == nil {
		t.Fatal("ParseStatus(day3) accepted")
	}
}

func TestQuizDue(t *testing.T) {
	q := newQuiz("q1", KindCloze, "x")
	if !q.Due(t0) {
		t.Fatal("today quiz should be due")
	}
	q.Status, q.ScheduledAt = Transition(q)
	if q.Due(t0.Add(23 * time.Hour)) {
		t.Fatal("day1 quiz due before its time")
	}
	if !q.Due(t0.Add(24 * time.Hour)) {
		t.Fatal("day1 quiz not due at its time")
	}
	q.Status, q.ScheduledAt = StatusDone, nil
	if q.Due(t0.Add(1000 * time.Hour)) {
		t.Fatal("done quiz reported due")
	}
}

func ptr(t time.Time) *time.Time { return &t }
