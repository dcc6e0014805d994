package quiz

import "time"

// transitions is the whole state machine: today -> day1 -> day7 -> done.
var transitions = map[Status]Status{
	StatusToday: StatusDay1,
	StatusDay1:  StatusDay7,
	StatusDay7:  StatusDone,
	StatusDone:  StatusDone,
}

// expectedAttempts is the attempt count of a quiz that has not yet been
// answered for the occasion named by its status.
var expectedAttempts = map[Status]int{
	StatusToday: 0,
	StatusDay1:  1,
	StatusDay7:  2,
	StatusDone:  3,
}

// Next returns the status that follows s. done is terminal; invalid input
// maps to itself.
func Next(s Status) Status {
	if n, ok := transitions[s]; ok {
		return n
	}
	return s
}

// Transition computes the next status of q and its due time. The due time is
// always re-derived from CreatedAt and is nil for done.
func Transition(q Quiz) (Status, *time.Time) {
	next := Next(q.Status)
	at, ok := DueAt(next, q.CreatedAt)
	if !ok {
		return next, nil
	}
	return next, &at
}

// occasionAnswered reports whether attempts already cover the occasion the
// quiz status names.
func occasionAnswered(status Status, attempts int) bool {
	return attempts > expectedAttempts[status]
}
