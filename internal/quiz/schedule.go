package quiz

import "time"

const (
	Day1Offset = 24 * time.Hour
	Day7Offset = 7 * 24 * time.Hour
)

// Schedule holds the two future due times of a quiz.
type Schedule struct {
	Day1 time.Time
	Day7 time.Time
}

// ComputeSchedule derives both due times from the creation time. All
// arithmetic happens in UTC; callers convert for display.
func ComputeSchedule(createdAt time.Time) Schedule {
	base := createdAt.UTC()
	return Schedule{
		Day1: base.Add(Day1Offset),
		Day7: base.Add(Day7Offset),
	}
}

// DueAt returns the due time that belongs to status, anchored at createdAt.
// today and done have no due time.
func DueAt(status Status, createdAt time.Time) (time.Time, bool) {
	sc := ComputeSchedule(createdAt)
	switch status {
	case StatusDay1:
		return sc.Day1, true
	case StatusDay7:
		return sc.Day7, true
	default:
		return time.Time{}, false
	}
}
