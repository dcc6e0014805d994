package quiz

import (
	"testing"
	"time"
)

func TestComputeSchedule(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	cases := []time.Time{
		t0,
		time.Date(2024, 2, 28, 23, 59, 59, 0, time.UTC),
		time.Date(2024, 3, 31, 1, 30, 0, 0, jakarta),
		time.Unix(0, 0),
	}
	for _, created := range cases {
		sc := ComputeSchedule(created)
		if !sc.Day1.Equal(created.Add(24 * time.Hour)) {
			t.Fatalf("Day1(%v) = %v", created, sc.Day1)
		}
		if !sc.Day7.Equal(created.Add(168 * time.Hour)) {
			t.Fatalf("Day7(%v) = %v", created, sc.Day7)
		}
		if !sc.Day1.Before(sc.Day7) {
			t.Fatalf("Day1 %v not before Day7 %v", sc.Day1, sc.Day7)
		}
		if sc.Day1.Location() != time.UTC || sc.Day7.Location() != time.UTC {
			t.Fatalf("schedule not in UTC: %v %v", sc.Day1.Location(), sc.Day7.Location())
		}
		if again := ComputeSchedule(created); again != sc {
			t.Fatalf("not idempotent: %v vs %v", again, sc)
		}
	}
}

func TestDueAt(t *testing.T) {
	tests := []struct {
		status Status
		want   time.Time
		ok     bool
	}{
		{StatusToday, time.Time{}, false},
		{StatusDay1, t0.Add(24 * time.Hour), true},
		{StatusDay7, t0.Add(168 * time.Hour), true},
		{StatusDone, time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := DueAt(tt.status, t0)
		if ok != tt.ok || !got.Equal(tt.want) {
			t.Fatalf("DueAt(%s) = %v,%v want %v,%v", tt.status, got, ok, tt.want, tt.ok)
		}
	}
}
