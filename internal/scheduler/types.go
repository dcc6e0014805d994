package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Config controls the scheduler service.
type Config struct {
	Enabled        bool
	Timezone       string // IANA TZ, e.g. "Asia/Jakarta"; empty means Local
	DefaultTimeout time.Duration
	HistorySize    int
}

type OverlapPolicy int

const (
	OverlapSkipIfRunning OverlapPolicy = iota
	OverlapAllow
)

// JobOptions tune a single schedule.
type JobOptions struct {
	Overlap OverlapPolicy
	// Timeout bounds one run; 0 uses Config.DefaultTimeout.
	Timeout time.Duration
}

// Job is the unit of work. ctx carries the run timeout.
type Job func(ctx context.Context) error

// EventRun is published on the bus after each run.
const EventRun = "scheduler.run"

// HistoryItem describes one finished (or skipped) run.
type HistoryItem struct {
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Skipped  bool          `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
	Running bool
}

type Snapshot struct {
	Enabled   bool
	Timezone  string
	Schedules []ScheduleInfo
	History   []HistoryItem
}

type scheduleDef struct {
	name    string
	spec    string // normalized cron spec or "@every <d>"
	every   time.Duration
	opt     JobOptions
	job     Job
	entryID cron.EntryID
	spread  time.Duration
	running *atomic.Bool
}
