// Package scheduler triggers named jobs on cron expressions or fixed
// intervals (robfig/cron) and runs them with a timeout, an overlap policy,
// panic recovery and a bounded run history.
//
// The due sweep is registered here by the app; the scheduler itself knows
// nothing about quizzes.
package scheduler
