// Package storage persists quizzes, attempts and notifier dedup state.
//
// Drivers:
//   - "sqlite": pure-Go SQLite (modernc.org/sqlite), WAL, one writer
//   - "postgres": PostgreSQL through pgx's database/sql driver
//   - "memory": in-process maps, no transactions (tests and dry runs)
//
// The SQL store implements quiz.Transactor so an attempt and its status
// update commit together. The memory store does not.
package storage
