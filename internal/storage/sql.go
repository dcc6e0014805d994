package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"reviewbot/internal/quiz"
	logx "reviewbot/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

// queryer is the part of *sql.DB and *sql.Tx the store uses.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlStore struct {
	db      *sql.DB
	q       queryer
	dialect dialect
	log     logx.Logger
	now     func() time.Time

	opCount    *atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, busy.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; this also keeps ":memory:" on one
	// connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return newSQLStore(db, dialectSQLite, log)
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.Path)
	if dsn == "" {
		return nil, errors.New("postgres dsn (storage.path) is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return newSQLStore(db, dialectPostgres, log)
}

func newSQLStore(db *sql.DB, d dialect, log logx.Logger) (*sqlStore, error) {
	st := &sqlStore{
		db:         db,
		q:          db,
		dialect:    d,
		log:        log.With(logx.String("driver", d.String())),
		now:        time.Now,
		opCount:    new(atomic.Uint64),
		pruneEvery: 500,
	}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, stmt := range statements(schemaSQL) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InTx runs fn against a store bound to one transaction and commits when fn
// returns nil.
func (s *sqlStore) InTx(ctx context.Context, fn func(tx quiz.Repository) error) (err error) {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	bound := *s
	bound.q = tx
	if err = fn(&bound); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

const quizColumns = `q.id, q.user_id, q.kind, q.question, q.answer, q.status, q.scheduled_at, q.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuiz(r rowScanner, extra ...any) (quiz.Quiz, error) {
	var (
		q         quiz.Quiz
		kind      string
		status    string
		scheduled sql.NullInt64
		created   int64
	)
	dest := append([]any{&q.ID, &q.UserID, &kind, &q.Question, &q.Answer, &status, &scheduled, &created}, extra...)
	if err := r.Scan(dest...); err != nil {
		return quiz.Quiz{}, err
	}
	st, err := quiz.ParseStatus(status)
	if err != nil {
		return quiz.Quiz{}, err
	}
	q.Kind = quiz.Kind(kind)
	q.Status = st
	q.CreatedAt = time.UnixMilli(created).UTC()
	if scheduled.Valid {
		at := time.UnixMilli(scheduled.Int64).UTC()
		q.ScheduledAt = &at
	}
	return q, nil
}

func millisPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func (s *sqlStore) GetQuiz(ctx context.Context, id string) (quiz.Quiz, error) {
	q, err := scanQuiz(s.queryRow(ctx, `SELECT `+quizColumns+` FROM quizzes q WHERE q.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return quiz.Quiz{}, quiz.ErrNotFound
	}
	if err != nil {
		return quiz.Quiz{}, fmt.Errorf("get quiz %s: %w", id, err)
	}
	return q, nil
}

func (s *sqlStore) CreateQuiz(ctx context.Context, q quiz.Quiz) (quiz.Quiz, error) {
	q, err := prepareQuiz(q, uuid.NewString, s.now())
	if err != nil {
		return quiz.Quiz{}, err
	}
	_, err = s.exec(ctx,
		`INSERT INTO quizzes(id, user_id, kind, question, answer, status, scheduled_at, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		q.ID, q.UserID, string(q.Kind), q.Question, q.Answer, string(q.Status), nil, q.CreatedAt.UnixMilli(),
	)
	if isUniqueViolation(err) {
		return quiz.Quiz{}, &quiz.ValidationError{Field: "id", Reason: "already exists"}
	}
	if err != nil {
		return quiz.Quiz{}, fmt.Errorf("create quiz: %w", err)
	}
	return q, nil
}

func (s *sqlStore) UpdateQuizStatus(ctx context.Context, id string, expected, next quiz.Status, scheduledAt *time.Time) error {
	res, err := s.exec(ctx,
		`UPDATE quizzes SET status = ?, scheduled_at = ? WHERE id = ? AND status = ?`,
		string(next), millisPtr(scheduledAt), id, string(expected),
	)
	if err != nil {
		return fmt.Errorf("update quiz %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var one int
	err = s.queryRow(ctx, `SELECT 1 FROM quizzes WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return quiz.ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("quiz %s not in status %s: %w", id, expected, quiz.ErrConcurrencyConflict)
}

func (s *sqlStore) CreateAttempt(ctx context.Context, a quiz.Attempt) error {
	_, err := s.exec(ctx,
		`INSERT INTO attempts(id, quiz_id, user_id, occasion, answer, is_correct, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		a.ID, a.QuizID, a.UserID, string(a.Occasion), a.Answer, a.Correct, a.CreatedAt.UTC().UnixMilli(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("attempt for quiz %s occasion %s exists: %w", a.QuizID, a.Occasion, quiz.ErrConcurrencyConflict)
	}
	if err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	return nil
}

func (s *sqlStore) GetAttempt(ctx context.Context, id string) (quiz.Attempt, error) {
	var (
		a        quiz.Attempt
		occasion string
		created  int64
	)
	err := s.queryRow(ctx,
		`SELECT id, quiz_id, user_id, occasion, answer, is_correct, created_at FROM attempts WHERE id = ?`, id,
	).Scan(&a.ID, &a.QuizID, &a.UserID, &occasion, &a.Answer, &a.Correct, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return quiz.Attempt{}, quiz.ErrNotFound
	}
	if err != nil {
		return quiz.Attempt{}, fmt.Errorf("get attempt %s: %w", id, err)
	}
	if a.Occasion, err = quiz.ParseStatus(occasion); err != nil {
		return quiz.Attempt{}, err
	}
	a.CreatedAt = time.UnixMilli(created).UTC()
	return a, nil
}

func (s *sqlStore) CountAttempts(ctx context.Context, quizID string) (int, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM attempts WHERE quiz_id = ?`, quizID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

const attemptCount = `(SELECT COUNT(*) FROM attempts a WHERE a.quiz_id = q.id)`

func (s *sqlStore) FindQuizzesDueForSweep(ctx context.Context, status quiz.Status, now time.Time, limit int) ([]quiz.DueQuiz, error) {
	if limit <= 0 {
		limit = 200
	}
	var (
		query string
		args  []any
	)
	switch status {
	case quiz.StatusToday:
		query = `SELECT ` + quizColumns + `, ` + attemptCount + `
			FROM quizzes q
			WHERE q.status = ? AND EXISTS (SELECT 1 FROM attempts a WHERE a.quiz_id = q.id)
			ORDER BY q.created_at, q.id LIMIT ?`
		args = []any{string(status), limit}
	case quiz.StatusDay1, quiz.StatusDay7:
		query = `SELECT ` + quizColumns + `, ` + attemptCount + `
			FROM quizzes q
			WHERE q.status = ? AND q.scheduled_at IS NOT NULL AND q.scheduled_at <= ?
			ORDER BY q.scheduled_at, q.id LIMIT ?`
		args = []any{string(status), now.UTC().UnixMilli(), limit}
	default:
		return nil, fmt.Errorf("no sweep for status %q", status)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find due %s: %w", status, err)
	}
	defer rows.Close()

	var out []quiz.DueQuiz
	for rows.Next() {
		var n int
		q, err := scanQuiz(rows, &n)
		if err != nil {
			return nil, err
		}
		out = append(out, quiz.DueQuiz{Quiz: q, Attempts: n})
	}
	return out, rows.Err()
}

func (s *sqlStore) ListDue(ctx context.Context, userID string, now time.Time, limit int) ([]quiz.Quiz, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.query(ctx,
		`SELECT `+quizColumns+` FROM quizzes q
		 WHERE q.user_id = ? AND (q.status = ? OR (q.status IN (?, ?) AND q.scheduled_at <= ?))
		 ORDER BY q.created_at, q.id LIMIT ?`,
		userID, string(quiz.StatusToday), string(quiz.StatusDay1), string(quiz.StatusDay7), now.UTC().UnixMilli(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due: %w", err)
	}
	defer rows.Close()

	var out []quiz.Quiz
	for rows.Next() {
		q, err := scanQuiz(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *sqlStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.exec(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until = excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if perr := s.pruneExpired(pctx); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqlStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.queryRow(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqlStore) pruneExpired(ctx context.Context) error {
	_, err := s.exec(ctx, `DELETE FROM dedup WHERE until < ?`, s.now().UnixMilli())
	return err
}
