package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"reviewbot/internal/quiz"
	"reviewbot/internal/token"
	logx "reviewbot/pkg/logx"
)

// Store is the read side the API needs.
type Store interface {
	GetQuiz(ctx context.Context, id string) (quiz.Quiz, error)
	GetAttempt(ctx context.Context, id string) (quiz.Attempt, error)
}

// Recorder records answers. *quiz.Ledger implements it.
type Recorder interface {
	RecordOutcome(ctx context.Context, quizID, userID, answer string) (quiz.Outcome, error)
	CompleteTransition(ctx context.Context, a quiz.Attempt) (quiz.Quiz, error)
}

// Verifier checks deep-link tokens. *token.Verifier implements it.
type Verifier interface {
	Verify(tok, expectedQuizID string) (token.Grant, error)
}

const maxBodyBytes = 64 << 10

// API serves the deep-link endpoints.
type API struct {
	store    Store
	ledger   Recorder
	verifier Verifier
	log      logx.Logger
	now      func() time.Time
}

type Option func(*API)

func WithClock(now func() time.Time) Option {
	return func(a *API) {
		if now != nil {
			a.now = now
		}
	}
}

func NewAPI(store Store, ledger Recorder, verifier Verifier, log logx.Logger, opts ...Option) *API {
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &API{store: store, ledger: ledger, verifier: verifier, log: log, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// QuizView is the public shape of a quiz. The canonical answer is never
// included.
type QuizView struct {
	ID          string      `json:"id"`
	Kind        quiz.Kind   `json:"kind"`
	Question    string      `json:"question"`
	Status      quiz.Status `json:"status"`
	ScheduledAt *time.Time  `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	Due         bool        `json:"due"`
}

type AttemptView struct {
	ID        string      `json:"id"`
	QuizID    string      `json:"quiz_id"`
	Occasion  quiz.Status `json:"occasion"`
	Correct   bool        `json:"is_correct"`
	CreatedAt time.Time   `json:"created_at"`
}

type attemptResponse struct {
	Attempt AttemptView `json:"attempt"`
	Quiz    QuizView    `json:"quiz"`
}

type errorResponse struct {
	Error   string       `json:"error"`
	Code    string       `json:"code"`
	Attempt *AttemptView `json:"attempt,omitempty"`
}

func (a *API) quizView(q quiz.Quiz) QuizView {
	return QuizView{
		ID:          q.ID,
		Kind:        q.Kind,
		Question:    q.Question,
		Status:      q.Status,
		ScheduledAt: q.ScheduledAt,
		CreatedAt:   q.CreatedAt,
		Due:         q.Due(a.now()),
	}
}

func attemptView(at quiz.Attempt) AttemptView {
	return AttemptView{ID: at.ID, QuizID: at.QuizID, Occasion: at.Occasion, Correct: at.Correct, CreatedAt: at.CreatedAt}
}

// Routes builds the chi router. An empty origin list disables CORS headers.
func (a *API) Routes(cfg Config) http.Handler {
	allowedOrigins := cfg.AllowedOrigins
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, a.requestLog, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{"Content-Length"},
			MaxAge:         300,
		}))
	}

	if cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/quizzes/{quizID}", func(qr chi.Router) {
		qr.Get("/", a.getQuiz)
		qr.Post("/attempts", a.createAttempt)
		qr.Post("/attempts/{attemptID}/complete", a.completeAttempt)
	})
	return r
}

func (a *API) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		d := time.Since(start)
		fields := []logx.Field{
			logx.String("rid", middleware.GetReqID(r.Context())),
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("dur", d),
		}
		switch {
		case ww.Status() >= 500:
			a.log.Warn("request failed", fields...)
		case d >= 750*time.Millisecond:
			a.log.Info("request ok", fields...)
		default:
			a.log.Debug("request ok", fields...)
		}
	})
}

// authorize verifies the token from the Authorization header, or from the
// token query parameter on GET.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, quizID string) (token.Grant, bool) {
	tok := ""
	if ah := r.Header.Get("Authorization"); ah != "" {
		const p = "Bearer "
		if strings.HasPrefix(ah, p) {
			tok = strings.TrimSpace(strings.TrimPrefix(ah, p))
		}
	}
	if tok == "" && r.Method == http.MethodGet {
		tok = r.URL.Query().Get("token")
	}
	if tok == "" {
		w.Header().Set("WWW-Authenticate", "Bearer")
		respondJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing token", Code: "unauthorized"})
		return token.Grant{}, false
	}
	g, err := a.verifier.Verify(tok, quizID)
	if err != nil {
		a.respondErr(w, r, err)
		return token.Grant{}, false
	}
	return g, true
}

// loadOwned returns the quiz when it belongs to the token's user. Quizzes of
// other users are reported as missing.
func (a *API) loadOwned(ctx context.Context, quizID, userID string) (quiz.Quiz, error) {
	q, err := a.store.GetQuiz(ctx, quizID)
	if err != nil {
		return quiz.Quiz{}, err
	}
	if q.UserID != userID {
		return quiz.Quiz{}, quiz.ErrNotFound
	}
	return q, nil
}

func (a *API) getQuiz(w http.ResponseWriter, r *http.Request) {
	quizID := chi.URLParam(r, "quizID")
	g, ok := a.authorize(w, r, quizID)
	if !ok {
		return
	}
	q, err := a.loadOwned(r.Context(), quizID, g.UserID)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a.quizView(q))
}

func (a *API) createAttempt(w http.ResponseWriter, r *http.Request) {
	quizID := chi.URLParam(r, "quizID")
	g, ok := a.authorize(w, r, quizID)
	if !ok {
		return
	}
	var req struct {
		Answer string `json:"answer"`
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "bad json", Code: "validation"})
		return
	}

	q, err := a.loadOwned(r.Context(), quizID, g.UserID)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	if !q.Status.Terminal() && !q.Due(a.now()) {
		respondJSON(w, http.StatusConflict, errorResponse{Error: "quiz is not due yet", Code: "not_due"})
		return
	}

	out, err := a.ledger.RecordOutcome(r.Context(), quizID, g.UserID, req.Answer)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, attemptResponse{Attempt: attemptView(out.Attempt), Quiz: a.quizView(out.Quiz)})
}

func (a *API) completeAttempt(w http.ResponseWriter, r *http.Request) {
	quizID := chi.URLParam(r, "quizID")
	g, ok := a.authorize(w, r, quizID)
	if !ok {
		return
	}
	at, err := a.store.GetAttempt(r.Context(), chi.URLParam(r, "attemptID"))
	if err == nil && (at.QuizID != quizID || at.UserID != g.UserID) {
		err = quiz.ErrNotFound
	}
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	q, err := a.ledger.CompleteTransition(r.Context(), at)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, attemptResponse{Attempt: attemptView(at), Quiz: a.quizView(q)})
}

// respondErr maps domain errors to HTTP statuses.
func (a *API) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var pw *quiz.PartialWriteError
	switch {
	case errors.As(err, &pw):
		av := attemptView(pw.Attempt)
		respondJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error: "answer recorded, schedule update pending; retry via complete", Code: "partial_write", Attempt: &av,
		})
	case errors.Is(err, quiz.ErrValidation):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "validation"})
	case errors.Is(err, quiz.ErrNotFound):
		respondJSON(w, http.StatusNotFound, errorResponse{Error: "quiz not found", Code: "not_found"})
	case errors.Is(err, quiz.ErrAlreadyCompleted):
		respondJSON(w, http.StatusConflict, errorResponse{Error: "quiz already completed", Code: "already_completed"})
	case errors.Is(err, quiz.ErrConcurrencyConflict):
		respondJSON(w, http.StatusConflict, errorResponse{Error: "review already answered", Code: "conflict"})
	case errors.Is(err, token.ErrExpired):
		respondJSON(w, http.StatusUnauthorized, errorResponse{Error: "token expired", Code: "token_expired"})
	case errors.Is(err, token.ErrInvalid):
		respondJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid token", Code: "token_invalid"})
	case errors.Is(err, token.ErrMismatch):
		respondJSON(w, http.StatusForbidden, errorResponse{Error: "token not valid for this quiz", Code: "token_mismatch"})
	default:
		a.log.Error("request error", logx.String("rid", middleware.GetReqID(r.Context())), logx.String("path", r.URL.Path), logx.Err(err))
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"})
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
