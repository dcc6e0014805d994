package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"reviewbot/internal/quiz"
	"reviewbot/internal/storage"
	"reviewbot/internal/token"
	logx "reviewbot/pkg/logx"
)

var t0 = time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)

const secret = "test-secret"

// flakyStore fails the next failUpdates quiz updates.
type flakyStore struct {
	*storage.Memory
	failUpdates atomic.Int32
}

func (f *flakyStore) UpdateQuizStatus(ctx context.Context, id string, expected, next quiz.Status, at *time.Time) error {
	if f.failUpdates.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return f.Memory.UpdateQuizStatus(ctx, id, expected, next, at)
}

type fixture struct {
	srv    *httptest.Server
	store  *flakyStore
	issuer *token.Issuer
	nowNs  atomic.Int64
}

func (f *fixture) setNow(t time.Time) { f.nowNs.Store(t.UnixNano()) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: &flakyStore{Memory: storage.NewMemory()}}
	f.setNow(t0)
	clock := func() time.Time { return time.Unix(0, f.nowNs.Load()).UTC() }
	var err error
	f.issuer, err = token.NewIssuer(secret, token.WithClock(clock))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	verifier, err := token.NewVerifier(secret, token.WithClock(clock))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	ledger := quiz.NewLedger(f.store, logx.Nop(), quiz.WithLedgerClock(clock))
	api := NewAPI(f.store, ledger, verifier, logx.Nop(), WithClock(clock))
	f.srv = httptest.NewServer(api.Routes(Config{AllowedOrigins: []string{"https://quiz.example.com"}}))
	t.Cleanup(f.srv.Close)

	for _, id := range []string{"q1", "q2"} {
		owner := "42"
		if id == "q2" {
			owner = "7"
		}
		_, err := f.store.CreateQuiz(context.Background(), quiz.Quiz{
			ID: id, UserID: owner, Kind: quiz.KindCloze, Question: "Go was announced in ___", Answer: "2009", CreatedAt: t0,
		})
		if err != nil {
			t.Fatalf("CreateQuiz: %v", err)
		}
	}
	return f
}

func (f *fixture) token(t *testing.T, user, quizID string) string {
	t.Helper()
	tok, err := f.issuer.Issue(user, quizID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (f *fixture) do(t *testing.T, method, path, tok, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestGetQuizWithQueryToken(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/quizzes/q1?token="+f.token(t, "42", "q1"), "", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d body=%v", code, body)
	}
	if body["id"] != "q1" || body["status"] != "today" || body["due"] != true {
		t.Fatalf("body = %v", body)
	}
	if _, leaked := body["answer"]; leaked {
		t.Fatalf("canonical answer leaked: %v", body)
	}
}

func TestAuthErrors(t *testing.T) {
	f := newFixture(t)
	expired := func() string {
		iss, _ := token.NewIssuer(secret, token.WithClock(func() time.Time { return t0.Add(-100 * time.Hour) }))
		tok, _ := iss.Issue("42", "q1")
		return tok
	}()
	forged := func() string {
		iss, _ := token.NewIssuer("other-secret", token.WithClock(func() time.Time { return t0 }))
		tok, _ := iss.Issue("42", "q1")
		return tok
	}()

	cases := []struct {
		name string
		path string
		tok  string
		want int
		code string
	}{
		{"missing", "/quizzes/q1", "", http.StatusUnauthorized, "unauthorized"},
		{"garbage", "/quizzes/q1", "not-a-jwt", http.StatusUnauthorized, "token_invalid"},
		{"forged", "/quizzes/q1", forged, http.StatusUnauthorized, "token_invalid"},
		{"expired", "/quizzes/q1", expired, http.StatusUnauthorized, "token_expired"},
		{"other quiz", "/quizzes/q1", f.token(t, "42", "q2"), http.StatusForbidden, "token_mismatch"},
		{"foreign owner", "/quizzes/q2", f.token(t, "42", "q2"), http.StatusNotFound, "not_found"},
		{"missing quiz", "/quizzes/zz", f.token(t, "42", "zz"), http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := f.do(t, http.MethodGet, tc.path, tc.tok, "")
			if code != tc.want || body["code"] != tc.code {
				t.Fatalf("got %d %v, want %d %s", code, body, tc.want, tc.code)
			}
		})
	}
}

func TestAttemptLifecycle(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "42", "q1")

	code, body := f.do(t, http.MethodPost, "/quizzes/q1/attempts", tok, `{"answer":"2009"}`)
	if code != http.StatusCreated {
		t.Fatalf("first attempt: %d %v", code, body)
	}
	att := body["attempt"].(map[string]any)
	qv := body["quiz"].(map[string]any)
	if att["is_correct"] != true || att["occasion"] != "today" || qv["status"] != "day1" {
		t.Fatalf("first attempt body = %v", body)
	}

	code, body = f.do(t, http.MethodPost, "/quizzes/q1/attempts", tok, `{"answer":"2009"}`)
	if code != http.StatusConflict || body["code"] != "not_due" {
		t.Fatalf("early attempt: %d %v", code, body)
	}

	f.setNow(t0.Add(24 * time.Hour))
	tok = f.token(t, "42", "q1")
	if code, body = f.do(t, http.MethodPost, "/quizzes/q1/attempts", tok, `{"answer":"   "}`); code != http.StatusBadRequest {
		t.Fatalf("blank answer: %d %v", code, body)
	}
	if code, body = f.do(t, http.MethodPost, "/quizzes/q1/attempts", tok, `{"answer":"1999"}`); code != http.StatusCreated {
		t.Fatalf("day1 attempt: %d %v", code, body)
	}
	f.setNow(t0.Add(7 * 24 * time.Hour))
	tok = f.token(t, "42", "q1")
	if code, body = f.do(t, http.MethodPost, "/quizzes/q1/attempts", tok, `{"answer":"2009"}`); code != http.StatusCreated {
		t.Fatalf("day7 attempt: %d %v", code, body)
	}
	if body["quiz"].(map[string]any)["status"] != "done" {
		t.Fatalf("final body = %v", body)
	}
	code, body = f.do(t, http.MethodPost, "/quizzes/q1/attempts", tok, `{"answer":"2009"}`)
	if code != http.StatusConflict || body["code"] != "already_completed" {
		t.Fatalf("after done: %d %v", code, body)
	}
	if n := len(f.store.Attempts("q1")); n != 3 {
		t.Fatalf("attempts = %d, want 3", n)
	}
}

func TestBadJSON(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodPost, "/quizzes/q1/attempts", f.token(t, "42", "q1"), `{"answer":"x","extra":1}`)
	if code != http.StatusBadRequest || body["code"] != "validation" {
		t.Fatalf("got %d %v", code, body)
	}
}

func TestPartialWriteThenComplete(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "42", "q1")
	f.store.failUpdates.Store(1)

	code, body := f.do(t, http.MethodPost, "/quizzes/q1/attempts", tok, `{"answer":"2009"}`)
	if code != http.StatusServiceUnavailable || body["code"] != "partial_write" {
		t.Fatalf("partial write: %d %v", code, body)
	}
	attemptID := body["attempt"].(map[string]any)["id"].(string)

	// Submitting again must not create a second attempt for the occasion.
	if code, body = f.do(t, http.MethodPost, "/quizzes/q1/attempts", tok, `{"answer":"2009"}`); code != http.StatusConflict {
		t.Fatalf("resubmit: %d %v", code, body)
	}

	code, body = f.do(t, http.MethodPost, "/quizzes/q1/attempts/"+attemptID+"/complete", tok, "")
	if code != http.StatusOK {
		t.Fatalf("complete: %d %v", code, body)
	}
	if body["quiz"].(map[string]any)["status"] != "day1" {
		t.Fatalf("complete body = %v", body)
	}
	// Completing twice is a no-op.
	if code, _ = f.do(t, http.MethodPost, "/quizzes/q1/attempts/"+attemptID+"/complete", tok, ""); code != http.StatusOK {
		t.Fatalf("second complete: %d", code)
	}
	if code, _ = f.do(t, http.MethodPost, "/quizzes/q1/attempts/nope/complete", tok, ""); code != http.StatusNotFound {
		t.Fatalf("unknown attempt: %d", code)
	}
	if n := len(f.store.Attempts("q1")); n != 1 {
		t.Fatalf("attempts = %d, want 1", n)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req, _ := http.NewRequest(http.MethodOptions, f.srv.URL+"/quizzes/q1/attempts", nil)
	req.Header.Set("Origin", "https://quiz.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://quiz.example.com" {
		t.Fatalf("allow origin = %q", got)
	}
}

func TestServiceStartStop(t *testing.T) {
	api := NewAPI(storage.NewMemory(), nil, nil, logx.Nop())
	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0", Pprof: true}, api, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Start(ctx)
	select {
	case <-svc.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("server not ready")
	}
	for _, path := range []string{"/healthz", "/debug/pprof/"} {
		resp, err := http.Get("http://" + svc.Addr() + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status %d", path, resp.StatusCode)
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	svc.Stop(stopCtx)
	if svc.Addr() != "" {
		t.Fatalf("listener still bound: %s", svc.Addr())
	}
	svc.Reconfigure(stopCtx, Config{Enabled: false})
	if svc.Enabled() {
		t.Fatalf("still enabled")
	}
}
