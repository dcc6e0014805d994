package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reviewbot/internal/eventbus"
	"reviewbot/internal/quiz"
	kit "reviewbot/internal/transport"
)

type sent struct {
	to   kit.ChatTarget
	text string
}

type fakeAdapter struct {
	mu    sync.Mutex
	fails int
	sent  []sent
	calls int
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return kit.MessageRef{}, errors.New("429 too many requests")
	}
	f.sent = append(f.sent, sent{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) snapshot() ([]sent, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...), f.calls
}

type memDedup struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func (d *memDedup) PutDedup(_ context.Context, key string, until time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[key] = until
	return nil
}

func (d *memDedup) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.m[key]
	return u, ok, nil
}

func testConfig() Config {
	return Config{
		Enabled:     true,
		Workers:     1,
		RatePerSec:  1000,
		RetryMax:    2,
		RetryBase:   time.Millisecond,
		DedupWindow: time.Hour,
	}
}

func stopAndWait(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestDeliverSendsToPrivateChat(t *testing.T) {
	ad := &fakeAdapter{}
	s := New(testConfig(), ad, logxNop(), nil, nil)
	s.Start(context.Background())

	if err := s.Deliver(context.Background(), "1234567", quiz.Message{Key: "remind:q1:day1", Text: "time to review"}); err != nil {
		t.Fatal(err)
	}
	stopAndWait(t, s)

	got, _ := ad.snapshot()
	if len(got) != 1 || got[0].to.ChatID != 1234567 || got[0].text != "time to review" {
		t.Fatalf("sent = %+v", got)
	}
}

func TestDeliverRejectsNonNumericUser(t *testing.T) {
	s := New(testConfig(), &fakeAdapter{}, logxNop(), nil, nil)
	s.Start(context.Background())
	defer stopAndWait(t, s)
	if err := s.Deliver(context.Background(), "alice", quiz.Message{Text: "x"}); !errors.Is(err, ErrBadUser) {
		t.Fatalf("err = %v", err)
	}
}

func TestNotifyDedupsByKey(t *testing.T) {
	ad := &fakeAdapter{}
	store := &memDedup{m: map[string]time.Time{}}
	cfg := testConfig()
	cfg.PersistDedup = true
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(cfg, ad, logxNop(), bus, store)
	s.Start(context.Background())
	msg := quiz.Message{Key: "remind:q1:day1", Text: "review q1"}
	for i := 0; i < 3; i++ {
		if err := s.Deliver(context.Background(), "42", msg); err != nil {
			t.Fatal(err)
		}
	}
	stopAndWait(t, s)

	if got, _ := ad.snapshot(); len(got) != 1 {
		t.Fatalf("sent %d messages, want 1", len(got))
	}
	deduped := 0
	for len(events) > 0 {
		if (<-events).Type == EventDeduped {
			deduped++
		}
	}
	if deduped != 2 {
		t.Fatalf("deduped events = %d, want 2", deduped)
	}
	if _, ok, _ := store.GetDedup(context.Background(), "remind:q1:day1"); !ok {
		t.Fatal("dedup window not persisted")
	}

	// A fresh service sharing the store keeps suppressing.
	ad2 := &fakeAdapter{}
	s2 := New(cfg, ad2, logxNop(), nil, store)
	s2.Start(context.Background())
	_ = s2.Deliver(context.Background(), "42", msg)
	stopAndWait(t, s2)
	if got, _ := ad2.snapshot(); len(got) != 0 {
		t.Fatalf("restarted service re-sent %d messages", len(got))
	}
}

func TestSendRetries(t *testing.T) {
	ad := &fakeAdapter{fails: 2}
	s := New(testConfig(), ad, logxNop(), nil, nil)
	s.Start(context.Background())
	if err := s.Notify(context.Background(), Notification{Target: kit.ChatTarget{ChatID: 1}, Text: "hello"}); err != nil {
		t.Fatal(err)
	}
	stopAndWait(t, s)
	got, calls := ad.snapshot()
	if len(got) != 1 || calls != 3 {
		t.Fatalf("sent=%d calls=%d, want 1/3", len(got), calls)
	}
}

func TestNotifyStates(t *testing.T) {
	off := testConfig()
	off.Enabled = false
	if err := New(off, &fakeAdapter{}, logxNop(), nil, nil).Notify(context.Background(), Notification{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled err = %v", err)
	}
	s := New(testConfig(), &fakeAdapter{}, logxNop(), nil, nil)
	if err := s.Notify(context.Background(), Notification{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started err = %v", err)
	}
	s.Start(context.Background())
	stopAndWait(t, s)
	if err := s.Notify(context.Background(), Notification{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("stopped err = %v", err)
	}
}

func TestRetryDelayBounded(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("retryDelay(%d) = %v", attempt, d)
		}
	}
}
