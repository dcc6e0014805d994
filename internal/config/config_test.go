package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "reviewbot/pkg/logx"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  poll_timeout: 15s
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/reviewbot.db
  busy_timeout: 2s
scheduler:
  enabled: true
  timezone: UTC
sweep:
  schedule: "every:10m"
  batch_size: 50
  reminders: true
tokens:
  secret: s3cret
  ttl: 48h
http:
  enabled: true
  addr: ":9090"
  allowed_origins: ["https://quiz.example.com"]
`

func TestParseBytesYAML(t *testing.T) {
	cfg, err := ParseBytes("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Telegram.PollTimeout != "15s" {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.BusyTimeout != "2s" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Sweep.BatchSize != 50 || !cfg.Sweep.Reminders || cfg.Sweep.ReconcileToday {
		t.Fatalf("sweep = %+v", cfg.Sweep)
	}
	if cfg.Notifier != nil {
		t.Fatalf("notifier should be nil when omitted")
	}
	if len(cfg.HTTP.AllowedOrigins) != 1 {
		t.Fatalf("http = %+v", cfg.HTTP)
	}
}

func TestParseBytesJSON(t *testing.T) {
	raw := `{"telegram":{"token":"t"},"notifier":{"enabled":false,"workers":4}}`
	cfg, err := ParseBytes("config.json", []byte(raw))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if cfg.Notifier == nil || cfg.Notifier.Enabled || cfg.Notifier.Workers != 4 {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}
}

func TestParseBytesRejects(t *testing.T) {
	cases := []struct {
		name string
		path string
		raw  string
	}{
		{"unknown json field", "c.json", `{"telegram":{"token":"t","owner":1}}`},
		{"unknown yaml field", "c.yml", "sweep:\n  every: 5m\n"},
		{"trailing data", "c.json", `{} {}`},
		{"bad yaml", "c.yaml", "telegram: [\n"},
		{"wrong type", "c.json", `{"sweep":{"batch_size":"ten"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseBytes(tc.path, []byte(tc.raw)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestFormatOfAndEmptyYAML(t *testing.T) {
	for path, want := range map[string]Format{"a.yaml": FormatYAML, "A.YML": FormatYAML, "a.json": FormatJSON, "noext": FormatJSON} {
		if got := FormatOf(path); got != want {
			t.Fatalf("FormatOf(%q) = %s, want %s", path, got, want)
		}
	}
	cfg, err := ParseBytes("empty.yaml", []byte("# nothing yet\n"))
	if err != nil {
		t.Fatalf("empty yaml: %v", err)
	}
	if cfg.Telegram.Token != "" || cfg.Notifier != nil {
		t.Fatalf("empty yaml cfg = %+v", cfg)
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", " "); err != nil || d != 0 {
		t.Fatalf("empty: %v %v", d, err)
	}
	if d, err := ParseDurationField("x", "1m30s"); err != nil || d != 90*time.Second {
		t.Fatalf("1m30s: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative accepted")
	}
	_, err := ParseDurationField("sweep.timeout", "soon")
	if err == nil || !strings.Contains(err.Error(), "sweep.timeout") {
		t.Fatalf("err = %v", err)
	}
	if d, _ := ParseDurationOrDefault("x", "", 5*time.Second); d != 5*time.Second {
		t.Fatalf("default = %v", d)
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	oldCfg, err := ParseBytes("c.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	newCfg := *oldCfg
	newCfg.Tokens.Secret = "rotated-secret"
	newCfg.Telegram.Token = "999:zzz"
	newCfg.Sweep.BatchSize = 10

	sections, attrs := SummarizeConfigChange(oldCfg, &newCfg)
	want := "sweep,telegram,tokens"
	if got := strings.Join(sections, ","); got != want {
		t.Fatalf("sections = %q, want %q", got, want)
	}
	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config reloaded", attrs...)
	if out := buf.String(); strings.Contains(out, "rotated-secret") || strings.Contains(out, "999:zzz") {
		t.Fatalf("secret leaked in %q", out)
	}
	if !strings.Contains(buf.String(), "tokens.secret_changed") {
		t.Fatalf("missing secret_changed attr: %q", buf.String())
	}
	if got := RestartRequired(sections); strings.Join(got, ",") != "telegram,tokens" {
		t.Fatalf("restart required = %v", got)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("sweep:\n  batch_size: 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Sweep.BatchSize < 0 {
			return os.ErrInvalid
		}
		return nil
	})
	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)

	if err := os.WriteFile(path, []byte("sweep:\n  batch_size: -5\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(600 * time.Millisecond)
	if err := os.WriteFile(path, []byte("sweep:\n  batch_size: 7\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case cfg := <-sub:
		if cfg.Sweep.BatchSize != 7 {
			t.Fatalf("published batch_size = %d, want 7", cfg.Sweep.BatchSize)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no config published")
	}
	if m.Get().Sweep.BatchSize != 7 {
		t.Fatalf("committed batch_size = %d", m.Get().Sweep.BatchSize)
	}
	cancel()
	<-done
}
