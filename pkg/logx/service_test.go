package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestFormatTelegramLine(t *testing.T) {
	t.Parallel()
	line := `{"level":"warn","time":"2026-01-02T03:04:05Z","message":"sweep finished with errors","errors":2,"caller":"sweep.go:10"}`
	got := formatTelegramLine([]byte(line))
	want := "[WARN] sweep finished with errors\n- caller=sweep.go:10\n- errors=2"
	if got != want {
		t.Fatalf("formatTelegramLine = %q, want %q", got, want)
	}
}

func TestFormatTelegramLineRaw(t *testing.T) {
	t.Parallel()
	if got := formatTelegramLine([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("unexpected raw format: %q", got)
	}
}

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "ledger"))
	log.Info("answer recorded", String("quiz_id", "q1"), Bool("correct", true))

	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if m["comp"] != "ledger" || m["quiz_id"] != "q1" || m["correct"] != true {
		t.Fatalf("unexpected fields: %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "service_test.go:") {
		t.Fatalf("caller = %q, want service_test.go:<line>", c)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	log.Error("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop logger should not be zero")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	if parseLevel("warning", LevelInfo) != LevelWarn {
		t.Fatal("warning should map to warn")
	}
	if parseLevel("bogus", LevelInfo) != LevelInfo {
		t.Fatal("unknown level should fall back to default")
	}
}
