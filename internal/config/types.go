package config

// Config is the on-disk service configuration (JSON or YAML).
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Sweep     SweepConfig     `json:"sweep"`

	// Notifier defaults to enabled when the section is omitted.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Tokens   TokensConfig    `json:"tokens"`
	HTTP     HTTPConfig      `json:"http"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the repository backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./reviewbot.db" }
//
// For postgres, path holds the connection string.
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// SchedulerConfig controls the trigger service that runs the sweep.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// DefaultTimeout is a Go duration string. "0s" disables it.
	DefaultTimeout string `json:"default_timeout"`
	HistorySize    int    `json:"history_size"`
	Timezone       string `json:"timezone,omitempty"`
}

// SweepConfig controls the due sweep job.
//
// Schedule accepts "cron:<expr>", "every:<dur>", "interval:<dur|HH:MM>" or a
// bare cron expression / descriptor. Default "@every 5m".
type SweepConfig struct {
	Schedule       string `json:"schedule,omitempty"`
	BatchSize      int    `json:"batch_size,omitempty"`
	ReconcileToday bool   `json:"reconcile_today"`
	Reminders      bool   `json:"reminders"`
	Timeout        string `json:"timeout,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// TokensConfig configures deep-link access tokens. Secret is never logged.
type TokensConfig struct {
	Secret string `json:"secret"`
	TTL    string `json:"ttl,omitempty"`
	Issuer string `json:"issuer,omitempty"`
}

// HTTPConfig controls the deep-link API. Disabled by default.
type HTTPConfig struct {
	Enabled        bool     `json:"enabled"`
	Addr           string   `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	ReadTimeout    string   `json:"read_timeout,omitempty"`
	WriteTimeout   string   `json:"write_timeout,omitempty"`
	// Pprof exposes /debug/pprof on the API listener.
	Pprof bool `json:"pprof,omitempty"`
	// PublicURL prefixes links sent in reminders, e.g. "https://quiz.example.com".
	PublicURL string `json:"public_url,omitempty"`
}

// DefaultNotifier is used when the notifier section is omitted.
func DefaultNotifier() NotifierConfig {
	return NotifierConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      20,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "1h",
		DedupMaxEntries: 5000,
	}
}

const DefaultSweepSchedule = "@every 5m"
