package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"reviewbot/internal/config"
	"reviewbot/internal/httpapi"
	"reviewbot/internal/notifier"
	"reviewbot/internal/quiz"
	"reviewbot/internal/scheduler"
	"reviewbot/internal/storage"
	"reviewbot/internal/token"
	logx "reviewbot/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ChatID:     lc.Telegram.ChatID,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "":
		return storage.Config{}, fmt.Errorf("storage.driver is required")
	case "memory", "mem":
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
	case "postgres", "postgresql", "pgx":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path must hold the DSN when storage.driver=postgres")
		}
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	if sc.MaxOpenConns < 0 {
		return storage.Config{}, fmt.Errorf("storage.max_open_conns must be >= 0")
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, MaxOpenConns: sc.MaxOpenConns}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	if sc.HistorySize < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.history_size must be >= 0")
	}
	if tz := strings.TrimSpace(sc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	def, err := config.ParseDurationField("scheduler.default_timeout", sc.DefaultTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:        sc.Enabled,
		Timezone:       strings.TrimSpace(sc.Timezone),
		DefaultTimeout: def,
		HistorySize:    sc.HistorySize,
	}, nil
}

// sweepJob is the scheduler registration of the sweep.
type sweepJob struct {
	Schedule string
	Timeout  time.Duration
	Sweep    quiz.SweepConfig
}

func mapSweepConfig(cfg *config.Config) (sweepJob, error) {
	sc := cfg.Sweep
	if sc.BatchSize < 0 {
		return sweepJob{}, fmt.Errorf("sweep.batch_size must be >= 0")
	}
	schedule := strings.TrimSpace(sc.Schedule)
	if schedule == "" {
		schedule = config.DefaultSweepSchedule
	}
	timeout, err := config.ParseDurationField("sweep.timeout", sc.Timeout)
	if err != nil {
		return sweepJob{}, err
	}
	// a throwaway scheduler validates cron expressions the same way the
	// real one will
	probe := scheduler.New(scheduler.Config{}, logx.Nop(), nil)
	if err := probe.Add("sweep", schedule, scheduler.JobOptions{}, func(context.Context) error { return nil }); err != nil {
		return sweepJob{}, fmt.Errorf("sweep.schedule: %w", err)
	}
	return sweepJob{
		Schedule: schedule,
		Timeout:  timeout,
		Sweep: quiz.SweepConfig{
			BatchSize:      sc.BatchSize,
			ReconcileToday: sc.ReconcileToday,
			Reminders:      sc.Reminders,
		},
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := config.DefaultNotifier()
	if cfg.Notifier != nil {
		nc = *cfg.Notifier
	}
	if nc.Workers < 0 || nc.QueueSize < 0 || nc.RatePerSec < 0 || nc.RetryMax < 0 || nc.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: counts must be >= 0")
	}
	base, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.ParseDurationField("notifier.dedup_window", nc.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         nc.Enabled,
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		DedupWindow:     window,
		DedupMaxEntries: nc.DedupMaxEntries,
		PersistDedup:    nc.PersistDedup,
	}, nil
}

func mapTokenOptions(cfg *config.Config) (string, []token.Option, error) {
	tc := cfg.Tokens
	secret := strings.TrimSpace(tc.Secret)
	if secret == "" {
		return "", nil, fmt.Errorf("tokens.secret is required")
	}
	ttl, err := config.ParseDurationOrDefault("tokens.ttl", tc.TTL, token.DefaultTTL)
	if err != nil {
		return "", nil, err
	}
	opts := []token.Option{token.WithTTL(ttl)}
	if iss := strings.TrimSpace(tc.Issuer); iss != "" {
		opts = append(opts, token.WithIssuer(iss))
	}
	return secret, opts, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	hc := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 15*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", hc.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	if pu := strings.TrimSpace(hc.PublicURL); pu != "" {
		u, err := url.Parse(pu)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return httpapi.Config{}, fmt.Errorf("http.public_url: invalid %q", pu)
		}
	}
	origins := make([]string, 0, len(hc.AllowedOrigins))
	for _, o := range hc.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return httpapi.Config{
		Enabled:        hc.Enabled,
		Addr:           strings.TrimSpace(hc.Addr),
		AllowedOrigins: origins,
		Pprof:          hc.Pprof,
		ReadTimeout:    read,
		WriteTimeout:   write,
		IdleTimeout:    60 * time.Second,
	}, nil
}

// validate rejects configs the app cannot run with. It is used at startup
// and before a hot reload is committed.
func validate(_ context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if lt := cfg.Logging.Telegram; lt.Enabled && lt.ChatID == 0 {
		return fmt.Errorf("logging.telegram.chat_id is required when logging.telegram.enabled")
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSweepConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapTokenOptions(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	return nil
}
