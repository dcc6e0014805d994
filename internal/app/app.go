package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"reviewbot/internal/bot"
	"reviewbot/internal/config"
	"reviewbot/internal/eventbus"
	"reviewbot/internal/httpapi"
	"reviewbot/internal/notifier"
	"reviewbot/internal/quiz"
	"reviewbot/internal/runtime/supervisor"
	"reviewbot/internal/scheduler"
	"reviewbot/internal/storage"
	"reviewbot/internal/token"
	kit "reviewbot/internal/transport"
	"reviewbot/internal/transport/telegram"
	logx "reviewbot/pkg/logx"
)

const sweepJobName = "sweep"

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	ledger  *quiz.Ledger
	sweeper *quiz.Sweeper
	sched   *scheduler.Service
	notif   *notifier.Service
	router  *bot.Router
	http    *httpapi.Service

	publicURL atomic.Value // string

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(context.Background(), cfg); err != nil {
		return nil, err
	}

	// The Telegram log sink needs the adapter and the adapter needs a
	// logger, so logging starts without a sender and gets it below.
	logSvc, log := logx.New(mapLoggingConfig(cfg), nil)
	appLog := log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	logSvc.SetSender(ad)

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	appLog.Info("storage ready", logx.String("driver", sc.Driver))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notifSvc := notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")), bus, store)

	secret, topts, err := mapTokenOptions(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	issuer, err := token.NewIssuer(secret, topts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	verifier, err := token.NewVerifier(secret, topts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		notif:   notifSvc,
		updates: make(chan kit.Update, 256),
	}
	a.publicURL.Store(cfg.HTTP.PublicURL)

	a.ledger = quiz.NewLedger(store, log.With(logx.String("comp", "ledger")), quiz.WithLedgerEvents(bus))

	sj, err := mapSweepConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.sweeper = quiz.NewSweeper(store, notifSvc, sj.Sweep, log.With(logx.String("comp", "sweep")),
		quiz.WithSweepEvents(bus),
		quiz.WithReminder(linkReminder(a.currentPublicURL, issuer, appLog)),
	)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.sched = scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")), bus)
	if err := a.addSweepJob(sj); err != nil {
		_ = store.Close()
		return nil, err
	}

	a.router = bot.New(bot.Config{}, ad, store, a.ledger, log.With(logx.String("comp", "bot")))

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	api := httpapi.NewAPI(store, a.ledger, verifier, log.With(logx.String("comp", "http")))
	a.http = httpapi.New(hcfg, api, log.With(logx.String("comp", "http")))

	return a, nil
}

func (a *App) currentPublicURL() string {
	s, _ := a.publicURL.Load().(string)
	return s
}

// addSweepJob (re)registers the sweep under the scheduler.
func (a *App) addSweepJob(sj sweepJob) error {
	return a.sched.Add(sweepJobName, sj.Schedule, scheduler.JobOptions{
		Overlap: scheduler.OverlapSkipIfRunning,
		Timeout: sj.Timeout,
	}, a.runSweep)
}

func (a *App) runSweep(ctx context.Context) error {
	rep := a.sweeper.Sweep(ctx, time.Now())
	if rep.Total() > 0 || rep.Reminded > 0 || len(rep.Errors) > 0 {
		a.log.Info("sweep done",
			logx.Int("advanced", rep.Total()),
			logx.Int("reminded", rep.Reminded),
			logx.Int("pending", rep.Pending),
			logx.Int("errors", len(rep.Errors)),
			logx.Duration("took", rep.Took),
		)
	}
	return rep.Err()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validate)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Warn("scheduler disabled; due quizzes will not advance")
	}
	if a.http.Enabled() {
		a.http.Start(a.sup.Context())
	}

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.notifySystemd()

	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// notifySystemd reports readiness and keeps the watchdog fed when the unit
// runs under systemd. Both are no-ops elsewhere.
func (a *App) notifySystemd() {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if rr := config.RestartRequired(sections); len(rr) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(rr, ",")))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if sc, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		prev := a.sched.Enabled()
		a.sched.Apply(sc)
		switch {
		case prev && !sc.Enabled:
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		case !prev && sc.Enabled:
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}

	if sj, err := mapSweepConfig(newCfg); err != nil {
		a.log.Warn("invalid sweep config; keeping previous", logx.Err(err))
	} else {
		a.sweeper.Apply(sj.Sweep)
		if err := a.addSweepJob(sj); err != nil {
			a.log.Warn("sweep schedule not updated", logx.Err(err))
		}
	}

	if nc, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		prev := a.notif.Enabled()
		a.notif.Apply(nc)
		switch {
		case prev && !nc.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !prev && nc.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	if hc, err := mapHTTPConfig(newCfg); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.publicURL.Store(newCfg.HTTP.PublicURL)
		a.http.Reconfigure(ctx, hc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// The scheduler goes first so no sweep starts against a closing store.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("notifier", 1*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
