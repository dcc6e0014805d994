package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"reviewbot/internal/eventbus"
	logx "reviewbot/pkg/logx"
)

var ErrSkipped = errors.New("previous run still in progress")

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	bus    eventbus.Bus
	parser cron.Parser
	c      *cron.Cron
	defs   []*scheduleDef

	runCtx    context.Context
	runCancel context.CancelFunc
	inflight  sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: normalize(cfg),
		log: log,
		bus: bus,
		// SecondOptional accepts both 5- and 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func normalize(cfg Config) Config {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 2 * time.Minute
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	return cfg
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. A timezone change re-registers every schedule.
func (s *Service) Apply(cfg Config) {
	cfg = normalize(cfg)
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.restartLocked()
	}
}

// Start begins triggering. It is a no-op when disabled or already running.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering, cancels running jobs and waits for them until ctx
// is done. Definitions are kept for the next Start.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}

	c.Stop()
	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with jobs running")
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Add registers job under name, replacing a previous schedule with the same
// name. Definitions added before Start are registered when it runs.
func (s *Service) Add(name, schedule string, opt JobOptions, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	d := &scheduleDef{name: name, opt: opt, job: job, running: new(atomic.Bool)}
	switch ps.Kind {
	case SpecInterval:
		d.every = ps.Every
		d.spec = "@every " + ps.Every.String()
	default:
		d.spec = ps.Cron
		if every, ok := everySpec(ps.Cron); ok {
			d.every = every
		} else if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("invalid cron %q: %w", ps.Cron, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.defs = append(s.defs, d)
	if s.c != nil {
		s.registerLocked(d)
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", d.spec), logx.Duration("spread", d.spread))
	return nil
}

// Remove unschedules name. It reports whether something was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

// RunNow triggers name outside its schedule and waits for the result.
// The overlap policy still applies.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var def *scheduleDef
	for _, d := range s.defs {
		if d.name == name {
			def = d
		}
	}
	timeout := s.cfg.DefaultTimeout
	s.mu.Unlock()
	if def == nil {
		return fmt.Errorf("schedule %q not found", name)
	}
	return s.run(ctx, def, timeout)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Timezone: s.cfg.Timezone}
	if s.loc != nil && snap.Timezone == "" {
		snap.Timezone = s.loc.String()
	}
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.opt.Timeout, Running: d.running.Load()}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) removeLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) registerLocked(d *scheduleDef) {
	ctx := s.runCtx
	job := cron.FuncJob(func() {
		s.mu.Lock()
		timeout := s.cfg.DefaultTimeout
		s.mu.Unlock()
		if err := s.run(ctx, d, timeout); err != nil && !errors.Is(err, ErrSkipped) {
			s.log.Warn("scheduled job failed", logx.String("name", d.name), logx.Err(err))
		}
	})

	if d.every > 0 {
		sched, spread := intervalWithSpread(d.every, time.Now().In(s.loc), d.name)
		d.spread = spread
		d.entryID = s.c.Schedule(sched, job)
		return
	}
	eid, err := s.c.AddJob(d.spec, job)
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		return
	}
	d.entryID = eid
}

func (s *Service) run(ctx context.Context, d *scheduleDef, defTimeout time.Duration) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d.opt.Overlap == OverlapSkipIfRunning && !d.running.CompareAndSwap(false, true) {
		s.record(HistoryItem{Name: d.name, Started: time.Now(), Skipped: true})
		s.log.Debug("schedule trigger skipped", logx.String("name", d.name))
		return ErrSkipped
	}
	if d.opt.Overlap == OverlapSkipIfRunning {
		defer d.running.Store(false)
	}

	s.inflight.Add(1)
	defer s.inflight.Done()

	timeout := d.opt.Timeout
	if timeout <= 0 {
		timeout = defTimeout
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled job panicked", logx.String("name", d.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
		it := HistoryItem{Name: d.name, Started: start, Duration: time.Since(start)}
		if err != nil {
			it.Error = err.Error()
		}
		s.record(it)
	}()
	return d.job(rctx)
}

func (s *Service) record(it HistoryItem) {
	s.mu.Lock()
	max := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventRun, Data: it})
	}
}

func (s *Service) restartLocked() {
	if s.c != nil {
		s.c.Stop()
	}
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
