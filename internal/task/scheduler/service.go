// Package scheduler runs the periodic jobs (scan cycle, catalogue import,
// change feed pruning) on cron or interval schedules. A job never overlaps
// with its own previous run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "serialnotify/pkg/logx"
)

type Config struct {
	Timezone string // IANA name; empty means local time
	// NoSpread fires interval jobs one full period after Start with no
	// random startup delay.
	NoSpread bool
}

type Job func(ctx context.Context) error

type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	parser cron.Parser
	loc    *time.Location
	c      *cron.Cron
	defs   []*scheduleDef
	base   context.Context
}

type scheduleDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entryID cron.EntryID

	runs    atomic.Int64
	fails   atomic.Int64
	skips   atomic.Int64
	running atomic.Bool
	lastMu  sync.Mutex
	lastErr string
	lastDur time.Duration
}

// ScheduleInfo is a read-only view for health output.
type ScheduleInfo struct {
	Name      string
	Spec      string
	Timeout   time.Duration
	Next      time.Time
	Prev      time.Time
	Runs      int64
	Failures  int64
	Skipped   int64
	Running   bool
	LastError string
	LastTook  time.Duration
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log.With(logx.String("comp", "scheduler")),
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Add registers job under name, replacing any schedule with the same name.
// timeout bounds one run; 0 means unbounded.
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = "@every " + ps.Every.String()
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &scheduleDef{name: name, spec: spec, timeout: timeout, job: job}
	s.defs = append(s.defs, d)
	if s.c != nil {
		return s.registerLocked(d)
	}
	return nil
}

// Remove drops a schedule. A run already in progress finishes.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	for i, d := range s.defs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return true
	}
	return false
}

// Start begins triggering. Jobs run with a context derived from ctx's values
// but not its cancellation, so Stop can let an in-progress run finish.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.base = context.WithoutCancel(ctx)
	s.loc = loadLocation(s.cfg.Timezone, s.log)
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, d := range s.defs {
		if err := s.registerLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering and waits for running jobs until ctx ends.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
		return nil
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; jobs still running")
		return ctx.Err()
	}
}

func (s *Service) registerLocked(d *scheduleDef) error {
	sched, err := s.parser.Parse(d.spec)
	if err != nil {
		return err
	}
	if !s.cfg.NoSpread && strings.HasPrefix(d.spec, "@every ") {
		if every, err := time.ParseDuration(strings.TrimPrefix(d.spec, "@every ")); err == nil {
			var jitter time.Duration
			sched, jitter = intervalWithSpread(every, time.Now().In(s.loc), d.name)
			s.log.Debug("startup spread", logx.String("name", d.name), logx.Duration("jitter", jitter))
		}
	}
	base := s.base
	log := s.log
	d.entryID = s.c.Schedule(sched, cron.FuncJob(func() { d.run(base, log) }))
	s.log.Debug("schedule registered", logx.String("name", d.name), logx.String("spec", d.spec), logx.Duration("timeout", d.timeout))
	return nil
}

func (d *scheduleDef) run(base context.Context, log logx.Logger) {
	if !d.running.CompareAndSwap(false, true) {
		d.skips.Add(1)
		return
	}
	defer d.running.Store(false)

	ctx := base
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(base, d.timeout)
		defer cancel()
	}
	start := time.Now()
	err := d.job(ctx)
	took := time.Since(start)

	d.runs.Add(1)
	d.lastMu.Lock()
	d.lastDur = took
	d.lastErr = ""
	if err != nil {
		d.lastErr = err.Error()
	}
	d.lastMu.Unlock()

	if err != nil {
		d.fails.Add(1)
		log.Warn("job failed", logx.String("job", d.name), logx.Duration("took", took), logx.Err(err))
		return
	}
	log.Debug("job done", logx.String("job", d.name), logx.Duration("took", took))
}

// RunNow runs a registered job once, synchronously, respecting the overlap
// guard. It reports false when the job is unknown or already running.
func (s *Service) RunNow(ctx context.Context, name string) bool {
	s.mu.Lock()
	var d *scheduleDef
	for _, x := range s.defs {
		if x.name == name {
			d = x
		}
	}
	s.mu.Unlock()
	if d == nil || d.running.Load() {
		return false
	}
	d.run(ctx, s.log)
	return true
}

func (s *Service) Snapshot() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{
			Name:     d.name,
			Spec:     d.spec,
			Timeout:  d.timeout,
			Runs:     d.runs.Load(),
			Failures: d.fails.Load(),
			Skipped:  d.skips.Load(),
			Running:  d.running.Load(),
		}
		d.lastMu.Lock()
		it.LastError = d.lastErr
		it.LastTook = d.lastDur
		d.lastMu.Unlock()
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		out = append(out, it)
	}
	return out
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger routes robfig/cron's internal logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
