// Package app wires the configured roles into one process: storage, the
// scan schedule, delivery, the bot front-end and the admin server.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"serialnotify/internal/admin"
	"serialnotify/internal/bot"
	"serialnotify/internal/config"
	"serialnotify/internal/delivery"
	"serialnotify/internal/detect"
	"serialnotify/internal/eventbus"
	"serialnotify/internal/fanout"
	"serialnotify/internal/fetch"
	"serialnotify/internal/importer"
	"serialnotify/internal/metrics"
	"serialnotify/internal/provider/telegram"
	"serialnotify/internal/runtime/supervisor"
	"serialnotify/internal/source"
	"serialnotify/internal/storage"
	"serialnotify/internal/task/scheduler"
	logx "serialnotify/pkg/logx"
	"serialnotify/pkg/systemd"
)

type Role string

const (
	RoleScan    Role = "scan"
	RoleImport  Role = "import"
	RoleDeliver Role = "deliver"
	RoleBot     Role = "bot"
	RoleAdmin   Role = "admin"
)

const (
	jobScan   = "scan"
	jobImport = "import"
	jobPrune  = "feed.prune"
)

// DefaultRoles is what `run` starts: everything, with import and admin only
// when enabled in the config.
func DefaultRoles(cfg *config.Config) []Role {
	roles := []Role{RoleScan, RoleDeliver, RoleBot}
	if cfg.Importer.Enabled {
		roles = append(roles, RoleImport)
	}
	if cfg.Admin.Enabled {
		roles = append(roles, RoleAdmin)
	}
	return roles
}

type App struct {
	cfgm  *config.Manager
	cfg   *config.Config
	roles map[Role]bool

	logs *logx.Service
	log  logx.Logger

	bus      eventbus.Bus
	store    storage.Store
	metrics  *metrics.Provider
	pipe     *metrics.Pipeline
	fetcher  *fetch.Client
	importer *importer.Importer
	detector *detect.Detector
	tg       *telegram.Client

	sched *scheduler.Service
	sup   *supervisor.Supervisor

	startedAt time.Time
	stopOnce  sync.Once
	stopErr   error
}

// New loads the config and builds every component the roles need. No
// goroutine runs until Start. An empty roles list selects DefaultRoles.
func New(ctx context.Context, cfgPath string, roles ...Role) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(cfg, false))
	a := &App{cfg: cfg, logs: logs, log: log, roles: map[Role]bool{}}
	a.cfgm = config.NewManager(cfgPath, cfg, log.With(logx.String("comp", "config")))

	if len(roles) == 0 {
		roles = DefaultRoles(cfg)
	}
	for _, r := range roles {
		a.roles[r] = true
	}

	if err := a.build(ctx); err != nil {
		a.closeResources(context.Background())
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg

	mp, err := metrics.NewProvider()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	a.metrics = mp
	if a.pipe, err = metrics.NewPipeline(mp.MeterProvider()); err != nil {
		return fmt.Errorf("metrics pipeline: %w", err)
	}

	a.bus = eventbus.New()
	if a.store, err = storage.Open(ctx, mapStorageConfig(cfg), a.log, a.bus); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	needTG := a.roles[RoleDeliver] || a.roles[RoleBot]
	if needTG {
		if err := cfg.RequireBotToken(); err != nil {
			return err
		}
	}
	if needTG || strings.TrimSpace(cfg.Bot.Token) != "" {
		if a.tg, err = telegram.New(mapTelegramConfig(cfg), a.log); err != nil {
			if needTG {
				return err
			}
			a.log.Warn("telegram client unavailable; log alerts disabled", logx.Err(err))
			a.tg = nil
		}
	}
	if a.tg != nil {
		a.logs.SetAlertSender(a.tg)
		a.logs.Apply(mapLogConfig(cfg, true))
	}

	if a.roles[RoleScan] || a.roles[RoleImport] {
		site := mapSite(cfg)
		a.fetcher = fetch.New(mapFetchConfig(cfg), a.log, fetch.WithMetrics(a.pipe))
		a.importer = importer.New(mapImporterConfig(cfg), site, a.fetcher, a.store.Serials(), a.log)

		tmpl, err := fanout.ParseTemplate(cfg.Delivery.Template)
		if err != nil {
			return err
		}
		fo := fanout.New(a.store, tmpl, a.log, a.pipe)
		sc := source.NewScanner(site, a.fetcher, a.log)
		a.detector = detect.New(mapDetectConfig(cfg), sc, a.store.Watermarks(), fo, a.log,
			detect.WithCatalogue(a.importer), detect.WithMetrics(a.pipe))
	}

	a.sched = scheduler.New(scheduler.Config{}, a.log)
	return nil
}

// Roles lists the active roles in a stable order.
func (a *App) Roles() []string {
	out := make([]string, 0, len(a.roles))
	for r := range a.roles {
		out = append(out, string(r))
	}
	sort.Strings(out)
	return out
}

// Done is closed when the supervisor context ends, by Stop or by a fatal
// task error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err reports the first fatal task error.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	cfg := a.cfg
	a.startedAt = time.Now()
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	backoff := supervisor.WithRestartBackoff(time.Second, 30*time.Second)

	if a.roles[RoleScan] {
		err := a.sched.Add(jobScan, cfg.Scanner.Schedule, 0, func(ctx context.Context) error {
			_, err := a.detector.RunCycle(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}
	if a.roles[RoleImport] {
		err := a.sched.Add(jobImport, cfg.Importer.Schedule, 0, func(ctx context.Context) error {
			_, err := a.importer.Run(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}
	retention := cfg.FeedRetention()
	err := a.sched.Add(jobPrune, "@every 1h", time.Minute, func(ctx context.Context) error {
		n, err := a.store.Messages().PruneChanges(ctx, time.Now().Add(-retention))
		if err == nil && n > 0 {
			a.log.Debug("change feed pruned", logx.Int64("rows", n))
		}
		return err
	})
	if err != nil {
		return err
	}

	if a.roles[RoleDeliver] {
		w := delivery.NewWorker(mapDeliveryConfig(cfg), a.store.Messages(), a.tg, a.log, delivery.WithMetrics(a.pipe))
		a.sup.GoRestart("delivery.worker", w.Run, backoff)
		r := delivery.NewRefresher(a.store.Messages(), cfg.RefreshInterval(), a.log)
		a.sup.GoRestart("delivery.refresher", r.Run, backoff)
	}
	if a.roles[RoleBot] {
		b := bot.New(bot.Config{Timeout: 30 * time.Second}, a.store.Users(), a.store.Serials(), a.log)
		tb := a.tg.Bot()
		a.sup.GoRestart("bot.poll", func(ctx context.Context) error { return b.Run(ctx, tb) }, backoff)
	}
	if a.roles[RoleAdmin] {
		srv := admin.New(mapAdminConfig(cfg), admin.Deps{
			Messages:      a.store.Messages(),
			Ping:          a.store.Ping,
			Health:        a.health,
			Metrics:       a.metrics.Handler(),
			MeterProvider: a.metrics.MeterProvider(),
		}, a.log)
		// A refused bind is fatal: the operator asked for the admin role.
		a.sup.Go("admin.http", srv.Run)
	}

	a.sup.Go("config.watch", func(ctx context.Context) error {
		if err := a.cfgm.Watch(ctx); err != nil {
			a.log.Warn("config watch disabled", logx.Err(err))
		}
		return nil
	})
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("systemd.watchdog", func(ctx context.Context) error {
		return systemd.Watchdog(ctx, a.log, func() bool { return a.sup.Err() == nil })
	})

	a.sched.Start(a.sup.Context())
	if a.roles[RoleScan] {
		a.sup.Go("scan.initial", func(ctx context.Context) error {
			a.sched.RunNow(ctx, jobScan)
			return nil
		})
	}

	systemd.Ready(a.log)
	systemd.Status(a.log, "running: "+strings.Join(a.Roles(), ","))
	a.log.Info("started",
		logx.Strings("roles", a.Roles()),
		logx.String("storage", cfg.Storage.Driver),
	)
	return nil
}

// reloadLoop applies live config changes. Only logging is hot; any other
// section is logged as needing a restart.
func (a *App) reloadLoop(ctx context.Context) error {
	ch := a.cfgm.Subscribe()
	prev := a.cfg
	for {
		select {
		case <-ctx.Done():
			return nil
		case next := <-ch:
			changed, restart := config.Diff(prev, next)
			if len(changed) == 0 {
				continue
			}
			for _, s := range changed {
				if s == "logging" {
					a.logs.Apply(mapLogConfig(next, a.tg != nil))
				}
			}
			if restart {
				a.log.Warn("config changed; restart required to apply", logx.Strings("sections", changed))
			} else {
				a.log.Info("config applied", logx.Strings("sections", changed))
			}
			prev = next
		}
	}
}

func (a *App) health() any {
	out := map[string]any{
		"roles":     a.Roles(),
		"uptime":    time.Since(a.startedAt).Round(time.Second).String(),
		"schedules": a.sched.Snapshot(),
	}
	if a.sup != nil {
		out["tasks"] = a.sup.Snapshot()
	}
	if c, ok := a.bus.(eventbus.Counter); ok {
		out["bus_dropped"] = c.Dropped()
	}
	return out
}

// Stop cancels every task and waits for in-flight work within ctx.
func (a *App) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { a.stopErr = a.stop(ctx) })
	return a.stopErr
}

func (a *App) stop(ctx context.Context) error {
	a.log.Info("stopping")
	systemd.Stopping(a.log)

	// Scheduled runs are detached from cancellation; let them finish first.
	a.step(ctx, "scheduler", 30*time.Second, a.sched.Stop)
	if a.sup != nil {
		a.sup.Cancel()
		a.step(ctx, "supervisor", 30*time.Second, a.sup.Wait)
	}
	a.closeResources(ctx)
	a.log.Info("stopped")
	_ = a.logs.Close()

	if a.sup != nil {
		if err := a.sup.Err(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

func (a *App) closeResources(ctx context.Context) {
	if a.store != nil {
		a.step(ctx, "storage", 5*time.Second, func(context.Context) error { return a.store.Close() })
	}
	if a.metrics != nil {
		a.step(ctx, "metrics", 2*time.Second, a.metrics.Shutdown)
	}
}

// step runs one shutdown step bounded by max and by the caller's deadline.
// A step that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped: deadline passed", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

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
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}

// ImportOnce runs a single catalogue pass with the app's fetcher and store.
func (a *App) ImportOnce(ctx context.Context) (importer.Stats, error) {
	if a.importer == nil {
		return importer.Stats{}, errors.New("import role not configured")
	}
	return a.importer.Run(ctx)
}

// Logger is the process logger, for callers reporting around the app.
func (a *App) Logger() logx.Logger { return a.log }

// Migrate applies schema migrations without opening the rest of the app.
func Migrate(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logs, log := logx.New(mapLogConfig(cfg, false))
	defer logs.Close()
	if err := storage.Migrate(ctx, mapStorageConfig(cfg), log); err != nil {
		return err
	}
	log.Info("migrations applied", logx.String("driver", cfg.Storage.Driver))
	return nil
}
