// Package app wires the feedgrid components into one process.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"feedgrid/internal/attention"
	"feedgrid/internal/config"
	"feedgrid/internal/eventbus"
	"feedgrid/internal/feature"
	"feedgrid/internal/feeds"
	"feedgrid/internal/metrics"
	"feedgrid/internal/ops"
	"feedgrid/internal/orchestrator"
	"feedgrid/internal/runtime/supervisor"
	"feedgrid/internal/storage"
	"feedgrid/internal/task/inflight"
	"feedgrid/internal/task/runner"
	"feedgrid/internal/task/scheduler"
	"feedgrid/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	fetcher *feeds.Fetcher
	flags   *feature.Store
	loading *feature.LoadingState
	tracker *attention.Tracker
	set     *inflight.Set
	sched   *scheduler.Scheduler
	orch    *orchestrator.Orchestrator
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	ops     *ops.Service

	notify func(state string) (bool, error)

	// baseCtx is handed to scheduled actions; cancelled last on Stop.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	sup *supervisor.Supervisor

	dataVersion atomic.Uint64
	errMu       sync.Mutex
	lastErrors  map[string]string
}

type options struct {
	client *http.Client
	clock  clockwork.Clock
	notify func(state string) (bool, error)
}

type Option func(*options)

// WithHTTPClient overrides the feed fetcher's client.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.client = c } }

// WithClock overrides the clock behind timers and attention.
func WithClock(c clockwork.Clock) Option { return func(o *options) { o.clock = c } }

// WithNotifier overrides the systemd notify hook.
func WithNotifier(fn func(state string) (bool, error)) Option {
	return func(o *options) { o.notify = fn }
}

// New loads and validates the config at cfgPath and builds every component.
// Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{
		clock:  clockwork.NewRealClock(),
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(config.Validate)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	a := &App{
		cfgm:       cfgm,
		log:        log.With(logx.String("comp", "app")),
		logs:       logSvc,
		bus:        eventbus.New(),
		notify:     o.notify,
		lastErrors: map[string]string{},
	}
	a.baseCtx, a.baseCancel = context.WithCancel(context.Background())

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	fc, err := mapFeedsConfig(cfg)
	if err != nil {
		return nil, err
	}
	fopts := []feeds.Option{feeds.WithLogger(log.With(logx.String("comp", "feeds"))), feeds.WithBus(a.bus)}
	if a.store != nil {
		fopts = append(fopts, feeds.WithStore(a.store))
	}
	if o.client != nil {
		fopts = append(fopts, feeds.WithClient(o.client))
	}
	a.fetcher = feeds.New(fc, fopts...)

	flags, err := mapFlags(cfg)
	if err != nil {
		return nil, err
	}
	a.flags = feature.NewStore(flags)
	a.loading = feature.NewLoadingState(a.bus)

	idle, err := mapIdleAfter(cfg)
	if err != nil {
		return nil, err
	}
	a.tracker = attention.NewTracker(o.clock, idle)

	a.set = inflight.New()
	a.sched = scheduler.New(a.set,
		scheduler.WithClock(o.clock),
		scheduler.WithAttention(a.tracker),
		scheduler.WithErrorHandler(a.onTaskError),
		scheduler.WithLogger(log.With(logx.String("comp", "scheduler"))),
		scheduler.WithBus(a.bus),
		scheduler.WithContext(a.baseCtx),
	)
	a.orch, err = orchestrator.New(orchestrator.Deps{
		Set:           a.set,
		Runner:        runner.New(runner.WithLogger(log.With(logx.String("comp", "runner"))), runner.WithBus(a.bus)),
		Scheduler:     a.sched,
		Flags:         a.flags,
		Loaders:       a.fetcher.Loaders(),
		Loading:       a.loading,
		OnDataChanged: a.onDataChanged,
		OnError:       a.onTaskError,
		Log:           log,
		Bus:           a.bus,
	})
	if err != nil {
		return nil, err
	}

	a.reg = prometheus.NewRegistry()
	a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.reg, a.bus)

	a.ops = ops.New(ops.Deps{
		Controller: a.orch,
		Layers:     a.flags,
		Attention:  a.tracker,
		History:    a.store,
		Gatherer:   a.reg,
		Health:     a.Err,
		Extra:      a.statusExtra,
	}, log.With(logx.String("comp", "ops")))
	return a, nil
}

func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

func (a *App) Ops() *ops.Service { return a.ops }

func (a *App) Store() storage.Store { return a.store }

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Flags() *feature.Store { return a.flags }

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err is the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the initial load, registers the refresh plan, starts the ops
// server and the config watcher, then reports readiness to systemd.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	runCtx := a.sup.Context()
	cfg := a.cfgm.Get()

	a.sup.Go("metrics.consume", func(c context.Context) error {
		a.metrics.Consume(c, a.bus)
		return nil
	})
	if a.store != nil {
		a.sup.Go("runs.persist", a.persistRuns)
	}
	a.sup.Go("eventbus.log", a.logEvents)

	a.fetcher.Warm(runCtx)

	if err := a.applyRefresh(cfg); err != nil {
		return err
	}
	if cfg.Refresh.InitialLoadOn() {
		a.sup.Go("initial.load", func(c context.Context) error {
			res := a.orch.LoadAll(c)
			a.log.Info("initial load settled",
				logx.String("batch", res.Batch),
				logx.Int("launched", len(res.Launched)),
				logx.Int("failed", len(res.Failed)),
				logx.Duration("dur", res.Duration),
			)
			return nil
		})
	}

	oc, err := mapOpsConfig(cfg)
	if err != nil {
		return err
	}
	a.ops.Reconfigure(runCtx, oc)

	sub, unsubscribe := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer unsubscribe()
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if ok, err := a.notify(daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started", logx.String("variant", string(a.flags.Current().Variant)))
	return nil
}

// applyRefresh registers (or re-registers) the refresh plan, or pauses it
// when refresh is disabled.
func (a *App) applyRefresh(cfg *config.Config) error {
	if !cfg.Refresh.IsEnabled() {
		a.orch.PauseRefreshes()
		return nil
	}
	overrides, err := mapIntervals(cfg)
	if err != nil {
		return err
	}
	return a.orch.ScheduleRefreshes(overrides)
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		var newCfg *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			newCfg = c
		}
	coalesce:
		for {
			select {
			case newer, ok := <-sub:
				if !ok {
					break coalesce
				}
				newCfg = newer
			default:
				break coalesce
			}
		}
		sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
		a.apply(ctx, newCfg, sections)
		lastApplied = newCfg
		if len(sections) == 0 {
			a.log.Info("config reloaded (no changes)")
			continue
		}
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config applied", fields...)
	}
}

// apply pushes a validated config into the running components. Each
// section fails alone; a bad section keeps its previous settings.
func (a *App) apply(ctx context.Context, cfg *config.Config, sections []string) {
	if err := a.logs.Apply(mapLogConfig(cfg)); err != nil {
		a.log.Warn("log file sink disabled", logx.Err(err))
	}

	if flags, err := mapFlags(cfg); err != nil {
		a.log.Warn("invalid feature config; keeping previous", logx.Err(err))
	} else {
		a.flags.Set(flags)
	}

	if fc, err := mapFeedsConfig(cfg); err != nil {
		a.log.Warn("invalid feeds config; keeping previous", logx.Err(err))
	} else {
		a.fetcher.Apply(fc)
	}

	if idle, err := mapIdleAfter(cfg); err != nil {
		a.log.Warn("invalid refresh.idle_after; keeping previous", logx.Err(err))
	} else {
		a.tracker.SetIdleAfter(idle)
	}

	if err := a.applyRefresh(cfg); err != nil {
		a.log.Warn("refresh plan not updated", logx.Err(err))
	}

	if oc, err := mapOpsConfig(cfg); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.ops.Reconfigure(stopCtx, oc)
		cancel()
	}

	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}
}

func (a *App) onDataChanged() {
	v := a.dataVersion.Add(1)
	a.log.Debug("data changed", logx.Uint64("version", v))
}

func (a *App) onTaskError(name string, err error) {
	if err == nil {
		return
	}
	a.errMu.Lock()
	a.lastErrors[name] = err.Error()
	a.errMu.Unlock()
}

func (a *App) statusExtra() map[string]any {
	a.errMu.Lock()
	errs := make(map[string]string, len(a.lastErrors))
	for k, v := range a.lastErrors {
		errs[k] = v
	}
	a.errMu.Unlock()
	out := map[string]any{
		"data_version": a.dataVersion.Load(),
		"feeds":        a.fetcher.Statuses(),
		"attention":    a.tracker.State(),
		"last_errors":  errs,
	}
	if a.sup != nil {
		out["supervisor"] = a.sup.Snapshot()
	}
	return out
}

// Stop shuts down in order, bounding each step so one component cannot
// stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := a.notify(daemon.SdNotifyStopping); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}
	a.sup.Cancel()

	a.step(ctx, "scheduler", time.Second, func(context.Context) error {
		a.orch.Stop()
		return nil
	})
	a.step(ctx, "ops", 2*time.Second, func(c context.Context) error {
		a.ops.Stop(c)
		return nil
	})
	a.step(ctx, "inflight", 5*time.Second, a.drainInFlight)
	a.baseCancel()
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

// drainInFlight waits for running loads so their results are journaled.
func (a *App) drainInFlight(ctx context.Context) error {
	t := time.NewTicker(25 * time.Millisecond)
	defer t.Stop()
	for a.set.Len() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("still running: %s", strings.Join(a.set.Names(), ","))
		case <-t.C:
		}
	}
	return nil
}

func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	// Respect the caller's deadline; never extend it.
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
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
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
