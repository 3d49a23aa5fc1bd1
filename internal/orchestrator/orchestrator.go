// Package orchestrator composes the load plan, the guarded runner, the
// layer dispatcher and the refresh scheduler over one shared in-flight set.
package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"feedgrid/internal/dispatch"
	"feedgrid/internal/eventbus"
	"feedgrid/internal/feature"
	"feedgrid/internal/loadplan"
	"feedgrid/internal/task"
	"feedgrid/internal/task/inflight"
	"feedgrid/internal/task/runner"
	"feedgrid/internal/task/scheduler"
	"feedgrid/pkg/logx"
)

var ErrMissingDependency = errors.New("orchestrator: missing dependency")

// LoadingIndicator receives the per-layer loading flag.
type LoadingIndicator interface {
	SetLoading(layer string, loading bool)
}

// Deps are the collaborators. Set, Runner and Scheduler must share the same
// in-flight set instance.
type Deps struct {
	Set       *inflight.Set
	Runner    *runner.Runner
	Scheduler *scheduler.Scheduler
	Flags     feature.Source
	Loaders   loadplan.Loaders

	// Loading is optional.
	Loading LoadingIndicator
	// OnDataChanged fires once after every bulk load settles.
	OnDataChanged func()
	// OnError receives isolated task failures from bulk and on-demand loads.
	OnError task.ErrorHandler

	Log logx.Logger
	Bus eventbus.Bus
}

type Orchestrator struct {
	d   Deps
	log logx.Logger

	mu        sync.Mutex
	lastBatch *BatchSummary
}

func New(d Deps) (*Orchestrator, error) {
	if d.Set == nil || d.Runner == nil || d.Scheduler == nil || d.Flags == nil {
		return nil, ErrMissingDependency
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{d: d, log: log.With(logx.String("comp", "orchestrator"))}, nil
}

// BatchSummary describes the most recent bulk load.
type BatchSummary struct {
	Batch    string            `json:"batch"`
	At       time.Time         `json:"at"`
	Launched []string          `json:"launched"`
	Skipped  []string          `json:"skipped,omitempty"`
	Failed   map[string]string `json:"failed,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// LoadAll builds the plan from the current flags, runs it guarded and then
// notifies data-changed exactly once, whatever the individual outcomes.
func (o *Orchestrator) LoadAll(ctx context.Context) runner.Result {
	plan, err := loadplan.Build(o.d.Flags.Current(), o.d.Loaders)
	if err != nil {
		// Only reachable with a broken Loaders record; still settle and notify.
		o.log.Error("load plan invalid", logx.Err(err))
	}
	res := o.d.Runner.RunGuarded(ctx, o.d.Set, plan.Tasks(), o.d.OnError)

	sum := &BatchSummary{
		Batch:    res.Batch,
		At:       time.Now(),
		Launched: res.Launched,
		Skipped:  res.Skipped,
		Duration: res.Duration,
	}
	if len(res.Failed) > 0 {
		sum.Failed = make(map[string]string, len(res.Failed))
		for n, e := range res.Failed {
			sum.Failed[n] = e.Error()
		}
	}
	o.mu.Lock()
	o.lastBatch = sum
	o.mu.Unlock()

	o.log.Info("bulk load settled",
		logx.String("batch", res.Batch),
		logx.Int("tasks", plan.Len()),
		logx.Int("failed", len(res.Failed)),
		logx.Int("skipped", len(res.Skipped)),
		logx.Duration("dur", res.Duration),
	)
	o.dataChanged(res.Batch)
	return res
}

func (o *Orchestrator) dataChanged(batch string) {
	if o.d.Bus != nil {
		o.d.Bus.Publish(eventbus.Event{Type: task.EventDataChanged, Data: batch})
	}
	if o.d.OnDataChanged == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("data changed callback panic", logx.Any("panic", r))
		}
	}()
	o.d.OnDataChanged()
}

// LoadLayer loads one layer on demand. It is a no-op when the layer's loader
// is already in flight from any path.
func (o *Orchestrator) LoadLayer(ctx context.Context, layer feature.Layer) error {
	_, err := o.TryLoadLayer(ctx, layer)
	return err
}

// TryLoadLayer is LoadLayer that also reports whether the loader ran.
func (o *Orchestrator) TryLoadLayer(ctx context.Context, layer feature.Layer) (bool, error) {
	key := InFlightKey(layer)
	if !o.d.Set.TryAcquire(key) {
		o.log.Debug("layer load skipped", logx.String("layer", string(layer)), logx.String("reason", string(task.SkipInFlight)))
		o.publish(task.EventSkipped, task.Event{Name: key, Trigger: task.TriggerOnDemand, Started: time.Now(), Reason: task.SkipInFlight})
		return false, nil
	}
	defer o.d.Set.Release(key)
	if o.d.Loading != nil {
		o.d.Loading.SetLoading(string(layer), true)
		defer o.d.Loading.SetLoading(string(layer), false)
	}

	started := time.Now()
	o.publish(task.EventStarted, task.Event{Name: key, Trigger: task.TriggerOnDemand, Started: started})
	err := task.Invoke(ctx, func(ctx context.Context) error {
		return dispatch.Dispatch(ctx, layer, o.d.Loaders)
	})
	ev := task.Event{Name: key, Trigger: task.TriggerOnDemand, Started: started, Duration: time.Since(started)}
	if err != nil {
		ev.Error = err.Error()
		o.publish(task.EventFailed, ev)
		o.log.Warn("layer load failed", logx.String("layer", string(layer)), logx.String("task", key), logx.Err(err))
		if o.d.OnError != nil {
			o.d.OnError(key, err)
		}
		return true, err
	}
	o.publish(task.EventFinished, ev)
	return true, nil
}

// InFlightKey is the guard key for an on-demand load: the backing loader's
// task name, so aliases and scheduled refreshes of the same loader never
// overlap. Unrouted layers use their own identifier.
func InFlightKey(layer feature.Layer) string {
	if name, ok := dispatch.Route(layer); ok {
		return name
	}
	return string(layer)
}

// ScheduleRefreshes registers the periodic plan with the scheduler. Names
// that are no longer part of the plan are cancelled, so it can be called
// again after a reload.
func (o *Orchestrator) ScheduleRefreshes(overrides map[string]time.Duration) error {
	rs := loadplan.Refreshes(o.d.Flags, o.d.Loaders, overrides)
	keep := make(map[string]struct{}, len(rs))
	var errs []error
	for _, r := range rs {
		keep[r.Name] = struct{}{}
		if err := o.d.Scheduler.Schedule(r.Name, r.Action, r.Interval, r.Condition); err != nil {
			errs = append(errs, err)
		}
	}
	for _, n := range o.d.Scheduler.Names() {
		if _, ok := keep[n]; !ok {
			o.d.Scheduler.Cancel(n)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	o.log.Info("refresh schedules registered", logx.Int("count", len(rs)))
	return nil
}

// PauseRefreshes cancels every registered refresh but leaves the scheduler
// open, so ScheduleRefreshes can register the plan again later.
func (o *Orchestrator) PauseRefreshes() int {
	n := 0
	for _, name := range o.d.Scheduler.Names() {
		if o.d.Scheduler.Cancel(name) {
			n++
		}
	}
	if n > 0 {
		o.log.Info("refresh schedules paused", logx.Int("count", n))
	}
	return n
}

// Stop cancels every refresh timer. Running actions finish on their own.
func (o *Orchestrator) Stop() { o.d.Scheduler.CancelAll() }

type Status struct {
	InFlight  []string           `json:"in_flight"`
	Loading   []string           `json:"loading,omitempty"`
	Variant   feature.Variant    `json:"variant"`
	Layers    []feature.Layer    `json:"layers"`
	LastBatch *BatchSummary      `json:"last_batch,omitempty"`
	Scheduler scheduler.Snapshot `json:"scheduler"`
}

func (o *Orchestrator) Status() Status {
	f := o.d.Flags.Current()
	st := Status{
		InFlight:  o.d.Set.Names(),
		Variant:   f.Variant,
		Layers:    f.EnabledLayers(),
		Scheduler: o.d.Scheduler.Snapshot(),
	}
	if ls, ok := o.d.Loading.(interface{ Loading() []string }); ok {
		st.Loading = ls.Loading()
		sort.Strings(st.Loading)
	}
	o.mu.Lock()
	if o.lastBatch != nil {
		b := *o.lastBatch
		st.LastBatch = &b
	}
	o.mu.Unlock()
	return st
}

func (o *Orchestrator) publish(typ string, data any) {
	if o.d.Bus == nil {
		return
	}
	o.d.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}
