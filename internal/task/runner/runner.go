// Package runner executes a batch of tasks concurrently under the shared
// in-flight guard and waits for every launched task to settle.
package runner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"feedgrid/internal/eventbus"
	"feedgrid/internal/task"
	"feedgrid/internal/task/inflight"
	"feedgrid/pkg/logx"
)

// Result describes one settled batch.
type Result struct {
	Batch    string
	Launched []string
	Skipped  []string
	Failed   map[string]error
	Duration time.Duration
}

// Err returns the first failure in name order, or nil.
func (r Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Failed))
	for n := range r.Failed {
		names = append(names, n)
	}
	sort.Strings(names)
	return r.Failed[names[0]]
}

type Runner struct {
	log logx.Logger
	bus eventbus.Bus
	now func() time.Time
}

type Option func(*Runner)

func WithLogger(l logx.Logger) Option { return func(r *Runner) { r.log = l } }
func WithBus(b eventbus.Bus) Option { return func(r *Runner) { r.bus = b } }
func WithNow(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

func New(opts ...Option) *Runner {
	r := &Runner{now: time.Now}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	r.log = r.log.With(logx.String("comp", "runner"))
	return r
}

// RunGuarded launches every task whose name is not already in set, waits for
// all launched tasks to settle and reports failures to onError. Tasks already
// in flight are skipped silently. A failing task never cancels its siblings
// and RunGuarded itself never fails.
func (r *Runner) RunGuarded(ctx context.Context, set *inflight.Set, tasks []task.Task, onError task.ErrorHandler) Result {
	return r.run(ctx, set, tasks, onError, task.TriggerBulk)
}

// RunOne is RunGuarded for a single task, used by on-demand paths.
func (r *Runner) RunOne(ctx context.Context, set *inflight.Set, t task.Task, trigger task.Trigger, onError task.ErrorHandler) Result {
	return r.run(ctx, set, []task.Task{t}, onError, trigger)
}

func (r *Runner) run(ctx context.Context, set *inflight.Set, tasks []task.Task, onError task.ErrorHandler, trigger task.Trigger) Result {
	start := r.now()
	res := Result{Batch: uuid.NewString(), Failed: map[string]error{}}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, t := range tasks {
		t := t
		if !set.TryAcquire(t.Name) {
			res.Skipped = append(res.Skipped, t.Name)
			r.publish(task.EventSkipped, task.Event{Name: t.Name, Trigger: trigger, Batch: res.Batch, Started: r.now(), Reason: task.SkipInFlight})
			r.log.Debug("task.skip", logx.String("task", t.Name), logx.String("reason", string(task.SkipInFlight)))
			continue
		}
		res.Launched = append(res.Launched, t.Name)
		g.Go(func() error {
			defer set.Release(t.Name)
			err := r.exec(ctx, t, trigger, res.Batch)
			if err != nil {
				mu.Lock()
				res.Failed[t.Name] = err
				mu.Unlock()
				if onError != nil {
					onError(t.Name, err)
				}
			}
			// Every goroutine returns nil: the batch settles on all tasks.
			return nil
		})
	}
	_ = g.Wait()

	res.Duration = r.now().Sub(start)
	r.publish(task.EventBatchSettled, task.BatchEvent{
		Batch:    res.Batch,
		Launched: len(res.Launched),
		Skipped:  len(res.Skipped),
		Failed:   len(res.Failed),
		Duration: res.Duration,
	})
	if len(res.Launched) > 0 || len(res.Skipped) > 0 {
		r.log.Debug("batch.settled",
			logx.String("batch", res.Batch),
			logx.Int("launched", len(res.Launched)),
			logx.Int("skipped", len(res.Skipped)),
			logx.Int("failed", len(res.Failed)),
			logx.Duration("dur", res.Duration),
		)
	}
	return res
}

func (r *Runner) exec(ctx context.Context, t task.Task, trigger task.Trigger, batch string) error {
	started := r.now()
	r.publish(task.EventStarted, task.Event{Name: t.Name, Trigger: trigger, Batch: batch, Started: started})

	err := task.Invoke(ctx, t.Action)
	ev := task.Event{Name: t.Name, Trigger: trigger, Batch: batch, Started: started, Duration: r.now().Sub(started)}
	if err != nil {
		ev.Error = err.Error()
		r.publish(task.EventFailed, ev)
		r.log.Warn("task.failed", logx.String("task", t.Name), logx.String("trigger", string(trigger)), logx.Duration("dur", ev.Duration), logx.Err(err))
		return err
	}
	r.publish(task.EventFinished, ev)
	return nil
}

func (r *Runner) publish(typ string, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
