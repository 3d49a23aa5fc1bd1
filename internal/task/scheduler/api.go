package scheduler

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"feedgrid/internal/eventbus"
	"feedgrid/internal/task"
	"feedgrid/internal/task/inflight"
	"feedgrid/pkg/logx"
)

// Scheduler owns the refresh timers. The in-flight set is shared with the
// runner and the orchestrator so a name never runs twice concurrently.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	// starting counts fires past their last closed check that have not yet
	// entered the action. CancelAll waits for it to drain.
	starting sync.WaitGroup

	set     *inflight.Set
	clock   clockwork.Clock
	attn    Attention
	rand    func() float64
	onError task.ErrorHandler
	log     logx.Logger
	bus     eventbus.Bus
	ctx     context.Context

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

func New(set *inflight.Set, opts ...Option) *Scheduler {
	s := &Scheduler{
		entries:  map[string]*entry{},
		set:      set,
		clock:    clockwork.NewRealClock(),
		rand:     rand.Float64,
		ctx:      context.Background(),
		lastWarn: map[string]time.Time{},
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	if s.set == nil {
		s.set = inflight.New()
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "scheduler"))
	return s
}

// Schedule registers name to run every interval (jittered). cond may be nil.
// Scheduling an existing name replaces it: the pending timer is stopped and a
// cycle already running finishes without re-arming the old entry.
func (s *Scheduler) Schedule(name string, action task.Action, interval time.Duration, cond Condition) error {
	t, err := task.New(name, action)
	if err != nil {
		return err
	}
	if interval <= 0 {
		return ErrInvalidInterval
	}
	reduced := s.reduced()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	e, ok := s.entries[t.Name]
	if ok {
		s.stopLocked(e)
		e.action, e.interval, e.cond = t.Action, interval, cond
	} else {
		e = &entry{name: t.Name, action: t.Action, interval: interval, cond: cond, skips: map[task.SkipReason]uint64{}}
		s.entries[t.Name] = e
	}
	s.armLocked(e, reduced)
	s.log.Debug("schedule registered",
		logx.String("task", e.name),
		logx.Duration("interval", interval),
		logx.Bool("gated", cond != nil),
		logx.Duration("first", e.delay),
		logx.Bool("replaced", ok),
	)
	return nil
}

// Cancel removes one name. It reports whether the name was scheduled.
func (s *Scheduler) Cancel(name string) bool {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	s.stopLocked(e)
	delete(s.entries, name)
	s.log.Debug("schedule removed", logx.String("task", name))
	return true
}

// CancelAll stops every pending timer and tears the scheduler down. It is
// idempotent and does not abort actions already running. No scheduled action
// starts after CancelAll returns: a fire that already committed is waited for
// until its action has been entered, any other is dropped.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, e := range s.entries {
		s.stopLocked(e)
	}
	n := len(s.entries)
	s.mu.Unlock()

	s.starting.Wait()
	s.log.Debug("schedules cancelled", logx.Int("count", n))
}

func (s *Scheduler) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Names returns the scheduled names, sorted.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.entries))
	for n := range s.entries {
		out = append(out, n)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

func (s *Scheduler) stopLocked(e *entry) {
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.next = time.Time{}
	e.delay = 0
}

// armLocked replaces the entry's timer. Call with s.mu held.
func (s *Scheduler) armLocked(e *entry, reduced bool) {
	if s.closed {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	d := s.nextDelay(e.interval, reduced)
	gen := e.gen
	name := e.name
	e.delay = d
	e.next = s.clock.Now().Add(d)
	e.timer = s.clock.AfterFunc(d, func() { s.fire(name, gen) })
}

// nextDelay is max(MinDelay, round(base × (1 ± Jitter))) where base is the
// interval, multiplied by ReducedMultiplier while attention is reduced.
func (s *Scheduler) nextDelay(interval time.Duration, reduced bool) time.Duration {
	base := float64(interval)
	if reduced {
		base *= ReducedMultiplier
	}
	r := s.rand()
	if r < 0 || r >= 1 {
		r = 0.5
	}
	d := time.Duration(math.Round(base * (1 + (r*2-1)*Jitter)))
	d = d.Round(time.Millisecond)
	if d < MinDelay {
		d = MinDelay
	}
	return d
}

func (s *Scheduler) reduced() bool {
	return s.attn != nil && s.attn.Reduced()
}

func (s *Scheduler) fire(name string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if s.closed || !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}
	e.timer = nil
	cond := e.cond
	s.mu.Unlock()

	// Attention and condition are read outside the lock; the decision to run
	// is re-validated below together with the in-flight mark.
	reduced := s.reduced()
	condOK := reduced || cond == nil || cond()

	s.mu.Lock()
	if s.closed || e.gen != gen {
		s.mu.Unlock()
		return
	}
	var reason task.SkipReason
	switch {
	case reduced:
		reason = task.SkipHidden
	case !condOK:
		reason = task.SkipCondition
	case !s.set.TryAcquire(name):
		reason = task.SkipInFlight
	}
	if reason != "" {
		e.skips[reason]++
		s.armLocked(e, reduced)
		s.mu.Unlock()
		s.publish(task.EventSkipped, task.Event{Name: name, Trigger: task.TriggerScheduled, Started: s.clock.Now(), Reason: reason})
		s.log.Trace("cycle skipped", logx.String("task", name), logx.String("reason", string(reason)))
		return
	}
	action := e.action
	e.running = true
	s.mu.Unlock()

	dur, ran, err := s.exec(name, action)
	s.set.Release(name)
	if !ran {
		s.mu.Lock()
		e.running = false
		e.skips[task.SkipCancelled]++
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.reportFailure(name, dur, err)
	}

	reducedNow := s.reduced()
	s.mu.Lock()
	e.running = false
	e.runs++
	e.lastRun = s.clock.Now()
	e.lastErr = ""
	if err != nil {
		e.failures++
		e.lastErr = err.Error()
	}
	// An upsert or cancel during the run already handled the timer.
	if e.gen == gen {
		s.armLocked(e, reducedNow)
	}
	s.mu.Unlock()
}

// exec runs one committed fire. ran is false when CancelAll landed before the
// action was entered.
func (s *Scheduler) exec(name string, action task.Action) (dur time.Duration, ran bool, err error) {
	started := s.clock.Now()
	s.publish(task.EventStarted, task.Event{Name: name, Trigger: task.TriggerScheduled, Started: started})

	// Event handlers may have called CancelAll. Nothing is published between
	// this check and the action, so CancelAll never waits on its own caller.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.publish(task.EventSkipped, task.Event{Name: name, Trigger: task.TriggerScheduled, Started: started, Reason: task.SkipCancelled})
		s.log.Debug("cycle dropped by cancel", logx.String("task", name))
		return 0, false, nil
	}
	s.starting.Add(1)
	s.mu.Unlock()

	var entered sync.Once
	enter := func() { entered.Do(s.starting.Done) }
	err = task.Invoke(s.ctx, func(ctx context.Context) error {
		enter()
		if action == nil {
			return task.ErrNilAction
		}
		return action(ctx)
	})
	enter()

	ev := task.Event{Name: name, Trigger: task.TriggerScheduled, Started: started, Duration: s.clock.Since(started)}
	if err != nil {
		ev.Error = err.Error()
		s.publish(task.EventFailed, ev)
	} else {
		s.publish(task.EventFinished, ev)
	}
	return ev.Duration, true, err
}

func (s *Scheduler) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
