// Package attention answers whether anybody is looking at the dashboard.
package attention

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Source is polled on every scheduler fire; it is never cached.
type Source interface {
	Reduced() bool
}

// Tracker is reduced while explicitly hidden, or when no viewer heartbeat
// arrived within the idle window. A zero idle window disables idle detection.
type Tracker struct {
	clock clockwork.Clock

	mu        sync.Mutex
	hidden    bool
	idleAfter time.Duration
	lastBeat  time.Time
}

func NewTracker(clock clockwork.Clock, idleAfter time.Duration) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{clock: clock, idleAfter: idleAfter, lastBeat: clock.Now()}
}

func (t *Tracker) Reduced() bool {
	s := t.State()
	return s.Hidden || s.Idle
}

func (t *Tracker) SetHidden(hidden bool) {
	t.mu.Lock()
	t.hidden = hidden
	if !hidden {
		t.lastBeat = t.clock.Now()
	}
	t.mu.Unlock()
}

// Heartbeat records viewer activity.
func (t *Tracker) Heartbeat() {
	t.mu.Lock()
	t.lastBeat = t.clock.Now()
	t.mu.Unlock()
}

func (t *Tracker) SetIdleAfter(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.mu.Lock()
	t.idleAfter = d
	t.mu.Unlock()
}

type State struct {
	Hidden        bool          `json:"hidden"`
	Idle          bool          `json:"idle"`
	IdleAfter     time.Duration `json:"idle_after"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`
}

func (t *Tracker) State() State {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		Hidden:        t.hidden,
		Idle:          t.idleAfter > 0 && now.Sub(t.lastBeat) > t.idleAfter,
		IdleAfter:     t.idleAfter,
		LastHeartbeat: t.lastBeat,
	}
}

// Always is a Source that never reports reduced attention.
type Always struct{}

func (Always) Reduced() bool { return false }
