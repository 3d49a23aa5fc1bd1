package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"feedgrid/internal/eventbus"
	"feedgrid/internal/task"
	"feedgrid/pkg/logx"
)

var (
	ErrClosed          = errors.New("scheduler: closed")
	ErrInvalidInterval = errors.New("scheduler: interval must be > 0")
)

const (
	// MinDelay is the floor applied to every computed delay.
	MinDelay = time.Second
	// Jitter is the symmetric relative jitter applied to each delay.
	Jitter = 0.10
	// ReducedMultiplier scales the base interval while attention is reduced.
	ReducedMultiplier = 4
)

// Condition gates a single cycle. It is evaluated fresh on every fire and must
// not call back into the Scheduler.
type Condition func() bool

// Attention reports whether the host is in a reduced-attention state.
type Attention interface {
	Reduced() bool
}

// AttentionFunc adapts a function to Attention.
type AttentionFunc func() bool

func (f AttentionFunc) Reduced() bool { return f() }

type Option func(*Scheduler)

func WithClock(c clockwork.Clock) Option { return func(s *Scheduler) { s.clock = c } }
func WithAttention(a Attention) Option { return func(s *Scheduler) { s.attn = a } }
func WithErrorHandler(h task.ErrorHandler) Option { return func(s *Scheduler) { s.onError = h } }
func WithLogger(l logx.Logger) Option { return func(s *Scheduler) { s.log = l } }
func WithBus(b eventbus.Bus) Option { return func(s *Scheduler) { s.bus = b } }

// WithRand replaces the jitter source. f must return values in [0, 1);
// 0.5 yields no jitter.
func WithRand(f func() float64) Option { return func(s *Scheduler) { s.rand = f } }

// WithContext sets the context passed to actions. It is never cancelled by
// the scheduler itself.
func WithContext(ctx context.Context) Option { return func(s *Scheduler) { s.ctx = ctx } }

type entry struct {
	name     string
	action   task.Action
	interval time.Duration
	cond     Condition

	// gen is bumped on upsert and cancel; callbacks carrying an older
	// generation are ignored.
	gen   uint64
	timer clockwork.Timer
	next  time.Time
	delay time.Duration

	running  bool
	runs     uint64
	failures uint64
	skips    map[task.SkipReason]uint64
	lastRun  time.Time
	lastErr  string
}

// EntryInfo is a point-in-time view of one scheduled name.
type EntryInfo struct {
	Name     string                     `json:"name"`
	Interval time.Duration              `json:"interval"`
	Gated    bool                       `json:"gated"`
	Next     time.Time                  `json:"next"`
	Delay    time.Duration              `json:"delay"`
	Running  bool                       `json:"running"`
	Runs     uint64                     `json:"runs"`
	Failures uint64                     `json:"failures"`
	Skips    map[task.SkipReason]uint64 `json:"skips,omitempty"`
	LastRun  time.Time                  `json:"last_run"`
	LastErr  string                     `json:"last_err,omitempty"`
}

type Snapshot struct {
	Closed   bool        `json:"closed"`
	InFlight []string    `json:"in_flight"`
	Entries  []EntryInfo `json:"entries"`
}
