// Package task defines the unit of work shared by the runner, the refresh
// scheduler and the orchestrator.
package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrEmptyName     = errors.New("task name is required")
	ErrNilAction     = errors.New("task action is nil")
	ErrDuplicateTask = errors.New("duplicate task name")
)

// Action is a zero-argument unit of work. The context carries values and the
// process lifetime; the core never cancels it to preempt a running action.
type Action func(ctx context.Context) error

// ErrorHandler receives isolated task failures keyed by task name.
type ErrorHandler func(name string, err error)

// Task pairs a unique name with its action. The name alone is the identity
// used by the in-flight guard.
type Task struct {
	Name   string
	Action Action
}

// New returns a validated task.
func New(name string, action Action) (Task, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Task{}, ErrEmptyName
	}
	if action == nil {
		return Task{}, fmt.Errorf("%s: %w", name, ErrNilAction)
	}
	return Task{Name: name, Action: action}, nil
}

// Plan is an ordered list of tasks with unique names.
type Plan struct {
	tasks []Task
}

// NewPlan builds a plan, rejecting empty names, nil actions and duplicates.
func NewPlan(tasks ...Task) (Plan, error) {
	seen := make(map[string]struct{}, len(tasks))
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		v, err := New(t.Name, t.Action)
		if err != nil {
			return Plan{}, err
		}
		if _, dup := seen[v.Name]; dup {
			return Plan{}, fmt.Errorf("%s: %w", v.Name, ErrDuplicateTask)
		}
		seen[v.Name] = struct{}{}
		out = append(out, v)
	}
	return Plan{tasks: out}, nil
}

// Tasks returns a copy of the plan's tasks in order.
func (p Plan) Tasks() []Task {
	out := make([]Task, len(p.tasks))
	copy(out, p.tasks)
	return out
}

// Names returns the task names in plan order.
func (p Plan) Names() []string {
	out := make([]string, len(p.tasks))
	for i, t := range p.tasks {
		out[i] = t.Name
	}
	return out
}

func (p Plan) Len() int { return len(p.tasks) }

// Has reports whether the plan contains a task with the given name.
func (p Plan) Has(name string) bool {
	for _, t := range p.tasks {
		if t.Name == name {
			return true
		}
	}
	return false
}

// Trigger names the path that started a task run.
type Trigger string

const (
	TriggerBulk      Trigger = "bulk"
	TriggerScheduled Trigger = "scheduled"
	TriggerOnDemand  Trigger = "ondemand"
)

// Event types published on the event bus.
const (
	EventStarted      = "task.started"
	EventFinished     = "task.finished"
	EventFailed       = "task.failed"
	EventSkipped      = "task.skipped"
	EventBatchSettled = "batch.settled"
	EventLayerLoading = "layer.loading"
	EventDataChanged  = "data.changed"
)

// SkipReason says why a run was bypassed. Skips are never errors.
type SkipReason string

const (
	SkipInFlight  SkipReason = "in_flight"
	SkipHidden    SkipReason = "reduced_attention"
	SkipCondition SkipReason = "condition_false"
	SkipCancelled SkipReason = "cancelled"
)

// Event is the payload of task lifecycle events.
type Event struct {
	Name     string        `json:"name"`
	Trigger  Trigger       `json:"trigger"`
	Batch    string        `json:"batch,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Reason   SkipReason    `json:"reason,omitempty"`
}

// BatchEvent is the payload of batch.settled.
type BatchEvent struct {
	Batch    string        `json:"batch"`
	Launched int           `json:"launched"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}
