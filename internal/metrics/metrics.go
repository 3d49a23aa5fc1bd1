// Package metrics turns task lifecycle events into Prometheus metrics.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"feedgrid/internal/eventbus"
	"feedgrid/internal/feature"
	"feedgrid/internal/feeds"
	"feedgrid/internal/task"
)

// Metrics is nil-safe: Observe on a nil *Metrics is a no-op.
type Metrics struct {
	// RunsTotal counts finished runs by task, trigger and result (ok, error).
	RunsTotal *prometheus.CounterVec
	// SkipsTotal counts bypassed cycles by task, trigger and reason.
	SkipsTotal *prometheus.CounterVec
	// Duration observes run durations in seconds.
	Duration *prometheus.HistogramVec
	// BatchesTotal counts settled bulk loads by outcome (clean, partial).
	BatchesTotal *prometheus.CounterVec
	// LayersLoading tracks layers currently showing a loading indicator.
	LayersLoading prometheus.Gauge
	// FeedUpdates counts feed bodies that changed.
	FeedUpdates *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered metrics.
func New(reg prometheus.Registerer, bus eventbus.Bus) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedgrid",
			Subsystem: "task",
			Name:      "runs_total",
			Help:      "Task runs by task, trigger and result",
		}, []string{"task", "trigger", "result"}),
		SkipsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedgrid",
			Subsystem: "task",
			Name:      "skips_total",
			Help:      "Skipped task cycles by task, trigger and reason",
		}, []string{"task", "trigger", "reason"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "feedgrid",
			Subsystem: "task",
			Name:      "duration_seconds",
			Help:      "Task run duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}, []string{"task"}),
		BatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedgrid",
			Name:      "batches_total",
			Help:      "Settled bulk loads by outcome",
		}, []string{"outcome"}),
		LayersLoading: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "feedgrid",
			Name:      "layers_loading",
			Help:      "Layers currently loading on demand",
		}),
		FeedUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedgrid",
			Subsystem: "feed",
			Name:      "updates_total",
			Help:      "Feed bodies that changed, by feed",
		}, []string{"feed"}),
	}

	if reg != nil {
		collectors := []prometheus.Collector{
			m.RunsTotal, m.SkipsTotal, m.Duration, m.BatchesTotal, m.LayersLoading, m.FeedUpdates,
		}
		if bus != nil {
			collectors = append(collectors, prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "feedgrid",
				Subsystem: "eventbus",
				Name:      "dropped_total",
				Help:      "Event deliveries dropped because a subscriber was full",
			}, func() float64 { return float64(bus.Dropped()) }))
		}
		for _, c := range collectors {
			if err := reg.Register(c); err != nil {
				// Ignore AlreadyRegisteredError (restart re-registers).
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	}
	return m
}

// Observe applies one event.
func (m *Metrics) Observe(e eventbus.Event) {
	if m == nil {
		return
	}
	switch e.Type {
	case task.EventFinished, task.EventFailed:
		ev, ok := e.Data.(task.Event)
		if !ok {
			return
		}
		result := "ok"
		if e.Type == task.EventFailed {
			result = "error"
		}
		m.RunsTotal.WithLabelValues(ev.Name, string(ev.Trigger), result).Inc()
		m.Duration.WithLabelValues(ev.Name).Observe(ev.Duration.Seconds())
	case task.EventSkipped:
		if ev, ok := e.Data.(task.Event); ok {
			m.SkipsTotal.WithLabelValues(ev.Name, string(ev.Trigger), string(ev.Reason)).Inc()
		}
	case task.EventBatchSettled:
		if ev, ok := e.Data.(task.BatchEvent); ok && ev.Launched+ev.Skipped > 0 {
			outcome := "clean"
			if ev.Failed > 0 {
				outcome = "partial"
			}
			m.BatchesTotal.WithLabelValues(outcome).Inc()
		}
	case task.EventLayerLoading:
		if ev, ok := e.Data.(feature.LayerLoading); ok {
			if ev.Loading {
				m.LayersLoading.Inc()
			} else {
				m.LayersLoading.Dec()
			}
		}
	case feeds.EventUpdated:
		if ev, ok := e.Data.(feeds.Updated); ok {
			m.FeedUpdates.WithLabelValues(ev.Feed).Inc()
		}
	}
}

// Consume observes bus events until ctx is done.
func (m *Metrics) Consume(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(256,
		task.EventFinished, task.EventFailed, task.EventSkipped,
		task.EventBatchSettled, task.EventLayerLoading, feeds.EventUpdated,
	)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(e)
		}
	}
}
