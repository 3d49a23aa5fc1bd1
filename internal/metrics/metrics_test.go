package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedgrid/internal/eventbus"
	"feedgrid/internal/feature"
	"feedgrid/internal/feeds"
	"feedgrid/internal/task"
)

func TestObserve(t *testing.T) {
	t.Parallel()
	m := New(prometheus.NewRegistry(), nil)

	m.Observe(eventbus.Event{Type: task.EventFinished, Data: task.Event{Name: "news", Trigger: task.TriggerScheduled, Duration: time.Second}})
	m.Observe(eventbus.Event{Type: task.EventFailed, Data: task.Event{Name: "news", Trigger: task.TriggerBulk}})
	m.Observe(eventbus.Event{Type: task.EventSkipped, Data: task.Event{Name: "ais", Trigger: task.TriggerScheduled, Reason: task.SkipHidden}})
	m.Observe(eventbus.Event{Type: task.EventBatchSettled, Data: task.BatchEvent{Launched: 3, Failed: 1}})
	m.Observe(eventbus.Event{Type: task.EventBatchSettled, Data: task.BatchEvent{Launched: 3}})
	m.Observe(eventbus.Event{Type: task.EventBatchSettled, Data: task.BatchEvent{}})
	m.Observe(eventbus.Event{Type: task.EventLayerLoading, Data: feature.LayerLoading{Layer: "ais", Loading: true}})
	m.Observe(eventbus.Event{Type: feeds.EventUpdated, Data: feeds.Updated{Feed: "news"}})
	m.Observe(eventbus.Event{Type: "unrelated", Data: 42})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("news", "scheduled", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("news", "bulk", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SkipsTotal.WithLabelValues("ais", "scheduled", "reduced_attention")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesTotal.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesTotal.WithLabelValues("clean")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LayersLoading))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedUpdates.WithLabelValues("news")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.Observe(eventbus.Event{Type: task.EventFinished, Data: task.Event{Name: "x"}})
}

func TestRegisterTwiceIsTolerated(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	bus := eventbus.New()
	New(reg, bus)
	assert.NotPanics(t, func() { New(reg, bus) })
}

func TestConsume(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	m := New(prometheus.NewRegistry(), bus)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Consume(ctx, bus)
		close(done)
	}()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: task.EventFinished, Data: task.Event{Name: "oil", Trigger: task.TriggerBulk}})
		return testutil.ToFloat64(m.RunsTotal.WithLabelValues("oil", "bulk", "ok")) >= 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
