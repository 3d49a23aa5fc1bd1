package attention

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestTrackerHidden(t *testing.T) {
	t.Parallel()
	tr := NewTracker(clockwork.NewFakeClock(), 0)
	assert.False(t, tr.Reduced())
	tr.SetHidden(true)
	assert.True(t, tr.Reduced())
	tr.SetHidden(false)
	assert.False(t, tr.Reduced())
}

func TestTrackerIdle(t *testing.T) {
	t.Parallel()
	clk := clockwork.NewFakeClock()
	tr := NewTracker(clk, 10*time.Minute)

	clk.Advance(10 * time.Minute)
	assert.False(t, tr.Reduced(), "exactly at the window is still attended")
	clk.Advance(time.Second)
	assert.True(t, tr.Reduced())
	assert.True(t, tr.State().Idle)

	tr.Heartbeat()
	assert.False(t, tr.Reduced())

	clk.Advance(time.Hour)
	tr.SetIdleAfter(0)
	assert.False(t, tr.Reduced(), "zero window disables idle detection")
}

func TestAlways(t *testing.T) {
	t.Parallel()
	var s Source = Always{}
	assert.False(t, s.Reduced())
}
