package inflight

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTryAcquireRelease(t *testing.T) {
	t.Parallel()
	s := New()
	assert.True(t, s.TryAcquire("news"))
	assert.False(t, s.TryAcquire("news"))
	assert.True(t, s.Has(" news "))
	assert.Equal(t, []string{"news"}, s.Names())

	s.Release("news")
	s.Release("news")
	assert.False(t, s.Has("news"))
	assert.True(t, s.TryAcquire("news"))
}

func TestZeroValueUsable(t *testing.T) {
	t.Parallel()
	var s Set
	assert.True(t, s.TryAcquire("ais"))
	assert.Equal(t, 1, s.Len())
}

func TestTryAcquireSingleWinner(t *testing.T) {
	t.Parallel()
	s := New()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryAcquire("markets") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
