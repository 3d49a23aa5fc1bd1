package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedgrid/internal/config"
	"feedgrid/internal/feature"
	"feedgrid/internal/loadplan"
)

type notifyRecorder struct {
	mu     sync.Mutex
	states []string
}

func (r *notifyRecorder) notify(state string) (bool, error) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
	return false, nil
}

func (r *notifyRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func writeConfig(t *testing.T, path, upstream, variant string) {
	t.Helper()
	body := fmt.Sprintf(`{
  "variant": %q,
  "layers": {"natural": true},
  "logging": {"level": "error"},
  "refresh": {"intervals": {"news": "10m"}},
  "feeds": {"sources": {
    "news": {"url": %q},
    "natural": {"url": %q}
  }},
  "storage": {"driver": "file", "path": %q},
  "ops": {"enabled": true, "addr": "127.0.0.1:0"}
}`, variant, upstream+"/news", upstream+"/natural", filepath.Join(filepath.Dir(path), "state"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestAppLifecycle(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		_, _ = io.WriteString(w, "payload "+r.URL.Path)
	}))
	defer upstream.Close()

	cfgPath := filepath.Join(t.TempDir(), "feedgrid.json")
	writeConfig(t, cfgPath, upstream.URL, "full")

	rec := &notifyRecorder{}
	a, err := New(cfgPath, WithHTTPClient(upstream.Client()), WithNotifier(rec.notify))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	assert.Equal(t, []string{"READY=1"}, rec.get())

	// The initial bulk load journals every launched loader.
	require.Eventually(t, func() bool {
		runs, err := a.Store().RecentRuns(context.Background(), 50)
		if err != nil {
			return false
		}
		seen := map[string]bool{}
		for _, r := range runs {
			seen[r.Task] = r.OK
		}
		return seen[loadplan.News] && seen[loadplan.Natural]
	}, 5*time.Second, 20*time.Millisecond)

	snap, ok, err := a.Store().GetSnapshot(context.Background(), "news")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payload /news", string(snap.Body))

	select {
	case <-a.Ops().Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("ops not ready")
	}
	resp, err := http.Get("http://" + a.Ops().Addr() + "/api/status")
	require.NoError(t, err)
	var st map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	_ = resp.Body.Close()
	assert.Equal(t, "full", st["variant"])
	sched, _ := st["scheduler"].(map[string]any)
	require.NotNil(t, sched)
	entries, _ := sched["entries"].([]any)
	assert.NotEmpty(t, entries)

	resp, err = http.Get("http://" + a.Ops().Addr() + "/api/feeds/news")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "payload /news", string(body))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	assert.Equal(t, []string{"READY=1", "STOPPING=1"}, rec.get())
	assert.True(t, a.orch.Status().Scheduler.Closed)
}

func TestApplySwapsFlagsAndPausesRefresh(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "feedgrid.json")
	writeConfig(t, cfgPath, "http://127.0.0.1:1", "full")
	a, err := New(cfgPath, WithNotifier(func(string) (bool, error) { return false, nil }))
	require.NoError(t, err)
	t.Cleanup(func() {
		a.orch.Stop()
		_ = a.store.Close()
		_ = a.logs.Close()
	})

	require.NoError(t, a.applyRefresh(a.cfgm.Get()))
	require.NotEmpty(t, a.sched.Names())
	e, ok := a.sched.Entry(loadplan.News)
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, e.Interval)

	off := false
	next := *a.cfgm.Get()
	next.Variant = "tech"
	next.Layers = map[string]bool{"weather": true}
	next.Refresh = config.RefreshConfig{Enabled: &off}
	next.Ops.Enabled = false
	a.apply(context.Background(), &next, nil)

	f := a.flags.Current()
	assert.Equal(t, feature.VariantTech, f.Variant)
	assert.True(t, f.Enabled(feature.LayerWeather))
	assert.False(t, f.Enabled(feature.LayerNatural))
	assert.Empty(t, a.sched.Names())
	assert.False(t, a.sched.Closed())
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	_, enabled, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.False(t, enabled)

	sc, enabled, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: "x.db"}})
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, time.Second, sc.BusyTimeout)

	_, _, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "file"}})
	require.Error(t, err)

	_, _, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "redis", Path: "x"}})
	require.Error(t, err)
}

func TestMapOpsConfigDefaults(t *testing.T) {
	t.Parallel()
	oc, err := mapOpsConfig(&config.Config{Ops: config.OpsConfig{Enabled: true, Token: " t "}})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultOpsAddr, oc.Addr)
	assert.Equal(t, "t", oc.Token)
	assert.Equal(t, 5*time.Second, oc.ReadTimeout)
	assert.Equal(t, 120*time.Second, oc.IdleTimeout)
}

func TestDescribePlan(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Variant: "tech",
		Layers:  map[string]bool{"weather": true},
		Refresh: config.RefreshConfig{Intervals: map[string]string{"news": "90s"}},
		Feeds:   config.FeedsConfig{Sources: map[string]config.FeedSource{"news": {URL: "https://example.com/rss"}}},
	}
	v, err := DescribePlan(cfg)
	require.NoError(t, err)
	assert.Equal(t, feature.VariantTech, v.Variant)
	assert.Contains(t, v.Bulk, loadplan.Weather)
	assert.NotContains(t, v.Bulk, loadplan.Intelligence)

	byName := map[string]RefreshView{}
	for _, r := range v.Refresh {
		byName[r.Name] = r
	}
	assert.Equal(t, 90*time.Second, byName[loadplan.News].Interval)
	assert.True(t, byName[loadplan.News].Feed)
	assert.True(t, byName[loadplan.Weather].Active)
	assert.False(t, byName[loadplan.Intelligence].Active)
	assert.False(t, byName[loadplan.Natural].Active)
}
