package config

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
variant: full
layers:
  natural: true
  weather: false
  cyberThreats: true
features:
  cyber_layer: true
logging:
  level: debug
  console: true
refresh:
  intervals:
    news: 90s
    markets: "00:02"
  idle_after: 10m
feeds:
  timeout: 10s
  sources:
    news:
      url: https://example.com/rss
      min_interval: 30s
storage:
  driver: sqlite
  path: ./data/feedgrid.db
ops:
  enabled: true
  addr: 127.0.0.1:8089
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "feedgrid.yaml", sampleYAML))
	m.SetValidator(Validate)
	cfg, err := m.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "full", cfg.Variant)
	assert.True(t, cfg.Layers["natural"])
	assert.Equal(t, "90s", cfg.Refresh.Intervals["news"])
	assert.True(t, cfg.Refresh.IsEnabled())
	assert.True(t, cfg.Refresh.InitialLoadOn())
	assert.Equal(t, "https://example.com/rss", cfg.Feeds.Sources["news"].URL)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Same(t, cfg, m.Get())
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	_, err := Decode("x.json", []byte(`{"variant":"full","telegram":{}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")

	_, err = Decode("x.json", []byte(`{"variant":"full"}{"variant":"tech"}`))
	require.ErrorIs(t, err, ErrTrailingData)

	_, err = Decode("x.json", []byte(`{"variant":"full"} {"layers":{"natural":true}}`+"\n"))
	require.ErrorIs(t, err, ErrTrailingData)

	_, err = Decode("x.json", []byte(`{"variant":"full"} 7`))
	require.ErrorIs(t, err, ErrTrailingData)

	_, err = Decode("x.json", []byte(`{"variant":"full"} {`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTrailingData)

	_, err = Decode("x.yml", []byte("layers: [nope"))
	require.Error(t, err)

	_, err = Decode("x.yaml", []byte("variant: full\n---\nvariant: tech\n"))
	require.ErrorIs(t, err, ErrTrailingData)
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("x.yaml", []byte("# nothing yet\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Variant)
	assert.True(t, cfg.Refresh.IsEnabled())
}

func TestRefreshExplicitFalse(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("x.json", []byte(`{"refresh":{"enabled":false,"initial_load":false}}`))
	require.NoError(t, err)
	assert.False(t, cfg.Refresh.IsEnabled())
	assert.False(t, cfg.Refresh.InitialLoadOn())
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		json string
		want []string
	}{
		{name: "empty is valid", json: `{}`},
		{name: "bad variant", json: `{"variant":"mobile"}`, want: []string{"variant:"}},
		{name: "unknown layer", json: `{"layers":{"volcanoes":true}}`, want: []string{"layers.volcanoes: unknown layer"}},
		{name: "unknown refresh task", json: `{"refresh":{"intervals":{"sports":"5m"}}}`, want: []string{"refresh.intervals.sports"}},
		{name: "cron interval", json: `{"refresh":{"intervals":{"news":"*/5 * * * *"}}}`, want: []string{"not supported"}},
		{name: "bad duration", json: `{"refresh":{"idle_after":"soon"}}`, want: []string{"refresh.idle_after"}},
		{name: "feed url required", json: `{"feeds":{"sources":{"news":{}}}}`, want: []string{"feeds.sources[news].url: required"}},
		{name: "feed url invalid", json: `{"feeds":{"sources":{"news":{"url":"not a url"}}}}`, want: []string{"not a valid url"}},
		{name: "log file path", json: `{"logging":{"file":{"enabled":true}}}`, want: []string{"logging.file.path"}},
		{name: "storage path", json: `{"storage":{"driver":"file"}}`, want: []string{"storage.path"}},
		{name: "public ops needs token", json: `{"ops":{"enabled":true,"addr":"0.0.0.0:8089"}}`, want: []string{"non-loopback"}},
		{name: "public ops with token", json: `{"ops":{"enabled":true,"addr":"0.0.0.0:8089","token":"s3cret"}}`},
		{name: "errors are joined", json: `{"variant":"x","layers":{"nope":true}}`, want: []string{"variant:", "layers.nope"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Decode("x.json", []byte(tt.json))
			require.NoError(t, err)
			err = Validate(context.Background(), cfg)
			if len(tt.want) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestReloadRejectsInvalidAndKeepsCurrent(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "feedgrid.json", `{"variant":"full"}`)
	m := NewManager(path)
	m.SetValidator(Validate)
	orig, err := m.Load(context.Background())
	require.NoError(t, err)
	ch, cancel := m.Subscribe(1)
	defer cancel()

	require.NoError(t, os.WriteFile(path, []byte(`{"variant":"mobile"}`), 0o600))
	m.reload(context.Background())
	assert.Same(t, orig, m.Get())
	assert.Empty(t, ch)

	// Same content as committed: no publish either.
	require.NoError(t, os.WriteFile(path, []byte(`{"variant":"full"}`), 0o600))
	m.reload(context.Background())
	assert.Empty(t, ch)

	require.NoError(t, os.WriteFile(path, []byte(`{"variant":"tech"}`), 0o600))
	m.reload(context.Background())
	require.Len(t, ch, 1)
	assert.Equal(t, "tech", (<-ch).Variant)
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.json")
	ch, cancel := m.Subscribe(1)
	assert.Zero(t, m.subs.publish(&Config{Variant: "full"}))
	assert.Equal(t, 1, m.subs.publish(&Config{Variant: "tech"}))
	require.Len(t, ch, 1)
	assert.Equal(t, "tech", (<-ch).Variant)

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, m.subs.publish(&Config{}))
}

func TestWatchPublishesReload(t *testing.T) {
	path := writeFile(t, "feedgrid.json", `{"variant":"full"}`)
	m := NewManager(path)
	m.SetValidator(Validate)
	m.SetDebounce(20 * time.Millisecond)
	_, err := m.Load(context.Background())
	require.NoError(t, err)
	ch, unsubscribe := m.Subscribe(1)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// The watcher may not be registered yet; keep rewriting until seen.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			assert.Equal(t, "tech", cfg.Variant)
			return
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte(`{"variant":"tech"}`), 0o600))
		case <-deadline:
			t.Fatal("reload not published")
		}
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Ops: OpsConfig{Enabled: true, Token: "old-secret"}}
	newCfg := &Config{
		Variant: "tech",
		Layers:  map[string]bool{"weather": true},
		Ops:     OpsConfig{Enabled: true, Token: "new-secret"},
		Refresh: RefreshConfig{Intervals: map[string]string{"news": "2m"}},
	}
	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"layers", "ops", "refresh", "variant"}, sections)
	assert.NotEmpty(t, attrs)

	same, _ := SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, same)
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	d, err = ParseDurationOrDefault("x", " 2m ", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)

	_, err = ParseDurationField("ops.idle_timeout", "-1s")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "ops.idle_timeout"))
}

func TestRetryDelayDoublesAndResets(t *testing.T) {
	t.Parallel()
	r := retryDelay{min: 100 * time.Millisecond, max: 400 * time.Millisecond, rng: rand.New(rand.NewSource(1))}
	for _, base := range []time.Duration{100, 200, 400, 400} {
		d := r.next()
		assert.GreaterOrEqual(t, d, base*time.Millisecond)
		assert.LessOrEqual(t, d, base*time.Millisecond*3/2)
	}
	r.reset()
	assert.Less(t, r.next(), 151*time.Millisecond)
}

func TestExampleConfigIsValid(t *testing.T) {
	t.Parallel()
	m := NewManager(filepath.Join("..", "..", "configs", "feedgrid.example.yaml"))
	m.SetValidator(Validate)
	cfg, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Variant)
	assert.Contains(t, cfg.Feeds.Sources, "news")
}
