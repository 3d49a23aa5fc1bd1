// Package feeds turns configured HTTP sources into task actions.
//
// Each fetch honors a per-feed timeout and minimum spacing, reuses the last
// ETag, caps the body size and persists changed bodies to storage. Feeds
// without a configured source are no-ops so a partial config still runs.
package feeds

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"feedgrid/internal/eventbus"
	"feedgrid/internal/loadplan"
	"feedgrid/internal/storage"
	"feedgrid/internal/task"
	"feedgrid/pkg/logx"
)

type feedState struct {
	limiter *rate.Limiter
	every   time.Duration

	etag string
	hash uint64
	st   Status
}

type Fetcher struct {
	client *http.Client
	store  storage.Store
	log    logx.Logger
	bus    eventbus.Bus
	tracer trace.Tracer
	now    func() time.Time

	mu    sync.Mutex
	cfg   Config
	feeds map[string]*feedState
}

type Option func(*Fetcher)

func WithClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }
func WithStore(s storage.Store) Option { return func(f *Fetcher) { f.store = s } }
func WithLogger(l logx.Logger) Option { return func(f *Fetcher) { f.log = l } }
func WithBus(b eventbus.Bus) Option { return func(f *Fetcher) { f.bus = b } }

func New(cfg Config, opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{},
		tracer: otel.Tracer("feedgrid/internal/feeds"),
		now:    time.Now,
		feeds:  map[string]*feedState{},
	}
	for _, o := range opts {
		if o != nil {
			o(f)
		}
	}
	if f.log.IsZero() {
		f.log = logx.Nop()
	}
	f.log = f.log.With(logx.String("comp", "feeds"))
	f.Apply(cfg)
	return f
}

// Apply swaps the configuration. Cached ETags and hashes survive for feeds
// whose URL did not change.
func (f *Fetcher) Apply(cfg Config) {
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = DefaultAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	prev := f.cfg.Sources
	f.cfg = cfg
	for name, src := range cfg.Sources {
		fs, ok := f.feeds[name]
		if !ok {
			fs = &feedState{st: Status{Feed: name}}
			f.feeds[name] = fs
		}
		if old, had := prev[name]; had && old.URL != src.URL {
			fs.etag, fs.hash = "", 0
		}
		fs.st.URL = src.URL
		if fs.limiter == nil || fs.every != src.MinInterval {
			fs.every = src.MinInterval
			fs.limiter = newLimiter(src.MinInterval)
		}
	}
	for name := range f.feeds {
		if _, ok := cfg.Sources[name]; !ok {
			delete(f.feeds, name)
		}
	}
}

func newLimiter(every time.Duration) *rate.Limiter {
	if every <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(every), 1)
}

// Warm primes ETags and hashes from stored snapshots.
func (f *Fetcher) Warm(ctx context.Context) int {
	if f.store == nil {
		return 0
	}
	f.mu.Lock()
	names := make([]string, 0, len(f.feeds))
	for n := range f.feeds {
		names = append(names, n)
	}
	f.mu.Unlock()

	warmed := 0
	for _, n := range names {
		snap, ok, err := f.store.GetSnapshot(ctx, n)
		if err != nil {
			f.log.Warn("snapshot load failed", logx.String("feed", n), logx.Err(err))
			continue
		}
		if !ok {
			continue
		}
		f.mu.Lock()
		if fs := f.feeds[n]; fs != nil && fs.hash == 0 {
			fs.etag, fs.hash = snap.ETag, snap.Hash
			fs.st.ETag, fs.st.Bytes, fs.st.LastChange = snap.ETag, len(snap.Body), snap.At
			warmed++
		}
		f.mu.Unlock()
	}
	if warmed > 0 {
		f.log.Info("feeds warmed from storage", logx.Int("count", warmed))
	}
	return warmed
}

// Action returns the task action fetching name.
func (f *Fetcher) Action(name string) task.Action {
	return func(ctx context.Context) error {
		_, err := f.Fetch(ctx, name)
		return err
	}
}

// Loaders binds every loader slot to the feed of the same name.
func (f *Fetcher) Loaders() loadplan.Loaders {
	return loadplan.Loaders{
		News:          f.Action(loadplan.News),
		Markets:       f.Action(loadplan.Markets),
		Predictions:   f.Action(loadplan.Predictions),
		PizzInt:       f.Action(loadplan.PizzInt),
		FRED:          f.Action(loadplan.FRED),
		Oil:           f.Action(loadplan.Oil),
		Spending:      f.Action(loadplan.Spending),
		Intelligence:  f.Action(loadplan.Intelligence),
		Firms:         f.Action(loadplan.Firms),
		Natural:       f.Action(loadplan.Natural),
		Weather:       f.Action(loadplan.Weather),
		AIS:           f.Action(loadplan.AIS),
		Cables:        f.Action(loadplan.Cables),
		Flights:       f.Action(loadplan.Flights),
		CyberThreats:  f.Action(loadplan.CyberThreats),
		TechEvents:    f.Action(loadplan.TechEvents),
		TechReadiness: f.Action(loadplan.TechReadiness),
		Conflicts:     f.Action(loadplan.Conflicts),
		Displacement:  f.Action(loadplan.Displacement),
		Climate:       f.Action(loadplan.Climate),
	}
}

// Fetch retrieves one feed. It reports whether the body changed.
func (f *Fetcher) Fetch(ctx context.Context, name string) (changed bool, err error) {
	f.mu.Lock()
	src, configured := f.cfg.Sources[name]
	fs := f.feeds[name]
	var lim *rate.Limiter
	if fs != nil {
		lim = fs.limiter
	}
	agent, defTimeout, defMax := f.cfg.UserAgent, f.cfg.Timeout, f.cfg.MaxBytes
	f.mu.Unlock()

	if !configured || fs == nil || strings.TrimSpace(src.URL) == "" {
		f.log.Debug("feed not configured", logx.String("feed", name))
		return false, nil
	}
	if !lim.Allow() {
		f.mu.Lock()
		fs.st.Throttled++
		f.mu.Unlock()
		f.log.Debug("feed throttled", logx.String("feed", name), logx.Duration("min_interval", src.MinInterval))
		return false, nil
	}

	ctx, span := f.tracer.Start(ctx, "feeds.fetch", trace.WithAttributes(
		attribute.String("feed.name", name),
		attribute.String("feed.url", src.URL),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("feed.changed", changed))
		span.End()
	}()

	timeout := src.Timeout
	if timeout <= 0 {
		timeout = defTimeout
	}
	maxBytes := src.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defMax
	}

	f.mu.Lock()
	etag := fs.etag
	fs.st.LastAttempt = f.now()
	fs.st.Fetches++
	f.mu.Unlock()

	body, newTag, ctype, notModified, err := f.get(ctx, name, src, agent, etag, timeout, maxBytes)
	if err != nil {
		f.mu.Lock()
		fs.st.LastError = err.Error()
		f.mu.Unlock()
		return false, err
	}
	if notModified {
		f.mu.Lock()
		fs.st.LastOK, fs.st.LastError = f.now(), ""
		fs.st.NotModified++
		f.mu.Unlock()
		return false, nil
	}

	h := xxhash.Sum64(body)
	f.mu.Lock()
	changed = h != fs.hash
	fs.hash, fs.etag = h, newTag
	fs.st.LastOK, fs.st.LastError, fs.st.ETag, fs.st.Bytes = f.now(), "", newTag, len(body)
	if changed {
		fs.st.LastChange = fs.st.LastOK
	}
	f.mu.Unlock()

	if !changed {
		return false, nil
	}
	if f.store != nil {
		snap := storage.Snapshot{Feed: name, At: f.now(), ETag: newTag, ContentType: ctype, Hash: h, Body: body}
		if perr := f.store.PutSnapshot(ctx, snap); perr != nil {
			f.log.Warn("snapshot write failed", logx.String("feed", name), logx.Err(perr))
		}
	}
	if f.bus != nil {
		f.bus.Publish(eventbus.Event{Type: EventUpdated, Data: Updated{Feed: name, Bytes: len(body), Hash: h}})
	}
	f.log.Debug("feed updated", logx.String("feed", name), logx.Int("bytes", len(body)))
	return true, nil
}

func (f *Fetcher) get(ctx context.Context, name string, src Source, agent, etag string, timeout time.Duration, maxBytes int64) (body []byte, newTag, ctype string, notModified bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, "", "", false, fmt.Errorf("%s: %w", name, err)
	}
	req.Header.Set("User-Agent", agent)
	req.Header.Set("Accept", "application/json, application/xml;q=0.9, */*;q=0.5")
	for k, v := range src.Headers {
		req.Header.Set(k, v)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", "", false, fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, etag, "", true, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", "", false, &StatusError{Feed: name, Code: resp.StatusCode}
	}

	var buf bytes.Buffer
	n, err := buf.ReadFrom(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, "", "", false, fmt.Errorf("%s: read body: %w", name, err)
	}
	if n > maxBytes {
		return nil, "", "", false, fmt.Errorf("%s: %w (%d bytes)", name, ErrTooLarge, maxBytes)
	}
	return buf.Bytes(), resp.Header.Get("ETag"), resp.Header.Get("Content-Type"), false, nil
}

// Statuses returns a view of every configured feed, sorted by name.
func (f *Fetcher) Statuses() []Status {
	f.mu.Lock()
	out := make([]Status, 0, len(f.feeds))
	for _, fs := range f.feeds {
		out = append(out, fs.st)
	}
	f.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Feed < out[j].Feed })
	return out
}
