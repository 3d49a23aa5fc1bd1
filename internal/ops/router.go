package ops

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"feedgrid/internal/attention"
	"feedgrid/internal/feature"
	"feedgrid/internal/orchestrator"
	"feedgrid/internal/storage"
	"feedgrid/internal/task/runner"
	"feedgrid/pkg/logx"
)

// Controller is the orchestrator surface the API drives.
type Controller interface {
	Status() orchestrator.Status
	LoadAll(ctx context.Context) runner.Result
	TryLoadLayer(ctx context.Context, layer feature.Layer) (bool, error)
}

// LayerToggler flips one layer flag and returns the previous value.
type LayerToggler interface {
	SetLayer(l feature.Layer, enabled bool) bool
}

// AttentionControl is the viewer attention surface.
type AttentionControl interface {
	SetHidden(hidden bool)
	Heartbeat()
	State() attention.State
}

// History reads the run journal and stored feed snapshots.
type History interface {
	RecentRuns(ctx context.Context, limit int) ([]storage.Run, error)
	GetSnapshot(ctx context.Context, feed string) (storage.Snapshot, bool, error)
}

// Deps are the collaborators behind the routes. Nil Gatherer falls back to
// the default registry; nil Attention or History disables their routes.
type Deps struct {
	Controller Controller
	Layers     LayerToggler
	Attention  AttentionControl
	History    History
	Gatherer   prometheus.Gatherer
	// Health reports a degraded process (supervisor first error).
	Health func() error
	// Extra adds sections to GET /api/status (feeds, supervisor).
	Extra func() map[string]any
	Log   logx.Logger
}

// RouterOptions are the per-config knobs of the router.
type RouterOptions struct {
	Token string
	Pprof bool
	// RequestTimeout bounds API handlers. A load still running when it
	// expires is answered with 504 and keeps running detached.
	RequestTimeout time.Duration
}

// NewRouter builds the ops HTTP handler.
func NewRouter(d Deps, o RouterOptions) http.Handler {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	h := &handlers{d: d, started: time.Now()}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(d.Log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(o.Token))

		g := d.Gatherer
		if g == nil {
			g = prometheus.DefaultGatherer
		}
		r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

		if o.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}

		r.Route("/api", func(r chi.Router) {
			if o.RequestTimeout > 0 {
				r.Use(middleware.Timeout(o.RequestTimeout))
			}
			r.Get("/status", h.status)
			r.Post("/load", h.loadAll)
			r.Post("/layers/{layer}/load", h.loadLayer)
			r.Put("/layers/{layer}", h.toggleLayer)
			if d.Attention != nil {
				r.Get("/attention", h.attentionState)
				r.Put("/attention", h.setHidden)
				r.Post("/attention/heartbeat", h.heartbeat)
			}
			if d.History != nil {
				r.Get("/runs", h.runs)
				r.Get("/feeds/{feed}", h.snapshot)
			}
		})
	})
	return r
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=. An empty
// token disables the check.
func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
					got = strings.TrimSpace(v)
				}
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeProblem(w, http.StatusUnauthorized, "missing or invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("ops request",
				logx.String("request_id", middleware.GetReqID(r.Context())),
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("dur", time.Since(start)),
			)
		})
	}
}
