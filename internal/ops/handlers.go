package ops

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"feedgrid/internal/feature"
	"feedgrid/internal/orchestrator"
	"feedgrid/pkg/logx"
)

type handlers struct {
	d       Deps
	started time.Time
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Error     string    `json:"error,omitempty"`
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	}
	if h.d.Health != nil {
		if err := h.d.Health(); err != nil {
			// Degraded loops restart on their own; the process still serves.
			resp.Status = "degraded"
			resp.Error = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	orchestrator.Status
	Extra map[string]any `json:"extra,omitempty"`
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Status: h.d.Controller.Status()}
	if h.d.Extra != nil {
		resp.Extra = h.d.Extra()
	}
	writeJSON(w, http.StatusOK, resp)
}

type loadResponse struct {
	Batch    string            `json:"batch"`
	Launched []string          `json:"launched"`
	Skipped  []string          `json:"skipped,omitempty"`
	Failed   map[string]string `json:"failed,omitempty"`
	Duration string            `json:"duration"`
}

// detached keeps request values but not the request's cancellation: a load
// that started always settles.
func detached(r *http.Request) context.Context { return context.WithoutCancel(r.Context()) }

// awaitLoad runs fn on a detached context and waits for it or for the request
// to end, whichever comes first. On false nothing has been written: the
// timeout middleware answers 504 and the load settles in the background.
func awaitLoad[T any](h *handlers, r *http.Request, what string, fn func(context.Context) T) (T, bool) {
	done := make(chan T, 1)
	ctx := detached(r)
	go func() { done <- fn(ctx) }()
	select {
	case v := <-done:
		return v, true
	case <-r.Context().Done():
		h.d.Log.Warn("request ended before load settled",
			logx.String("load", what),
			logx.String("path", r.URL.Path),
			logx.Err(r.Context().Err()))
		var zero T
		return zero, false
	}
}

type layerOutcome struct {
	ran bool
	err error
}

func (h *handlers) tryLoadLayer(r *http.Request, l feature.Layer) (layerOutcome, bool) {
	return awaitLoad(h, r, string(l), func(ctx context.Context) layerOutcome {
		ran, err := h.d.Controller.TryLoadLayer(ctx, l)
		return layerOutcome{ran: ran, err: err}
	})
}

func (h *handlers) loadAll(w http.ResponseWriter, r *http.Request) {
	res, ok := awaitLoad(h, r, "all", h.d.Controller.LoadAll)
	if !ok {
		return
	}
	resp := loadResponse{
		Batch:    res.Batch,
		Launched: res.Launched,
		Skipped:  res.Skipped,
		Duration: res.Duration.String(),
	}
	if len(res.Failed) > 0 {
		resp.Failed = make(map[string]string, len(res.Failed))
		for name, err := range res.Failed {
			resp.Failed[name] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type layerResponse struct {
	Layer    feature.Layer `json:"layer"`
	Task     string        `json:"task"`
	Ran      bool          `json:"ran"`
	Enabled  *bool         `json:"enabled,omitempty"`
	Previous *bool         `json:"previous,omitempty"`
	Error    string        `json:"error,omitempty"`
}

func (h *handlers) layerParam(w http.ResponseWriter, r *http.Request) (feature.Layer, bool) {
	l, ok := feature.ParseLayer(chi.URLParam(r, "layer"))
	if !ok {
		writeProblem(w, http.StatusNotFound, "unknown layer "+strconv.Quote(chi.URLParam(r, "layer")))
	}
	return l, ok
}

func (h *handlers) loadLayer(w http.ResponseWriter, r *http.Request) {
	l, ok := h.layerParam(w, r)
	if !ok {
		return
	}
	out, ok := h.tryLoadLayer(r, l)
	if !ok {
		return
	}
	resp := layerResponse{Layer: l, Task: orchestrator.InFlightKey(l), Ran: out.ran}
	switch {
	case out.err != nil:
		resp.Error = out.err.Error()
		writeJSON(w, http.StatusBadGateway, resp)
	case !out.ran:
		writeJSON(w, http.StatusConflict, resp)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *handlers) toggleLayer(w http.ResponseWriter, r *http.Request) {
	l, ok := h.layerParam(w, r)
	if !ok {
		return
	}
	enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "enabled must be a boolean")
		return
	}
	prev := h.d.Layers.SetLayer(l, enabled)
	h.d.Log.Info("layer toggled", logx.String("layer", string(l)), logx.Bool("enabled", enabled), logx.Bool("previous", prev))

	resp := layerResponse{Layer: l, Task: orchestrator.InFlightKey(l), Enabled: &enabled, Previous: &prev}
	if enabled && !prev && l.Dynamic() {
		// The toggle has applied even when the load outlives the request.
		out, ok := h.tryLoadLayer(r, l)
		if !ok {
			return
		}
		resp.Ran = out.ran
		if out.err != nil {
			resp.Error = out.err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) attentionState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.d.Attention.State())
}

func (h *handlers) setHidden(w http.ResponseWriter, r *http.Request) {
	hidden, err := strconv.ParseBool(r.URL.Query().Get("hidden"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "hidden must be a boolean")
		return
	}
	h.d.Attention.SetHidden(hidden)
	writeJSON(w, http.StatusOK, h.d.Attention.State())
}

func (h *handlers) heartbeat(w http.ResponseWriter, _ *http.Request) {
	h.d.Attention.Heartbeat()
	w.WriteHeader(http.StatusNoContent)
}
