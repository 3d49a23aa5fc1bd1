package ops

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"feedgrid/internal/storage"
	"feedgrid/pkg/logx"
)

const (
	defaultRunsLimit = 100
	maxRunsLimit     = 1000
)

type runsResponse struct {
	Runs []storage.Run `json:"runs"`
}

// runs serves the newest journal entries; ?limit= caps the count.
func (h *handlers) runs(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeProblem(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}
	runs, err := h.d.History.RecentRuns(r.Context(), limit)
	if err != nil {
		h.d.Log.Warn("run journal read failed", logx.Err(err))
		writeProblem(w, http.StatusInternalServerError, "run journal unavailable")
		return
	}
	if runs == nil {
		runs = []storage.Run{}
	}
	writeJSON(w, http.StatusOK, runsResponse{Runs: runs})
}

// snapshot serves the last stored body of one feed as fetched upstream.
func (h *handlers) snapshot(w http.ResponseWriter, r *http.Request) {
	feed := chi.URLParam(r, "feed")
	snap, ok, err := h.d.History.GetSnapshot(r.Context(), feed)
	if err != nil {
		h.d.Log.Warn("snapshot read failed", logx.String("feed", feed), logx.Err(err))
		writeProblem(w, http.StatusInternalServerError, "snapshot unavailable")
		return
	}
	if !ok {
		writeProblem(w, http.StatusNotFound, "no snapshot for feed "+strconv.Quote(feed))
		return
	}
	ct := snap.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Last-Modified", snap.At.UTC().Format(http.TimeFormat))
	if snap.ETag != "" {
		w.Header().Set("ETag", snap.ETag)
	}
	w.Header().Set("X-Feed-Age", time.Since(snap.At).Round(time.Second).String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(snap.Body)
}
