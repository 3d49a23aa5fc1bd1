package ops

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedgrid/internal/storage"
	"feedgrid/pkg/logx"
)

func TestHistoryRoutes(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	now := time.Now()
	for i, name := range []string{"news", "markets", "oil"} {
		require.NoError(t, st.AppendRun(ctx, storage.Run{At: now.Add(time.Duration(i) * time.Second), Task: name, Trigger: "bulk", OK: true}))
	}
	require.NoError(t, st.PutSnapshot(ctx, storage.Snapshot{
		Feed: "news", At: now, ETag: `"v1"`, ContentType: "application/json", Body: []byte(`{"items":[]}`),
	}))

	srv := httptest.NewServer(NewRouter(Deps{Controller: &fakeController{}, History: st}, RouterOptions{}))
	t.Cleanup(srv.Close)
	get := func(path string) (*http.Response, []byte) {
		resp, err := srv.Client().Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp, body
	}

	resp, body := get("/api/runs?limit=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rr runsResponse
	require.NoError(t, json.Unmarshal(body, &rr))
	require.Len(t, rr.Runs, 2)
	assert.Equal(t, "oil", rr.Runs[0].Task)

	resp, _ = get("/api/runs?limit=zero")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = get("/api/feeds/news")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, `"v1"`, resp.Header.Get("ETag"))
	assert.JSONEq(t, `{"items":[]}`, string(body))

	resp, _ = get("/api/feeds/weather")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHistoryRoutesAbsentWithoutStore(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RouterOptions{})
	resp, _ := f.do(t, http.MethodGet, "/api/runs")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
