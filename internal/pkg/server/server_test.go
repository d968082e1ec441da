package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/anicoll/deimic-pi/internal/pkg/feed"
	"github.com/anicoll/deimic-pi/internal/pkg/metric"
	"github.com/anicoll/deimic-pi/internal/pkg/model"
	"github.com/anicoll/deimic-pi/internal/pkg/requests"
	"github.com/anicoll/deimic-pi/internal/pkg/state"
)

func newHandler(t *testing.T, feed http.Handler) (http.Handler, *state.Cache, *requests.Journal, *metric.Metrics) {
	t.Helper()
	cache := state.New()
	journal := requests.NewJournal(4)
	metrics := metric.New()
	return Handler(New(cache, journal), metrics, feed), cache, journal, metrics
}

func TestGetState(t *testing.T) {
	h, cache, _, _ := newHandler(t, nil)
	u, err := model.ParseStateUpdate(model.DeimicOutput, []string{"A", "3", "7"}, nil)
	require.NoError(t, err)
	cache.Apply(u)
	cache.TogglePeer([]byte{1})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var snap state.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Components, 1)
	assert.Equal(t, "A", snap.Components[0].Address)
	assert.Equal(t, []string{"01"}, snap.Peers)
}

func TestGetRequests(t *testing.T) {
	h, _, journal, _ := newHandler(t, nil)
	journal.Record("EXTERNAL", map[string]any{"lamp": "on"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/requests", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var records []requests.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "EXTERNAL", records[0].Source)
}

func TestMetrics(t *testing.T) {
	h, _, _, metrics := newHandler(t, nil)
	metrics.ConnectedPeers.Set(2)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deimicpi_bridge_connected_peers 2")
}

func TestFeedRoute(t *testing.T) {
	called := false
	feed := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})
	h, _, _, _ := newHandler(t, feed)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://panel.local")
	h.ServeHTTP(rec, req)
	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "http://panel.local", rec.Header().Get("Access-Control-Allow-Origin"))

	h, _, _, _ = newHandler(t, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	undo := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(undo)
	return logs
}

func TestLoggingMiddleware_Status(t *testing.T) {
	tests := map[string]struct {
		path string
		want int64
	}{
		"ok":        {path: "/state", want: http.StatusOK},
		"not found": {path: "/missing", want: http.StatusNotFound},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			logs := observeLogs(t)
			h, _, _, _ := newHandler(t, nil)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			entries := logs.FilterMessage("http request").All()
			require.Len(t, entries, 1)
			fields := entries[0].ContextMap()
			assert.Equal(t, tt.want, fields["status"])
			assert.Equal(t, tt.path, fields["uri"])
			assert.Contains(t, fields, "duration")
		})
	}
}

func TestLoggingMiddleware_WebsocketUpgrade(t *testing.T) {
	logs := observeLogs(t)
	hub := feed.New()
	defer hub.Close()
	h, _, _, _ := newHandler(t, hub)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return logs.FilterMessage("http request").Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(http.StatusSwitchingProtocols), logs.FilterMessage("http request").All()[0].ContextMap()["status"])
}
