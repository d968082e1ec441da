package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/anicoll/deimic-pi/internal/pkg/metric"
	"github.com/anicoll/deimic-pi/internal/pkg/requests"
	"github.com/anicoll/deimic-pi/internal/pkg/state"
)

type stateSource interface {
	Snapshot() state.Snapshot
}

type journalSource interface {
	Records() []requests.Record
}

type server struct {
	state   stateSource
	journal journalSource
	logger  *zap.Logger
}

func New(st stateSource, journal journalSource) *server {
	return &server{state: st, journal: journal, logger: zap.L()}
}

// Handler routes the bridge's HTTP surface. feed may be nil when the live
// feed is disabled.
func Handler(s *server, metrics *metric.Metrics, feed http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /state", s.GetState)
	mux.HandleFunc("GET /requests", s.GetRequests)
	if feed != nil {
		mux.Handle("GET /ws", feed)
	}
	return LoggingMiddleware(mux)
}

func (s *server) GetState(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.state.Snapshot())
}

func (s *server) GetRequests(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.journal.Records())
}

func (s *server) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		handleError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func handleError(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(err.Error()))
}
