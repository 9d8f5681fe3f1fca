// Package web serves the controller status, metrics and recent history over HTTP.
package web

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modbus-pump-control/internal/history"
	"modbus-pump-control/internal/status"
)

// HistorySource lists stored events. *history.Store satisfies it.
type HistorySource interface {
	Recent(ctx context.Context, n int) ([]history.Record, error)
}

type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	history    HistorySource
}

// New creates a Server. gatherer and hist may be nil to disable /metrics and
// /history.json.
func New(addr string, tracker *status.Tracker, gatherer prometheus.Gatherer, hist HistorySource) *Server {
	s := &Server{tracker: tracker, history: hist}

	mux := http.NewServeMux()
	mux.HandleFunc("/status.json", s.handleStatus)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	if hist != nil {
		mux.HandleFunc("/history.json", s.handleHistory)
	}

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(formatJSON(snap))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	n := 100
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	recs, err := s.history.Recent(r.Context(), n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	history.ExportJSON(w, recs)
}
