// Package httpserver serves metrics and recent transfer history over HTTP.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jaywantadh/xferstream/internal/history"
	"github.com/jaywantadh/xferstream/pkg/logging"
)

const defaultHistoryLimit = 50

type Server struct {
	srv     *http.Server
	history *history.Store
}

// New builds a server exposing metrics at /metrics and, when hist is not
// nil, recent records at /history.
func New(addr string, metrics http.Handler, hist *history.Store) *Server {
	s := &Server{history: hist}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics)
	mux.HandleFunc("/history", s.handleHistory)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	logging.Log.Infof("Serving metrics on %s", ln.Addr())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Log.WithError(err).Error("metrics server stopped")
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed!", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		http.Error(w, "History disabled", http.StatusNotFound)
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit!", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.history.List(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		logging.Log.WithError(err).Warn("failed to encode history")
	}
}
