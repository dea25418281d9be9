package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qualgen/pkg/logx"
)

// Server exposes the Prometheus scrape endpoint, a health check, and a
// per-run usage lookup when a Prometheus server is configured.
type Server struct {
	httpServer *http.Server
	query      *QueryService
	timeout    time.Duration
	logger     *logx.Logger
}

// NewServer creates a metrics server on listenAddr. The query service is
// optional; without it the usage endpoint returns 503.
func NewServer(listenAddr string, query *QueryService, queryTimeout time.Duration) *Server {
	s := &Server{
		query:   query,
		timeout: queryTimeout,
		logger:  logx.NewLogger("metrics"),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/runs/", s.handleRunUsage)

	s.httpServer = &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("metrics server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	return nil
}

// handleHealth implements GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleRunUsage implements GET /api/runs/{id}/usage.
func (s *Server) handleRunUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.query == nil {
		http.Error(w, "No Prometheus server configured", http.StatusServiceUnavailable)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	runID := strings.TrimSuffix(rest, "/usage")
	if runID == "" || runID == rest {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	usage, err := s.query.GetRunUsage(ctx, runID)
	if err != nil {
		s.logger.Error("usage query for %s failed: %v", runID, err)
		http.Error(w, "Usage query failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(usage)
}
