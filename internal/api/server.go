// Package api exposes the gateway's operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sandboxgate/system-gateway/internal/gateway/adapter"
	"github.com/sandboxgate/system-gateway/internal/gateway/approval"
	"github.com/sandboxgate/system-gateway/internal/gateway/interceptor"
	"github.com/sandboxgate/system-gateway/internal/gateway/treeindex"
)

// Server exposes the gateway's operations as an HTTP API.
type Server struct {
	adapter     *adapter.Adapter
	approvals   *approval.Store
	index       *treeindex.Indexer
	interceptor *interceptor.Interceptor
	metrics     *Metrics

	addr   string
	server *http.Server
}

// Config configures a Server.
type Config struct {
	Adapter     *adapter.Adapter
	Approvals   *approval.Store
	Index       *treeindex.Indexer
	Interceptor *interceptor.Interceptor
	ListenAddr  string

	// Registerer receives the server's metrics. Defaults to
	// prometheus.DefaultRegisterer; tests supply an isolated
	// prometheus.NewRegistry() to avoid collisions across instances.
	Registerer prometheus.Registerer
}

// New builds a Server. Call Start to begin serving.
func New(cfg Config) *Server {
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Server{
		adapter:     cfg.Adapter,
		approvals:   cfg.Approvals,
		index:       cfg.Index,
		interceptor: cfg.Interceptor,
		metrics:     NewMetrics(reg),
		addr:        cfg.ListenAddr,
	}
}

// Start begins serving HTTP in the background.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /structure", s.handleStructure)
	mux.HandleFunc("POST /read", s.handleRead)
	mux.HandleFunc("POST /edit", s.handleEdit)
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("POST /index/refresh", s.handleIndexRefresh)
	mux.HandleFunc("GET /approvals", s.handleListApprovals)
	mux.HandleFunc("GET /approvals/{id}", s.handleGetApproval)
	mux.HandleFunc("PATCH /approvals/{id}", s.handleDecideApproval)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("starting gateway HTTP server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("gateway HTTP server failed")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Info().Msg("shutting down gateway HTTP server")
	return s.server.Shutdown(ctx)
}

// reportIndexSize refreshes the tree_index_entries gauge after an
// operation that may have changed the index's row count.
func (s *Server) reportIndexSize() {
	if s.index == nil {
		return
	}
	count, err := s.index.EntryCount()
	if err != nil {
		log.Warn().Err(err).Msg("failed to read tree index entry count")
		return
	}
	s.metrics.TreeIndexSize.Set(float64(count))
}

func userIDFromRequest(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "anonymous"
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, detail string) {
	s.sendJSON(w, status, map[string]interface{}{
		"success": false,
		"detail":  detail,
	})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
