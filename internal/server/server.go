// Package server exposes the HTTP API: a streaming research endpoint plus
// supporting endpoints for search, ingestion, source inspection, claim
// verification, queue draining, and health.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/citeseek/citeseek/internal/config"
	"github.com/citeseek/citeseek/internal/ingest"
	"github.com/citeseek/citeseek/internal/pipeline"
	"github.com/citeseek/citeseek/internal/store"
	"github.com/citeseek/citeseek/internal/verify"
)

// Server wires handlers to the application services.
type Server struct {
	Store        *store.Store
	Orchestrator *pipeline.Orchestrator
	Search       pipeline.Searcher
	Ingestor     *ingest.Ingestor
	Verifier     *verify.Verifier
	Cfg          config.Config
}

// Handler returns the full middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /research", s.handleResearch)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("GET /source/{id}", s.handleSource)
	mux.HandleFunc("POST /verify", s.handleVerify)
	mux.HandleFunc("GET /ingest-job", s.handleIngestJob)
	mux.HandleFunc("POST /ingest-job", s.handleIngestJob)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Chain: recovery -> cors -> auth -> logging -> mux
	var h http.Handler = mux
	h = logMiddleware(h)
	h = authMiddleware(s.Cfg.APIKey, h)
	h = corsMiddleware(s.Cfg.CORSOrigin, h)
	h = recoveryMiddleware(h)
	return h
}

// requestTimeout bounds the non-streaming endpoints.
func (s *Server) requestTimeout() time.Duration {
	if s.Cfg.RequestTimeoutMS > 0 {
		return time.Duration(s.Cfg.RequestTimeoutMS) * time.Millisecond
	}
	return 30 * time.Second
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
