// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/governor"
	"github.com/teradata-labs/weft/pkg/history"
	"github.com/teradata-labs/weft/pkg/relay"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns a permissive CORS configuration
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         86400, // 24 hours
	}
}

// Config holds HTTP server configuration.
type Config struct {
	Addr            string
	CORS            CORSConfig
	JanitorSchedule string // cron spec for expired-session cleanup
}

// DefaultConfig returns server defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		CORS:            DefaultCORSConfig(),
		JanitorSchedule: "@every 5m",
	}
}

// Server exposes the coordinator over HTTP with SSE streaming.
type Server struct {
	coordinator *Coordinator
	gov         *governor.Governor
	store       *history.Store
	config      Config
	logger      *zap.Logger
	httpServer  *http.Server
	janitor     *cron.Cron
}

// NewServer builds the HTTP server. The history store may be nil when
// persistence is disabled.
func NewServer(coordinator *Coordinator, gov *governor.Governor, store *history.Store, config Config) *Server {
	s := &Server{
		coordinator: coordinator,
		gov:         gov,
		store:       store,
		config:      config,
		logger:      log.Logger().Named("http"),
		janitor:     cron.New(),
	}
	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      s.buildHandler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No timeout for SSE
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/query:stream", s.handleQueryStream)
	mux.HandleFunc("GET /v1/query:stream", s.handleQueryStream)
	mux.HandleFunc("POST /v1/runs/{id}/cancel", s.handleCancelRun)
	mux.HandleFunc("GET /v1/sessions/{id}/stats", s.handleSessionStats)
	mux.HandleFunc("GET /v1/sessions/{id}/history", s.handleSessionHistory)
	mux.HandleFunc("GET /health", s.handleHealth)

	var handler http.Handler = mux
	if s.config.CORS.Enabled {
		handler = s.corsMiddleware(mux)
	}
	return handler
}

// Start runs the janitor and serves HTTP until the listener fails or Stop
// is called. Blocks.
func (s *Server) Start() error {
	if _, err := s.janitor.AddFunc(s.config.JanitorSchedule, func() {
		if n := s.gov.CleanupExpired(); n > 0 {
			s.logger.Info("cleaned up expired sessions", zap.Int("count", n))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule session janitor: %w", err)
	}
	s.janitor.Start()

	s.logger.Info("http server listening", zap.String("addr", s.config.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	<-s.janitor.Stop().Done()
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the routed handler; used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type queryRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Question  string `json:"question"`
}

// handleQueryStream runs one question and streams the answer as SSE frames.
// The response stays open until the run reaches its terminal outcome.
// GET with query parameters is accepted as well so EventSource-style
// clients can connect.
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if r.Method == http.MethodGet {
		req.SessionID = r.URL.Query().Get("session_id")
		req.Question = r.URL.Query().Get("question")
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSONError(w, http.StatusBadRequest, "question is required")
		return
	}

	sink, err := relay.NewSSESink(w)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	runID, outcome, err := s.coordinator.StartRun(r.Context(), req.SessionID, req.Question, sink)
	if errors.Is(err, ErrSessionBusy) {
		// Headers are already sent; the error frame is all we can do.
		if b, encErr := relay.ErrorFrame(err.Error()).Encode(); encErr == nil {
			_ = sink.Write(b)
			_ = sink.Flush()
		}
		return
	}
	s.logger.Debug("query stream finished",
		zap.String("run_id", runID),
		zap.String("outcome", outcome.String()))
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if !s.coordinator.CancelRun(runID) {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("run %s is not active", runID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"run_id": runID, "cancelled": true})
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	stats := s.gov.Stats(sessionID)
	runID, active := s.coordinator.ActiveRunForSession(sessionID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"stats":      stats,
		"active_run": runID,
		"running":    active,
	})
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSONError(w, http.StatusNotImplemented, "answer history is disabled")
		return
	}
	sessionID := r.PathValue("id")
	answers, err := s.store.ListBySession(r.Context(), sessionID, 100)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type item struct {
		RunID      string    `json:"run_id"`
		Question   string    `json:"question"`
		Answer     string    `json:"answer"`
		Outcome    string    `json:"outcome"`
		ToolCalls  int       `json:"tool_calls"`
		ElapsedMs  int64     `json:"elapsed_ms"`
		TokenCount int       `json:"token_count"`
		CreatedAt  time.Time `json:"created_at"`
	}
	items := make([]item, 0, len(answers))
	for _, a := range answers {
		items = append(items, item{
			RunID:      a.RunID,
			Question:   a.Question,
			Answer:     a.Answer,
			Outcome:    a.Outcome,
			ToolCalls:  a.ToolCalls,
			ElapsedMs:  a.ElapsedMs,
			TokenCount: a.TokenCount,
			CreatedAt:  a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"answers":    items,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"active_runs": s.coordinator.ActiveRuns(),
		"sessions":    s.gov.SessionCount(),
	})
}

// corsMiddleware adds CORS headers to HTTP responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if allowed := s.allowedOrigin(origin); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
		}
		if s.config.CORS.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if len(s.config.CORS.AllowedMethods) > 0 {
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(s.config.CORS.AllowedMethods, ", "))
		}
		if len(s.config.CORS.AllowedHeaders) > 0 {
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(s.config.CORS.AllowedHeaders, ", "))
		}
		if s.config.CORS.MaxAge > 0 {
			w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", s.config.CORS.MaxAge))
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	for _, allowed := range s.config.CORS.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if allowed == origin {
			return origin
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
