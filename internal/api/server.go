package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/permitstream/harvester/internal/metrics"
	"github.com/permitstream/harvester/internal/permit"
	"github.com/permitstream/harvester/internal/routing"
)

// HealthSource exposes the tracker state the status endpoint reports.
type HealthSource interface {
	Snapshot() map[string]permit.HealthState
}

// Server wires HTTP handlers to the harvester's live state.
type Server struct {
	router  chi.Router
	health  HealthSource
	routes  *routing.Table
	targets []permit.Target
	clock   permit.Clock
	started time.Time
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(health HealthSource, routes *routing.Table, targets []permit.Target,
	clock permit.Clock, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		health:  health,
		routes:  routes,
		targets: targets,
		clock:   clock,
		started: clock.Now(),
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/status", s.status)
	r.Get("/targets", s.listTargets)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusResponse struct {
	UptimeSeconds int64                          `json:"uptime_seconds"`
	RoutedTargets int                            `json:"routed_targets"`
	Targets       map[string]permit.HealthState `json:"targets"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		UptimeSeconds: int64(s.clock.Now().Sub(s.started).Seconds()),
		RoutedTargets: s.routes.Len(),
		Targets:       s.health.Snapshot(),
	})
}

type targetSummary struct {
	Name      string `json:"name"`
	Priority  int    `json:"priority"`
	Endpoints int    `json:"endpoints"`
	Discovery bool   `json:"discovery"`
	Routed    bool   `json:"routed"`
}

func (s *Server) listTargets(w http.ResponseWriter, _ *http.Request) {
	out := make([]targetSummary, 0, len(s.targets))
	for _, t := range s.targets {
		out = append(out, targetSummary{
			Name:      t.Name,
			Priority:  t.Priority,
			Endpoints: len(t.Endpoints),
			Discovery: t.Discovery.Enabled,
			Routed:    s.routes.Routed(t.Name),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": out})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
