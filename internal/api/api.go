// Package api provides the HTTP API for the certificate monitor.
//
// # Endpoints
//
// Fleet:
//   - GET /api/v1/nodes - List nodes (?active=true for active only)
//   - GET /api/v1/nodes/status - Active nodes with their latest successful check
//   - GET /api/v1/nodes/{id} - Get node details
//   - GET /api/v1/nodes/{id}/checks - Get node check history
//   - GET /api/v1/events - Recent node lifecycle events
//   - GET /api/v1/overview - Aggregate fleet summary
//
// Jobs:
//   - GET  /api/v1/jobs - Scheduler job status
//   - POST /api/v1/jobs/{name}/run - Trigger a job manually
//
// Health:
//   - GET /api/v1/health - Process and database health
package api

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/t-cloud/edge-certmon/internal/cache"
	"github.com/t-cloud/edge-certmon/internal/metrics"
	"github.com/t-cloud/edge-certmon/internal/scheduler"
	"github.com/t-cloud/edge-certmon/internal/service"
	"github.com/t-cloud/edge-certmon/pkg/types"
)

const (
	cacheTTLOverview = 30 * time.Second
	cacheTTLNodeList = 30 * time.Second

	defaultChecksLimit = 50
	defaultEventsLimit = 100
	maxListLimit       = 1000
)

// JobRunner is the scheduler surface the API exposes.
type JobRunner interface {
	Trigger(name string) error
	Status() []types.JobStatus
}

// Server is the HTTP API server.
type Server struct {
	svc       *service.Service
	jobs      JobRunner
	collector *metrics.Collector
	cache     *cache.Cache
	logger    *slog.Logger
	mux       *http.ServeMux
}

// NewServer creates the API server. The cache may be nil, in which case
// responses are computed per request.
func NewServer(svc *service.Service, jobs JobRunner, collector *metrics.Collector, responseCache *cache.Cache, logger *slog.Logger) *Server {
	s := &Server{
		svc:       svc,
		jobs:      jobs,
		collector: collector,
		cache:     responseCache,
		logger:    logger.With("component", "api"),
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		w = &gzipResponseWriter{ResponseWriter: w, gz: gz}
	}

	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request",
		"method", r.Method,
		"path", r.URL.Path,
		"duration", time.Since(start))
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	// Static routes must come before wildcard {id} routes.
	s.mux.HandleFunc("GET /api/v1/nodes", s.handleListNodes)
	s.mux.HandleFunc("GET /api/v1/nodes/status", s.handleNodeStatuses)
	s.mux.HandleFunc("GET /api/v1/nodes/{id}", s.handleGetNode)
	s.mux.HandleFunc("GET /api/v1/nodes/{id}/checks", s.handleNodeChecks)
	s.mux.HandleFunc("GET /api/v1/events", s.handleListEvents)
	s.mux.HandleFunc("GET /api/v1/overview", s.handleOverview)

	s.mux.HandleFunc("GET /api/v1/jobs", s.handleListJobs)
	s.mux.HandleFunc("POST /api/v1/jobs/{name}/run", s.handleRunJob)
}

// =============================================================================
// HEALTH
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, s.collector.GetHealth(r.Context()))
}

// =============================================================================
// FLEET
// =============================================================================

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	cacheKey := "nodes:all"
	if activeOnly {
		cacheKey = "nodes:active"
	}
	if s.serveCached(w, r, cacheKey) {
		return
	}

	nodes, err := s.svc.Nodes(r.Context(), activeOnly)
	if err != nil {
		s.logger.Error("list nodes failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list nodes")
		return
	}
	if nodes == nil {
		nodes = []types.Node{}
	}

	s.cacheAndWrite(w, r, cacheKey, cacheTTLNodeList, nodes)
}

func (s *Server) handleNodeStatuses(w http.ResponseWriter, r *http.Request) {
	const cacheKey = "nodes:status"
	if s.serveCached(w, r, cacheKey) {
		return
	}

	statuses, err := s.svc.NodeStatuses(r.Context())
	if err != nil {
		s.logger.Error("node statuses failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get node statuses")
		return
	}
	if statuses == nil {
		statuses = []types.NodeCheck{}
	}

	s.cacheAndWrite(w, r, cacheKey, cacheTTLNodeList, statuses)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.svc.Node(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Error("get node failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get node")
		return
	}
	if node == nil {
		s.writeError(w, http.StatusNotFound, "node not found")
		return
	}
	s.writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleNodeChecks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := parseLimit(r, defaultChecksLimit)

	node, err := s.svc.Node(r.Context(), id)
	if err != nil {
		s.logger.Error("get node failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get node")
		return
	}
	if node == nil {
		s.writeError(w, http.StatusNotFound, "node not found")
		return
	}

	checks, err := s.svc.NodeChecks(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("list node checks failed", "node_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list checks")
		return
	}
	if checks == nil {
		checks = []types.CheckResult{}
	}
	s.writeJSON(w, http.StatusOK, checks)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.Events(r.Context(), parseLimit(r, defaultEventsLimit))
	if err != nil {
		s.logger.Error("list events failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []types.NodeEvent{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	const cacheKey = "overview"
	if s.serveCached(w, r, cacheKey) {
		return
	}

	overview, err := s.svc.Overview(r.Context())
	if err != nil {
		s.logger.Error("fleet overview failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get overview")
		return
	}

	s.cacheAndWrite(w, r, cacheKey, cacheTTLOverview, overview)
}

// =============================================================================
// JOBS
// =============================================================================

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.jobs.Status())
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	err := s.jobs.Trigger(name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		s.writeError(w, http.StatusNotFound, "unknown job: "+name)
	case errors.Is(err, scheduler.ErrJobBusy):
		s.writeError(w, http.StatusConflict, "job is already running: "+name)
	case err != nil:
		s.logger.Error("job trigger failed", "job", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to trigger job")
	default:
		s.writeJSON(w, http.StatusAccepted, map[string]string{
			"job":    name,
			"status": "triggered",
		})
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// serveCached writes the cached response for key if one exists.
func (s *Server) serveCached(w http.ResponseWriter, r *http.Request, key string) bool {
	if s.cache == nil {
		return false
	}
	data, err := s.cache.Get(r.Context(), key)
	if err != nil || data == nil {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
	return true
}

func (s *Server) cacheAndWrite(w http.ResponseWriter, r *http.Request, key string, ttl time.Duration, v any) {
	if s.cache != nil {
		if err := s.cache.SetJSON(r.Context(), key, v, ttl); err != nil {
			s.logger.Warn("response cache write failed", "key", key, "error", err)
		}
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// gzipResponseWriter routes the body through gzip while headers and status
// still go to the underlying writer.
type gzipResponseWriter struct {
	http.ResponseWriter
	gz *gzip.Writer
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	return w.gz.Write(b)
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
