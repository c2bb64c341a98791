// Package httpserver provides the HTTP REST API of the orchestration service:
// workflow runs, human tasks, entity reads and schedules, scoped per tenant.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/unlock/orchestration-service/internal/database"
	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/observability"
	"github.com/unlock/orchestration-service/internal/temporal"
)

// WorkflowEngine starts and inspects workflow runs. *temporal.Engine satisfies it.
type WorkflowEngine interface {
	Start(ctx context.Context, req temporal.StartRequest) (*temporal.StartResult, error)
	Signal(ctx context.Context, workflowID, signalName string, payload interface{}) error
	Query(ctx context.Context, workflowID string) (*temporal.RunView, error)
	Cancel(ctx context.Context, workflowID string) error
	History(ctx context.Context, workflowID string) ([]byte, error)
	Health(ctx context.Context) error
}

// ScheduleManager manages recurring workflow schedules. *temporal.Scheduler satisfies it.
type ScheduleManager interface {
	Create(ctx context.Context, def domain.ScheduleDefinition) (string, error)
	Pause(ctx context.Context, id, note string) error
	Resume(ctx context.Context, id, note string) error
	Delete(ctx context.Context, id string) error
	Describe(ctx context.Context, id string) (*domain.ScheduleDescription, error)
	List(ctx context.Context) ([]domain.ScheduleDefinition, error)
}

// TaskBridge resolves human tasks and signals the waiting run. *signals.Bridge satisfies it.
type TaskBridge interface {
	RespondToTask(ctx context.Context, tenantID string, resp domain.TaskResponse) (*domain.Task, error)
	ClaimTask(ctx context.Context, tenantID string, claim domain.TaskClaim) (*domain.Task, error)
}

// TaskReader reads human tasks.
type TaskReader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}

// EntityReader reads entity versions and their annotations. repository.EntityStore satisfies it.
type EntityReader interface {
	GetCurrent(ctx context.Context, tenantID string, entityGroupID uuid.UUID) (*domain.Entity, error)
	GetVersion(ctx context.Context, tenantID string, entityID uuid.UUID) (*domain.Entity, error)
	ListVersions(ctx context.Context, tenantID string, entityGroupID uuid.UUID) ([]*domain.Entity, error)
	ReadAnnotations(ctx context.Context, entityID uuid.UUID, filter domain.AnnotationFilter) ([]*domain.Annotation, error)
}

// HealthChecker reports database health. *database.DB satisfies it.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Deps are the collaborators the HTTP server routes to.
type Deps struct {
	Engine    WorkflowEngine
	Schedules ScheduleManager
	Tasks     TaskReader
	Bridge    TaskBridge
	Entities  EntityReader
	DB        HealthChecker
	Metrics   *observability.Metrics
}

// Server is the HTTP REST API server.
type Server struct {
	router      chi.Router
	httpServer  *http.Server
	deps        Deps
	limiter     *tenantLimiter
	metricsPath string
	logger      zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// RequestsPerSecond limits API calls per tenant; zero disables the limit.
	RequestsPerSecond float64
	Burst             int

	// MetricsPath serves the Prometheus registry; empty disables the route.
	MetricsPath string
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		deps:        deps,
		metricsPath: cfg.MetricsPath,
		logger:      logger.With().Str("component", "http-server").Logger(),
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = newTenantLimiter(cfg.RequestsPerSecond, cfg.Burst)
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(metricsMiddleware(s.deps.Metrics))

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)
	if s.metricsPath != "" {
		r.Handle(s.metricsPath, promhttp.Handler())
	}

	r.Route("/api/v1/tenants/{tenantID}", func(r chi.Router) {
		r.Use(jsonContentTypeMiddleware)
		r.Use(tenantContextMiddleware)
		if s.limiter != nil {
			r.Use(s.limiter.middleware)
		}

		r.Post("/workflows", s.startWorkflow)
		r.Get("/workflows/{workflowID}", s.getWorkflow)
		r.Delete("/workflows/{workflowID}", s.cancelWorkflow)
		r.Post("/workflows/{workflowID}/signals", s.signalWorkflow)
		r.Get("/workflows/{workflowID}/history", s.getWorkflowHistory)

		r.Get("/tasks/{taskID}", s.getTask)
		r.Post("/tasks/{taskID}/response", s.respondToTask)
		r.Post("/tasks/{taskID}/claim", s.claimTask)

		r.Get("/entities/{entityGroupID}", s.getCurrentEntity)
		r.Get("/entities/{entityGroupID}/versions", s.listEntityVersions)
		r.Get("/entity-versions/{entityID}/annotations", s.listAnnotations)

		r.Post("/schedules", s.createSchedule)
		r.Get("/schedules", s.listSchedules)
		r.Get("/schedules/{scheduleID}", s.describeSchedule)
		r.Delete("/schedules/{scheduleID}", s.deleteSchedule)
		r.Post("/schedules/{scheduleID}/pause", s.pauseSchedule)
		r.Post("/schedules/{scheduleID}/resume", s.resumeSchedule)
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler reports ready when both the database and Temporal answer.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ready"}
	ready := true

	if s.deps.DB != nil {
		health := s.deps.DB.Health(r.Context())
		resp["database"] = health.Status
		if health.Status != "healthy" {
			ready = false
			resp["database_error"] = health.Error
		}
	}
	if s.deps.Engine != nil {
		if err := s.deps.Engine.Health(r.Context()); err != nil {
			ready = false
			resp["temporal"] = "unhealthy"
			s.logger.Warn().Err(err).Msg("temporal health check failed")
		} else {
			resp["temporal"] = "healthy"
		}
	}

	if !ready {
		resp["status"] = "not_ready"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort log; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
