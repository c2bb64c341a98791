package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unlock/orchestration-service/internal/database"
	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/observability"
	"github.com/unlock/orchestration-service/internal/temporal"
)

const testTenant = "tenant-1"

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeEngine struct {
	startFn   func(ctx context.Context, req temporal.StartRequest) (*temporal.StartResult, error)
	signalFn  func(ctx context.Context, workflowID, signalName string, payload interface{}) error
	queryFn   func(ctx context.Context, workflowID string) (*temporal.RunView, error)
	cancelFn  func(ctx context.Context, workflowID string) error
	historyFn func(ctx context.Context, workflowID string) ([]byte, error)
	healthErr error
}

func (f *fakeEngine) Start(ctx context.Context, req temporal.StartRequest) (*temporal.StartResult, error) {
	if f.startFn != nil {
		return f.startFn(ctx, req)
	}
	return &temporal.StartResult{WorkflowID: req.WorkflowID, RunID: "run-1"}, nil
}

func (f *fakeEngine) Signal(ctx context.Context, workflowID, signalName string, payload interface{}) error {
	if f.signalFn != nil {
		return f.signalFn(ctx, workflowID, signalName, payload)
	}
	return nil
}

func (f *fakeEngine) Query(ctx context.Context, workflowID string) (*temporal.RunView, error) {
	if f.queryFn != nil {
		return f.queryFn(ctx, workflowID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeEngine) Cancel(ctx context.Context, workflowID string) error {
	if f.cancelFn != nil {
		return f.cancelFn(ctx, workflowID)
	}
	return nil
}

func (f *fakeEngine) History(ctx context.Context, workflowID string) ([]byte, error) {
	if f.historyFn != nil {
		return f.historyFn(ctx, workflowID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeEngine) Health(context.Context) error { return f.healthErr }

type fakeSchedules struct {
	created  []domain.ScheduleDefinition
	paused   map[string]string
	resumed  map[string]string
	deleted  []string
	describe *domain.ScheduleDescription
	list     []domain.ScheduleDefinition
	err      error
}

func (f *fakeSchedules) Create(_ context.Context, def domain.ScheduleDefinition) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.created = append(f.created, def)
	return domain.NormalizeScheduleID(def.ID), nil
}

func (f *fakeSchedules) Pause(_ context.Context, id, note string) error {
	if f.err != nil {
		return f.err
	}
	if f.paused == nil {
		f.paused = map[string]string{}
	}
	f.paused[id] = note
	return nil
}

func (f *fakeSchedules) Resume(_ context.Context, id, note string) error {
	if f.err != nil {
		return f.err
	}
	if f.resumed == nil {
		f.resumed = map[string]string{}
	}
	f.resumed[id] = note
	return nil
}

func (f *fakeSchedules) Delete(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeSchedules) Describe(context.Context, string) (*domain.ScheduleDescription, error) {
	if f.describe == nil {
		return nil, domain.ErrNotFound
	}
	return f.describe, nil
}

func (f *fakeSchedules) List(context.Context) ([]domain.ScheduleDefinition, error) {
	return f.list, f.err
}

type fakeTasks struct {
	tasks map[uuid.UUID]*domain.Task
}

func (f *fakeTasks) Get(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	if t, ok := f.tasks[id]; ok {
		return t, nil
	}
	return nil, domain.NewNotFoundError("task", id.String())
}

type fakeBridge struct {
	responses []domain.TaskResponse
	claims    []domain.TaskClaim
	tenants   []string
	err       error
}

func (f *fakeBridge) RespondToTask(_ context.Context, tenantID string, resp domain.TaskResponse) (*domain.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tenants = append(f.tenants, tenantID)
	f.responses = append(f.responses, resp)
	return &domain.Task{ID: resp.TaskID, TenantID: tenantID, Status: domain.TaskStatusCompleted}, nil
}

func (f *fakeBridge) ClaimTask(_ context.Context, tenantID string, claim domain.TaskClaim) (*domain.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tenants = append(f.tenants, tenantID)
	f.claims = append(f.claims, claim)
	return &domain.Task{ID: claim.TaskID, TenantID: tenantID, Status: domain.TaskStatusPending}, nil
}

type fakeEntities struct {
	entities    []*domain.Entity
	annotations []*domain.Annotation
	lastFilter  domain.AnnotationFilter
}

func (f *fakeEntities) GetCurrent(_ context.Context, tenantID string, groupID uuid.UUID) (*domain.Entity, error) {
	for _, e := range f.entities {
		if e.EntityGroupID == groupID && e.TenantID == tenantID && e.IsCurrent {
			return e, nil
		}
	}
	return nil, domain.NewNotFoundError("entity", groupID.String())
}

func (f *fakeEntities) GetVersion(_ context.Context, tenantID string, entityID uuid.UUID) (*domain.Entity, error) {
	for _, e := range f.entities {
		if e.ID == entityID && e.TenantID == tenantID {
			return e, nil
		}
	}
	return nil, domain.NewNotFoundError("entity", entityID.String())
}

func (f *fakeEntities) ListVersions(_ context.Context, tenantID string, groupID uuid.UUID) ([]*domain.Entity, error) {
	var out []*domain.Entity
	for _, e := range f.entities {
		if e.EntityGroupID == groupID && e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEntities) ReadAnnotations(_ context.Context, entityID uuid.UUID, filter domain.AnnotationFilter) ([]*domain.Annotation, error) {
	f.lastFilter = filter
	var out []*domain.Annotation
	for _, a := range f.annotations {
		if a.EntityID == entityID && (filter.Type == "" || a.AnnotationType == filter.Type) {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeDB struct {
	status database.HealthStatus
}

func (f *fakeDB) Health(context.Context) database.HealthStatus { return f.status }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testDeps() Deps {
	return Deps{
		Engine:    &fakeEngine{},
		Schedules: &fakeSchedules{},
		Tasks:     &fakeTasks{},
		Bridge:    &fakeBridge{},
		Entities:  &fakeEntities{},
		DB:        &fakeDB{status: database.HealthStatus{Status: "healthy"}},
	}
}

func newTestServer(deps Deps) *Server {
	return NewServer(Config{Address: ":0", MetricsPath: "/metrics"}, deps, zerolog.Nop())
}

func tenantPath(suffix string) string {
	return "/api/v1/tenants/" + testTenant + suffix
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

// ---------------------------------------------------------------------------
// Health, readiness, metrics
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	rr := do(t, newTestServer(testDeps()), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestReadyz(t *testing.T) {
	t.Run("ready when database and temporal answer", func(t *testing.T) {
		rr := do(t, newTestServer(testDeps()), http.MethodGet, "/readyz", "")
		require.Equal(t, http.StatusOK, rr.Code)

		var body map[string]string
		decode(t, rr, &body)
		assert.Equal(t, "ready", body["status"])
		assert.Equal(t, "healthy", body["temporal"])
	})

	t.Run("database down", func(t *testing.T) {
		deps := testDeps()
		deps.DB = &fakeDB{status: database.HealthStatus{Status: "unhealthy", Error: "refused"}}
		rr := do(t, newTestServer(deps), http.MethodGet, "/readyz", "")
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("temporal down", func(t *testing.T) {
		deps := testDeps()
		deps.Engine = &fakeEngine{healthErr: errors.New("dial failed")}
		rr := do(t, newTestServer(deps), http.MethodGet, "/readyz", "")
		require.Equal(t, http.StatusServiceUnavailable, rr.Code)

		var body map[string]string
		decode(t, rr, &body)
		assert.Equal(t, "unhealthy", body["temporal"])
		assert.NotContains(t, rr.Body.String(), "dial failed")
	})
}

func TestMetricsEndpointAndRouteLabels(t *testing.T) {
	deps := testDeps()
	deps.Metrics = observability.NewMetrics("test_http_server")
	srv := newTestServer(deps)

	do(t, srv, http.MethodDelete, tenantPath("/workflows/wf-1"), "")
	do(t, srv, http.MethodDelete, tenantPath("/workflows/wf-2"), "")

	route := "/api/v1/tenants/{tenantID}/workflows/{workflowID}"
	assert.Equal(t, 2.0, testutil.ToFloat64(deps.Metrics.HTTPRequests.WithLabelValues(route, http.MethodDelete, "202")))

	rr := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "test_http_server_")
}
