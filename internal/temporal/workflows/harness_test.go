package workflows

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/unlock/orchestration-service/internal/database"
	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/engines"
	"github.com/unlock/orchestration-service/internal/repository"
	"github.com/unlock/orchestration-service/internal/repository/memstore"
	"github.com/unlock/orchestration-service/internal/temporal/activities"
)

const tenant = "tenant-1"

type memEvents struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (m *memEvents) Insert(_ context.Context, _ database.DBTX, event *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// ofPrefix lists event types starting with prefix, in insertion order.
func (m *memEvents) ofPrefix(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		if len(e.EventType) >= len(prefix) && e.EventType[:len(prefix)] == prefix {
			out = append(out, e.EventType)
		}
	}
	return out
}

func (m *memEvents) workflowData(t *testing.T, eventType string) domain.WorkflowEventData {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.EventType == eventType {
			var data domain.WorkflowEventData
			require.NoError(t, json.Unmarshal(e.Data, &data))
			return data
		}
	}
	t.Fatalf("no %s event", eventType)
	return domain.WorkflowEventData{}
}

// recordingAudits keeps the statuses runs were closed with.
type recordingAudits struct {
	*memstore.Audits
	mu     sync.Mutex
	closed []domain.RunStatus
}

func (r *recordingAudits) Close(ctx context.Context, workflowID, runID string, status domain.RunStatus, errorMessage string, summary json.RawMessage) error {
	r.mu.Lock()
	r.closed = append(r.closed, status)
	r.mu.Unlock()
	return r.Audits.Close(ctx, workflowID, runID, status, errorMessage, summary)
}

func (r *recordingAudits) statuses() []domain.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RunStatus(nil), r.closed...)
}

// harness runs workflows against the real activities over in-memory stores.
type harness struct {
	env         *testsuite.TestWorkflowEnvironment
	store       *memstore.Store
	audits      *recordingAudits
	events      *memEvents
	content     *activities.ContentActivities
	identity    *activities.IdentityActivities
	performance *activities.PerformanceActivities
	platform    *activities.PlatformActivities
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	h := &harness{
		env:    ts.NewTestWorkflowEnvironment(),
		store:  memstore.New(),
		audits: &recordingAudits{Audits: memstore.NewAudits()},
		events: &memEvents{},
	}
	h.content = activities.NewContentActivities(h.store, engines.NewTemplateContentEngine(), h.events, nil, nil)
	h.identity = activities.NewIdentityActivities(h.store, engines.NewTermIdentityEngine(), h.events, nil, nil)
	h.performance = activities.NewPerformanceActivities(h.store, engines.NewSyntheticPerformanceEngine(), h.events, nil, nil)
	h.platform = activities.NewPlatformActivities(h.store, h.audits, h.events, nil, nil)

	h.content.Register(h.env)
	activities.NewEntityActivities(h.store, nil).Register(h.env)
	h.identity.Register(h.env)
	h.performance.Register(h.env)
	h.platform.Register(h.env)
	Register(h.env)
	return h
}

func (h *harness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	encoded, err := h.env.QueryWorkflow(QueryRunStatus)
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, encoded.Get(&snap))
	return snap
}

func (h *harness) task(t *testing.T, id uuid.UUID) *domain.Task {
	t.Helper()
	task, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return task
}

func (h *harness) stageProfile(t *testing.T, profile *domain.IdentityProfileV1) *domain.Entity {
	t.Helper()
	entity, err := h.store.StageVersion(context.Background(), domain.StageParams{
		EntityGroupID: uuid.New(),
		Kind:          domain.EntityKindIdentityProfile,
		TenantID:      tenant,
		Payload:       profile,
		CreatedBy:     "test",
	})
	require.NoError(t, err)
	return entity
}

func (h *harness) stageContent(t *testing.T, body string) *domain.Entity {
	t.Helper()
	entity, err := h.store.StageVersion(context.Background(), domain.StageParams{
		EntityGroupID: uuid.New(),
		Kind:          domain.EntityKindContent,
		TenantID:      tenant,
		Payload:       &domain.ContentV1{Title: "t", Body: body, Channel: "blog", Status: domain.ContentStatusApproved},
		CreatedBy:     "test",
	})
	require.NoError(t, err)
	return entity
}

func stateLog(snap Snapshot) []RunState {
	var out []RunState
	for _, entry := range snap.Log {
		if entry.Kind == logState {
			out = append(out, entry.State)
		}
	}
	return out
}

func taskFilter() repository.TaskFilter {
	return repository.TaskFilter{TenantID: tenant}
}
