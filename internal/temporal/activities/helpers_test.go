package activities

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/unlock/orchestration-service/internal/database"
	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/repository"
	"github.com/unlock/orchestration-service/internal/repository/memstore"
)

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

func (m *memEvents) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.EventType)
	}
	return out
}

type registrable interface {
	Register(r Registrar)
}

func newActivityEnv(t *testing.T, acts ...registrable) *testsuite.TestActivityEnvironment {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	for _, a := range acts {
		a.Register(env)
	}
	return env
}

func execute[T any](t *testing.T, env *testsuite.TestActivityEnvironment, name string, in interface{}) (*T, error) {
	t.Helper()
	val, err := env.ExecuteActivity(name, in)
	if err != nil {
		return nil, err
	}
	var out T
	require.NoError(t, val.Get(&out))
	return &out, nil
}

// executeWithRetries runs one activity from a workflow under a retry
// policy, so every attempt shares the workflow and activity ids.
func executeWithRetries[T any](t *testing.T, name string, in interface{}, acts ...registrable) (*T, error) {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	for _, a := range acts {
		a.Register(env)
	}
	env.RegisterWorkflowWithOptions(func(ctx workflow.Context) (*T, error) {
		ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: time.Minute,
			RetryPolicy:         &temporal.RetryPolicy{InitialInterval: time.Second, MaximumAttempts: 3},
		})
		var out T
		if err := workflow.ExecuteActivity(ctx, name, in).Get(ctx, &out); err != nil {
			return nil, err
		}
		return &out, nil
	}, workflow.RegisterOptions{Name: "retrying_" + name})

	env.ExecuteWorkflow("retrying_" + name)
	require.True(t, env.IsWorkflowCompleted())
	if err := env.GetWorkflowError(); err != nil {
		return nil, err
	}
	var out T
	require.NoError(t, env.GetWorkflowResult(&out))
	return &out, nil
}

// flakyAnnotations fails the first writes of one annotation type with a
// transient error.
type flakyAnnotations struct {
	repository.EntityStore
	mu       sync.Mutex
	failType domain.AnnotationType
	failures int
}

func (f *flakyAnnotations) Annotate(ctx context.Context, params domain.AnnotateParams) (*domain.Annotation, error) {
	f.mu.Lock()
	fail := params.AnnotationType == f.failType && f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset by peer")
	}
	return f.EntityStore.Annotate(ctx, params)
}

func requireAppErrorType(t *testing.T, err error, errType string, nonRetryable bool) {
	t.Helper()
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr), "expected application error, got %T: %v", err, err)
	require.Equal(t, errType, appErr.Type())
	require.Equal(t, nonRetryable, appErr.NonRetryable())
}

func stageProfile(t *testing.T, store *memstore.Store, tenantID string, profile *domain.IdentityProfileV1) *domain.Entity {
	t.Helper()
	entity, err := store.StageVersion(context.Background(), domain.StageParams{
		EntityGroupID: uuid.New(),
		Kind:          domain.EntityKindIdentityProfile,
		TenantID:      tenantID,
		Payload:       profile,
		CreatedBy:     "test",
	})
	require.NoError(t, err)
	return entity
}

func stageContent(t *testing.T, store *memstore.Store, tenantID string, content *domain.ContentV1) *domain.Entity {
	t.Helper()
	entity, err := store.StageVersion(context.Background(), domain.StageParams{
		EntityGroupID: uuid.New(),
		Kind:          domain.EntityKindContent,
		TenantID:      tenantID,
		Payload:       content,
		CreatedBy:     "test",
	})
	require.NoError(t, err)
	return entity
}
