//go:build integration

package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unlock/orchestration-service/internal/database/dbtest"
	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/repository"
)

func contentParams(groupID uuid.UUID, expected int, title string) domain.StageParams {
	return domain.StageParams{
		EntityGroupID:   groupID,
		Kind:            domain.EntityKindContent,
		TenantID:        "tenant-1",
		ExpectedVersion: expected,
		Payload:         &domain.ContentV1{Title: title, Body: "body", Status: domain.ContentStatusDraft},
		CreatedBy:       "draft_content",
	}
}

func TestEntityStore_Integration(t *testing.T) {
	ctx := context.Background()
	db := dbtest.StartPostgres(t)
	store := repository.NewPgEntityStore(db.Pool())

	t.Run("concurrent stages leave one current row", func(t *testing.T) {
		groupID := uuid.New()
		_, err := store.StageVersion(ctx, contentParams(groupID, 0, "v1"))
		require.NoError(t, err)

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			conflicts int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.StageVersion(ctx, contentParams(groupID, 1, "v2"))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case errors.Is(err, domain.ErrConcurrencyConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		assert.Equal(t, writers-1, conflicts)

		var current int
		require.NoError(t, db.QueryRow(ctx,
			`SELECT COUNT(*) FROM entities WHERE entity_group_id = $1 AND is_current`, groupID).Scan(&current))
		assert.Equal(t, 1, current)

		versions, err := store.ListVersions(ctx, "tenant-1", groupID)
		require.NoError(t, err)
		require.Len(t, versions, 2)
		assert.False(t, versions[0].IsCurrent)
		assert.NotNil(t, versions[0].SupersededAt)
		assert.True(t, versions[1].IsCurrent)
	})

	t.Run("concurrent first stages leave one current row", func(t *testing.T) {
		groupID := uuid.New()

		var wg sync.WaitGroup
		errs := make([]error, 6)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = store.StageVersion(ctx, contentParams(groupID, 0, "v1"))
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.True(t, errors.Is(err, domain.ErrConcurrencyConflict), "got %v", err)
		}
		assert.Equal(t, 1, ok)
	})

	t.Run("idempotency key makes a retried stage return the same version", func(t *testing.T) {
		groupID := uuid.New()
		params := contentParams(groupID, 0, "v1")
		params.IdempotencyKey = "content-wf-7/3"

		first, err := store.StageVersion(ctx, params)
		require.NoError(t, err)
		second, err := store.StageVersion(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("N annotations in, N annotations out in order", func(t *testing.T) {
		groupID := uuid.New()
		entity, err := store.StageVersion(ctx, contentParams(groupID, 0, "annotated"))
		require.NoError(t, err)

		before := time.Now().Add(-time.Minute)
		const n = 25
		for i := 0; i < n; i++ {
			_, err := store.Annotate(ctx, domain.AnnotateParams{
				EntityID:       entity.ID,
				AnnotationType: domain.AnnotationVoiceAlignment,
				Producer:       "evaluate_voice",
				Payload:        &domain.VoiceAlignmentV1{Score: float64(i) / n},
			})
			require.NoError(t, err)
		}

		got, err := store.ReadAnnotations(ctx, entity.ID, domain.AnnotationFilter{
			Type:  domain.AnnotationVoiceAlignment,
			Since: before,
		})
		require.NoError(t, err)
		require.Len(t, got, n)
		for i := 1; i < n; i++ {
			assert.True(t, got[i].CreatedAt.After(got[i-1].CreatedAt), "created_at must increase")
			assert.Greater(t, got[i].Seq, got[i-1].Seq)
		}

		latest, err := store.LatestAnnotation(ctx, entity.ID, domain.AnnotationVoiceAlignment)
		require.NoError(t, err)
		assert.Equal(t, got[n-1].ID, latest.ID)

		none, err := store.ReadAnnotations(ctx, entity.ID, domain.AnnotationFilter{Type: domain.AnnotationHumanFeedback})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("tasks transition once", func(t *testing.T) {
		tasks := repository.NewPgTaskRepository(db.Pool())
		task, err := tasks.Create(ctx, &domain.Task{
			TenantID:   "tenant-1",
			WorkflowID: "content-wf-9",
			RunID:      "run-9",
			SignalName: domain.SignalTaskResponse,
			Kind:       domain.TaskKindContentApproval,
		})
		require.NoError(t, err)

		_, changed, err := tasks.Transition(ctx, task.ID, domain.TaskStatusCompleted, []byte(`{"approved":true}`))
		require.NoError(t, err)
		assert.True(t, changed)

		again, changed, err := tasks.Transition(ctx, task.ID, domain.TaskStatusCompleted, nil)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.NotNil(t, again.ResolvedAt)

		_, _, err = tasks.Transition(ctx, task.ID, domain.TaskStatusExpired, nil)
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	})
}
