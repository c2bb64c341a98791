package temporal

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/workflow"

	"github.com/unlock/orchestration-service/internal/temporal/activities"
	"github.com/unlock/orchestration-service/internal/temporal/workflows"
)

// nopRegistrar accepts registrations without a worker behind it.
type nopRegistrar struct{}

func (nopRegistrar) RegisterWorkflowWithOptions(interface{}, workflow.RegisterOptions) {}

func (nopRegistrar) RegisterActivityWithOptions(interface{}, activity.RegisterOptions) {}

func allActivities() Activities {
	return Activities{
		Content:     activities.NewContentActivities(nil, nil, nil, nil, nil),
		Identity:    activities.NewIdentityActivities(nil, nil, nil, nil, nil),
		Performance: activities.NewPerformanceActivities(nil, nil, nil, nil, nil),
		Entity:      activities.NewEntityActivities(nil, nil),
		Platform:    activities.NewPlatformActivities(nil, nil, nil, nil, nil),
	}
}

func TestParseComponent(t *testing.T) {
	tests := []struct {
		in      string
		want    Component
		wantErr bool
	}{
		{"", ComponentAll, false},
		{"all", ComponentAll, false},
		{" Content-Engine ", ComponentContentEngine, false},
		{"platform", ComponentPlatform, false},
		{"scheduler", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseComponent(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unknown component")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComponent_Queues(t *testing.T) {
	assert.Equal(t, []string{activities.QueueIdentityEngine}, ComponentIdentityEngine.Queues())
	assert.Nil(t, Component("bogus").Queues())

	all := ComponentAll.Queues()
	assert.Len(t, all, len(components))
	assert.True(t, sort.StringsAreSorted(all))
	assert.Contains(t, Components(), "all")
}

// Every catalog activity is registered on exactly the queue the catalog
// assigns it, and only the orchestrator queue carries workflows.
func TestActivities_RegisterQueueMatchesCatalog(t *testing.T) {
	acts := allActivities()
	seen := map[string]string{}

	for _, queue := range ComponentAll.Queues() {
		reg := newRegistry(nopRegistrar{})
		require.NoError(t, acts.RegisterQueue(reg, queue))

		if queue == activities.QueueOrchestrator {
			got := append([]string(nil), reg.workflows...)
			sort.Strings(got)
			assert.Equal(t, workflows.Types(), got)
			assert.Empty(t, reg.activities)
			continue
		}

		assert.Empty(t, reg.workflows, queue)
		var want []string
		for _, spec := range activities.ForQueue(queue) {
			want = append(want, spec.Name)
		}
		got := append([]string(nil), reg.activities...)
		sort.Strings(got)
		assert.Equal(t, want, got, queue)
		for _, name := range got {
			seen[name] = queue
		}
	}

	assert.Len(t, seen, len(activities.Names()))
}

func TestActivities_RegisterQueueErrors(t *testing.T) {
	t.Run("missing group", func(t *testing.T) {
		err := Activities{}.RegisterQueue(nopRegistrar{}, activities.QueueContentEngine)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "content activities not configured")
	})

	t.Run("unknown queue", func(t *testing.T) {
		err := allActivities().RegisterQueue(nopRegistrar{}, "nowhere")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown task queue")
	})
}
