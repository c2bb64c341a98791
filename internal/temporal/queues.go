package temporal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/unlock/orchestration-service/internal/temporal/activities"
	"github.com/unlock/orchestration-service/internal/temporal/workflows"
)

// Component is a deployable worker role. Each component polls exactly one
// task queue; ComponentAll runs every queue in one process.
type Component string

const (
	ComponentAll               Component = "all"
	ComponentOrchestrator      Component = "orchestrator"
	ComponentContentEngine     Component = "content-engine"
	ComponentIdentityEngine    Component = "identity-engine"
	ComponentPerformanceEngine Component = "performance-engine"
	ComponentEntityStore       Component = "entity-store"
	ComponentPlatform          Component = "platform"
)

// components maps every single-queue component to the queue it polls.
var components = map[Component]string{
	ComponentOrchestrator:      activities.QueueOrchestrator,
	ComponentContentEngine:     activities.QueueContentEngine,
	ComponentIdentityEngine:    activities.QueueIdentityEngine,
	ComponentPerformanceEngine: activities.QueuePerformanceEngine,
	ComponentEntityStore:       activities.QueueEntityStore,
	ComponentPlatform:          activities.QueuePlatform,
}

// ParseComponent validates a component name. The empty string means all.
func ParseComponent(s string) (Component, error) {
	c := Component(strings.ToLower(strings.TrimSpace(s)))
	if c == "" || c == ComponentAll {
		return ComponentAll, nil
	}
	if _, ok := components[c]; !ok {
		return "", fmt.Errorf("unknown component %q (want one of %s)", s, strings.Join(Components(), ", "))
	}
	return c, nil
}

// Components lists every component name, sorted, including "all".
func Components() []string {
	names := []string{string(ComponentAll)}
	for c := range components {
		names = append(names, string(c))
	}
	sort.Strings(names)
	return names
}

// Queues returns the task queues the component polls, sorted.
func (c Component) Queues() []string {
	if c != ComponentAll {
		if q, ok := components[c]; ok {
			return []string{q}
		}
		return nil
	}
	queues := make([]string, 0, len(components))
	for _, q := range components {
		queues = append(queues, q)
	}
	sort.Strings(queues)
	return queues
}

// Activities holds the activity groups a worker process can serve. Only the
// groups of the queues the process polls need to be set.
type Activities struct {
	Content     *activities.ContentActivities
	Identity    *activities.IdentityActivities
	Performance *activities.PerformanceActivities
	Entity      *activities.EntityActivities
	Platform    *activities.PlatformActivities
}

// Registrar registers both workflows and activities; worker.Worker satisfies it.
type Registrar interface {
	activities.Registrar
	workflows.Registrar
}

// RegisterQueue registers what the given queue serves: the workflows on the
// orchestrator queue, one activity group on every other queue.
func (a Activities) RegisterQueue(r Registrar, queue string) error {
	missing := func(group string) error {
		return fmt.Errorf("queue %s: %s activities not configured", queue, group)
	}

	switch queue {
	case activities.QueueOrchestrator:
		workflows.Register(r)
	case activities.QueueContentEngine:
		if a.Content == nil {
			return missing("content")
		}
		a.Content.Register(r)
	case activities.QueueIdentityEngine:
		if a.Identity == nil {
			return missing("identity")
		}
		a.Identity.Register(r)
	case activities.QueuePerformanceEngine:
		if a.Performance == nil {
			return missing("performance")
		}
		a.Performance.Register(r)
	case activities.QueueEntityStore:
		if a.Entity == nil {
			return missing("entity")
		}
		a.Entity.Register(r)
	case activities.QueuePlatform:
		if a.Platform == nil {
			return missing("platform")
		}
		a.Platform.Register(r)
	default:
		return fmt.Errorf("unknown task queue %q", queue)
	}
	return nil
}
