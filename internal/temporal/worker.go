package temporal

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// WorkerConfig contains configuration for the Temporal workers of a process.
type WorkerConfig struct {
	// Component selects the task queues to poll.
	Component Component

	// MaxConcurrentActivityExecutionSize is the maximum concurrent activity executions.
	// Default: 100
	MaxConcurrentActivityExecutionSize int

	// MaxConcurrentWorkflowTaskExecutionSize is the maximum concurrent workflow task executions.
	// Default: 50
	MaxConcurrentWorkflowTaskExecutionSize int

	// MaxConcurrentActivityTaskPollers is the number of activity task pollers.
	// Default: 4
	MaxConcurrentActivityTaskPollers int

	// MaxConcurrentWorkflowTaskPollers is the number of workflow task pollers.
	// Default: 2
	MaxConcurrentWorkflowTaskPollers int

	// StopTimeout is how long running activities get to finish on shutdown.
	StopTimeout time.Duration
}

// DefaultWorkerConfig returns a WorkerConfig with default values.
func DefaultWorkerConfig(component Component) WorkerConfig {
	return WorkerConfig{
		Component:                              component,
		MaxConcurrentActivityExecutionSize:     100,
		MaxConcurrentWorkflowTaskExecutionSize: 50,
		MaxConcurrentActivityTaskPollers:       4,
		MaxConcurrentWorkflowTaskPollers:       2,
		StopTimeout:                            30 * time.Second,
	}
}

// workerOptionsFromConfig builds worker.Options from WorkerConfig, applying defaults
// for any zero-valued fields.
func workerOptionsFromConfig(config WorkerConfig) worker.Options {
	options := worker.Options{
		MaxConcurrentActivityExecutionSize:     config.MaxConcurrentActivityExecutionSize,
		MaxConcurrentWorkflowTaskExecutionSize: config.MaxConcurrentWorkflowTaskExecutionSize,
		MaxConcurrentActivityTaskPollers:       config.MaxConcurrentActivityTaskPollers,
		MaxConcurrentWorkflowTaskPollers:       config.MaxConcurrentWorkflowTaskPollers,
		WorkerStopTimeout:                      config.StopTimeout,
	}

	if options.MaxConcurrentActivityExecutionSize == 0 {
		options.MaxConcurrentActivityExecutionSize = 100
	}
	if options.MaxConcurrentWorkflowTaskExecutionSize == 0 {
		options.MaxConcurrentWorkflowTaskExecutionSize = 50
	}
	if options.MaxConcurrentActivityTaskPollers == 0 {
		options.MaxConcurrentActivityTaskPollers = 4
	}
	if options.MaxConcurrentWorkflowTaskPollers == 0 {
		options.MaxConcurrentWorkflowTaskPollers = 2
	}

	return options
}

// registry forwards registrations to a worker and remembers what was
// registered under which name.
type registry struct {
	target     Registrar
	workflows  []string
	activities []string
}

func newRegistry(target Registrar) *registry {
	return &registry{target: target}
}

// RegisterWorkflowWithOptions implements workflows.Registrar.
func (r *registry) RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions) {
	r.workflows = append(r.workflows, options.Name)
	r.target.RegisterWorkflowWithOptions(w, options)
}

// RegisterActivityWithOptions implements activities.Registrar.
func (r *registry) RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions) {
	r.activities = append(r.activities, options.Name)
	r.target.RegisterActivityWithOptions(a, options)
}

// WorkerManager manages the lifecycle of the Temporal workers of one
// component, one worker per task queue.
type WorkerManager struct {
	queues  []string
	workers map[string]worker.Worker
	logger  zerolog.Logger
}

// NewWorkerManager creates one worker per queue of the configured component
// and registers the workflows and activities each queue serves.
func NewWorkerManager(c client.Client, config WorkerConfig, acts Activities, logger zerolog.Logger) (*WorkerManager, error) {
	queues := config.Component.Queues()
	if len(queues) == 0 {
		return nil, fmt.Errorf("component %q polls no task queue", config.Component)
	}

	m := &WorkerManager{
		queues:  queues,
		workers: make(map[string]worker.Worker, len(queues)),
		logger:  logger.With().Str("component", string(config.Component)).Logger(),
	}
	options := workerOptionsFromConfig(config)
	for _, queue := range queues {
		w := worker.New(c, queue, options)
		reg := newRegistry(w)
		if err := acts.RegisterQueue(reg, queue); err != nil {
			return nil, err
		}
		m.workers[queue] = w
		m.logger.Info().
			Str("task_queue", queue).
			Strs("workflows", reg.workflows).
			Strs("activities", reg.activities).
			Msg("worker registered")
	}
	return m, nil
}

// Queues returns the task queues polled, sorted.
func (m *WorkerManager) Queues() []string {
	return m.queues
}

// Run starts every worker and blocks until the context is cancelled, then
// stops them. A worker that fails to start stops the ones already started.
func (m *WorkerManager) Run(ctx context.Context) error {
	started := make([]string, 0, len(m.queues))
	for _, queue := range m.queues {
		if err := m.workers[queue].Start(); err != nil {
			m.stop(started)
			return fmt.Errorf("start worker for queue %s: %w", queue, err)
		}
		started = append(started, queue)
		m.logger.Info().Str("task_queue", queue).Msg("worker started")
	}

	<-ctx.Done()
	m.stop(started)
	return ctx.Err()
}

func (m *WorkerManager) stop(queues []string) {
	for _, queue := range queues {
		m.workers[queue].Stop()
		m.logger.Info().Str("task_queue", queue).Msg("worker stopped")
	}
}
