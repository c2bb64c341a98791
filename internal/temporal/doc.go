// Package temporal is the orchestrator's boundary to the Temporal engine.
//
// # Engine
//
// Engine starts, signals, queries, cancels and exports the history of
// workflow runs. Inputs are validated against the workflow catalog before a
// run starts, the tenant is bound into the input and the run memo, and
// workflow.started is written to the outbox:
//
//	engine := temporal.NewEngine(c, temporal.EngineConfig{}, publisher, metrics, logger)
//	run, err := engine.Start(ctx, temporal.StartRequest{
//	    WorkflowType: workflows.ContentProduction,
//	    WorkflowID:   "launch-post",
//	    TenantID:     "acme",
//	    Input:        raw,
//	})
//
// A run already open under the same workflow id is rejected with
// domain.ErrAlreadyRunning. Signals are checked against the closed set the
// workflow type declares; signals to closed or unknown runs fail with
// domain.ErrNotFound.
//
// # Schedules
//
// Scheduler registers recurring starts with an overlap policy (skip,
// buffer_one, cancel_other, allow_all). Creating an id that exists succeeds.
//
// # Workers
//
// A process runs one Component (or all of them). Each component polls one
// task queue; WorkerManager creates a worker per queue and registers the
// workflows or activity group the queue serves.
//
// # Errors
//
// Engine failures are returned as *TemporalError whose Kind is a domain
// sentinel where one applies:
//
//	if errors.Is(err, domain.ErrNotFound) {
//	    // unknown run, closed run, or a run of another tenant
//	}
package temporal
