// Package observability provides logging and metrics support for the
// orchestration service.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//
// Attach identifiers carried by a request context:
//
//	ctx = observability.WithTenant(ctx, tenantID)
//	ctx = observability.WithRequestID(ctx, requestID)
//	log := observability.LoggerFromContext(ctx, logger)
//
// Temporal SDK logs are routed through NewTemporalLogger so worker and
// client output share one format.
//
// # Metrics
//
//	metrics := observability.NewMetrics("orchestrator")
//	metrics.RecordWorkflowStarted("ContentProductionWorkflow")
//
// # Standard Fields
//
//   - tenant_id: owning tenant
//   - request_id: HTTP request identifier
//   - correlation_id: identifier carried onto outbox events
//   - workflow_id, workflow_run_id: Temporal execution identifiers
//   - entity_group_id, version: entity store coordinates
package observability
