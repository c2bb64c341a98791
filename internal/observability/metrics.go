package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the orchestration service.
// Metrics are grouped by subsystem: workflows, activities, entity store, tasks,
// outbox relay, inbound bridge and HTTP. All collectors are registered via promauto
// with the default Prometheus registry, so NewMetrics must be called once per namespace.
//
// Every Record method is safe on a nil *Metrics, which lets tests and tools skip
// metric wiring entirely.
type Metrics struct {
	// WorkflowsStarted counts workflow starts accepted by the engine, labeled by workflow type.
	WorkflowsStarted *prometheus.CounterVec

	// WorkflowStartConflicts counts starts rejected because a run with the same id is open.
	WorkflowStartConflicts *prometheus.CounterVec

	// WorkflowsFinished counts workflow runs reaching a terminal state, labeled by type and status.
	WorkflowsFinished *prometheus.CounterVec

	// WorkflowDuration observes end-to-end run duration in seconds, labeled by type.
	WorkflowDuration *prometheus.HistogramVec

	// SignalsDelivered counts signals routed to runs, labeled by signal name.
	SignalsDelivered *prometheus.CounterVec

	// ActivityOutcomes counts activity executions, labeled by activity type and outcome.
	ActivityOutcomes *prometheus.CounterVec

	// ActivityDuration observes activity execution time in seconds, labeled by activity type.
	ActivityDuration *prometheus.HistogramVec

	// EntityVersionsStaged counts committed entity versions, labeled by entity kind.
	EntityVersionsStaged *prometheus.CounterVec

	// ConcurrencyConflicts counts stage attempts rejected by optimistic concurrency.
	ConcurrencyConflicts *prometheus.CounterVec

	// AnnotationsWritten counts appended annotations, labeled by annotation type.
	AnnotationsWritten *prometheus.CounterVec

	// TasksCreated counts human tasks opened, labeled by task kind.
	TasksCreated *prometheus.CounterVec

	// TasksResolved counts human tasks reaching a terminal status, labeled by status.
	TasksResolved *prometheus.CounterVec

	// OutboxPublished counts events relayed to the broker.
	OutboxPublished prometheus.Counter

	// OutboxFailed counts relay attempts that failed to publish.
	OutboxFailed prometheus.Counter

	// InboundMessages counts inbound bridge messages, labeled by kind and result.
	InboundMessages *prometheus.CounterVec

	// InboundDuplicates counts inbound messages dropped by idempotency dedup.
	InboundDuplicates prometheus.Counter

	// HTTPRequests counts HTTP requests, labeled by route pattern, method and status code.
	HTTPRequests *prometheus.CounterVec

	// HTTPRequestDuration observes HTTP handler latency in seconds, labeled by route pattern.
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Workflows
		WorkflowsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_started_total",
			Help:      "Total number of workflow runs started",
		}, []string{"workflow_type"}),
		WorkflowStartConflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_start_conflicts_total",
			Help:      "Total number of workflow starts rejected because the id is already running",
		}, []string{"workflow_type"}),
		WorkflowsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_finished_total",
			Help:      "Total number of workflow runs reaching a terminal state",
		}, []string{"workflow_type", "status"}),
		WorkflowDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Duration of workflow runs in seconds",
			Buckets:   []float64{1, 10, 60, 300, 900, 3600, 14400, 86400, 259200},
		}, []string{"workflow_type"}),
		SignalsDelivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_delivered_total",
			Help:      "Total number of signals delivered to workflow runs",
		}, []string{"signal_name"}),

		// Activities
		ActivityOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_executions_total",
			Help:      "Total number of activity executions by outcome",
		}, []string{"activity_type", "outcome"}),
		ActivityDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "activity_duration_seconds",
			Help:      "Duration of activity executions in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"activity_type"}),

		// Entity store
		EntityVersionsStaged: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_versions_staged_total",
			Help:      "Total number of entity versions staged",
		}, []string{"kind"}),
		ConcurrencyConflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_concurrency_conflicts_total",
			Help:      "Total number of stage attempts rejected by optimistic concurrency",
		}, []string{"kind"}),
		AnnotationsWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotations_written_total",
			Help:      "Total number of annotations appended",
		}, []string{"annotation_type"}),

		// Tasks
		TasksCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_created_total",
			Help:      "Total number of human tasks created",
		}, []string{"kind"}),
		TasksResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_resolved_total",
			Help:      "Total number of human tasks resolved",
		}, []string{"status"}),

		// Outbox relay
		OutboxPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_published_total",
			Help:      "Total number of outbox events published to the broker",
		}),
		OutboxFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_publish_failures_total",
			Help:      "Total number of failed outbox publish attempts",
		}),

		// Inbound bridge
		InboundMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Total number of inbound bridge messages processed",
		}, []string{"kind", "result"}),
		InboundDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_duplicates_total",
			Help:      "Total number of inbound messages dropped as duplicates",
		}),

		// HTTP
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"route", "method", "code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// RecordWorkflowStarted records an accepted workflow start.
func (m *Metrics) RecordWorkflowStarted(workflowType string) {
	if m == nil {
		return
	}
	m.WorkflowsStarted.WithLabelValues(workflowType).Inc()
}

// RecordWorkflowStartConflict records a start rejected with already-running.
func (m *Metrics) RecordWorkflowStartConflict(workflowType string) {
	if m == nil {
		return
	}
	m.WorkflowStartConflicts.WithLabelValues(workflowType).Inc()
}

// RecordWorkflowFinished records a terminal workflow status and its duration.
func (m *Metrics) RecordWorkflowFinished(workflowType, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.WorkflowsFinished.WithLabelValues(workflowType, status).Inc()
	m.WorkflowDuration.WithLabelValues(workflowType).Observe(durationSeconds)
}

// RecordSignalDelivered records a signal routed to a run.
func (m *Metrics) RecordSignalDelivered(signalName string) {
	if m == nil {
		return
	}
	m.SignalsDelivered.WithLabelValues(signalName).Inc()
}

// RecordActivity records one activity execution. Outcome is "success" or an error category.
func (m *Metrics) RecordActivity(activityType, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ActivityOutcomes.WithLabelValues(activityType, outcome).Inc()
	m.ActivityDuration.WithLabelValues(activityType).Observe(durationSeconds)
}

// RecordVersionStaged records a committed entity version.
func (m *Metrics) RecordVersionStaged(kind string) {
	if m == nil {
		return
	}
	m.EntityVersionsStaged.WithLabelValues(kind).Inc()
}

// RecordConcurrencyConflict records a stage rejected by optimistic concurrency.
func (m *Metrics) RecordConcurrencyConflict(kind string) {
	if m == nil {
		return
	}
	m.ConcurrencyConflicts.WithLabelValues(kind).Inc()
}

// RecordAnnotationWritten records an appended annotation.
func (m *Metrics) RecordAnnotationWritten(annotationType string) {
	if m == nil {
		return
	}
	m.AnnotationsWritten.WithLabelValues(annotationType).Inc()
}

// RecordTaskCreated records a human task being opened.
func (m *Metrics) RecordTaskCreated(kind string) {
	if m == nil {
		return
	}
	m.TasksCreated.WithLabelValues(kind).Inc()
}

// RecordTaskResolved records a human task reaching a terminal status.
func (m *Metrics) RecordTaskResolved(status string) {
	if m == nil {
		return
	}
	m.TasksResolved.WithLabelValues(status).Inc()
}

// RecordOutboxPublished records events relayed to the broker.
func (m *Metrics) RecordOutboxPublished(count int) {
	if m == nil {
		return
	}
	m.OutboxPublished.Add(float64(count))
}

// RecordOutboxFailed records failed publish attempts.
func (m *Metrics) RecordOutboxFailed(count int) {
	if m == nil {
		return
	}
	m.OutboxFailed.Add(float64(count))
}

// RecordInboundMessage records an inbound bridge message outcome.
func (m *Metrics) RecordInboundMessage(kind, result string) {
	if m == nil {
		return
	}
	m.InboundMessages.WithLabelValues(kind, result).Inc()
}

// RecordInboundDuplicate records an inbound message dropped by dedup.
func (m *Metrics) RecordInboundDuplicate() {
	if m == nil {
		return
	}
	m.InboundDuplicates.Inc()
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(route, method, code string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(durationSeconds)
}
