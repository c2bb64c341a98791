package workflows

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/workflow"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/temporal/resilience"
)

// RunState is the workflow-visible state of a run.
type RunState string

const (
	StateScheduled       RunState = "scheduled"
	StateActivityPending RunState = "activity_pending"
	StateAwaitingSignal  RunState = "awaiting_signal"
	StateCompleted       RunState = "completed"
	StateFailed          RunState = "failed"
	StateCancelled       RunState = "cancelled"
	StateTimedOut        RunState = "timed_out"
)

var runTransitions = map[RunState][]RunState{
	StateScheduled:       {StateActivityPending, StateAwaitingSignal, StateCompleted, StateFailed, StateCancelled, StateTimedOut},
	StateActivityPending: {StateAwaitingSignal, StateCompleted, StateFailed, StateCancelled, StateTimedOut},
	StateAwaitingSignal:  {StateActivityPending, StateCompleted, StateFailed, StateCancelled, StateTimedOut},
}

// IsTerminal reports whether no further transition is possible.
func (s RunState) IsTerminal() bool {
	return len(runTransitions[s]) == 0
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s RunState) CanTransitionTo(next RunState) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RunStatus maps the state to the audit status.
func (s RunState) RunStatus() domain.RunStatus {
	switch s {
	case StateCompleted:
		return domain.RunStatusCompleted
	case StateFailed:
		return domain.RunStatusFailed
	case StateCancelled:
		return domain.RunStatusCancelled
	case StateTimedOut:
		return domain.RunStatusTimedOut
	default:
		return domain.RunStatusRunning
	}
}

// maxBufferedSignals is how many unmatched signals one wait drains before
// recording further ones as dropped.
const maxBufferedSignals = 16

// maxRunLog bounds the run log kept in the snapshot.
const maxRunLog = 200

// Run log entry kinds.
const (
	logState  = "state"
	logStep   = "step"
	logSignal = "signal"
	logNote   = "note"
)

// LogEntry is one line of the run log.
type LogEntry struct {
	At        time.Time `json:"at"`
	Kind      string    `json:"kind"`
	State     RunState  `json:"state,omitempty"`
	Step      string    `json:"step,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Signal    string    `json:"signal,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"errorKind,omitempty"`
}

// Snapshot is the answer to the run.status query.
type Snapshot struct {
	WorkflowType   string            `json:"workflowType"`
	TenantID       string            `json:"tenantId"`
	State          RunState          `json:"state"`
	Step           string            `json:"step,omitempty"`
	Entity         *domain.EntityRef `json:"entity,omitempty"`
	Versions       []int             `json:"versions,omitempty"`
	OpenTask       *uuid.UUID        `json:"openTask,omitempty"`
	Error          string            `json:"error,omitempty"`
	ErrorKind      string            `json:"errorKind,omitempty"`
	DroppedSignals int               `json:"droppedSignals,omitempty"`
	Log            []LogEntry        `json:"log"`
}

// tracker owns the run state and log. It observes every step.
type tracker struct {
	ctx  workflow.Context
	snap Snapshot
	// invalid is the first illegal transition attempted, if any.
	invalid error
}

var _ resilience.Observer = (*tracker)(nil)

func newTracker(ctx workflow.Context, workflowType, tenantID string) (*tracker, error) {
	t := &tracker{
		ctx: ctx,
		snap: Snapshot{
			WorkflowType: workflowType,
			TenantID:     tenantID,
			State:        StateScheduled,
		},
	}
	t.record(LogEntry{Kind: logState, State: StateScheduled})

	err := workflow.SetQueryHandler(ctx, QueryRunStatus, func() (Snapshot, error) {
		return t.snapshot(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("register %s query handler: %w", QueryRunStatus, err)
	}
	return t, nil
}

func (t *tracker) record(entry LogEntry) {
	entry.At = workflow.Now(t.ctx)
	t.snap.Log = append(t.snap.Log, entry)
	if n := len(t.snap.Log); n > maxRunLog {
		t.snap.Log = t.snap.Log[n-maxRunLog:]
	}
}

// transition moves the run to state to. Re-entering the current state is a no-op.
func (t *tracker) transition(to RunState) error {
	from := t.snap.State
	if from == to {
		return nil
	}
	if !from.CanTransitionTo(to) {
		err := fmt.Errorf("illegal run state transition %s -> %s", from, to)
		if t.invalid == nil {
			t.invalid = err
		}
		return err
	}
	t.snap.State = to
	t.record(LogEntry{Kind: logState, State: to})
	return nil
}

func (t *tracker) StepStarted(step resilience.Step) {
	t.snap.Step = step.Name
	_ = t.transition(StateActivityPending)
	t.record(LogEntry{Kind: logStep, Step: step.Name, Outcome: "started"})
}

func (t *tracker) StepFinished(step resilience.Step, result resilience.StepResult) {
	entry := LogEntry{Kind: logStep, Step: step.Name, Outcome: result.Outcome.String()}
	if result.Err != nil {
		entry.Error = result.Err.Error()
		entry.ErrorKind = result.Category.String()
	}
	t.record(entry)
}

func (t *tracker) signal(name, detail string) {
	t.record(LogEntry{Kind: logSignal, Signal: name, Detail: detail})
}

func (t *tracker) dropSignal(name, detail string) {
	t.snap.DroppedSignals++
	t.record(LogEntry{Kind: logSignal, Signal: name, Outcome: "dropped", Detail: detail})
}

func (t *tracker) note(detail string) {
	t.record(LogEntry{Kind: logNote, Detail: detail})
}

func (t *tracker) setEntity(ref domain.EntityRef) {
	if ref.IsZero() {
		return
	}
	t.snap.Entity = &ref
	if n := len(t.snap.Versions); n == 0 || t.snap.Versions[n-1] != ref.Version {
		t.snap.Versions = append(t.snap.Versions, ref.Version)
	}
}

func (t *tracker) setTask(id *uuid.UUID) {
	t.snap.OpenTask = id
}

func (t *tracker) setError(err error, category resilience.ErrorCategory) {
	t.snap.Error = err.Error()
	t.snap.ErrorKind = category.String()
}

func (t *tracker) state() RunState {
	return t.snap.State
}

func (t *tracker) snapshot() Snapshot {
	s := t.snap
	s.Log = append([]LogEntry(nil), t.snap.Log...)
	s.Versions = append([]int(nil), t.snap.Versions...)
	return s
}
