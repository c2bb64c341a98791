package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unlock/orchestration-service/internal/domain"
)

func TestRunState_Transitions(t *testing.T) {
	tests := []struct {
		from RunState
		to   RunState
		want bool
	}{
		{StateScheduled, StateActivityPending, true},
		{StateActivityPending, StateAwaitingSignal, true},
		{StateAwaitingSignal, StateActivityPending, true},
		{StateAwaitingSignal, StateTimedOut, true},
		{StateActivityPending, StateCancelled, true},
		{StateCompleted, StateActivityPending, false},
		{StateFailed, StateCompleted, false},
		{StateCancelled, StateFailed, false},
		{StateTimedOut, StateAwaitingSignal, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestRunState_Terminal(t *testing.T) {
	for _, s := range []RunState{StateCompleted, StateFailed, StateCancelled, StateTimedOut} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []RunState{StateScheduled, StateActivityPending, StateAwaitingSignal} {
		assert.False(t, s.IsTerminal(), s)
		assert.Equal(t, domain.RunStatusRunning, s.RunStatus())
	}
	assert.Equal(t, domain.RunStatusTimedOut, StateTimedOut.RunStatus())
	assert.Equal(t, domain.RunStatusCancelled, StateCancelled.RunStatus())
}
