package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// OverlapPolicy decides what a schedule does when a fire time arrives while
// the previous run it started is still running.
type OverlapPolicy string

const (
	// OverlapSkip drops the fire and logs it.
	OverlapSkip OverlapPolicy = "skip"
	// OverlapBufferOne queues at most one fire behind the running run.
	OverlapBufferOne OverlapPolicy = "buffer_one"
	// OverlapCancelOther cancels the running run and starts a new one.
	OverlapCancelOther OverlapPolicy = "cancel_other"
	// OverlapAllowAll starts concurrent runs.
	OverlapAllowAll OverlapPolicy = "allow_all"
)

// Valid reports whether p is a known overlap policy.
func (p OverlapPolicy) Valid() bool {
	switch p {
	case OverlapSkip, OverlapBufferOne, OverlapCancelOther, OverlapAllowAll:
		return true
	default:
		return false
	}
}

// ScheduleDefinition describes a recurring workflow start. The definition lives
// in the engine's schedule service; this service keeps no copy.
type ScheduleDefinition struct {
	ID              string          `json:"id" yaml:"id" validate:"required,max=200"`
	CronExpressions []string        `json:"cronExpressions,omitempty" yaml:"cron,omitempty" validate:"required_without=Intervals,dive,required"`
	Intervals       []time.Duration `json:"intervals,omitempty" yaml:"intervals,omitempty" validate:"required_without=CronExpressions,dive,gt=0"`
	TimeZone        string          `json:"timeZone,omitempty" yaml:"timeZone,omitempty"`
	WorkflowType    string          `json:"workflowType" yaml:"workflowType" validate:"required"`
	TenantID        string          `json:"tenantId" yaml:"tenantId" validate:"required"`
	Input           json.RawMessage `json:"input,omitempty" yaml:"-"`
	OverlapPolicy   OverlapPolicy   `json:"overlapPolicy" yaml:"overlapPolicy" validate:"required,oneof=skip buffer_one cancel_other allow_all"`
	Note            string          `json:"note,omitempty" yaml:"note,omitempty"`
	Paused          bool            `json:"paused" yaml:"paused"`
}

// NormalizeScheduleID derives the canonical schedule id from a human name:
// trimmed, lowercased, spaces replaced by hyphens.
func NormalizeScheduleID(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

// ScheduleRun is one recent action taken by a schedule.
type ScheduleRun struct {
	WorkflowID  string    `json:"workflowId"`
	RunID       string    `json:"runId"`
	ScheduledAt time.Time `json:"scheduledAt"`
	StartedAt   time.Time `json:"startedAt"`
}

// ScheduleDescription is the live state of a schedule.
type ScheduleDescription struct {
	Definition    ScheduleDefinition `json:"definition"`
	NextFireTimes []time.Time        `json:"nextFireTimes"`
	RecentRuns    []ScheduleRun      `json:"recentRuns"`
	RunningCount  int                `json:"runningCount"`
}
