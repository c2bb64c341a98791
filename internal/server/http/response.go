package httpserver

import (
	"encoding/json"
	"time"

	"github.com/unlock/orchestration-service/internal/domain"
)

type entityVersionsResponse struct {
	EntityGroupID string           `json:"entityGroupId"`
	Versions      []*domain.Entity `json:"versions"`
}

type annotationsResponse struct {
	EntityID    string               `json:"entityId"`
	Annotations []*domain.Annotation `json:"annotations"`
}

// scheduleView renders a schedule definition with intervals as Go duration
// strings ("24h0m0s") instead of nanoseconds.
type scheduleView struct {
	ID              string               `json:"id"`
	CronExpressions []string             `json:"cronExpressions,omitempty"`
	Intervals       []string             `json:"intervals,omitempty"`
	TimeZone        string               `json:"timeZone,omitempty"`
	WorkflowType    string               `json:"workflowType"`
	TenantID        string               `json:"tenantId"`
	Input           json.RawMessage      `json:"input,omitempty"`
	OverlapPolicy   domain.OverlapPolicy `json:"overlapPolicy"`
	Note            string               `json:"note,omitempty"`
	Paused          bool                 `json:"paused"`
}

type scheduleDescriptionResponse struct {
	Schedule      scheduleView         `json:"schedule"`
	NextFireTimes []time.Time          `json:"nextFireTimes"`
	RecentRuns    []domain.ScheduleRun `json:"recentRuns"`
	RunningCount  int                  `json:"runningCount"`
}

type listSchedulesResponse struct {
	Schedules []scheduleView `json:"schedules"`
}

func toScheduleView(def domain.ScheduleDefinition) scheduleView {
	v := scheduleView{
		ID:              def.ID,
		CronExpressions: def.CronExpressions,
		TimeZone:        def.TimeZone,
		WorkflowType:    def.WorkflowType,
		TenantID:        def.TenantID,
		Input:           def.Input,
		OverlapPolicy:   def.OverlapPolicy,
		Note:            def.Note,
		Paused:          def.Paused,
	}
	for _, d := range def.Intervals {
		v.Intervals = append(v.Intervals, d.String())
	}
	return v
}
