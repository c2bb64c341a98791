package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/observability"
)

type createScheduleRequest struct {
	ID              string               `json:"id" validate:"required,max=200"`
	CronExpressions []string             `json:"cronExpressions"`
	Intervals       []string             `json:"intervals"`
	TimeZone        string               `json:"timeZone"`
	WorkflowType    string               `json:"workflowType" validate:"required"`
	Input           json.RawMessage      `json:"input"`
	OverlapPolicy   domain.OverlapPolicy `json:"overlapPolicy"`
	Note            string               `json:"note" validate:"max=1000"`
	Paused          bool                 `json:"paused"`
}

type scheduleNoteRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

// createSchedule handles POST /schedules. Creating an existing id succeeds.
func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	def := domain.ScheduleDefinition{
		ID:              req.ID,
		CronExpressions: req.CronExpressions,
		TimeZone:        req.TimeZone,
		WorkflowType:    req.WorkflowType,
		TenantID:        observability.TenantFromContext(r.Context()),
		Input:           req.Input,
		OverlapPolicy:   req.OverlapPolicy,
		Note:            req.Note,
		Paused:          req.Paused,
	}
	if def.OverlapPolicy == "" {
		def.OverlapPolicy = domain.OverlapSkip
	}
	for _, raw := range req.Intervals {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "intervals must be positive durations such as 24h")
			return
		}
		def.Intervals = append(def.Intervals, d)
	}

	id, err := s.deps.Schedules.Create(r.Context(), def)
	if err != nil {
		s.logError(r, err, "create schedule failed")
		writeDomainError(w, err)
		return
	}
	def.ID = id
	writeJSON(w, http.StatusCreated, toScheduleView(def))
}

// listSchedules handles GET /schedules.
func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	defs, err := s.deps.Schedules.List(r.Context())
	if err != nil {
		s.logError(r, err, "list schedules failed")
		writeDomainError(w, err)
		return
	}
	resp := listSchedulesResponse{Schedules: make([]scheduleView, 0, len(defs))}
	for _, def := range defs {
		resp.Schedules = append(resp.Schedules, toScheduleView(def))
	}
	writeJSON(w, http.StatusOK, resp)
}

// describeSchedule handles GET /schedules/{scheduleID}.
func (s *Server) describeSchedule(w http.ResponseWriter, r *http.Request) {
	desc, err := s.deps.Schedules.Describe(r.Context(), chi.URLParam(r, "scheduleID"))
	if err != nil {
		s.logError(r, err, "describe schedule failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleDescriptionResponse{
		Schedule:      toScheduleView(desc.Definition),
		NextFireTimes: desc.NextFireTimes,
		RecentRuns:    desc.RecentRuns,
		RunningCount:  desc.RunningCount,
	})
}

// pauseSchedule handles POST /schedules/{scheduleID}/pause.
func (s *Server) pauseSchedule(w http.ResponseWriter, r *http.Request) {
	s.changeSchedule(w, r, "paused", s.deps.Schedules.Pause)
}

// resumeSchedule handles POST /schedules/{scheduleID}/resume.
func (s *Server) resumeSchedule(w http.ResponseWriter, r *http.Request) {
	s.changeSchedule(w, r, "active", s.deps.Schedules.Resume)
}

func (s *Server) changeSchedule(w http.ResponseWriter, r *http.Request, state string, change func(ctx context.Context, id, note string) error) {
	id := chi.URLParam(r, "scheduleID")

	// The note is optional, so is the body.
	var req scheduleNoteRequest
	if r.ContentLength != 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}

	if err := change(r.Context(), id, req.Note); err != nil {
		s.logError(r, err, "change schedule failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": domain.NormalizeScheduleID(id), "state": state})
}

// deleteSchedule handles DELETE /schedules/{scheduleID}.
func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Schedules.Delete(r.Context(), chi.URLParam(r, "scheduleID")); err != nil {
		s.logError(r, err, "delete schedule failed")
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
