package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/observability"
)

type taskResponseRequest struct {
	Approved bool            `json:"approved"`
	Reviewer string          `json:"reviewer" validate:"max=255"`
	Comments string          `json:"comments" validate:"max=10000"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type taskClaimRequest struct {
	Assignee string `json:"assignee" validate:"required,max=255"`
}

// getTask handles GET /tasks/{taskID}.
func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseUUID(w, chi.URLParam(r, "taskID"), "taskID")
	if !ok {
		return
	}

	task, err := s.deps.Tasks.Get(r.Context(), taskID)
	if err != nil {
		s.logError(r, err, "get task failed")
		writeDomainError(w, err)
		return
	}
	if task.TenantID != observability.TenantFromContext(r.Context()) {
		writeDomainError(w, domain.NewNotFoundError("task", taskID.String()))
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// respondToTask handles POST /tasks/{taskID}/response.
func (s *Server) respondToTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseUUID(w, chi.URLParam(r, "taskID"), "taskID")
	if !ok {
		return
	}

	var req taskResponseRequest
	if !decodeBody(w, r, &req) {
		return
	}

	task, err := s.deps.Bridge.RespondToTask(r.Context(), observability.TenantFromContext(r.Context()), domain.TaskResponse{
		TaskID:   taskID,
		Approved: req.Approved,
		Reviewer: req.Reviewer,
		Comments: req.Comments,
		Data:     req.Data,
	})
	if err != nil {
		s.logError(r, err, "task response failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

// claimTask handles POST /tasks/{taskID}/claim.
func (s *Server) claimTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseUUID(w, chi.URLParam(r, "taskID"), "taskID")
	if !ok {
		return
	}

	var req taskClaimRequest
	if !decodeBody(w, r, &req) {
		return
	}

	task, err := s.deps.Bridge.ClaimTask(r.Context(), observability.TenantFromContext(r.Context()), domain.TaskClaim{
		TaskID:   taskID,
		Assignee: req.Assignee,
	})
	if err != nil {
		s.logError(r, err, "task claim failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}
