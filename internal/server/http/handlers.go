package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/observability"
	"github.com/unlock/orchestration-service/internal/temporal"
)

// maxRequestBodySize bounds every JSON request body.
const maxRequestBodySize = 1 << 20

var validate = validator.New()

type startWorkflowRequest struct {
	WorkflowType string          `json:"workflowType" validate:"required,max=100"`
	WorkflowID   string          `json:"workflowId" validate:"omitempty,max=255"`
	Input        json.RawMessage `json:"input"`
}

type signalWorkflowRequest struct {
	SignalName string          `json:"signalName" validate:"required,max=100"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// startWorkflow handles POST /workflows.
func (s *Server) startWorkflow(w http.ResponseWriter, r *http.Request) {
	var req startWorkflowRequest
	if !decodeBody(w, r, &req) {
		return
	}

	tenantID := observability.TenantFromContext(r.Context())
	result, err := s.deps.Engine.Start(r.Context(), temporal.StartRequest{
		WorkflowType: req.WorkflowType,
		WorkflowID:   req.WorkflowID,
		TenantID:     tenantID,
		Input:        req.Input,
	})
	if err != nil {
		s.logError(r, err, "start workflow failed")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

// signalWorkflow handles POST /workflows/{workflowID}/signals.
func (s *Server) signalWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	var req signalWorkflowRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var payload interface{}
	if len(req.Payload) > 0 {
		payload = req.Payload
	}
	if err := s.deps.Engine.Signal(r.Context(), workflowID, req.SignalName, payload); err != nil {
		s.logError(r, err, "signal workflow failed")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"workflowId": workflowID,
		"signalName": req.SignalName,
	})
}

// getWorkflow handles GET /workflows/{workflowID}.
func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Engine.Query(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		s.logError(r, err, "query workflow failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// getWorkflowHistory handles GET /workflows/{workflowID}/history. The body is
// the engine's event history in protojson form.
func (s *Server) getWorkflowHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.deps.Engine.History(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		s.logError(r, err, "workflow history failed")
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(history)
}

// cancelWorkflow handles DELETE /workflows/{workflowID}.
func (s *Server) cancelWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")
	if err := s.deps.Engine.Cancel(r.Context(), workflowID); err != nil {
		s.logError(r, err, "cancel workflow failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"workflowId": workflowID,
		"status":     "cancel_requested",
	})
}

// decodeBody reads a bounded JSON body into v and validates it, writing a 400
// response on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if len(body) > maxRequestBodySize {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON in request body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s failed validation: %s", verrs[0].Field(), verrs[0].Tag()))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) logError(r *http.Request, err error, msg string) {
	logger := observability.LoggerFromContext(r.Context(), s.logger)
	if isClientError(err) {
		logger.Debug().Err(err).Msg(msg)
		return
	}
	logger.Error().Err(err).Msg(msg)
}

func isClientError(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrAlreadyRunning) ||
		errors.Is(err, domain.ErrAlreadyExists) ||
		errors.Is(err, domain.ErrInvalidTransition)
}

// writeDomainError maps a domain error to an HTTP response. Only validation
// messages are echoed; everything else gets a fixed message.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "workflow already running")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "concurrent modification")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid status transition")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "timeout")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	case errors.Is(err, domain.ErrCancelled):
		writeError(w, http.StatusConflict, "operation cancelled")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID parses a UUID from a string, writing a 400 error response if invalid.
// The parse error details are not included to avoid echoing potentially malicious input.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}
