package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unlock/orchestration-service/internal/domain"
	"github.com/unlock/orchestration-service/internal/observability"
)

// getCurrentEntity handles GET /entities/{entityGroupID}.
func (s *Server) getCurrentEntity(w http.ResponseWriter, r *http.Request) {
	groupID, ok := parseUUID(w, chi.URLParam(r, "entityGroupID"), "entityGroupID")
	if !ok {
		return
	}

	entity, err := s.deps.Entities.GetCurrent(r.Context(), observability.TenantFromContext(r.Context()), groupID)
	if err != nil {
		s.logError(r, err, "get current entity failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

// listEntityVersions handles GET /entities/{entityGroupID}/versions.
func (s *Server) listEntityVersions(w http.ResponseWriter, r *http.Request) {
	groupID, ok := parseUUID(w, chi.URLParam(r, "entityGroupID"), "entityGroupID")
	if !ok {
		return
	}

	versions, err := s.deps.Entities.ListVersions(r.Context(), observability.TenantFromContext(r.Context()), groupID)
	if err != nil {
		s.logError(r, err, "list entity versions failed")
		writeDomainError(w, err)
		return
	}
	if len(versions) == 0 {
		writeDomainError(w, domain.NewNotFoundError("entity group", groupID.String()))
		return
	}
	writeJSON(w, http.StatusOK, entityVersionsResponse{
		EntityGroupID: groupID.String(),
		Versions:      versions,
	})
}

// listAnnotations handles GET /entity-versions/{entityID}/annotations.
// Optional query parameters: type (annotation type), since (RFC 3339).
func (s *Server) listAnnotations(w http.ResponseWriter, r *http.Request) {
	entityID, ok := parseUUID(w, chi.URLParam(r, "entityID"), "entityID")
	if !ok {
		return
	}

	var filter domain.AnnotationFilter
	if t := r.URL.Query().Get("type"); t != "" {
		filter.Type = domain.AnnotationType(t)
		if !filter.Type.Valid() {
			writeError(w, http.StatusBadRequest, "type is not a known annotation type")
			return
		}
	}
	if since := r.URL.Query().Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = ts
	}

	// The version read enforces the tenant before annotations are exposed.
	if _, err := s.deps.Entities.GetVersion(r.Context(), observability.TenantFromContext(r.Context()), entityID); err != nil {
		s.logError(r, err, "get entity version failed")
		writeDomainError(w, err)
		return
	}

	annotations, err := s.deps.Entities.ReadAnnotations(r.Context(), entityID, filter)
	if err != nil {
		s.logError(r, err, "read annotations failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, annotationsResponse{
		EntityID:    entityID.String(),
		Annotations: annotations,
	})
}
