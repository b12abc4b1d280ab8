package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/schooldocs-core/internal/audit"
	"github.com/nerrad567/schooldocs-core/internal/rolestore"
	"github.com/nerrad567/schooldocs-core/internal/roles"
)

// maxTitleLength caps the display title stored on a role record.
const maxTitleLength = 120

// roleListResponse is the response body for GET /roles.
type roleListResponse struct {
	Records []rolestore.Entry `json:"records"`
	Count   int               `json:"count"`
}

// rolePutResponse is the response body for PUT /roles/{userID}.
type rolePutResponse struct {
	UserID string           `json:"user_id"`
	Record roles.RoleRecord `json:"record"`
	// Propagated is false when the record was stored but live sessions
	// were not notified.
	Propagated bool `json:"propagated"`
	// AllowListed reports that the user's email is on the admin allow-list,
	// so their sessions keep admin regardless of this record.
	AllowListed bool `json:"allow_listed,omitempty"`
}

// rolePutRequest is the request body for PUT /roles/{userID}.
type rolePutRequest struct {
	IsAdmin   bool   `json:"is_admin"`
	IsTeacher bool   `json:"is_teacher"`
	Title     string `json:"title"`
	Email     string `json:"email,omitempty"` // optional, for the allow-list hint
}

// handleListRoles returns every stored role record.
func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	entries, err := s.roles.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list role records", "error", err)
		writeInternalError(w, "failed to list role records")
		return
	}
	if entries == nil {
		entries = []rolestore.Entry{}
	}
	writeJSON(w, http.StatusOK, roleListResponse{Records: entries, Count: len(entries)})
}

// handlePutRole stores a role record. Sessions of that user pick the change
// up live.
func (s *Server) handlePutRole(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		writeBadRequest(w, "user id is required")
		return
	}

	var req rolePutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if len(req.Title) > maxTitleLength {
		writeValidationError(w, "title is too long")
		return
	}

	record := roles.RoleRecord{IsAdmin: req.IsAdmin, IsTeacher: req.IsTeacher, Title: req.Title}
	actor := claimsFromContext(r.Context()).Subject

	propagated := true
	err := s.roles.Write(rolestore.WithActor(r.Context(), actor), userID, record)
	switch {
	case err == nil:
	case errors.Is(err, rolestore.ErrBroadcastFailed):
		s.logger.Warn("role record stored but not broadcast", "user_id", userID, "error", err)
		propagated = false
	case errors.Is(err, rolestore.ErrInvalidUserID):
		writeBadRequest(w, "user id is required")
		return
	default:
		s.logger.Error("failed to write role record", "user_id", userID, "error", err)
		writeInternalError(w, "failed to write role record")
		return
	}

	audit.Record(r.Context(), s.audit, s.logger.Logger, &audit.AuditLog{
		Action:     audit.ActionRoleUpdate,
		EntityType: audit.EntityRoleRecord,
		EntityID:   userID,
		UserID:     actor,
		Source:     audit.SourceAPI,
		Details: map[string]any{
			"is_admin":   record.IsAdmin,
			"is_teacher": record.IsTeacher,
			"title":      record.Title,
		},
	})

	writeJSON(w, http.StatusOK, rolePutResponse{
		UserID:      userID,
		Record:      record,
		Propagated:  propagated,
		AllowListed: req.Email != "" && s.policy.AllowList().Contains(req.Email),
	})
}
