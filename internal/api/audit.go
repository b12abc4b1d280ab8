package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/schooldocs-core/internal/audit"
)

// handleListAudit returns paginated audit log entries with optional filters.
//
// Query parameters:
//   - action: filter by action (role.write_back, role.update, auth.login, ...)
//   - entity_type: filter by entity type (role_record, account, session)
//   - entity_id: filter by specific entity ID
//   - user_id: filter by the user the entry concerns
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		UserID:     q.Get("user_id"),
	}

	var ok bool
	if filter.Limit, ok = queryInt(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if filter.Offset, ok = queryInt(w, q.Get("offset"), "offset"); !ok {
		return
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// queryInt parses an optional non-negative integer parameter.
func queryInt(w http.ResponseWriter, v, name string) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeBadRequest(w, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
