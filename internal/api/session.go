package api

import (
	"net/http"

	"github.com/nerrad567/schooldocs-core/internal/identity"
	"github.com/nerrad567/schooldocs-core/internal/roles"
	"github.com/nerrad567/schooldocs-core/internal/session"
)

// sessionView is the client-facing form of a session.
type sessionView struct {
	SessionID string             `json:"session_id"`
	Identity  *identity.Identity `json:"identity"`
	Roles     roles.RoleRecord   `json:"roles"`
	Loading   bool               `json:"loading"`
	Dashboard roles.Dashboard    `json:"dashboard"`
}

// dashboardView is the response body for GET /dashboard.
type dashboardView struct {
	Dashboard roles.Dashboard `json:"dashboard"`
	Title     string          `json:"title,omitempty"`
	Loading   bool            `json:"loading"`
}

func (s *Server) viewOf(sessionID string, snap session.Session) sessionView {
	return sessionView{
		SessionID: sessionID,
		Identity:  snap.Identity,
		Roles:     snap.Roles,
		Loading:   snap.Loading,
		Dashboard: snap.Dashboard(s.policy),
	}
}

// handleGetSession returns the caller's current session.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	entry := sessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, s.viewOf(entry.ID, entry.Listener.Snapshot()))
}

// handleGetDashboard returns the single dashboard the caller is routed to.
func (s *Server) handleGetDashboard(w http.ResponseWriter, r *http.Request) {
	snap := sessionFromContext(r.Context()).Listener.Snapshot()
	writeJSON(w, http.StatusOK, dashboardView{
		Dashboard: snap.Dashboard(s.policy),
		Title:     snap.Roles.Title,
		Loading:   snap.Loading,
	})
}
