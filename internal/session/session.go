package session

import (
	"github.com/nerrad567/schooldocs-core/internal/identity"
	"github.com/nerrad567/schooldocs-core/internal/roles"
)

// Session is the derived state of one application session. It is never
// persisted.
type Session struct {
	Identity *identity.Identity `json:"identity"`
	Roles    roles.RoleRecord   `json:"roles"`
	Loading  bool               `json:"loading"`
}

// SignedIn reports whether an identity is present.
func (s Session) SignedIn() bool {
	return s.Identity != nil
}

// Email returns the signed-in email, or "".
func (s Session) Email() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.Email
}

// Dashboard selects the dashboard for this session under p.
func (s Session) Dashboard(p *roles.Policy) roles.Dashboard {
	return p.SelectDashboard(s.Roles, s.Email())
}

func (s Session) clone() Session {
	if s.Identity != nil {
		id := *s.Identity
		s.Identity = &id
	}
	return s
}
