package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/schooldocs-core/internal/audit"
	"github.com/nerrad567/schooldocs-core/internal/identity"
	"github.com/nerrad567/schooldocs-core/internal/rolestore"
	"github.com/nerrad567/schooldocs-core/internal/session"
)

// Auth constants.
const (
	// ticketTTL is how long a WebSocket ticket is valid.
	ticketTTL = 60 * time.Second

	// settleTimeout bounds how long login waits for roles to load before
	// answering with a loading session.
	settleTimeout = 2 * time.Second
)

// credentialsRequest is the request body for POST /auth/login and /auth/signup.
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// tokenResponse is the response body for a successful login or signup.
type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int         `json:"expires_in"`
	Session     sessionView `json:"session"`
}

// handleSignup creates an account, stores its initial role record, and
// signs it in on a new session.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	id, err := s.provider.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeCredentialError(w, err)
		return
	}

	// A missing record still resolves at sign-in; the write is best-effort.
	record := s.policy.SignupDefaults(id.Email)
	ctx := rolestore.WithActor(r.Context(), "signup")
	switch err := s.roles.Write(ctx, id.ID, record); {
	case err == nil:
	case errors.Is(err, rolestore.ErrBroadcastFailed):
		s.logger.Warn("signup role record stored but not broadcast", "user_id", id.ID, "error", err)
	default:
		s.logger.Error("storing signup role record failed", "user_id", id.ID, "error", err)
	}

	audit.Record(r.Context(), s.audit, s.logger.Logger, &audit.AuditLog{
		Action:     audit.ActionSignUp,
		EntityType: audit.EntityAccount,
		EntityID:   id.ID,
		UserID:     id.ID,
		Source:     audit.SourceAPI,
		Details: map[string]any{
			"is_admin":   record.IsAdmin,
			"is_teacher": record.IsTeacher,
		},
	})

	s.openSession(w, r, req, http.StatusCreated)
}

// handleLogin authenticates a user on a new session and returns a token
// bound to it.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	s.openSession(w, r, req, http.StatusOK)
}

// openSession signs req in on a fresh session and writes the token response.
func (s *Server) openSession(w http.ResponseWriter, r *http.Request, req credentialsRequest, status int) {
	entry, err := s.sessions.Open()
	if err != nil {
		s.logger.Error("opening session failed", "error", err)
		writeInternalError(w, "failed to open session")
		return
	}

	id, err := entry.Auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		//nolint:errcheck // the session was never handed out
		s.sessions.Close(entry.ID)
		s.writeCredentialError(w, err)
		return
	}

	ttl := s.accessTokenTTL()
	token, err := identity.GenerateAccessToken(id, entry.ID, s.secCfg.JWT.Secret, ttl)
	if err != nil {
		//nolint:errcheck // the session was never handed out
		s.sessions.Close(entry.ID)
		s.logger.Error("generating access token failed", "error", err)
		writeInternalError(w, "failed to generate token")
		return
	}

	audit.Record(r.Context(), s.audit, s.logger.Logger, &audit.AuditLog{
		Action:     audit.ActionLogin,
		EntityType: audit.EntitySession,
		EntityID:   entry.ID,
		UserID:     id.ID,
		Source:     audit.SourceAPI,
	})

	snap := awaitSettled(r.Context(), entry.Listener, settleTimeout)
	writeJSON(w, status, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(ttl.Seconds()),
		Session:     s.viewOf(entry.ID, snap),
	})
}

// handleLogout signs the caller's session out and closes it.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	entry := sessionFromContext(r.Context())
	userID := claimsFromContext(r.Context()).Subject

	s.hub.DisconnectSession(entry.ID)
	s.tickets.revokeSession(entry.ID)
	if err := s.sessions.Close(entry.ID); err != nil && !errors.Is(err, session.ErrNotFound) {
		s.logger.Warn("closing session failed", "session_id", entry.ID, "error", err)
	}

	audit.Record(r.Context(), s.audit, s.logger.Logger, &audit.AuditLog{
		Action:     audit.ActionLogout,
		EntityType: audit.EntitySession,
		EntityID:   entry.ID,
		UserID:     userID,
		Source:     audit.SourceAPI,
	})

	w.WriteHeader(http.StatusNoContent)
}

// handleWSTicket generates a single-use WebSocket ticket for the caller's
// session. The client uses it to open the WebSocket without putting the
// JWT in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	entry := sessionFromContext(r.Context())
	ticket := s.tickets.issue(entry.ID)

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

func (s *Server) accessTokenTTL() time.Duration {
	return s.secCfg.JWT.GetAccessTokenTTL()
}

// writeCredentialError maps identity errors to responses. Lookup and
// hashing failures are logged and reported as 500.
func (s *Server) writeCredentialError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeUnauthorized(w, "invalid credentials")
	case errors.Is(err, identity.ErrEmailExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "email already registered")
	case errors.Is(err, identity.ErrInvalidEmail), errors.Is(err, identity.ErrWeakPassword):
		writeValidationError(w, err.Error())
	default:
		s.logger.Error("credential check failed", "error", err)
		writeInternalError(w, "authentication failed")
	}
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return req, false
	}
	if req.Email == "" || req.Password == "" {
		writeBadRequest(w, "email and password are required")
		return req, false
	}
	return req, true
}

// awaitSettled waits until l has finished loading roles for a signed-in
// identity, or until timeout, and returns the session at that point.
func awaitSettled(ctx context.Context, l *session.Listener, timeout time.Duration) session.Session {
	settled := make(chan session.Session, 1)
	unwatch := l.Watch(func(s session.Session) {
		if s.SignedIn() && !s.Loading {
			select {
			case settled <- s:
			default:
			}
		}
	})
	defer unwatch()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s := <-settled:
		return s
	case <-timer.C:
	case <-ctx.Done():
	}
	return l.Snapshot()
}

// ticketStore holds pending WebSocket tickets. Tickets are single-use,
// bound to one session, and expire after ticketTTL.
type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]ticketEntry
}

type ticketEntry struct {
	sessionID string
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

func (t *ticketStore) issue(sessionID string) string {
	ticket := generateTicket()
	t.mu.Lock()
	t.tickets[ticket] = ticketEntry{sessionID: sessionID, expiresAt: time.Now().Add(ticketTTL)}
	t.mu.Unlock()
	return ticket
}

// consume validates and removes a ticket, returning its session ID.
func (t *ticketStore) consume(ticket string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tickets[ticket]
	if !ok {
		return "", false
	}
	delete(t.tickets, ticket)

	if !time.Now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.sessionID, true
}

func (t *ticketStore) revokeSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ticket, entry := range t.tickets {
		if entry.sessionID == sessionID {
			delete(t.tickets, ticket)
		}
	}
}

func (t *ticketStore) cleanExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for ticket, entry := range t.tickets {
		if now.After(entry.expiresAt) {
			delete(t.tickets, ticket)
		}
	}
}

func (t *ticketStore) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tickets)
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}
