package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/schooldocs-core/internal/audit"
	"github.com/nerrad567/schooldocs-core/internal/identity"
	"github.com/nerrad567/schooldocs-core/internal/rolestore"
	"github.com/nerrad567/schooldocs-core/internal/roles"
)

// Entry is one open application session.
type Entry struct {
	ID        string
	Auth      *identity.AuthState
	Listener  *Listener
	CreatedAt time.Time

	// ExpiresAt is when the session stops being served. Zero means never.
	ExpiresAt time.Time
}

// Expired reports whether the session has expired at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// ManagerDeps are shared by every session the Manager opens.
type ManagerDeps struct {
	Authenticator identity.Authenticator
	Store         rolestore.Store
	Policy        *roles.Policy
	Logger        *slog.Logger
	Recorder      Recorder
	Audit         audit.Repository

	// TTL bounds a session's lifetime. Zero keeps sessions until Close.
	TTL time.Duration
}

// Manager owns the AuthState and Listener of each open session.
//
// Thread Safety: safe for concurrent use.
type Manager struct {
	deps ManagerDeps

	mu       sync.RWMutex
	sessions map[string]*Entry
}

// NewManager creates an empty manager.
//
// Parameters:
//   - deps: collaborators passed to every session's Listener; TTL sets
//     each session's ExpiresAt
//
// Returns:
//   - *Manager: with no open sessions
func NewManager(deps ManagerDeps) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{
		deps:     deps,
		sessions: make(map[string]*Entry),
	}
}

// Open creates a signed-out session with an attached listener.
func (m *Manager) Open() (*Entry, error) {
	id := "sess-" + uuid.NewString()
	auth := identity.NewAuthState(m.deps.Authenticator)
	listener := NewListener(Deps{
		Auth:     auth,
		Store:    m.deps.Store,
		Policy:   m.deps.Policy,
		Logger:   m.deps.Logger.With("session_id", id),
		Recorder: m.deps.Recorder,
		Audit:    m.deps.Audit,
	})
	if err := listener.Attach(); err != nil {
		return nil, fmt.Errorf("attaching session listener: %w", err)
	}

	now := time.Now().UTC()
	entry := &Entry{
		ID:        id,
		Auth:      auth,
		Listener:  listener,
		CreatedAt: now,
	}
	if m.deps.TTL > 0 {
		entry.ExpiresAt = now.Add(m.deps.TTL)
	}

	m.mu.Lock()
	m.sessions[id] = entry
	m.mu.Unlock()
	return entry, nil
}

// Get returns the session with id. An expired session is reported as
// ErrNotFound until CloseExpired removes it.
func (m *Manager) Get(id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.sessions[id]
	if !ok || entry.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return entry, nil
}

// Close signs the session out and tears its listener down.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	return closeEntry(entry)
}

// CloseAll tears every session down concurrently.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	entries := make([]*Entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.sessions = make(map[string]*Entry)
	m.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			return closeEntry(e)
		})
	}
	return g.Wait()
}

// CloseExpired tears down every session expired at now and returns their
// IDs, sorted. Teardown errors are logged.
func (m *Manager) CloseExpired(ctx context.Context, now time.Time) []string {
	m.mu.Lock()
	var expired []*Entry
	for id, e := range m.sessions {
		if e.Expired(now) {
			expired = append(expired, e)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(expired))
	g, _ := errgroup.WithContext(ctx)
	for _, e := range expired {
		ids = append(ids, e.ID)
		g.Go(func() error {
			if err := closeEntry(e); err != nil {
				m.deps.Logger.Warn("closing expired session failed", "session_id", e.ID, "error", err)
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // errors are logged per session
	sort.Strings(ids)
	return ids
}

// IDs returns the open session IDs, sorted.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func closeEntry(e *Entry) error {
	e.Auth.SignOut()
	if err := e.Listener.Close(); err != nil {
		return fmt.Errorf("closing session %s: %w", e.ID, err)
	}
	return nil
}
