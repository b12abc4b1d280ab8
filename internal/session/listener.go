package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nerrad567/schooldocs-core/internal/audit"
	"github.com/nerrad567/schooldocs-core/internal/identity"
	"github.com/nerrad567/schooldocs-core/internal/rolestore"
	"github.com/nerrad567/schooldocs-core/internal/roles"
)

// AuthSource is the auth-state stream a Listener follows.
// *identity.AuthState implements it.
type AuthSource interface {
	OnAuthStateChange(handler identity.AuthHandler) (unsubscribe func())
}

// Recorder receives resolution and routing metrics.
// *influxdb.Client implements it.
type Recorder interface {
	RecordResolution(rule string, writeBack bool)
	RecordDashboard(dashboard string)
}

// Deps are the collaborators of a Listener. Recorder and Audit are optional.
type Deps struct {
	Auth     AuthSource
	Store    rolestore.Store
	Policy   *roles.Policy
	Logger   *slog.Logger
	Recorder Recorder
	Audit    audit.Repository
}

// Listener drives a Session from auth events and role record updates.
//
// State changes are delivered to Watch callbacks in order, on the
// goroutine that caused them (the auth caller, the fetch goroutine or the
// store). Callbacks must not call Close.
type Listener struct {
	deps   Deps
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     Session
	version   uint64
	gen       uint64 // bumped on every identity change and on Close
	attached  bool
	closed    bool
	authUnsub func()
	roleSub   rolestore.Subscription
	watchers  map[uint64]func(Session)
	nextWatch uint64

	// notifyMu serialises delivery; delivered is the last version sent.
	notifyMu  sync.Mutex
	delivered uint64
}

// NewListener creates a detached listener. Call Attach to start following
// the auth stream.
//
// Parameters:
//   - deps.Auth: auth-state stream; subscribed once by Attach
//   - deps.Store: role store read on sign-in and followed for live updates
//   - deps.Policy: resolver and dashboard router shared with the API
//   - deps.Logger: base logger; nil means slog.Default()
//   - deps.Recorder, deps.Audit: optional metrics and write-back audit sinks
//
// Returns:
//   - *Listener: signed out, not loading, with default roles
func NewListener(deps Deps) *Listener {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		deps:     deps,
		logger:   logger.With("component", "session"),
		ctx:      ctx,
		cancel:   cancel,
		state:    Session{Roles: roles.Default()},
		watchers: make(map[uint64]func(Session)),
	}
}

// Attach sets the session to loading and subscribes to the auth stream.
// It may be called once.
func (l *Listener) Attach() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.attached {
		l.mu.Unlock()
		return ErrAlreadyAttached
	}
	l.attached = true
	l.setLocked(Session{Roles: roles.Default(), Loading: true})
	l.mu.Unlock()
	l.notify()

	// The auth source delivers the current state synchronously.
	unsub := l.deps.Auth.OnAuthStateChange(l.handleAuth)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		unsub()
		return nil
	}
	l.authUnsub = unsub
	l.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current session.
func (l *Listener) Snapshot() Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.clone()
}

// Watch registers fn and delivers the current session to it immediately.
// The returned function removes fn and is safe to call more than once.
func (l *Listener) Watch(fn func(Session)) (unsubscribe func()) {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return func() {}
	}
	l.nextWatch++
	id := l.nextWatch
	l.watchers[id] = fn
	current := l.state.clone()
	l.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.watchers, id)
			l.mu.Unlock()
		})
	}
}

// Close detaches from the auth stream and the role store and waits for
// in-flight fetches and write-backs. No Watch callback runs after Close
// returns.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.gen++
	authUnsub := l.authUnsub
	l.authUnsub = nil
	roleSub := l.roleSub
	l.roleSub = nil
	l.watchers = make(map[uint64]func(Session))
	l.mu.Unlock()

	// Wait out any delivery already in progress.
	l.notifyMu.Lock()
	l.notifyMu.Unlock() //nolint:staticcheck // SA2001: barrier

	if authUnsub != nil {
		authUnsub()
	}
	var err error
	if roleSub != nil {
		err = roleSub.Unsubscribe()
	}

	l.wg.Wait()
	l.cancel()
	return err
}

func (l *Listener) handleAuth(current *identity.Identity) {
	if current == nil {
		l.signedOut()
		return
	}
	l.signedIn(*current)
}

func (l *Listener) signedOut() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.gen++
	roleSub := l.roleSub
	l.roleSub = nil
	l.setLocked(Session{Roles: roles.Default(), Loading: false})
	l.mu.Unlock()

	l.unsubscribeRoles(roleSub)
	l.notify()
}

func (l *Listener) signedIn(id identity.Identity) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	if l.state.Identity != nil && *l.state.Identity == id {
		l.mu.Unlock()
		return
	}
	l.gen++
	gen := l.gen
	roleSub := l.roleSub
	l.roleSub = nil
	l.setLocked(Session{Identity: &id, Roles: roles.Default(), Loading: true})
	l.wg.Add(1)
	l.mu.Unlock()

	// The previous identity's subscription ends before a new one starts.
	l.unsubscribeRoles(roleSub)
	l.notify()

	go l.load(gen, id)
}

// load fetches, resolves and publishes roles for id, then follows live
// updates. Results are dropped if the identity changed meanwhile.
func (l *Listener) load(gen uint64, id identity.Identity) {
	defer l.wg.Done()

	stored, resolution, ok := l.fetch(id)

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return
	}
	l.setLocked(Session{Identity: &id, Roles: resolution.Record, Loading: false})
	l.mu.Unlock()
	l.notify()

	if ok {
		l.record(resolution, id)
		if resolution.NeedsWriteBack() {
			l.writeBack(gen, id, resolution.Record)
		}
	}

	if l.subscribeRoles(gen, id) && ok {
		l.refresh(gen, id, stored)
	}
}

// fetch reads and resolves the stored record. A read failure yields plain
// roles and ok=false.
func (l *Listener) fetch(id identity.Identity) (*roles.RoleRecord, roles.Resolution, bool) {
	stored, err := l.deps.Store.Read(l.ctx, id.ID)
	switch {
	case err == nil:
	case errors.Is(err, rolestore.ErrNotFound):
		stored = nil
	default:
		l.logger.Error("role record read failed",
			"user_id", id.ID,
			"error", err,
		)
		return nil, roles.Resolution{Record: roles.Default(), Rule: roles.RulePlain}, false
	}
	return stored, l.deps.Policy.Resolve(id, stored), true
}

// refresh reads the record again once the subscription is live. A write
// that landed between the first read and Subscribe is only seen here.
func (l *Listener) refresh(gen uint64, id identity.Identity, first *roles.RoleRecord) {
	current, err := l.deps.Store.Read(l.ctx, id.ID)
	switch {
	case err == nil:
	case errors.Is(err, rolestore.ErrNotFound):
		return
	default:
		l.logger.Warn("role record re-read failed",
			"user_id", id.ID,
			"error", err,
		)
		return
	}
	if first != nil && first.Equal(*current) {
		return
	}
	l.handleRecord(gen, id, *current)
}

// subscribeRoles follows live updates for id and reports whether the
// subscription is in place for the current generation.
func (l *Listener) subscribeRoles(gen uint64, id identity.Identity) bool {
	sub, err := l.deps.Store.Subscribe(id.ID, func(record roles.RoleRecord) {
		l.handleRecord(gen, id, record)
	})
	if err != nil {
		l.logger.Warn("role record subscription failed",
			"user_id", id.ID,
			"error", err,
		)
		return false
	}

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		l.unsubscribeRoles(sub)
		return false
	}
	l.roleSub = sub
	l.mu.Unlock()
	return true
}

// handleRecord re-resolves a live update. The allow-list still wins; a
// stored record that disagrees with it is corrected.
func (l *Listener) handleRecord(gen uint64, id identity.Identity, stored roles.RoleRecord) {
	resolution := l.deps.Policy.Resolve(id, &stored)

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return
	}
	changed := !l.state.Roles.Equal(resolution.Record) || l.state.Loading
	if changed {
		l.setLocked(Session{Identity: &id, Roles: resolution.Record, Loading: false})
	}
	l.mu.Unlock()

	if changed {
		l.notify()
		l.record(resolution, id)
	}
	if resolution.NeedsWriteBack() && !stored.Equal(resolution.Record) {
		l.writeBack(gen, id, resolution.Record)
	}
}

// writeBack persists an allow-list correction in the background. Errors
// are logged; the session keeps the resolved roles either way.
func (l *Listener) writeBack(gen uint64, id identity.Identity, record roles.RoleRecord) {
	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return
	}
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()

		ctx := rolestore.WithActor(l.ctx, "allow-list")
		err := l.deps.Store.Write(ctx, id.ID, record)
		switch {
		case err == nil:
			l.logger.Info("role record corrected from allow-list", "user_id", id.ID)
		case errors.Is(err, rolestore.ErrBroadcastFailed):
			// Persisted; other instances pick it up on their next read.
			l.logger.Warn("role record write-back not broadcast",
				"user_id", id.ID,
				"error", err,
			)
		default:
			l.logger.Error("role record write-back failed",
				"user_id", id.ID,
				"error", err,
			)
			return
		}

		audit.Record(l.ctx, l.deps.Audit, l.logger, &audit.AuditLog{
			Action:     audit.ActionRoleWriteBack,
			EntityType: audit.EntityRoleRecord,
			EntityID:   id.ID,
			UserID:     id.ID,
			Source:     audit.SourceSession,
			Details: map[string]any{
				"is_admin":   record.IsAdmin,
				"is_teacher": record.IsTeacher,
				"title":      record.Title,
			},
		})
	}()
}

func (l *Listener) unsubscribeRoles(sub rolestore.Subscription) {
	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		l.logger.Warn("role record unsubscribe failed", "error", err)
	}
}

func (l *Listener) record(resolution roles.Resolution, id identity.Identity) {
	if l.deps.Recorder == nil {
		return
	}
	l.deps.Recorder.RecordResolution(resolution.Rule.String(), resolution.NeedsWriteBack())
	l.deps.Recorder.RecordDashboard(l.deps.Policy.SelectDashboard(resolution.Record, id.Email).String())
}

// setLocked replaces the state. l.mu must be held.
func (l *Listener) setLocked(s Session) {
	l.state = s.clone()
	l.version++
}

// notify delivers the latest state to watchers unless it was already
// delivered. Concurrent changes may coalesce; watchers never see a state
// older than one they already received.
func (l *Listener) notify() {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	if l.closed || l.version == l.delivered {
		l.mu.Unlock()
		return
	}
	l.delivered = l.version
	current := l.state.clone()
	watchers := make([]func(Session), 0, len(l.watchers))
	for _, fn := range l.watchers {
		watchers = append(watchers, fn)
	}
	l.mu.Unlock()

	for _, fn := range watchers {
		fn(current)
	}
}
