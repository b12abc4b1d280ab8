package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/schooldocs-core/internal/audit"
	"github.com/nerrad567/schooldocs-core/internal/identity"
	"github.com/nerrad567/schooldocs-core/internal/rolestore"
	"github.com/nerrad567/schooldocs-core/internal/roles"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// userID derives a stable ID from the email local part.
func userID(email string) string {
	local, _, _ := strings.Cut(strings.ToLower(email), "@")
	return "usr-" + local
}

// stubAuthenticator accepts any password except "wrong".
type stubAuthenticator struct{}

func (stubAuthenticator) SignIn(_ context.Context, email, password string) (identity.Identity, error) {
	if password == "wrong" {
		return identity.Identity{}, identity.ErrInvalidCredentials
	}
	return identity.Identity{ID: userID(email), Email: identity.NormaliseEmail(email)}, nil
}

func (a stubAuthenticator) SignUp(ctx context.Context, email, password string) (identity.Identity, error) {
	return a.SignIn(ctx, email, password)
}

type storeWrite struct {
	userID string
	record roles.RoleRecord
}

// fakeStore is an in-memory rolestore.Store. Writes and pushes are
// delivered synchronously to subscribers.
type fakeStore struct {
	mu       sync.Mutex
	records  map[string]roles.RoleRecord
	writes   []storeWrite
	subs     map[string]map[int]func(roles.RoleRecord)
	nextSub  int
	readErr  error
	readGate chan struct{}
	reads    int

	// writeErr fails writes. ErrBroadcastFailed still persists the record.
	writeErr error
	// beforeSubscribe runs at the start of Subscribe.
	beforeSubscribe func(userID string)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[string]roles.RoleRecord),
		subs:    make(map[string]map[int]func(roles.RoleRecord)),
	}
}

func (s *fakeStore) Read(_ context.Context, userID string) (*roles.RoleRecord, error) {
	s.mu.Lock()
	gate := s.readGate
	s.reads++
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	rec, ok := s.records[userID]
	if !ok {
		return nil, rolestore.ErrNotFound
	}
	return &rec, nil
}

func (s *fakeStore) Write(_ context.Context, userID string, record roles.RoleRecord) error {
	s.mu.Lock()
	err := s.writeErr
	if err != nil && !errors.Is(err, rolestore.ErrBroadcastFailed) {
		s.mu.Unlock()
		return err
	}
	s.records[userID] = record
	s.writes = append(s.writes, storeWrite{userID, record})
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.deliver(userID, record)
	return nil
}

func (s *fakeStore) Subscribe(userID string, fn func(roles.RoleRecord)) (rolestore.Subscription, error) {
	s.mu.Lock()
	hook := s.beforeSubscribe
	s.mu.Unlock()
	if hook != nil {
		hook(userID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[userID] == nil {
		s.subs[userID] = make(map[int]func(roles.RoleRecord))
	}
	s.nextSub++
	id := s.nextSub
	s.subs[userID][id] = fn
	return unsubscribeFunc(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[userID], id)
		return nil
	}), nil
}

// push simulates a write made elsewhere, such as an admin edit.
func (s *fakeStore) push(userID string, record roles.RoleRecord) {
	s.mu.Lock()
	s.records[userID] = record
	s.mu.Unlock()
	s.deliver(userID, record)
}

func (s *fakeStore) deliver(userID string, record roles.RoleRecord) {
	s.mu.Lock()
	fns := make([]func(roles.RoleRecord), 0, len(s.subs[userID]))
	for _, fn := range s.subs[userID] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(record)
	}
}

func (s *fakeStore) subCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[userID])
}

func (s *fakeStore) writesFor(userID string) []roles.RoleRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []roles.RoleRecord
	for _, w := range s.writes {
		if w.userID == userID {
			out = append(out, w.record)
		}
	}
	return out
}

func (s *fakeStore) totalWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

type unsubscribeFunc func() error

func (f unsubscribeFunc) Unsubscribe() error { return f() }

// fakeAuth lets a test drive auth events by hand. It does not deliver a
// current state on subscribe.
type fakeAuth struct {
	mu       sync.Mutex
	handlers map[int]identity.AuthHandler
	next     int
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{handlers: make(map[int]identity.AuthHandler)}
}

func (a *fakeAuth) OnAuthStateChange(h identity.AuthHandler) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	id := a.next
	a.handlers[id] = h
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.handlers, id)
	}
}

func (a *fakeAuth) emit(id *identity.Identity) {
	a.mu.Lock()
	hs := make([]identity.AuthHandler, 0, len(a.handlers))
	for _, h := range a.handlers {
		hs = append(hs, h)
	}
	a.mu.Unlock()
	for _, h := range hs {
		h(id)
	}
}

func (a *fakeAuth) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.handlers)
}

// fakeRecorder counts metrics calls.
type fakeRecorder struct {
	mu         sync.Mutex
	rules      []string
	dashboards []string
	writeBacks int
}

func (r *fakeRecorder) RecordResolution(rule string, writeBack bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
	if writeBack {
		r.writeBacks++
	}
}

func (r *fakeRecorder) RecordDashboard(dashboard string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dashboards = append(r.dashboards, dashboard)
}

// fakeAudit collects audit entries in memory.
type fakeAudit struct {
	mu   sync.Mutex
	logs []audit.AuditLog
}

func (a *fakeAudit) Create(_ context.Context, log *audit.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, *log)
	return nil
}

func (a *fakeAudit) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := []audit.AuditLog{}
	for _, l := range a.logs {
		if filter.Action == "" || l.Action == filter.Action {
			out = append(out, l)
		}
	}
	return &audit.ListResult{Logs: out, Total: len(out)}, nil
}

func (a *fakeAudit) count(action string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, l := range a.logs {
		if l.Action == action {
			n++
		}
	}
	return n
}

// harness wires a Listener to a real AuthState and a fake store.
type harness struct {
	auth     *identity.AuthState
	store    *fakeStore
	policy   *roles.Policy
	listener *Listener
	recorder *fakeRecorder
	audit    *fakeAudit
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		auth:     identity.NewAuthState(stubAuthenticator{}),
		store:    newFakeStore(),
		policy:   roles.NewPolicy(roles.DefaultAllowList()),
		recorder: &fakeRecorder{},
		audit:    &fakeAudit{},
	}
	h.listener = NewListener(Deps{
		Auth:     h.auth,
		Store:    h.store,
		Policy:   h.policy,
		Logger:   discardLogger(),
		Recorder: h.recorder,
		Audit:    h.audit,
	})
	if err := h.listener.Attach(); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	t.Cleanup(func() { h.listener.Close() })
	return h
}

func (h *harness) signIn(t *testing.T, email string) identity.Identity {
	t.Helper()
	id, err := h.auth.SignIn(context.Background(), email, "password123")
	if err != nil {
		t.Fatalf("SignIn(%s) error = %v", email, err)
	}
	return id
}

// waitLoaded waits until the session shows email with loading finished and
// the role subscription in place, then for the load and any write-back to
// finish.
func (h *harness) waitLoaded(t *testing.T, email string) Session {
	t.Helper()
	waitFor(t, email+" loaded", func() bool {
		s := h.listener.Snapshot()
		return s.Email() == email && !s.Loading && h.store.subCount(userID(email)) == 1
	})
	h.listener.wg.Wait()
	return h.listener.Snapshot()
}

// watchLog records every session a watcher receives.
type watchLog struct {
	mu       sync.Mutex
	sessions []Session
}

func (w *watchLog) add(s Session) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sessions = append(w.sessions, s)
}

func (w *watchLog) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}

func (w *watchLog) last() Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessions[len(w.sessions)-1]
}
