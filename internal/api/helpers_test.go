package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/schooldocs-core/internal/audit"
	"github.com/nerrad567/schooldocs-core/internal/identity"
	"github.com/nerrad567/schooldocs-core/internal/infrastructure/config"
	"github.com/nerrad567/schooldocs-core/internal/infrastructure/database"
	"github.com/nerrad567/schooldocs-core/internal/infrastructure/logging"
	"github.com/nerrad567/schooldocs-core/internal/rolestore"
	"github.com/nerrad567/schooldocs-core/internal/roles"
	"github.com/nerrad567/schooldocs-core/internal/session"
	_ "github.com/nerrad567/schooldocs-core/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// testTokenTTL is the access token and session lifetime in minutes.
const testTokenTTL = 15

// testEnv is a server wired to real SQLite-backed collaborators.
type testEnv struct {
	srv      *Server
	handler  http.Handler
	provider *identity.Provider
	store    *rolestore.SQLiteStore
	audit    *audit.SQLiteRepository
	sessions *session.Manager
}

// newTestEnv builds a server. mutate, if set, adjusts Deps before New.
func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}

	log := logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)

	provider := identity.NewProvider(identity.NewAccountRepository(db.DB))
	provider.SetHashParams(identity.HashParams{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16})

	store := rolestore.NewSQLiteStore(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)
	policy := roles.NewPolicy(roles.DefaultAllowList())

	sessions := session.NewManager(session.ManagerDeps{
		Authenticator: provider,
		Store:         store,
		Policy:        policy,
		Logger:        log.Logger,
		Audit:         auditRepo,
		TTL:           testTokenTTL * time.Minute,
	})
	t.Cleanup(func() {
		//nolint:errcheck // test teardown
		sessions.CloseAll(context.Background())
	})

	deps := Deps{
		Config: config.APIConfig{Host: "127.0.0.1"},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testSecret, AccessTokenTTL: testTokenTTL},
		},
		Logger:   log,
		Provider: provider,
		Sessions: sessions,
		Roles:    store,
		Policy:   policy,
		Audit:    auditRepo,
		Version:  "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	return &testEnv{
		srv:      srv,
		handler:  srv.Handler(),
		provider: provider,
		store:    store,
		audit:    auditRepo,
		sessions: sessions,
	}
}

// do sends a request through the router. token may be empty.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.10:4000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// signup creates an account through the API and returns the token response.
func (e *testEnv) signup(t *testing.T, email string) tokenResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/auth/signup", "", credentialsRequest{Email: email, Password: "password123"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup %s: status = %d, body = %s", email, rec.Code, rec.Body.String())
	}
	return decode[tokenResponse](t, rec)
}

// login signs in through the API and returns the token response.
func (e *testEnv) login(t *testing.T, email string) tokenResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/auth/login", "", credentialsRequest{Email: email, Password: "password123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status = %d, body = %s", email, rec.Code, rec.Body.String())
	}
	return decode[tokenResponse](t, rec)
}

// createAccount adds an account without going through signup, so no role
// record is stored.
func (e *testEnv) createAccount(t *testing.T, email string) identity.Identity {
	t.Helper()
	id, err := e.provider.SignUp(context.Background(), email, "password123")
	if err != nil {
		t.Fatalf("creating account %s: %v", email, err)
	}
	return id
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

// waitFor polls cond until it holds or the timeout elapses.
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

type stubCheck struct{ err error }

func (c stubCheck) HealthCheck(context.Context) error { return c.err }
