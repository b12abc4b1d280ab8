package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestNew_RequiresDependencies(t *testing.T) {
	env := newTestEnv(t, nil)
	base := Deps{
		Logger:   env.srv.logger,
		Provider: env.provider,
		Sessions: env.sessions,
		Roles:    env.store,
		Policy:   env.srv.policy,
	}

	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"logger", func(d *Deps) { d.Logger = nil }},
		{"provider", func(d *Deps) { d.Provider = nil }},
		{"sessions", func(d *Deps) { d.Sessions = nil }},
		{"roles", func(d *Deps) { d.Roles = nil }},
		{"policy", func(d *Deps) { d.Policy = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := base
			tt.mutate(&deps)
			if _, err := New(deps); err == nil {
				t.Errorf("New() without %s should fail", tt.name)
			}
		})
	}

	if _, err := New(base); err != nil {
		t.Errorf("New() with all deps: %v", err)
	}
}

func TestHealthCheck_NotStarted(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() before Start: %v", err)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		env := newTestEnv(t, func(d *Deps) {
			d.Checks = map[string]HealthChecker{"database": stubCheck{}}
		})
		rec := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		body := decode[map[string]any](t, rec)
		if body["status"] != "ok" {
			t.Errorf("status = %v, want ok", body["status"])
		}
		if body["version"] != "test" {
			t.Errorf("version = %v, want test", body["version"])
		}
	})

	t.Run("degraded", func(t *testing.T) {
		env := newTestEnv(t, func(d *Deps) {
			d.Checks = map[string]HealthChecker{
				"database": stubCheck{},
				"mqtt":     stubCheck{err: errors.New("not connected")},
			}
		})
		body := decode[map[string]any](t, env.do(t, http.MethodGet, "/api/v1/health", "", nil))
		if body["status"] != "degraded" {
			t.Errorf("status = %v, want degraded", body["status"])
		}
		components, _ := body["components"].(map[string]any)
		if components["mqtt"] != "not connected" {
			t.Errorf("components[mqtt] = %v", components["mqtt"])
		}
		if components["database"] != "ok" {
			t.Errorf("components[database] = %v", components["database"])
		}
	})
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"https://docs.school.edu"}
	})

	rec := env.do(t, http.MethodOptions, "/api/v1/session", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if !env.srv.isAllowedOrigin("https://docs.school.edu") {
		t.Error("configured origin should be allowed")
	}
	if env.srv.isAllowedOrigin("https://evil.example") {
		t.Error("other origins should be rejected")
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if got := rec.Header().Get("X-Request-ID"); len(got) != requestIDBytes*2 {
		t.Errorf("X-Request-ID = %q, want %d hex chars", got, requestIDBytes*2)
	}
}
