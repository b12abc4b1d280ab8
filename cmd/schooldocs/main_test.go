package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/schooldocs-core/internal/api"
	"github.com/nerrad567/schooldocs-core/internal/infrastructure/config"
)

const testConfigTemplate = `
school:
  id: test-school

database:
  path: "{{DB}}"
  wal_mode: true
  busy_timeout: 5

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "schooldocs-test"
  qos: 1

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: 18080

security:
  jwt:
    secret: "test-secret-key-at-least-32-characters-long"
`

func writeConfig(t *testing.T, dbPath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := strings.ReplaceAll(testConfigTemplate, "{{DB}}", dbPath)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("SCHOOLDOCS_CONFIG", "/nonexistent/path/config.yaml")
	t.Setenv("SCHOOLDOCS_ENV_FILE", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_UnusableDatabasePath verifies run fails before touching MQTT when
// the database cannot be opened.
func TestRun_UnusableDatabasePath(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatalf("writing blocker file: %v", err)
	}
	t.Setenv("SCHOOLDOCS_CONFIG", writeConfig(t, filepath.Join(blocker, "db", "schooldocs.db")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "opening database") {
		t.Fatalf("run() error = %v, want opening database failure", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("SCHOOLDOCS_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("SCHOOLDOCS_CONFIG", "/custom/path/config.yaml")
	if got := getConfigPath(); got != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q, want override", got)
	}
}

func TestLoadEnvFile(t *testing.T) {
	t.Run("explicit file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.env")
		if err := os.WriteFile(path, []byte("SCHOOLDOCS_TEST_ENV_VALUE=from-file\n"), 0o600); err != nil {
			t.Fatalf("writing env file: %v", err)
		}
		t.Setenv("SCHOOLDOCS_ENV_FILE", path)
		t.Setenv("SCHOOLDOCS_TEST_ENV_VALUE", "")
		os.Unsetenv("SCHOOLDOCS_TEST_ENV_VALUE")

		if err := loadEnvFile(); err != nil {
			t.Fatalf("loadEnvFile() error = %v", err)
		}
		if got := os.Getenv("SCHOOLDOCS_TEST_ENV_VALUE"); got != "from-file" {
			t.Errorf("SCHOOLDOCS_TEST_ENV_VALUE = %q, want from-file", got)
		}
	})

	t.Run("missing explicit file", func(t *testing.T) {
		t.Setenv("SCHOOLDOCS_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
		if err := loadEnvFile(); err == nil {
			t.Error("loadEnvFile() should fail for a missing explicit file")
		}
	})

	t.Run("missing default file", func(t *testing.T) {
		t.Setenv("SCHOOLDOCS_ENV_FILE", "")
		t.Chdir(t.TempDir())
		if err := loadEnvFile(); err != nil {
			t.Errorf("loadEnvFile() error = %v, want nil", err)
		}
	})
}

func TestAllowList_MergesConfig(t *testing.T) {
	list := allowList(config.RolesConfig{AdminAllowList: []config.AdminEntry{
		{Email: "Bursar@School.edu", Title: "Bursar Dashboard"},
		{Email: "principal@school.edu", Title: "Head Teacher"},
	}})

	if title, ok := list.Lookup("bursar@school.edu"); !ok || title != "Bursar Dashboard" {
		t.Errorf("Lookup(bursar) = %q, %v", title, ok)
	}
	if title, _ := list.Lookup("principal@school.edu"); title != "Head Teacher" {
		t.Errorf("configured title should override built-in, got %q", title)
	}
	if !list.Contains("docmanager@school.edu") {
		t.Error("built-in entries should be kept")
	}
}

type stubCheck struct{ err error }

func (c stubCheck) HealthCheck(context.Context) error { return c.err }

func TestHealthCheck(t *testing.T) {
	ok := map[string]api.HealthChecker{"database": stubCheck{}, "mqtt": stubCheck{}}
	if err := healthCheck(context.Background(), ok); err != nil {
		t.Errorf("healthCheck() = %v, want nil", err)
	}

	failing := map[string]api.HealthChecker{
		"database": stubCheck{},
		"mqtt":     stubCheck{err: errors.New("not connected")},
	}
	err := healthCheck(context.Background(), failing)
	if err == nil || !strings.HasPrefix(err.Error(), "mqtt:") {
		t.Errorf("healthCheck() = %v, want mqtt failure", err)
	}
}

// TestRun_SuccessfulStartupAndShutdown tests full startup with running services.
// Requires an MQTT broker at 127.0.0.1:1883.
func TestRun_SuccessfulStartupAndShutdown(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION=1 with a broker on 127.0.0.1:1883")
	}

	t.Setenv("SCHOOLDOCS_CONFIG", writeConfig(t, filepath.Join(t.TempDir(), "schooldocs.db")))
	t.Setenv("SCHOOLDOCS_ENV_FILE", "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get("http://127.0.0.1:18080/api/v1/health")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("server never became healthy: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}
