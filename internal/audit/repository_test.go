package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/schooldocs-core/internal/infrastructure/database"
	_ "github.com/nerrad567/schooldocs-core/migrations"
)

func testRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
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
	return NewSQLiteRepository(db.DB)
}

func TestCreateAndList(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	entries := []*AuditLog{
		{Action: ActionSignUp, EntityType: EntityAccount, EntityID: "usr-1", UserID: "usr-1", Source: SourceAPI, CreatedAt: base},
		{Action: ActionRoleWriteBack, EntityType: EntityRoleRecord, EntityID: "usr-1", UserID: "usr-1", Source: SourceSession,
			Details: map[string]any{"is_admin": true}, CreatedAt: base.Add(time.Minute)},
		{Action: ActionRoleUpdate, EntityType: EntityRoleRecord, EntityID: "usr-2", UserID: "usr-1", Source: SourceAPI, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if !strings.HasPrefix(e.ID, "aud-") {
			t.Errorf("ID = %q, want aud- prefix", e.ID)
		}
	}

	all, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if all.Total != 3 || len(all.Logs) != 3 {
		t.Fatalf("List() total = %d, len = %d; want 3", all.Total, len(all.Logs))
	}
	if all.Logs[0].Action != ActionRoleUpdate {
		t.Errorf("first log = %s, want most recent first", all.Logs[0].Action)
	}
	if all.Limit != defaultListLimit {
		t.Errorf("Limit = %d, want %d", all.Limit, defaultListLimit)
	}
	if got := all.Logs[1].Details["is_admin"]; got != true {
		t.Errorf("Details[is_admin] = %v, want true", got)
	}

	entity, err := repo.List(ctx, Filter{EntityType: EntityRoleRecord, EntityID: "usr-1"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if entity.Total != 1 || entity.Logs[0].Action != ActionRoleWriteBack {
		t.Errorf("entity filter = %+v", entity.Logs)
	}

	page, err := repo.List(ctx, Filter{UserID: "usr-1", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 3 || len(page.Logs) != 1 || page.Logs[0].Action != ActionRoleWriteBack {
		t.Errorf("page = total %d, logs %+v", page.Total, page.Logs)
	}
}

func TestList_EmptyIsNotNil(t *testing.T) {
	result, err := testRepo(t).List(context.Background(), Filter{Action: ActionLogout})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Logs == nil {
		t.Error("Logs should be an empty slice, not nil")
	}
}

func TestClampPage(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, defaultListLimit, 0},
		{-5, -1, defaultListLimit, 0},
		{500, 10, maxListLimit, 10},
		{20, 40, 20, 40},
	}
	for _, tt := range tests {
		l, o := clampPage(tt.limit, tt.offset)
		if l != tt.wantLimit || o != tt.wantOffset {
			t.Errorf("clampPage(%d, %d) = %d, %d; want %d, %d", tt.limit, tt.offset, l, o, tt.wantLimit, tt.wantOffset)
		}
	}
}

type failingRepo struct{}

func (failingRepo) Create(context.Context, *AuditLog) error { return errors.New("disk full") }
func (failingRepo) List(context.Context, Filter) (*ListResult, error) {
	return nil, errors.New("disk full")
}

func TestRecord(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	Record(context.Background(), failingRepo{}, logger, &AuditLog{Action: ActionLogin})
	if !strings.Contains(buf.String(), "audit log write failed") {
		t.Errorf("log output %q missing failure entry", buf.String())
	}

	// Nil repository is a no-op.
	Record(context.Background(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)), &AuditLog{})
}
