package identity

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/nerrad567/schooldocs-core/internal/infrastructure/database"
	_ "github.com/nerrad567/schooldocs-core/migrations"
)

// cheapParams keep Argon2id fast in tests.
var cheapParams = HashParams{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

// testDB opens a migrated SQLite database in a temp dir.
func testDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "identity.db"),
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
	return db
}

func testProvider(t *testing.T) (*Provider, *SQLiteAccountRepository) {
	t.Helper()
	repo := NewAccountRepository(testDB(t).DB)
	p := NewProvider(repo)
	p.SetHashParams(cheapParams)
	return p, repo
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
