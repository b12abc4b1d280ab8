package rolestore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nerrad567/schooldocs-core/internal/infrastructure/database"
	"github.com/nerrad567/schooldocs-core/internal/infrastructure/mqtt"
	_ "github.com/nerrad567/schooldocs-core/migrations"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "roles.db"),
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

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBroker is an in-memory broker with retained messages. Handlers run
// synchronously on the publishing goroutine.
type fakeBroker struct {
	mu         sync.Mutex
	handlers   map[string]mqtt.MessageHandler
	retained   map[string][]byte
	published  []string
	subCalls   int
	unsubCalls int

	publishErr   error
	subscribeErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		handlers: make(map[string]mqtt.MessageHandler),
		retained: make(map[string][]byte),
	}
}

func (b *fakeBroker) Publish(topic string, payload []byte, _ byte, retained bool) error {
	b.mu.Lock()
	if b.publishErr != nil {
		b.mu.Unlock()
		return b.publishErr
	}
	b.published = append(b.published, topic)
	if retained {
		b.retained[topic] = payload
	}
	h := b.handlers[topic]
	b.mu.Unlock()

	if h != nil {
		return h(topic, payload)
	}
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	if b.subscribeErr != nil {
		b.mu.Unlock()
		return b.subscribeErr
	}
	b.subCalls++
	b.handlers[topic] = handler
	payload, ok := b.retained[topic]
	b.mu.Unlock()

	if ok {
		return handler(topic, payload)
	}
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[topic]; !ok {
		return errors.New("not subscribed")
	}
	b.unsubCalls++
	delete(b.handlers, topic)
	return nil
}

func (b *fakeBroker) subscribed(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[topic]
	return ok
}
