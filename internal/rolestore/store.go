package rolestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/schooldocs-core/internal/roles"
)

var (
	// ErrNotFound is returned by Read when no record is stored for the user.
	ErrNotFound = errors.New("role record not found")

	// ErrInvalidUserID is returned for an empty user ID.
	ErrInvalidUserID = errors.New("user id is required")

	// ErrBroadcastFailed is returned when a record was persisted but could
	// not be published to other instances.
	ErrBroadcastFailed = errors.New("role record broadcast failed")
)

// Store is the role store contract used by sessions.
type Store interface {
	// Read returns the stored record or ErrNotFound.
	Read(ctx context.Context, userID string) (*roles.RoleRecord, error)
	// Write upserts the record for userID.
	Write(ctx context.Context, userID string, record roles.RoleRecord) error
	// Subscribe calls fn with each record subsequently written for userID.
	Subscribe(userID string, fn func(roles.RoleRecord)) (Subscription, error)
}

// Subscription is a live role record subscription.
type Subscription interface {
	// Unsubscribe stops delivery. Calling it again is a no-op.
	Unsubscribe() error
}

// Entry is a stored record with its bookkeeping columns.
type Entry struct {
	UserID    string           `json:"user_id"`
	Record    roles.RoleRecord `json:"record"`
	UpdatedAt time.Time        `json:"updated_at"`
	UpdatedBy string           `json:"updated_by,omitempty"`
}

type actorKey struct{}

// WithActor records who is making writes made with ctx. It is stored in
// the updated_by column.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string) //nolint:errcheck // absent means no actor
	return actor
}

// subscription wraps a cancel func with idempotent Unsubscribe.
type subscription struct {
	once   sync.Once
	cancel func() error
}

func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() { err = s.cancel() })
	return err
}

// fanout tracks local callbacks per user ID.
type fanout struct {
	mu   sync.RWMutex
	next uint64
	subs map[string]map[uint64]func(roles.RoleRecord)
}

func newFanout() *fanout {
	return &fanout{subs: make(map[string]map[uint64]func(roles.RoleRecord))}
}

// add registers fn and reports whether it is the first for userID.
func (f *fanout) add(userID string, fn func(roles.RoleRecord)) (id uint64, first bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.next++
	byID, ok := f.subs[userID]
	if !ok {
		byID = make(map[uint64]func(roles.RoleRecord))
		f.subs[userID] = byID
	}
	byID[f.next] = fn
	return f.next, !ok
}

// remove drops id and reports whether userID has no callbacks left.
func (f *fanout) remove(userID string, id uint64) (last bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	byID, ok := f.subs[userID]
	if !ok {
		return false
	}
	delete(byID, id)
	if len(byID) == 0 {
		delete(f.subs, userID)
		return true
	}
	return false
}

// deliver calls every callback for userID outside the lock.
func (f *fanout) deliver(userID string, record roles.RoleRecord) {
	f.mu.RLock()
	fns := make([]func(roles.RoleRecord), 0, len(f.subs[userID]))
	for _, fn := range f.subs[userID] {
		fns = append(fns, fn)
	}
	f.mu.RUnlock()

	for _, fn := range fns {
		fn(record)
	}
}

func (f *fanout) count(userID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[userID])
}
