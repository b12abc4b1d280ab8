package rolestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nerrad567/schooldocs-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/schooldocs-core/internal/roles"
)

// Backend is the persistence RealtimeStore writes through.
type Backend interface {
	Read(ctx context.Context, userID string) (*roles.RoleRecord, error)
	Write(ctx context.Context, userID string, record roles.RoleRecord) error
	List(ctx context.Context) ([]Entry, error)
}

// Broker is the subset of *mqtt.Client used for the broadcast.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// RealtimeStore persists through a Backend and broadcasts every write over
// MQTT, so writes made by other instances sharing the backend reach local
// subscribers too.
//
// A broker message only announces that a user's record changed. The record
// delivered to subscribers is always re-read from the backend, because a
// retained message can be older than the stored record when a publish
// failed after a write.
//
// Thread Safety: safe for concurrent use.
type RealtimeStore struct {
	backend Backend
	broker  Broker
	topics  mqtt.Topics
	qos     byte
	logger  *slog.Logger

	// brokerMu orders broker subscribe/unsubscribe calls with the local
	// first/last transitions that trigger them.
	brokerMu sync.Mutex
	fanout   *fanout
}

// NewRealtimeStore wires backend to broker.
//
// Parameters:
//   - backend: authoritative storage; every Read, List and delivered record comes from it
//   - broker: MQTT client used for the retained per-user broadcast
//   - topics: topic builder; records are published on topics.RoleRecord(userID)
//   - qos: QoS for publishes and subscriptions
//   - logger: base logger; a "component" attribute is added
//
// Returns:
//   - *RealtimeStore: ready for use; broker subscriptions are made lazily by Subscribe
func NewRealtimeStore(backend Backend, broker Broker, topics mqtt.Topics, qos byte, logger *slog.Logger) *RealtimeStore {
	return &RealtimeStore{
		backend: backend,
		broker:  broker,
		topics:  topics,
		qos:     qos,
		logger:  logger.With("component", "rolestore"),
		fanout:  newFanout(),
	}
}

// Read reads from the backend.
func (s *RealtimeStore) Read(ctx context.Context, userID string) (*roles.RoleRecord, error) {
	return s.backend.Read(ctx, userID)
}

// List lists from the backend.
func (s *RealtimeStore) List(ctx context.Context) ([]Entry, error) {
	return s.backend.List(ctx)
}

// Write persists the record and publishes it retained. A publish failure
// after a successful persist returns ErrBroadcastFailed; the stored record
// is kept.
func (s *RealtimeStore) Write(ctx context.Context, userID string, record roles.RoleRecord) error {
	if err := s.backend.Write(ctx, userID, record); err != nil {
		return err
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding role record: %w", err)
	}
	if err := s.broker.Publish(s.topics.RoleRecord(userID), payload, s.qos, true); err != nil {
		return fmt.Errorf("%w: %w", ErrBroadcastFailed, err)
	}
	return nil
}

// Subscribe registers fn for records published for userID. The first
// local subscriber for a user creates the broker subscription and the last
// Unsubscribe removes it.
func (s *RealtimeStore) Subscribe(userID string, fn func(roles.RoleRecord)) (Subscription, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	s.brokerMu.Lock()
	defer s.brokerMu.Unlock()

	id, first := s.fanout.add(userID, fn)
	if first {
		topic := s.topics.RoleRecord(userID)
		if err := s.broker.Subscribe(topic, s.qos, s.handler(userID)); err != nil {
			s.fanout.remove(userID, id)
			return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}

	return &subscription{cancel: func() error {
		return s.unsubscribe(userID, id)
	}}, nil
}

func (s *RealtimeStore) unsubscribe(userID string, id uint64) error {
	s.brokerMu.Lock()
	defer s.brokerMu.Unlock()

	if !s.fanout.remove(userID, id) {
		return nil
	}
	topic := s.topics.RoleRecord(userID)
	if err := s.broker.Unsubscribe(topic); err != nil {
		return fmt.Errorf("unsubscribing from %s: %w", topic, err)
	}
	return nil
}

// SubscriberCount returns the local subscriber count for userID.
func (s *RealtimeStore) SubscriberCount(userID string) int {
	return s.fanout.count(userID)
}

// refreshTimeout bounds the backend read made for each broker message.
const refreshTimeout = 5 * time.Second

func (s *RealtimeStore) handler(userID string) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		// An empty retained message clears the topic; there is no record.
		if len(payload) == 0 {
			return nil
		}
		var announced roles.RoleRecord
		if err := json.Unmarshal(payload, &announced); err != nil {
			return fmt.Errorf("decoding role record on %s: %w", topic, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		stored, err := s.backend.Read(ctx, userID)
		switch {
		case err == nil:
		case errors.Is(err, ErrNotFound):
			s.logger.Debug("role record announced but not stored", "user_id", userID)
			return nil
		default:
			return fmt.Errorf("reading announced role record for %s: %w", userID, err)
		}

		if !stored.Equal(announced) {
			s.logger.Debug("stale role record broadcast replaced by stored record", "user_id", userID)
		}
		s.fanout.deliver(userID, *stored)
		return nil
	}
}
