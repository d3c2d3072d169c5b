// README: Session persistence with optimistic versioning (Redis for production, memory for tests and CLI).
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"roam/internal/types"
)

// Store persists sessions. Save succeeds only when s.Version equals the stored version
// (0 for a session never saved) and returns the session with Version incremented.
type Store interface {
	Load(ctx context.Context, id types.ID) (BookingSession, error)
	Save(ctx context.Context, s BookingSession) (BookingSession, error)
	Delete(ctx context.Context, id types.ID) error
}

const sessionKeyPrefix = "roam:session:%s"

// DefaultTTL expires idle conversations.
const DefaultTTL = 72 * time.Hour

func sessionKey(id types.ID) string {
	return fmt.Sprintf(sessionKeyPrefix, id)
}

type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStore stores sessions as JSON. ttl <= 0 keeps keys forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: client, ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context, id types.ID) (BookingSession, error) {
	raw, err := s.redis.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return BookingSession{}, ErrNotFound
	}
	if err != nil {
		return BookingSession{}, err
	}
	var out BookingSession
	if err := json.Unmarshal(raw, &out); err != nil {
		return BookingSession{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return out, nil
}

func (s *RedisStore) Save(ctx context.Context, sess BookingSession) (BookingSession, error) {
	key := sessionKey(sess.ID)
	saved := sess
	saved.Version = sess.Version + 1
	payload, err := json.Marshal(saved)
	if err != nil {
		return BookingSession{}, err
	}

	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		current := 0
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
		case err != nil:
			return err
		default:
			var stored BookingSession
			if err := json.Unmarshal(raw, &stored); err != nil {
				return fmt.Errorf("decode session %s: %w", sess.ID, err)
			}
			current = stored.Version
		}
		if current != sess.Version {
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return BookingSession{}, ErrConflict
	}
	if err != nil {
		return BookingSession{}, err
	}
	return saved, nil
}

func (s *RedisStore) Delete(ctx context.Context, id types.ID) error {
	return s.redis.Del(ctx, sessionKey(id)).Err()
}

type MemoryStore struct {
	mu       sync.Mutex
	sessions map[types.ID]BookingSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[types.ID]BookingSession)}
}

func (s *MemoryStore) Load(_ context.Context, id types.ID) (BookingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return BookingSession{}, ErrNotFound
	}
	return sess, nil
}

func (s *MemoryStore) Save(_ context.Context, sess BookingSession) (BookingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[sess.ID].Version != sess.Version {
		return BookingSession{}, ErrConflict
	}
	sess.Version++
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *MemoryStore) Delete(_ context.Context, id types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
