// Package session keeps the pending admin input state of each chat.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type State string

const (
	None              State = ""
	AwaitingCredit    State = "awaiting_credit"
	AwaitingDebit     State = "awaiting_debit"
	AwaitingBroadcast State = "awaiting_broadcast"
)

type Store interface {
	Get(ctx context.Context, userID int64) (State, error)
	Set(ctx context.Context, userID int64, state State) error
	Clear(ctx context.Context, userID int64) error
}

// RedisStore keeps states in Redis so they expire on their own and survive a
// restart.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func stateKey(userID int64) string {
	return fmt.Sprintf("session:state:%d", userID)
}

func (s *RedisStore) Get(ctx context.Context, userID int64) (State, error) {
	v, err := s.rdb.Get(ctx, stateKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return None, nil
	}
	if err != nil {
		return None, errors.Wrapf(err, "get session of %d", userID)
	}
	return State(v), nil
}

func (s *RedisStore) Set(ctx context.Context, userID int64, state State) error {
	if state == None {
		return s.Clear(ctx, userID)
	}
	if err := s.rdb.Set(ctx, stateKey(userID), string(state), s.ttl).Err(); err != nil {
		return errors.Wrapf(err, "set session of %d", userID)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, userID int64) error {
	if err := s.rdb.Del(ctx, stateKey(userID)).Err(); err != nil {
		return errors.Wrapf(err, "clear session of %d", userID)
	}
	return nil
}

type memoryEntry struct {
	state   State
	expires time.Time
}

// MemoryStore is a process-local Store for tests and runs without Redis.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[int64]memoryEntry
	ttl    time.Duration
	now    func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		states: make(map[int64]memoryEntry),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, userID int64) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.states[userID]
	if !ok || (s.ttl > 0 && !s.now().Before(e.expires)) {
		return None, nil
	}
	return e.state, nil
}

func (s *MemoryStore) Set(ctx context.Context, userID int64, state State) error {
	if state == None {
		return s.Clear(ctx, userID)
	}

	s.mu.Lock()
	s.states[userID] = memoryEntry{state: state, expires: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, userID int64) error {
	s.mu.Lock()
	delete(s.states, userID)
	s.mu.Unlock()
	return nil
}
