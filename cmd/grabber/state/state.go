// Package state holds per-requester values such as the current selection
// and pagination cursor.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lyzr/mediagrab/common/redis"
)

// Store is a TTL-bounded map keyed by requester id
type Store[T any] interface {
	Get(ctx context.Context, requester string) (T, bool, error)
	Set(ctx context.Context, requester string, value T) error
	Delete(ctx context.Context, requester string) error
}

type memoryEntry[T any] struct {
	value     T
	updatedAt time.Time
}

// MemoryStore is an in-process Store. When full, the least recently
// written requester is evicted.
type MemoryStore[T any] struct {
	mu      sync.Mutex
	entries map[string]memoryEntry[T]
	ttl     time.Duration
	maxKeys int
	now     func() time.Time
}

// NewMemoryStore creates a memory store; now may be nil
func NewMemoryStore[T any](ttl time.Duration, maxKeys int, now func() time.Time) *MemoryStore[T] {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore[T]{
		entries: make(map[string]memoryEntry[T]),
		ttl:     ttl,
		maxKeys: maxKeys,
		now:     now,
	}
}

func (s *MemoryStore[T]) Get(ctx context.Context, requester string) (T, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	e, ok := s.entries[requester]
	if !ok {
		return zero, false, nil
	}
	if s.ttl > 0 && s.now().Sub(e.updatedAt) > s.ttl {
		delete(s.entries, requester)
		return zero, false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore[T]) Set(ctx context.Context, requester string, value T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[requester]; !exists && s.maxKeys > 0 && len(s.entries) >= s.maxKeys {
		s.evictOldest()
	}
	s.entries[requester] = memoryEntry[T]{value: value, updatedAt: s.now()}
	return nil
}

func (s *MemoryStore[T]) Delete(ctx context.Context, requester string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, requester)
	return nil
}

// Len returns the number of stored requesters, expired ones included
func (s *MemoryStore[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore[T]) evictOldest() {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for k, e := range s.entries {
		if oldestKey == "" || e.updatedAt.Before(oldestAt) {
			oldestKey, oldestAt = k, e.updatedAt
		}
	}
	delete(s.entries, oldestKey)
}

// RedisStore keeps JSON-encoded values in redis so replicas share them
type RedisStore[T any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a redis store whose keys are prefix:<requester>
func NewRedisStore[T any](client *redis.Client, prefix string, ttl time.Duration) *RedisStore[T] {
	return &RedisStore[T]{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore[T]) key(requester string) string {
	return s.prefix + ":" + requester
}

func (s *RedisStore[T]) Get(ctx context.Context, requester string) (T, bool, error) {
	var zero T
	raw, err := s.client.Get(ctx, s.key(requester))
	if errors.Is(err, redis.ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}

	var value T
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return zero, false, fmt.Errorf("decode %s: %w", s.key(requester), err)
	}
	return value, true, nil
}

func (s *RedisStore[T]) Set(ctx context.Context, requester string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.key(requester), err)
	}
	return s.client.SetWithExpiry(ctx, s.key(requester), string(data), s.ttl)
}

func (s *RedisStore[T]) Delete(ctx context.Context, requester string) error {
	_, err := s.client.Delete(ctx, s.key(requester))
	return err
}
