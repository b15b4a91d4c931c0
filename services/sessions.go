package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"tennismatch/models"
)

// DeckSession remembers which candidate each card of an issued deck stands for
type DeckSession struct {
	ID     string           `json:"id"`
	UserID int64            `json:"userId"`
	Cards  map[string]int64 `json:"cards"` // card id -> target user id
}

// DeckSessionStore keeps deck sessions for as long as their token is valid
type DeckSessionStore interface {
	Save(ctx context.Context, s DeckSession, ttl time.Duration) error
	Load(ctx context.Context, id string) (DeckSession, bool, error)
}

// IdempotencyStore remembers the result of each decision by idempotency key
// so a replayed decision returns the first answer
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (models.DecisionResult, bool, error)
	Put(ctx context.Context, key string, result models.DecisionResult, ttl time.Duration) error
}

type expiring[T any] struct {
	value   T
	expires time.Time
}

// memoryTTLMap is a mutex guarded map whose entries lapse after their TTL
type memoryTTLMap[T any] struct {
	mu      sync.Mutex
	entries map[string]expiring[T]
	now     func() time.Time
}

func newMemoryTTLMap[T any]() *memoryTTLMap[T] {
	return &memoryTTLMap[T]{entries: make(map[string]expiring[T]), now: time.Now}
}

func (m *memoryTTLMap[T]) put(key string, v T, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, e := range m.entries {
		if now.After(e.expires) {
			delete(m.entries, k)
		}
	}
	m.entries[key] = expiring[T]{value: v, expires: now.Add(ttl)}
}

func (m *memoryTTLMap[T]) get(key string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || m.now().After(e.expires) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// MemoryDeckSessionStore keeps deck sessions in process memory
type MemoryDeckSessionStore struct {
	m *memoryTTLMap[DeckSession]
}

// NewMemoryDeckSessionStore returns an empty store
func NewMemoryDeckSessionStore() *MemoryDeckSessionStore {
	return &MemoryDeckSessionStore{m: newMemoryTTLMap[DeckSession]()}
}

func (s *MemoryDeckSessionStore) Save(_ context.Context, ds DeckSession, ttl time.Duration) error {
	s.m.put(ds.ID, ds, ttl)
	return nil
}

func (s *MemoryDeckSessionStore) Load(_ context.Context, id string) (DeckSession, bool, error) {
	ds, ok := s.m.get(id)
	return ds, ok, nil
}

// MemoryIdempotencyStore keeps decision results in process memory
type MemoryIdempotencyStore struct {
	m *memoryTTLMap[models.DecisionResult]
}

// NewMemoryIdempotencyStore returns an empty store
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{m: newMemoryTTLMap[models.DecisionResult]()}
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) (models.DecisionResult, bool, error) {
	r, ok := s.m.get(key)
	return r, ok, nil
}

func (s *MemoryIdempotencyStore) Put(_ context.Context, key string, result models.DecisionResult, ttl time.Duration) error {
	s.m.put(key, result, ttl)
	return nil
}

// RedisDeckSessionStore shares deck sessions between backend instances
type RedisDeckSessionStore struct {
	client *redis.Client
	prefix string
}

// NewRedisDeckSessionStore wraps client; keys are "<prefix><session id>"
func NewRedisDeckSessionStore(client *redis.Client, prefix string) *RedisDeckSessionStore {
	if prefix == "" {
		prefix = "tm:deck:"
	}
	return &RedisDeckSessionStore{client: client, prefix: prefix}
}

func (s *RedisDeckSessionStore) Save(ctx context.Context, ds DeckSession, ttl time.Duration) error {
	return redisPutJSON(ctx, s.client, s.prefix+ds.ID, ds, ttl)
}

func (s *RedisDeckSessionStore) Load(ctx context.Context, id string) (DeckSession, bool, error) {
	var ds DeckSession
	ok, err := redisGetJSON(ctx, s.client, s.prefix+id, &ds)
	return ds, ok, err
}

// RedisIdempotencyStore shares decision results between backend instances
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
}

// NewRedisIdempotencyStore wraps client; keys are "<prefix><idempotency key>"
func NewRedisIdempotencyStore(client *redis.Client, prefix string) *RedisIdempotencyStore {
	if prefix == "" {
		prefix = "tm:idem:"
	}
	return &RedisIdempotencyStore{client: client, prefix: prefix}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (models.DecisionResult, bool, error) {
	var r models.DecisionResult
	ok, err := redisGetJSON(ctx, s.client, s.prefix+key, &r)
	return r, ok, err
}

func (s *RedisIdempotencyStore) Put(ctx context.Context, key string, result models.DecisionResult, ttl time.Duration) error {
	return redisPutJSON(ctx, s.client, s.prefix+key, result, ttl)
}

func redisPutJSON(ctx context.Context, client *redis.Client, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func redisGetJSON(ctx context.Context, client *redis.Client, key string, out any) (bool, error) {
	data, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}
