// Package kvcache is the key/value side store for settings and scan markers,
// backed by redis when configured and by process memory otherwise.
package kvcache

import (
	"context"
	"strings"
	"sync"
	"time"

	"photokeep/internal/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store is the minimal key/value surface the engine needs.
type Store interface {
	GetBytes(ctx context.Context, key string) ([]byte, bool, error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
	GetTime(ctx context.Context, key string) (time.Time, bool, error)
	SetTime(ctx context.Context, key string, t time.Time) error
	Delete(ctx context.Context, key string) error
}

// ScanMarkerKey derives a stable key for a scanned root path.
func ScanMarkerKey(path string) string {
	path = strings.ToLower(strings.TrimSpace(path))
	return "scan:" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(path)).String()
}

// New returns a redis-backed store when enabled, the in-memory one otherwise.
func New(cfg config.Redis) Store {
	if !cfg.Enabled {
		return NewMemory()
	}
	return &redisStore{
		client: redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB}),
	}
}

type redisStore struct {
	client *redis.Client
}

func (s *redisStore) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *redisStore) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) GetTime(ctx context.Context, key string) (time.Time, bool, error) {
	raw, ok, err := s.GetBytes(ctx, key)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (s *redisStore) SetTime(ctx context.Context, key string, t time.Time) error {
	return s.SetBytes(ctx, key, []byte(t.Format(time.RFC3339Nano)), 0)
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Memory is the fallback store used without redis and in tests.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string][]byte)}
}

func (m *Memory) GetBytes(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *Memory) SetBytes(_ context.Context, key string, value []byte, _ time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = stored
	return nil
}

func (m *Memory) GetTime(ctx context.Context, key string) (time.Time, bool, error) {
	raw, ok, err := m.GetBytes(ctx, key)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (m *Memory) SetTime(ctx context.Context, key string, t time.Time) error {
	return m.SetBytes(ctx, key, []byte(t.Format(time.RFC3339Nano)), 0)
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}
