package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

const sessionKeyPrefix = "session"

// RedisSessionStore keeps sessions in Redis so every instance shares them.
// Keys expire together with the session.
type RedisSessionStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisSessionStore creates a session store backed by client.
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client, now: time.Now}
}

func (r *RedisSessionStore) key(id string) string {
	return sessionKeyPrefix + ":" + id
}

func (r *RedisSessionStore) SaveSession(ctx context.Context, s domain.Session) error {
	ttl := s.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return errors.New("session already expired")
	}
	data, err := sonic.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(s.ID), data, ttl).Err()
}

func (r *RedisSessionStore) LoadSession(ctx context.Context, id string) (*domain.Session, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s domain.Session
	if err := sonic.Unmarshal(data, &s); err != nil {
		// A record we cannot decode can never authenticate anyone.
		_ = r.client.Del(ctx, r.key(id)).Err()
		return nil, nil
	}
	if s.Expired(r.now()) {
		return nil, nil
	}
	return &s, nil
}

func (r *RedisSessionStore) DeleteSession(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id)).Err()
}

// Ping verifies Redis is reachable.
func (r *RedisSessionStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// MemorySessionStore is a single-process session table for local runs
// without Redis.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	now      func() time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]domain.Session), now: time.Now}
}

func (m *MemorySessionStore) SaveSession(_ context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, existing := range m.sessions {
		if existing.Expired(now) {
			delete(m.sessions, id)
		}
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *MemorySessionStore) LoadSession(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	if s.Expired(m.now()) {
		delete(m.sessions, id)
		return nil, nil
	}
	return &s, nil
}

func (m *MemorySessionStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

func (m *MemorySessionStore) Ping(context.Context) error { return nil }
