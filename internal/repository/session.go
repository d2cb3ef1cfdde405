package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"movingmen/internal/models"

	"github.com/redis/go-redis/v9"
)

const sessionPrefix = "movingmen:session:"

// SessionRepository persists staff sessions between Telegram updates.
// Get returns nil, nil for an unknown chat.
type SessionRepository interface {
	Get(ctx context.Context, chatID int64) (*models.Session, error)
	Save(ctx context.Context, s *models.Session) error
	Delete(ctx context.Context, chatID int64) error
}

// RedisSessionRepository stores sessions as JSON with a sliding TTL.
type RedisSessionRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionRepository(client *redis.Client, ttl time.Duration) *RedisSessionRepository {
	return &RedisSessionRepository{client: client, ttl: ttl}
}

func sessionKey(chatID int64) string {
	return fmt.Sprintf("%s%d", sessionPrefix, chatID)
}

func (r *RedisSessionRepository) Get(ctx context.Context, chatID int64) (*models.Session, error) {
	data, err := r.client.Get(ctx, sessionKey(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %d: %w", chatID, err)
	}
	return &s, nil
}

func (r *RedisSessionRepository) Save(ctx context.Context, s *models.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, sessionKey(s.ChatID), data, r.ttl).Err()
}

func (r *RedisSessionRepository) Delete(ctx context.Context, chatID int64) error {
	return r.client.Del(ctx, sessionKey(chatID)).Err()
}

// MemorySessionRepository keeps sessions in process memory.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[int64]*models.Session
	ttl      time.Duration
}

func NewMemorySessionRepository(ttl time.Duration) *MemorySessionRepository {
	return &MemorySessionRepository{sessions: make(map[int64]*models.Session), ttl: ttl}
}

func (m *MemorySessionRepository) Get(ctx context.Context, chatID int64) (*models.Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[chatID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if s.IsExpired(m.ttl) {
		_ = m.Delete(ctx, chatID)
		return nil, nil
	}
	return copySession(s), nil
}

func (m *MemorySessionRepository) Save(ctx context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ChatID] = copySession(s)
	return nil
}

func (m *MemorySessionRepository) Delete(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, chatID)
	return nil
}

// Cleanup drops expired sessions.
func (m *MemorySessionRepository) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.IsExpired(m.ttl) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func copySession(s *models.Session) *models.Session {
	c := *s
	c.Current = s.Current.Clone()
	c.Draft = s.Draft.Clone()
	return &c
}
