package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const refreshTokenPrefix = "refresh_token:"

// TokenStore persists refresh tokens so they can be rotated and revoked.
type TokenStore interface {
	Save(ctx context.Context, token string, ttl time.Duration) error
	Exists(ctx context.Context, token string) (bool, error)
	Revoke(ctx context.Context, token string) error
}

// RedisTokenStore keeps refresh tokens in Redis with a TTL matching the
// token lifetime.
type RedisTokenStore struct {
	client redis.UniversalClient
}

// NewRedisTokenStore creates a Redis-backed token store
func NewRedisTokenStore(client redis.UniversalClient) *RedisTokenStore {
	return &RedisTokenStore{client: client}
}

func (s *RedisTokenStore) Save(ctx context.Context, token string, ttl time.Duration) error {
	return s.client.Set(ctx, refreshTokenPrefix+token, "1", ttl).Err()
}

func (s *RedisTokenStore) Exists(ctx context.Context, token string) (bool, error) {
	n, err := s.client.Exists(ctx, refreshTokenPrefix+token).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisTokenStore) Revoke(ctx context.Context, token string) error {
	return s.client.Del(ctx, refreshTokenPrefix+token).Err()
}

// MemoryTokenStore is a process-local fallback used when Redis is not
// configured. Tokens do not survive a restart.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]time.Time
}

// NewMemoryTokenStore creates an in-memory token store
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]time.Time)}
}

func (s *MemoryTokenStore) Save(_ context.Context, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = time.Now().Add(ttl)
	return nil
}

func (s *MemoryTokenStore) Exists(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.tokens[token]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(s.tokens, token)
		return false, nil
	}
	return true, nil
}

func (s *MemoryTokenStore) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}
