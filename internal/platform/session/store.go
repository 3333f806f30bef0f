package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hanko-field/cartengine/internal/platform/redisx"
)

const cartKeySegment = "session-cart"

var errSessionIDRequired = errors.New("session: session id is required")

// MemoryStore keeps session to cart number mappings in process. Entries expire after the TTL.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	number    string
	expiresAt time.Time
}

// NewMemoryStore constructs an in-process store. A non-positive ttl keeps entries forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) CartNumber(_ context.Context, sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[sessionID]
	if !ok {
		return "", nil
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries, sessionID)
		return "", nil
	}
	return entry.number, nil
}

func (s *MemoryStore) RememberCart(_ context.Context, sessionID, number string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errSessionIDRequired
	}
	entry := memoryEntry{number: strings.TrimSpace(number)}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}
	s.mu.Lock()
	s.entries[sessionID] = entry
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ForgetCart(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.entries, strings.TrimSpace(sessionID))
	s.mu.Unlock()
	return nil
}

type redisClient interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// RedisStore keeps session to cart number mappings in Redis so every instance sees the same cart.
type RedisStore struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps a Redis client. Keys live under prefix and expire after ttl.
func NewRedisStore(client redisClient, prefix string, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("session: redis client is required")
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}, nil
}

func (s *RedisStore) CartNumber(ctx context.Context, sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", nil
	}
	number, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return number, nil
}

func (s *RedisStore) RememberCart(ctx context.Context, sessionID, number string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errSessionIDRequired
	}
	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, s.key(sessionID), strings.TrimSpace(number), ttl).Err()
}

func (s *RedisStore) ForgetCart(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

func (s *RedisStore) key(sessionID string) string {
	return redisx.Key(s.prefix, cartKeySegment, sessionID)
}
