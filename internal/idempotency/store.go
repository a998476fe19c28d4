// Package idempotency remembers which prediction a client-supplied
// Idempotency-Key produced, so a retried submission replays instead of
// creating a second remote job.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"meshrelay/internal/domain"
	"meshrelay/internal/infra"
)

const (
	defaultPrefix = "meshrelay:idem:"
	pendingMarker = "\x00pending"
	// pendingTTL bounds how long a crashed submission blocks its key.
	pendingTTL = 5 * time.Minute
)

// Store tracks idempotency keys through reserve, complete and release.
type Store interface {
	// Reserve claims key. It returns the prediction id when key already
	// completed, and a conflict error while another submission holds it.
	Reserve(ctx context.Context, key string) (string, error)
	Complete(ctx context.Context, key, predictionID string) error
	// Release frees a reservation whose submission failed.
	Release(ctx context.Context, key string) error
}

func inFlight() error {
	return domain.NewError(domain.KindConflict, domain.ErrDuplicateOperation, "A request with this Idempotency-Key is already in progress")
}

// hashKey bounds key length and keeps client input out of Redis key names.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// RedisStore keeps keys in Redis so replays work across instances.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedisStore(client *redis.Client, ttl time.Duration, logger *infra.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, prefix: defaultPrefix, ttl: ttl, logger: infra.LoggerOrDiscard(logger)}
}

func (s *RedisStore) Reserve(ctx context.Context, key string) (string, error) {
	redisKey := s.prefix + hashKey(key)
	ok, err := s.client.SetNX(ctx, redisKey, pendingMarker, pendingTTL).Result()
	if err != nil {
		return "", fmt.Errorf("idempotency: reserve: %w", err)
	}
	if ok {
		return "", nil
	}
	val, err := s.client.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls; try once more.
		ok, err = s.client.SetNX(ctx, redisKey, pendingMarker, pendingTTL).Result()
		if err != nil {
			return "", fmt.Errorf("idempotency: reserve: %w", err)
		}
		if ok {
			return "", nil
		}
		return "", inFlight()
	}
	if err != nil {
		return "", fmt.Errorf("idempotency: lookup: %w", err)
	}
	if val == pendingMarker {
		return "", inFlight()
	}
	s.logger.Debug().Str("prediction_id", val).Msg("idempotency key replayed")
	return val, nil
}

func (s *RedisStore) Complete(ctx context.Context, key, predictionID string) error {
	if err := s.client.Set(ctx, s.prefix+hashKey(key), predictionID, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: complete: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+hashKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

// MemoryStore is a single-process Store used when no Redis is configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (s *MemoryStore) Reserve(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.evictLocked(now)
	k := hashKey(key)
	if e, ok := s.entries[k]; ok {
		if e.value == pendingMarker {
			return "", inFlight()
		}
		return e.value, nil
	}
	s.entries[k] = memoryEntry{value: pendingMarker, expiresAt: now.Add(pendingTTL)}
	return "", nil
}

func (s *MemoryStore) Complete(ctx context.Context, key, predictionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[hashKey(key)] = memoryEntry{value: predictionID, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, hashKey(key))
	return nil
}

func (s *MemoryStore) evictLocked(now time.Time) {
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}
