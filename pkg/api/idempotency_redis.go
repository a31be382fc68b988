package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyPrefix = "verifiquant:idem:"

// RedisIdempotencyStore shares replayable responses across replicas.
// Redis failures degrade to a cache miss.
type RedisIdempotencyStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisIdempotencyStore(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisIdempotencyStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisIdempotencyStore{client: client, ttl: ttl, logger: logger.With("component", "idempotency")}
}

func (s *RedisIdempotencyStore) Check(ctx context.Context, key string) (*cachedResponse, bool) {
	data, err := s.client.Get(ctx, idempotencyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.WarnContext(ctx, "idempotency lookup failed", "error", err)
		}
		return nil, false
	}
	var c cachedResponse
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, false
	}
	return &c, true
}

func (s *RedisIdempotencyStore) Set(ctx context.Context, key string, statusCode int, headers http.Header, body []byte) {
	data, err := json.Marshal(cachedResponse{StatusCode: statusCode, Headers: headers, Body: body, CachedAt: time.Now().UTC()})
	if err != nil {
		return
	}
	// SetNX keeps the first response when two replicas race on one key.
	if err := s.client.SetNX(ctx, idempotencyPrefix+key, data, s.ttl).Err(); err != nil {
		s.logger.WarnContext(ctx, "idempotency store failed", "key", key, "error", err)
	}
}
