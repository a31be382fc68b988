package resolver

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

// RedisCache fronts another resolver with a read-through Redis cache. Only
// bound values are cached; a missing name is asked for again next time.
// Redis faults degrade to the underlying resolver.
type RedisCache struct {
	client redis.UniversalClient
	next   DataResolver
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewRedisCache(client redis.UniversalClient, next DataResolver, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		client: client,
		next:   next,
		ttl:    ttl,
		prefix: "verifiquant:binding:",
		logger: logger.With("component", "resolver_cache"),
	}
}

// NewRedisClient opens a client for addr.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func (c *RedisCache) key(name string) string { return c.prefix + name }

func (c *RedisCache) Resolve(ctx context.Context, names []string) (contracts.Resolution, error) {
	query := dedupe(names)
	out := newResolution(len(query))
	if len(query) == 0 {
		return out, nil
	}

	keys := make([]string, len(query))
	for i, n := range query {
		keys[i] = c.key(n)
	}

	pending := query
	cached, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("cache read failed", "error", err)
	} else {
		pending = nil
		for i, raw := range cached {
			s, ok := raw.(string)
			var b contracts.Binding
			if !ok || json.Unmarshal([]byte(s), &b) != nil || b.Provenance.IsZero() {
				pending = append(pending, query[i])
				continue
			}
			out.Bound[query[i]] = b
		}
	}

	if len(pending) > 0 {
		res, err := c.next.Resolve(ctx, pending)
		if err != nil {
			return contracts.Resolution{}, err
		}
		c.store(ctx, res.Bound)
		for name, b := range res.Bound {
			out.Bound[name] = b
		}
	}

	out.Missing = missingFrom(names, out.Bound)
	return out, nil
}

func (c *RedisCache) store(ctx context.Context, bound map[string]contracts.Binding) {
	if len(bound) == 0 {
		return
	}
	pipe := c.client.Pipeline()
	for name, b := range bound {
		data, err := json.Marshal(b)
		if err != nil {
			continue
		}
		pipe.Set(ctx, c.key(name), data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("cache write failed", "error", err)
	}
}
