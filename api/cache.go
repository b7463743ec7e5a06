/*
cache.go - Capacity grid read cache

PURPOSE:
  GET /api/capacity is the hottest read and the grid only changes when a
  reservation moves in or out of an occupying status or the policy changes.
  Grids are cached in Redis under a generation number; any write bumps the
  generation, so stale entries are never read again and simply expire.

KEYS:
  capacity:gen                                   generation counter (INCR)
  capacity:grid:<gen>:<policy>:<from>:<to>       JSON CapacityResponse, TTL

CONSISTENCY:
  The grid is a recent snapshot, never a source of truth. Booking decisions
  always re-count occupancy inside the write transaction.

NIL SAFETY:
  A nil *CapacityCache (Redis not configured) is a valid, always-missing
  cache. Redis errors degrade to misses and are logged at Warn.
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	capacityGenKey    = "capacity:gen"
	capacityKeyPrefix = "capacity:grid"
)

// redisClient is the subset of *redis.Client the cache needs.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

type CapacityCache struct {
	client redisClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewCapacityCache wraps a Redis client. A nil client returns a nil cache.
func NewCapacityCache(client redisClient, ttl time.Duration, logger *slog.Logger) *CapacityCache {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CapacityCache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached grid, if present, and the key a miss should be
// filled under. The key carries the generation seen now, so a grid computed
// after this call is never stored under a later generation.
func (c *CapacityCache) Get(ctx context.Context, policyVersion int, from, to time.Time) (CapacityResponse, string, bool) {
	if c == nil {
		return CapacityResponse{}, "", false
	}
	key, err := c.key(ctx, policyVersion, from, to)
	if err != nil {
		return CapacityResponse{}, "", false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("capacity cache read failed", "key", key, "error", err)
		}
		return CapacityResponse{}, key, false
	}
	var resp CapacityResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return CapacityResponse{}, key, false
	}
	return resp, key, true
}

// Put stores a grid under the key Get returned. An empty key is ignored.
func (c *CapacityCache) Put(ctx context.Context, key string, resp CapacityResponse) {
	if c == nil || key == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("capacity cache write failed", "key", key, "error", err)
	}
}

// Invalidate retires every cached grid.
func (c *CapacityCache) Invalidate(ctx context.Context) {
	if c == nil {
		return
	}
	if err := c.client.Incr(ctx, capacityGenKey).Err(); err != nil {
		c.logger.Warn("capacity cache invalidation failed", "error", err)
	}
}

func (c *CapacityCache) key(ctx context.Context, policyVersion int, from, to time.Time) (string, error) {
	gen, err := c.client.Get(ctx, capacityGenKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("capacity cache generation read failed", "error", err)
		return "", err
	}
	return fmt.Sprintf("%s:%d:%d:%d:%d", capacityKeyPrefix, gen, policyVersion, from.Unix(), to.Unix()), nil
}
