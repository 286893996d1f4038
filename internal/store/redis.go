package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// RosterCache caches rendered roster payloads per camp day. The store is the
// source of truth; every attendance mutation deletes the day's entry before
// returning, so a cached read is at worst one refresh behind, never stale
// past a write.
type RosterCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRosterCache builds a cache with the given entry TTL.
func NewRosterCache(client *redis.Client, ttl time.Duration) *RosterCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RosterCache{client: client, ttl: ttl}
}

func rosterKey(campDayID string) string { return "camphq:roster:" + campDayID }

// Get returns the cached roster JSON, or ok=false on miss or redis trouble.
func (c *RosterCache) Get(ctx context.Context, campDayID string) ([]byte, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	val, err := c.client.Get(ctx, rosterKey(campDayID)).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

// Set stores the rendered roster. Best effort.
func (c *RosterCache) Set(ctx context.Context, campDayID string, payload []byte) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Set(ctx, rosterKey(campDayID), payload, c.ttl).Err()
}

// Invalidate drops the day's cached roster. Called synchronously on every
// attendance mutation.
func (c *RosterCache) Invalidate(ctx context.Context, campDayID string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, rosterKey(campDayID)).Err()
}
