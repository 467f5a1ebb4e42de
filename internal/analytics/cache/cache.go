// Package cache stores chart results in Redis. Keys are a SHA-256 of the
// chart name and its normalized parameters, and concurrent misses for the
// same key are collapsed into one backend query.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	pkgredis "github.com/ThaoDoan2/ElasticClient/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "chart:"

// Backend is the subset of the Redis client the cache uses.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
	CountByPattern(ctx context.Context, pattern string) (int64, error)
}

// Stats is the body of the cache stats endpoint.
type Stats struct {
	Enabled bool    `json:"enabled"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hitRate"`
	Keys    int64   `json:"keys"`
	TTL     string  `json:"ttl"`
}

type ChartCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(backend Backend, ttl time.Duration) *ChartCache {
	return &ChartCache{
		backend: backend,
		ttl:     ttl,
		logger:  slog.Default().With("component", "chart-cache"),
	}
}

// Key derives the storage key for a chart and its normalized parameters.
func Key(chart, params string) string {
	hash := sha256.Sum256([]byte(chart + "|" + params))
	return fmt.Sprintf("%s%s:%x", keyPrefix, chart, hash[:16])
}

// Get returns the cached bytes for key. Backend errors count as misses.
func (c *ChartCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "key", key)
	return data, true
}

func (c *ChartCache) Set(ctx context.Context, key string, data []byte) {
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached value for key, or runs compute once
// across concurrent callers and stores its result. The bool reports a hit.
// compute runs detached from the caller's cancellation so one abandoned
// request does not fail the others waiting on the same key; compute is
// expected to apply its own deadline.
func (c *ChartCache) GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {
	if data, ok := c.Get(ctx, key); ok {
		return data, true, nil
	}
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// a previous flight may have filled the key since the first lookup
		if data, err := c.backend.Get(detached, key); err == nil {
			return data, nil
		}
		data, err := compute(detached)
		if err != nil {
			return nil, err
		}
		c.Set(detached, key, data)
		return data, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]byte), false, nil
	}
}

// Invalidate drops every chart entry and returns how many were removed.
func (c *ChartCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return deleted, nil
}

func (c *ChartCache) Stats(ctx context.Context) Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	s := Stats{Enabled: true, Hits: hits, Misses: misses, TTL: c.ttl.String()}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	keys, err := c.backend.CountByPattern(ctx, keyPrefix+"*")
	if err != nil {
		c.logger.Warn("cache key count failed", "error", err)
	}
	s.Keys = keys
	return s
}
