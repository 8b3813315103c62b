// Package cache stores List results in Redis keyed by the served snapshot's
// content fingerprint, so a swap makes every older entry unreachable and
// replicas serving the same index share entries. Concurrent
// misses for the same key are collapsed with singleflight, and Redis calls go
// through a circuit breaker so an unhealthy Redis only disables caching.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/resilience"
)

const keyPrefix = "catalog:list:"

// Backend is the key-value store behind the cache. *redis.Client satisfies
// it.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a QueryCache. m may be nil.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		breaker: resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			OnStateChange: func(name string, to resilience.State) {
				m.SetBreakerState(name, int(to))
			},
		}),
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Key builds the cache key for a List call against the snapshot with the
// given fingerprint.
func Key(fingerprint string, f query.Filter, page int) string {
	raw := fmt.Sprintf("snap=%s|page=%d|%s", fingerprint, page, f.Key())
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

func (c *QueryCache) get(ctx context.Context, key string) (*query.Page, bool) {
	var data []byte
	var found bool
	err := c.breaker.Execute(func() error {
		var err error
		data, found, err = c.backend.Get(ctx, key)
		return err
	})
	if err != nil {
		c.logger.Debug("cache get skipped", "key", key, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var page query.Page
	if err := json.Unmarshal(data, &page); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return &page, true
}

func (c *QueryCache) set(ctx context.Context, key string, page *query.Page) {
	data, err := json.Marshal(page)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.backend.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Debug("cache set skipped", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached page for key or computes, stores and
// returns it. The boolean reports a cache hit. Errors from compute are
// returned and never cached.
func (c *QueryCache) GetOrCompute(ctx context.Context, key string, compute func() (*query.Page, error)) (*query.Page, bool, error) {
	if page, ok := c.get(ctx, key); ok {
		c.record(true)
		return page, true, nil
	}
	c.record(false)
	val, err, _ := c.group.Do(key, func() (any, error) {
		if page, ok := c.get(ctx, key); ok {
			return page, nil
		}
		page, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, page)
		return page, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*query.Page), false, nil
}

// Invalidate removes every cached page.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	var deleted int64
	err := c.breaker.Execute(func() error {
		var err error
		deleted, err = c.backend.DeleteByPrefix(ctx, keyPrefix)
		return err
	})
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns the hit and miss counts since start.
func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) record(hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	c.metrics.CacheResult(hit)
}
