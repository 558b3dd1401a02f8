package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"
)

const (
	// KeyPrefix prefixes every progress cache key.
	KeyPrefix = "job_status:"
	// GenerationPrefix prefixes the per-job invalidation counters.
	GenerationPrefix = "job_status_gen:"
	// DefaultTTL is how long a progress snapshot is served before reloading.
	DefaultTTL = 300 * time.Second
	// DefaultOpTimeout bounds each KV call.
	DefaultOpTimeout = 250 * time.Millisecond
)

// Key returns the cache key for a job.
func Key(jobID string) string {
	return KeyPrefix + jobID
}

// GenerationKey returns the key of the invalidation counter for a job.
func GenerationKey(jobID string) string {
	return GenerationPrefix + jobID
}

// entry is the stored form of a snapshot. Gen is the job's invalidation
// counter read before the snapshot was loaded; an entry whose Gen is behind
// the counter was loaded before the last invalidate and is never served.
type entry[T any] struct {
	Gen   int64 `json:"gen"`
	Value *T    `json:"value"`
}

// Loader builds the value for a job from the backing store.
type Loader[T any] func(ctx context.Context, jobID string) (*T, error)

// ProgressCacheConfig configures a ProgressCache.
type ProgressCacheConfig struct {
	KV        KV            // nil disables caching
	TTL       time.Duration // default DefaultTTL
	OpTimeout time.Duration // default DefaultOpTimeout
	Logger    *slog.Logger
}

// ProgressCache is a read-through cache of JSON snapshots keyed by job ID.
// KV failures never fail a read; they are logged and the loader is used.
type ProgressCache[T any] struct {
	kv        KV
	ttl       time.Duration
	opTimeout time.Duration
	load      Loader[T]
	logger    *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewProgressCache creates a cache in front of load.
func NewProgressCache[T any](cfg ProgressCacheConfig, load Loader[T]) *ProgressCache[T] {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ProgressCache[T]{
		kv:        cfg.KV,
		ttl:       cfg.TTL,
		opTimeout: cfg.OpTimeout,
		load:      load,
		logger:    cfg.Logger,
	}
}

// Get returns the cached snapshot for jobID, loading and caching it on a miss.
// Loader errors are returned and nothing is cached.
func (c *ProgressCache[T]) Get(ctx context.Context, jobID string) (*T, error) {
	if c.kv == nil {
		return c.load(ctx, jobID)
	}

	gen, err := c.generation(ctx, jobID)
	if err != nil {
		c.logger.Warn("progress cache read failed, using store", "job_id", jobID, "error", err)
		c.misses.Add(1)
		return c.load(ctx, jobID)
	}

	key := Key(jobID)
	kctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	b, ok, err := c.kv.Get(kctx, key)
	cancel()
	switch {
	case err != nil:
		c.logger.Warn("progress cache read failed, using store", "job_id", jobID, "error", err)
		c.misses.Add(1)
		return c.load(ctx, jobID)
	case ok:
		var e entry[T]
		err := json.Unmarshal(b, &e)
		if err == nil && e.Value != nil && e.Gen == gen {
			c.hits.Add(1)
			return e.Value, nil
		}
		if err != nil {
			c.logger.Warn("progress cache entry corrupt, reloading", "job_id", jobID, "error", err)
		}
	}

	c.misses.Add(1)
	v, err := c.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(entry[T]{Gen: gen, Value: v}); err != nil {
		c.logger.Warn("progress cache encode failed", "job_id", jobID, "error", err)
	} else {
		kctx, cancel := context.WithTimeout(ctx, c.opTimeout)
		defer cancel()
		if err := c.kv.Set(kctx, key, b, c.ttl); err != nil {
			c.logger.Warn("progress cache write failed", "job_id", jobID, "error", err)
		}
	}
	return v, nil
}

// Invalidate bumps the job's generation and drops its snapshot, so neither
// the stored entry nor one being loaded concurrently is served again.
// Errors are logged, not returned.
func (c *ProgressCache[T]) Invalidate(ctx context.Context, jobID string) {
	if c.kv == nil {
		return
	}
	kctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	// The counter outlives every entry stamped with an earlier value.
	if _, err := c.kv.Incr(kctx, GenerationKey(jobID), 2*c.ttl); err != nil {
		c.logger.Warn("progress cache generation bump failed", "job_id", jobID, "error", err)
	}
	if err := c.kv.Delete(kctx, Key(jobID)); err != nil {
		c.logger.Warn("progress cache invalidate failed", "job_id", jobID, "error", err)
	}
}

func (c *ProgressCache[T]) generation(ctx context.Context, jobID string) (int64, error) {
	kctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	b, ok, err := c.kv.Get(kctx, GenerationKey(jobID))
	if err != nil || !ok {
		return 0, err
	}
	gen, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid generation %q: %w", b, err)
	}
	return gen, nil
}

// Stats returns hit and miss counts.
func (c *ProgressCache[T]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
