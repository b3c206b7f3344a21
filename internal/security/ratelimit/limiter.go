// Package ratelimit implements the token-bucket stage of the security
// gate: one bucket per client key over a sharded map, with per-key
// config overrides on top of a default.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Config describes one bucket's refill behavior.
// rate = RequestsPerWindow / WindowSecs tokens per second;
// capacity = RequestsPerWindow + Burst.
type Config struct {
	RequestsPerWindow float64 `yaml:"requests_per_window"`
	WindowSecs        float64 `yaml:"window_secs"`
	Burst             float64 `yaml:"burst"`
}

// DefaultConfig allows 100 requests per minute with a burst of 10.
func DefaultConfig() Config {
	return Config{RequestsPerWindow: 100, WindowSecs: 60, Burst: 10}
}

func (c Config) rate() float64 {
	if c.WindowSecs <= 0 {
		return c.RequestsPerWindow
	}
	return c.RequestsPerWindow / c.WindowSecs
}

func (c Config) capacity() float64 {
	return c.RequestsPerWindow + c.Burst
}

// Result is the outcome of one check.
type Result struct {
	Allowed      bool  `json:"allowed"`
	Remaining    int64 `json:"remaining"`
	Limit        int64 `json:"limit"`
	ResetAfterMS int64 `json:"reset_after_ms"`
	RetryAfterMS int64 `json:"retry_after_ms,omitempty"`
}

// bucket is the per-key token state. Buckets start full, so a process
// restart resets every client to a full allowance.
type bucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
	cfg    Config
}

func newBucket(cfg Config, now time.Time) *bucket {
	return &bucket{tokens: cfg.capacity(), last: now, cfg: cfg}
}

// refill adds tokens for the elapsed time, capped at capacity.
// Caller holds b.mu.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	b.tokens = math.Min(b.tokens+elapsed*b.cfg.rate(), b.cfg.capacity())
	b.last = now
}

// consume attempts to take cost tokens. Caller holds b.mu.
func (b *bucket) consume(cost float64, now time.Time) Result {
	b.refill(now)

	limit := int64(b.cfg.RequestsPerWindow)
	rate := b.cfg.rate()

	if b.tokens >= cost {
		b.tokens -= cost
		needed := b.cfg.capacity() - b.tokens
		var resetMS int64
		if rate > 0 {
			resetMS = int64(needed / rate * 1000)
		}
		return Result{
			Allowed:      true,
			Remaining:    int64(b.tokens),
			Limit:        limit,
			ResetAfterMS: resetMS,
		}
	}

	var retryMS int64
	if rate > 0 {
		retryMS = int64(math.Ceil((cost - b.tokens) / rate * 1000))
	}
	return Result{
		Allowed:      false,
		Remaining:    0,
		Limit:        limit,
		ResetAfterMS: int64(b.cfg.WindowSecs * 1000),
		RetryAfterMS: retryMS,
	}
}

// Limiter holds per-key buckets and config overrides.
type Limiter struct {
	defaultCfg Config
	buckets    *shardedMap[*bucket]

	overrideMu sync.RWMutex
	overrides  map[string]Config

	now func() time.Time
}

// New creates a limiter with the given default bucket config.
func New(defaultCfg Config) *Limiter {
	return &Limiter{
		defaultCfg: defaultCfg,
		buckets:    newShardedMap[*bucket](),
		overrides:  make(map[string]Config),
		now:        time.Now,
	}
}

// SetKeyConfig installs a per-key config override. It applies to
// buckets created after the call.
func (l *Limiter) SetKeyConfig(key string, cfg Config) {
	l.overrideMu.Lock()
	l.overrides[key] = cfg
	l.overrideMu.Unlock()
}

func (l *Limiter) configFor(key string) Config {
	l.overrideMu.RLock()
	cfg, ok := l.overrides[key]
	l.overrideMu.RUnlock()
	if ok {
		return cfg
	}
	return l.defaultCfg
}

// Check consumes one token for key.
func (l *Limiter) Check(key string) Result {
	return l.CheckN(key, 1)
}

// CheckN consumes cost tokens for key. Bucket lookup is shard-local;
// the refill-and-consume critical section is bucket-local.
func (l *Limiter) CheckN(key string, cost float64) Result {
	now := l.now()

	s := l.buckets.getShard(key)
	s.mu.Lock()
	b, ok := s.items[key]
	if !ok {
		b = newBucket(l.configFor(key), now)
		s.items[key] = b
	}
	s.mu.Unlock()

	b.mu.Lock()
	res := b.consume(cost, now)
	b.mu.Unlock()
	return res
}

// State reports the current bucket state for key without consuming
// tokens. Returns false if no bucket exists yet.
func (l *Limiter) State(key string) (Result, bool) {
	b, ok := l.buckets.get(key)
	if !ok {
		return Result{}, false
	}
	b.mu.Lock()
	b.refill(l.now())
	res := Result{
		Allowed:   true,
		Remaining: int64(b.tokens),
		Limit:     int64(b.cfg.RequestsPerWindow),
	}
	b.mu.Unlock()
	return res, true
}

// Cleanup evicts buckets idle longer than maxIdle. Returns the number
// of evicted buckets.
func (l *Limiter) Cleanup(maxIdle time.Duration) int {
	cutoff := l.now()
	return l.buckets.deleteFunc(func(_ string, b *bucket) bool {
		b.mu.Lock()
		idle := cutoff.Sub(b.last)
		b.mu.Unlock()
		return idle > maxIdle
	})
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	return l.buckets.len()
}

// StartCleanup runs Cleanup on an interval until stop is closed.
func (l *Limiter) StartCleanup(interval, maxIdle time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Cleanup(maxIdle)
			case <-stop:
				return
			}
		}
	}()
}
