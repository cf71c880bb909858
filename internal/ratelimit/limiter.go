// Package ratelimit provides keyed token-bucket rate limiting for token
// issuance (per client IP) and client requests (per connection).
package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Config configures rate limiting behavior.
type Config struct {
	// PerMinute is the sustained number of requests allowed per minute.
	PerMinute int `yaml:"per_minute"`
	// Burst is the bucket capacity. Defaults to PerMinute.
	Burst int `yaml:"burst"`
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled"`
}

// TokenConfig is the default limit for POST /token.
func TokenConfig() Config {
	return Config{PerMinute: 5, Enabled: true}
}

// RequestConfig is the default limit for client_request events.
func RequestConfig() Config {
	return Config{PerMinute: 150, Enabled: true}
}

// Bucket implements token bucket rate limiting.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewBucket creates a full bucket.
func NewBucket(config Config) *Bucket {
	return newBucket(config, time.Now)
}

func newBucket(config Config, now func() time.Time) *Bucket {
	if config.PerMinute <= 0 {
		config.PerMinute = 60
	}
	if config.Burst <= 0 {
		config.Burst = config.PerMinute
	}
	return &Bucket{
		tokens:     float64(config.Burst),
		maxTokens:  float64(config.Burst),
		refillRate: float64(config.PerMinute) / 60,
		lastRefill: now(),
		now:        now,
	}
}

// Allow consumes a token if one is available.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// refill must be called with the lock held.
func (b *Bucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.lastRefill = now
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// Tokens returns the current number of available tokens.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// WaitTime returns how long until the next request would be allowed.
func (b *Bucket) WaitTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		return 0
	}
	seconds := (1 - b.tokens) / b.refillRate
	return time.Duration(seconds * float64(time.Second))
}

// Limiter manages one bucket per key (client IP, connection id).
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*Bucket
	config  Config
	maxKeys int
	now     func() time.Time
}

// NewLimiter creates a keyed limiter.
func NewLimiter(config Config) *Limiter {
	return &Limiter{
		buckets: make(map[string]*Bucket),
		config:  config,
		maxKeys: 10000,
		now:     time.Now,
	}
}

// Allow reports whether a request for key is within its limit.
func (l *Limiter) Allow(key string) bool {
	if l == nil || !l.config.Enabled {
		return true
	}
	return l.getBucket(key).Allow()
}

func (l *Limiter) getBucket(key string) *Bucket {
	l.mu.RLock()
	bucket, exists := l.buckets[key]
	l.mu.RUnlock()
	if exists {
		return bucket
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if bucket, exists = l.buckets[key]; exists {
		return bucket
	}
	if len(l.buckets) >= l.maxKeys {
		l.pruneLocked()
	}
	bucket = newBucket(l.config, l.now)
	l.buckets[key] = bucket
	return bucket
}

// Prune drops buckets that have refilled to capacity and returns how many
// were removed.
func (l *Limiter) Prune() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked()
}

func (l *Limiter) pruneLocked() int {
	removed := 0
	for key, bucket := range l.buckets {
		if bucket.Tokens() >= bucket.maxTokens {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// WaitTime returns how long key must wait before its next request.
func (l *Limiter) WaitTime(key string) time.Duration {
	if l == nil || !l.config.Enabled {
		return 0
	}
	return l.getBucket(key).WaitTime()
}

// Reset forgets the bucket for a key, e.g. when a connection closes.
func (l *Limiter) Reset(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

// CompositeKey joins key parts with ':'.
func CompositeKey(parts ...string) string {
	return strings.Join(parts, ":")
}
