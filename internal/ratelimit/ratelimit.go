// Package ratelimit implements the Rate Limiter (component E): a
// per-(listener, client-IP) token bucket with a ban window, backed by
// golang.org/x/time/rate (a teacher direct dependency) for the refill
// math and hashicorp/golang-lru/v2 (grounded on wudi-gateway's use of the
// same package for gateway-side bounded caches) for the size-bounded,
// LRU-evicted bucket and ban tables §4.E and §9 require.
package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
)

const defaultTableSize = 4096

// Decision is the outcome of checking one request against the limiter.
type Decision int

const (
	// Allow means the request may proceed.
	Allow Decision = iota
	// Denied means the bucket had insufficient tokens.
	Denied
	// Banned means the client is within its ban window and was
	// rejected without consuming a token (§4.E).
	Banned
)

type bucketKey struct {
	listener string
	clientIP string
}

// Limiter enforces one RateLimitConfig across all clients of a listener.
type Limiter struct {
	cfg config.RateLimitConfig

	mu      sync.Mutex
	buckets *lru.Cache[bucketKey, *rate.Limiter]
	bans    *lru.Cache[bucketKey, time.Time]
}

// New builds a Limiter for the given rule-level policy.
func New(cfg config.RateLimitConfig) *Limiter {
	buckets, _ := lru.New[bucketKey, *rate.Limiter](defaultTableSize)
	bans, _ := lru.New[bucketKey, time.Time](defaultTableSize)
	return &Limiter{cfg: cfg, buckets: buckets, bans: bans}
}

// Allow deducts a token for (listener, clientIP) if available, applying
// and checking the ban window along the way. Clock source is
// time.Now(), which is backed by the runtime's monotonic reading (§4.E).
func (l *Limiter) Allow(listener, clientIP string) Decision {
	key := bucketKey{listener: listener, clientIP: clientIP}

	l.mu.Lock()
	if until, ok := l.bans.Get(key); ok {
		if time.Now().Before(until) {
			l.mu.Unlock()
			return Banned
		}
		l.bans.Remove(key)
	}
	l.mu.Unlock()

	lim := l.bucketFor(key)
	if lim.Allow() {
		return Allow
	}

	if l.cfg.BanSeconds > 0 {
		l.mu.Lock()
		l.bans.Add(key, time.Now().Add(time.Duration(l.cfg.BanSeconds)*time.Second))
		l.mu.Unlock()
	}
	return Denied
}

func (l *Limiter) bucketFor(key bucketKey) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.buckets.Get(key); ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)
	l.buckets.Add(key, lim)
	return lim
}
