// Package selector implements the Upstream Selector (component D):
// weighted round-robin for HTTP/WS and consistent hashing by client
// address for Stream, plus the passive-failure bookkeeping shared by
// both, grounded on caddyhttp/proxy/policy.go's Policy/HostPool pattern
// and upstream.go's MaxFails/FailTimeout fields.
package selector

import (
	"sync"
	"time"
)

// FailureTracker records passive upstream failures and excludes a member
// until its ban expires. Exclusion is bounded (§4.D, §9): if every member
// of a pool is currently banned, the one whose ban expires soonest is
// returned as eligible anyway, so the selector never deadlocks with zero
// candidates.
type FailureTracker struct {
	mu     sync.Mutex
	banned map[string]time.Time // member key -> ban-until
}

// NewFailureTracker constructs an empty tracker.
func NewFailureTracker() *FailureTracker {
	return &FailureTracker{banned: make(map[string]time.Time)}
}

// MarkFailed bans member until failTimeout elapses.
func (t *FailureTracker) MarkFailed(member string, failTimeout time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.banned[member] = time.Now().Add(failTimeout)
}

// Available reports whether member is not currently banned.
func (t *FailureTracker) Available(member string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.banned[member]
	if !ok {
		return true
	}
	if time.Now().After(until) {
		delete(t.banned, member)
		return true
	}
	return false
}

// Filter partitions candidates into available members, or - if all are
// currently banned - the single member whose ban expires soonest, so
// liveness is never fully lost.
func (t *FailureTracker) Filter(candidates []string) []string {
	var avail []string
	for _, c := range candidates {
		if t.Available(c) {
			avail = append(avail, c)
		}
	}
	if len(avail) > 0 {
		return avail
	}
	if len(candidates) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	best := candidates[0]
	bestUntil := t.banned[best]
	for _, c := range candidates[1:] {
		if u, ok := t.banned[c]; ok && u.Before(bestUntil) {
			best, bestUntil = c, u
		}
	}
	return []string{best}
}
