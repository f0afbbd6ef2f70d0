// Package access implements Access Control (component F): blacklist deny,
// LAN/public allow, and whitelist allow, with a copy-on-write blacklist
// cache and a periodic expiry sweep, grounded on caddytls/config.go's
// certCache locking pattern and on the teacher's general preference for
// atomic snapshots over locked read paths (caddy.go's Config publication).
package access

import (
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
	"github.com/userfhy/SSLProxyManager-Tauri/internal"
)

// Decision is the access-control verdict for one client.
type Decision int

const (
	Allow Decision = iota
	Deny
)

// Protocol selects which *_enabled toggle gates the check.
type Protocol int

const (
	HTTP Protocol = iota
	WS
	Stream
)

// Controller evaluates access decisions against one AccessConfig
// snapshot. It is safe for concurrent use; Decide never blocks on the
// blacklist mutation path because readers always see a complete,
// immutable snapshot (§4.F, §5).
type Controller struct {
	cfg       config.AccessConfig
	blacklist atomic.Pointer[map[string]config.BlacklistEntry]
	log       *zap.Logger

	sweepStop chan struct{}
}

// New builds a Controller from a validated AccessConfig and starts its
// background blacklist sweep.
func New(cfg config.AccessConfig) *Controller {
	c := &Controller{cfg: cfg, sweepStop: make(chan struct{})}
	snap := toMap(cfg.Blacklist)
	c.blacklist.Store(&snap)
	go c.sweepLoop(30 * time.Second)
	return c
}

// Close stops the background sweep.
func (c *Controller) Close() { close(c.sweepStop) }

// WithLogger attaches a logger the sweep uses to report what it evicts.
// Optional: a Controller with no logger sweeps silently.
func (c *Controller) WithLogger(log *zap.Logger) *Controller {
	c.log = log
	return c
}

func toMap(entries []config.BlacklistEntry) map[string]config.BlacklistEntry {
	m := make(map[string]config.BlacklistEntry, len(entries))
	for _, e := range entries {
		m[e.IP] = e
	}
	return m
}

// Decide applies the §4.F decision order: disabled toggle -> allow
// everything; active blacklist entry -> deny; allow_all_public -> allow;
// LAN address with allow_all_lan -> allow; whitelist match -> allow;
// otherwise deny.
func (c *Controller) Decide(proto Protocol, ip net.IP) Decision {
	if !c.enabledFor(proto) {
		return Allow
	}

	if c.isBlacklisted(ip) {
		return Deny
	}
	if c.cfg.AllowAllPublic {
		return Allow
	}
	if c.cfg.AllowAllLAN && isLAN(ip) {
		return Allow
	}
	if c.inWhitelist(ip) {
		return Allow
	}
	return Deny
}

func (c *Controller) enabledFor(proto Protocol) bool {
	switch proto {
	case HTTP:
		return c.cfg.HTTPEnabled
	case WS:
		return c.cfg.WSEnabled
	case Stream:
		return c.cfg.StreamEnabled
	default:
		return true
	}
}

func (c *Controller) isBlacklisted(ip net.IP) bool {
	snap := *c.blacklist.Load()
	entry, ok := snap[ip.String()]
	if !ok {
		return false
	}
	return entry.Active(time.Now().Unix())
}

func (c *Controller) inWhitelist(ip net.IP) bool {
	for _, n := range c.cfg.Whitelist {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func isLAN(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast()
}

// BlacklistAdd inserts or refreshes a blacklist entry and rebuilds the
// copy-on-write snapshot, per §4.F's "mutations invalidate and rebuild".
// A durationSec of 0 makes the entry permanent; a negative one gives an
// entry that has already expired.
func (c *Controller) BlacklistAdd(ip, reason string, durationSec int64) {
	now := time.Now().Unix()
	var expires int64
	if durationSec != 0 {
		expires = now + durationSec
	}
	old := *c.blacklist.Load()
	next := make(map[string]config.BlacklistEntry, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[ip] = config.BlacklistEntry{IP: ip, Reason: reason, ExpiresAt: expires, CreatedAt: now}
	c.blacklist.Store(&next)
}

// BlacklistRemove deletes an entry and rebuilds the snapshot.
func (c *Controller) BlacklistRemove(ip string) {
	old := *c.blacklist.Load()
	if _, ok := old[ip]; !ok {
		return
	}
	next := make(map[string]config.BlacklistEntry, len(old))
	for k, v := range old {
		if k != ip {
			next[k] = v
		}
	}
	c.blacklist.Store(&next)
}

// BlacklistList returns every entry currently cached, expired or not.
func (c *Controller) BlacklistList() []config.BlacklistEntry {
	snap := *c.blacklist.Load()
	out := make([]config.BlacklistEntry, 0, len(snap))
	for _, v := range snap {
		out = append(out, v)
	}
	return out
}

// RefreshCache forces an immediate expiry sweep, used by
// blacklist_cache_refresh() in the control API.
func (c *Controller) RefreshCache() {
	c.sweepOnce()
}

func (c *Controller) sweepLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.sweepStop:
			return
		case <-t.C:
			c.sweepOnce()
		}
	}
}

func (c *Controller) sweepOnce() {
	now := time.Now().Unix()
	old := *c.blacklist.Load()
	next := make(map[string]config.BlacklistEntry, len(old))
	expired := make(map[string]struct{})
	for k, v := range old {
		if v.Active(now) {
			next[k] = v
		} else {
			expired[k] = struct{}{}
		}
	}
	if len(expired) == 0 {
		return
	}
	c.blacklist.Store(&next)
	if c.log != nil {
		c.log.Info("access: blacklist entries expired",
			zap.Int("count", len(expired)),
			zap.Strings("ips", internal.MaxSizeIPListForLog(expired, 20)))
	}
}
