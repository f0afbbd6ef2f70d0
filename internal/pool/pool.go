// Package pool implements the Upstream Pool (component B): a bounded,
// per-origin cache of reusable upstream connections with idle eviction,
// grounded on the teacher's certmagic-cache locking pattern
// (caddytls/config.go's certCache) and on the dial/keepalive defaults in
// caddyhttp/proxy/reverseproxy.go's defaultDialer.
package pool

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

// Origin is the pool key: a (scheme, authority, alpn) triple, per §4.B
// and §9 ("pools are keyed on (scheme, authority) rather than embedding
// pool references in routes"). Callers leave ALPN empty; the pool keeps
// connections that negotiated "h2" over TLS apart from HTTP/1.1
// connections to the same Origin.
type Origin struct {
	Scheme    string
	Authority string
	ALPN      string
}

// ErrTimeout is returned when acquire cannot produce a connection before
// the caller's deadline.
var ErrTimeout = errors.New("pool: acquire timeout")

// ConnectError wraps a dial/handshake failure, surfaced immediately per
// §4.B's "connect error surfaces immediately" rule.
type ConnectError struct{ Err error }

func (e *ConnectError) Error() string { return "pool: connect: " + e.Err.Error() }
func (e *ConnectError) Unwrap() error { return e.Err }

// Config carries the subset of config.Limits the pool needs.
type Config struct {
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
	MaxIdle        int
	EnableHTTP2    bool
}

// PooledConn is a connection on loan from the Pool. Callers MUST call
// Release exactly once when done; it is "exclusively owned while in use"
// per §3's lifecycle rule.
type PooledConn struct {
	net.Conn
	origin    Origin
	http2Conn *http2.ClientConn // non-nil for a multiplexed h2 stream slot
	pool      *Pool
	acquired  time.Time
}

// HTTP2 reports whether this loan rides a shared HTTP/2 connection.
func (p *PooledConn) HTTP2() bool { return p.http2Conn != nil }

// ClientConn returns the shared HTTP/2 client connection, or nil.
func (p *PooledConn) ClientConn() *http2.ClientConn { return p.http2Conn }

type idleEntry struct {
	conn     net.Conn
	lastUsed time.Time
}

type h2Entry struct {
	cc       *http2.ClientConn
	lastUsed time.Time
}

// Pool manages per-origin buckets of idle connections under one mutex
// shared by every bucket, held only for short critical sections ("short
// critical sections guarding a per-origin queue", §5).
type Pool struct {
	cfg Config

	mu    sync.Mutex
	idle  map[Origin][]*idleEntry
	h2    map[Origin]*h2Entry
	h2Tr  *http2.Transport

	dialer *net.Dialer

	stop chan struct{}
	once sync.Once
}

// New creates a Pool and starts its idle-eviction sweeper, at a cadence of
// a quarter of the configured idle timeout per SPEC_FULL.md's Expansion
// note for component B.
func New(cfg Config) *Pool {
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 32
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 90 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	p := &Pool{
		cfg:  cfg,
		idle: make(map[Origin][]*idleEntry),
		h2:   make(map[Origin]*h2Entry),
		h2Tr: &http2.Transport{AllowHTTP: false},
		dialer: &net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		},
		stop: make(chan struct{}),
	}
	go p.sweepLoop(cfg.IdleTimeout / 4)
	return p
}

// Close stops the sweeper and closes every idle connection.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.stop) })
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entries := range p.idle {
		for _, e := range entries {
			e.conn.Close()
		}
	}
	p.idle = make(map[Origin][]*idleEntry)
	for _, e := range p.h2 {
		e.cc.Close()
	}
	p.h2 = make(map[Origin]*h2Entry)
}

// Acquire returns a connection to origin, reusing an idle one when
// available. It enforces ConnectTimeout on the dial path and deadline on
// the overall wait.
func (p *Pool) Acquire(ctx context.Context, origin Origin, deadline time.Time) (*PooledConn, error) {
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	if p.cfg.EnableHTTP2 {
		if pc := p.tryReuseHTTP2(origin); pc != nil {
			return pc, nil
		}
	}
	if pc := p.tryReuseIdle(origin); pc != nil {
		return pc, nil
	}

	select {
	case <-ctx.Done():
		return nil, ErrTimeout
	default:
	}

	return p.dial(ctx, origin)
}

func (p *Pool) tryReuseIdle(origin Origin) *PooledConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := p.idle[origin]
	if len(entries) == 0 {
		return nil
	}
	// Pop the most-recently-used entry for cache locality; the sweeper
	// evicts stale entries by age, and capacity overflow evicts the
	// least-recently-used entry (see release below).
	last := entries[len(entries)-1]
	p.idle[origin] = entries[:len(entries)-1]
	return &PooledConn{Conn: last.conn, origin: origin, pool: p, acquired: time.Now()}
}

func (p *Pool) tryReuseHTTP2(origin Origin) *PooledConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.h2[origin]
	if !ok || !e.cc.CanTakeNewRequest() {
		return nil
	}
	e.lastUsed = time.Now()
	return &PooledConn{origin: origin, pool: p, http2Conn: e.cc, acquired: time.Now()}
}

func (p *Pool) dial(ctx context.Context, origin Origin) (*PooledConn, error) {
	network := "tcp"
	raw, err := p.dialer.DialContext(ctx, network, origin.Authority)
	if err != nil {
		return nil, &ConnectError{Err: err}
	}

	if origin.Scheme != "https" && origin.Scheme != "wss" {
		return &PooledConn{Conn: raw, origin: origin, pool: p, acquired: time.Now()}, nil
	}

	host, _, _ := net.SplitHostPort(origin.Authority)
	tlsConf := &tls.Config{ServerName: host}
	if p.cfg.EnableHTTP2 {
		tlsConf.NextProtos = []string{"h2", "http/1.1"}
	}
	tlsConn := tls.Client(raw, tlsConf)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, &ConnectError{Err: err}
	}

	if tlsConn.ConnectionState().NegotiatedProtocol == "h2" && p.cfg.EnableHTTP2 {
		cc, err := p.h2Tr.NewClientConn(tlsConn)
		if err != nil {
			tlsConn.Close()
			return nil, &ConnectError{Err: err}
		}
		p.mu.Lock()
		p.h2[origin] = &h2Entry{cc: cc, lastUsed: time.Now()}
		p.mu.Unlock()
		return &PooledConn{origin: origin, pool: p, http2Conn: cc, acquired: time.Now()}, nil
	}

	return &PooledConn{Conn: tlsConn, origin: origin, pool: p, acquired: time.Now()}, nil
}

// Release returns a connection to the pool, or closes it if the caller
// marks it unreusable (e.g. it errored mid-response) or the origin's idle
// list is already at MaxIdle, in which case the oldest entry is evicted to
// make room (LRU-within-origin, §4.B).
func (p *Pool) Release(pc *PooledConn, reusable bool) {
	if pc.http2Conn != nil {
		return // multiplexed connections live in p.h2 until closed/evicted
	}
	if !reusable || pc.Conn == nil {
		if pc.Conn != nil {
			pc.Conn.Close()
		}
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	entries := p.idle[pc.origin]
	if len(entries) >= p.cfg.MaxIdle {
		oldest := entries[0]
		oldest.conn.Close()
		entries = entries[1:]
	}
	entries = append(entries, &idleEntry{conn: pc.Conn, lastUsed: time.Now()})
	p.idle[pc.origin] = entries
}

func (p *Pool) sweepLoop(interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	cutoff := time.Now().Add(-p.cfg.IdleTimeout)
	p.mu.Lock()
	defer p.mu.Unlock()
	for origin, entries := range p.idle {
		kept := entries[:0]
		for _, e := range entries {
			if e.lastUsed.Before(cutoff) {
				e.conn.Close()
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(p.idle, origin)
		} else {
			p.idle[origin] = kept
		}
	}
	for origin, e := range p.h2 {
		if e.lastUsed.Before(cutoff) || !e.cc.CanTakeNewRequest() {
			e.cc.Close()
			delete(p.h2, origin)
		}
	}
}

// IdleCount reports the number of idle connections cached for origin.
func (p *Pool) IdleCount(origin Origin) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[origin])
}

// Origins returns every origin currently tracked, sorted by authority.
func (p *Pool) Origins() []Origin {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Origin, 0, len(p.idle))
	for o := range p.idle {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Authority < out[j].Authority })
	return out
}
