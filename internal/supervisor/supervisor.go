// Package supervisor implements the Lifecycle Supervisor (component K):
// it takes successive Config snapshots from package config and starts,
// reconciles, and tears down every listener named in them, grounded on
// caddy.go's atomic current-config swap and listeners.go's per-address
// listener bookkeeping, generalized from Caddyfile server blocks to
// HTTPRule/WSRule/StreamServer listen addresses.
package supervisor

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/access"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/httpproxy"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/pool"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/streamproxy"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/wsproxy"
)

// EventKind names a lifecycle transition published on the Supervisor's
// event channel, per §4.K.
type EventKind int

const (
	ListenerUp EventKind = iota
	ListenerDown
	ListenerError
)

// Event is one lifecycle notification for the admin API / observer to
// surface.
type Event struct {
	Kind    EventKind
	Key     string
	Err     error
	Time    time.Time
}

// TLSResolver returns the *tls.Config for an HTTPRule's static
// certificate, or nil for plaintext; implemented by package tlsmgr.
// Defined here to avoid an import cycle.
type TLSResolver interface {
	Resolve(cfg *config.TLSConfig) (*tls.Config, error)
}

// listenerEntry tracks one running listener keyed by listen_addr+protocol
// (§4.K's reconciliation key).
type listenerEntry struct {
	key     string
	cancel  context.CancelFunc
	done    chan struct{}
	addr    string
	kind    string // "http", "ws", "stream-tcp", "stream-udp"
	backoff time.Duration
}

// Supervisor owns the currently running set of listeners and reconciles
// it against each newly published Config.
type Supervisor struct {
	log *zap.Logger
	tls TLSResolver

	mu        sync.Mutex
	listeners map[string]*listenerEntry
	events    chan Event

	pool     *pool.Pool
	access   *access.Controller
	observer httpproxy.Recorder
}

// New builds an idle Supervisor. Call Apply to start listening.
func New(log *zap.Logger, tlsResolver TLSResolver, p *pool.Pool, accessCtl *access.Controller, observer httpproxy.Recorder) *Supervisor {
	if observer == nil {
		observer = httpproxy.NopRecorder
	}
	return &Supervisor{
		log:       log,
		tls:       tlsResolver,
		listeners: make(map[string]*listenerEntry),
		events:    make(chan Event, 256),
		pool:      p,
		access:    accessCtl,
		observer:  observer,
	}
}

// Events returns the lifecycle notification channel.
func (s *Supervisor) Events() <-chan Event { return s.events }

func (s *Supervisor) emit(ev Event) {
	ev.Time = time.Now()
	if s.log != nil {
		switch ev.Kind {
		case ListenerUp:
			s.log.Info("listener up", zap.String("key", ev.Key))
		case ListenerDown:
			s.log.Info("listener down", zap.String("key", ev.Key))
		case ListenerError:
			s.log.Warn("listener error", zap.String("key", ev.Key), zap.Error(ev.Err))
		}
	}
	select {
	case s.events <- ev:
	default:
		// drop-oldest: make room rather than block the reconciler
		select {
		case <-s.events:
		default:
		}
		select {
		case s.events <- ev:
		default:
		}
	}
}

// Apply reconciles the running listener set against cfg using the
// minimum-diff rule of §4.K: unchanged keys are left alone, new or
// changed keys are started (old ones drained with bounded grace), and
// removed keys are stopped.
func (s *Supervisor) Apply(cfg *config.Config) {
	wanted := s.desiredEntries(cfg)

	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.listeners {
		if _, ok := wanted[key]; !ok {
			s.stopLocked(key, 5*time.Second)
		}
	}

	for key, start := range wanted {
		if _, ok := s.listeners[key]; ok {
			continue // unchanged: atomic swap happens inside the running handler via shared state
		}
		s.startLocked(key, start)
	}
}

// runFunc binds its listener and blocks serving it until ctx is
// cancelled (clean shutdown) or a fatal error occurs.
type runFunc func(ctx context.Context) error

func (s *Supervisor) desiredEntries(cfg *config.Config) map[string]runFunc {
	wanted := make(map[string]runFunc)

	shared := &httpproxy.Shared{Pool: s.pool, Access: s.access, Limits: cfg.Limits, Compress: cfg.Compression, Observer: s.observer}
	for _, rule := range cfg.HTTPRules {
		if !rule.Enabled {
			continue
		}
		engine := httpproxy.NewEngine(rule, shared)
		var tlsCfg *tls.Config
		if rule.TLS != nil && s.tls != nil {
			tlsCfg, _ = s.tls.Resolve(rule.TLS)
		}
		for _, addr := range rule.ListenAddr {
			key := "http:" + addr
			addrCopy, engineCopy, tlsCopy, limits := addr, engine, tlsCfg, cfg.Limits
			wanted[key] = func(ctx context.Context) error {
				return runHTTPServer(ctx, addrCopy, engineCopy, tlsCopy, limits)
			}
		}
	}

	for _, rule := range cfg.WSRules {
		if !rule.Enabled {
			continue
		}
		engine := wsproxy.NewEngine(rule, s.access)
		for _, addr := range rule.ListenAddr {
			key := "ws:" + addr
			addrCopy, engineCopy := addr, engine
			wanted[key] = func(ctx context.Context) error {
				return runWSServer(ctx, addrCopy, engineCopy)
			}
		}
	}

	for _, srv := range cfg.Stream.Servers {
		if !srv.Enabled {
			continue
		}
		up, ok := cfg.Stream.Upstreams[srv.ProxyPass]
		if !ok {
			continue
		}
		key := fmt.Sprintf("stream-%s:%d", srv.Protocol, srv.ListenPort)
		srvCopy, upCopy := srv, up
		switch srv.Protocol {
		case "udp":
			wanted[key] = func(ctx context.Context) error {
				return runUDPServer(ctx, srvCopy, upCopy, s.access)
			}
		default:
			wanted[key] = func(ctx context.Context) error {
				return runTCPServer(ctx, srvCopy, upCopy, s.access)
			}
		}
	}

	return wanted
}

func (s *Supervisor) startLocked(key string, start runFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	entry := &listenerEntry{key: key, cancel: cancel, done: make(chan struct{})}
	s.listeners[key] = entry

	go s.runWithBackoff(ctx, entry, start)
}

// runWithBackoff runs start repeatedly, applying exponential backoff
// capped at 30s between restarts on error, per §4.K.
func (s *Supervisor) runWithBackoff(ctx context.Context, entry *listenerEntry, start runFunc) {
	defer close(entry.done)
	backoff := time.Second

	for {
		s.emit(Event{Kind: ListenerUp, Key: entry.key})
		err := start(ctx)

		if ctx.Err() != nil {
			s.emit(Event{Kind: ListenerDown, Key: entry.key})
			return
		}

		s.emit(Event{Kind: ListenerError, Key: entry.key, Err: err})
		if !sleepOrDone(ctx, backoff) {
			s.emit(Event{Kind: ListenerDown, Key: entry.key})
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > 30*time.Second {
		return 30 * time.Second
	}
	return next
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Supervisor) stopLocked(key string, grace time.Duration) {
	entry, ok := s.listeners[key]
	if !ok {
		return
	}
	delete(s.listeners, key)
	entry.cancel()
	go func() {
		select {
		case <-entry.done:
		case <-time.After(grace):
		}
	}()
}

// Stop tears down every running listener and waits up to grace for each
// to finish draining.
func (s *Supervisor) Stop(grace time.Duration) {
	s.mu.Lock()
	entries := make([]*listenerEntry, 0, len(s.listeners))
	for k, e := range s.listeners {
		entries = append(entries, e)
		s.stopLocked(k, grace)
	}
	s.mu.Unlock()

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	for _, e := range entries {
		select {
		case <-e.done:
		case <-deadline.C:
			return
		}
	}
}

// Status reports the listener keys currently running.
func (s *Supervisor) Status() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.listeners))
	for k := range s.listeners {
		out = append(out, k)
	}
	return out
}
