// Package tlsmgr implements static certificate/key loading and SNI
// dispatch for TLS-terminating listeners, grounded on
// caddytls/config.go's certmagic.NewCache-backed Config and
// caddytls/setup.go's CacheUnmanagedCertificatePEMFile call for loading a
// certificate/key pair named directly in the config (rather than
// ACME-obtained), with an fsnotify watch added so an on-disk cert/key
// change is picked up without a config reload.
package tlsmgr

import (
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/caddyserver/certmagic"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
)

// Manager caches one certmagic.Config per (cert, key) pair on disk and
// resolves a config.TLSConfig to a *tls.Config on demand, reusing the
// cache entry when the same pair is named by more than one HTTPRule.
type Manager struct {
	log *zap.Logger

	mu     sync.Mutex
	byPair map[pairKey]*certmagic.Config

	cache   *certmagic.Cache
	watcher *fsnotify.Watcher
	onReady map[string][]func()
}

type pairKey struct{ cert, key string }

// New builds a Manager backed by a single certmagic.Cache shared across
// every resolved pair, the way NewConfig shares one *certmagic.Cache
// across every caddytls.Config in a running instance.
func New(log *zap.Logger) (*Manager, error) {
	m := &Manager{log: log, byPair: make(map[pairKey]*certmagic.Config), onReady: make(map[string][]func())}
	m.cache = certmagic.NewCache(certmagic.CacheOptions{
		GetConfigForCert: func(certmagic.Certificate) (certmagic.Config, error) {
			return certmagic.Default, nil
		},
	})

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("tlsmgr: creating watcher: %w", err)
	}
	m.watcher = watcher
	go m.watchLoop()
	return m, nil
}

// Close stops the cache and the filesystem watcher.
func (m *Manager) Close() {
	m.cache.Stop()
	m.watcher.Close()
}

// Resolve returns the *tls.Config for a static certificate/key pair,
// building and caching it on first use and watching both files for
// changes thereafter (§4.A's TLSConfig model, §9's hot-reload goal
// extended to certificate material as well as routes).
func (m *Manager) Resolve(cfg *config.TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, nil
	}
	key := pairKey{cert: cfg.Cert, key: cfg.Key}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byPair[key]; ok {
		return existing.TLSConfig(), nil
	}

	cm := certmagic.New(m.cache, certmagic.Config{})
	if err := cm.CacheUnmanagedCertificatePEMFile(cfg.Cert, cfg.Key, nil); err != nil {
		return nil, fmt.Errorf("tlsmgr: loading %s/%s: %w", cfg.Cert, cfg.Key, err)
	}
	m.byPair[key] = cm

	if err := m.watcher.Add(cfg.Cert); err != nil && m.log != nil {
		m.log.Warn("tlsmgr: could not watch certificate file", zap.String("path", cfg.Cert), zap.Error(err))
	}
	if err := m.watcher.Add(cfg.Key); err != nil && m.log != nil {
		m.log.Warn("tlsmgr: could not watch key file", zap.String("path", cfg.Key), zap.Error(err))
	}

	return cm.TLSConfig(), nil
}

// watchLoop reloads a pair's certificate into its existing
// certmagic.Config whenever fsnotify reports a write on either file, so
// already-accepted connections keep their negotiated config while new
// ones see the refreshed certificate.
func (m *Manager) watchLoop() {
	for {
		select {
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			m.reloadForPath(ev.Name)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			if m.log != nil {
				m.log.Warn("tlsmgr: watcher error", zap.Error(err))
			}
		}
	}
}

func (m *Manager) reloadForPath(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, cm := range m.byPair {
		if key.cert == path || key.key == path {
			if err := cm.CacheUnmanagedCertificatePEMFile(key.cert, key.key, nil); err != nil {
				if m.log != nil {
					m.log.Warn("tlsmgr: reload failed", zap.String("cert", key.cert), zap.Error(err))
				}
				continue
			}
			if m.log != nil {
				m.log.Info("tlsmgr: certificate reloaded", zap.String("cert", key.cert))
			}
		}
	}
}
