// Package cfgstore bridges the file-backed, validated config.Config the
// rest of the process reads with the admin API's get_config/save_config
// surface: it holds the current snapshot behind an atomic pointer and
// persists accepted documents back to disk, grounded on caddy.go's
// currentCfgMu-guarded config swap.
package cfgstore

import (
	"os"
	"sync/atomic"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
)

// Store implements admin.ConfigStore against a single TOML file on disk.
type Store struct {
	path string
	cur  atomic.Pointer[config.Config]
}

// Open loads path and returns a Store seeded with its validated Config.
func Open(path string) (*Store, []string, error) {
	cfg, warnings, err := config.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	s := &Store{path: path}
	s.cur.Store(cfg)
	return s, warnings, nil
}

// Current returns the most recently accepted Config snapshot.
func (s *Store) Current() *config.Config {
	return s.cur.Load()
}

// Save validates raw, persists it to the backing file, and swaps it in
// as the current snapshot, in that order, so a failed write never leaves
// Current() pointing at a document not on disk.
func (s *Store) Save(raw []byte) (*config.Config, []string, error) {
	cfg, warnings, err := config.LoadBytes(raw)
	if err != nil {
		return nil, warnings, err
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return nil, warnings, err
	}
	s.cur.Store(cfg)
	return cfg, warnings, nil
}

// Path returns the backing file path, for a file-watcher to register.
func (s *Store) Path() string { return s.path }

// SetListenRuleEnabled flips a listen rule's enabled flag in the current
// snapshot and swaps it in. This is a runtime-only toggle: unlike Save,
// it does not rewrite the backing file, so a later save_config or file
// reload still wins.
func (s *Store) SetListenRuleEnabled(ruleID string, enabled bool) (*config.Config, bool) {
	next, ok := s.cur.Load().SetListenRuleEnabled(ruleID, enabled)
	if ok {
		s.cur.Store(next)
	}
	return next, ok
}

// SetRouteEnabled flips one HTTP route's enabled flag in the current
// snapshot and swaps it in, the route-level counterpart to
// SetListenRuleEnabled.
func (s *Store) SetRouteEnabled(ruleID, routeID string, enabled bool) (*config.Config, bool) {
	next, ok := s.cur.Load().SetRouteEnabled(ruleID, routeID, enabled)
	if ok {
		s.cur.Store(next)
	}
	return next, ok
}

// Reload re-reads and revalidates the backing file from disk and swaps
// it in as the current snapshot, the counterpart to Save used when an
// external edit to the file itself (rather than a save_config call) is
// what triggers the new snapshot.
func (s *Store) Reload() (*config.Config, []string, error) {
	cfg, warnings, err := config.LoadFile(s.path)
	if err != nil {
		return nil, warnings, err
	}
	s.cur.Store(cfg)
	return cfg, warnings, nil
}
