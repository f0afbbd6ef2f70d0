// Package admin implements the Control API (the admin surface named in
// §6's External Interfaces): a JSON-over-HTTP endpoint bound to a
// loopback TCP or unix socket address, grounded on admin.go's
// mux.Handle route-registration idiom and its JSON error-response
// convention, generalized from Caddy's own config-management routes to
// proxy-core's config/status/log/metrics/blacklist surface.
package admin

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/access"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/observer"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/supervisor"
)

// ConfigStore is the persistence + validation boundary the admin API
// drives: get_config/save_config read and write through it, every
// successful save republishes a snapshot to the Supervisor, and the two
// partial-edit toggles swap a mutated snapshot in without touching disk.
type ConfigStore interface {
	Current() *config.Config
	Save(raw []byte) (*config.Config, []string, error)
	SetListenRuleEnabled(ruleID string, enabled bool) (*config.Config, bool)
	SetRouteEnabled(ruleID, routeID string, enabled bool) (*config.Config, bool)
}

// Server is the admin control API's HTTP handler.
type Server struct {
	store      ConfigStore
	supervisor *supervisor.Supervisor
	access     *access.Controller
	observer   *observer.Observer
	logs       *observer.LogSink

	mux *http.ServeMux
}

// New builds an admin Server and registers every route. reg and logs may
// both be nil, in which case the optional Prometheus /metrics route and
// the request-log query surface are omitted respectively.
func New(store ConfigStore, sup *supervisor.Supervisor, accessCtl *access.Controller, obs *observer.Observer, reg *prometheus.Registry, logs *observer.LogSink) *Server {
	s := &Server{store: store, supervisor: sup, access: accessCtl, observer: obs, logs: logs, mux: http.NewServeMux()}
	s.routes(reg)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes(reg *prometheus.Registry) {
	s.mux.HandleFunc("/config", s.handleConfig)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/start", s.handleStart)
	s.mux.HandleFunc("/stop", s.handleStop)
	s.mux.HandleFunc("/listen-rules/enabled", s.handleListenRuleEnabled)
	s.mux.HandleFunc("/routes/enabled", s.handleRouteEnabled)
	s.mux.HandleFunc("/listen-addrs", s.handleListenAddrs)
	s.mux.HandleFunc("/blacklist", s.handleBlacklist)
	s.mux.HandleFunc("/blacklist/refresh", s.handleBlacklistRefresh)
	s.mux.HandleFunc("/metrics/listener", s.handleListenerMetrics)
	s.mux.HandleFunc("/metrics/all", s.handleAllMetrics)
	s.mux.HandleFunc("/logs", s.handleLogs)
	s.mux.HandleFunc("/logs/clear", s.handleLogsClear)
	if reg != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleConfig implements get_config (GET) and save_config (PUT/POST),
// applying the newly validated snapshot to the Supervisor on success.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.store.Current())
	case http.MethodPut, http.MethodPost:
		body := make([]byte, r.ContentLength)
		if r.ContentLength > 0 {
			r.Body.Read(body)
		}
		cfg, warnings, err := s.store.Save(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if s.supervisor != nil {
			s.supervisor.Apply(cfg)
		}
		writeJSON(w, http.StatusOK, map[string]any{"warnings": warnings})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleStatus implements status(): the set of listeners the Supervisor
// currently has running.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var listeners []string
	if s.supervisor != nil {
		listeners = s.supervisor.Status()
	}
	writeJSON(w, http.StatusOK, map[string]any{"listeners": listeners, "time": time.Now()})
}

// handleBlacklist implements blacklist_add/remove/list.
func (s *Server) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	if s.access == nil {
		writeError(w, http.StatusServiceUnavailable, "access control not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.access.BlacklistList())
	case http.MethodPost:
		var req struct {
			IP           string `json:"ip"`
			Reason       string `json:"reason"`
			DurationSecs int64  `json:"duration_seconds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.access.BlacklistAdd(req.IP, req.Reason, req.DurationSecs)
		writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
	case http.MethodDelete:
		ip := r.URL.Query().Get("ip")
		s.access.BlacklistRemove(ip)
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleBlacklistRefresh implements blacklist_cache_refresh().
func (s *Server) handleBlacklistRefresh(w http.ResponseWriter, r *http.Request) {
	if s.access == nil {
		writeError(w, http.StatusServiceUnavailable, "access control not configured")
		return
	}
	s.access.RefreshCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

// handleListenerMetrics implements query_historical_metrics for one
// listener, named by the "listener" query parameter.
func (s *Server) handleListenerMetrics(w http.ResponseWriter, r *http.Request) {
	if s.observer == nil {
		writeError(w, http.StatusServiceUnavailable, "observer not configured")
		return
	}
	listener := r.URL.Query().Get("listener")
	writeJSON(w, http.StatusOK, s.observer.Snapshot(listener))
}

// handleAllMetrics implements get_metrics(): a snapshot across every
// listener currently tracked by the Observer.
func (s *Server) handleAllMetrics(w http.ResponseWriter, r *http.Request) {
	if s.observer == nil {
		writeError(w, http.StatusServiceUnavailable, "observer not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.observer.Snapshots())
}

// handleStart implements start(): reconciles the Supervisor's running
// listener set against the current Config, the same reconciliation
// save_config triggers.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.supervisor == nil {
		writeError(w, http.StatusServiceUnavailable, "supervisor not configured")
		return
	}
	s.supervisor.Apply(s.store.Current())
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// handleStop implements stop(): tears down every running listener with
// a bounded grace period.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.supervisor == nil {
		writeError(w, http.StatusServiceUnavailable, "supervisor not configured")
		return
	}
	s.supervisor.Stop(10 * time.Second)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// handleListenRuleEnabled implements set_listen_rule_enabled(rule_id, bool).
func (s *Server) handleListenRuleEnabled(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		RuleID  string `json:"rule_id"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, ok := s.store.SetListenRuleEnabled(req.RuleID, req.Enabled)
	if !ok {
		writeError(w, http.StatusNotFound, "listen rule not found")
		return
	}
	if s.supervisor != nil {
		s.supervisor.Apply(cfg)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleRouteEnabled implements set_route_enabled(rule_id, route_id, bool).
func (s *Server) handleRouteEnabled(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		RuleID  string `json:"rule_id"`
		RouteID string `json:"route_id"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, ok := s.store.SetRouteEnabled(req.RuleID, req.RouteID, req.Enabled)
	if !ok {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}
	if s.supervisor != nil {
		s.supervisor.Apply(cfg)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleListenAddrs implements get_listen_addrs(): every listen address
// named by the current Config, across HTTP, WS, and Stream rules.
func (s *Server) handleListenAddrs(w http.ResponseWriter, r *http.Request) {
	cfg := s.store.Current()
	addrs := make([]string, 0)
	for _, rule := range cfg.HTTPRules {
		addrs = append(addrs, rule.ListenAddr...)
	}
	for _, rule := range cfg.WSRules {
		addrs = append(addrs, rule.ListenAddr...)
	}
	for _, srv := range cfg.Stream.Servers {
		addrs = append(addrs, srv.Protocol+":"+strconv.Itoa(srv.ListenPort))
	}
	writeJSON(w, http.StatusOK, map[string]any{"listen_addrs": addrs})
}

// handleLogs implements query_request_logs(filter) and get_logs(): the
// latter is simply a call with every filter field left at its zero
// value. Query parameters: since, until (RFC3339), listener, client_ip,
// path, status, upstream, page, page_size.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeError(w, http.StatusServiceUnavailable, "request log sink not configured")
		return
	}
	q := r.URL.Query()
	var f observer.LogFilter
	if v := q.Get("since"); v != "" {
		f.Since, _ = time.Parse(time.RFC3339, v)
	}
	if v := q.Get("until"); v != "" {
		f.Until, _ = time.Parse(time.RFC3339, v)
	}
	f.Listener = q.Get("listener")
	f.ClientIP = q.Get("client_ip")
	f.Path = q.Get("path")
	f.Upstream = q.Get("upstream")
	if v := q.Get("status"); v != "" {
		f.Status, _ = strconv.Atoi(v)
	}
	if v := q.Get("page"); v != "" {
		f.Page, _ = strconv.Atoi(v)
	}
	if v := q.Get("page_size"); v != "" {
		f.PageSize, _ = strconv.Atoi(v)
	}

	records, total := s.logs.Query(f)
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "total": total})
}

// handleLogsClear implements clear_logs().
func (s *Server) handleLogsClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.logs == nil {
		writeError(w, http.StatusServiceUnavailable, "request log sink not configured")
		return
	}
	s.logs.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
