package admin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/access"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/httpproxy"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/observer"
)

type fakeStore struct {
	cfg             *config.Config
	ruleEnabled     map[string]bool
	routeEnabled    map[string]bool
	lastAppliedRule string
}

func (f *fakeStore) Current() *config.Config { return f.cfg }
func (f *fakeStore) Save(raw []byte) (*config.Config, []string, error) {
	return f.cfg, nil, nil
}

func (f *fakeStore) SetListenRuleEnabled(ruleID string, enabled bool) (*config.Config, bool) {
	if f.ruleEnabled == nil {
		return f.cfg, false
	}
	if _, ok := f.ruleEnabled[ruleID]; !ok {
		return f.cfg, false
	}
	f.ruleEnabled[ruleID] = enabled
	return f.cfg, true
}

func (f *fakeStore) SetRouteEnabled(ruleID, routeID string, enabled bool) (*config.Config, bool) {
	key := ruleID + "/" + routeID
	if f.routeEnabled == nil {
		return f.cfg, false
	}
	if _, ok := f.routeEnabled[key]; !ok {
		return f.cfg, false
	}
	f.routeEnabled[key] = enabled
	return f.cfg, true
}

func TestHandleConfigGet(t *testing.T) {
	store := &fakeStore{cfg: &config.Config{}}
	s := New(store, nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleBlacklistAddAndList(t *testing.T) {
	ctl := access.New(config.AccessConfig{HTTPEnabled: true})
	defer ctl.Close()
	s := New(&fakeStore{cfg: &config.Config{}}, nil, ctl, nil, nil, nil)

	body := `{"ip":"9.9.9.9","reason":"abuse","duration_seconds":60}`
	req := httptest.NewRequest(http.MethodPost, "/blacklist", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/blacklist", nil)
	w2 := httptest.NewRecorder()
	s.ServeHTTP(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code)
	require.Contains(t, w2.Body.String(), "9.9.9.9")
}

func TestHandleConfigMethodNotAllowed(t *testing.T) {
	s := New(&fakeStore{cfg: &config.Config{}}, nil, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodDelete, "/config", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleListenRuleEnabled(t *testing.T) {
	store := &fakeStore{cfg: &config.Config{}, ruleEnabled: map[string]bool{"r1": true}}
	s := New(store, nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/listen-rules/enabled", strings.NewReader(`{"rule_id":"r1","enabled":false}`))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, store.ruleEnabled["r1"])

	req2 := httptest.NewRequest(http.MethodPost, "/listen-rules/enabled", strings.NewReader(`{"rule_id":"missing","enabled":false}`))
	w2 := httptest.NewRecorder()
	s.ServeHTTP(w2, req2)
	require.Equal(t, http.StatusNotFound, w2.Code)
}

func TestHandleRouteEnabled(t *testing.T) {
	store := &fakeStore{cfg: &config.Config{}, routeEnabled: map[string]bool{"r1/route1": true}}
	s := New(store, nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/routes/enabled", strings.NewReader(`{"rule_id":"r1","route_id":"route1","enabled":false}`))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, store.routeEnabled["r1/route1"])
}

func TestHandleListenAddrs(t *testing.T) {
	cfg := &config.Config{
		HTTPRules: []config.HTTPRule{{ID: "r1", ListenAddr: []string{":8080"}}},
		WSRules:   []config.WSRule{{ID: "w1", ListenAddr: []string{":8081"}}},
	}
	cfg.Stream.Servers = []config.StreamServer{{ListenPort: 9000, Protocol: "tcp"}}
	s := New(&fakeStore{cfg: cfg}, nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/listen-addrs", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.Contains(t, body, ":8080")
	require.Contains(t, body, ":8081")
	require.Contains(t, body, "tcp:9000")
}

func TestHandleLogsQueryAndClear(t *testing.T) {
	sink := observer.NewLogSink(0)
	sink.Flush([]httpproxy.Record{
		{Listener: "r1", Path: "/a", Status: 200, ClientIP: "1.1.1.1", Started: time.Now()},
		{Listener: "r1", Path: "/b", Status: 500, ClientIP: "2.2.2.2", Started: time.Now()},
	})
	s := New(&fakeStore{cfg: &config.Config{}}, nil, nil, nil, nil, sink)

	req := httptest.NewRequest(http.MethodGet, "/logs?status=500", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "/b")
	require.NotContains(t, w.Body.String(), "\"/a\"")

	clearReq := httptest.NewRequest(http.MethodPost, "/logs/clear", nil)
	clearW := httptest.NewRecorder()
	s.ServeHTTP(clearW, clearReq)
	require.Equal(t, http.StatusOK, clearW.Code)

	records, total := sink.Query(observer.LogFilter{})
	require.Zero(t, total)
	require.Empty(t, records)
}

func TestHandleLogsNotConfigured(t *testing.T) {
	s := New(&fakeStore{cfg: &config.Config{}}, nil, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/logs", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
