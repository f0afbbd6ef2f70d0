package httpproxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/access"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/pool"
)

func TestStatusForMapsReasons(t *testing.T) {
	require.Equal(t, http.StatusForbidden, StatusFor(ReasonDenied))
	require.Equal(t, http.StatusTooManyRequests, StatusFor(ReasonRateLimited))
	require.Equal(t, http.StatusUnauthorized, StatusFor(ReasonUnauthorized))
	require.Equal(t, http.StatusNotFound, StatusFor(ReasonRouteMiss))
	require.Equal(t, http.StatusBadGateway, StatusFor(ReasonUpstreamUnavailable))
	require.Equal(t, http.StatusGatewayTimeout, StatusFor(ReasonUpstreamTimeout))
	require.Equal(t, http.StatusRequestEntityTooLarge, StatusFor(ReasonPayloadTooLarge))
}

func TestEngineReturns401OnMissingBasicAuth(t *testing.T) {
	shared := &Shared{
		Pool:     pool.New(pool.Config{}),
		Access:   access.New(config.AccessConfig{HTTPEnabled: true, AllowAllPublic: true}),
		Observer: NopRecorder,
	}
	defer shared.Pool.Close()

	rule := config.HTTPRule{
		ID:        "r1",
		Enabled:   true,
		BasicAuth: &config.BasicAuthConfig{User: "alice", Pass: "secret"},
		Routes: []config.HTTPRoute{
			{ID: "route1", Enabled: true, PathPrefix: "/", Upstreams: []config.WeightedUpstream{{URL: "http://127.0.0.1:1", Weight: 1}}},
		},
	}
	e := NewEngine(rule, shared)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "8.8.8.8:1111"
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCheckBasicAuthAcceptsAndStripsByDefault(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("alice", "secret")
	cfg := config.BasicAuthConfig{User: "alice", Pass: "secret"}
	require.True(t, checkBasicAuth(req, cfg))
	require.Empty(t, req.Header.Get("Authorization"))
}

func TestCheckBasicAuthForwardKeepsHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("alice", "secret")
	cfg := config.BasicAuthConfig{User: "alice", Pass: "secret", Forward: true}
	require.True(t, checkBasicAuth(req, cfg))
	require.NotEmpty(t, req.Header.Get("Authorization"))
}

func TestCheckBasicAuthRejectsWrongPassword(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("alice", "wrong")
	cfg := config.BasicAuthConfig{User: "alice", Pass: "secret"}
	require.False(t, checkBasicAuth(req, cfg))
}

func TestEngineDeniesBlacklistedClient(t *testing.T) {
	accessCfg := config.AccessConfig{HTTPEnabled: true}
	ctl := access.New(accessCfg)
	defer ctl.Close()
	ctl.BlacklistAdd("203.0.113.9", "test", 0)

	shared := &Shared{
		Pool:     pool.New(pool.Config{}),
		Access:   ctl,
		Observer: NopRecorder,
	}
	defer shared.Pool.Close()

	rule := config.HTTPRule{ID: "r1", Enabled: true, Routes: []config.HTTPRoute{
		{ID: "route1", Enabled: true, PathPrefix: "/", Upstreams: []config.WeightedUpstream{{URL: "http://127.0.0.1:1", Weight: 1}}},
	}}
	e := NewEngine(rule, shared)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestEngineReturns404OnRouteMiss(t *testing.T) {
	shared := &Shared{
		Pool:     pool.New(pool.Config{}),
		Access:   access.New(config.AccessConfig{HTTPEnabled: true, AllowAllPublic: true}),
		Observer: NopRecorder,
	}
	defer shared.Pool.Close()

	rule := config.HTTPRule{ID: "r1", Enabled: true, Routes: []config.HTTPRoute{
		{ID: "route1", Enabled: true, Host: "other.example.com", PathPrefix: "/", Upstreams: []config.WeightedUpstream{{URL: "http://127.0.0.1:1", Weight: 1}}},
	}}
	e := NewEngine(rule, shared)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "example.com"
	req.RemoteAddr = "8.8.8.8:1111"
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}
