package routematch

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
)

func TestLongestPrefixWins(t *testing.T) {
	routes := []config.HTTPRoute{
		{ID: "a", Enabled: true, PathPrefix: "/api"},
		{ID: "b", Enabled: true, PathPrefix: "/api/v2"},
	}
	res, ok := Match(routes, "example.com", "GET", http.Header{}, "/api/v2/users")
	require.True(t, ok)
	require.Equal(t, "b", res.Route.ID)
	require.Equal(t, "/api/v2", res.MatchedPrefix)
}

func TestTieBreakByDeclarationOrder(t *testing.T) {
	routes := []config.HTTPRoute{
		{ID: "first", Enabled: true, PathPrefix: "/api"},
		{ID: "second", Enabled: true, PathPrefix: "/api"},
	}
	res, ok := Match(routes, "example.com", "GET", http.Header{}, "/api/x")
	require.True(t, ok)
	require.Equal(t, "first", res.Route.ID)
}

func TestDisabledRouteExcluded(t *testing.T) {
	routes := []config.HTTPRoute{
		{ID: "off", Enabled: false, PathPrefix: "/"},
	}
	_, ok := Match(routes, "example.com", "GET", http.Header{}, "/")
	require.False(t, ok)
}

func TestHostExactBeatsWildcard(t *testing.T) {
	routes := []config.HTTPRoute{
		{ID: "wild", Enabled: true, Host: "*.example.com", PathPrefix: "/"},
		{ID: "exact", Enabled: true, Host: "api.example.com", PathPrefix: "/"},
	}
	res, ok := Match(routes, "api.example.com", "GET", http.Header{}, "/x")
	require.True(t, ok)
	require.Equal(t, "exact", res.Route.ID)
}

func TestHostWildcardRequiresSubdomain(t *testing.T) {
	routes := []config.HTTPRoute{
		{ID: "wild", Enabled: true, Host: "*.example.com", PathPrefix: "/"},
	}
	_, ok := Match(routes, "example.com", "GET", http.Header{}, "/")
	require.False(t, ok)

	res, ok := Match(routes, "api.example.com", "GET", http.Header{}, "/")
	require.True(t, ok)
	require.Equal(t, "wild", res.Route.ID)
}

func TestMethodFilter(t *testing.T) {
	routes := []config.HTTPRoute{
		{ID: "post-only", Enabled: true, PathPrefix: "/", Methods: []string{"POST"}},
	}
	_, ok := Match(routes, "h", "GET", http.Header{}, "/")
	require.False(t, ok)
	res, ok := Match(routes, "h", "POST", http.Header{}, "/")
	require.True(t, ok)
	require.Equal(t, "post-only", res.Route.ID)
}

func TestRequiredHeaderWildcard(t *testing.T) {
	routes := []config.HTTPRoute{
		{ID: "needs-key", Enabled: true, PathPrefix: "/", RequiredHeaders: map[string]string{"X-Api-Key": "*"}},
	}
	h := http.Header{}
	_, ok := Match(routes, "h", "GET", h, "/")
	require.False(t, ok)

	h.Set("X-Api-Key", "anything")
	res, ok := Match(routes, "h", "GET", h, "/")
	require.True(t, ok)
	require.Equal(t, "needs-key", res.Route.ID)
}

func TestHostPortStripped(t *testing.T) {
	routes := []config.HTTPRoute{
		{ID: "exact", Enabled: true, Host: "example.com", PathPrefix: "/"},
	}
	res, ok := Match(routes, "example.com:8443", "GET", http.Header{}, "/")
	require.True(t, ok)
	require.Equal(t, "exact", res.Route.ID)
}
