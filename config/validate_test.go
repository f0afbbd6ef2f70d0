package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadBytesMinimal(t *testing.T) {
	doc := `
[[http_rules]]
listen_addrs = [":8080"]

[[http_rules.routes]]
path = "/api"
upstreams = [{ url = "http://127.0.0.1:9000", weight = 1 }]
`
	cfg, warnings, err := LoadBytes([]byte(doc))
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Len(t, cfg.HTTPRules, 1)
	require.Equal(t, "/api", cfg.HTTPRules[0].Routes[0].PathPrefix)
	require.NotEmpty(t, cfg.HTTPRules[0].ID)
}

func TestValidateRejectsMissingUpstreamAndStaticDir(t *testing.T) {
	doc := `
[[http_rules]]
listen_addrs = [":8080"]

[[http_rules.routes]]
path = "/api"
`
	_, _, err := LoadBytes([]byte(doc))
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.NotEmpty(t, verr.Errors)
}

func TestValidateRejectsBadRateLimit(t *testing.T) {
	doc := `
[[http_rules]]
listen_addrs = [":8080"]
[http_rules.rate_limit]
rps = 0.5
burst = 0
ban_seconds = -1

[[http_rules.routes]]
path = "/"
upstreams = [{ url = "http://127.0.0.1:9000" }]
`
	_, _, err := LoadBytes([]byte(doc))
	require.Error(t, err)
}

func TestStreamServerMustReferenceKnownUpstream(t *testing.T) {
	doc := `
[stream]
enabled = true

[[stream.servers]]
listen_port = 50002
protocol = "udp"
proxy_pass = "does-not-exist"
`
	_, _, err := LoadBytes([]byte(doc))
	require.Error(t, err)
}

func TestValidateIsIdempotentOnIDs(t *testing.T) {
	doc := `
[[http_rules]]
listen_addrs = [":8080"]
[[http_rules.routes]]
path = "/"
upstreams = [{ url = "http://127.0.0.1:9000" }]
`
	cfg1, _, err := LoadBytes([]byte(doc))
	require.NoError(t, err)
	cfg2, _, err := LoadBytes([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, cfg1.HTTPRules[0].ID, cfg2.HTTPRules[0].ID)
	require.Equal(t, cfg1.HTTPRules[0].Routes[0].ID, cfg2.HTTPRules[0].Routes[0].ID)
}

func TestNormalizePrefix(t *testing.T) {
	require.Equal(t, "/", normalizePrefix(""))
	require.Equal(t, "/api", normalizePrefix("api"))
	require.Equal(t, "/api", normalizePrefix("/api"))
}

func TestBlacklistEntryActive(t *testing.T) {
	permanent := BlacklistEntry{ExpiresAt: 0}
	require.True(t, permanent.Active(1000))

	expired := BlacklistEntry{ExpiresAt: 100}
	require.False(t, expired.Active(200))

	active := BlacklistEntry{ExpiresAt: 300}
	require.True(t, active.Active(200))
}
