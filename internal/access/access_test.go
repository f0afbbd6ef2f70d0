package access

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
)

func TestBlacklistDeniesBeforeAnythingElse(t *testing.T) {
	c := New(config.AccessConfig{HTTPEnabled: true, AllowAllPublic: true})
	defer c.Close()
	c.BlacklistAdd("9.9.9.9", "abuse", 0)
	require.Equal(t, Deny, c.Decide(HTTP, net.ParseIP("9.9.9.9")))
}

func TestAllowAllPublic(t *testing.T) {
	c := New(config.AccessConfig{HTTPEnabled: true, AllowAllPublic: true})
	defer c.Close()
	require.Equal(t, Allow, c.Decide(HTTP, net.ParseIP("8.8.8.8")))
}

func TestLANRequiresToggle(t *testing.T) {
	c := New(config.AccessConfig{HTTPEnabled: true, AllowAllLAN: false})
	defer c.Close()
	require.Equal(t, Deny, c.Decide(HTTP, net.ParseIP("192.168.1.5")))

	c2 := New(config.AccessConfig{HTTPEnabled: true, AllowAllLAN: true})
	defer c2.Close()
	require.Equal(t, Allow, c2.Decide(HTTP, net.ParseIP("192.168.1.5")))
}

func TestWhitelistCIDR(t *testing.T) {
	_, n, _ := net.ParseCIDR("203.0.113.0/24")
	c := New(config.AccessConfig{HTTPEnabled: true, Whitelist: []*net.IPNet{n}})
	defer c.Close()
	require.Equal(t, Allow, c.Decide(HTTP, net.ParseIP("203.0.113.42")))
	require.Equal(t, Deny, c.Decide(HTTP, net.ParseIP("203.0.114.1")))
}

func TestDisabledProtocolAlwaysAllows(t *testing.T) {
	c := New(config.AccessConfig{HTTPEnabled: false})
	defer c.Close()
	c.BlacklistAdd("9.9.9.9", "abuse", 0)
	require.Equal(t, Allow, c.Decide(HTTP, net.ParseIP("9.9.9.9")))
}

func TestBlacklistExpiry(t *testing.T) {
	c := New(config.AccessConfig{HTTPEnabled: true, AllowAllPublic: true})
	defer c.Close()
	c.BlacklistAdd("9.9.9.9", "temp", -1) // already expired relative to now
	require.Equal(t, Allow, c.Decide(HTTP, net.ParseIP("9.9.9.9")))
}

func TestBlacklistRemove(t *testing.T) {
	c := New(config.AccessConfig{HTTPEnabled: true})
	defer c.Close()
	c.BlacklistAdd("9.9.9.9", "abuse", 0)
	c.BlacklistRemove("9.9.9.9")
	require.Equal(t, Deny, c.Decide(HTTP, net.ParseIP("9.9.9.9")), "no whitelist/allow rules, default deny")
}
