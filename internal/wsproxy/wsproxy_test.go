package wsproxy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
)

func TestMatchRouteLongestPrefixWins(t *testing.T) {
	e := &Engine{rule: config.WSRule{Routes: []config.WSRoute{
		{ID: "a", PathPrefix: "/ws", UpstreamURL: "ws://a"},
		{ID: "b", PathPrefix: "/ws/chat", UpstreamURL: "ws://b"},
	}}}
	r, ok := e.matchRoute("/ws/chat/room1")
	require.True(t, ok)
	require.Equal(t, "b", r.ID)
}

func TestMatchRouteNoMatch(t *testing.T) {
	e := &Engine{rule: config.WSRule{Routes: []config.WSRoute{
		{ID: "a", PathPrefix: "/ws", UpstreamURL: "ws://a"},
	}}}
	_, ok := e.matchRoute("/other")
	require.False(t, ok)
}

func TestToWSURLRewritesScheme(t *testing.T) {
	u, err := toWSURL("https://upstream.example.com/chat")
	require.NoError(t, err)
	require.Equal(t, "wss://upstream.example.com/chat", u)

	u2, err := toWSURL("ws://upstream.example.com/chat")
	require.NoError(t, err)
	require.Equal(t, "ws://upstream.example.com/chat", u2)
}
