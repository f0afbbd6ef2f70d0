package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
)

func TestBurstThenDenyThenBan(t *testing.T) {
	l := New(config.RateLimitConfig{RPS: 2, Burst: 2, BanSeconds: 1})

	require.Equal(t, Allow, l.Allow("listener1", "1.2.3.4"))
	require.Equal(t, Allow, l.Allow("listener1", "1.2.3.4"))
	require.Equal(t, Denied, l.Allow("listener1", "1.2.3.4"))
	require.Equal(t, Banned, l.Allow("listener1", "1.2.3.4"))

	time.Sleep(1100 * time.Millisecond)
	require.Equal(t, Allow, l.Allow("listener1", "1.2.3.4"))
}

func TestBansAreKeyedPerClientAndListener(t *testing.T) {
	l := New(config.RateLimitConfig{RPS: 1, Burst: 1, BanSeconds: 5})
	require.Equal(t, Allow, l.Allow("l1", "1.1.1.1"))
	require.Equal(t, Denied, l.Allow("l1", "1.1.1.1"))
	require.Equal(t, Allow, l.Allow("l1", "2.2.2.2"), "distinct client must have its own bucket")
	require.Equal(t, Allow, l.Allow("l2", "1.1.1.1"), "distinct listener must have its own bucket")
}

func TestNoBanWhenBanSecondsZero(t *testing.T) {
	l := New(config.RateLimitConfig{RPS: 1, Burst: 1, BanSeconds: 0})
	require.Equal(t, Allow, l.Allow("l1", "1.1.1.1"))
	require.Equal(t, Denied, l.Allow("l1", "1.1.1.1"))
	require.Equal(t, Denied, l.Allow("l1", "1.1.1.1"), "should stay Denied, never escalate to Banned")
}
