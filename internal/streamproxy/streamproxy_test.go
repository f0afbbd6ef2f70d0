package streamproxy

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHashKeyUsesRemoteAddrByDefault(t *testing.T) {
	addr, _ := net.ResolveTCPAddr("tcp", "203.0.113.5:5555")
	require.Equal(t, "203.0.113.5", hashKey("$remote_addr", addr))
	require.Equal(t, "203.0.113.5", hashKey("", addr))
}

func TestHashKeyFallsBackForUnknownSpec(t *testing.T) {
	addr, _ := net.ResolveTCPAddr("tcp", "203.0.113.5:5555")
	require.Equal(t, addr.String(), hashKey("$something_else", addr))
}

func TestTimeoutOrDefault(t *testing.T) {
	require.Equal(t, 10*time.Second, timeoutOrDefault(0))
	require.Equal(t, 5*time.Second, timeoutOrDefault(5))
}
