package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	b := time.Second
	for i := 0; i < 10; i++ {
		b = nextBackoff(b)
	}
	require.Equal(t, 30*time.Second, b)
}

func TestNextBackoffStartsDoubling(t *testing.T) {
	require.Equal(t, 2*time.Second, nextBackoff(time.Second))
	require.Equal(t, 4*time.Second, nextBackoff(2*time.Second))
}

func TestPortAddrFormatsColonPrefix(t *testing.T) {
	require.Equal(t, ":8080", portAddr(8080))
}
