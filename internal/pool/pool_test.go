package pool

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func listenEcho(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 256)
				for {
					n, err := c.Read(buf)
					if err != nil {
						return
					}
					c.Write(buf[:n])
				}
			}(c)
		}
	}()
	return ln
}

func TestAcquireReleaseReuse(t *testing.T) {
	ln := listenEcho(t)
	defer ln.Close()

	p := New(Config{ConnectTimeout: time.Second, IdleTimeout: time.Minute, MaxIdle: 4})
	defer p.Close()

	origin := Origin{Scheme: "http", Authority: ln.Addr().String()}

	pc, err := p.Acquire(context.Background(), origin, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 0, p.IdleCount(origin))

	p.Release(pc, true)
	require.Equal(t, 1, p.IdleCount(origin))

	pc2, err := p.Acquire(context.Background(), origin, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 0, p.IdleCount(origin))
	p.Release(pc2, true)
}

func TestReleaseUnreusableCloses(t *testing.T) {
	ln := listenEcho(t)
	defer ln.Close()

	p := New(Config{ConnectTimeout: time.Second, IdleTimeout: time.Minute, MaxIdle: 4})
	defer p.Close()
	origin := Origin{Scheme: "http", Authority: ln.Addr().String()}

	pc, err := p.Acquire(context.Background(), origin, time.Time{})
	require.NoError(t, err)
	p.Release(pc, false)
	require.Equal(t, 0, p.IdleCount(origin))
}

func TestAcquireConnectErrorSurfacesImmediately(t *testing.T) {
	p := New(Config{ConnectTimeout: 50 * time.Millisecond})
	defer p.Close()
	_, err := p.Acquire(context.Background(), Origin{Scheme: "http", Authority: "127.0.0.1:1"}, time.Time{})
	require.Error(t, err)
	var cerr *ConnectError
	require.ErrorAs(t, err, &cerr)
}

func TestMaxIdleEvictsOldest(t *testing.T) {
	ln := listenEcho(t)
	defer ln.Close()
	p := New(Config{ConnectTimeout: time.Second, IdleTimeout: time.Minute, MaxIdle: 1})
	defer p.Close()
	origin := Origin{Scheme: "http", Authority: ln.Addr().String()}

	pc1, err := p.Acquire(context.Background(), origin, time.Time{})
	require.NoError(t, err)
	pc2, err := p.Acquire(context.Background(), origin, time.Time{})
	require.NoError(t, err)

	p.Release(pc1, true)
	p.Release(pc2, true)
	require.Equal(t, 1, p.IdleCount(origin))
}
