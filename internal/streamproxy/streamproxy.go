// Package streamproxy implements the Stream Proxy Engine (component J):
// TCP and UDP passthrough with consistent-hash upstream selection,
// grounded on caddyhttp/proxy/reverseproxy.go's pooledIoCopy buffer-reuse
// idiom, generalized from HTTP body copying to a full-duplex byte splice.
package streamproxy

import (
	"io"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/access"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/selector"
)

var copyBufferPool = sync.Pool{New: func() any { return make([]byte, 32*1024) }}

func pooledCopy(dst io.Writer, src io.Reader) (int64, error) {
	buf := copyBufferPool.Get().([]byte)
	defer copyBufferPool.Put(buf)
	return io.CopyBuffer(dst, src, buf)
}

// TCPServer accepts connections on one StreamServer's listen port and
// forwards each to a ring-selected member of its named upstream group.
type TCPServer struct {
	cfg      config.StreamServer
	upstream config.StreamUpstream
	ring     *selector.Ring
	failures *selector.FailureTracker
	access   *access.Controller
}

// NewTCPServer builds a TCPServer for one validated StreamServer entry.
func NewTCPServer(cfg config.StreamServer, upstream config.StreamUpstream, accessCtl *access.Controller) *TCPServer {
	return &TCPServer{
		cfg:      cfg,
		upstream: upstream,
		ring:     selector.BuildRing(upstream),
		failures: selector.NewFailureTracker(),
		access:   accessCtl,
	}
}

// Serve accepts on ln until it's closed, spawning one goroutine per
// connection; each connection's lifetime is bounded by its own
// idle_timeout once data stops flowing in both directions.
func (s *TCPServer) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

func (s *TCPServer) handle(client net.Conn) {
	defer client.Close()

	if s.access != nil {
		ip := hostIP(client.RemoteAddr())
		if s.access.Decide(access.Stream, ip) == access.Deny {
			return
		}
	}

	key := hashKey(s.upstream.HashKey, client.RemoteAddr())

	attempts := len(s.upstream.Members)
	if attempts < 1 {
		attempts = 1
	}
	var up net.Conn
	var err error
	for i := 0; i < attempts; i++ {
		addr, ok := s.ring.Pick(key, s.failures)
		if !ok {
			return
		}
		up, err = net.DialTimeout("tcp", addr, timeoutOrDefault(s.cfg.ConnectTimeout))
		if err == nil {
			break
		}
		s.failures.MarkFailed(addr, 10*time.Second)
	}
	if err != nil || up == nil {
		return
	}
	defer up.Close()

	splice(client, up, timeoutOrDefault(s.cfg.IdleTimeout))
}

// splice relays bytes in both directions until either side closes or the
// idle timeout elapses with no traffic in either direction.
func splice(a, b net.Conn, idle time.Duration) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		copyWithIdle(b, a, idle)
		closeWrite(b)
	}()
	go func() {
		defer wg.Done()
		copyWithIdle(a, b, idle)
		closeWrite(a)
	}()
	wg.Wait()
}

// closeWrite half-closes a TCP connection's write side so the peer sees
// EOF without tearing down the read side that may still be draining.
func closeWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}
}

func copyWithIdle(dst net.Conn, src net.Conn, idle time.Duration) {
	if idle <= 0 {
		pooledCopy(dst, src)
		return
	}
	buf := copyBufferPool.Get().([]byte)
	defer copyBufferPool.Put(buf)
	for {
		src.SetReadDeadline(time.Now().Add(idle))
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func timeoutOrDefault(seconds int) time.Duration {
	if seconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(seconds) * time.Second
}

func hostIP(addr net.Addr) net.IP {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return net.ParseIP(addr.String())
	}
	return net.ParseIP(host)
}

// hashKey derives the consistent-hash key named by a StreamUpstream's
// hash_key field; only "$remote_addr" is meaningful per §4.D, so any
// other value falls back to the whole remote address string.
func hashKey(spec string, addr net.Addr) string {
	switch spec {
	case "$remote_addr", "":
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return addr.String()
		}
		return host
	default:
		return addr.String()
	}
}

// udpSession tracks one client's mapping to its chosen upstream for the
// duration of a UDP "connection" (§4.J: "session map keyed by client
// address, size-bounded and LRU-evicted, idle_timeout expiry").
type udpSession struct {
	upstream *net.UDPConn
	lastSeen time.Time
}

// UDPServer relays UDP datagrams between clients and a ring-selected
// upstream member, tracking per-client sessions in a bounded LRU table.
type UDPServer struct {
	cfg      config.StreamServer
	upstream config.StreamUpstream
	ring     *selector.Ring
	failures *selector.FailureTracker
	access   *access.Controller

	mu       sync.Mutex
	sessions *lru.Cache[string, *udpSession]
}

const defaultUDPSessionTableSize = 4096

// NewUDPServer builds a UDPServer for one validated StreamServer entry.
func NewUDPServer(cfg config.StreamServer, upstream config.StreamUpstream, accessCtl *access.Controller) *UDPServer {
	sessions, _ := lru.NewWithEvict[string, *udpSession](defaultUDPSessionTableSize, func(_ string, s *udpSession) {
		s.upstream.Close()
	})
	return &UDPServer{
		cfg:      cfg,
		upstream: upstream,
		ring:     selector.BuildRing(upstream),
		failures: selector.NewFailureTracker(),
		access:   accessCtl,
		sessions: sessions,
	}
}

// Serve reads datagrams from conn and relays them per client session
// until conn is closed.
func (s *UDPServer) Serve(conn *net.UDPConn) error {
	buf := make([]byte, 64*1024)
	for {
		n, clientAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		s.handleDatagram(conn, clientAddr, append([]byte(nil), buf[:n]...))
	}
}

func (s *UDPServer) handleDatagram(conn *net.UDPConn, clientAddr *net.UDPAddr, data []byte) {
	if s.access != nil && s.access.Decide(access.Stream, clientAddr.IP) == access.Deny {
		return
	}

	key := clientAddr.String()
	s.mu.Lock()
	sess, ok := s.sessions.Get(key)
	s.mu.Unlock()

	if !ok {
		addr, pickOK := s.ring.Pick(hashKey(s.upstream.HashKey, clientAddr), s.failures)
		if !pickOK {
			return
		}
		upAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return
		}
		upConn, err := net.DialUDP("udp", nil, upAddr)
		if err != nil {
			s.failures.MarkFailed(addr, 10*time.Second)
			return
		}
		sess = &udpSession{upstream: upConn, lastSeen: time.Now()}
		s.mu.Lock()
		s.sessions.Add(key, sess)
		s.mu.Unlock()
		go s.pumpReplies(conn, clientAddr, key, upConn, timeoutOrDefault(s.cfg.IdleTimeout))
	}

	sess.lastSeen = time.Now()
	sess.upstream.Write(data)
}

// pumpReplies copies datagrams from the upstream back to the original
// client until idle elapses or the upstream connection errors, then
// evicts the session.
func (s *UDPServer) pumpReplies(conn *net.UDPConn, clientAddr *net.UDPAddr, key string, upConn *net.UDPConn, idle time.Duration) {
	buf := make([]byte, 64*1024)
	for {
		upConn.SetReadDeadline(time.Now().Add(idle))
		n, err := upConn.Read(buf)
		if err != nil {
			s.mu.Lock()
			s.sessions.Remove(key)
			s.mu.Unlock()
			return
		}
		conn.WriteToUDP(buf[:n], clientAddr)
	}
}
