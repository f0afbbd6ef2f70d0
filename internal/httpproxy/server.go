package httpproxy

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
)

// Server binds one HTTPRule's listen addresses to its Engine, the way
// caddy.go's Instance.Start iterates each Caddyfile server block's bind
// addresses independently. TLSConfig is supplied by package tlsmgr when
// the rule's TLS field names a certificate; nil means plaintext.
type Server struct {
	Addr      string
	Engine    *Engine
	TLSConfig *tls.Config

	ReadTimeout  time.Duration
	IdleTimeout  time.Duration

	httpSrv *http.Server
}

// NewServer builds the underlying *http.Server for one bind address.
func NewServer(addr string, engine *Engine, tlsCfg *tls.Config, limits config.Limits) *Server {
	s := &Server{Addr: addr, Engine: engine, TLSConfig: tlsCfg}
	if limits.ReadTimeoutMs > 0 {
		s.ReadTimeout = time.Duration(limits.ReadTimeoutMs) * time.Millisecond
	} else {
		s.ReadTimeout = 30 * time.Second
	}
	s.IdleTimeout = 120 * time.Second
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      engine,
		TLSConfig:    tlsCfg,
		ReadTimeout:  s.ReadTimeout,
		IdleTimeout:  s.IdleTimeout,
	}
	return s
}

// ListenAndServe starts the listener and blocks, matching the
// listeners.go convention of returning only on shutdown or a fatal
// bind error (§4.K's ServerStartError reporting wraps this return).
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	if s.TLSConfig != nil {
		ln = tls.NewListener(ln, s.TLSConfig)
	}
	return s.httpSrv.Serve(ln)
}

// Shutdown drains in-flight requests within ctx's deadline, the
// bounded-grace half of §4.K's reconciliation contract.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
