package supervisor

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/access"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/httpproxy"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/streamproxy"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/wsproxy"
)

// shutdownGrace bounds how long a draining listener gets before its
// connections are forced closed, per §4.K's "bounded grace" rule.
const shutdownGrace = 10 * time.Second

func runHTTPServer(ctx context.Context, addr string, engine *httpproxy.Engine, tlsCfg *tls.Config, limits config.Limits) error {
	srv := httpproxy.NewServer(addr, engine, tlsCfg, limits)
	return runWithGracefulStop(ctx, srv.ListenAndServe, srv.Shutdown)
}

func runWSServer(ctx context.Context, addr string, engine *wsproxy.Engine) error {
	httpSrv := &http.Server{Addr: addr, Handler: engine}
	serve := func() error {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		return httpSrv.Serve(ln)
	}
	return runWithGracefulStop(ctx, serve, httpSrv.Shutdown)
}

func runTCPServer(ctx context.Context, srvCfg config.StreamServer, up config.StreamUpstream, accessCtl *access.Controller) error {
	ln, err := net.Listen("tcp", portAddr(srvCfg.ListenPort))
	if err != nil {
		return err
	}
	tcp := streamproxy.NewTCPServer(srvCfg, up, accessCtl)

	done := make(chan error, 1)
	go func() { done <- tcp.Serve(ln) }()

	select {
	case <-ctx.Done():
		ln.Close()
		<-done
		return nil
	case err := <-done:
		return err
	}
}

func runUDPServer(ctx context.Context, srvCfg config.StreamServer, up config.StreamUpstream, accessCtl *access.Controller) error {
	addr, err := net.ResolveUDPAddr("udp", portAddr(srvCfg.ListenPort))
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	udp := streamproxy.NewUDPServer(srvCfg, up, accessCtl)

	done := make(chan error, 1)
	go func() { done <- udp.Serve(conn) }()

	select {
	case <-ctx.Done():
		conn.Close()
		<-done
		return nil
	case err := <-done:
		return err
	}
}

func portAddr(port int) string {
	return ":" + strconv.Itoa(port)
}

// runWithGracefulStop runs serve in the background and, on ctx
// cancellation, calls shutdown with a bounded grace period before
// returning.
func runWithGracefulStop(ctx context.Context, serve func() error, shutdown func(context.Context) error) error {
	done := make(chan error, 1)
	go func() { done <- serve() }()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		shutdown(shutCtx)
		<-done
		return nil
	case err := <-done:
		return err
	}
}
