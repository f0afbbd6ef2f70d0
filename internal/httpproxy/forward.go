package httpproxy

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/userfhy/SSLProxyManager-Tauri/internal/pool"
)

// bufferPool mirrors caddyhttp/proxy/reverseproxy.go's pooledIoCopy: a
// reusable byte slice for streaming response bodies without per-request
// allocation.
var bufferPool = sync.Pool{New: func() any { return make([]byte, 32*1024) }}

func pooledCopy(dst io.Writer, src io.Reader) (int64, error) {
	buf := bufferPool.Get().([]byte)
	defer bufferPool.Put(buf)
	return io.CopyBuffer(dst, src, buf)
}

// singleJoiningSlash concatenates a base path and a suffix without a
// doubled or missing slash, the same helper reverseproxy.go uses to join
// proxy_pass targets to request paths.
func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash && b != "":
		return a + "/" + b
	}
	return a + b
}

// rewriteOutbound turns the inbound request into the one sent upstream:
// scheme/host swapped to the upstream URL, ProxyPassPath spliced onto the
// path, and the outbound Host header defaulted to the upstream's
// authority unless a set_headers rule already named one (§4.H), signaled
// by hostOverridden from transform.ApplyRequestHeaders.
func rewriteOutbound(req *http.Request, upstream *url.URL, proxyPassPath string, hostOverridden bool) {
	req.URL.Scheme = upstream.Scheme
	req.URL.Host = upstream.Host
	if !hostOverridden {
		req.Host = upstream.Host
	}
	if proxyPassPath != "" {
		req.URL.Path = singleJoiningSlash(proxyPassPath, req.URL.Path)
	} else {
		req.URL.Path = singleJoiningSlash(upstream.Path, req.URL.Path)
	}
	req.RequestURI = ""
}

// originFor derives the pool.Origin key for an upstream URL, matching
// §4.B's "(scheme, authority, alpn) triple"; ALPN is left empty, and the
// pool itself keeps connections that negotiated h2 apart from HTTP/1.1
// ones.
func originFor(u *url.URL) pool.Origin {
	authority := u.Host
	if !strings.Contains(authority, ":") {
		if u.Scheme == "https" {
			authority += ":443"
		} else {
			authority += ":80"
		}
	}
	return pool.Origin{Scheme: u.Scheme, Authority: authority}
}

// roundTrip sends req over a pooled connection and returns the upstream
// response. For an HTTP/2 loan it rides the shared ClientConn; for
// HTTP/1.1 it writes the request directly to the raw net.Conn and parses
// the response off the same reader, the way httputil.ReverseProxy's
// predecessor in net/http/transport.go works before any pooling wrapper.
func roundTrip(pc *pool.PooledConn, req *http.Request) (*http.Response, error) {
	if pc.HTTP2() {
		return pc.ClientConn().RoundTrip(req)
	}
	if err := req.Write(pc); err != nil {
		return nil, err
	}
	resp, err := http.ReadResponse(bufio.NewReader(pc), req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// dialTimeout derives a context deadline from a Limits.ConnectTimeoutMs
// value, defaulting to 10s when unset, mirroring defaultDialer's 30s
// teacher default scaled down for the shorter proxy-core budget.
func dialTimeout(connectTimeoutMs int) time.Duration {
	if connectTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(connectTimeoutMs) * time.Millisecond
}

func acquireConn(ctx context.Context, p *pool.Pool, upstream *url.URL, timeout time.Duration) (*pool.PooledConn, error) {
	deadline := time.Now().Add(timeout)
	origin := originFor(upstream)
	return p.Acquire(ctx, origin, deadline)
}
