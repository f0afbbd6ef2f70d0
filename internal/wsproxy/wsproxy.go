// Package wsproxy implements the WebSocket Proxy Engine (component I):
// upgrade detection, a dial to the matched upstream, and a bidirectional
// frame relay with keepalive pings, grounded on
// caddyhttp/websocket/websocket.go's writeWait/pongWait/pingPeriod
// constants and on caddyhttp/proxy/reverseproxy.go's hijack-based upgrade
// handling, using github.com/gorilla/websocket (a teacher dependency in
// its v1 source tree) on both the server and client side.
package wsproxy

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/access"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	pongWait       = 90 * time.Second
	maxMessageSize = 10 * 1024 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Engine serves one WSRule: its listen addresses share basic-auth policy
// and front an ordered path-prefix-to-upstream route list (§4.I). The
// rule's TLS setting is not applied: the supervisor serves WS listeners
// over plain TCP only.
type Engine struct {
	rule   config.WSRule
	access *access.Controller
}

// NewEngine builds an Engine for a validated WSRule.
func NewEngine(rule config.WSRule, accessCtl *access.Controller) *Engine {
	return &Engine{rule: rule, access: accessCtl}
}

func (e *Engine) matchRoute(path string) (config.WSRoute, bool) {
	best := config.WSRoute{}
	found := false
	for _, r := range e.rule.Routes {
		if strings.HasPrefix(path, r.PathPrefix) {
			if !found || len(r.PathPrefix) > len(best.PathPrefix) {
				best = r
				found = true
			}
		}
	}
	return best, found
}

func clientIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

// ServeHTTP upgrades the inbound request, dials the matched upstream, and
// relays frames until either side closes.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if e.access != nil && e.access.Decide(access.WS, clientIP(r)) == access.Deny {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	if e.rule.BasicAuth != nil {
		user, pass, ok := r.BasicAuth()
		if !ok || user != e.rule.BasicAuth.User || pass != e.rule.BasicAuth.Pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="restricted"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
	}

	route, ok := e.matchRoute(r.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	upstreamURL, err := toWSURL(route.UpstreamURL)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	upConn, _, err := websocket.DefaultDialer.Dial(upstreamURL, filteredHeader(r.Header))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer upConn.Close()

	downConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer downConn.Close()

	relay(downConn, upConn)
}

// toWSURL rewrites an http(s) upstream URL to its ws(s) equivalent if
// needed; route.UpstreamURL may already be given as ws:// or wss://.
func toWSURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

func filteredHeader(h http.Header) http.Header {
	out := http.Header{}
	for _, k := range []string{"Cookie", "User-Agent", "Origin"} {
		if v := h.Get(k); v != "" {
			out.Set(k, v)
		}
	}
	return out
}

// relay pipes frames bidirectionally between the client and upstream
// connections, sending periodic pings on both legs the way
// websocket.go's serveWS read/write pump pair does, and closing both
// sides as soon as either direction errors or a leg misses pongWait's
// worth of PONG replies.
func relay(client, upstream *websocket.Conn) {
	client.SetReadLimit(maxMessageSize)
	upstream.SetReadLimit(maxMessageSize)
	armPongTimeout(client)
	armPongTimeout(upstream)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pump(upstream, client)
	}()
	go func() {
		defer wg.Done()
		pump(client, upstream)
	}()
	wg.Wait()
}

// armPongTimeout sets conn's initial read deadline to pongWait and
// installs a pong handler that pushes the deadline out on every PONG, so
// a leg that stops acking pings has its ReadMessage call fail once
// pongWait elapses instead of hanging indefinitely.
func armPongTimeout(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
}

// pump reads frames from src and writes them to dst until src errors or
// closes, and drives a ping ticker against dst to keep its peer alive.
func pump(src, dst *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			mt, data, err := src.ReadMessage()
			if err != nil {
				code := websocket.CloseNormalClosure
				if ce, ok := err.(*websocket.CloseError); ok {
					code = ce.Code
				}
				dst.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(writeWait))
				return
			}
			dst.SetWriteDeadline(time.Now().Add(writeWait))
			if err := dst.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			dst.SetWriteDeadline(time.Now().Add(writeWait))
			if err := dst.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
