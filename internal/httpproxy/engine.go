package httpproxy

import (
	"bytes"
	"crypto/subtle"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/access"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/filesystems"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/pool"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/ratelimit"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/routematch"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/selector"
	"github.com/userfhy/SSLProxyManager-Tauri/internal/transform"
)

// maxRedirectHops bounds the follow_redirects chase at §4.H's limit.
const maxRedirectHops = 5

// idempotentMethods is the set §4.H allows a 307/308 redirect or a retry
// to replay the original body for.
var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}

// Shared holds the dependencies every Engine in a running Config snapshot
// draws from: one pool across all listeners (keyed internally by
// origin), the access controller, and the observer sink.
type Shared struct {
	Pool     *pool.Pool
	Access   *access.Controller
	Limits   config.Limits
	Compress config.CompressionCfg
	Observer Recorder
}

// Engine serves one HTTPRule: its listen addresses share TLS, basic-auth,
// and rate-limit policy, and front an ordered route list (§4.A, §4.H).
type Engine struct {
	rule     config.HTTPRule
	shared   *Shared
	limiter  *ratelimit.Limiter
	wrr      *selector.WeightedRoundRobin
	failures *selector.FailureTracker
}

// NewEngine builds the per-rule selection and rate-limit state. It is
// called once per HTTPRule each time a new Config snapshot is published
// (package supervisor), never mutated afterward.
func NewEngine(rule config.HTTPRule, shared *Shared) *Engine {
	e := &Engine{
		rule:     rule,
		shared:   shared,
		wrr:      selector.NewWeightedRoundRobin(),
		failures: selector.NewFailureTracker(),
	}
	if rule.RateLimit != nil {
		e.limiter = ratelimit.New(*rule.RateLimit)
	}
	return e
}

// ServeHTTP drives one request through the §4.H pipeline, recording its
// outcome with the shared Recorder regardless of where it terminates.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	clientIP := remoteIP(r)
	rec := Record{Listener: e.rule.ID, Method: r.Method, Host: r.Host, Path: r.URL.Path, ClientIP: clientIP.String(), Started: started}

	defer func() {
		rec.Duration = time.Since(started)
		e.shared.Observer.Observe(rec)
	}()

	if e.shared.Access.Decide(access.HTTP, clientIP) == access.Deny {
		e.fail(w, &rec, Authorized, ReasonDenied)
		return
	}

	if e.limiter != nil {
		switch e.limiter.Allow(listenerKey(e.rule), clientIP.String()) {
		case ratelimit.Denied, ratelimit.Banned:
			e.fail(w, &rec, Authorized, ReasonRateLimited)
			return
		}
	}
	rec.Stage = Authorized

	result, ok := routematch.Match(e.rule.Routes, r.Host, r.Method, r.Header, r.URL.Path)
	if !ok {
		e.fail(w, &rec, Matched, ReasonRouteMiss)
		return
	}
	route := result.Route
	rec.RouteID = route.ID
	rec.Stage = Matched

	if e.rule.BasicAuth != nil && !route.ExcludeBasicAuth {
		if !checkBasicAuth(r, *e.rule.BasicAuth) {
			w.Header().Set("WWW-Authenticate", `Basic realm="restricted"`)
			e.fail(w, &rec, Authorized, ReasonUnauthorized)
			return
		}
	}

	if route.StaticDir != "" {
		e.serveStatic(w, r, route, &rec)
		return
	}

	e.serveUpstream(w, r, route, clientIP, &rec)
}

func (e *Engine) fail(w http.ResponseWriter, rec *Record, stage Stage, reason Reason) {
	rec.Stage = Failed
	rec.Reason = reason
	rec.Status = StatusFor(reason)
	http.Error(w, http.StatusText(rec.Status), rec.Status)
}

func listenerKey(rule config.HTTPRule) string {
	if len(rule.ListenAddr) > 0 {
		return rule.ID + "@" + rule.ListenAddr[0]
	}
	return rule.ID
}

func checkBasicAuth(r *http.Request, cfg config.BasicAuthConfig) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(cfg.User)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(cfg.Pass)) == 1
	if !cfg.Forward {
		r.Header.Del("Authorization")
	}
	return userOK && passOK
}

func remoteIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

func (e *Engine) serveStatic(w http.ResponseWriter, r *http.Request, route config.HTTPRoute, rec *Record) {
	rec.Stage = Transformed
	root := route.StaticDir
	if root == "" {
		root = "."
	}
	sub, err := fs.Sub(filesystems.DefaultFileSystem, root)
	if err != nil {
		e.fail(w, rec, Transformed, ReasonUpstreamError)
		return
	}
	handler := http.FileServer(http.FS(sub))
	path := strings.TrimPrefix(r.URL.Path, route.PathPrefix)
	if path == "" {
		path = "/"
	}
	r2 := r.Clone(r.Context())
	r2.URL.Path = path
	rw := &statusCapture{ResponseWriter: w, status: http.StatusOK}
	handler.ServeHTTP(rw, r2)
	rec.Stage = Completed
	rec.Status = rw.status
}

type statusCapture struct {
	http.ResponseWriter
	status int
}

func (s *statusCapture) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (e *Engine) serveUpstream(w http.ResponseWriter, r *http.Request, route config.HTTPRoute, clientIP net.IP, rec *Record) {
	vars := transform.Vars{RemoteAddr: clientIP.String(), Scheme: schemeOf(r), ExistingXFF: r.Header.Get("X-Forwarded-For")}

	var bodyBytes []byte
	if transform.HasEnabledBodyRule(route.RequestBodyReplace) && r.Body != nil {
		limit := e.shared.Limits.MaxRequestBody
		if limit <= 0 {
			limit = 10 << 20
		}
		buf, err := transform.ReadBounded(r.Body, limit)
		if err != nil {
			e.fail(w, rec, Transformed, ReasonPayloadTooLarge)
			return
		}
		bodyBytes = transform.ApplyBodyReplace(buf, route.RequestBodyReplace, r.Header.Get("Content-Type"))
	}

	path, err := transform.RewritePath(r.URL.Path, route.URLRewrites)
	if err == nil {
		r.URL.Path = path
	}
	hostOverridden := transform.ApplyRequestHeaders(r, route, vars)
	transform.StripHopByHopHeaders(r.Header)
	r.Header.Set("X-Forwarded-For", xff(vars))
	r.Header.Set("X-Forwarded-Proto", vars.Scheme)
	r.Header.Set("X-Forwarded-Host", r.Host)
	r.Header.Set("X-Real-IP", vars.RemoteAddr)
	rec.Stage = Transformed

	attempts := len(route.Upstreams)
	if attempts < 1 {
		attempts = 1
	}
	var lastReason = ReasonUpstreamUnavailable
	for try := 0; try < attempts; try++ {
		up, ok := e.wrr.Select(route.ID, route.Upstreams, e.failures)
		if !ok {
			break
		}
		rec.Upstream = up.URL

		status, reason := e.forwardOnce(w, r, route, up, bodyBytes, hostOverridden, rec)
		if reason == ReasonNone {
			return
		}
		lastReason = reason
		e.failures.MarkFailed(up.URL, 10*time.Second)
		if bodyBytes == nil && r.Body != nil && !idempotentMethods[r.Method] {
			// body already consumed by a non-idempotent method; no safe retry
			break
		}
		_ = status
	}
	e.fail(w, rec, Forwarding, lastReason)
}

func xff(v transform.Vars) string {
	if v.ExistingXFF == "" {
		return v.RemoteAddr
	}
	return v.ExistingXFF + ", " + v.RemoteAddr
}

func schemeOf(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// forwardOnce performs a single upstream attempt including connection
// acquisition and redirect-following, returning ReasonNone on a response
// that was fully written to w.
func (e *Engine) forwardOnce(w http.ResponseWriter, r *http.Request, route config.HTTPRoute, up config.WeightedUpstream, bodyBytes []byte, hostOverridden bool, rec *Record) (int, Reason) {
	target, err := url.Parse(up.URL)
	if err != nil {
		return 0, ReasonUpstreamUnavailable
	}

	outreq := r.Clone(r.Context())
	rewriteOutbound(outreq, target, route.ProxyPassPath, hostOverridden)
	if bodyBytes != nil {
		outreq.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		outreq.ContentLength = int64(len(bodyBytes))
	}

	timeout := dialTimeout(e.shared.Limits.ConnectTimeoutMs)
	pc, err := acquireConn(r.Context(), e.shared.Pool, target, timeout)
	if err != nil {
		return 0, ReasonUpstreamUnavailable
	}
	rec.Stage = UpstreamAcquired

	rec.Stage = Forwarding
	resp, err := roundTrip(pc, outreq)
	if err != nil {
		e.shared.Pool.Release(pc, false)
		if r.Context().Err() != nil {
			return 0, ReasonCancelled
		}
		return 0, ReasonUpstreamTimeout
	}

	hops := 0
	for isRedirectForRefetch(resp.StatusCode, route.FollowRedirects) && hops < maxRedirectHops {
		loc := resp.Header.Get("Location")
		if loc == "" {
			break
		}
		next, err := outreq.URL.Parse(loc)
		if err != nil {
			break
		}
		if (resp.StatusCode == http.StatusTemporaryRedirect || resp.StatusCode == http.StatusPermanentRedirect) && !idempotentMethods[outreq.Method] {
			break
		}
		resp.Body.Close()
		e.shared.Pool.Release(pc, true)

		outreq = outreq.Clone(r.Context())
		outreq.URL = next
		outreq.Host = next.Host
		outreq.RequestURI = ""

		pc, err = acquireConn(r.Context(), e.shared.Pool, next, timeout)
		if err != nil {
			return 0, ReasonUpstreamUnavailable
		}
		resp, err = roundTrip(pc, outreq)
		if err != nil {
			e.shared.Pool.Release(pc, false)
			return 0, ReasonUpstreamTimeout
		}
		hops++
	}

	rec.Stage = Responding
	e.writeResponse(w, r, resp, route)
	reusable := resp.Close == false
	e.shared.Pool.Release(pc, reusable)
	rec.Stage = Completed
	rec.Status = resp.StatusCode
	return resp.StatusCode, ReasonNone
}

func isRedirectForRefetch(status int, follow bool) bool {
	if !follow {
		return false
	}
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

// writeResponse applies §4.G's response-side header rewriting, body
// replacement, and compression before relaying the upstream response to
// the client. Body replacement and compression both require the full
// body in memory; when neither applies the response streams straight
// through a pooled buffer.
func (e *Engine) writeResponse(w http.ResponseWriter, r *http.Request, resp *http.Response, route config.HTTPRoute) {
	defer resp.Body.Close()
	transform.StripHopByHopHeaders(resp.Header)
	vars := transform.Vars{Scheme: "https"}
	transform.ApplyResponseHeaders(resp.Header, route, vars)

	bodyRule := transform.HasEnabledBodyRule(route.ResponseBodyReplace)
	needsBuffer := bodyRule || e.shared.Compress.Enabled

	if needsBuffer {
		limit := e.shared.Limits.MaxResponseBody
		if limit <= 0 {
			limit = 10 << 20
		}
		buf, err := transform.ReadBounded(resp.Body, limit)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return
		}
		if bodyRule {
			buf = transform.ApplyBodyReplace(buf, route.ResponseBodyReplace, resp.Header.Get("Content-Type"))
		}

		if e.shared.Compress.Enabled {
			enc := transform.SelectEncoding(e.shared.Compress, r.Header.Get("Accept-Encoding"),
				resp.Header.Get("Content-Type"), resp.Header.Get("Content-Encoding"), len(buf))
			if enc != transform.None {
				compressed, err := transform.Compress(enc, buf, e.shared.Compress)
				if err == nil {
					buf = compressed
					resp.Header.Set("Content-Encoding", string(enc))
					resp.Header.Add("Vary", "Accept-Encoding")
				}
			}
		}

		resp.Header.Del("Content-Length")
		copyHeader(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		w.Write(buf)
		return
	}

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	pooledCopy(w, resp.Body)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

