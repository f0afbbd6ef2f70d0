// Package routematch implements the Route Matcher (component C): matching
// an incoming request to the best HttpRoute within a rule by host, method,
// headers, and longest path-prefix, grounded on the teacher's
// caddyhttp/httpserver/vhosttrie.go and path.go precedence rules (longest
// prefix wins, declaration order breaks ties).
package routematch

import (
	"net"
	"net/http"
	"strings"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
)

// Result is a successful match.
type Result struct {
	Route         config.HTTPRoute
	MatchedPrefix string
}

// Match finds the best route for the given request attributes among
// routes, applying §4.C's pipeline: enabled -> host -> method -> required
// headers -> longest-prefix with declaration-order tie-break.
func Match(routes []config.HTTPRoute, host, method string, headers http.Header, path string) (Result, bool) {
	host = stripPort(host)

	candidates := filterEnabled(routes)
	candidates = filterByHost(candidates, host)
	candidates = filterByMethod(candidates, method)
	candidates = filterByHeaders(candidates, headers)

	return longestPrefix(candidates, path)
}

func filterEnabled(routes []config.HTTPRoute) []config.HTTPRoute {
	out := make([]config.HTTPRoute, 0, len(routes))
	for _, r := range routes {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// filterByHost tries exact host matches first, then wildcard "*.suffix"
// matches, then routes with no host constraint, using whichever non-empty
// group appears first — exact beats wildcard beats unset, per §4.C.
func filterByHost(routes []config.HTTPRoute, host string) []config.HTTPRoute {
	var exact, wildcard, unset []config.HTTPRoute
	for _, r := range routes {
		switch {
		case r.Host == "":
			unset = append(unset, r)
		case strings.HasPrefix(r.Host, "*."):
			if hostMatchesWildcard(host, r.Host) {
				wildcard = append(wildcard, r)
			}
		case strings.EqualFold(r.Host, host):
			exact = append(exact, r)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	if len(wildcard) > 0 {
		return wildcard
	}
	return unset
}

func hostMatchesWildcard(host, pattern string) bool {
	suffix := pattern[1:] // ".suffix"
	if !strings.HasSuffix(strings.ToLower(host), strings.ToLower(suffix)) {
		return false
	}
	// Require at least one label before the suffix so "*.example.com"
	// does not match bare "example.com".
	return len(host) > len(suffix)
}

func filterByMethod(routes []config.HTTPRoute, method string) []config.HTTPRoute {
	out := make([]config.HTTPRoute, 0, len(routes))
	for _, r := range routes {
		if len(r.Methods) == 0 {
			out = append(out, r)
			continue
		}
		for _, m := range r.Methods {
			if strings.EqualFold(m, method) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func filterByHeaders(routes []config.HTTPRoute, headers http.Header) []config.HTTPRoute {
	out := make([]config.HTTPRoute, 0, len(routes))
	for _, r := range routes {
		if headersSatisfy(r.RequiredHeaders, headers) {
			out = append(out, r)
		}
	}
	return out
}

func headersSatisfy(required map[string]string, headers http.Header) bool {
	for name, want := range required {
		got := headers.Get(name)
		if want == "*" {
			if got == "" {
				return false
			}
			continue
		}
		if !strings.EqualFold(got, want) {
			return false
		}
	}
	return true
}

func longestPrefix(routes []config.HTTPRoute, path string) (Result, bool) {
	bestIdx := -1
	bestLen := -1
	for i, r := range routes {
		if !strings.HasPrefix(path, r.PathPrefix) {
			continue
		}
		if len(r.PathPrefix) > bestLen {
			bestLen = len(r.PathPrefix)
			bestIdx = i
		}
		// Equal length: earlier declared route (lower i) already won
		// since we only replace on strictly greater length.
	}
	if bestIdx == -1 {
		return Result{}, false
	}
	return Result{Route: routes[bestIdx], MatchedPrefix: routes[bestIdx].PathPrefix}, true
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
