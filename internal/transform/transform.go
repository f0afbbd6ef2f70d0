// Package transform implements the Body Transformer (component G):
// header mutation with variable expansion, URL-path rewriting, literal or
// regex body substitution with bounded buffering, and response
// compression selection, grounded on caddyhttp/httpserver/replacer.go's
// variable-expansion idiom and caddyhttp/gzip's and caddyhttp/brotli's
// pooled-writer compression pattern.
package transform

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/textproto"
	"regexp"
	"strings"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
)

// ErrPayloadTooLarge is returned when a buffered body exceeds its
// configured cap (§4.G, §7's PayloadTooLarge).
var ErrPayloadTooLarge = errors.New("transform: payload too large")

// Vars carries the per-request values $remote_addr, $scheme, and the
// running X-Forwarded-For chain expand into.
type Vars struct {
	RemoteAddr string
	Scheme     string
	ExistingXFF string
}

func expand(value string, v Vars) string {
	r := strings.NewReplacer(
		"$remote_addr", v.RemoteAddr,
		"$scheme", v.Scheme,
		"$proxy_add_x_forwarded_for", addXFF(v.ExistingXFF, v.RemoteAddr),
	)
	return r.Replace(value)
}

// addXFF appends the immediate peer to an existing X-Forwarded-For chain,
// comma-separated, following de-facto practice.
func addXFF(existing, remoteAddr string) string {
	if existing == "" {
		return remoteAddr
	}
	return existing + ", " + remoteAddr
}

// ApplyRequestHeaders mutates req's headers in place: set_headers (with
// variable expansion), then remove_headers, per §4.G's ordering. It
// reports whether a set_headers rule named "Host", since http.Request
// ignores a Host header entry in favor of the Host field when writing
// the request to the wire: the caller uses the return value to decide
// whether the outbound Host should still default to the upstream
// authority (§4.H).
func ApplyRequestHeaders(req *http.Request, route config.HTTPRoute, v Vars) (hostOverridden bool) {
	for _, kv := range route.SetHeaders {
		value := expand(kv.Value, v)
		req.Header.Set(kv.Name, value)
		if textproto.CanonicalMIMEHeaderKey(kv.Name) == "Host" {
			req.Host = value
			hostOverridden = true
		}
	}
	for _, name := range route.RemoveHeaders {
		req.Header.Del(name)
	}
	return hostOverridden
}

// ApplyResponseHeaders mutates resp headers the same way, for the
// response-side half of §4.G's pipeline.
func ApplyResponseHeaders(header http.Header, route config.HTTPRoute, v Vars) {
	for _, kv := range route.SetHeaders {
		header.Set(kv.Name, expand(kv.Value, v))
	}
	for _, name := range route.RemoveHeaders {
		header.Del(name)
	}
}

// RewritePath applies the first enabled matching regex rewrite rule to
// path, or returns it unchanged if none match (§4.G: "first enabled match
// applies").
func RewritePath(path string, rules []config.URLRewrite) (string, error) {
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile(rule.Regex)
		if err != nil {
			return path, err
		}
		if re.MatchString(path) {
			return re.ReplaceAllString(path, rule.Replacement), nil
		}
	}
	return path, nil
}

// ReadBounded reads all of r up to limit+1 bytes, returning
// ErrPayloadTooLarge if the body exceeds limit. Used for both request and
// response bodies when a buffering transform (body substitution or
// compression) requires the whole body in memory (§4.G).
func ReadBounded(r io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(r, limit+1)
	buf, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > limit {
		return nil, ErrPayloadTooLarge
	}
	return buf, nil
}

// ApplyBodyReplace runs every enabled rule (literal or regex) against
// body in order, returning the transformed bytes. contentType gates rules
// that name a content-type filter.
func ApplyBodyReplace(body []byte, rules []config.BodyReplace, contentType string) []byte {
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if len(rule.ContentType) > 0 && !contentTypeMatches(contentType, rule.ContentType) {
			continue
		}
		if rule.UseRegex {
			re, err := regexp.Compile(rule.Find)
			if err != nil {
				continue
			}
			body = re.ReplaceAll(body, []byte(rule.Replace))
		} else {
			body = bytes.ReplaceAll(body, []byte(rule.Find), []byte(rule.Replace))
		}
	}
	return body
}

func contentTypeMatches(contentType string, filters []string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	for _, f := range filters {
		if strings.EqualFold(strings.TrimSpace(f), ct) {
			return true
		}
	}
	return false
}

// HasEnabledBodyRule reports whether any rule in rules is enabled, used to
// decide whether the framing-preserving streaming fast path (§4.G) can be
// taken.
func HasEnabledBodyRule(rules []config.BodyReplace) bool {
	for _, r := range rules {
		if r.Enabled {
			return true
		}
	}
	return false
}

// StripHopByHopHeaders removes headers whose meaning is confined to a
// single transport hop, per §4.H / the GLOSSARY's "hop-by-hop header"
// entry. It also honors additional tokens named by a Connection header.
func StripHopByHopHeaders(h http.Header) {
	if c := h.Get("Connection"); c != "" {
		for _, f := range strings.Split(c, ",") {
			if f = strings.TrimSpace(f); f != "" {
				h.Del(f)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// CanonicalHeaderName re-exports textproto's canonicalization so callers
// comparing header names use the same rules as http.Header itself.
func CanonicalHeaderName(name string) string {
	return textproto.CanonicalMIMEHeaderKey(name)
}
