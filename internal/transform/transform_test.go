package transform

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
)

func TestApplyRequestHeadersExpandsVars(t *testing.T) {
	req := httpRequest()
	route := config.HTTPRoute{
		SetHeaders:    []config.HeaderKV{{Name: "X-Real-IP", Value: "$remote_addr"}},
		RemoveHeaders: []string{"Authorization"},
	}
	req.Header.Set("Authorization", "Basic xyz")
	v := Vars{RemoteAddr: "1.2.3.4", Scheme: "https"}
	ApplyRequestHeaders(req, route, v)
	require.Equal(t, "1.2.3.4", req.Header.Get("X-Real-IP"))
	require.Empty(t, req.Header.Get("Authorization"))
}

func TestAddXFFAppendsExisting(t *testing.T) {
	require.Equal(t, "1.1.1.1", addXFF("", "1.1.1.1"))
	require.Equal(t, "9.9.9.9, 1.1.1.1", addXFF("9.9.9.9", "1.1.1.1"))
}

func TestRewritePathFirstEnabledMatch(t *testing.T) {
	rules := []config.URLRewrite{
		{Regex: "^/old", Replacement: "/new", Enabled: false},
		{Regex: "^/old", Replacement: "/shiny", Enabled: true},
	}
	got, err := RewritePath("/old/thing", rules)
	require.NoError(t, err)
	require.Equal(t, "/shiny/thing", got)
}

func TestReadBoundedEnforcesLimit(t *testing.T) {
	_, err := ReadBounded(bytesReader("hello world"), 5)
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	buf, err := ReadBounded(bytesReader("hello"), 5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
}

func TestApplyBodyReplaceLiteralAndRegex(t *testing.T) {
	rules := []config.BodyReplace{
		{Find: "foo", Replace: "bar", Enabled: true},
		{Find: `\d+`, Replace: "#", UseRegex: true, Enabled: true},
	}
	out := ApplyBodyReplace([]byte("foo123"), rules, "text/plain")
	require.Equal(t, "bar#", string(out))
}

func TestApplyBodyReplaceContentTypeFilter(t *testing.T) {
	rules := []config.BodyReplace{
		{Find: "foo", Replace: "bar", Enabled: true, ContentType: []string{"application/json"}},
	}
	out := ApplyBodyReplace([]byte("foo"), rules, "text/plain")
	require.Equal(t, "foo", string(out), "rule scoped to a different content type must not apply")
}

func TestSelectEncodingPrefersBrotli(t *testing.T) {
	cfg := config.CompressionCfg{Enabled: true, MinLength: 0, Gzip: config.GzipCfg{On: true}, Brotli: config.BrotliCfg{On: true}}
	enc := SelectEncoding(cfg, "gzip, br", "text/plain", "", 1000)
	require.Equal(t, Brotli, enc)
}

func TestSelectEncodingSkipsAlreadyEncoded(t *testing.T) {
	cfg := config.CompressionCfg{Enabled: true, MinLength: 0, Gzip: config.GzipCfg{On: true}}
	enc := SelectEncoding(cfg, "gzip", "text/plain", "gzip", 1000)
	require.Equal(t, None, enc)
}

func TestSelectEncodingSkipsNonCompressibleType(t *testing.T) {
	cfg := config.CompressionCfg{Enabled: true, MinLength: 0, Gzip: config.GzipCfg{On: true}}
	enc := SelectEncoding(cfg, "gzip", "image/png", "", 1000)
	require.Equal(t, None, enc)
}

func TestSelectEncodingSkipsBelowMinLength(t *testing.T) {
	cfg := config.CompressionCfg{Enabled: true, MinLength: 500, Gzip: config.GzipCfg{On: true}}
	enc := SelectEncoding(cfg, "gzip", "text/plain", "", 10)
	require.Equal(t, None, enc)
}

func TestCompressGzipRoundTrips(t *testing.T) {
	cfg := config.CompressionCfg{Gzip: config.GzipCfg{Level: 5}}
	out, err := Compress(Gzip, []byte("hello world"), cfg)
	require.NoError(t, err)
	require.NotEqual(t, "hello world", string(out))
}

func TestStripHopByHopHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "X-Custom")
	h.Set("X-Custom", "secret")
	h.Set("Upgrade", "websocket")
	h.Set("X-Keep", "yes")
	StripHopByHopHeaders(h)
	require.Empty(t, h.Get("Connection"))
	require.Empty(t, h.Get("X-Custom"))
	require.Empty(t, h.Get("Upgrade"))
	require.Equal(t, "yes", h.Get("X-Keep"))
}

func httpRequest() *http.Request {
	req, _ := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	return req
}

func bytesReader(s string) *stringReaderCloser { return &stringReaderCloser{s: s} }

type stringReaderCloser struct {
	s   string
	pos int
}

func (r *stringReaderCloser) Read(p []byte) (int, error) {
	if r.pos >= len(r.s) {
		return 0, io.EOF
	}
	n := copy(p, r.s[r.pos:])
	r.pos += n
	return n, nil
}
