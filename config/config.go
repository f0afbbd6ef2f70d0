// Package config contains the typed configuration model for the proxy
// core: the wire (TOML) representation, the validator that turns it into
// an immutable Config snapshot, and the defaulting rules every other
// component relies on.
package config

import "net"

// Config is the top of the validated, immutable snapshot. Once returned
// from LoadFile or LoadBytes, a Config is never mutated in place; reconfiguration
// publishes a brand new Config behind an atomic pointer (see package
// cfgstore).
type Config struct {
	HTTPRules   []HTTPRule      `toml:"-"`
	WSEnabled   bool            `toml:"-"`
	WSRules     []WSRule        `toml:"-"`
	Stream      StreamConfig    `toml:"-"`
	Access      AccessConfig    `toml:"-"`
	Limits      Limits          `toml:"-"`
	Compression CompressionCfg  `toml:"-"`
}

// Limits holds the resource and timeout caps shared across listeners.
type Limits struct {
	MaxRequestBody    int64
	MaxResponseBody   int64
	ConnectTimeoutMs  int
	ReadTimeoutMs     int
	PoolMaxIdle       int
	PoolIdleTimeoutS  int
	EnableHTTP2       bool
}

// CompressionCfg controls response compression in the body transformer.
type CompressionCfg struct {
	Enabled   bool
	Gzip      GzipCfg
	Brotli    BrotliCfg
	MinLength int
}

// GzipCfg is the gzip half of CompressionCfg.
type GzipCfg struct {
	On    bool
	Level int // 1-9
}

// BrotliCfg is the brotli half of CompressionCfg.
type BrotliCfg struct {
	On    bool
	Level int // 0-11
}

// HTTPRule is one HTTP(S) listen rule: a set of bind addresses sharing
// TLS, basic-auth, and rate-limit policy, fronting an ordered list of
// routes.
type HTTPRule struct {
	ID         string
	Enabled    bool
	ListenAddr []string
	TLS        *TLSConfig
	BasicAuth  *BasicAuthConfig
	RateLimit  *RateLimitConfig
	Routes     []HTTPRoute
}

// TLSConfig names a static certificate/key pair on disk.
type TLSConfig struct {
	Cert string
	Key  string
}

// BasicAuthConfig is the rule-wide HTTP Basic Authentication gate.
type BasicAuthConfig struct {
	User    string
	Pass    string
	Forward bool
}

// RateLimitConfig is the rule-wide token-bucket policy.
type RateLimitConfig struct {
	RPS        float64
	Burst      int
	BanSeconds int
}

// HTTPRoute is a single routable path within an HTTPRule.
type HTTPRoute struct {
	ID                string
	Enabled           bool
	Host              string // exact, "*.suffix", or "" (unset)
	PathPrefix         string
	Methods           []string
	RequiredHeaders   map[string]string
	ExcludeBasicAuth  bool
	FollowRedirects   bool
	ProxyPassPath     string
	StaticDir         string
	SetHeaders        []HeaderKV
	RemoveHeaders     []string
	URLRewrites       []URLRewrite
	RequestBodyReplace  []BodyReplace
	ResponseBodyReplace []BodyReplace
	Upstreams         []WeightedUpstream
}

// HeaderKV is one entry of an ordered set_headers mapping.
type HeaderKV struct {
	Name  string
	Value string
}

// URLRewrite is one ordered request-path rewrite rule.
type URLRewrite struct {
	Regex       string
	Replacement string
	Enabled     bool
}

// BodyReplace is one literal-or-regex body substitution rule.
type BodyReplace struct {
	Find        string
	Replace     string
	UseRegex    bool
	Enabled     bool
	ContentType []string
}

// WeightedUpstream is one member of a weighted upstream list.
type WeightedUpstream struct {
	URL    string
	Weight int
}

// WSRule mirrors HTTPRule for the WebSocket proxy engine.
type WSRule struct {
	ID         string
	Enabled    bool
	ListenAddr []string
	TLS        *TLSConfig
	BasicAuth  *BasicAuthConfig
	RateLimit  *RateLimitConfig
	Routes     []WSRoute
}

// WSRoute maps a path prefix to a single upstream WebSocket URL.
type WSRoute struct {
	ID          string
	PathPrefix  string
	UpstreamURL string
}

// StreamConfig is the TCP/UDP passthrough configuration.
type StreamConfig struct {
	Enabled   bool
	Upstreams map[string]StreamUpstream
	Servers   []StreamServer
}

// StreamUpstream is a named group of Stream members.
type StreamUpstream struct {
	HashKey string // only "$remote_addr" is meaningful
	Members []WeightedMember
}

// WeightedMember is one host:port member of a StreamUpstream.
type WeightedMember struct {
	Addr   string
	Weight int
}

// StreamServer is one TCP or UDP listener forwarding to a named upstream.
type StreamServer struct {
	Enabled        bool
	ListenPort     int
	Protocol       string // "tcp" or "udp"
	ProxyPass      string
	ConnectTimeout int // seconds
	IdleTimeout    int // seconds
}

// AccessConfig controls the LAN/whitelist/blacklist decision in package access.
type AccessConfig struct {
	HTTPEnabled     bool
	WSEnabled       bool
	StreamEnabled   bool
	AllowAllLAN     bool
	AllowAllPublic  bool
	Whitelist       []*net.IPNet
	Blacklist       []BlacklistEntry
}

// BlacklistEntry is one denied client IP, optionally time-bounded.
type BlacklistEntry struct {
	IP        string
	Reason    string
	ExpiresAt int64 // unix seconds, 0 = permanent
	CreatedAt int64
}

// Active reports whether the entry is in force at the given unix time.
func (b BlacklistEntry) Active(now int64) bool {
	return b.ExpiresAt == 0 || now < b.ExpiresAt
}
