package config

// wireDoc is the literal shape of the persisted TOML document (§6 of the
// spec). Field names are snake_case on the wire; BurntSushi/toml decodes
// directly into this struct via struct tags. Unknown keys are collected as
// soft warnings by LoadBytes, never hard errors, per §4.A.
type wireDoc struct {
	HTTPRules   []wireHTTPRule  `toml:"http_rules"`
	WSEnabled   bool            `toml:"ws_enabled"`
	WSRules     []wireWSRule    `toml:"ws_rules"`
	Stream      wireStream      `toml:"stream"`
	Access      wireAccess      `toml:"access"`
	Limits      wireLimits      `toml:"limits"`
	Compression wireCompression `toml:"compression"`
}

type wireHTTPRule struct {
	ID          string            `toml:"id"`
	Enabled     *bool             `toml:"enabled"`
	ListenAddr  string            `toml:"listen_addr"`
	ListenAddrs []string          `toml:"listen_addrs"`
	TLS         *wireTLS          `toml:"tls"`
	BasicAuth   *wireBasicAuth    `toml:"basic_auth"`
	RateLimit   *wireRateLimit    `toml:"rate_limit"`
	Routes      []wireHTTPRoute   `toml:"routes"`
}

type wireTLS struct {
	Cert string `toml:"cert"`
	Key  string `toml:"key"`
}

type wireBasicAuth struct {
	User    string `toml:"user"`
	Pass    string `toml:"pass"`
	Forward bool   `toml:"forward"`
}

type wireRateLimit struct {
	RPS        float64 `toml:"rps"`
	Burst      int     `toml:"burst"`
	BanSeconds int     `toml:"ban_seconds"`
}

type wireHTTPRoute struct {
	ID                  string              `toml:"id"`
	Enabled             *bool               `toml:"enabled"`
	Host                string              `toml:"host"`
	Path                string              `toml:"path"`
	Methods             []string            `toml:"methods"`
	RequiredHeaders     map[string]string   `toml:"required_headers"`
	ExcludeBasicAuth    bool                `toml:"exclude_basic_auth"`
	FollowRedirects     bool                `toml:"follow_redirects"`
	ProxyPassPath       string              `toml:"proxy_pass_path"`
	StaticDir           string              `toml:"static_dir"`
	SetHeaders          map[string]string   `toml:"set_headers"`
	SetHeadersOrder     []string            `toml:"set_headers_order"`
	RemoveHeaders       []string            `toml:"remove_headers"`
	URLRewrites         []wireURLRewrite    `toml:"url_rewrites"`
	RequestBodyReplace  []wireBodyReplace   `toml:"request_body_replace"`
	ResponseBodyReplace []wireBodyReplace   `toml:"response_body_replace"`
	Upstreams           []wireUpstream      `toml:"upstreams"`
}

type wireURLRewrite struct {
	Regex       string `toml:"regex"`
	Replacement string `toml:"replacement"`
	Enabled     bool   `toml:"enabled"`
}

type wireBodyReplace struct {
	Find        string   `toml:"find"`
	Replace     string   `toml:"replace"`
	UseRegex    bool     `toml:"use_regex"`
	Enabled     bool     `toml:"enabled"`
	ContentType []string `toml:"content_type"`
}

type wireUpstream struct {
	URL    string `toml:"url"`
	Weight int    `toml:"weight"`
}

type wireWSRule struct {
	ID          string         `toml:"id"`
	Enabled     *bool          `toml:"enabled"`
	ListenAddr  string         `toml:"listen_addr"`
	ListenAddrs []string       `toml:"listen_addrs"`
	TLS         *wireTLS       `toml:"tls"`
	BasicAuth   *wireBasicAuth `toml:"basic_auth"`
	RateLimit   *wireRateLimit `toml:"rate_limit"`
	Routes      []wireWSRoute  `toml:"routes"`
}

type wireWSRoute struct {
	ID          string `toml:"id"`
	Path        string `toml:"path"`
	UpstreamURL string `toml:"upstream_url"`
}

type wireStream struct {
	Enabled   bool                        `toml:"enabled"`
	Upstreams map[string]wireStreamUpGroup `toml:"upstreams"`
	Servers   []wireStreamServer          `toml:"servers"`
}

type wireStreamUpGroup struct {
	HashKey    string            `toml:"hash_key"`
	Consistent *bool             `toml:"consistent"` // reserved, see DESIGN.md open question
	Members    []wireStreamMember `toml:"members"`
}

type wireStreamMember struct {
	Addr   string `toml:"addr"`
	Weight int    `toml:"weight"`
}

type wireStreamServer struct {
	Enabled        *bool  `toml:"enabled"`
	ListenPort     int    `toml:"listen_port"`
	Protocol       string `toml:"protocol"`
	ProxyPass      string `toml:"proxy_pass"`
	ConnectTimeout int    `toml:"connect_timeout"`
	IdleTimeout    int    `toml:"idle_timeout"`
}

type wireAccess struct {
	HTTPEnabled    *bool              `toml:"http_enabled"`
	WSEnabled      *bool              `toml:"ws_enabled"`
	StreamEnabled  *bool              `toml:"stream_enabled"`
	AllowAllLAN    bool               `toml:"allow_all_lan"`
	AllowAllPublic bool               `toml:"allow_all_public"`
	Whitelist      []string           `toml:"whitelist"`
	Blacklist      []wireBlacklistRow `toml:"blacklist"`
}

type wireBlacklistRow struct {
	IP        string `toml:"ip"`
	Reason    string `toml:"reason"`
	ExpiresAt int64  `toml:"expires_at"`
	CreatedAt int64  `toml:"created_at"`
}

type wireLimits struct {
	MaxRequestBody   int64 `toml:"max_request_body"`
	MaxResponseBody  int64 `toml:"max_response_body"`
	ConnectTimeoutMs int   `toml:"connect_timeout_ms"`
	ReadTimeoutMs    int   `toml:"read_timeout_ms"`
	PoolMaxIdle      int   `toml:"pool_max_idle"`
	PoolIdleTimeoutS int   `toml:"pool_idle_timeout_sec"`
	EnableHTTP2      bool  `toml:"enable_http2"`
}

type wireCompression struct {
	Enabled   bool            `toml:"enabled"`
	Gzip      wireGzip        `toml:"gzip"`
	Brotli    wireBrotli      `toml:"brotli"`
	MinLength int             `toml:"min_length"`
}

type wireGzip struct {
	On    bool `toml:"on"`
	Level int  `toml:"level"`
}

type wireBrotli struct {
	On    bool `toml:"on"`
	Level int  `toml:"level"`
}
