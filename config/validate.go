package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// validate normalizes a decoded wire document into an immutable Config,
// enforcing the structural invariants from §3: non-empty unique ids filled
// deterministically, every enabled rule has listen addresses and at least
// one enabled route, every route has an upstream or a static dir, TLS
// material is present on disk when configured, stream servers reference a
// real upstream group, rate limits are sane, and path prefixes are
// normalized to start with "/".
func validate(doc *wireDoc) (*Config, error) {
	c := &errCollector{}

	cfg := &Config{
		WSEnabled: doc.WSEnabled,
	}

	seenHTTPIDs := map[string]bool{}
	for i, rule := range doc.HTTPRules {
		hr := validateHTTPRule(c, fmt.Sprintf("http_rules[%d]", i), rule, i, seenHTTPIDs)
		cfg.HTTPRules = append(cfg.HTTPRules, hr)
	}

	seenWSIDs := map[string]bool{}
	for i, rule := range doc.WSRules {
		wr := validateWSRule(c, fmt.Sprintf("ws_rules[%d]", i), rule, i, seenWSIDs)
		cfg.WSRules = append(cfg.WSRules, wr)
	}

	cfg.Stream = validateStream(c, doc.Stream)
	cfg.Access = validateAccess(c, doc.Access)
	cfg.Limits = validateLimits(doc.Limits)
	cfg.Compression = validateCompression(c, doc.Compression)

	if err := c.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateHTTPRule(c *errCollector, path string, w wireHTTPRule, idx int, seen map[string]bool) HTTPRule {
	id := w.ID
	if id == "" {
		id = stableID("http_rule", "", idx)
	}
	if seen[id] {
		c.add(path+".id", "duplicate id %q", id)
	}
	seen[id] = true

	enabled := boolOr(w.Enabled, true)
	addrs := w.ListenAddrs
	if len(addrs) == 0 && w.ListenAddr != "" {
		addrs = []string{w.ListenAddr}
	}
	if enabled && len(addrs) == 0 {
		c.add(path+".listen_addrs", "enabled rule must have at least one listen address")
	}

	var tlsCfg *TLSConfig
	if w.TLS != nil {
		if w.TLS.Cert == "" || w.TLS.Key == "" {
			c.add(path+".tls", "tls requires both cert and key paths")
		} else if !pathReadable(w.TLS.Cert) || !pathReadable(w.TLS.Key) {
			c.add(path+".tls", "tls cert/key must be readable at start")
		}
		tlsCfg = &TLSConfig{Cert: w.TLS.Cert, Key: w.TLS.Key}
	}

	var basicAuth *BasicAuthConfig
	if w.BasicAuth != nil {
		basicAuth = &BasicAuthConfig{User: w.BasicAuth.User, Pass: w.BasicAuth.Pass, Forward: w.BasicAuth.Forward}
	}

	rl := validateRateLimit(c, path+".rate_limit", w.RateLimit)

	seenRouteIDs := map[string]bool{}
	var routes []HTTPRoute
	enabledRoutes := 0
	for i, rt := range w.Routes {
		hr := validateHTTPRoute(c, fmt.Sprintf("%s.routes[%d]", path, i), rt, i, seenRouteIDs)
		if hr.Enabled {
			enabledRoutes++
		}
		routes = append(routes, hr)
	}
	if enabled && enabledRoutes == 0 {
		c.add(path+".routes", "enabled rule must have at least one enabled route")
	}

	return HTTPRule{
		ID:         id,
		Enabled:    enabled,
		ListenAddr: addrs,
		TLS:        tlsCfg,
		BasicAuth:  basicAuth,
		RateLimit:  rl,
		Routes:     routes,
	}
}

func validateRateLimit(c *errCollector, path string, w *wireRateLimit) *RateLimitConfig {
	if w == nil {
		return nil
	}
	rps := w.RPS
	if rps == 0 {
		rps = DefaultRPS
	}
	burst := w.Burst
	if burst == 0 {
		burst = DefaultBurst
	}
	if rps < 1 {
		c.add(path+".rps", "rps must be >= 1")
	}
	if burst < 1 {
		c.add(path+".burst", "burst must be >= 1")
	}
	if w.BanSeconds < 0 {
		c.add(path+".ban_seconds", "ban_seconds must be >= 0")
	}
	return &RateLimitConfig{RPS: rps, Burst: burst, BanSeconds: w.BanSeconds}
}

func validateHTTPRoute(c *errCollector, path string, w wireHTTPRoute, idx int, seen map[string]bool) HTTPRoute {
	id := w.ID
	if id == "" {
		id = stableID("http_route", path, idx)
	}
	if seen[id] {
		c.add(path+".id", "duplicate id %q", id)
	}
	seen[id] = true

	enabled := boolOr(w.Enabled, true)

	prefix := normalizePrefix(w.Path)
	if prefix == "" {
		c.add(path+".path", "path prefix must be non-empty and begin with '/'")
	}

	if enabled && len(w.Upstreams) == 0 && w.StaticDir == "" {
		c.add(path, "route must have at least one upstream or a static_dir")
	}

	var ups []WeightedUpstream
	for i, u := range w.Upstreams {
		weight := u.Weight
		if weight < 1 {
			weight = DefaultRouteWeight
		}
		if u.URL == "" {
			c.add(fmt.Sprintf("%s.upstreams[%d].url", path, i), "upstream url must not be empty")
		}
		ups = append(ups, WeightedUpstream{URL: u.URL, Weight: weight})
	}

	var rewrites []URLRewrite
	for i, rw := range w.URLRewrites {
		if _, err := regexp.Compile(rw.Regex); err != nil {
			c.add(fmt.Sprintf("%s.url_rewrites[%d].regex", path, i), "invalid regex: %v", err)
		}
		rewrites = append(rewrites, URLRewrite{Regex: rw.Regex, Replacement: rw.Replacement, Enabled: rw.Enabled})
	}

	reqRepl := validateBodyReplace(c, path+".request_body_replace", w.RequestBodyReplace)
	respRepl := validateBodyReplace(c, path+".response_body_replace", w.ResponseBodyReplace)

	var setHeaders []HeaderKV
	if len(w.SetHeadersOrder) > 0 {
		for _, name := range w.SetHeadersOrder {
			if v, ok := w.SetHeaders[name]; ok {
				setHeaders = append(setHeaders, HeaderKV{Name: name, Value: v})
			}
		}
	} else {
		for name, v := range w.SetHeaders {
			setHeaders = append(setHeaders, HeaderKV{Name: name, Value: v})
		}
	}

	return HTTPRoute{
		ID:                  id,
		Enabled:             enabled,
		Host:                w.Host,
		PathPrefix:          prefix,
		Methods:             w.Methods,
		RequiredHeaders:     w.RequiredHeaders,
		ExcludeBasicAuth:    w.ExcludeBasicAuth,
		FollowRedirects:     w.FollowRedirects,
		ProxyPassPath:       w.ProxyPassPath,
		StaticDir:           w.StaticDir,
		SetHeaders:          setHeaders,
		RemoveHeaders:       w.RemoveHeaders,
		URLRewrites:         rewrites,
		RequestBodyReplace:  reqRepl,
		ResponseBodyReplace: respRepl,
		Upstreams:           ups,
	}
}

func validateBodyReplace(c *errCollector, path string, ws []wireBodyReplace) []BodyReplace {
	var out []BodyReplace
	for i, w := range ws {
		if w.UseRegex {
			if _, err := regexp.Compile(w.Find); err != nil {
				c.add(fmt.Sprintf("%s[%d].find", path, i), "invalid regex: %v", err)
			}
		}
		out = append(out, BodyReplace{
			Find:        w.Find,
			Replace:     w.Replace,
			UseRegex:    w.UseRegex,
			Enabled:     w.Enabled,
			ContentType: w.ContentType,
		})
	}
	return out
}

func validateWSRule(c *errCollector, path string, w wireWSRule, idx int, seen map[string]bool) WSRule {
	id := w.ID
	if id == "" {
		id = stableID("ws_rule", "", idx)
	}
	if seen[id] {
		c.add(path+".id", "duplicate id %q", id)
	}
	seen[id] = true

	enabled := boolOr(w.Enabled, true)
	addrs := w.ListenAddrs
	if len(addrs) == 0 && w.ListenAddr != "" {
		addrs = []string{w.ListenAddr}
	}
	if enabled && len(addrs) == 0 {
		c.add(path+".listen_addrs", "enabled rule must have at least one listen address")
	}

	var tlsCfg *TLSConfig
	if w.TLS != nil {
		if w.TLS.Cert == "" || w.TLS.Key == "" {
			c.add(path+".tls", "tls requires both cert and key paths")
		} else if !pathReadable(w.TLS.Cert) || !pathReadable(w.TLS.Key) {
			c.add(path+".tls", "tls cert/key must be readable at start")
		}
		tlsCfg = &TLSConfig{Cert: w.TLS.Cert, Key: w.TLS.Key}
	}
	var basicAuth *BasicAuthConfig
	if w.BasicAuth != nil {
		basicAuth = &BasicAuthConfig{User: w.BasicAuth.User, Pass: w.BasicAuth.Pass, Forward: w.BasicAuth.Forward}
	}
	rl := validateRateLimit(c, path+".rate_limit", w.RateLimit)

	var routes []WSRoute
	if enabled && len(w.Routes) == 0 {
		c.add(path+".routes", "enabled ws rule must have at least one route")
	}
	for i, rt := range w.Routes {
		id := rt.ID
		if id == "" {
			id = stableID("ws_route", path, i)
		}
		if rt.UpstreamURL == "" {
			c.add(fmt.Sprintf("%s.routes[%d].upstream_url", path, i), "upstream_url must not be empty")
		}
		routes = append(routes, WSRoute{
			ID:          id,
			PathPrefix:  normalizePrefix(rt.Path),
			UpstreamURL: rt.UpstreamURL,
		})
	}

	return WSRule{
		ID:         id,
		Enabled:    enabled,
		ListenAddr: addrs,
		TLS:        tlsCfg,
		BasicAuth:  basicAuth,
		RateLimit:  rl,
		Routes:     routes,
	}
}

func validateStream(c *errCollector, w wireStream) StreamConfig {
	ups := map[string]StreamUpstream{}
	for name, grp := range w.Upstreams {
		hashKey := grp.HashKey
		if hashKey == "" {
			hashKey = "$remote_addr"
		}
		var members []WeightedMember
		for _, m := range grp.Members {
			weight := m.Weight
			if weight < 1 {
				weight = DefaultRouteWeight
			}
			members = append(members, WeightedMember{Addr: m.Addr, Weight: weight})
		}
		ups[name] = StreamUpstream{HashKey: hashKey, Members: members}
	}

	var servers []StreamServer
	for i, s := range w.Servers {
		path := fmt.Sprintf("stream.servers[%d]", i)
		if _, ok := ups[s.ProxyPass]; !ok {
			c.add(path+".proxy_pass", "references unknown upstream %q", s.ProxyPass)
		}
		proto := strings.ToLower(s.Protocol)
		if proto != "tcp" && proto != "udp" {
			c.add(path+".protocol", "protocol must be tcp or udp, got %q", s.Protocol)
		}
		servers = append(servers, StreamServer{
			Enabled:        boolOr(s.Enabled, true),
			ListenPort:     s.ListenPort,
			Protocol:       proto,
			ProxyPass:      s.ProxyPass,
			ConnectTimeout: intOrDefault(s.ConnectTimeout, 5),
			IdleTimeout:    intOrDefault(s.IdleTimeout, 300),
		})
	}

	return StreamConfig{Enabled: w.Enabled, Upstreams: ups, Servers: servers}
}

func validateAccess(c *errCollector, w wireAccess) AccessConfig {
	var nets []*net.IPNet
	for i, entry := range w.Whitelist {
		n, err := parseIPOrCIDR(entry)
		if err != nil {
			c.add(fmt.Sprintf("access.whitelist[%d]", i), "invalid IP/CIDR %q: %v", entry, err)
			continue
		}
		nets = append(nets, n)
	}

	var bl []BlacklistEntry
	for _, b := range w.Blacklist {
		bl = append(bl, BlacklistEntry{IP: b.IP, Reason: b.Reason, ExpiresAt: b.ExpiresAt, CreatedAt: b.CreatedAt})
	}

	return AccessConfig{
		HTTPEnabled:    boolOr(w.HTTPEnabled, true),
		WSEnabled:      boolOr(w.WSEnabled, true),
		StreamEnabled:  boolOr(w.StreamEnabled, true),
		AllowAllLAN:    w.AllowAllLAN,
		AllowAllPublic: w.AllowAllPublic,
		Whitelist:      nets,
		Blacklist:      bl,
	}
}

func validateLimits(w wireLimits) Limits {
	return Limits{
		MaxRequestBody:   int64OrDefault(w.MaxRequestBody, DefaultMaxRequestBody),
		MaxResponseBody:  int64OrDefault(w.MaxResponseBody, DefaultMaxResponseBody),
		ConnectTimeoutMs: intOrDefault(w.ConnectTimeoutMs, DefaultConnectTimeoutMs),
		ReadTimeoutMs:    intOrDefault(w.ReadTimeoutMs, DefaultReadTimeoutMs),
		PoolMaxIdle:      intOrDefault(w.PoolMaxIdle, DefaultPoolMaxIdle),
		PoolIdleTimeoutS: intOrDefault(w.PoolIdleTimeoutS, DefaultPoolIdleTimeoutS),
		EnableHTTP2:      w.EnableHTTP2,
	}
}

func validateCompression(c *errCollector, w wireCompression) CompressionCfg {
	gzipLevel := w.Gzip.Level
	if gzipLevel == 0 {
		gzipLevel = DefaultGzipLevel
	} else if gzipLevel < 1 || gzipLevel > 9 {
		c.add("compression.gzip.level", "must be between 1 and 9")
	}
	brotliLevel := w.Brotli.Level
	if brotliLevel == 0 && !w.Brotli.On {
		brotliLevel = DefaultBrotliLevel
	} else if brotliLevel < 0 || brotliLevel > 11 {
		c.add("compression.brotli.level", "must be between 0 and 11")
	}
	return CompressionCfg{
		Enabled: w.Enabled,
		Gzip:    GzipCfg{On: w.Gzip.On, Level: gzipLevel},
		Brotli:  BrotliCfg{On: w.Brotli.On, Level: brotliLevel},
		MinLength: func() int {
			if w.MinLength == 0 {
				return DefaultMinCompressLen
			}
			return w.MinLength
		}(),
	}
}

// normalizePrefix ensures a path prefix begins with "/"; empty input
// becomes "/" per §4.A's defaulting rule.
func normalizePrefix(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

func parseIPOrCIDR(s string) (*net.IPNet, error) {
	if strings.Contains(s, "/") {
		_, n, err := net.ParseCIDR(s)
		return n, err
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("not a valid IP")
	}
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

func pathReadable(p string) bool {
	return statReadable(p)
}
