package config

// Documented defaults applied by the validator when the wire document
// leaves a field unset (§4.A).
const (
	DefaultConnectTimeoutMs = 5000
	DefaultReadTimeoutMs    = 30000
	DefaultPoolMaxIdle      = 32
	DefaultPoolIdleTimeoutS = 90
	DefaultMaxRequestBody   = 32 << 20 // 32 MiB
	DefaultMaxResponseBody  = 64 << 20 // 64 MiB
	DefaultGzipLevel        = 5
	DefaultBrotliLevel      = 4
	DefaultMinCompressLen   = 256
	DefaultRouteWeight      = 1
	DefaultBanSeconds       = 0
	DefaultBurst            = 1
	DefaultRPS              = 1.0
)

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func intOrDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func int64OrDefault(v, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}
