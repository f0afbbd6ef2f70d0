// Package httpproxy implements the HTTP Proxy Engine (component H): the
// per-request pipeline that turns an accepted connection into a
// forwarded, transformed, and observed response. It is grounded on
// caddyhttp/proxy/reverseproxy.go's Director/RoundTrip split and on
// caddyhttp/httpserver's per-request timeout and hop-header handling,
// generalized to the typed route/upstream model in package config.
package httpproxy

import (
	"errors"
	"net/http"
	"time"
)

// Stage names a point in the request state machine §4.H and §7 define:
// Accepted -> Authorized -> Matched -> Transformed -> UpstreamAcquired
// -> Forwarding -> Responding -> Completed | Failed{Stage, Reason}.
type Stage int

const (
	Accepted Stage = iota
	Authorized
	Matched
	Transformed
	UpstreamAcquired
	Forwarding
	Responding
	Completed
	Failed
)

func (s Stage) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case Authorized:
		return "authorized"
	case Matched:
		return "matched"
	case Transformed:
		return "transformed"
	case UpstreamAcquired:
		return "upstream_acquired"
	case Forwarding:
		return "forwarding"
	case Responding:
		return "responding"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reason is the §7 error taxonomy for a Failed outcome.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonDenied
	ReasonRateLimited
	ReasonUnauthorized
	ReasonRouteMiss
	ReasonUpstreamUnavailable
	ReasonUpstreamTimeout
	ReasonPayloadTooLarge
	ReasonCancelled
	ReasonUpstreamError
)

func (r Reason) String() string {
	switch r {
	case ReasonDenied:
		return "denied_access"
	case ReasonRateLimited:
		return "denied_rate_limited"
	case ReasonUnauthorized:
		return "denied_auth"
	case ReasonRouteMiss:
		return "route_miss"
	case ReasonUpstreamUnavailable:
		return "upstream_unavailable"
	case ReasonUpstreamTimeout:
		return "upstream_timeout"
	case ReasonPayloadTooLarge:
		return "payload_too_large"
	case ReasonCancelled:
		return "cancelled"
	case ReasonUpstreamError:
		return "upstream_error"
	default:
		return "none"
	}
}

// StatusFor maps a Reason to the response status code the client sees,
// per §7's taxonomy-to-status table: Denied{access|rate_limited|auth}
// split into 403/429/401 respectively.
func StatusFor(r Reason) int {
	switch r {
	case ReasonDenied:
		return http.StatusForbidden
	case ReasonRateLimited:
		return http.StatusTooManyRequests
	case ReasonUnauthorized:
		return http.StatusUnauthorized
	case ReasonRouteMiss:
		return http.StatusNotFound
	case ReasonUpstreamUnavailable:
		return http.StatusBadGateway
	case ReasonUpstreamTimeout:
		return http.StatusGatewayTimeout
	case ReasonPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ReasonCancelled:
		return 499 // nginx-style client-closed-request, no stdlib constant
	case ReasonUpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrNoUpstream means every upstream member was excluded by the failure
// tracker and none could be selected (§4.D's "liveness guarantee" still
// can fail the request when the set is empty).
var ErrNoUpstream = errors.New("httpproxy: no eligible upstream")

// Record is one completed request's observable outcome, handed to a
// Recorder for component L to aggregate.
type Record struct {
	Listener   string
	RouteID    string
	Upstream   string
	Method     string
	Host       string
	Path       string
	ClientIP   string
	Status     int
	Stage      Stage
	Reason     Reason
	Started    time.Time
	Duration   time.Duration
	BytesIn    int64
	BytesOut   int64
}

// Recorder receives a Record for every completed request. Implemented by
// package observer; defined here to avoid an import cycle.
type Recorder interface {
	Observe(Record)
}

type nopRecorder struct{}

func (nopRecorder) Observe(Record) {}

// NopRecorder discards every record; used when no observer is wired.
var NopRecorder Recorder = nopRecorder{}
