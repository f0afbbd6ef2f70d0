// Package metrics holds the label-sanitizing helpers the observer
// package uses when feeding proxied-request outcomes into
// Prometheus counters, keeping cardinality bounded regardless of what an
// upstream sends back.
package metrics

import (
	"net/http"
	"strconv"
)

// SanitizeCode collapses an HTTP status code for use as a metric label.
// 0 (no response reached, e.g. an upstream dial failure) is folded into
// "200" upstream label conventions reserve for "unset"; every other code
// passes through verbatim since status codes are already low-cardinality.
func SanitizeCode(s int) string {
	switch s {
	case 0, 200:
		return "200"
	default:
		return strconv.Itoa(s)
	}
}

// Only support the list of "regular" HTTP methods, see
// https://developer.mozilla.org/en-US/docs/Web/HTTP/Methods
var methodMap = map[string]string{
	"GET": http.MethodGet, "get": http.MethodGet,
	"HEAD": http.MethodHead, "head": http.MethodHead,
	"PUT": http.MethodPut, "put": http.MethodPut,
	"POST": http.MethodPost, "post": http.MethodPost,
	"DELETE": http.MethodDelete, "delete": http.MethodDelete,
	"CONNECT": http.MethodConnect, "connect": http.MethodConnect,
	"OPTIONS": http.MethodOptions, "options": http.MethodOptions,
	"TRACE": http.MethodTrace, "trace": http.MethodTrace,
	"PATCH": http.MethodPatch, "patch": http.MethodPatch,
}

// SanitizeMethod sanitizes a proxied request's method for use as a metric
// label, so a malformed or exotic client method can't blow up the
// requests_by_code_total cardinality. The name is always upper case.
func SanitizeMethod(m string) string {
	if m, ok := methodMap[m]; ok {
		return m
	}

	return "OTHER"
}
