package config

import (
	"fmt"
	"strings"
)

// FieldError is one structural validation failure, reported with a dotted
// path so the management UI can point at the offending field (§4.A).
type FieldError struct {
	Path    string
	Message string
}

func (e FieldError) String() string {
	return e.Path + ": " + e.Message
}

// ValidationError aggregates every FieldError found in one pass, so
// save_config can report all problems in a single round trip rather than
// failing fast on the first one.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.String()
	}
	return "config invalid: " + strings.Join(parts, "; ")
}

type errCollector struct {
	errs []FieldError
}

func (c *errCollector) add(path, format string, args ...any) {
	c.errs = append(c.errs, FieldError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (c *errCollector) err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return &ValidationError{Errors: c.errs}
}
