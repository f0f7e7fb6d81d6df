package uptime

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrEmptyID          = errors.New("uptime: empty id")
	ErrNotAuthenticated = errors.New("uptime: not authenticated")
)

// TransportError means no response reached the client: dial, TLS, timeout,
// cancelled context or rate-limit wait aborted.
type TransportError struct {
	Op     string
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s %s: transport failure: %v", e.Op, e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPError carries a non-2xx status and the server-supplied message.
type HTTPError struct {
	Op      string
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: %s %s: status=%d msg=%s", e.Op, e.Method, e.Path, e.Status, e.Message)
}

// FieldError is one failed constraint, named by its wire field.
type FieldError struct {
	Field string
	Rule  string
	Param string
}

func (f FieldError) String() string {
	if f.Param == "" {
		return fmt.Sprintf("%s (%s)", f.Field, f.Rule)
	}
	return fmt.Sprintf("%s (%s=%s)", f.Field, f.Rule, f.Param)
}

// ValidationError is raised before any request is made.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// AsHTTPError unwraps err to an *HTTPError.
func AsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

func IsUnauthorized(err error) bool {
	httpErr, ok := AsHTTPError(err)
	return ok && httpErr.Status == http.StatusUnauthorized
}

func IsNotFound(err error) bool {
	httpErr, ok := AsHTTPError(err)
	return ok && httpErr.Status == http.StatusNotFound
}

func IsTransport(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

func IsValidation(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}
