// Package uptime exposes configuration options for the Client via a
// functional options API.
package uptime

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ===== Options Pattern =====
type Option func(*Client)

// WithHTTPClient sends requests through a copy of hc. Its Timeout is kept
// unless WithTimeout is applied afterwards; hc itself is never modified.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			cp := *hc
			c.httpClient = &cp
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

func WithLogLevel(level LogLevel) Option {
	return func(c *Client) { c.logLevel = level }
}

// WithAuth injects the credential holder read on every request.
func WithAuth(a *AuthContext) Option {
	return func(c *Client) { c.auth = a }
}

// WithRateLimit caps outgoing requests at rps with the given burst. Zero or
// negative rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRequestIDs overrides the X-Request-ID generator.
func WithRequestIDs(next func() string) Option {
	return func(c *Client) { c.newRequestID = next }
}

// WithLogger allows injecting a custom zap logger (useful in tests).
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
		c.loggerExplicit = l != nil
	}
}

// LogConsole turns the stdout sink on or off.
func LogConsole(enabled bool) Option {
	return func(c *Client) { c.logConsoleOpt = &enabled }
}

// LogFile adds a file sink. Repeatable.
func LogFile(path string) Option {
	return func(c *Client) { c.logFilesOpt = append(c.logFilesOpt, path) }
}

// DisableLogs drops all log output.
func DisableLogs() Option {
	return func(c *Client) { c.logDisableOpt = true }
}
