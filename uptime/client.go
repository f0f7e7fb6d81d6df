// Package uptime implements the Client, the typed gateway to the remote
// health-check REST API.
package uptime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type LogLevel int

const (
	LogNone  LogLevel = iota // no request logs
	LogError                 // only failed requests
	LogInfo                  // every request + failures
	LogDebug                 // verbose
)

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 4 << 20

type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *AuthContext
	limiter    *rate.Limiter
	logLevel   LogLevel

	logger         *zap.Logger
	loggerExplicit bool // set when WithLogger used

	// logging configuration accumulated by options
	logConsoleOpt *bool
	logFilesOpt   []string
	logDisableOpt bool

	newRequestID func() string
}

// ===== Constructor =====
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("uptime: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("uptime: base url must be absolute http(s), got %q", baseURL)
	}

	c := &Client{
		baseURL:      strings.TrimRight(u.String(), "/"),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		logLevel:     LogError,
		newRequestID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.auth == nil {
		c.auth, _ = NewAuthContext(nil)
	}
	// Build logger after options applied unless explicitly provided
	if !c.loggerExplicit {
		c.logger = c.buildLoggerFromConfig()
	}
	if c.logger == nil {
		c.logger = defaultConsoleLogger()
	}
	c.logger = c.logger.Named("gateway")
	return c, nil
}

func defaultConsoleLogger() *zap.Logger {
	l, err := zap.NewProduction(zap.AddCallerSkip(1))
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func (c *Client) buildLoggerFromConfig() *zap.Logger {
	if c.logDisableOpt {
		return zap.NewNop()
	}

	console := true
	if c.logConsoleOpt != nil {
		console = *c.logConsoleOpt
	}

	var paths []string
	seen := map[string]struct{}{}
	if console {
		paths = append(paths, "stdout")
		seen["stdout"] = struct{}{}
	}
	for _, f := range c.logFilesOpt {
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		paths = append(paths, f)
	}

	if len(paths) == 0 {
		return defaultConsoleLogger()
	}

	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = paths
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// Auth returns the credential holder shared with the Session.
func (c *Client) Auth() *AuthContext { return c.auth }

// Logger returns the root logger the client was built with.
func (c *Client) Logger() *zap.Logger { return c.logger }

// ===== Endpoints =====

func (c *Client) ListEndpoints(ctx context.Context) ([]Endpoint, error) {
	var out []Endpoint
	if err := c.do(ctx, "list endpoints", http.MethodGet, "/endpoints/", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateEndpoint(ctx context.Context, in EndpointInput) (*Endpoint, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	var out Endpoint
	if err := c.do(ctx, "create endpoint", http.MethodPost, "/endpoints/", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	var out Endpoint
	if err := c.do(ctx, "get endpoint", http.MethodGet, "/endpoints/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateEndpoint(ctx context.Context, id string, patch EndpointPatch) (*Endpoint, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if err := Validate(patch); err != nil {
		return nil, err
	}
	var out Endpoint
	if err := c.do(ctx, "update endpoint", http.MethodPut, "/endpoints/"+url.PathEscape(id), nil, patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteEndpoint(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	return c.do(ctx, "delete endpoint", http.MethodDelete, "/endpoints/"+url.PathEscape(id), nil, nil, nil)
}

// ===== Stats & Logs =====

func (c *Client) GetStats(ctx context.Context, id string) (*StatsSummary, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	var out StatsSummary
	if err := c.do(ctx, "get stats", http.MethodGet, "/stats/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetLogs returns check logs newest-first. limit <= 0 leaves the server
// default (50).
func (c *Client) GetLogs(ctx context.Context, id string, limit int) ([]CheckLog, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	var query url.Values
	if limit > 0 {
		query = url.Values{"limit": []string{strconv.Itoa(limit)}}
	}
	var out []CheckLog
	if err := c.do(ctx, "get logs", http.MethodGet, "/logs/"+url.PathEscape(id), query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ===== Auth =====

// Login exchanges credentials for a bearer token. It does not store the
// token; see Session.
func (c *Client) Login(ctx context.Context, creds Credentials) (*Token, error) {
	if err := Validate(creds); err != nil {
		return nil, err
	}
	var out Token
	if err := c.do(ctx, "login", http.MethodPost, "/auth/login", nil, creds, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Register(ctx context.Context, creds Credentials) (*Token, error) {
	if err := Validate(creds); err != nil {
		return nil, err
	}
	var out Token
	if err := c.do(ctx, "register", http.MethodPost, "/auth/register", nil, creds, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ===== Transport =====

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &TransportError{Op: op, Method: method, Path: path, Err: err}
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	reqID := c.newRequestID()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.auth.Get(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		transportErr := &TransportError{Op: op, Method: method, Path: path, Err: err}
		c.logFailure(reqID, method, path, 0, time.Since(start), transportErr)
		return transportErr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	latency := time.Since(start)
	if err != nil {
		transportErr := &TransportError{Op: op, Method: method, Path: path, Err: err}
		c.logFailure(reqID, method, path, resp.StatusCode, latency, transportErr)
		return transportErr
	}

	if resp.StatusCode >= 400 {
		httpErr := &HTTPError{
			Op:      op,
			Method:  method,
			Path:    path,
			Status:  resp.StatusCode,
			Message: errorMessage(raw, resp.StatusCode),
		}
		c.logFailure(reqID, method, path, resp.StatusCode, latency, httpErr)
		return httpErr
	}
	c.logSuccess(reqID, method, path, resp.StatusCode, latency)

	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// errorMessage extracts the server's explanation from an error body. The
// service answers {"detail": ...}; other shapes fall back to the raw text.
func errorMessage(raw []byte, status int) string {
	var envelope struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		if len(envelope.Detail) > 0 {
			var detail string
			if err := json.Unmarshal(envelope.Detail, &detail); err == nil {
				return detail
			}
			return string(envelope.Detail)
		}
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Error != "" {
			return envelope.Error
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return http.StatusText(status)
}

func (c *Client) logSuccess(reqID, method, path string, status int, latency time.Duration) {
	switch c.logLevel {
	case LogInfo:
		c.logger.Info("request", zap.String("method", method), zap.String("path", path), zap.Int("status", status))
	case LogDebug:
		c.logger.Debug("request", zap.String("request_id", reqID), zap.String("method", method),
			zap.String("path", path), zap.Int("status", status), zap.Duration("latency", latency))
	}
}

func (c *Client) logFailure(reqID, method, path string, status int, latency time.Duration, err error) {
	if c.logLevel == LogNone {
		return
	}
	c.logger.Warn("request failed", zap.String("request_id", reqID), zap.String("method", method),
		zap.String("path", path), zap.Int("status", status), zap.Duration("latency", latency), zap.Error(err))
}
