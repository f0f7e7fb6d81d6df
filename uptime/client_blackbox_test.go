package uptime_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/amartya2002/uptime-client/internal/fakeremote"
	"github.com/amartya2002/uptime-client/uptime"
)

func newClient(t *testing.T, baseURL string, opts ...uptime.Option) *uptime.Client {
	t.Helper()
	opts = append([]uptime.Option{uptime.DisableLogs()}, opts...)
	c, err := uptime.New(baseURL, opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewRejectsRelativeBaseURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8000", "/api", "ftp://host"} {
		if _, err := uptime.New(raw, uptime.DisableLogs()); err == nil {
			t.Fatalf("expected error for base url %q", raw)
		}
	}
}

// Invalid payloads never reach the wire.
func TestCreateEndpointValidatesBeforeRequest(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	c := newClient(t, ts.URL)
	in := uptime.NewEndpointInput("api", "not a url")
	in.Interval = 5

	_, err := c.CreateEndpoint(context.Background(), in)
	if !uptime.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var verr *uptime.ValidationError
	errors.As(err, &verr)
	fields := map[string]string{}
	for _, f := range verr.Fields {
		fields[f.Field] = f.Rule
	}
	if fields["url"] != "http_url" || fields["interval"] != "gte" {
		t.Fatalf("unexpected field errors: %+v", verr.Fields)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no request, got %d", hits.Load())
	}
}

func TestEmptyIDRejected(t *testing.T) {
	c := newClient(t, "http://127.0.0.1:1")
	_, err := c.GetStats(context.Background(), "  ")
	if !errors.Is(err, uptime.ErrEmptyID) || !uptime.IsValidation(err) {
		t.Fatalf("expected empty id validation error, got %v", err)
	}
	if err := c.DeleteEndpoint(context.Background(), ""); !errors.Is(err, uptime.ErrEmptyID) {
		t.Fatalf("expected ErrEmptyID, got %v", err)
	}
}

func TestUnauthorizedCarriesServerMessage(t *testing.T) {
	srv := fakeremote.Start(fakeremote.RequireAuth())
	defer srv.Close()

	c := newClient(t, srv.URL())
	_, err := c.ListEndpoints(context.Background())
	if !uptime.IsUnauthorized(err) {
		t.Fatalf("expected 401, got %v", err)
	}
	httpErr, _ := uptime.AsHTTPError(err)
	if httpErr.Message != "Could not validate credentials" {
		t.Fatalf("unexpected message %q", httpErr.Message)
	}
}

// Register answers with a message only; the session logs in and every later
// request carries the bearer token and a request id.
func TestSessionRegisterThenAuthorizedCalls(t *testing.T) {
	srv := fakeremote.Start(fakeremote.RequireAuth())
	defer srv.Close()

	var n atomic.Int32
	c := newClient(t, srv.URL(), uptime.WithRequestIDs(func() string {
		return "req-" + string(rune('a'+n.Add(1)-1))
	}))
	s := uptime.NewSession(c)
	ctx := context.Background()

	if err := s.Register(ctx, uptime.Credentials{Email: "ops@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !s.Authenticated(time.Now()) {
		t.Fatalf("expected session to be authenticated")
	}

	created, err := c.CreateEndpoint(ctx, uptime.NewEndpointInput("api", "https://api.example.com/health"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.CurrentStatus != uptime.StatusPending || !created.IsActive {
		t.Fatalf("unexpected created endpoint %+v", created)
	}

	eps, err := c.ListEndpoints(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(eps) != 1 || eps[0].ID != created.ID {
		t.Fatalf("unexpected list %+v", eps)
	}

	calls := srv.Calls()
	last := calls[len(calls)-1]
	if !strings.HasPrefix(last.Authorization, "Bearer token-") {
		t.Fatalf("expected bearer header, got %q", last.Authorization)
	}
	if !strings.HasPrefix(last.RequestID, "req-") {
		t.Fatalf("expected request id, got %q", last.RequestID)
	}
	if srv.CallsTo("/auth/login") != 1 {
		t.Fatalf("expected fallback login, calls: %+v", calls)
	}

	if err := s.Logout(); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := c.ListEndpoints(ctx); !uptime.IsUnauthorized(err) {
		t.Fatalf("expected 401 after logout, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	srv := fakeremote.Start()
	defer srv.Close()

	s := uptime.NewSession(newClient(t, srv.URL()))
	ctx := context.Background()
	creds := uptime.Credentials{Email: "ops@example.com", Password: "secret1"}
	if err := s.Register(ctx, creds); err != nil {
		t.Fatalf("register: %v", err)
	}
	creds.Password = "wrong-one"
	err := s.Login(ctx, creds)
	if !uptime.IsUnauthorized(err) {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestNotFoundAndDelete(t *testing.T) {
	srv := fakeremote.Start()
	defer srv.Close()
	id := srv.Seed(uptime.NewEndpointInput("api", "https://api.example.com"))

	c := newClient(t, srv.URL())
	ctx := context.Background()

	if err := c.DeleteEndpoint(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err := c.GetEndpoint(ctx, id)
	if !uptime.IsNotFound(err) {
		t.Fatalf("expected 404, got %v", err)
	}
	httpErr, _ := uptime.AsHTTPError(err)
	if httpErr.Message != "Endpoint not found" {
		t.Fatalf("unexpected message %q", httpErr.Message)
	}
}

func TestUpdateEndpointSendsOnlySetFields(t *testing.T) {
	srv := fakeremote.Start()
	defer srv.Close()
	id := srv.Seed(uptime.NewEndpointInput("api", "https://api.example.com"))

	c := newClient(t, srv.URL())
	name := "renamed"
	got, err := c.UpdateEndpoint(context.Background(), id, uptime.EndpointPatch{Name: &name})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Name != "renamed" || got.URL != "https://api.example.com" || got.Interval != 60 {
		t.Fatalf("unexpected update result %+v", got)
	}

	bad := 3
	if _, err := c.UpdateEndpoint(context.Background(), id, uptime.EndpointPatch{Interval: &bad}); !uptime.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTransportError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := newClient(t, url, uptime.WithTimeout(time.Second))
	_, err := c.ListEndpoints(context.Background())
	if !uptime.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if uptime.IsUnauthorized(err) {
		t.Fatalf("transport error must not look like a 401")
	}
}

type countingTransport struct {
	calls atomic.Int32
	next  http.RoundTripper
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return c.next.RoundTrip(r)
}

// The supplied client's transport is used, but a later WithTimeout only
// changes the gateway's own copy.
func TestWithHTTPClientIsCopied(t *testing.T) {
	srv := fakeremote.Start()
	defer srv.Close()

	transport := &countingTransport{next: http.DefaultTransport}
	shared := &http.Client{Transport: transport, Timeout: time.Minute}
	c := newClient(t, srv.URL(), uptime.WithHTTPClient(shared), uptime.WithTimeout(time.Second))

	if _, err := c.ListEndpoints(context.Background()); err != nil {
		t.Fatalf("list: %v", err)
	}
	if transport.calls.Load() != 1 {
		t.Fatalf("expected 1 request through the supplied transport, got %d", transport.calls.Load())
	}
	if shared.Timeout != time.Minute {
		t.Fatalf("caller's client was modified: timeout %v", shared.Timeout)
	}
}

func TestGetLogsNewestFirstWithLimit(t *testing.T) {
	srv := fakeremote.Start()
	defer srv.Close()
	id := srv.Seed(uptime.NewEndpointInput("api", "https://api.example.com"))
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		srv.RecordCheck(id, true, 100+i, 200, "", base.Add(time.Duration(i)*time.Minute))
	}

	c := newClient(t, srv.URL())
	logs, err := c.GetLogs(context.Background(), id, 3)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 logs, got %d", len(logs))
	}
	if logs[0].ResponseTimeMS == nil || *logs[0].ResponseTimeMS != 104 || *logs[2].ResponseTimeMS != 102 {
		t.Fatalf("expected newest first, got %+v", logs)
	}

	stats, err := c.GetStats(context.Background(), id)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalChecks != 5 || stats.SuccessfulChecks != 5 || stats.UptimePercentage != 100 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

// The service emits zone-less timestamps and may name the id "id".
func TestDecodeServiceShapes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"a1","name":"api","url":"https://x","method":"GET","interval":60,
			"is_active":true,"last_checked":"2024-05-01T12:00:00.123456","last_response_time":87}]`))
	}))
	defer ts.Close()

	eps, err := newClient(t, ts.URL).ListEndpoints(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	ep := eps[0]
	if ep.ID != "a1" {
		t.Fatalf("expected id fallback, got %q", ep.ID)
	}
	if ep.CurrentStatus != uptime.StatusPending {
		t.Fatalf("expected pending for missing status, got %q", ep.CurrentStatus)
	}
	want := time.Date(2024, 5, 1, 12, 0, 0, 123456000, time.UTC)
	if ep.LastChecked == nil || !ep.LastChecked.Equal(want) {
		t.Fatalf("expected %v, got %v", want, ep.LastChecked)
	}
	if ep.LastResponseTime == nil || *ep.LastResponseTime != 87 {
		t.Fatalf("unexpected last response time %v", ep.LastResponseTime)
	}
}

func TestErrorMessageFallbacks(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"detail":"Endpoint not found"}`, "Endpoint not found"},
		{`{"detail":[{"loc":["body","url"],"msg":"invalid"}]}`, `[{"loc":["body","url"],"msg":"invalid"}]`},
		{`{"message":"nope"}`, "nope"},
		{`upstream exploded`, "upstream exploded"},
		{``, http.StatusText(http.StatusBadGateway)},
	}
	for _, tc := range cases {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(tc.body))
		}))
		_, err := newClient(t, ts.URL).ListEndpoints(context.Background())
		ts.Close()
		httpErr, ok := uptime.AsHTTPError(err)
		if !ok || httpErr.Status != http.StatusBadGateway {
			t.Fatalf("expected 502 HTTPError, got %v", err)
		}
		if httpErr.Message != tc.want {
			t.Fatalf("body %q: expected %q, got %q", tc.body, tc.want, httpErr.Message)
		}
	}
}

func TestRateLimitHonoursContext(t *testing.T) {
	srv := fakeremote.Start()
	defer srv.Close()

	c := newClient(t, srv.URL(), uptime.WithRateLimit(0.001, 1))
	ctx := context.Background()
	if _, err := c.ListEndpoints(ctx); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := c.ListEndpoints(ctx); !uptime.IsTransport(err) {
		t.Fatalf("expected limiter wait to fail as transport error, got %v", err)
	}
	if srv.CallsTo("/endpoints") != 1 {
		t.Fatalf("expected a single request on the wire")
	}
}

// Failures are logged at warn with the request id.
func TestFailureLoggedWithObserver(t *testing.T) {
	core, obs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c, err := uptime.New(ts.URL, uptime.WithLogger(logger), uptime.WithLogLevel(uptime.LogInfo),
		uptime.WithRequestIDs(func() string { return "fixed" }))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, _ = c.ListEndpoints(context.Background())

	entries := obs.FilterMessage("request failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 failure log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "fixed" || fields["status"] != int64(500) {
		t.Fatalf("unexpected fields %v", fields)
	}
	if entries[0].LoggerName != "gateway" {
		t.Fatalf("expected gateway logger, got %q", entries[0].LoggerName)
	}
}
