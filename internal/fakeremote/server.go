// Package fakeremote is an in-memory stand-in for the health-check REST
// service. Tests and the demo mode of the dashboard example run against it.
package fakeremote

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/amartya2002/uptime-client/uptime"
)

// Call is one request observed by the server.
type Call struct {
	Method        string
	Path          string
	Authorization string
	RequestID     string
}

type Server struct {
	mu        sync.Mutex
	order     []string
	endpoints map[string]*uptime.Endpoint
	logs      map[string][]uptime.CheckLog // oldest-first
	users     map[string]string
	tokens    map[string]string // token -> email
	failures  map[string]int    // path prefix -> forced status
	holds     map[string]chan struct{}
	calls     []Call
	nextID    int

	requireAuth bool
	router      chi.Router
	ts          *httptest.Server
}

type Option func(*Server)

// RequireAuth rejects endpoint, stats and logs requests without a valid
// bearer token.
func RequireAuth() Option {
	return func(s *Server) { s.requireAuth = true }
}

// New builds the router without listening. Use Start for a live server.
func New(opts ...Option) *Server {
	s := &Server{
		endpoints: make(map[string]*uptime.Endpoint),
		logs:      make(map[string][]uptime.CheckLog),
		users:     make(map[string]string),
		tokens:    make(map[string]string),
		failures:  make(map[string]int),
		holds:     make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Start returns a listening server; Close releases it.
func Start(opts ...Option) *Server {
	s := New(opts...)
	s.ts = httptest.NewServer(s.router)
	return s
}

func (s *Server) URL() string { return s.ts.URL }

func (s *Server) Close() {
	s.mu.Lock()
	for prefix, gate := range s.holds {
		close(gate)
		delete(s.holds, prefix)
	}
	s.mu.Unlock()
	if s.ts != nil {
		s.ts.Close()
	}
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.record)
	r.Use(s.gate)

	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/endpoints", func(r chi.Router) {
			r.Get("/", s.handleListEndpoints)
			r.Post("/", s.handleCreateEndpoint)
			r.Get("/{id}", s.handleGetEndpoint)
			r.Put("/{id}", s.handleUpdateEndpoint)
			r.Delete("/{id}", s.handleDeleteEndpoint)
		})
		r.Get("/stats/{id}", s.handleStats)
		r.Get("/logs/{id}", s.handleLogs)
	})
	return r
}

// ===== Test controls =====

// Seed inserts an endpoint as if created remotely and returns its id.
func (s *Server) Seed(in uptime.EndpointInput) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(in).ID
}

// RecordCheck appends a check log for id and updates the endpoint's status,
// as the remote check engine would after probing it. A negative latencyMS
// records the check without a response time.
func (s *Server) RecordCheck(id string, success bool, latencyMS int, statusCode int, errMsg string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return
	}
	s.nextID++
	entry := uptime.CheckLog{
		ID:         fmt.Sprintf("log-%d", s.nextID),
		EndpointID: id,
		CheckedAt:  uptime.Timestamp{Time: at.UTC()},
		Success:    success,
	}
	var latency *int
	if latencyMS >= 0 {
		ms := latencyMS
		latency = &ms
	}
	entry.ResponseTimeMS = latency
	if statusCode != 0 {
		code := statusCode
		entry.StatusCode = &code
	}
	if errMsg != "" {
		msg := errMsg
		entry.Error = &msg
	}
	s.logs[id] = append(s.logs[id], entry)

	checked := uptime.Timestamp{Time: at.UTC()}
	ep.LastChecked = &checked
	ep.LastResponseTime = latency
	ep.CurrentStatus = uptime.StatusDown
	if success {
		ep.CurrentStatus = uptime.StatusUp
	}
}

// FailWith forces every request whose path starts with prefix to answer
// status until Recover is called.
func (s *Server) FailWith(prefix string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[prefix] = status
}

func (s *Server) Recover(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, prefix)
}

// Hold blocks requests whose path starts with prefix until the returned
// release func is called.
func (s *Server) Hold(prefix string) (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.holds[prefix] = gate
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.holds[prefix] == gate {
				delete(s.holds, prefix)
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsTo counts calls whose path starts with prefix.
func (s *Server) CallsTo(prefix string) int {
	n := 0
	for _, c := range s.Calls() {
		if strings.HasPrefix(c.Path, prefix) {
			n++
		}
	}
	return n
}

// ===== Middleware =====

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, Call{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			RequestID:     r.Header.Get("X-Request-ID"),
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		var wait chan struct{}
		for prefix, gate := range s.holds {
			if strings.HasPrefix(r.URL.Path, prefix) {
				wait = gate
				break
			}
		}
		status := 0
		for prefix, code := range s.failures {
			if strings.HasPrefix(r.URL.Path, prefix) {
				status = code
				break
			}
		}
		s.mu.Unlock()

		if wait != nil {
			select {
			case <-wait:
			case <-r.Context().Done():
				return
			}
		}
		if status != 0 {
			writeDetail(w, status, http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.requireAuth {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		s.mu.Lock()
		_, ok := s.tokens[token]
		s.mu.Unlock()
		if header == "" || token == header || !ok {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ===== Handlers =====

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var creds uptime.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[creds.Email]; exists {
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	}
	s.users[creds.Email] = creds.Password
	writeJSON(w, http.StatusCreated, map[string]string{"message": "User created successfully"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds uptime.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if pass, ok := s.users[creds.Email]; !ok || pass != creds.Password {
		writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	s.nextID++
	token := fmt.Sprintf("token-%d", s.nextID)
	s.tokens[token] = creds.Email
	writeJSON(w, http.StatusOK, uptime.Token{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]uptime.Endpoint, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.endpoints[id])
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var in uptime.EndpointInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	if in.Name == "" || !strings.HasPrefix(in.URL, "http") || in.Interval < 10 {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid endpoint")
		return
	}
	s.mu.Lock()
	ep := *s.insertLocked(in)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, ep)
}

func (s *Server) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ep, ok := s.endpoints[chi.URLParam(r, "id")]
	var out uptime.Endpoint
	if ok {
		out = *ep
	}
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Endpoint not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	var patch uptime.EndpointPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	s.mu.Lock()
	ep, ok := s.endpoints[chi.URLParam(r, "id")]
	var out uptime.Endpoint
	if ok {
		applyPatch(ep, patch)
		out = *ep
	}
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Endpoint not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	_, ok := s.endpoints[id]
	if ok {
		delete(s.endpoints, id)
		delete(s.logs, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Endpoint not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	logs := s.logs[id]
	var stats uptime.StatsSummary
	total, timed, sum := 0, 0, 0
	for _, l := range logs {
		total++
		if l.ResponseTimeMS != nil {
			timed++
			sum += *l.ResponseTimeMS
		}
		if l.Success {
			stats.SuccessfulChecks++
		}
	}
	s.mu.Unlock()
	stats.TotalChecks = total
	if timed > 0 {
		stats.AverageResponseTime = round2(float64(sum) / float64(timed))
	}
	if total > 0 {
		stats.UptimePercentage = round2(float64(stats.SuccessfulChecks) / float64(total) * 100)
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	s.mu.Lock()
	logs := s.logs[id]
	out := make([]uptime.CheckLog, 0, min(limit, len(logs)))
	for i := len(logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, logs[i])
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

// ===== Helpers =====

func (s *Server) insertLocked(in uptime.EndpointInput) *uptime.Endpoint {
	s.nextID++
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	created := uptime.Timestamp{Time: time.Now().UTC()}
	ep := &uptime.Endpoint{
		ID:              fmt.Sprintf("ep-%d", s.nextID),
		Name:            in.Name,
		URL:             in.URL,
		Method:          in.Method,
		Interval:        in.Interval,
		Timeout:         in.Timeout,
		IsActive:        active,
		CurrentStatus:   uptime.StatusPending,
		SlackWebhookURL: in.SlackWebhookURL,
		AlertEmail:      in.AlertEmail,
		Headers:         in.Headers,
		Body:            in.Body,
		CreatedAt:       &created,
	}
	s.endpoints[ep.ID] = ep
	s.order = append(s.order, ep.ID)
	return ep
}

func applyPatch(ep *uptime.Endpoint, p uptime.EndpointPatch) {
	if p.Name != nil {
		ep.Name = *p.Name
	}
	if p.URL != nil {
		ep.URL = *p.URL
	}
	if p.Method != nil {
		ep.Method = *p.Method
	}
	if p.Interval != nil {
		ep.Interval = *p.Interval
	}
	if p.Timeout != nil {
		ep.Timeout = p.Timeout
	}
	if p.IsActive != nil {
		ep.IsActive = *p.IsActive
	}
	if p.SlackWebhookURL != nil {
		ep.SlackWebhookURL = *p.SlackWebhookURL
	}
	if p.AlertEmail != nil {
		ep.AlertEmail = *p.AlertEmail
	}
	if p.Headers != nil {
		ep.Headers = p.Headers
	}
	if p.Body != nil {
		ep.Body = p.Body
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
