// Package dashboard serves the live views and the endpoint actions over a
// small JSON API for a browser or terminal front end.
package dashboard

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/amartya2002/uptime-client/live"
	"github.com/amartya2002/uptime-client/prefs"
	"github.com/amartya2002/uptime-client/uptime"
)

// Mutator performs the synchronous endpoint actions.
type Mutator interface {
	CreateEndpoint(ctx context.Context, in uptime.EndpointInput) (*uptime.Endpoint, error)
	UpdateEndpoint(ctx context.Context, id string, patch uptime.EndpointPatch) (*uptime.Endpoint, error)
}

type Authenticator interface {
	Login(ctx context.Context, creds uptime.Credentials) error
	Register(ctx context.Context, creds uptime.Credentials) error
	Logout() error
	Authenticated(now time.Time) bool
}

type ThemeStore interface {
	Theme() (prefs.Theme, error)
	Toggle() (prefs.Theme, error)
}

// Reauth records that the remote service rejected the credential. Views
// report into it from their cycles; a successful login clears it.
type Reauth struct {
	required atomic.Bool
	logger   *zap.Logger
}

func NewReauth(logger *zap.Logger) *Reauth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reauth{logger: logger}
}

func (r *Reauth) Report(err error) {
	if !r.required.Swap(true) {
		r.logger.Warn("credential rejected, login required", zap.Error(err))
	}
}

func (r *Reauth) Required() bool { return r.required.Load() }

func (r *Reauth) Clear() { r.required.Store(false) }

type Deps struct {
	Gateway   Mutator
	Session   Authenticator
	List      *live.ListView
	Detail    *live.DetailView
	Dashboard *live.DashboardView
	Theme     ThemeStore
	Reauth    *Reauth
	Digest    *Digest
	Logger    *zap.Logger
}

type Server struct {
	deps   Deps
	engine *gin.Engine
	logger *zap.Logger
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Reauth == nil {
		deps.Reauth = NewReauth(deps.Logger)
	}
	s := &Server{deps: deps, logger: deps.Logger.Named("dashboard")}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))
	s.routes(r)
	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	auth := api.Group("/auth")
	auth.POST("/login", s.login)
	auth.POST("/register", s.register)
	auth.POST("/logout", s.logout)
	auth.GET("/status", s.authStatus)

	views := api.Group("", s.requireLogin)
	views.GET("/dashboard", s.showDashboard)
	views.GET("/endpoints", s.showList)
	views.POST("/endpoints/refresh", s.refreshList)
	views.GET("/endpoints/:id", s.showDetail)
	views.DELETE("/views/:name", s.unmountView)

	api.POST("/endpoints", s.createEndpoint)
	api.PUT("/endpoints/:id", s.updateEndpoint)
	api.DELETE("/endpoints/:id", s.deleteEndpoint)

	api.GET("/digest", s.lastDigest)
	api.GET("/theme", s.getTheme)
	api.POST("/theme/toggle", s.toggleTheme)
}

// ===== Views =====

type viewResponse struct {
	Phase     string    `json:"phase"`
	Subject   string    `json:"subject,omitempty"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func render[T any](st live.State[T]) viewResponse {
	out := viewResponse{
		Phase:     st.Phase.String(),
		Subject:   st.Subject,
		UpdatedAt: st.UpdatedAt,
	}
	if st.Phase == live.PhaseReady {
		out.Data = st.Data
	}
	if st.Err != nil {
		out.Error = st.Err.Error()
	}
	if st.LastError != nil {
		out.LastError = st.LastError.Error()
	}
	return out
}

func (s *Server) requireLogin(c *gin.Context) {
	if s.deps.Reauth.Required() {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login required"})
		return
	}
	c.Next()
}

func (s *Server) showDashboard(c *gin.Context) {
	if err := s.deps.Dashboard.Mount(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, render(s.deps.Dashboard.Snapshot()))
}

func (s *Server) showList(c *gin.Context) {
	if err := s.deps.List.Mount(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, render(s.deps.List.Snapshot()))
}

func (s *Server) refreshList(c *gin.Context) {
	s.deps.List.Refresh()
	c.Status(http.StatusAccepted)
}

func (s *Server) showDetail(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.Detail.Show(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, render(s.deps.Detail.Snapshot()))
}

func (s *Server) unmountView(c *gin.Context) {
	switch c.Param("name") {
	case "list":
		s.deps.List.Unmount()
	case "detail":
		s.deps.Detail.Unmount()
	case "dashboard":
		s.deps.Dashboard.Unmount()
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown view"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ===== Actions =====

func (s *Server) createEndpoint(c *gin.Context) {
	in := uptime.NewEndpointInput("", "")
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ep, err := s.deps.Gateway.CreateEndpoint(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	s.deps.List.Refresh()
	s.deps.Dashboard.Refresh()
	c.JSON(http.StatusCreated, ep)
}

func (s *Server) updateEndpoint(c *gin.Context) {
	var patch uptime.EndpointPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ep, err := s.deps.Gateway.UpdateEndpoint(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		writeError(c, err)
		return
	}
	s.deps.Detail.Refresh()
	s.deps.List.Refresh()
	c.JSON(http.StatusOK, ep)
}

// deleteEndpoint goes through the detail view when it shows id, so its timer
// stops before the request is sent.
func (s *Server) deleteEndpoint(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	var err error
	if st := s.deps.Detail.Snapshot(); st.Mounted && st.Subject == id {
		err = s.deps.Detail.Delete(ctx)
		if err == nil {
			s.deps.List.Refresh()
		}
	} else {
		err = s.deps.List.Delete(ctx, id)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	s.deps.Dashboard.Refresh()
	c.Status(http.StatusNoContent)
}

// ===== Auth =====

func (s *Server) login(c *gin.Context) {
	s.authenticate(c, s.deps.Session.Login)
}

func (s *Server) register(c *gin.Context) {
	s.authenticate(c, s.deps.Session.Register)
}

func (s *Server) authenticate(c *gin.Context, fn func(context.Context, uptime.Credentials) error) {
	var creds uptime.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := fn(c.Request.Context(), creds); err != nil {
		writeError(c, err)
		return
	}
	s.deps.Reauth.Clear()
	s.deps.List.Refresh()
	s.deps.Dashboard.Refresh()
	c.JSON(http.StatusOK, gin.H{"authenticated": true})
}

func (s *Server) logout(c *gin.Context) {
	if err := s.deps.Session.Logout(); err != nil {
		writeError(c, err)
		return
	}
	s.deps.List.Unmount()
	s.deps.Detail.Unmount()
	s.deps.Dashboard.Unmount()
	c.Status(http.StatusNoContent)
}

func (s *Server) authStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"authenticated": s.deps.Session.Authenticated(time.Now()),
		"reauth":        s.deps.Reauth.Required(),
	})
}

// ===== Preferences & digest =====

func (s *Server) getTheme(c *gin.Context) {
	theme, err := s.deps.Theme.Theme()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"theme": theme})
}

func (s *Server) toggleTheme(c *gin.Context) {
	theme, err := s.deps.Theme.Toggle()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"theme": theme})
}

func (s *Server) lastDigest(c *gin.Context) {
	if s.deps.Digest == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "digest disabled"})
		return
	}
	d, at, ok := s.deps.Digest.Last()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no digest yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": d, "at": at})
}

// ===== Errors =====

// writeError maps gateway errors onto the response: validation 422, remote
// 4xx passed through, remote 5xx 502, transport 503.
func writeError(c *gin.Context, err error) {
	var verr *uptime.ValidationError
	switch {
	case errors.As(err, &verr):
		fields := make([]gin.H, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			fields = append(fields, gin.H{"field": f.Field, "rule": f.Rule, "param": f.Param})
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verr.Error(), "fields": fields})
	case errors.Is(err, live.ErrNoSubject):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case uptime.IsTransport(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "remote service unreachable"})
	default:
		if httpErr, ok := uptime.AsHTTPError(err); ok {
			status := httpErr.Status
			if status >= 500 {
				status = http.StatusBadGateway
			}
			c.JSON(status, gin.H{"error": httpErr.Message})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
