package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/amartya2002/uptime-client/metrics"
	"github.com/amartya2002/uptime-client/uptime"
)

// Gateway is the subset of *uptime.Client the views read through.
type Gateway interface {
	ListEndpoints(ctx context.Context) ([]uptime.Endpoint, error)
	GetEndpoint(ctx context.Context, id string) (*uptime.Endpoint, error)
	GetStats(ctx context.Context, id string) (*uptime.StatsSummary, error)
	GetLogs(ctx context.Context, id string, limit int) ([]uptime.CheckLog, error)
	DeleteEndpoint(ctx context.Context, id string) error
}

const (
	DefaultListInterval      = 30 * time.Second
	DefaultDetailInterval    = 10 * time.Second
	DefaultDashboardInterval = 10 * time.Second
	DefaultLogLimit          = 50
)

type ViewOption func(*viewConfig)

type viewConfig struct {
	interval       time.Duration
	logLimit       int
	location       *time.Location
	cycleTimeout   time.Duration
	onUnauthorized func(error)
	logger         *zap.Logger
}

func WithInterval(d time.Duration) ViewOption {
	return func(c *viewConfig) { c.interval = d }
}

// WithLogLimit sets how many check logs the detail view requests.
func WithLogLimit(n int) ViewOption {
	return func(c *viewConfig) { c.logLimit = n }
}

// WithLocation sets the zone chart labels and log rows are rendered in.
func WithLocation(loc *time.Location) ViewOption {
	return func(c *viewConfig) { c.location = loc }
}

func WithViewCycleTimeout(d time.Duration) ViewOption {
	return func(c *viewConfig) { c.cycleTimeout = d }
}

func WithUnauthorizedHandler(fn func(error)) ViewOption {
	return func(c *viewConfig) { c.onUnauthorized = fn }
}

func WithViewLogger(l *zap.Logger) ViewOption {
	return func(c *viewConfig) { c.logger = l }
}

func newViewConfig(interval time.Duration, opts []ViewOption) viewConfig {
	cfg := viewConfig{
		interval: interval,
		logLimit: DefaultLogLimit,
		location: time.Local,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.location == nil {
		cfg.location = time.Local
	}
	return cfg
}

// View binds one Scheduler, Coordinator and Store together. Each mounted
// view owns exactly one timer.
type View[T any] struct {
	id       string
	name     string
	interval time.Duration

	mu    sync.Mutex // serialises Show/Unmount
	store *Store[T]
	coord *Coordinator[T]
	sched *Scheduler

	logger *zap.Logger
}

func newView[T any](name string, cfg viewConfig, fetch FetchFunc[T]) *View[T] {
	id := uuid.NewString()
	logger := cfg.logger.Named(name).With(zap.String("view_id", id))
	store := NewStore[T](logger)
	return &View[T]{
		id:       id,
		name:     name,
		interval: cfg.interval,
		store:    store,
		coord: NewCoordinator(store, fetch,
			WithCycleTimeout(cfg.cycleTimeout),
			OnUnauthorized(cfg.onUnauthorized),
			WithCoordinatorLogger(logger)),
		sched:  NewScheduler(logger),
		logger: logger,
	}
}

func (v *View[T]) ID() string { return v.id }

// Show mounts the view on subject. Showing the subject already on display
// is a no-op; any other subject stops the running timer, resets the store to
// loading and starts polling the new subject.
func (v *View[T]) Show(subject string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.sched.State() == Active && v.sched.Subject() == subject {
		return nil
	}
	v.sched.Stop()
	v.store.Reset(subject)
	if err := v.sched.Start(subject, v.interval, v.coord.Tick); err != nil {
		v.store.Unmount()
		return err
	}
	v.logger.Info("view mounted", zap.String("subject", subject), zap.Duration("interval", v.interval))
	return nil
}

// Refresh starts an out-of-band cycle. It has no effect while unmounted.
func (v *View[T]) Refresh() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.coord.Tick()
}

// Unmount stops the timer and discards whatever in-flight cycles return.
func (v *View[T]) Unmount() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sched.Stop()
	v.store.Unmount()
	v.logger.Info("view unmounted", zap.String("subject", v.sched.Subject()))
}

func (v *View[T]) Snapshot() State[T] { return v.store.Snapshot() }

func (v *View[T]) OnChange(fn func(State[T])) { v.store.OnChange(fn) }

// Wait blocks until in-flight cycles settle.
func (v *View[T]) Wait() { v.coord.Wait() }

func (v *View[T]) Mounted() bool {
	_, mounted := v.store.Token()
	return mounted
}

// ===== List =====

type ListView struct {
	*View[[]uptime.Endpoint]
	gw Gateway
}

func NewListView(gw Gateway, opts ...ViewOption) *ListView {
	cfg := newViewConfig(DefaultListInterval, opts)
	return &ListView{
		View: newView[[]uptime.Endpoint]("list", cfg, func(ctx context.Context, _ string) ([]uptime.Endpoint, error) {
			return gw.ListEndpoints(ctx)
		}),
		gw: gw,
	}
}

// Mount shows all endpoints.
func (v *ListView) Mount() error { return v.Show("") }

// Delete removes id remotely and refreshes the list. The error is returned
// to the caller; the store is not touched on failure.
func (v *ListView) Delete(ctx context.Context, id string) error {
	if err := v.gw.DeleteEndpoint(ctx, id); err != nil {
		return err
	}
	v.Refresh()
	return nil
}

// ===== Detail =====

type DetailData struct {
	Endpoint uptime.Endpoint     `json:"endpoint"`
	Stats    uptime.StatsSummary `json:"stats"`
	Logs     []uptime.CheckLog   `json:"logs"`
	Series   metrics.Series      `json:"series"`
	Rows     []metrics.LogRow    `json:"rows"`
}

type DetailView struct {
	*View[DetailData]
	gw Gateway
}

func NewDetailView(gw Gateway, opts ...ViewOption) *DetailView {
	cfg := newViewConfig(DefaultDetailInterval, opts)
	return &DetailView{
		View: newView("detail", cfg, detailFetch(gw, cfg.logLimit, cfg.location)),
		gw:   gw,
	}
}

// detailFetch loads endpoint, stats and logs concurrently. All three calls
// settle before the cycle reports; one failure fails the cycle.
func detailFetch(gw Gateway, limit int, loc *time.Location) FetchFunc[DetailData] {
	return func(ctx context.Context, id string) (DetailData, error) {
		var (
			g     errgroup.Group
			ep    *uptime.Endpoint
			stats *uptime.StatsSummary
			logs  []uptime.CheckLog
		)
		g.Go(func() (err error) {
			ep, err = gw.GetEndpoint(ctx, id)
			return err
		})
		g.Go(func() (err error) {
			stats, err = gw.GetStats(ctx, id)
			return err
		})
		g.Go(func() (err error) {
			logs, err = gw.GetLogs(ctx, id, limit)
			return err
		})
		if err := g.Wait(); err != nil {
			return DetailData{}, err
		}
		if ep == nil || stats == nil {
			return DetailData{}, fmt.Errorf("detail %s: empty response", id)
		}
		if ep.ID != "" && ep.ID != id {
			return DetailData{}, fmt.Errorf("detail %s: got endpoint %s", id, ep.ID)
		}
		for _, l := range logs {
			if l.EndpointID != "" && l.EndpointID != id {
				return DetailData{}, fmt.Errorf("detail %s: got log for endpoint %s", id, l.EndpointID)
			}
		}
		return DetailData{
			Endpoint: *ep,
			Stats:    *stats,
			Logs:     logs,
			Series:   metrics.LatencySeries(logs, loc),
			Rows:     metrics.LogRows(logs, loc),
		}, nil
	}
}

var ErrNoSubject = errors.New("live: detail view has no endpoint")

// Show mounts the detail view on endpoint id.
func (v *DetailView) Show(id string) error {
	if id == "" {
		return ErrNoSubject
	}
	return v.View.Show(id)
}

// Delete removes the endpoint on display and unmounts the view. Polling is
// paused and in-flight cycles are invalidated, cancelled and drained before
// the request goes out, so no call for id follows the delete. On failure
// polling resumes with the data already shown.
func (v *DetailView) Delete(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	tok, mounted := v.store.Token()
	if !mounted || tok.Subject == "" {
		return ErrNoSubject
	}
	v.sched.Stop()
	v.store.Invalidate()
	v.coord.Cancel()
	v.coord.Wait()
	if err := v.gw.DeleteEndpoint(ctx, tok.Subject); err != nil {
		if startErr := v.sched.Start(tok.Subject, v.interval, v.coord.Tick); startErr != nil {
			return errors.Join(err, startErr)
		}
		return err
	}
	v.store.Unmount()
	v.logger.Info("endpoint deleted, view unmounted", zap.String("subject", tok.Subject))
	return nil
}

// ===== Dashboard =====

type DashboardData struct {
	Endpoints []uptime.Endpoint `json:"endpoints"`
	Summary   metrics.Dashboard `json:"summary"`
}

type DashboardView struct {
	*View[DashboardData]
}

func NewDashboardView(gw Gateway, opts ...ViewOption) *DashboardView {
	cfg := newViewConfig(DefaultDashboardInterval, opts)
	return &DashboardView{
		View: newView[DashboardData]("dashboard", cfg, func(ctx context.Context, _ string) (DashboardData, error) {
			eps, err := gw.ListEndpoints(ctx)
			if err != nil {
				return DashboardData{}, err
			}
			return DashboardData{Endpoints: eps, Summary: metrics.Summarize(eps)}, nil
		}),
	}
}

func (v *DashboardView) Mount() error { return v.Show("") }
