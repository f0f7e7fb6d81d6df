package dashboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/amartya2002/uptime-client/metrics"
	"github.com/amartya2002/uptime-client/uptime"
)

type Lister interface {
	ListEndpoints(ctx context.Context) ([]uptime.Endpoint, error)
}

// Digest periodically summarizes every endpoint into a log line, whether or
// not a view is mounted.
type Digest struct {
	cron    *cron.Cron
	lister  Lister
	timeout time.Duration
	logger  *zap.Logger

	mu   sync.Mutex
	last *metrics.Dashboard
	at   time.Time
}

// NewDigest schedules the digest with a standard cron spec or descriptor
// such as "@every 5m".
func NewDigest(schedule string, lister Lister, timeout time.Duration, logger *zap.Logger) (*Digest, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Digest{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		lister:  lister,
		timeout: timeout,
		logger:  logger.Named("digest"),
	}
	if _, err := d.cron.AddFunc(schedule, d.tick); err != nil {
		return nil, fmt.Errorf("digest schedule %q: %w", schedule, err)
	}
	return d, nil
}

func (d *Digest) Start() {
	d.cron.Start()
	d.logger.Info("digest scheduler started")
}

// Stop waits for a running digest to finish or ctx to expire.
func (d *Digest) Stop(ctx context.Context) {
	select {
	case <-d.cron.Stop().Done():
	case <-ctx.Done():
	}
	d.logger.Info("digest scheduler stopped")
}

func (d *Digest) tick() {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if _, err := d.Run(ctx); err != nil {
		d.logger.Warn("digest failed", zap.Error(err))
	}
}

// Run computes one digest now.
func (d *Digest) Run(ctx context.Context) (metrics.Dashboard, error) {
	eps, err := d.lister.ListEndpoints(ctx)
	if err != nil {
		return metrics.Dashboard{}, err
	}
	sum := metrics.Summarize(eps)

	d.mu.Lock()
	d.last = &sum
	d.at = time.Now()
	d.mu.Unlock()

	d.logger.Info("digest",
		zap.Int("total", sum.Total),
		zap.Int("up", sum.Up),
		zap.Int("down", sum.Down),
		zap.Int("pending", sum.Pending),
		zap.Int("avg_latency_ms", sum.AvgLatency))
	for _, ep := range eps {
		if ep.CurrentStatus == uptime.StatusDown {
			d.logger.Warn("endpoint down", zap.String("id", ep.ID), zap.String("name", ep.Name), zap.String("url", ep.URL))
		}
	}
	return sum, nil
}

// Last returns the most recent digest and when it was taken.
func (d *Digest) Last() (metrics.Dashboard, time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return metrics.Dashboard{}, time.Time{}, false
	}
	return *d.last, d.at, true
}
