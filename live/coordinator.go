package live

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/amartya2002/uptime-client/uptime"
)

// FetchFunc performs every gateway call of one cycle for subject. It returns
// an error if any call failed; partial results are never committed.
type FetchFunc[T any] func(ctx context.Context, subject string) (T, error)

// Coordinator runs fetch cycles and commits their results through the
// Store's guard.
type Coordinator[T any] struct {
	store          *Store[T]
	fetch          FetchFunc[T]
	seq            atomic.Uint64
	wg             sync.WaitGroup
	timeout        time.Duration
	onUnauthorized func(error)
	logger         *zap.Logger

	mu     sync.Mutex
	ctx    context.Context // parent of every cycle started since the last Cancel
	cancel context.CancelFunc
}

type CoordinatorOption func(*coordinatorConfig)

type coordinatorConfig struct {
	timeout        time.Duration
	onUnauthorized func(error)
	logger         *zap.Logger
}

// WithCycleTimeout bounds each cycle. Zero leaves cycles unbounded apart from
// the gateway's own request timeout.
func WithCycleTimeout(d time.Duration) CoordinatorOption {
	return func(c *coordinatorConfig) { c.timeout = d }
}

// OnUnauthorized is called for every cycle that fails with a 401 and is
// still current when it settles. Stale cycles never reach it.
func OnUnauthorized(fn func(error)) CoordinatorOption {
	return func(c *coordinatorConfig) { c.onUnauthorized = fn }
}

func WithCoordinatorLogger(l *zap.Logger) CoordinatorOption {
	return func(c *coordinatorConfig) { c.logger = l }
}

func NewCoordinator[T any](store *Store[T], fetch FetchFunc[T], opts ...CoordinatorOption) *Coordinator[T] {
	cfg := coordinatorConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator[T]{
		store:          store,
		fetch:          fetch,
		timeout:        cfg.timeout,
		onUnauthorized: cfg.onUnauthorized,
		logger:         cfg.logger,
		ctx:            ctx,
		cancel:         cancel,
	}
}

func (c *Coordinator[T]) parent() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// Cancel aborts the gateway calls of every cycle in flight. Cycles started
// afterwards run normally.
func (c *Coordinator[T]) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel()
	c.ctx, c.cancel = context.WithCancel(context.Background())
}

// Tick starts one cycle in the background for the store's current token.
// Ticks never wait for earlier cycles.
func (c *Coordinator[T]) Tick() {
	tok, mounted := c.store.Token()
	if !mounted {
		return
	}
	parent := c.parent()
	seq := c.seq.Add(1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.cycle(parent, tok, seq)
	}()
}

// RunOnce runs a cycle on the calling goroutine and reports whether its
// result was committed.
func (c *Coordinator[T]) RunOnce() bool {
	tok, mounted := c.store.Token()
	if !mounted {
		return false
	}
	return c.cycle(c.parent(), tok, c.seq.Add(1))
}

// Wait blocks until every started cycle has settled.
func (c *Coordinator[T]) Wait() { c.wg.Wait() }

// Seq is the number of cycles started so far.
func (c *Coordinator[T]) Seq() uint64 { return c.seq.Load() }

func (c *Coordinator[T]) cycle(ctx context.Context, tok Token, seq uint64) bool {
	log := c.logger.With(zap.String("subject", tok.Subject), zap.Uint64("seq", seq))
	if !c.store.Current(tok) {
		log.Debug("cycle skipped, subject changed")
		return false
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	data, err := c.fetch(ctx, tok.Subject)
	if err != nil {
		log.Debug("cycle failed", zap.Duration("took", time.Since(start)), zap.Error(err))
		if c.store.Fail(tok, err) && uptime.IsUnauthorized(err) && c.onUnauthorized != nil {
			c.onUnauthorized(err)
		}
		return false
	}
	committed := c.store.Commit(tok, data)
	log.Debug("cycle settled", zap.Duration("took", time.Since(start)), zap.Bool("committed", committed))
	return committed
}
