// Package live keeps view snapshots in sync with the remote service: a
// Scheduler ticks per view, a Coordinator turns each tick into one fetch
// cycle, and a Store commits only results that still belong to the view.
package live

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrInvalidInterval = errors.New("live: interval must be positive")

// Timer calls tick once right away and then on every interval until Stop.
type Timer struct {
	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Every starts a Timer. tick runs on the timer goroutine and must not call
// Stop on its own Timer.
func Every(interval time.Duration, tick func()) *Timer {
	t := &Timer{
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go t.run(interval, tick)
	return t
}

func (t *Timer) run(interval time.Duration, tick func()) {
	defer close(t.done)
	if t.stopped() {
		return
	}
	tick()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			// a stop racing a tick wins
			if t.stopped() {
				return
			}
			tick()
		}
	}
}

func (t *Timer) stopped() bool {
	select {
	case <-t.stopCh:
		return true
	default:
		return false
	}
}

// Stop is idempotent. Once it returns no further tick runs.
func (t *Timer) Stop() {
	t.once.Do(func() { close(t.stopCh) })
	<-t.done
}

type SchedulerState int

const (
	Idle SchedulerState = iota
	Active
	Cancelled
)

func (s SchedulerState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Scheduler owns at most one Timer for a view, scoped to a subject key.
type Scheduler struct {
	mu       sync.Mutex
	state    SchedulerState
	key      string
	interval time.Duration
	timer    *Timer
	logger   *zap.Logger
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger}
}

// Start moves the scheduler to Active for key. Starting with the key and
// interval already active is a no-op; any other active timer is stopped
// first.
func (s *Scheduler) Start(key string, interval time.Duration, tick func()) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Active {
		if s.key == key && s.interval == interval {
			return nil
		}
		s.timer.Stop()
		s.logger.Debug("scheduler switching subject", zap.String("from", s.key), zap.String("to", key))
	}
	s.key = key
	s.interval = interval
	s.state = Active
	s.timer = Every(interval, tick)
	s.logger.Debug("scheduler started", zap.String("subject", key), zap.Duration("interval", interval))
	return nil
}

// Stop cancels the active timer. No tick runs after it returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Active {
		return
	}
	s.timer.Stop()
	s.timer = nil
	s.state = Cancelled
	s.logger.Debug("scheduler stopped", zap.String("subject", s.key))
}

func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subject is the key of the last Start, kept after Stop.
func (s *Scheduler) Subject() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}
