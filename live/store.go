package live

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type Phase int

const (
	PhaseLoading Phase = iota
	PhaseReady
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// Token identifies the subject and generation a cycle was started for.
type Token struct {
	Subject string
	Gen     uint64
}

// State is a copy of a Store's contents.
type State[T any] struct {
	Phase   Phase
	Subject string
	Data    T
	// Err is the reason for PhaseError.
	Err error
	// LastError is the most recent refresh failure that was absorbed while
	// ready. Cleared by the next successful commit.
	LastError error
	UpdatedAt time.Time
	Mounted   bool
}

// Store is the tri-state holder of one view. Commits are accepted only for
// the current generation of a mounted store.
type Store[T any] struct {
	mu        sync.Mutex
	state     State[T]
	gen       uint64
	loaded    bool
	listeners []func(State[T])
	logger    *zap.Logger
	now       func() time.Time
}

func NewStore[T any](logger *zap.Logger) *Store[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store[T]{logger: logger, now: time.Now}
}

// Reset mounts the store for subject in PhaseLoading and invalidates every
// token handed out before.
func (s *Store[T]) Reset(subject string) Token {
	s.mu.Lock()
	s.gen++
	s.loaded = false
	s.state = State[T]{
		Phase:     PhaseLoading,
		Subject:   subject,
		Mounted:   true,
		UpdatedAt: s.now(),
	}
	tok := Token{Subject: subject, Gen: s.gen}
	snap := s.state
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, snap)
	return tok
}

// Unmount invalidates outstanding tokens and rejects further commits until
// the next Reset. The last state stays readable.
func (s *Store[T]) Unmount() {
	s.mu.Lock()
	if !s.state.Mounted {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.state.Mounted = false
	snap := s.state
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, snap)
}

// Invalidate makes every outstanding token stale without touching the
// state. Tokens taken afterwards commit normally.
func (s *Store[T]) Invalidate() {
	s.mu.Lock()
	s.gen++
	s.mu.Unlock()
}

// Token returns the current token and whether the store is mounted.
func (s *Store[T]) Token() (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Token{Subject: s.state.Subject, Gen: s.gen}, s.state.Mounted
}

// Current reports whether tok would pass the commit guard right now.
func (s *Store[T]) Current(tok Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(tok)
}

func (s *Store[T]) currentLocked(tok Token) bool {
	return s.state.Mounted && tok.Gen == s.gen && tok.Subject == s.state.Subject
}

// Commit stores data as ready. A stale token is dropped and reported false.
func (s *Store[T]) Commit(tok Token, data T) bool {
	s.mu.Lock()
	if !s.currentLocked(tok) {
		s.mu.Unlock()
		s.logger.Debug("stale result discarded", zap.String("subject", tok.Subject), zap.Uint64("gen", tok.Gen))
		return false
	}
	s.loaded = true
	s.state.Phase = PhaseReady
	s.state.Data = data
	s.state.Err = nil
	s.state.LastError = nil
	s.state.UpdatedAt = s.now()
	snap := s.state
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, snap)
	return true
}

// Fail applies a cycle failure. Before the first successful load for the
// subject the store moves to PhaseError; afterwards the ready data is kept
// and only LastError changes. Returns false for a stale token.
func (s *Store[T]) Fail(tok Token, err error) bool {
	s.mu.Lock()
	if !s.currentLocked(tok) {
		s.mu.Unlock()
		s.logger.Debug("stale failure discarded", zap.String("subject", tok.Subject), zap.Uint64("gen", tok.Gen), zap.Error(err))
		return false
	}
	if s.loaded {
		s.state.LastError = err
		snap := s.state
		listeners := s.listeners
		s.mu.Unlock()

		s.logger.Warn("refresh failed, keeping last known data", zap.String("subject", tok.Subject), zap.Error(err))
		notify(listeners, snap)
		return true
	}
	s.state.Phase = PhaseError
	s.state.Err = err
	s.state.UpdatedAt = s.now()
	snap := s.state
	listeners := s.listeners
	s.mu.Unlock()

	s.logger.Info("initial load failed", zap.String("subject", tok.Subject), zap.Error(err))
	notify(listeners, snap)
	return true
}

func (s *Store[T]) Snapshot() State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnChange registers fn to receive a copy of the state after every change.
// Listeners run outside the store lock, on the goroutine that made the change.
func (s *Store[T]) OnChange(fn func(State[T])) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners[:len(s.listeners):len(s.listeners)], fn)
}

func notify[T any](listeners []func(State[T]), snap State[T]) {
	for _, fn := range listeners {
		fn(snap)
	}
}
