package live

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amartya2002/uptime-client/uptime"
)

// gatedFetch returns the call number of each fetch once its gate opens.
type gatedFetch struct {
	calls atomic.Int32
	gates []chan struct{}
}

func newGatedFetch(n int) *gatedFetch {
	g := &gatedFetch{gates: make([]chan struct{}, n)}
	for i := range g.gates {
		g.gates[i] = make(chan struct{})
	}
	return g
}

func (g *gatedFetch) fetch(ctx context.Context, _ string) (int, error) {
	n := int(g.calls.Add(1))
	<-g.gates[n-1]
	return n, nil
}

func TestCoordinatorCommitsInCompletionOrder(t *testing.T) {
	store := NewStore[int](nil)
	store.Reset("a")
	g := newGatedFetch(2)
	c := NewCoordinator(store, g.fetch)

	c.Tick()
	require.Eventually(t, func() bool { return g.calls.Load() == 1 }, time.Second, time.Millisecond)
	c.Tick()
	require.Eventually(t, func() bool { return g.calls.Load() == 2 }, time.Second, time.Millisecond)

	close(g.gates[1])
	require.Eventually(t, func() bool { return store.Snapshot().Data == 2 }, time.Second, time.Millisecond)
	close(g.gates[0])
	c.Wait()

	// the older cycle finished last and wrote last
	assert.Equal(t, 1, store.Snapshot().Data)
	assert.Equal(t, uint64(2), c.Seq())
}

func TestCoordinatorDiscardsAfterReset(t *testing.T) {
	store := NewStore[int](nil)
	store.Reset("a")
	g := newGatedFetch(1)
	c := NewCoordinator(store, g.fetch)

	c.Tick()
	require.Eventually(t, func() bool { return g.calls.Load() == 1 }, time.Second, time.Millisecond)
	store.Reset("a")
	close(g.gates[0])
	c.Wait()

	snap := store.Snapshot()
	assert.Equal(t, PhaseLoading, snap.Phase)
	assert.Zero(t, snap.Data)
}

func TestCoordinatorSkipsWhileUnmounted(t *testing.T) {
	store := NewStore[int](nil)
	var calls atomic.Int32
	c := NewCoordinator(store, func(context.Context, string) (int, error) {
		calls.Add(1)
		return 1, nil
	})

	c.Tick()
	assert.False(t, c.RunOnce())
	c.Wait()
	assert.Zero(t, calls.Load())
}

func TestCoordinatorReportsUnauthorizedEveryCycle(t *testing.T) {
	store := NewStore[int](nil)
	store.Reset("")
	var fail atomic.Bool
	var hooked atomic.Int32
	c := NewCoordinator(store, func(context.Context, string) (int, error) {
		if fail.Load() {
			return 0, &uptime.HTTPError{Status: 401, Message: "Could not validate credentials"}
		}
		return 5, nil
	}, OnUnauthorized(func(err error) {
		require.True(t, uptime.IsUnauthorized(err))
		hooked.Add(1)
	}))

	require.True(t, c.RunOnce())
	fail.Store(true)
	assert.False(t, c.RunOnce())
	assert.False(t, c.RunOnce())

	assert.Equal(t, int32(2), hooked.Load())
	snap := store.Snapshot()
	assert.Equal(t, PhaseReady, snap.Phase)
	assert.Equal(t, 5, snap.Data)
	assert.True(t, uptime.IsUnauthorized(snap.LastError))
}

func TestCoordinatorIgnoresStaleUnauthorized(t *testing.T) {
	for name, supersede := range map[string]func(*Store[int]){
		"unmount": func(s *Store[int]) { s.Unmount() },
		"reset":   func(s *Store[int]) { s.Reset("b") },
	} {
		t.Run(name, func(t *testing.T) {
			store := NewStore[int](nil)
			store.Reset("a")
			gate := make(chan struct{})
			started := make(chan struct{})
			var hooked atomic.Int32
			c := NewCoordinator(store, func(context.Context, string) (int, error) {
				close(started)
				<-gate
				return 0, &uptime.HTTPError{Status: 401, Message: "Could not validate credentials"}
			}, OnUnauthorized(func(error) { hooked.Add(1) }))

			c.Tick()
			<-started
			supersede(store)
			close(gate)
			c.Wait()

			assert.Zero(t, hooked.Load())
			snap := store.Snapshot()
			assert.Equal(t, PhaseLoading, snap.Phase)
			assert.Nil(t, snap.Err)
			assert.Nil(t, snap.LastError)
		})
	}
}

func TestCoordinatorCancelAbortsInFlight(t *testing.T) {
	store := NewStore[int](nil)
	store.Reset("a")
	started := make(chan struct{}, 1)
	c := NewCoordinator(store, func(ctx context.Context, _ string) (int, error) {
		started <- struct{}{}
		<-ctx.Done()
		return 0, ctx.Err()
	})

	c.Tick()
	<-started
	store.Invalidate()
	c.Cancel()
	c.Wait()
	assert.Equal(t, PhaseLoading, store.Snapshot().Phase)

	// cycles after a cancel get a live context
	next := NewCoordinator(store, func(ctx context.Context, _ string) (int, error) {
		return 7, ctx.Err()
	})
	next.Cancel()
	require.True(t, next.RunOnce())
	assert.Equal(t, 7, store.Snapshot().Data)
}

func TestCoordinatorCycleTimeout(t *testing.T) {
	store := NewStore[int](nil)
	store.Reset("")
	c := NewCoordinator(store, func(ctx context.Context, _ string) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}, WithCycleTimeout(10*time.Millisecond))

	assert.False(t, c.RunOnce())
	snap := store.Snapshot()
	assert.Equal(t, PhaseError, snap.Phase)
	assert.True(t, errors.Is(snap.Err, context.DeadlineExceeded))
}
