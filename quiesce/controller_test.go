package quiesce

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkNumGoroutines(timeout time.Duration) func(t *testing.T) {
	before := runtime.NumGoroutine()
	return func(t *testing.T) {
		t.Helper()
		deadline := time.Now().Add(timeout)
		for {
			after := runtime.NumGoroutine()
			if after <= before {
				return
			}
			if time.Now().After(deadline) {
				t.Errorf(`goroutine leak: before=%d after=%d`, before, after)
				return
			}
			time.Sleep(time.Millisecond * 10)
		}
	}
}

// workerPool runs n cooperative workers against a controller, each counting
// its iterations, until stop is called.
type workerPool struct {
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	iterations atomic.Int64
}

func startWorkers(t *testing.T, c *Controller, n int) *workerPool {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	p := &workerPool{cancel: cancel}
	var ready sync.WaitGroup
	ready.Add(n)
	p.wg.Add(n)
	for range n {
		go func() {
			defer p.wg.Done()
			c.Register()
			defer c.Unregister()
			ready.Done()
			for {
				if err := c.AwaitIfPaused(ctx); err != nil {
					return
				}
				p.iterations.Add(1)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Millisecond):
				}
			}
		}()
	}
	ready.Wait()
	return p
}

func (x *workerPool) stop() {
	x.cancel()
	x.wg.Wait()
}

func TestNew_defaults(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, c.Timeout())
	assert.Equal(t, PhaseRunning, c.Phase())
	assert.False(t, c.Paused())
	assert.False(t, c.AllThreadsPaused())
	assert.Zero(t, c.Registered())
	assert.Zero(t, c.Suspended())
}

func TestNew_options(t *testing.T) {
	for _, tc := range [...]struct {
		name string
		opts []Option
		want time.Duration
	}{
		{`nil option`, []Option{nil}, DefaultTimeout},
		{`zero timeout`, []Option{WithTimeout(0)}, DefaultTimeout},
		{`custom timeout`, []Option{WithTimeout(time.Millisecond * 5)}, time.Millisecond * 5},
		{`unbounded`, []Option{WithTimeout(-1)}, -1},
		{`last wins`, []Option{WithTimeout(time.Second), WithTimeout(time.Minute)}, time.Minute},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, err := New(tc.opts...)
			require.NoError(t, err)
			assert.Equal(t, tc.want, c.Timeout())
		})
	}
}

func TestController_Pause_noWorkers(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	c, err := New()
	require.NoError(t, err)

	require.True(t, c.Pause())
	assert.True(t, c.Paused())
	assert.True(t, c.AllThreadsPaused())
	assert.Equal(t, PhaseAllSuspended, c.Phase())

	c.Resume()
	assert.False(t, c.Paused())
	assert.False(t, c.AllThreadsPaused())
	assert.Equal(t, PhaseRunning, c.Phase())

	// idempotent
	c.Resume()
	assert.Equal(t, PhaseRunning, c.Phase())
}

func TestController_Pause_quiescence(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	c, err := New(WithTimeout(time.Second * 5))
	require.NoError(t, err)

	p := startWorkers(t, c, 8)
	defer p.stop()

	require.Equal(t, 8, c.Registered())

	for i := 0; i < 3; i++ {
		time.Sleep(time.Millisecond * 20)

		require.True(t, c.Pause(), `cycle %d`, i)
		require.True(t, c.AllThreadsPaused(), `cycle %d`, i)
		require.Equal(t, 8, c.Suspended())
		require.Equal(t, PhaseAllSuspended, c.Phase())

		// no silent progress while paused
		before := p.iterations.Load()
		time.Sleep(time.Millisecond * 30)
		require.Equal(t, before, p.iterations.Load(), `cycle %d`, i)

		c.Resume()
		require.False(t, c.Paused())

		// forward progress restored
		require.Eventually(t, func() bool {
			return p.iterations.Load() > before
		}, time.Second*2, time.Millisecond)
	}
}

func TestController_PauseContext_timeout(t *testing.T) {
	c, err := New(WithTimeout(time.Millisecond * 50))
	require.NoError(t, err)

	// registered, but never reaches a suspension point
	c.Register()
	defer c.Unregister()

	start := time.Now()
	err = c.PauseContext(context.Background())
	require.ErrorIs(t, err, ErrPauseTimeout)
	assert.Contains(t, err.Error(), `registered=1 suspended=0`)
	assert.GreaterOrEqual(t, time.Since(start), time.Millisecond*50)

	// degraded, but still in effect
	assert.True(t, c.Paused())
	assert.False(t, c.AllThreadsPaused())
	assert.Equal(t, PhasePauseRequested, c.Phase())

	c.Resume()
	assert.Equal(t, PhaseRunning, c.Phase())
}

func TestController_Pause_timeoutLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	c, err := New(
		WithTimeout(time.Millisecond*20),
		WithLogger(stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(&buf))).Logger()),
	)
	require.NoError(t, err)

	c.Register()
	defer c.Unregister()

	require.False(t, c.Pause())
	assert.True(t, c.Paused())
	assert.Contains(t, buf.String(), `pause is degraded`)
	assert.Contains(t, buf.String(), `"registered":1`)

	c.Resume()
}

func TestController_Unregister_wakesPause(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	c, err := New(WithTimeout(-1))
	require.NoError(t, err)

	c.Register()

	done := make(chan error, 1)
	go func() { done <- c.PauseContext(context.Background()) }()

	time.Sleep(time.Millisecond * 30)
	select {
	case err := <-done:
		t.Fatal(`expected pause to block`, err)
	default:
	}

	// a drained population trivially satisfies quiescence
	c.Unregister()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second * 3):
		t.Fatal(`expected pause to return`)
	}
	assert.True(t, c.AllThreadsPaused())
	c.Resume()
}

func TestController_PauseContext_resumed(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	c, err := New(WithTimeout(-1))
	require.NoError(t, err)

	c.Register()
	defer c.Unregister()

	done := make(chan error, 1)
	go func() { done <- c.PauseContext(context.Background()) }()

	require.Eventually(t, c.Paused, time.Second, time.Millisecond)
	c.Resume()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrResumed)
	case <-time.After(time.Second * 3):
		t.Fatal(`expected pause to return`)
	}
	assert.False(t, c.Paused())
}

func TestController_PauseContext_canceled(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	c, err := New(WithTimeout(-1))
	require.NoError(t, err)

	c.Register()
	defer c.Unregister()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.PauseContext(ctx) }()

	require.Eventually(t, c.Paused, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second * 3):
		t.Fatal(`expected pause to return`)
	}

	// the request itself is not withdrawn
	assert.True(t, c.Paused())
	c.Resume()
}

func TestController_PauseContext_nilContext(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	assert.PanicsWithValue(t, `quiesce: nil context`, func() {
		//lint:ignore SA1012 testing nil context
		_ = c.PauseContext(nil) //nolint:staticcheck
	})
}

func TestController_AwaitIfPaused_notPaused(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	c.Register()
	defer c.Unregister()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// the fast path does not consult ctx
	require.NoError(t, c.AwaitIfPaused(ctx))
	assert.Zero(t, c.Suspended())
}

func TestController_AwaitIfPaused_canceled(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	c, err := New()
	require.NoError(t, err)

	c.Register()
	defer c.Unregister()

	c.PauseNonBlocking()
	require.True(t, c.Paused())
	require.False(t, c.AllThreadsPaused())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.AwaitIfPaused(ctx) }()

	require.Eventually(t, c.AllThreadsPaused, time.Second, time.Millisecond)
	assert.Equal(t, 1, c.Suspended())

	cancel()

	select {
	case err := <-done:
		require.True(t, errors.Is(err, context.Canceled), err)
	case <-time.After(time.Second * 3):
		t.Fatal(`expected await to return`)
	}
	assert.Zero(t, c.Suspended())
	assert.True(t, c.Paused())
	c.Resume()
}

func TestController_AwaitIfPaused_alreadyCanceled(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	c.Register()
	defer c.Unregister()
	c.PauseNonBlocking()
	defer c.Resume()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, c.AwaitIfPaused(ctx), context.Canceled)
	assert.Zero(t, c.Suspended())
}

func TestController_Unregister_withoutRegister(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	assert.PanicsWithValue(t, `quiesce: unregister without register`, c.Unregister)
}

func TestController_Register_whilePaused(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	require.True(t, c.Pause())
	require.Equal(t, PhaseAllSuspended, c.Phase())

	// a late registration must park before quiescence holds again
	c.Register()
	assert.Equal(t, PhasePauseRequested, c.Phase())
	assert.False(t, c.AllThreadsPaused())

	c.Unregister()
	assert.Equal(t, PhaseAllSuspended, c.Phase())
	c.Resume()
}

func TestController_String(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	c.Register()
	defer c.Unregister()
	c.PauseNonBlocking()
	defer c.Resume()
	assert.Equal(t, `quiesce: phase=PauseRequested paused=true registered=1 suspended=0`, c.String())
}

func TestPhase_String(t *testing.T) {
	for _, tc := range [...]struct {
		phase Phase
		want  string
	}{
		{PhaseRunning, `Running`},
		{PhasePauseRequested, `PauseRequested`},
		{PhaseAllSuspended, `AllSuspended`},
		{Phase(200), `Unknown`},
	} {
		assert.Equal(t, tc.want, tc.phase.String())
	}
}
