package quiesce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// DefaultTimeout is the default bound on how long Pause will wait for every
// registered worker to park.
const DefaultTimeout = 3 * time.Second

var (
	// ErrPauseTimeout indicates that Controller.PauseContext gave up waiting
	// for full quiescence. The pause remains in effect.
	ErrPauseTimeout = errors.New("quiesce: timed out waiting for workers to suspend")

	// ErrResumed indicates that Controller.Resume was called while a call to
	// Controller.PauseContext was still waiting for quiescence.
	ErrResumed = errors.New("quiesce: resumed while waiting for workers to suspend")
)

// categories for rate limited logging
const (
	logCategoryPauseTimeout = "pause-timeout"
)

type (
	// Controller is a quiescence barrier, see the package docs for details.
	// Instances must be initialized using the New factory.
	Controller struct {
		logger  *logiface.Logger[logiface.Event]
		limiter *catrate.Limiter
		// signalled on Resume
		resumed *sync.Cond
		// signalled when a worker parks, exits, or on Resume (waking pausers)
		allSuspended *sync.Cond
		timeout      time.Duration
		mu           sync.Mutex
		registered   int // guarded by mu
		suspended    int // guarded by mu
		paused       bool
		// mirrors paused, for the AwaitIfPaused fast path
		pausedFast atomic.Bool
	}

	// Option configures a Controller, see New.
	Option interface {
		applyController(*controllerOptions) error
	}

	optionImpl struct {
		applyFunc func(*controllerOptions) error
	}

	controllerOptions struct {
		logger  *logiface.Logger[logiface.Event]
		timeout time.Duration
	}
)

// WithTimeout bounds how long Pause waits for full quiescence. Defaults to
// DefaultTimeout, if 0. A negative value disables the bound, meaning Pause
// will wait until quiescence, or until Resume is called.
func WithTimeout(timeout time.Duration) Option {
	return &optionImpl{func(opts *controllerOptions) error {
		opts.timeout = timeout
		return nil
	}}
}

// WithLogger configures a logger, which is used to report degraded pauses.
// A nil logger disables logging (the default).
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *controllerOptions) error {
		opts.logger = logger
		return nil
	}}
}

func (x *optionImpl) applyController(opts *controllerOptions) error {
	return x.applyFunc(opts)
}

// New initializes a new Controller, in the PhaseRunning phase, with no
// registered workers. Nil options are ignored.
func New(opts ...Option) (*Controller, error) {
	cfg := controllerOptions{timeout: DefaultTimeout}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyController(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.timeout == 0 {
		cfg.timeout = DefaultTimeout
	}

	x := &Controller{
		logger:  cfg.logger,
		timeout: cfg.timeout,
		limiter: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 1,
			time.Minute: 10,
		}),
	}
	x.resumed = sync.NewCond(&x.mu)
	x.allSuspended = sync.NewCond(&x.mu)

	return x, nil
}

// Register adds a worker, which must subsequently call AwaitIfPaused at
// least once per iteration, and Unregister on exit (in all cases).
func (x *Controller) Register() {
	x.mu.Lock()
	x.registered++
	x.mu.Unlock()
}

// Unregister removes a worker, previously added by Register. It wakes any
// pending Pause, as a shrinking population may satisfy it.
func (x *Controller) Unregister() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.registered <= 0 {
		panic(`quiesce: unregister without register`)
	}
	x.registered--
	x.allSuspended.Broadcast()
}

// Pause requests that all workers suspend, then blocks until they have, or
// the timeout elapses. It returns true only if full quiescence was
// confirmed. A degraded pause is logged as a warning, but the pause remains
// in effect, and must still be released via Resume.
func (x *Controller) Pause() bool {
	switch err := x.PauseContext(context.Background()); {
	case err == nil:
		return true

	case errors.Is(err, ErrPauseTimeout):
		if _, ok := x.limiter.Allow(logCategoryPauseTimeout); ok {
			x.logger.Warning().
				Int("registered", x.Registered()).
				Int("suspended", x.Suspended()).
				Dur("timeout", x.timeout).
				Log("not all workers suspended in time, pause is degraded")
		}

	default:
		x.logger.Debug().
			Err(err).
			Log("pause interrupted")
	}
	return false
}

// PauseContext is like Pause, but returns an error instead of logging, and
// may be canceled via ctx. ErrPauseTimeout (wrapped) indicates a degraded
// pause, ErrResumed indicates a concurrent Resume, and otherwise the error
// will be that of ctx. Only ErrResumed implies the pause is no longer in
// effect.
func (x *Controller) PauseContext(ctx context.Context) error {
	if ctx == nil {
		panic(`quiesce: nil context`)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	x.setPausedLocked(true)

	if x.quiescentLocked() {
		return nil
	}

	var expired bool
	if x.timeout > 0 {
		timer := time.AfterFunc(x.timeout, func() {
			x.mu.Lock()
			expired = true
			x.allSuspended.Broadcast()
			x.mu.Unlock()
		})
		defer timer.Stop()
	}

	stop := context.AfterFunc(ctx, func() {
		x.mu.Lock()
		x.allSuspended.Broadcast()
		x.mu.Unlock()
	})
	defer stop()

	// note: registered is re-sampled every iteration, it may shrink
	for !x.quiescentLocked() {
		if !x.paused {
			return ErrResumed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if expired {
			return fmt.Errorf(`%w: registered=%d suspended=%d`, ErrPauseTimeout, x.registered, x.suspended)
		}
		x.allSuspended.Wait()
	}

	return nil
}

// PauseNonBlocking requests that all workers suspend, without waiting for
// them to do so. It is not safe to assume quiescence, after calling this.
func (x *Controller) PauseNonBlocking() {
	x.mu.Lock()
	x.setPausedLocked(true)
	x.mu.Unlock()
}

// Resume releases all parked workers. It is a no-op if not paused.
func (x *Controller) Resume() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.paused {
		return
	}
	x.setPausedLocked(false)
	x.resumed.Broadcast()
	x.allSuspended.Broadcast()
}

// AwaitIfPaused parks the calling worker while a pause is in effect,
// acknowledging suspension for the duration. It must only be called by
// registered workers, between units of work. The error will be non-nil only
// if ctx was canceled, which should be treated as a signal to exit.
func (x *Controller) AwaitIfPaused(ctx context.Context) error {
	if !x.pausedFast.Load() {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.paused {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		x.mu.Lock()
		x.resumed.Broadcast()
		x.mu.Unlock()
	})
	defer stop()

	x.suspended++
	defer func() { x.suspended-- }()
	x.allSuspended.Broadcast()

	for x.paused {
		if err := ctx.Err(); err != nil {
			return err
		}
		x.resumed.Wait()
	}

	return nil
}

// AllThreadsPaused returns true if a pause is in effect, and every
// registered worker is parked. It is vacuously true, while paused, if there
// are no registered workers.
func (x *Controller) AllThreadsPaused() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.paused && x.quiescentLocked()
}

// Paused returns true if a pause is in effect (requested), regardless of
// whether it has been acknowledged by all workers.
func (x *Controller) Paused() bool {
	return x.pausedFast.Load()
}

// Registered returns the number of registered (live) workers.
func (x *Controller) Registered() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.registered
}

// Suspended returns the number of workers currently parked.
func (x *Controller) Suspended() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.suspended
}

// Timeout returns the bound applied by Pause, see WithTimeout.
func (x *Controller) Timeout() time.Duration {
	return x.timeout
}

// Phase returns the current aggregate phase.
func (x *Controller) Phase() Phase {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.phaseLocked()
}

// String returns a one-line summary of the state, for debugging.
func (x *Controller) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return fmt.Sprintf(
		`quiesce: phase=%s paused=%t registered=%d suspended=%d`,
		x.phaseLocked(),
		x.paused,
		x.registered,
		x.suspended,
	)
}

func (x *Controller) phaseLocked() Phase {
	switch {
	case !x.paused:
		return PhaseRunning
	case x.quiescentLocked():
		return PhaseAllSuspended
	default:
		return PhasePauseRequested
	}
}

func (x *Controller) quiescentLocked() bool {
	return x.suspended >= x.registered
}

func (x *Controller) setPausedLocked(paused bool) {
	x.paused = paused
	x.pausedFast.Store(paused)
}
