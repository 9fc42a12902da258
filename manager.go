package immortals

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-immortals/quiesce"
	"github.com/joeycumines/logiface"
	"golang.org/x/sync/errgroup"
)

type (
	// Manager owns a population of immortals, the controller used to pause
	// them, and the scoreboard they record fights on. Each run (Start to
	// Stop) uses a new controller.
	// Instances must be initialized using the New factory.
	//
	// The Close method and/or Stop method should be called when the Manager
	// is no longer needed.
	Manager struct {
		logger         *logiface.Logger[logiface.Event]
		population     *Population
		controller     atomic.Pointer[quiesce.Controller]
		scoreBoard     *ScoreBoard
		run            *managerRun // guarded by mu
		controllerOpts []quiesce.Option
		cfg            resolvedConfig
		mu             sync.Mutex // serializes lifecycle operations
	}

	// managerRun models a single Start-to-Stop run
	managerRun struct {
		cancel     context.CancelFunc
		done       chan struct{} // closed once all immortals have exited
		reaperDone chan struct{}
		err        error // set before done is closed
	}
)

// New initializes a new Manager, and its population, using the provided
// Config, which may be nil. The immortals are not started until Start is
// called. An error (wrapping ErrInvalidConfig) is returned if cfg is invalid.
func New(cfg *Config, opts ...Option) (*Manager, error) {
	c, err := resolveConfig(cfg)
	if err != nil {
		return nil, err
	}

	var o managerOptions
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyManager(&o); err != nil {
			return nil, err
		}
	}

	x := &Manager{
		logger:     o.logger,
		population: newPopulation(),
		scoreBoard: new(ScoreBoard),
		controllerOpts: []quiesce.Option{
			quiesce.WithTimeout(c.pauseTimeout),
			quiesce.WithLogger(o.logger),
		},
		cfg: c,
	}

	controller, err := quiesce.New(x.controllerOpts...)
	if err != nil {
		return nil, err
	}
	x.controller.Store(controller)

	immortals := make([]*Immortal, c.count)
	for i := range immortals {
		immortals[i] = newImmortal(immortalConfig{
			population: x.population,
			scoreBoard: x.scoreBoard,
			mode:       c.mode,
			key:        i,
			health:     c.health,
			damage:     c.damage,
			delay:      c.delay,
			seed:       c.seed,
		})
	}
	x.population.store(immortals)

	return x, nil
}

// Start starts one goroutine per immortal, and the background reaper. If
// already running, a full Stop is performed first. All started immortals are
// registered with a new controller by the time Start returns.
//
// Immortals abandoned by a previous Stop (still running) are skipped.
func (x *Manager) Start() {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.run != nil {
		x.stopLocked()
	}

	controller, err := quiesce.New(x.controllerOpts...)
	if err != nil {
		// options were validated by New
		panic(err)
	}
	x.controller.Store(controller)

	var population, abandoned []*Immortal
	for _, im := range x.population.Load() {
		if !im.running.CompareAndSwap(false, true) {
			abandoned = append(abandoned, im)
			continue
		}
		im.stopped.Store(false)
		population = append(population, im)
	}
	if len(abandoned) != 0 {
		x.logger.Warning().
			Int("abandoned", len(abandoned)).
			Log("skipping immortals that never exited")
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &managerRun{
		cancel:     cancel,
		done:       make(chan struct{}),
		reaperDone: make(chan struct{}),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	var ready sync.WaitGroup
	ready.Add(len(population))
	for _, im := range population {
		group.Go(func() error {
			defer im.running.Store(false)
			im.run(groupCtx, controller, ready.Done)
			return ctx.Err()
		})
	}
	ready.Wait()

	go func() {
		defer close(run.done)
		run.err = group.Wait()
	}()

	if x.cfg.reapInterval > 0 {
		go x.reap(ctx, run.reaperDone)
	} else {
		close(run.reaperDone)
	}

	x.run = run

	x.logger.Info().
		Int("immortals", len(population)).
		Str("mode", string(x.cfg.mode)).
		Log("started")
}

// Stop signals every immortal to stop, waits up to the configured grace
// period for them to exit, then cancels any stragglers, and stops the
// reaper. Any pause is released. It is safe to call Stop multiple times.
func (x *Manager) Stop() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.stopLocked()
}

// Close is an alias of Stop, implementing io.Closer. It always returns nil.
func (x *Manager) Close() error {
	x.Stop()
	return nil
}

func (x *Manager) stopLocked() {
	run := x.run
	if run == nil {
		return
	}
	x.run = nil

	for _, im := range x.population.Load() {
		im.Stop()
	}

	controller := x.Controller()

	// parked immortals will observe the stop once released
	controller.Resume()

	timer := time.NewTimer(x.cfg.stopGrace)
	defer timer.Stop()

	select {
	case <-run.done:
	case <-timer.C:
		x.logger.Warning().
			Dur("grace", x.cfg.stopGrace).
			Log("immortals did not stop in time, canceling")
		run.cancel()
		timer.Reset(x.cfg.stopGrace)
		select {
		case <-run.done:
		case <-timer.C:
			// e.g. deadlocked by FightNaive
			x.logger.Err().
				Int("registered", controller.Registered()).
				Log("abandoning immortals that failed to exit")
		}
	}

	run.cancel()
	<-run.reaperDone

	b := x.logger.Info()
	select {
	case <-run.done:
		if run.err != nil {
			// why the run ended, e.g. context.Canceled after a forced stop
			b = b.Err(run.err)
		}
	default:
	}
	b.Log("stopped")
}

// Running returns true if the Manager has been started, and not stopped.
func (x *Manager) Running() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.run != nil
}

// Pause blocks until every running immortal is parked, or the configured
// pause timeout elapses, returning true only in the former case. A degraded
// pause is logged, but remains in effect. This is the only variant that is
// safe to use prior to taking a snapshot.
func (x *Manager) Pause() bool {
	return x.Controller().Pause()
}

// PauseContext is like Pause, but reports why a pause is degraded, see
// quiesce.Controller.PauseContext.
func (x *Manager) PauseContext(ctx context.Context) error {
	return x.Controller().PauseContext(ctx)
}

// PauseNonBlocking requests a pause, without waiting for it to take effect.
func (x *Manager) PauseNonBlocking() {
	x.Controller().PauseNonBlocking()
}

// Resume releases all parked immortals.
func (x *Manager) Resume() {
	x.Controller().Resume()
}

// RemoveDeadImmortals removes fallen immortals from the population, without
// requiring a pause, returning the number removed. It is called periodically
// by the reaper, while running.
func (x *Manager) RemoveDeadImmortals() int {
	removed := x.population.RemoveIf((*Immortal).Fallen)
	if len(removed) != 0 {
		x.logger.Debug().
			Int("removed", len(removed)).
			Int("remaining", x.population.Len()).
			Log("removed fallen immortals")
	}
	return len(removed)
}

func (x *Manager) reap(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(x.cfg.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			x.RemoveDeadImmortals()
		}
	}
}

// Controller returns the controller of the current (or most recent) run,
// which is used to pause the immortals.
func (x *Manager) Controller() *quiesce.Controller { return x.controller.Load() }

// ScoreBoard returns the scoreboard the immortals record fights on.
func (x *Manager) ScoreBoard() *ScoreBoard { return x.scoreBoard }

// Population returns the (shared) population.
func (x *Manager) Population() *Population { return x.population }
