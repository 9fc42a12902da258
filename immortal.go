package immortals

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-immortals/quiesce"
)

// opponentProbes is the number of random probes made by pickOpponent,
// before falling back to a linear scan.
const opponentProbes = 5

type (
	// Immortal is a single worker, which fights other members of its
	// population, until it is stopped, or its health reaches zero.
	// Instances are created by New, as part of a Manager.
	Immortal struct {
		population *Population
		scoreBoard *ScoreBoard
		// only used by the immortal's own goroutine
		rand   *rand.Rand
		name   string
		key    int
		damage int
		delay  time.Duration
		mode   FightMode
		mu     sync.Mutex
		health int // guarded by mu
		// published after the fight in which health reached zero completes
		fallen  atomic.Bool
		stopped atomic.Bool
		// set while a goroutine started by Manager.Start is inside run
		running atomic.Bool
	}

	immortalConfig struct {
		population *Population
		scoreBoard *ScoreBoard
		mode       FightMode
		key        int
		health     int
		damage     int
		delay      time.Duration
		seed       uint64
	}
)

func newImmortal(c immortalConfig) *Immortal {
	switch {
	case c.population == nil:
		panic(`immortals: nil population`)
	case c.scoreBoard == nil:
		panic(`immortals: nil scoreboard`)
	}

	seed := c.seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	x := &Immortal{
		population: c.population,
		scoreBoard: c.scoreBoard,
		rand:       rand.New(rand.NewPCG(seed, uint64(c.key))),
		name:       fmt.Sprintf(`Immortal-%d`, c.key),
		key:        c.key,
		health:     max(c.health, 0),
		damage:     max(c.damage, 1),
		delay:      c.delay,
		mode:       c.mode,
	}
	if x.health == 0 {
		x.fallen.Store(true)
	}

	return x
}

// Name returns the unique name of the immortal.
func (x *Immortal) Name() string { return x.name }

// Key returns the stable ordering key, used to order lock acquisition.
func (x *Immortal) Key() int { return x.key }

// Damage returns the nominal damage dealt per fight.
func (x *Immortal) Damage() int { return x.damage }

// Health returns the current health, which is never negative.
func (x *Immortal) Health() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.health
}

// Alive returns true if the immortal has health remaining, and has not been
// stopped. The result may be stale by the time it is used.
func (x *Immortal) Alive() bool {
	return !x.fallen.Load() && !x.stopped.Load()
}

// Fallen returns true if the immortal's health has reached zero. Fallen
// immortals never recover, and are eligible for removal from the population.
func (x *Immortal) Fallen() bool {
	return x.fallen.Load()
}

// Stop requests that the immortal exit its run loop, prior to its next fight.
func (x *Immortal) Stop() {
	x.stopped.Store(true)
}

// Run runs the immortal until it is stopped, falls, or ctx is canceled. It
// registers with controller for the duration of the call. At most one call
// to Run may be in progress, per immortal.
//
// Each iteration checks for a pause, picks an opponent, fights, then sleeps.
func (x *Immortal) Run(ctx context.Context, controller *quiesce.Controller) {
	x.run(ctx, controller, nil)
}

func (x *Immortal) run(ctx context.Context, controller *quiesce.Controller, registered func()) {
	if controller == nil {
		panic(`immortals: nil controller`)
	}

	controller.Register()
	defer controller.Unregister()

	if registered != nil {
		registered()
	}

	var timer *time.Timer
	if x.delay > 0 {
		timer = time.NewTimer(x.delay)
		defer timer.Stop()
	}

	for ctx.Err() == nil && x.Alive() {
		if err := controller.AwaitIfPaused(ctx); err != nil {
			return
		}

		// may have been stopped while parked
		if !x.Alive() {
			return
		}

		if opponent := x.pickOpponent(); opponent != nil {
			x.fight(opponent)
		}

		if timer == nil {
			runtime.Gosched()
			continue
		}

		timer.Reset(x.delay)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// pickOpponent returns a distinct, live member of the population, or nil if
// there is none.
func (x *Immortal) pickOpponent() *Immortal {
	population := x.population.Load()
	if len(population) <= 1 {
		return nil
	}

	for range opponentProbes {
		if candidate := population[x.rand.IntN(len(population))]; candidate != x && candidate.Alive() {
			return candidate
		}
	}

	for _, candidate := range population {
		if candidate != x && candidate.Alive() {
			return candidate
		}
	}

	return nil
}

func (x *Immortal) fight(other *Immortal) {
	if x.mode == FightNaive {
		x.fightNaive(other)
		return
	}
	x.fightOrdered(other)
}

// exchange applies damage to other, restoring half of the damage actually
// applied to x, and records the fight. Both immortals must be locked. It
// returns true if other fell as a result.
func (x *Immortal) exchange(other *Immortal) (fell bool) {
	// stale selection is expected, either may have fallen or been stopped
	if x.health <= 0 || other.health <= 0 || x.stopped.Load() || other.stopped.Load() {
		return false
	}

	applied := min(x.damage, other.health)
	other.health -= applied
	x.health += applied / 2

	x.scoreBoard.RecordFight(applied)

	return other.health == 0
}
