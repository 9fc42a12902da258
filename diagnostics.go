package immortals

import (
	"fmt"
	"strings"
)

type (
	// Snapshot is a point-in-time projection of a Manager's state. It is only
	// a consistent global statement if taken while fully paused, see
	// Snapshot.AllSuspended.
	Snapshot struct {
		Mode          FightMode
		Phase         string
		InitialCount  int
		InitialHealth int
		Damage        int
		Population    int
		Alive         int
		Registered    int
		Suspended     int
		Fights        int64
		NetLoss       int64
		InitialTotal  int64
		Expected      int64
		Actual        int64
		Paused        bool
		AllSuspended  bool
	}

	// Status is a point-in-time projection of a single Immortal.
	Status struct {
		Name   string
		Health int
		Alive  bool
	}
)

// Valid returns true if the actual total health matches the expected value.
func (x Snapshot) Valid() bool { return x.Actual == x.Expected }

// Difference returns the actual total health, minus the expected value.
func (x Snapshot) Difference() int64 { return x.Actual - x.Expected }

// TotalHealth sums the health of the current population.
func (x *Manager) TotalHealth() int64 {
	var sum int64
	for _, im := range x.population.Load() {
		sum += int64(im.Health())
	}
	return sum
}

// AliveCount counts the live members of the current population.
func (x *Manager) AliveCount() int {
	var n int
	for _, im := range x.population.Load() {
		if im.Alive() {
			n++
		}
	}
	return n
}

// PopulationSize returns the size of the current population, which shrinks
// as fallen immortals are reaped.
func (x *Manager) PopulationSize() int { return x.population.Len() }

// InitialCount returns the size of the population at construction.
func (x *Manager) InitialCount() int { return x.cfg.count }

// InitialHealth returns the initial health of each immortal.
func (x *Manager) InitialHealth() int { return x.cfg.health }

// Damage returns the (coerced) nominal damage per fight.
func (x *Manager) Damage() int { return x.cfg.damage }

// Mode returns the fight mode.
func (x *Manager) Mode() FightMode { return x.cfg.mode }

func (x *Manager) initialTotalHealth() int64 {
	return int64(x.cfg.count) * int64(x.cfg.health)
}

// ExpectedTotalHealth derives the expected total health from the
// scoreboard, as InitialCount*InitialHealth - TotalNetLoss. Reaping does not
// affect it, as only immortals with zero health are removed.
func (x *Manager) ExpectedTotalHealth() int64 {
	return x.initialTotalHealth() - x.scoreBoard.TotalNetLoss()
}

// ValidateInvariant returns true if TotalHealth matches ExpectedTotalHealth.
// It is only meaningful while paused. A mismatch is a diagnostic result,
// which is logged, but otherwise has no effect.
func (x *Manager) ValidateInvariant() bool {
	expected := x.ExpectedTotalHealth()
	actual := x.TotalHealth()
	if actual == expected {
		return true
	}
	x.logger.Notice().
		Int64("expected", expected).
		Int64("actual", actual).
		Int64("difference", actual-expected).
		Bool("paused", x.Controller().AllThreadsPaused()).
		Log("invariant mismatch")
	return false
}

// Snapshot returns the current state, see also Pause.
func (x *Manager) Snapshot() Snapshot {
	controller := x.Controller()
	s := Snapshot{
		Mode:          x.cfg.mode,
		Phase:         controller.Phase().String(),
		InitialCount:  x.cfg.count,
		InitialHealth: x.cfg.health,
		Damage:        x.cfg.damage,
		Registered:    controller.Registered(),
		Suspended:     controller.Suspended(),
		Fights:        x.scoreBoard.TotalFights(),
		NetLoss:       x.scoreBoard.TotalNetLoss(),
		InitialTotal:  x.initialTotalHealth(),
		Paused:        controller.Paused(),
		AllSuspended:  controller.AllThreadsPaused(),
	}
	s.Expected = s.InitialTotal - s.NetLoss

	population := x.population.Load()
	s.Population = len(population)
	for _, im := range population {
		s.Actual += int64(im.Health())
		if im.Alive() {
			s.Alive++
		}
	}

	return s
}

// PopulationSnapshot returns the status of each member of the current
// population, in order.
func (x *Manager) PopulationSnapshot() []Status {
	population := x.population.Load()
	statuses := make([]Status, len(population))
	for i, im := range population {
		statuses[i] = Status{
			Name:   im.Name(),
			Health: im.Health(),
			Alive:  im.Alive(),
		}
	}
	return statuses
}

// InvariantInfo returns a human-readable analysis of the invariant.
func (x *Manager) InvariantInfo() string {
	s := x.Snapshot()
	var b strings.Builder
	b.WriteString("Invariant Analysis:\n")
	fmt.Fprintf(&b, "  Immortals: %d\n", s.InitialCount)
	fmt.Fprintf(&b, "  Remaining: %d (alive %d)\n", s.Population, s.Alive)
	fmt.Fprintf(&b, "  Initial health each: %d\n", s.InitialHealth)
	fmt.Fprintf(&b, "  Damage per fight: %d\n", s.Damage)
	fmt.Fprintf(&b, "  Total fights: %d\n", s.Fights)
	fmt.Fprintf(&b, "  Initial total health: %d\n", s.InitialTotal)
	fmt.Fprintf(&b, "  Expected health loss: %d\n", s.NetLoss)
	fmt.Fprintf(&b, "  Expected total health: %d\n", s.Expected)
	fmt.Fprintf(&b, "  Actual total health: %d\n", s.Actual)
	fmt.Fprintf(&b, "  Invariant valid: %s\n", yesNo(s.Valid()))
	fmt.Fprintf(&b, "  Difference: %d\n", s.Difference())
	return b.String()
}

// PauseInfo returns a human-readable summary of the pause state.
func (x *Manager) PauseInfo() string {
	s := x.Snapshot()
	var b strings.Builder
	b.WriteString("Pause Status:\n")
	fmt.Fprintf(&b, "  Phase: %s\n", s.Phase)
	fmt.Fprintf(&b, "  Paused: %s\n", yesNo(s.Paused))
	fmt.Fprintf(&b, "  Active threads: %d\n", s.Registered)
	fmt.Fprintf(&b, "  Paused threads: %d\n", s.Suspended)
	fmt.Fprintf(&b, "  All threads paused: %s\n", yesNo(s.AllSuspended))
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return `YES`
	}
	return `NO`
}
