package immortals

// fightNaive locks the attacker, then the opponent, i.e. in call order.
//
// WARNING: This is deliberately unsafe, and exists only to demonstrate the
// hazard addressed by fightOrdered. Two immortals that pick each other at the
// same time will each hold one lock, waiting forever on the other. Deadlocked
// immortals never reach their suspension point, so any subsequent pause will
// be degraded, and Manager.Stop will be unable to reclaim them.
func (x *Immortal) fightNaive(other *Immortal) {
	if x == other {
		return
	}

	x.mu.Lock()
	other.mu.Lock()
	fell := x.exchange(other)
	other.mu.Unlock()
	x.mu.Unlock()

	if fell {
		other.fallen.Store(true)
	}
}
