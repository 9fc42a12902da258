package immortals

// fightOrdered locks both participants in ascending key order, regardless of
// which is the attacker, such that two immortals picking each other cannot
// deadlock.
func (x *Immortal) fightOrdered(other *Immortal) {
	if x == other {
		return
	}

	first, second := x, other
	if other.key < x.key {
		first, second = other, x
	}

	first.mu.Lock()
	second.mu.Lock()
	fell := x.exchange(other)
	second.mu.Unlock()
	first.mu.Unlock()

	// only published once the critical section is complete
	if fell {
		other.fallen.Store(true)
	}
}
