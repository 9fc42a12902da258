package immortals

import (
	"sync"
	"sync/atomic"
)

// Population is an ordered, shrink-only collection of immortals, shared by
// reference. Readers receive immutable snapshots, and are never blocked by,
// nor observe a partial view of, concurrent removals (copy-on-write).
type Population struct {
	v  atomic.Pointer[[]*Immortal]
	mu sync.Mutex // serializes writers
}

func newPopulation() *Population {
	var x Population
	x.v.Store(new([]*Immortal))
	return &x
}

func (x *Population) store(immortals []*Immortal) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.v.Store(&immortals)
}

// Load returns a snapshot of the population, which MUST NOT be modified.
func (x *Population) Load() []*Immortal {
	return *x.v.Load()
}

// Len returns the current size of the population.
func (x *Population) Len() int {
	return len(x.Load())
}

// RemoveIf removes all immortals for which fn returns true, preserving the
// order of the remainder, and returns those removed, if any.
func (x *Population) RemoveIf(fn func(im *Immortal) bool) (removed []*Immortal) {
	x.mu.Lock()
	defer x.mu.Unlock()

	current := *x.v.Load()

	var next []*Immortal
	for i, im := range current {
		if !fn(im) {
			if next != nil {
				next = append(next, im)
			}
			continue
		}
		if next == nil {
			next = make([]*Immortal, i, len(current)-1)
			copy(next, current[:i])
		}
		removed = append(removed, im)
	}

	if removed != nil {
		x.v.Store(&next)
	}

	return removed
}
