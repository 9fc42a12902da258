package immortals

import (
	"sync/atomic"
)

// ScoreBoard records fights, and the net health lost by the population as a
// result. It is safe for concurrent use, and the zero value is ready to use.
//
// The two counters are individually consistent, but are only jointly
// consistent while the population is quiesced.
type ScoreBoard struct {
	fights  atomic.Int64
	netLoss atomic.Int64
}

// NetLoss returns the portion of actualDamage that is not restored to the
// attacker, i.e. actualDamage - actualDamage/2, rounding the restored half
// down. A single point of damage therefore results in a net loss of 1, and
// never less than 0.
func NetLoss(actualDamage int) int64 {
	if actualDamage <= 0 {
		return 0
	}
	return int64(actualDamage - actualDamage/2)
}

// RecordFight records a fight in which actualDamage was applied. It is a
// no-op if actualDamage <= 0.
func (x *ScoreBoard) RecordFight(actualDamage int) {
	if actualDamage <= 0 {
		return
	}
	x.fights.Add(1)
	x.netLoss.Add(NetLoss(actualDamage))
}

// TotalFights returns the number of recorded fights.
func (x *ScoreBoard) TotalFights() int64 {
	return x.fights.Load()
}

// TotalNetLoss returns the sum of NetLoss over all recorded fights.
func (x *ScoreBoard) TotalNetLoss() int64 {
	return x.netLoss.Load()
}
