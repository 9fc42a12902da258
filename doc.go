// Package immortals implements a population of concurrently fighting
// workers ("immortals"), which may be frozen at any time, in order to take a
// consistent snapshot of their aggregate health, and verify that it agrees
// with the totals recorded on a shared ScoreBoard.
//
// Each Immortal runs its own goroutine, repeatedly picking another live
// immortal, then transferring health from its opponent, with both
// participants locked in a fixed total order. Fights are recorded on the
// ScoreBoard, using the damage actually applied, such that (while quiesced):
//
//	TotalHealth() == InitialCount*Health - ScoreBoard.TotalNetLoss()
//
// Quiescence is provided by [github.com/joeycumines/go-immortals/quiesce],
// which guarantees that every worker has parked between fights, rather than
// merely being asked to.
//
// The Manager owns the population, starting one goroutine per immortal, and
// a background reaper, which removes fallen immortals without pausing.
package immortals
