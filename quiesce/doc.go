// Package quiesce implements a cooperative quiescence barrier, for pools of
// long-running workers that must be frozen at a known safe point, e.g. to
// take a consistent snapshot of shared state.
//
// Workers call [Controller.Register] on entry, [Controller.Unregister] on
// exit, and [Controller.AwaitIfPaused] at the top of every iteration of their
// loop. A caller of [Controller.Pause] is blocked until every registered
// worker has acknowledged suspension (is parked within AwaitIfPaused), or the
// configured timeout elapses, in which case the pause is still in effect, but
// is considered degraded.
//
// The barrier is a monitor: a single mutex, and two condition variables, one
// signalled on resume, and one signalled whenever a worker parks or exits.
package quiesce
