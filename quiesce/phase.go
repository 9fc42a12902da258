package quiesce

// Phase models the aggregate state of a Controller.
//
// State Machine:
//
//	PhaseRunning → PhasePauseRequested       [Pause(), workers still active]
//	PhaseRunning → PhaseAllSuspended         [Pause(), no workers registered]
//	PhasePauseRequested → PhaseAllSuspended  [last worker parks or exits]
//	PhaseAllSuspended → PhasePauseRequested  [a new worker registers]
//	PhasePauseRequested → PhaseRunning       [Resume()]
//	PhaseAllSuspended → PhaseRunning         [Resume()]
type Phase uint8

const (
	// PhaseRunning indicates no pause is in effect.
	PhaseRunning Phase = iota
	// PhasePauseRequested indicates a pause is in effect, but at least one
	// registered worker has not yet parked.
	PhasePauseRequested
	// PhaseAllSuspended indicates a pause is in effect, and every registered
	// worker is parked (vacuously true with no registered workers).
	PhaseAllSuspended
)

// String returns a human-readable representation of the phase.
func (x Phase) String() string {
	switch x {
	case PhaseRunning:
		return "Running"
	case PhasePauseRequested:
		return "PauseRequested"
	case PhaseAllSuspended:
		return "AllSuspended"
	default:
		return "Unknown"
	}
}
