/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package actor

// Status is the ordered actor lifecycle state. The lifecycle
// monotonically progresses; Paused <-> Running is the only reversible
// transition.
type Status int

const (
	Initializing Status = iota
	Initialized
	Started
	Running
	Paused
	Terminating
	Terminated
)

func (s Status) String() string {
	switch s {
	case Initializing:
		return "Initializing"
	case Initialized:
		return "Initialized"
	case Started:
		return "Started"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case Terminating:
		return "Terminating"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// validTransition enforces that status never decreases except for the
// single reversible Running <-> Paused toggle.
func validTransition(from, to Status) bool {
	if to == Paused && from == Running {
		return true
	}
	if to == Running && from == Paused {
		return true
	}
	return to >= from
}
