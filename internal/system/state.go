// Package system is the heart of the host: the system state machine, the
// single-consumer task dispatcher that serializes all state mutation onto one
// goroutine and the guards that react to bus events, power loss and client
// inactivity.
package system

import "sync/atomic"

// State is the system-wide operating state.
type State int32

const (
	// StateOperational means devices are powered and accepting commands.
	StateOperational State = iota
	// StateStopped means devices were halted after a fault, typically a
	// supply voltage drop, and wait to be recovered.
	StateStopped
	// StateShutdown is terminal; the host is winding down.
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateOperational:
		return "operational"
	case StateStopped:
		return "stopped"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// stateVar holds the current state for lock-free reads from any goroutine.
// Writes happen only on the dispatcher goroutine.
type stateVar struct {
	v atomic.Int32
}

func (s *stateVar) Load() State { return State(s.v.Load()) }

// Set transitions to next and reports whether the transition is allowed.
// Shutdown is terminal, every other transition is permitted.
func (s *stateVar) Set(next State) bool {
	if s.Load() == StateShutdown {
		return false
	}
	s.v.Store(int32(next))
	return true
}
