package session

import (
	"fmt"

	"github.com/gajzzs/garmind/internal/device"
)

// State is a step of the per-device connection lifecycle:
//
//	Idle -> Discovering -> CandidateFound -> Connecting -> Mounted|Paired -> Disconnecting -> Idle
//
// Failed is reachable from Discovering, CandidateFound and Connecting, and
// from Disconnecting when an attempt is cancelled mid-flight.
type State int

const (
	StateIdle State = iota
	StateDiscovering
	StateCandidateFound
	StateConnecting
	StateMounted
	StatePaired
	StateDisconnecting
	StateFailed
)

var stateNames = [...]string{
	StateIdle:           "Idle",
	StateDiscovering:    "Discovering",
	StateCandidateFound: "CandidateFound",
	StateConnecting:     "Connecting",
	StateMounted:        "Mounted",
	StatePaired:         "Paired",
	StateDisconnecting:  "Disconnecting",
	StateFailed:         "Failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Connected reports whether s holds a transport resource.
func (s State) Connected() bool {
	return s == StateMounted || s == StatePaired
}

var transitions = map[State][]State{
	StateIdle:           {StateDiscovering, StateCandidateFound},
	StateDiscovering:    {StateCandidateFound, StateFailed},
	StateCandidateFound: {StateConnecting, StateFailed},
	StateConnecting:     {StateMounted, StatePaired, StateFailed, StateDisconnecting},
	StateMounted:        {StateDisconnecting},
	StatePaired:         {StateDisconnecting},
	StateDisconnecting:  {StateIdle, StateFailed},
	StateFailed:         {StateIdle, StateConnecting, StateDiscovering, StateCandidateFound},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// connectedState is the terminal success state for a transport kind.
func connectedState(k device.Kind) State {
	if k == device.KindBluetooth {
		return StatePaired
	}
	return StateMounted
}
