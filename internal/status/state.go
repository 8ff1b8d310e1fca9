package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/wirego/internal/bus"
)

// State represents the runtime state of the session's socket.
type State string

const (
	Booting      State = "BOOTING"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Disconnected State = "DISCONNECTED"
	Reconnecting State = "RECONNECTING"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:      {Connecting, Disconnected, Error},
	Connecting:   {Connected, Disconnected, Reconnecting, Error},
	Connected:    {Disconnected, Reconnecting, Error},
	Disconnected: {Connecting, Reconnecting, Error},
	Reconnecting: {Connecting, Disconnected, Error},
	Error:        {Booting, Connecting},
}

// Machine tracks and enforces socket state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Moving to the current state is
// a no-op and emits nothing. Returns error if the transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

// TransitionFrom moves to the target state only when the machine is still in
// from. It reports whether the machine was in from.
func (m *Machine) TransitionFrom(from, to State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != from {
		return false, nil
	}
	return true, m.transitionLocked(to)
}

func (m *Machine) transitionLocked(to State) error {
	if m.current == to {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit(bus.KindStatusChanged, StatusChange{From: from, To: to})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}
