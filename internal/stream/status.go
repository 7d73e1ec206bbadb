package stream

import (
	"fmt"
	"slices"
	"sync"

	"github.com/converse-im/converse/internal/bus"
)

// Status is the externally visible state of one supervised stream. It drives
// status reporting only; retry bookkeeping lives in the supervisor.
type Status string

const (
	Disconnected Status = "DISCONNECTED"
	Connecting   Status = "CONNECTING"
	Connected    Status = "CONNECTED"
	Reconnecting Status = "RECONNECTING"
	Failed       Status = "FAILED"
)

// validTransitions defines allowed status transitions. Reconnecting may
// repeat, once per retry. Failed is terminal until a caller-initiated
// restart.
var validTransitions = map[Status][]Status{
	Disconnected: {Connecting},
	Connecting:   {Connected, Reconnecting, Failed, Disconnected},
	Connected:    {Reconnecting, Failed, Disconnected},
	Reconnecting: {Connected, Reconnecting, Failed, Disconnected},
	Failed:       {Connecting},
}

// Machine tracks and enforces status transitions for one stream.
type Machine struct {
	mu      sync.RWMutex
	name    string
	current Status
	bus     *bus.Bus
}

// NewMachine creates a status machine starting Disconnected.
func NewMachine(name string, b *bus.Bus) *Machine {
	return &Machine{name: name, current: Disconnected, bus: b}
}

// Current returns the current status.
func (m *Machine) Current() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new status. Returns an error if the
// transition is invalid.
func (m *Machine) Transition(to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit(bus.KindStreamStatus, StatusChange{Stream: m.name, From: from, To: to})
	}
	return nil
}

// StatusChange is the payload for stream status events.
type StatusChange struct {
	Stream string
	From   Status
	To     Status
}
