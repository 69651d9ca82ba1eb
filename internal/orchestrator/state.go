package orchestrator

import "fmt"

// HealthState is an instance's position in the RUNNING/ERROR/DEAD machine.
type HealthState int

const (
	// StateRunning instances take part in the scrape cycle.
	StateRunning HealthState = iota
	// StateError instances only take part in the recovery cycle.
	StateError
	// StateDead instances are never scheduled again.
	StateDead
)

// AllStates lists every state label, for metrics.
var AllStates = []string{StateRunning.String(), StateError.String(), StateDead.String()}

func (s HealthState) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateError:
		return "ERROR"
	case StateDead:
		return "DEAD"
	default:
		return fmt.Sprintf("HealthState(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
