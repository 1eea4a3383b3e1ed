package supervisor

import "fmt"

// SystemState is the supervisor lifecycle state
type SystemState string

const (
	StateStopped       SystemState = "stopped"
	StateStarting      SystemState = "starting"
	StateRunning       SystemState = "running"
	StatePaused        SystemState = "paused"
	StateStopping      SystemState = "stopping"
	StateError         SystemState = "error"
	StateEmergencyStop SystemState = "emergency_stop"
)

// AllStates lists every state, used to pin metric label sets
func AllStates() []string {
	return []string{
		string(StateStopped),
		string(StateStarting),
		string(StateRunning),
		string(StatePaused),
		string(StateStopping),
		string(StateError),
		string(StateEmergencyStop),
	}
}

// validTransitions encodes the allowed lifecycle edges. Every live state
// can reach EmergencyStop; only Stopped cannot, there is nothing to halt.
var validTransitions = map[SystemState][]SystemState{
	StateStopped:       {StateStarting},
	StateStarting:      {StateRunning, StateError, StateStopping, StateEmergencyStop},
	StateRunning:       {StatePaused, StateStopping, StateError, StateEmergencyStop},
	StatePaused:        {StateRunning, StateStopping, StateEmergencyStop},
	StateStopping:      {StateStopped, StateError, StateEmergencyStop},
	StateError:         {StateStopped, StateStarting, StateEmergencyStop},
	StateEmergencyStop: {StateStopped},
}

// CanTransition reports whether from -> to is a legal lifecycle edge
func CanTransition(from, to SystemState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AutomationMode is an orthogonal configuration axis, not part of
// SystemState: it decides how far a candidate signal travels, never how
// the lifecycle behaves.
type AutomationMode string

const (
	// ModeFull trades without a human gate; the decision loop keeps
	// cycling outside market hours
	ModeFull AutomationMode = "full"
	// ModeMarketHours no-ops the decision loop while the venue is closed
	ModeMarketHours AutomationMode = "market_hours"
	// ModeSupervised requires a positive approval-hook result for every
	// candidate before execution
	ModeSupervised AutomationMode = "supervised"
	// ModePaper routes executions to the simulated fill model
	ModePaper AutomationMode = "paper"
	// ModeAnalysis generates and logs candidates but never executes
	ModeAnalysis AutomationMode = "analysis"
)

// ParseAutomationMode validates a mode string from config
func ParseAutomationMode(s string) (AutomationMode, error) {
	switch AutomationMode(s) {
	case ModeFull, ModeMarketHours, ModeSupervised, ModePaper, ModeAnalysis:
		return AutomationMode(s), nil
	case "":
		return ModeAnalysis, nil
	default:
		return "", fmt.Errorf("unknown automation mode: %q", s)
	}
}
