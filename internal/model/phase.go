package model

// RebalancePhase is the visual stage of an automatic rebalance.
type RebalancePhase string

const (
	PhaseIdle      RebalancePhase = "idle"
	PhasePulling   RebalancePhase = "pulling"
	PhaseMoving    RebalancePhase = "moving"
	PhaseDeploying RebalancePhase = "deploying"
)

// ValidPhaseTransitions lists the allowed moves between phases.
// Every non-idle phase may fall back to idle when the sequence is cancelled.
var ValidPhaseTransitions = map[RebalancePhase][]RebalancePhase{
	PhaseIdle:      {PhasePulling},
	PhasePulling:   {PhaseMoving, PhaseIdle},
	PhaseMoving:    {PhaseDeploying, PhaseIdle},
	PhaseDeploying: {PhaseIdle},
}

// CanTransition checks whether moving from one phase to another is allowed.
func CanTransition(from, to RebalancePhase) bool {
	allowed, ok := ValidPhaseTransitions[from]
	if !ok {
		return false
	}
	for _, p := range allowed {
		if p == to {
			return true
		}
	}
	return false
}

// PhaseInfo returns the UI caption for a phase.
func PhaseInfo(p RebalancePhase) string {
	switch p {
	case PhaseIdle:
		return ""
	case PhasePulling:
		return "Pulling the net in..."
	case PhaseMoving:
		return "Moving the boat..."
	case PhaseDeploying:
		return "Casting the net..."
	default:
		return "Unknown phase"
	}
}
