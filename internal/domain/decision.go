package domain

// DecisionAction is the tag of a planner decision.
type DecisionAction string

const (
	ActionRespond         DecisionAction = "respond"
	ActionAdvanceStage    DecisionAction = "advance_stage"
	ActionCompleteSession DecisionAction = "complete_session"
	ActionMetaAnalyze     DecisionAction = "meta_analyze"
	ActionRedirect        DecisionAction = "redirect"
)

// Valid reports whether a is one of the five known actions.
func (a DecisionAction) Valid() bool {
	switch a {
	case ActionRespond, ActionAdvanceStage, ActionCompleteSession, ActionMetaAnalyze, ActionRedirect:
		return true
	}
	return false
}

// PlannerDecision is what the planner decided for the current turn.
type PlannerDecision struct {
	Action      DecisionAction `json:"action"`
	TargetStage *Stage         `json:"targetStage,omitempty"`
	Reasoning   string         `json:"reasoning"`
}

// ResolveStage applies the decision to current and returns the stage the
// turn ends in. Advancement is clamped to a single step, never regresses,
// and complete_session always lands on the final stage.
func (d PlannerDecision) ResolveStage(current Stage) Stage {
	switch d.Action {
	case ActionCompleteSession:
		return FinalStage
	case ActionAdvanceStage:
		if current.Terminal() {
			return current
		}
		next := current + 1
		if d.TargetStage == nil {
			return next
		}
		target := *d.TargetStage
		if target <= current {
			return current
		}
		if target > next {
			return next
		}
		return target
	default:
		return current
	}
}
