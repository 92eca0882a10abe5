package agentflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/PabloGalante/lotus-agent/internal/domain"
)

// PlanOutcome classifies how the planner call ended.
type PlanOutcome string

const (
	PlanOK             PlanOutcome = "ok"
	PlanEmptyOutput    PlanOutcome = "empty_output"
	PlanTransportError PlanOutcome = "transport_error"
	PlanNotJSON        PlanOutcome = "not_json"
	PlanInvalidShape   PlanOutcome = "invalid_shape"
	PlanInvalidInput   PlanOutcome = "invalid_input"
)

// DecodeError is returned by ParseDecision. Kind is PlanNotJSON when the
// text is not JSON at all and PlanInvalidShape when it is JSON that does not
// describe a decision.
type DecodeError struct {
	Kind PlanOutcome
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// fencedJSON matches output wrapped in a markdown code block.
var fencedJSON = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\s*```$")

// ParseDecision strictly decodes planner output into a decision.
func ParseDecision(raw string) (domain.PlannerDecision, error) {
	candidate := strings.TrimSpace(raw)
	if m := fencedJSON.FindStringSubmatch(candidate); len(m) > 1 {
		candidate = strings.TrimSpace(m[1])
	}

	if !json.Valid([]byte(candidate)) {
		return domain.PlannerDecision{}, &DecodeError{Kind: PlanNotJSON, Err: errors.New("output is not valid JSON")}
	}

	var wire struct {
		Action      string          `json:"action"`
		TargetStage json.RawMessage `json:"targetStage"`
		Reasoning   string          `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(candidate), &wire); err != nil {
		return domain.PlannerDecision{}, &DecodeError{Kind: PlanInvalidShape, Err: err}
	}

	action := domain.DecisionAction(strings.TrimSpace(wire.Action))
	if !action.Valid() {
		return domain.PlannerDecision{}, &DecodeError{
			Kind: PlanInvalidShape,
			Err:  fmt.Errorf("unknown action %q", wire.Action),
		}
	}

	decision := domain.PlannerDecision{
		Action:    action,
		Reasoning: wire.Reasoning,
	}

	if len(wire.TargetStage) > 0 && string(wire.TargetStage) != "null" {
		var n float64
		if err := json.Unmarshal(wire.TargetStage, &n); err != nil || n != math.Trunc(n) {
			return domain.PlannerDecision{}, &DecodeError{
				Kind: PlanInvalidShape,
				Err:  fmt.Errorf("targetStage %s is not an integer", string(wire.TargetStage)),
			}
		}
		// Saturate before converting: out-of-range floats do not survive int().
		n = math.Max(0, math.Min(n, float64(domain.FinalStage)))
		target := domain.Stage(int(n))
		decision.TargetStage = &target
	}

	return decision, nil
}
