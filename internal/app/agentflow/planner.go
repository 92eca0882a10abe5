package agentflow

import (
	"context"
	"errors"
	"strings"

	"github.com/PabloGalante/lotus-agent/internal/app/stages"
	"github.com/PabloGalante/lotus-agent/internal/domain"
	"github.com/PabloGalante/lotus-agent/internal/observability"
)

var errEmptyOutput = errors.New("empty response from model")

// PlanResult is the outcome of a planner call. Decision is set when Outcome
// is PlanOK, PlanNotJSON or PlanInvalidShape; in the last two cases it is a
// meta_analyze decision carrying the raw output.
type PlanResult struct {
	Decision     domain.PlannerDecision
	Outcome      PlanOutcome
	Raw          string
	FinishReason string
	Err          error
}

// HasDecision reports whether Decision can be used as is.
func (r PlanResult) HasDecision() bool {
	switch r.Outcome {
	case PlanOK, PlanNotJSON, PlanInvalidShape:
		return true
	}
	return false
}

// Warning is the user-invisible note recorded for a degraded result.
func (r PlanResult) Warning() string {
	switch r.Outcome {
	case PlanOK:
		return ""
	case PlanEmptyOutput:
		return "Planner LLM returned empty response"
	case PlanNotJSON:
		return "Planner LLM output was not valid JSON. Raw output passed to responder."
	case PlanInvalidShape:
		return "Planner LLM output did not match the decision schema (" + errString(r.Err) + "). Raw output passed to responder."
	default:
		return "Planner LLM failed: " + errString(r.Err)
	}
}

// PlannerAgent decides whether the session stays, advances or completes.
type PlannerAgent struct {
	llm     domain.LLMClient
	tier    ModelTier
	metrics *observability.Metrics
}

func NewPlannerAgent(llm domain.LLMClient, tier ModelTier, metrics *observability.Metrics) *PlannerAgent {
	return &PlannerAgent{llm: llm, tier: tier, metrics: metrics}
}

func (a *PlannerAgent) Name() string {
	return "planner"
}

// Plan asks the planner model for a decision about tc.
func (a *PlannerAgent) Plan(ctx context.Context, tc TurnContext) PlanResult {
	log := observability.LoggerFromContext(ctx).With("agent", a.Name(), "stage", int(tc.Stage))

	formatted, err := stages.FormatContext(tc.Stage, tc.History, tc.UserMessage)
	if err != nil {
		return PlanResult{Outcome: PlanInvalidInput, Err: err}
	}
	input := formatted + "\n" + stages.PlannerAnalysisRequest
	log.Debug("planner prompt", "input", input)

	out, err := callModel(ctx, a.llm, a.metrics, domain.CallPlanner, a.tier, stages.PlannerSystemPrompt, input)
	if err != nil {
		log.Warn("planner call failed", "error", err)
		return PlanResult{Outcome: PlanTransportError, Err: err}
	}

	res := PlanResult{Raw: out.Text, FinishReason: out.FinishReason}
	if strings.TrimSpace(out.Text) == "" {
		log.Warn("planner returned empty output")
		res.Outcome = PlanEmptyOutput
		res.Err = errEmptyOutput
		return res
	}

	decision, err := ParseDecision(out.Text)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			res.Outcome = de.Kind
		} else {
			res.Outcome = PlanInvalidShape
		}
		res.Err = err
		res.Decision = domain.PlannerDecision{
			Action:    domain.ActionMetaAnalyze,
			Reasoning: out.Text,
		}
		log.Warn("planner output unreadable, passing raw text to responder", "outcome", res.Outcome, "error", err)
		return res
	}

	res.Outcome = PlanOK
	res.Decision = decision
	log.Info("planner decision", "action", decision.Action, "reasoning", decision.Reasoning)
	return res
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
