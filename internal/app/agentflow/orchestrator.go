package agentflow

import (
	"context"
	"time"

	"github.com/PabloGalante/lotus-agent/internal/domain"
	"github.com/PabloGalante/lotus-agent/internal/observability"
)

// TurnOutcome is the stateless result of running a turn through the pipeline.
type TurnOutcome struct {
	Decision      domain.PlannerDecision
	PlanOutcome   PlanOutcome
	UsedHeuristic bool

	PreviousStage domain.Stage
	Stage         domain.Stage

	BotMessage   string
	Tier         ReplyTier
	FinishReason string

	// Warnings accumulated by every soft failure of the turn, in order.
	Warnings []string
}

func (o TurnOutcome) StageChanged() bool {
	return o.Stage != o.PreviousStage
}

func (o TurnOutcome) SessionComplete() bool {
	return o.Stage == domain.FinalStage
}

func (o TurnOutcome) UsedFirstAid() bool {
	return o.Tier == TierFirstAid
}

// Orchestrator runs planner then responder for a turn.
type Orchestrator struct {
	planner   *PlannerAgent
	responder *ResponderAgent
	metrics   *observability.Metrics
}

// NewOrchestrator wires a planner and a responder.
func NewOrchestrator(planner *PlannerAgent, responder *ResponderAgent, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		planner:   planner,
		responder: responder,
		metrics:   metrics,
	}
}

// NewDefaultOrchestrator builds the planner/responder pair on a single client.
func NewDefaultOrchestrator(llm domain.LLMClient, cfg Config, metrics *observability.Metrics) *Orchestrator {
	return NewOrchestrator(
		NewPlannerAgent(llm, cfg.Planner, metrics),
		NewResponderAgent(llm, cfg.Responder, cfg.FirstAid, metrics),
		metrics,
	)
}

// Run executes planner, stage clamp and responder chain sequentially.
// The only error is ErrInvalidStage for tc.Stage; every model failure is
// absorbed into the outcome warnings.
func (o *Orchestrator) Run(ctx context.Context, tc TurnContext) (TurnOutcome, error) {
	if err := domain.ValidateStage(tc.Stage); err != nil {
		return TurnOutcome{}, err
	}

	log := observability.LoggerFromContext(ctx).With("stage", int(tc.Stage))
	log.Info("orchestrator started", "history_len", len(tc.History))
	start := time.Now()

	var warnings []string

	plan := o.planner.Plan(ctx, tc)
	o.metrics.ObservePlanner(string(plan.Outcome))

	decision := plan.Decision
	usedHeuristic := false
	if plan.Outcome != PlanOK {
		warnings = append(warnings, plan.Warning())
	}
	if !plan.HasDecision() {
		decision = HeuristicDecision(tc.UserMessage)
		usedHeuristic = true
		log.Warn("planner unusable, heuristic decision applied", "outcome", plan.Outcome, "action", decision.Action)
	}
	if plan.FinishReason == domain.FinishReasonLength {
		warnings = append(warnings, "Planner LLM output was truncated due to token limit")
	}

	newStage := decision.ResolveStage(tc.Stage)
	if newStage != tc.Stage {
		log.Info("stage transition", "from", int(tc.Stage), "to", int(newStage), "action", decision.Action)
	}

	reply := o.responder.Respond(ctx, ResponderInput{
		Turn:     tc,
		Decision: decision,
		NewStage: newStage,
		Warnings: warnings,
	})
	o.metrics.ObserveResponderTier(string(reply.Tier))
	warnings = append(warnings, reply.Warnings...)

	log.Info("orchestrator end",
		"new_stage", int(newStage),
		"tier", reply.Tier,
		"warnings", len(warnings),
		"elapsed_ms", time.Since(start).Milliseconds())

	return TurnOutcome{
		Decision:      decision,
		PlanOutcome:   plan.Outcome,
		UsedHeuristic: usedHeuristic,
		PreviousStage: tc.Stage,
		Stage:         newStage,
		BotMessage:    reply.Text,
		Tier:          reply.Tier,
		FinishReason:  reply.FinishReason,
		Warnings:      warnings,
	}, nil
}
