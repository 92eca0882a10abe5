package agentflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/PabloGalante/lotus-agent/internal/app/stages"
	"github.com/PabloGalante/lotus-agent/internal/domain"
	"github.com/PabloGalante/lotus-agent/internal/observability"
)

// ReplyTier names the responder tier that produced the bot message.
type ReplyTier string

const (
	TierPrimary  ReplyTier = "primary"
	TierFirstAid ReplyTier = "first_aid"
	TierStatic   ReplyTier = "static"
)

// ResponderInput is everything the responder needs for one turn.
type ResponderInput struct {
	Turn     TurnContext
	Decision domain.PlannerDecision
	NewStage domain.Stage
	// Warnings collected before the responder ran.
	Warnings []string
}

// Reply is the responder chain result. Text is never empty.
type Reply struct {
	Text         string
	Tier         ReplyTier
	FinishReason string
	// Warnings raised by the responder chain itself.
	Warnings []string
}

func (r Reply) UsedFirstAid() bool {
	return r.Tier == TierFirstAid
}

// ResponderAgent produces the therapeutic reply: primary model, then the
// first-aid model, then the static table.
type ResponderAgent struct {
	llm      domain.LLMClient
	primary  ModelTier
	firstAid ModelTier
	metrics  *observability.Metrics
}

func NewResponderAgent(llm domain.LLMClient, primary, firstAid ModelTier, metrics *observability.Metrics) *ResponderAgent {
	return &ResponderAgent{
		llm:      llm,
		primary:  primary,
		firstAid: firstAid,
		metrics:  metrics,
	}
}

func (a *ResponderAgent) Name() string {
	return "responder"
}

// BuildResponderPrompt returns the system and user content for the primary tier.
func BuildResponderPrompt(in ResponderInput) (system, user string, err error) {
	guidance, err := stages.Guidance(in.NewStage)
	if err != nil {
		return "", "", err
	}
	formatted, err := stages.FormatContext(in.NewStage, in.Turn.History, in.Turn.UserMessage)
	if err != nil {
		return "", "", err
	}

	system = stages.ResponderCore + "\n" + guidance

	var b strings.Builder
	b.WriteString(formatted)
	b.WriteString("\nPLANNER DECISION: ")
	b.WriteString(in.Decision.Reasoning)
	b.WriteString("\n\n")
	b.WriteString(stages.ResponderRequest)
	b.WriteString("\n")
	if in.NewStage != in.Turn.Stage {
		fmt.Fprintf(&b, "Note: Transitioning from stage %d to stage %d.\n", int(in.Turn.Stage), int(in.NewStage))
	}
	b.WriteString("NEXT STAGE: ")
	b.WriteString(stages.NextDescription(in.NewStage))
	b.WriteString("\n")

	if in.Decision.Action == domain.ActionMetaAnalyze {
		b.WriteString("\nWARNING: The planner failed to provide a valid plan. Acknowledge this gracefully and help the user refocus on their feelings. Raw planner output:\n")
		b.WriteString(in.Decision.Reasoning)
		b.WriteString("\n")
	}
	if len(in.Warnings) > 0 {
		b.WriteString("\nSYSTEM WARNINGS:\n")
		b.WriteString(strings.Join(in.Warnings, "\n"))
		b.WriteString("\n")
	}

	return system, b.String(), nil
}

// Respond runs the tiers in order and always returns a non-empty reply.
func (a *ResponderAgent) Respond(ctx context.Context, in ResponderInput) Reply {
	log := observability.LoggerFromContext(ctx).With("agent", a.Name(), "stage", int(in.NewStage))

	var warnings []string

	system, user, err := BuildResponderPrompt(in)
	if err != nil {
		log.Error("responder prompt could not be built", "error", err)
		warnings = append(warnings, "Responder prompt could not be built: "+err.Error())
		return a.static(in, warnings)
	}
	log.Debug("responder prompt", "input", user)

	primary := a.attempt(ctx, domain.CallResponder, a.primary, system, user)
	if primary.ok() {
		return Reply{
			Text:         primary.text,
			Tier:         TierPrimary,
			FinishReason: primary.finishReason,
			Warnings:     append(warnings, primary.truncationWarning("Responder")...),
		}
	}
	log.Warn("primary responder failed, invoking first-aid", "error", primary.err, "empty", primary.err == nil)
	warnings = append(warnings, primary.failureWarning("Responder"))

	firstAid := a.attempt(ctx, domain.CallFirstAid, a.firstAid, system, stages.FirstAidInstruction+user)
	if firstAid.ok() {
		return Reply{
			Text:         firstAid.text,
			Tier:         TierFirstAid,
			FinishReason: firstAid.finishReason,
			Warnings:     append(warnings, firstAid.truncationWarning("First-aid")...),
		}
	}
	log.Warn("first-aid responder failed, using static reply", "error", firstAid.err, "empty", firstAid.err == nil)
	warnings = append(warnings, firstAid.failureWarning("First-aid"))

	return a.static(in, warnings)
}

func (a *ResponderAgent) static(in ResponderInput, warnings []string) Reply {
	return Reply{
		Text:     stages.StaticReply(in.Decision.Action, in.NewStage, in.Turn.UserMessage),
		Tier:     TierStatic,
		Warnings: warnings,
	}
}

type tierResult struct {
	text         string
	finishReason string
	err          error
}

func (a *ResponderAgent) attempt(ctx context.Context, role domain.CallRole, tier ModelTier, system, user string) tierResult {
	out, err := callModel(ctx, a.llm, a.metrics, role, tier, system, user)
	if err != nil {
		return tierResult{err: err}
	}
	return tierResult{
		text:         strings.TrimSpace(out.Text),
		finishReason: out.FinishReason,
	}
}

func (r tierResult) ok() bool {
	return r.err == nil && r.text != ""
}

func (r tierResult) failureWarning(label string) string {
	if r.err != nil {
		return label + " LLM failed: " + r.err.Error()
	}
	return label + " LLM returned empty response"
}

func (r tierResult) truncationWarning(label string) []string {
	if r.finishReason == domain.FinishReasonLength {
		return []string{label + " LLM output was truncated due to token limit"}
	}
	return nil
}
