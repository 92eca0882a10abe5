package agentflow

import (
	"context"
	"fmt"

	"github.com/PabloGalante/lotus-agent/internal/app/tools"
	"github.com/PabloGalante/lotus-agent/internal/domain"
	"github.com/PabloGalante/lotus-agent/internal/observability"
)

// ReflectorAgent closes a session by recording it in the user's journal.
// It makes no model call: the closing reply and the planner's reasoning are
// already the reflection.
type ReflectorAgent struct {
	journalTool tools.Tool
}

func NewReflectorAgent(journalTool tools.Tool) *ReflectorAgent {
	return &ReflectorAgent{journalTool: journalTool}
}

func (a *ReflectorAgent) Name() string {
	return "reflector"
}

// ShouldReflect reports whether out is the turn that completed the session.
// Later turns on a finished session are not journaled again.
func ShouldReflect(out TurnOutcome) bool {
	return out.SessionComplete() && out.StageChanged()
}

// Reflect writes the journal entry for a completed session. It is a no-op
// without a tool or when out did not complete the session.
func (a *ReflectorAgent) Reflect(ctx context.Context, tctx tools.ToolContext, therapy domain.TherapyType, out TurnOutcome) error {
	if a == nil || a.journalTool == nil || !ShouldReflect(out) {
		return nil
	}

	log := observability.LoggerFromContext(ctx).With("agent", a.Name(), "session_id", tctx.SessionID)

	res, err := a.journalTool.Call(ctx, tctx, map[string]any{
		"summary":      out.Decision.Reasoning,
		"reflection":   out.BotMessage,
		"therapy_type": string(therapy),
		"final_stage":  int(out.Stage),
	})
	if err != nil {
		log.Error("journal entry not written", "error", err)
		return fmt.Errorf("reflect: %w", err)
	}

	log.Info("session journaled", "entry_id", res["entry_id"])
	return nil
}
