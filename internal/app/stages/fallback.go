package stages

import (
	"fmt"

	"github.com/PabloGalante/lotus-agent/internal/domain"
)

// MetaAnalyzeReply is used when the planner output could not be read and no
// model produced a reply.
const MetaAnalyzeReply = "I'm having trouble understanding the session plan, but I'm here to help you focus on your feelings. Let's talk about how you're feeling right now."

// RedirectReply steers an off-topic message back to the session.
func RedirectReply(userMessage string) string {
	return fmt.Sprintf("I noticed you mentioned %q. For this session, let's focus on how you're feeling right now. Can you share a bit about your current mood or emotions?", userMessage)
}

// StaticReply returns the canned reply for a stage. Decision-specific replies
// (redirect, meta_analyze) take precedence over the per-stage table.
func StaticReply(action domain.DecisionAction, stage domain.Stage, userMessage string) string {
	switch action {
	case domain.ActionRedirect:
		return RedirectReply(userMessage)
	case domain.ActionMetaAnalyze:
		return MetaAnalyzeReply
	}

	info, ok := catalog[stage]
	if !ok {
		return catalog[domain.FirstStage].Fallback
	}
	return info.Fallback
}
