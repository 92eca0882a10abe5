package agentflow

import (
	"strings"

	"github.com/PabloGalante/lotus-agent/internal/domain"
)

// feelingWords is the vocabulary that marks a message as on-topic.
var feelingWords = []string{
	"feel", "feeling", "emotion", "mood",
	"anxious", "sad", "happy", "stressed", "worried", "angry", "upset",
	"excited", "tired", "depressed", "calm", "relaxed", "nervous",
}

// IsOffTopic reports whether msg mentions no feeling or mood vocabulary.
func IsOffTopic(msg string) bool {
	lower := strings.ToLower(msg)
	for _, w := range feelingWords {
		if strings.Contains(lower, w) {
			return false
		}
	}
	return true
}

// HeuristicDecision is used when the planner produced nothing usable.
func HeuristicDecision(userMessage string) domain.PlannerDecision {
	if IsOffTopic(userMessage) {
		return domain.PlannerDecision{
			Action:    domain.ActionRedirect,
			Reasoning: "User message does not talk about feelings or mood. Gently guide back to the session goals.",
		}
	}
	return domain.PlannerDecision{
		Action:    domain.ActionRespond,
		Reasoning: "Fallback: planner returned no usable decision, staying in the current stage.",
	}
}
