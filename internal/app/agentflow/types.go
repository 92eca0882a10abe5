package agentflow

import (
	"context"
	"time"

	"github.com/PabloGalante/lotus-agent/internal/domain"
	"github.com/PabloGalante/lotus-agent/internal/observability"
)

// TurnContext is the transient input shared by planner and responder.
type TurnContext struct {
	Stage       domain.Stage
	History     []domain.TurnMessage
	UserMessage string
}

// ModelTier configures one kind of model call.
type ModelTier struct {
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

// Config holds the three model tiers of a turn.
type Config struct {
	Planner   ModelTier
	Responder ModelTier
	FirstAid  ModelTier
}

// DefaultConfig mirrors the OpenAI models the service was tuned with.
func DefaultConfig() Config {
	return Config{
		Planner:   ModelTier{Model: "o3-2025-04-16", Timeout: 45 * time.Second, MaxTokens: 1000},
		Responder: ModelTier{Model: "gpt-4.1-nano-2025-04-14", Timeout: 20 * time.Second, MaxTokens: 300},
		FirstAid:  ModelTier{Model: "o4-mini-2025-04-16", Timeout: 30 * time.Second, MaxTokens: 1000},
	}
}

// callModel runs a single model call bounded by the tier timeout.
func callModel(
	ctx context.Context,
	llm domain.LLMClient,
	metrics *observability.Metrics,
	role domain.CallRole,
	tier ModelTier,
	system, user string,
) (domain.Completion, error) {
	if tier.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tier.Timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := llm.Complete(ctx, domain.CompletionRequest{
		Role:      role,
		Model:     tier.Model,
		System:    system,
		User:      user,
		MaxTokens: tier.MaxTokens,
	})
	metrics.ObserveModelCall(string(role), err == nil, time.Since(start))
	return out, err
}
