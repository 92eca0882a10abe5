package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/PabloGalante/lotus-agent/internal/domain"
)

type VertexClient struct {
	client *genai.Client
}

// NewVertexClient creates an LLMClient based on Vertex AI (Gemini).
func NewVertexClient(ctx context.Context, projectID, location string) (*VertexClient, error) {
	if projectID == "" || location == "" {
		return nil, fmt.Errorf("vertex client needs a GCP project and location")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI client: %w", err)
	}

	return &VertexClient{client: client}, nil
}

// Complete implements domain.LLMClient using Vertex AI.
func (v *VertexClient) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(req.User, genai.RoleUser),
	}

	temp := float32(0.7)
	cfg := &genai.GenerateContentConfig{
		// According to official examples, the role here is usually RoleUser, not "system"
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		Temperature:       &temp,
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	res, err := v.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return domain.Completion{}, fmt.Errorf("vertex generate content (%s): %w", req.Model, err)
	}

	out := domain.Completion{
		Text:  res.Text(),
		Model: req.Model,
	}
	if len(res.Candidates) > 0 {
		out.FinishReason = finishReason(res.Candidates[0].FinishReason)
	}
	return out, nil
}

// finishReason maps Gemini reasons onto the OpenAI vocabulary used elsewhere.
func finishReason(r genai.FinishReason) string {
	switch r {
	case genai.FinishReasonMaxTokens:
		return domain.FinishReasonLength
	case genai.FinishReasonStop:
		return "stop"
	case "":
		return ""
	default:
		return string(r)
	}
}
