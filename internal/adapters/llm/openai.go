package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/PabloGalante/lotus-agent/internal/domain"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient implements domain.LLMClient with the chat completions API.
type OpenAIClient struct {
	client openaigo.Client
}

// NewOpenAIClient creates the client once at startup; it is safe to share.
func NewOpenAIClient(apiKey, baseURL string, httpClient *http.Client, maxRetries int) (*OpenAIClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(maxRetries),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	return &OpenAIClient{client: openaigo.NewClient(opts...)}, nil
}

// Complete implements domain.LLMClient.
func (c *OpenAIClient) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	params := openaigo.ChatCompletionNewParams{
		Model: openaigo.ChatModel(req.Model),
		Messages: []openaigo.ChatCompletionMessageParamUnion{
			openaigo.SystemMessage(req.System),
			openaigo.UserMessage(req.User),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openaigo.Int(int64(req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return domain.Completion{}, fmt.Errorf("openai chat completion (%s): %w", req.Model, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return domain.Completion{}, fmt.Errorf("openai chat completion (%s): no choices returned", req.Model)
	}

	choice := resp.Choices[0]
	return domain.Completion{
		Text:         strings.TrimSpace(choice.Message.Content),
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
	}, nil
}
