package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PabloGalante/lotus-agent/internal/domain"
)

// MockHandler scripts the answer to one model call.
type MockHandler func(req domain.CompletionRequest) (domain.Completion, error)

// MockLLM is a scripted domain.LLMClient keyed by call role. Roles without a
// handler get a canned planner decision or an echo reply.
type MockLLM struct {
	mu       sync.Mutex
	handlers map[domain.CallRole]MockHandler
	calls    []domain.CompletionRequest
}

func NewMockLLM() *MockLLM {
	return &MockLLM{
		handlers: make(map[domain.CallRole]MockHandler),
	}
}

// On sets the handler for a role and returns the mock for chaining.
func (m *MockLLM) On(role domain.CallRole, h MockHandler) *MockLLM {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[role] = h
	return m
}

// Text answers with a fixed text.
func Text(text string) MockHandler {
	return func(domain.CompletionRequest) (domain.Completion, error) {
		return domain.Completion{Text: text, FinishReason: "stop", Model: "mock"}, nil
	}
}

// Fail answers with err.
func Fail(err error) MockHandler {
	return func(domain.CompletionRequest) (domain.Completion, error) {
		return domain.Completion{}, err
	}
}

func (m *MockLLM) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	h := m.handlers[req.Role]
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.Completion{}, err
	}
	if h != nil {
		return h(req)
	}

	switch req.Role {
	case domain.CallPlanner:
		return domain.Completion{
			Text:         `{"action":"respond","reasoning":"Mock planner: the user is still working through this stage."}`,
			FinishReason: "stop",
			Model:        "mock",
		}, nil
	default:
		return domain.Completion{
			Text:         fmt.Sprintf("I hear you. You said %q. How does that feel for you right now?", lastUserMessage(req.User)),
			FinishReason: "stop",
			Model:        "mock",
		}, nil
	}
}

// Calls returns every request received so far.
func (m *MockLLM) Calls() []domain.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CompletionRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsFor returns the requests received for role.
func (m *MockLLM) CallsFor(role domain.CallRole) []domain.CompletionRequest {
	var out []domain.CompletionRequest
	for _, c := range m.Calls() {
		if c.Role == role {
			out = append(out, c)
		}
	}
	return out
}

func lastUserMessage(input string) string {
	const marker = "NEW USER MESSAGE: "
	i := strings.LastIndex(input, marker)
	if i < 0 {
		return strings.TrimSpace(input)
	}
	rest := input[i+len(marker):]
	if j := strings.Index(rest, "\n"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}
