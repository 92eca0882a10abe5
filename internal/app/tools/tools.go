package tools

import (
	"context"
)

// ToolContext carries call metadata to the tool.
type ToolContext struct {
	UserID    string
	SessionID string
	RequestID string
}

// Tool is a side effect agents can invoke once a turn has been decided.
// Input and output are generic maps so tools stay decoupled from agents.
type Tool interface {
	Name() string
	Call(ctx context.Context, tctx ToolContext, input map[string]any) (map[string]any, error)
}
