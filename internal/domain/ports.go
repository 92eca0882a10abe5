package domain

import (
	"context"
	"time"
)

// CallRole identifies which step of the pipeline issued a model call.
type CallRole string

const (
	CallPlanner   CallRole = "planner"
	CallResponder CallRole = "responder"
	CallFirstAid  CallRole = "first_aid"
)

// CompletionRequest is a single system+user model invocation.
type CompletionRequest struct {
	Role      CallRole
	Model     string
	System    string
	User      string
	MaxTokens int
}

// Completion is the model output. An empty Text is not an error at this
// level; callers decide how to treat it.
type Completion struct {
	Text         string
	FinishReason string
	Model        string
}

// FinishReasonLength is reported when the output hit the token limit.
const FinishReasonLength = "length"

// LLMClient defines how the core application talks to a language model.
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// SessionStore defines session persistence.
type SessionStore interface {
	// FindOrCreateSession returns the session keyed by (id, userID), creating
	// it at the first stage when it does not exist. ErrSessionOwnership is
	// returned when the id exists for another user.
	FindOrCreateSession(ctx context.Context, userID UserID, id SessionID, therapy TherapyType) (*Session, error)
	GetSession(ctx context.Context, id SessionID) (*Session, error)
	// UpdateSessionStage sets stage and completion; EndedAt is set the first
	// time complete is true.
	UpdateSessionStage(ctx context.Context, id SessionID, stage Stage, complete bool, at time.Time) error
	ListSessionsByUser(ctx context.Context, userID UserID, limit int) ([]*Session, error)
}

// MessageStore defines message persistence. Messages are append-only.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *Message) error
	// GetMessagesBySession returns the last `limit` messages in creation
	// order (all of them if limit <= 0).
	GetMessagesBySession(ctx context.Context, sessionID SessionID, limit int) ([]*Message, error)
}

// ProfileStore answers whether a user has a profile.
type ProfileStore interface {
	ProfileExists(ctx context.Context, userID UserID) (bool, error)
}

// EventPublisher emits turn events to downstream consumers.
type EventPublisher interface {
	PublishTurn(ctx context.Context, ev TurnEvent) error
}
