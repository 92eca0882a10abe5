package domain

// Session is one CBT conversation between a user and the agent.
type Session struct {
	ID          SessionID
	UserID      UserID
	Stage       Stage
	TherapyType TherapyType
	IsComplete  bool
	VoiceMode   bool
	CreatedAt   Timestamp
	UpdatedAt   Timestamp
	EndedAt     *Timestamp
}

// Message is an append-only entry in a session timeline.
type Message struct {
	ID        MessageID
	SessionID SessionID
	Sender    Role
	Body      string
	Payload   *MessagePayload
	CreatedAt Timestamp
}

// MessagePayload is the structured data attached to bot messages.
type MessagePayload struct {
	Reasoning     *PlannerDecision `json:"reasoning,omitempty"`
	PlanOutcome   string           `json:"planOutcome,omitempty"`
	ResponderTier string           `json:"responderTier,omitempty"`
	UsedFirstAid  bool             `json:"usedFirstAid"`
	Warnings      []string         `json:"warnings,omitempty"`
	FinishReason  string           `json:"finishReason,omitempty"`
}

// TurnMessage is a prior message as the client sends it (role + content).
// Roles are free-form ("user", "assistant"); they are only rendered.
type TurnMessage struct {
	ID        string `json:"id,omitempty"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// TurnEvent is emitted after every finished turn.
type TurnEvent struct {
	SessionID       SessionID `json:"sessionId,omitempty"`
	UserID          UserID    `json:"userId,omitempty"`
	MessageID       MessageID `json:"messageId"`
	Channel         string    `json:"channel"`
	PreviousStage   Stage     `json:"previousStage"`
	Stage           Stage     `json:"stage"`
	Action          string    `json:"action"`
	PlanOutcome     string    `json:"planOutcome"`
	ResponderTier   string    `json:"responderTier"`
	SessionComplete bool      `json:"sessionComplete"`
	Warnings        int       `json:"warnings"`
	At              Timestamp `json:"at"`
}
