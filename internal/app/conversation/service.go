package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/lotus-agent/internal/app/agentflow"
	"github.com/PabloGalante/lotus-agent/internal/app/tools"
	"github.com/PabloGalante/lotus-agent/internal/domain"
	"github.com/PabloGalante/lotus-agent/internal/observability"
)

const (
	ChannelText  = "text"
	ChannelVoice = "voice"
)

type Service struct {
	orchestrator *agentflow.Orchestrator
	sessionStore domain.SessionStore
	messageStore domain.MessageStore

	reflector    *agentflow.ReflectorAgent
	events       domain.EventPublisher
	metrics      *observability.Metrics
	historyLimit int
	now          func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithJournal journals completed sessions through the given tool.
func WithJournal(tool *tools.JournalTool) Option {
	return func(s *Service) {
		if tool != nil {
			s.reflector = agentflow.NewReflectorAgent(tool)
		}
	}
}

func WithEvents(p domain.EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithHistoryLimit keeps only the last n prior messages (0 = all).
func WithHistoryLimit(n int) Option {
	return func(s *Service) { s.historyLimit = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	orchestrator *agentflow.Orchestrator,
	sessionStore domain.SessionStore,
	messageStore domain.MessageStore,
	opts ...Option,
) *Service {
	s := &Service{
		orchestrator: orchestrator,
		sessionStore: sessionStore,
		messageStore: messageStore,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TurnInput is one authenticated text turn.
type TurnInput struct {
	UserID      domain.UserID
	SessionID   domain.SessionID
	Stage       domain.Stage
	Messages    []domain.TurnMessage
	UserMessage string
}

// TurnResult is what the client receives for a text turn.
type TurnResult struct {
	MessageID       domain.MessageID
	BotMessage      string
	NewStage        *domain.Stage
	Reasoning       domain.PlannerDecision
	SessionComplete bool
	Warnings        []string
	UsedFirstAid    bool
}

// HandleTurn runs a persisted turn. Only an invalid stage or a session that
// cannot be resolved returns an error; every other failure is logged, added
// to the warnings and the turn continues.
func (s *Service) HandleTurn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	if err := domain.ValidateStage(in.Stage); err != nil {
		return nil, err
	}

	log := observability.LoggerFromContext(ctx).With(
		"session_id", in.SessionID,
		"user_id", in.UserID,
	)
	log.Info("turn started", "stage", int(in.Stage), "history_len", len(in.Messages))

	// The turn record must survive a client that hangs up mid-turn.
	persistCtx := context.WithoutCancel(ctx)

	session, err := s.sessionStore.FindOrCreateSession(persistCtx, in.UserID, in.SessionID, domain.TherapyCBT)
	if err != nil {
		log.Error("failed to resolve session", "error", err)
		s.metrics.ObserveTurn(ChannelText, "session_error")
		return nil, &domain.SessionError{SessionID: in.SessionID, Err: err}
	}

	// A stale client cannot move a session backwards.
	current := in.Stage
	if session.Stage > current {
		log.Info("client stage behind stored session", "client_stage", int(in.Stage), "stored_stage", int(session.Stage))
		current = session.Stage
	}

	var warnings []string
	soft := func(op string, err error) {
		log.Warn("persistence failed, continuing turn", "op", op, "error", err)
		s.metrics.ObservePersistenceFailure(op)
		warnings = append(warnings, fmt.Sprintf("Failed to %s: %v", op, err))
	}

	history := s.history(persistCtx, in, soft)

	if err := s.messageStore.AppendMessage(persistCtx, &domain.Message{
		ID:        domain.MessageID(uuid.NewString()),
		SessionID: session.ID,
		Sender:    domain.RoleUser,
		Body:      in.UserMessage,
		CreatedAt: s.now(),
	}); err != nil {
		soft("save user message", err)
	}

	out, err := s.orchestrator.Run(ctx, agentflow.TurnContext{
		Stage:       current,
		History:     history,
		UserMessage: in.UserMessage,
	})
	if err != nil {
		s.metrics.ObserveTurn(ChannelText, "error")
		return nil, err
	}

	// Orchestrator warnings come first so they read in pipeline order.
	warnings = append(append([]string{}, out.Warnings...), warnings...)

	messageID := domain.MessageID(uuid.NewString())
	if err := s.messageStore.AppendMessage(persistCtx, &domain.Message{
		ID:        messageID,
		SessionID: session.ID,
		Sender:    domain.RoleBot,
		Body:      out.BotMessage,
		CreatedAt: s.now(),
		Payload: &domain.MessagePayload{
			Reasoning:     &out.Decision,
			PlanOutcome:   string(out.PlanOutcome),
			ResponderTier: string(out.Tier),
			UsedFirstAid:  out.UsedFirstAid(),
			Warnings:      out.Warnings,
			FinishReason:  out.FinishReason,
		},
	}); err != nil {
		soft("save bot message", err)
	}

	if err := s.sessionStore.UpdateSessionStage(persistCtx, session.ID, out.Stage, out.SessionComplete(), s.now()); err != nil {
		soft("update session", err)
	}

	tctx := tools.ToolContext{
		UserID:    string(in.UserID),
		SessionID: string(session.ID),
		RequestID: observability.RequestID(ctx),
	}
	if err := s.reflector.Reflect(persistCtx, tctx, session.TherapyType, out); err != nil {
		soft("write journal entry", err)
	}

	s.publish(persistCtx, domain.TurnEvent{
		SessionID: session.ID,
		UserID:    in.UserID,
		MessageID: messageID,
		Channel:   ChannelText,
	}, out)

	res := &TurnResult{
		MessageID:       messageID,
		BotMessage:      out.BotMessage,
		Reasoning:       out.Decision,
		SessionComplete: out.SessionComplete(),
		Warnings:        warnings,
		UsedFirstAid:    out.UsedFirstAid(),
	}
	if out.Stage != in.Stage {
		stage := out.Stage
		res.NewStage = &stage
	}

	s.metrics.ObserveTurn(ChannelText, "ok")
	log.Info("turn completed",
		"stage", int(out.Stage),
		"tier", out.Tier,
		"complete", res.SessionComplete,
		"warnings", len(warnings))
	return res, nil
}

// history returns the prior messages for the turn. Clients normally send
// them; when they do not, the stored timeline is used instead.
func (s *Service) history(ctx context.Context, in TurnInput, soft func(string, error)) []domain.TurnMessage {
	msgs := in.Messages
	if len(msgs) == 0 {
		stored, err := s.messageStore.GetMessagesBySession(ctx, in.SessionID, s.historyLimit)
		if err != nil {
			soft("load history", err)
			return nil
		}
		msgs = ToTurnMessages(stored)
	}
	return capHistory(msgs, s.historyLimit)
}

// VoiceTurnInput is one stateless voice turn.
type VoiceTurnInput struct {
	Stage       domain.Stage
	Messages    []domain.TurnMessage
	UserMessage string
}

// VoiceTurnResult mirrors TurnResult; Reasoning is the planner's text only.
type VoiceTurnResult struct {
	MessageID       string        `json:"messageId"`
	BotMessage      string        `json:"botMessage"`
	NewStage        *domain.Stage `json:"newStage,omitempty"`
	Reasoning       string        `json:"reasoning"`
	SessionComplete bool          `json:"sessionComplete"`
	Warnings        []string      `json:"warnings,omitempty"`
}

// HandleVoiceTurn runs the same pipeline as HandleTurn without a session.
func (s *Service) HandleVoiceTurn(ctx context.Context, in VoiceTurnInput) (*VoiceTurnResult, error) {
	if err := domain.ValidateStage(in.Stage); err != nil {
		return nil, err
	}

	out, err := s.orchestrator.Run(ctx, agentflow.TurnContext{
		Stage:       in.Stage,
		History:     capHistory(in.Messages, s.historyLimit),
		UserMessage: in.UserMessage,
	})
	if err != nil {
		s.metrics.ObserveTurn(ChannelVoice, "error")
		return nil, err
	}

	now := s.now()
	messageID := fmt.Sprintf("msg-%d-%s", now.UnixMilli(), uuid.NewString()[:8])

	s.publish(context.WithoutCancel(ctx), domain.TurnEvent{
		MessageID: domain.MessageID(messageID),
		Channel:   ChannelVoice,
	}, out)

	res := &VoiceTurnResult{
		MessageID:       messageID,
		BotMessage:      out.BotMessage,
		Reasoning:       out.Decision.Reasoning,
		SessionComplete: out.SessionComplete(),
		Warnings:        out.Warnings,
	}
	if out.StageChanged() {
		stage := out.Stage
		res.NewStage = &stage
	}

	s.metrics.ObserveTurn(ChannelVoice, "ok")
	observability.LoggerFromContext(ctx).Info("voice turn completed",
		"mode", ChannelVoice,
		"stage", int(out.Stage),
		"tier", out.Tier)
	return res, nil
}

// GetSessionTimeline returns a session and its last `limit` messages if it
// belongs to userID.
func (s *Service) GetSessionTimeline(
	ctx context.Context,
	userID domain.UserID,
	sessionID domain.SessionID,
	limit int,
) (*domain.Session, []*domain.Message, error) {
	log := observability.LoggerFromContext(ctx).With(
		"session_id", sessionID,
		"limit", limit,
	)

	session, err := s.sessionStore.GetSession(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, domain.ErrSessionNotFound) {
			log.Error("failed to get session", "error", err)
		}
		return nil, nil, err
	}
	if session.UserID != userID {
		log.Warn("session requested by another user", "user_id", userID)
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrSessionOwnership, sessionID)
	}

	msgs, err := s.messageStore.GetMessagesBySession(ctx, sessionID, limit)
	if err != nil {
		log.Error("failed to get messages", "error", err)
		return nil, nil, err
	}

	log.Info("fetched session timeline", "message_count", len(msgs))
	return session, msgs, nil
}

const (
	defaultSessionListLimit = 20
	maxSessionListLimit     = 100
)

// ListUserSessions returns the user's sessions, newest first. limit <= 0 uses
// the default; larger values are capped.
func (s *Service) ListUserSessions(ctx context.Context, userID domain.UserID, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = defaultSessionListLimit
	}
	if limit > maxSessionListLimit {
		limit = maxSessionListLimit
	}

	sessions, err := s.sessionStore.ListSessionsByUser(ctx, userID, limit)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("failed to list sessions", "user_id", userID, "error", err)
		return nil, err
	}
	return sessions, nil
}

func (s *Service) publish(ctx context.Context, ev domain.TurnEvent, out agentflow.TurnOutcome) {
	if s.events == nil {
		return
	}
	ev.PreviousStage = out.PreviousStage
	ev.Stage = out.Stage
	ev.Action = string(out.Decision.Action)
	ev.PlanOutcome = string(out.PlanOutcome)
	ev.ResponderTier = string(out.Tier)
	ev.SessionComplete = out.SessionComplete()
	ev.Warnings = len(out.Warnings)
	ev.At = s.now()

	if err := s.events.PublishTurn(ctx, ev); err != nil {
		observability.LoggerFromContext(ctx).Warn("turn event not published", "error", err, "channel", ev.Channel)
	}
}

// ToTurnMessages renders stored messages the way clients send them.
func ToTurnMessages(msgs []*domain.Message) []domain.TurnMessage {
	out := make([]domain.TurnMessage, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Sender == domain.RoleBot {
			role = "assistant"
		}
		out = append(out, domain.TurnMessage{
			ID:        string(m.ID),
			Role:      role,
			Content:   m.Body,
			Timestamp: m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func capHistory(msgs []domain.TurnMessage, limit int) []domain.TurnMessage {
	if limit > 0 && len(msgs) > limit {
		return msgs[len(msgs)-limit:]
	}
	return msgs
}
