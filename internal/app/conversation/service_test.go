package conversation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/lotus-agent/internal/adapters/llm"
	"github.com/PabloGalante/lotus-agent/internal/adapters/storage/memory"
	"github.com/PabloGalante/lotus-agent/internal/app/agentflow"
	"github.com/PabloGalante/lotus-agent/internal/app/conversation"
	"github.com/PabloGalante/lotus-agent/internal/app/stages"
	"github.com/PabloGalante/lotus-agent/internal/app/tools"
	"github.com/PabloGalante/lotus-agent/internal/domain"
)

var errDown = errors.New("store down")

type fixture struct {
	llm      *llm.MockLLM
	sessions *memory.SessionStore
	messages *memory.MessageStore
	journal  *memory.JournalStore
	events   *recordingPublisher
	svc      *conversation.Service
}

func newFixture(t *testing.T, opts ...conversation.Option) *fixture {
	t.Helper()
	f := &fixture{
		llm:      llm.NewMockLLM(),
		sessions: memory.NewSessionStore(),
		messages: memory.NewMessageStore(),
		journal:  memory.NewJournalStore(),
		events:   &recordingPublisher{},
	}
	f.svc = f.build(f.sessions, f.messages, opts...)
	return f
}

func (f *fixture) build(sessions domain.SessionStore, messages domain.MessageStore, opts ...conversation.Option) *conversation.Service {
	base := []conversation.Option{
		conversation.WithJournal(tools.NewJournalTool(f.journal)),
		conversation.WithEvents(f.events),
	}
	return conversation.NewService(
		agentflow.NewDefaultOrchestrator(f.llm, agentflow.DefaultConfig(), nil),
		sessions,
		messages,
		append(base, opts...)...,
	)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.TurnEvent
}

func (p *recordingPublisher) PublishTurn(_ context.Context, ev domain.TurnEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type failingMessages struct{ *memory.MessageStore }

func (failingMessages) AppendMessage(context.Context, *domain.Message) error { return errDown }

type failingSessions struct{ *memory.SessionStore }

func (failingSessions) FindOrCreateSession(context.Context, domain.UserID, domain.SessionID, domain.TherapyType) (*domain.Session, error) {
	return nil, errDown
}

type staleUpdates struct{ *memory.SessionStore }

func (staleUpdates) UpdateSessionStage(context.Context, domain.SessionID, domain.Stage, bool, time.Time) error {
	return errDown
}

func turn(stage domain.Stage, msg string) conversation.TurnInput {
	return conversation.TurnInput{
		UserID:      "user-1",
		SessionID:   "session-1",
		Stage:       stage,
		UserMessage: msg,
	}
}

func TestHandleTurnRespondKeepsStage(t *testing.T) {
	f := newFixture(t)
	f.llm.On(domain.CallPlanner, llm.Text(`{"action":"respond","reasoning":"keep exploring the anxiety"}`))
	ctx := context.Background()

	res, err := f.svc.HandleTurn(ctx, turn(domain.StageWarmup, "I feel really anxious today"))
	require.NoError(t, err)

	assert.Nil(t, res.NewStage)
	assert.False(t, res.SessionComplete)
	assert.False(t, res.UsedFirstAid)
	assert.NotEmpty(t, res.BotMessage)
	assert.NotEmpty(t, res.MessageID)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, domain.ActionRespond, res.Reasoning.Action)

	msgs, err := f.messages.GetMessagesBySession(ctx, "session-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Sender)
	assert.Equal(t, "I feel really anxious today", msgs[0].Body)
	assert.Equal(t, domain.RoleBot, msgs[1].Sender)
	assert.Equal(t, res.MessageID, msgs[1].ID)
	require.NotNil(t, msgs[1].Payload)
	assert.Equal(t, "keep exploring the anxiety", msgs[1].Payload.Reasoning.Reasoning)
	assert.Equal(t, "primary", msgs[1].Payload.ResponderTier)

	sess, err := f.sessions.GetSession(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageWarmup, sess.Stage)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, conversation.ChannelText, f.events.events[0].Channel)
	assert.Equal(t, res.MessageID, f.events.events[0].MessageID)
}

func TestHandleTurnCompletesSession(t *testing.T) {
	f := newFixture(t)
	f.llm.
		On(domain.CallPlanner, llm.Text(`{"action":"complete_session","reasoning":"user named a takeaway"}`)).
		On(domain.CallResponder, llm.Text("Thank you for the work you did today."))
	ctx := context.Background()

	res, err := f.svc.HandleTurn(ctx, turn(domain.StageSummary, "I'll remember to question my first thought"))
	require.NoError(t, err)

	want := &conversation.TurnResult{
		BotMessage: "Thank you for the work you did today.",
		NewStage:   stagePtr(domain.StageComplete),
		Reasoning: domain.PlannerDecision{
			Action:    domain.ActionCompleteSession,
			Reasoning: "user named a takeaway",
		},
		SessionComplete: true,
	}
	if diff := cmp.Diff(want, res, cmpopts.IgnoreFields(conversation.TurnResult{}, "MessageID"), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("HandleTurn() mismatch (-want +got):\n%s", diff)
	}

	sess, err := f.sessions.GetSession(ctx, "session-1")
	require.NoError(t, err)
	assert.True(t, sess.IsComplete)
	assert.Equal(t, domain.StageComplete, sess.Stage)
	assert.NotNil(t, sess.EndedAt)

	entries, err := f.journal.ListJournalEntriesByUser(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "user named a takeaway", entries[0].Summary)
	assert.Equal(t, "Thank you for the work you did today.", entries[0].Reflection)
	assert.Equal(t, domain.StageComplete, entries[0].FinalStage)

	// A closing message after completion keeps the session terminal and
	// does not journal twice.
	f.llm.On(domain.CallPlanner, llm.Text(`{"action":"respond","reasoning":"closing"}`))
	again, err := f.svc.HandleTurn(ctx, turn(domain.StageComplete, "bye"))
	require.NoError(t, err)
	assert.True(t, again.SessionComplete)
	assert.Nil(t, again.NewStage)

	entries, err = f.journal.ListJournalEntriesByUser(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestHandleTurnClampsAdvance(t *testing.T) {
	f := newFixture(t)
	f.llm.On(domain.CallPlanner, llm.Text(`{"action":"advance_stage","targetStage":4,"reasoning":"jump"}`))
	ctx := context.Background()

	_, err := f.sessions.FindOrCreateSession(ctx, "user-1", "session-1", "")
	require.NoError(t, err)
	require.NoError(t, f.sessions.UpdateSessionStage(ctx, "session-1", domain.StageExploration, false, time.Now()))

	res, err := f.svc.HandleTurn(ctx, turn(domain.StageExploration, "I always mess things up"))
	require.NoError(t, err)
	require.NotNil(t, res.NewStage)
	assert.Equal(t, domain.StageReframe, *res.NewStage)
}

func TestHandleTurnStaleClientStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sessions.FindOrCreateSession(ctx, "user-1", "session-1", "")
	require.NoError(t, err)
	require.NoError(t, f.sessions.UpdateSessionStage(ctx, "session-1", domain.StageReframe, false, time.Now()))

	res, err := f.svc.HandleTurn(ctx, turn(domain.StageWarmup, "I feel a bit better"))
	require.NoError(t, err)
	require.NotNil(t, res.NewStage)
	assert.Equal(t, domain.StageReframe, *res.NewStage)

	planner := f.llm.CallsFor(domain.CallPlanner)
	require.Len(t, planner, 1)
	assert.Contains(t, planner[0].User, "CURRENT STAGE: 3")
}

func TestHandleTurnUsesStoredHistoryWhenClientSendsNone(t *testing.T) {
	f := newFixture(t, conversation.WithHistoryLimit(1))
	ctx := context.Background()

	_, err := f.svc.HandleTurn(ctx, turn(domain.StageWarmup, "I feel tense"))
	require.NoError(t, err)
	_, err = f.svc.HandleTurn(ctx, turn(domain.StageWarmup, "Work is stressful"))
	require.NoError(t, err)

	planner := f.llm.CallsFor(domain.CallPlanner)
	require.Len(t, planner, 2)
	assert.Contains(t, planner[1].User, "ASSISTANT: ")
	assert.NotContains(t, planner[1].User, "USER: I feel tense")
}

func TestHandleTurnClientHistoryIsCapped(t *testing.T) {
	f := newFixture(t, conversation.WithHistoryLimit(2))
	in := turn(domain.StageWarmup, "I feel sad")
	in.Messages = []domain.TurnMessage{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second"},
		{Role: "user", Content: "third"},
	}

	_, err := f.svc.HandleTurn(context.Background(), in)
	require.NoError(t, err)

	planner := f.llm.CallsFor(domain.CallPlanner)
	require.Len(t, planner, 1)
	assert.NotContains(t, planner[0].User, "USER: first")
	assert.Contains(t, planner[0].User, "ASSISTANT: second\n\nUSER: third")
}

func TestHandleTurnSessionFailureIsHard(t *testing.T) {
	f := newFixture(t)
	svc := f.build(failingSessions{f.sessions}, f.messages)

	_, err := svc.HandleTurn(context.Background(), turn(domain.StageWarmup, "hi"))

	var se *domain.SessionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, domain.SessionID("session-1"), se.SessionID)
	assert.ErrorIs(t, err, errDown)
	assert.Empty(t, f.llm.Calls())
}

func TestHandleTurnOtherOwnerIsHard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sessions.FindOrCreateSession(ctx, "someone-else", "session-1", "")
	require.NoError(t, err)

	_, err = f.svc.HandleTurn(ctx, turn(domain.StageWarmup, "hi"))
	var se *domain.SessionError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, domain.ErrSessionOwnership)
}

func TestHandleTurnPersistenceFailuresAreSoft(t *testing.T) {
	f := newFixture(t)
	f.llm.On(domain.CallPlanner, llm.Text(`{"action":"advance_stage","reasoning":"ready"}`))
	svc := f.build(staleUpdates{f.sessions}, failingMessages{f.messages})

	res, err := svc.HandleTurn(context.Background(), turn(domain.StageWarmup, "I feel ready"))
	require.NoError(t, err)

	assert.NotEmpty(t, res.BotMessage)
	require.NotNil(t, res.NewStage)
	assert.Equal(t, domain.StageExploration, *res.NewStage)
	assert.Equal(t, []string{
		"Failed to save user message: store down",
		"Failed to save bot message: store down",
		"Failed to update session: store down",
	}, res.Warnings)
}

func TestHandleTurnTotalOutage(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("503")
	f.llm.
		On(domain.CallPlanner, llm.Fail(boom)).
		On(domain.CallResponder, llm.Fail(boom)).
		On(domain.CallFirstAid, llm.Fail(boom))

	res, err := f.svc.HandleTurn(context.Background(), turn(domain.StageExploration, "I feel lost"))
	require.NoError(t, err)

	info, err := stages.Lookup(domain.StageExploration)
	require.NoError(t, err)
	assert.Equal(t, info.Fallback, res.BotMessage)
	assert.False(t, res.UsedFirstAid)
	assert.Len(t, res.Warnings, 3)
}

func TestHandleTurnFirstAid(t *testing.T) {
	f := newFixture(t)
	f.llm.
		On(domain.CallResponder, llm.Text("")).
		On(domain.CallFirstAid, llm.Text("Let's slow down together."))

	res, err := f.svc.HandleTurn(context.Background(), turn(domain.StageWarmup, "I feel panicky"))
	require.NoError(t, err)
	assert.True(t, res.UsedFirstAid)
	assert.Equal(t, "Let's slow down together.", res.BotMessage)
}

func TestHandleTurnInvalidStage(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.HandleTurn(context.Background(), turn(6, "hi"))
	assert.ErrorIs(t, err, domain.ErrInvalidStage)

	_, err = f.sessions.GetSession(context.Background(), "session-1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestHandleVoiceTurn(t *testing.T) {
	f := newFixture(t)
	f.llm.On(domain.CallPlanner, llm.Text(`{"action":"advance_stage","targetStage":3,"reasoning":"explored enough"}`))

	res, err := f.svc.HandleVoiceTurn(context.Background(), conversation.VoiceTurnInput{
		Stage:       domain.StageExploration,
		UserMessage: "I keep thinking I'm not good enough",
	})
	require.NoError(t, err)

	assert.Regexp(t, `^msg-\d+-[0-9a-f]{8}$`, res.MessageID)
	require.NotNil(t, res.NewStage)
	assert.Equal(t, domain.StageReframe, *res.NewStage)
	assert.Equal(t, "explored enough", res.Reasoning)
	assert.False(t, res.SessionComplete)
	assert.NotEmpty(t, res.BotMessage)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, conversation.ChannelVoice, f.events.events[0].Channel)

	sessions, err := f.sessions.ListSessionsByUser(context.Background(), "user-1", 0)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestGetSessionTimeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.HandleTurn(ctx, turn(domain.StageWarmup, "I feel okay"))
	require.NoError(t, err)

	sess, msgs, err := f.svc.GetSessionTimeline(ctx, "user-1", "session-1", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionID("session-1"), sess.ID)
	assert.Len(t, msgs, 2)

	_, _, err = f.svc.GetSessionTimeline(ctx, "intruder", "session-1", 0)
	assert.ErrorIs(t, err, domain.ErrSessionOwnership)

	_, _, err = f.svc.GetSessionTimeline(ctx, "user-1", "missing", 0)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestListUserSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, in := range []conversation.TurnInput{
		{UserID: "user-1", SessionID: "session-1", Stage: domain.StageWarmup, UserMessage: "hi"},
		{UserID: "user-1", SessionID: "session-2", Stage: domain.StageWarmup, UserMessage: "hello again"},
		{UserID: "user-2", SessionID: "session-3", Stage: domain.StageWarmup, UserMessage: "hey"},
	} {
		_, err := f.svc.HandleTurn(ctx, in)
		require.NoError(t, err)
	}

	sessions, err := f.svc.ListUserSessions(ctx, "user-1", 0)
	require.NoError(t, err)
	ids := make([]domain.SessionID, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []domain.SessionID{"session-1", "session-2"}, ids)

	sessions, err = f.svc.ListUserSessions(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	sessions, err = f.svc.ListUserSessions(ctx, "nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestToTurnMessages(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	got := conversation.ToTurnMessages([]*domain.Message{
		{ID: "a", Sender: domain.RoleUser, Body: "hi", CreatedAt: at},
		{ID: "b", Sender: domain.RoleBot, Body: "hello", CreatedAt: at},
	})

	want := []domain.TurnMessage{
		{ID: "a", Role: "user", Content: "hi", Timestamp: "2025-01-02T03:04:05Z"},
		{ID: "b", Role: "assistant", Content: "hello", Timestamp: "2025-01-02T03:04:05Z"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToTurnMessages() mismatch (-want +got):\n%s", diff)
	}
}

func stagePtr(s domain.Stage) *domain.Stage {
	return &s
}
