package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/lotus-agent/internal/domain"
)

// JournalTool uses a domain.JournalStore to record how a session closed.
type JournalTool struct {
	store domain.JournalStore
	now   func() time.Time
}

// NewJournalTool creates a new JournalTool.
// store can be an in-memory, SQL or Firestore implementation.
func NewJournalTool(store domain.JournalStore) *JournalTool {
	return &JournalTool{
		store: store,
		now:   time.Now,
	}
}

func (t *JournalTool) Name() string {
	return "journal_store"
}

// Call expects an input with this shape:
//
//	{
//	  "summary": "User reframed 'I always fail' into ...",
//	  "reflection": "Thank you for sharing so openly today...",
//	  "therapy_type": "cbt",
//	  "final_stage": 5
//	}
//
// UserID and SessionID come in ToolContext.
func (t *JournalTool) Call(
	ctx context.Context,
	tctx ToolContext,
	input map[string]any,
) (map[string]any, error) {
	if tctx.UserID == "" || tctx.SessionID == "" {
		return nil, fmt.Errorf("journal_store: missing UserID or SessionID in ToolContext")
	}

	reflection := getString(input, "reflection")
	if reflection == "" {
		return nil, fmt.Errorf("journal_store: reflection is required")
	}

	therapy := domain.TherapyType(getString(input, "therapy_type"))
	if therapy == "" {
		therapy = domain.TherapyCBT
	}

	entry := &domain.JournalEntry{
		ID:          domain.JournalEntryID(uuid.NewString()),
		SessionID:   domain.SessionID(tctx.SessionID),
		UserID:      domain.UserID(tctx.UserID),
		TherapyType: therapy,
		CreatedAt:   t.now(),
		Summary:     getString(input, "summary"),
		Reflection:  reflection,
		FinalStage:  getStage(input, "final_stage"),
	}

	if err := t.store.AppendJournalEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("journal_store: append failed: %w", err)
	}

	return map[string]any{
		"status":      "ok",
		"entry_id":    string(entry.ID),
		"session_id":  string(entry.SessionID),
		"user_id":     string(entry.UserID),
		"created_at":  entry.CreatedAt,
		"final_stage": int(entry.FinalStage),
	}, nil
}

func getString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// getStage accepts the int-ish values a map may carry; anything else is the
// final stage, since the tool only runs for completed sessions.
func getStage(m map[string]any, key string) domain.Stage {
	switch v := m[key].(type) {
	case domain.Stage:
		return v
	case int:
		return domain.Stage(v)
	case float64:
		return domain.Stage(int(v))
	default:
		return domain.FinalStage
	}
}
