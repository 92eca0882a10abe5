package domain

import (
	"context"
	"time"
)

// JournalEntryID identifies a journal entry
type JournalEntryID string

// JournalEntry is the long-term record written when a session completes.
type JournalEntry struct {
	ID          JournalEntryID `json:"id"`
	SessionID   SessionID      `json:"session_id"`
	UserID      UserID         `json:"user_id"`
	TherapyType TherapyType    `json:"therapy_type"`

	CreatedAt time.Time `json:"created_at"`

	// Summary is the planner's reasoning for closing the session.
	Summary string `json:"summary"`

	// Reflection is the closing reply the user received.
	Reflection string `json:"reflection"`

	FinalStage Stage `json:"final_stage"`
}

// JournalStore defines the minimum operations to persist the journal
type JournalStore interface {
	AppendJournalEntry(ctx context.Context, entry *JournalEntry) error
	ListJournalEntriesByUser(ctx context.Context, userID UserID, limit int) ([]*JournalEntry, error)
}
