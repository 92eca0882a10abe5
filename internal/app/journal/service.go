package journal

import (
	"context"

	"github.com/PabloGalante/lotus-agent/internal/domain"
	"github.com/PabloGalante/lotus-agent/internal/observability"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Service holds the logic of reading journal entries
type Service struct {
	store domain.JournalStore
}

// NewService creates a journal service from a JournalStore
func NewService(store domain.JournalStore) *Service {
	return &Service{
		store: store,
	}
}

// GetUserJournal returns the last `limit` journal entries for a user.
// limit <= 0 uses the default; larger values are capped.
func (s *Service) GetUserJournal(
	ctx context.Context,
	userID domain.UserID,
	limit int,
) ([]*domain.JournalEntry, error) {
	if s == nil || s.store == nil {
		return []*domain.JournalEntry{}, nil
	}

	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	entries, err := s.store.ListJournalEntriesByUser(ctx, userID, limit)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("failed to list journal", "user_id", userID, "error", err)
		return nil, err
	}
	return entries, nil
}
