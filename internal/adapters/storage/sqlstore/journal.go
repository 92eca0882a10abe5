package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/PabloGalante/lotus-agent/internal/domain"
)

func (s *Store) AppendJournalEntry(ctx context.Context, entry *domain.JournalEntry) error {
	if entry == nil {
		return nil
	}
	if entry.ID == "" {
		entry.ID = domain.JournalEntryID(uuid.NewString())
	}
	stage := entry.FinalStage
	if !stage.Valid() {
		stage = domain.FinalStage
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO lotus_journal (id, session_id, user_id, therapy_type, summary, reflection, final_stage, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`),
		string(entry.ID), string(entry.SessionID), string(entry.UserID), string(entry.TherapyType),
		entry.Summary, entry.Reflection, stage.Code(), s.timeArg(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// ListJournalEntriesByUser returns the last `limit` entries, oldest first.
func (s *Store) ListJournalEntriesByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.JournalEntry, error) {
	query := `SELECT id, session_id, therapy_type, summary, reflection, final_stage, created_at
		FROM lotus_journal WHERE user_id = $1 ORDER BY created_at DESC`
	args := []any{string(userID)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list journal for %s: %w", userID, err)
	}
	defer rows.Close()

	out := []*domain.JournalEntry{}
	for rows.Next() {
		var (
			id, sessionID, therapy, summary, reflection, code string
			created                                           scanTime
		)
		if err := rows.Scan(&id, &sessionID, &therapy, &summary, &reflection, &code, &created); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		stage, err := domain.ParseStageCode(code)
		if err != nil {
			return nil, err
		}
		out = append(out, &domain.JournalEntry{
			ID:          domain.JournalEntryID(id),
			SessionID:   domain.SessionID(sessionID),
			UserID:      userID,
			TherapyType: domain.TherapyType(therapy),
			CreatedAt:   created.Time,
			Summary:     summary,
			Reflection:  reflection,
			FinalStage:  stage,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(out)
	return out, nil
}

func (s *Store) ProfileExists(ctx context.Context, userID domain.UserID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM profiles WHERE id = $1`), string(userID)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("profile lookup %s: %w", userID, err)
	}
	return true, nil
}

// AddProfile registers a profile id; used by local setups and tests.
func (s *Store) AddProfile(ctx context.Context, userID domain.UserID) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO profiles (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`), string(userID))
	if err != nil {
		return fmt.Errorf("insert profile %s: %w", userID, err)
	}
	return nil
}
