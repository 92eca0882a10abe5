package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/PabloGalante/lotus-agent/internal/domain"
)

const sessionColumns = `id, user_id, stage, therapy_type, is_complete, voice_mode, started_at, updated_at, ended_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		sess                      domain.Session
		id, userID, code, therapy string
		started, updated, ended   scanTime
	)
	if err := row.Scan(&id, &userID, &code, &therapy, &sess.IsComplete, &sess.VoiceMode, &started, &updated, &ended); err != nil {
		return nil, err
	}
	stage, err := domain.ParseStageCode(code)
	if err != nil {
		return nil, err
	}

	sess.ID = domain.SessionID(id)
	sess.UserID = domain.UserID(userID)
	sess.Stage = stage
	sess.TherapyType = domain.TherapyType(therapy)
	sess.CreatedAt = started.Time
	sess.UpdatedAt = updated.Time
	sess.EndedAt = ended.ptr()
	return &sess, nil
}

// FindOrCreateSession inserts the session unless the id exists, then reads
// it back. Concurrent first turns for one id end up with the same row.
func (s *Store) FindOrCreateSession(
	ctx context.Context,
	userID domain.UserID,
	id domain.SessionID,
	therapy domain.TherapyType,
) (*domain.Session, error) {
	if therapy == "" {
		therapy = domain.TherapyCBT
	}
	now := time.Now()

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO lotus_sessions (id, user_id, stage, therapy_type, is_complete, voice_mode, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`),
		string(id), string(userID), domain.FirstStage.Code(), string(therapy), false, false,
		s.timeArg(now), s.timeArg(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session %s: %w", id, err)
	}

	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionOwnership, id)
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+sessionColumns+` FROM lotus_sessions WHERE id = $1`), string(id))
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return sess, nil
}

// UpdateSessionStage keeps the first ended_at once a session completes.
func (s *Store) UpdateSessionStage(
	ctx context.Context,
	id domain.SessionID,
	stage domain.Stage,
	complete bool,
	at time.Time,
) error {
	if err := domain.ValidateStage(stage); err != nil {
		return err
	}

	var ended any
	if complete {
		ended = s.timeArg(at)
	}

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE lotus_sessions
		SET stage = $1, is_complete = $2, updated_at = $3, ended_at = COALESCE(ended_at, $4)
		WHERE id = $5`),
		stage.Code(), complete, s.timeArg(at), ended, string(id),
	)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return nil
}

// ListSessionsByUser returns the user's sessions, newest first.
func (s *Store) ListSessionsByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM lotus_sessions WHERE user_id = $1 ORDER BY started_at DESC`
	args := []any{string(userID)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
