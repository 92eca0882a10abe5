package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/PabloGalante/lotus-agent/internal/domain"
)

func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	if msg == nil || msg.SessionID == "" {
		return fmt.Errorf("append message: missing session")
	}
	if msg.ID == "" {
		msg.ID = domain.MessageID(uuid.NewString())
	}

	var payload any
	if msg.Payload != nil {
		raw, err := json.Marshal(msg.Payload)
		if err != nil {
			return fmt.Errorf("encode llm_payload: %w", err)
		}
		payload = string(raw)
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO lotus_messages (id, session_id, sender, body, llm_payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`),
		string(msg.ID), string(msg.SessionID), string(msg.Sender), msg.Body, payload, s.timeArg(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return nil
}

// GetMessagesBySession returns the last `limit` messages, oldest first.
func (s *Store) GetMessagesBySession(ctx context.Context, sessionID domain.SessionID, limit int) ([]*domain.Message, error) {
	query := `SELECT id, sender, body, llm_payload, created_at FROM lotus_messages WHERE session_id = $1 ORDER BY created_at DESC, ` +
		s.seqColumn() + ` DESC`
	args := []any{string(sessionID)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		var (
			id, sender, body string
			payload          []byte
			created          scanTime
		)
		if err := rows.Scan(&id, &sender, &body, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		msg := &domain.Message{
			ID:        domain.MessageID(id),
			SessionID: sessionID,
			Sender:    domain.Role(sender),
			Body:      body,
			CreatedAt: created.Time,
		}
		if len(payload) > 0 {
			var p domain.MessagePayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return nil, fmt.Errorf("decode llm_payload of %s: %w", id, err)
			}
			msg.Payload = &p
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(out)
	return out, nil
}
