package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/lotus-agent/internal/domain"
)

type Store struct {
	client *firestore.Client
}

// NewStore creates a Firestore store.
// Uses the project passed (LOTUS_GCP_PROJECT).
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) sessionsCol() *firestore.CollectionRef {
	return s.client.Collection("sessions")
}

func (s *Store) sessionDoc(id domain.SessionID) *firestore.DocumentRef {
	return s.sessionsCol().Doc(string(id))
}

func (s *Store) messagesCol(sessionID domain.SessionID) *firestore.CollectionRef {
	return s.sessionDoc(sessionID).Collection("messages")
}

func (s *Store) profileDoc(id domain.UserID) *firestore.DocumentRef {
	return s.client.Collection("profiles").Doc(string(id))
}

func (s *Store) journalCol() *firestore.CollectionRef {
	return s.client.Collection("journal")
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type sessionDoc struct {
	UserID      string     `firestore:"user_id"`
	Stage       string     `firestore:"stage"`
	TherapyType string     `firestore:"therapy_type"`
	IsComplete  bool       `firestore:"is_complete"`
	VoiceMode   bool       `firestore:"voice_mode"`
	StartedAt   time.Time  `firestore:"started_at"`
	UpdatedAt   time.Time  `firestore:"updated_at"`
	EndedAt     *time.Time `firestore:"ended_at"`
}

func (d sessionDoc) toDomain(id domain.SessionID) (*domain.Session, error) {
	stage, err := domain.ParseStageCode(d.Stage)
	if err != nil {
		return nil, err
	}
	return &domain.Session{
		ID:          id,
		UserID:      domain.UserID(d.UserID),
		Stage:       stage,
		TherapyType: domain.TherapyType(d.TherapyType),
		IsComplete:  d.IsComplete,
		VoiceMode:   d.VoiceMode,
		CreatedAt:   d.StartedAt,
		UpdatedAt:   d.UpdatedAt,
		EndedAt:     d.EndedAt,
	}, nil
}

type messageDoc struct {
	SessionID  string    `firestore:"session_id"`
	Sender     string    `firestore:"sender"`
	Body       string    `firestore:"body"`
	LLMPayload string    `firestore:"llm_payload,omitempty"`
	CreatedAt  time.Time `firestore:"created_at"`
}

type journalDoc struct {
	SessionID   string    `firestore:"session_id"`
	UserID      string    `firestore:"user_id"`
	TherapyType string    `firestore:"therapy_type"`
	Summary     string    `firestore:"summary"`
	Reflection  string    `firestore:"reflection"`
	FinalStage  string    `firestore:"final_stage"`
	CreatedAt   time.Time `firestore:"created_at"`
}

// ─────────────────────────────────────────
// SessionStore implementation
// ─────────────────────────────────────────

// FindOrCreateSession reads and creates inside one transaction so two
// first turns for the same id agree on the stored session.
func (s *Store) FindOrCreateSession(
	ctx context.Context,
	userID domain.UserID,
	id domain.SessionID,
	therapy domain.TherapyType,
) (*domain.Session, error) {
	if therapy == "" {
		therapy = domain.TherapyCBT
	}

	var doc sessionDoc
	ref := s.sessionDoc(id)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err == nil {
			return snap.DataTo(&doc)
		}
		if !isNotFound(err) {
			return err
		}

		now := time.Now().UTC()
		doc = sessionDoc{
			UserID:      string(userID),
			Stage:       domain.FirstStage.Code(),
			TherapyType: string(therapy),
			StartedAt:   now,
			UpdatedAt:   now,
		}
		return tx.Create(ref, doc)
	})
	if err != nil {
		return nil, fmt.Errorf("firestore FindOrCreateSession: %w", err)
	}

	if doc.UserID != string(userID) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionOwnership, id)
	}
	return doc.toDomain(id)
}

func (s *Store) GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	snap, err := s.sessionDoc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("firestore GetSession: %w", err)
	}

	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore GetSession decode: %w", err)
	}
	return doc.toDomain(id)
}

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

	ref := s.sessionDoc(id)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc sessionDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}

		updates := []firestore.Update{
			{Path: "stage", Value: stage.Code()},
			{Path: "is_complete", Value: complete},
			{Path: "updated_at", Value: at.UTC()},
		}
		if complete && doc.EndedAt == nil {
			updates = append(updates, firestore.Update{Path: "ended_at", Value: at.UTC()})
		}
		return tx.Update(ref, updates)
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
		}
		return fmt.Errorf("firestore UpdateSessionStage: %w", err)
	}
	return nil
}

func (s *Store) ListSessionsByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.Session, error) {
	q := s.sessionsCol().Where("user_id", "==", string(userID)).OrderBy("started_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*domain.Session
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore ListSessionsByUser: %w", err)
		}

		var doc sessionDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode sessionDoc: %w", err)
		}
		sess, err := doc.toDomain(domain.SessionID(snap.Ref.ID))
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// ─────────────────────────────────────────
// MessageStore implementation
// ─────────────────────────────────────────

func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = domain.MessageID(uuid.NewString())
	}

	doc := messageDoc{
		SessionID: string(msg.SessionID),
		Sender:    string(msg.Sender),
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt.UTC(),
	}
	if msg.Payload != nil {
		raw, err := json.Marshal(msg.Payload)
		if err != nil {
			return fmt.Errorf("firestore AppendMessage payload: %w", err)
		}
		doc.LLMPayload = string(raw)
	}

	// Create keeps messages append-only.
	if _, err := s.messagesCol(msg.SessionID).Doc(string(msg.ID)).Create(ctx, doc); err != nil {
		return fmt.Errorf("firestore AppendMessage: %w", err)
	}
	return nil
}

// GetMessagesBySession returns the last `limit` messages, oldest first.
func (s *Store) GetMessagesBySession(ctx context.Context, sessionID domain.SessionID, limit int) ([]*domain.Message, error) {
	q := s.messagesCol(sessionID).OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*domain.Message
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore GetMessagesBySession: %w", err)
		}

		var doc messageDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode messageDoc: %w", err)
		}

		msg := &domain.Message{
			ID:        domain.MessageID(snap.Ref.ID),
			SessionID: sessionID,
			Sender:    domain.Role(doc.Sender),
			Body:      doc.Body,
			CreatedAt: doc.CreatedAt,
		}
		if doc.LLMPayload != "" {
			var p domain.MessagePayload
			if err := json.Unmarshal([]byte(doc.LLMPayload), &p); err != nil {
				return nil, fmt.Errorf("decode llm_payload: %w", err)
			}
			msg.Payload = &p
		}
		out = append(out, msg)
	}

	slices.Reverse(out)
	return out, nil
}

// ─────────────────────────────────────────
// ProfileStore and JournalStore implementation
// ─────────────────────────────────────────

func (s *Store) ProfileExists(ctx context.Context, userID domain.UserID) (bool, error) {
	_, err := s.profileDoc(userID).Get(ctx)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("firestore ProfileExists: %w", err)
}

func (s *Store) AppendJournalEntry(ctx context.Context, entry *domain.JournalEntry) error {
	if entry == nil {
		return nil
	}
	if entry.ID == "" {
		entry.ID = domain.JournalEntryID(uuid.NewString())
	}

	doc := journalDoc{
		SessionID:   string(entry.SessionID),
		UserID:      string(entry.UserID),
		TherapyType: string(entry.TherapyType),
		Summary:     entry.Summary,
		Reflection:  entry.Reflection,
		FinalStage:  entry.FinalStage.Code(),
		CreatedAt:   entry.CreatedAt.UTC(),
	}
	if _, err := s.journalCol().Doc(string(entry.ID)).Set(ctx, doc); err != nil {
		return fmt.Errorf("firestore AppendJournalEntry: %w", err)
	}
	return nil
}

func (s *Store) ListJournalEntriesByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.JournalEntry, error) {
	q := s.journalCol().Where("user_id", "==", string(userID)).OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	out := []*domain.JournalEntry{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore ListJournalEntriesByUser: %w", err)
		}

		var doc journalDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode journalDoc: %w", err)
		}
		stage, err := domain.ParseStageCode(doc.FinalStage)
		if err != nil {
			stage = domain.FinalStage
		}
		out = append(out, &domain.JournalEntry{
			ID:          domain.JournalEntryID(snap.Ref.ID),
			SessionID:   domain.SessionID(doc.SessionID),
			UserID:      domain.UserID(doc.UserID),
			TherapyType: domain.TherapyType(doc.TherapyType),
			CreatedAt:   doc.CreatedAt,
			Summary:     doc.Summary,
			Reflection:  doc.Reflection,
			FinalStage:  stage,
		})
	}

	slices.Reverse(out)
	return out, nil
}
