package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/PabloGalante/lotus-agent/internal/domain"
)

type SessionStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*domain.Session
	now      func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[domain.SessionID]*domain.Session),
		now:      time.Now,
	}
}

func (s *SessionStore) FindOrCreateSession(
	_ context.Context,
	userID domain.UserID,
	id domain.SessionID,
	therapy domain.TherapyType,
) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		if sess.UserID != userID {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionOwnership, id)
		}
		return clone(sess), nil
	}

	if therapy == "" {
		therapy = domain.TherapyCBT
	}
	now := s.now()
	sess := &domain.Session{
		ID:          id,
		UserID:      userID,
		Stage:       domain.FirstStage,
		TherapyType: therapy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.sessions[id] = sess
	return clone(sess), nil
}

func (s *SessionStore) GetSession(_ context.Context, id domain.SessionID) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return clone(sess), nil
}

func (s *SessionStore) UpdateSessionStage(
	_ context.Context,
	id domain.SessionID,
	stage domain.Stage,
	complete bool,
	at time.Time,
) error {
	if err := domain.ValidateStage(stage); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}

	sess.Stage = stage
	sess.IsComplete = complete
	sess.UpdatedAt = at
	if complete && sess.EndedAt == nil {
		ended := at
		sess.EndedAt = &ended
	}
	return nil
}

// ListSessionsByUser returns the user's sessions, newest first.
func (s *SessionStore) ListSessionsByUser(_ context.Context, userID domain.UserID, limit int) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			result = append(result, clone(sess))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// clone keeps callers from mutating stored sessions.
func clone(sess *domain.Session) *domain.Session {
	out := *sess
	if sess.EndedAt != nil {
		ended := *sess.EndedAt
		out.EndedAt = &ended
	}
	return &out
}
