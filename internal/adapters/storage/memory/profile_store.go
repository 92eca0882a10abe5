package memory

import (
	"context"
	"sync"

	"github.com/PabloGalante/lotus-agent/internal/domain"
)

// ProfileStore is the in-memory stand-in for the profiles table.
type ProfileStore struct {
	mu  sync.RWMutex
	ids map[domain.UserID]struct{}
}

func NewProfileStore(ids ...domain.UserID) *ProfileStore {
	s := &ProfileStore{ids: make(map[domain.UserID]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

func (s *ProfileStore) AddProfile(id domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

func (s *ProfileStore) ProfileExists(_ context.Context, userID domain.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[userID]
	return ok, nil
}
