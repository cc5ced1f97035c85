package records

import (
	"context"
	"sync"
)

// InMemoryStore keeps records in process memory for local/dev use and
// tests. It enforces the same finalize-once contract as PostgresStore.
type InMemoryStore struct {
	mu         sync.RWMutex
	practice   map[string]PracticeRecord
	placements map[string]PlacementResult
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		practice:   make(map[string]PracticeRecord),
		placements: make(map[string]PlacementResult),
	}
}

func (s *InMemoryStore) CreatePracticeRecord(_ context.Context, rec PracticeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.practice[rec.SessionID]; ok {
		return nil
	}
	s.practice[rec.SessionID] = rec
	return nil
}

func (s *InMemoryStore) GetPracticeRecord(_ context.Context, sessionID string) (*PracticeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.practice[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec
	return &out, nil
}

func (s *InMemoryStore) FinalizePracticeRecord(_ context.Context, rec PracticeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.practice[rec.SessionID]
	if !ok {
		return ErrNotFound
	}
	if existing.Completed {
		return ErrAlreadyCompleted
	}
	rec.Completed = true
	s.practice[rec.SessionID] = rec
	return nil
}

func (s *InMemoryStore) SavePlacementResult(_ context.Context, res PlacementResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placements[placementKey(res.PrincipalID, res.Language)] = res
	return nil
}

func (s *InMemoryStore) GetPlacementResult(_ context.Context, principalID, language string) (*PlacementResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.placements[placementKey(principalID, language)]
	if !ok {
		return nil, ErrNotFound
	}
	out := res
	return &out, nil
}

func (s *InMemoryStore) Close() error { return nil }

func placementKey(principalID, language string) string {
	return principalID + "|" + language
}
