package transcript

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is an in-process store for local/dev use and tests. It
// honors the same TTL contract as the redis store via lazy expiry.
type InMemoryStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	messages map[string][]Message
	segments map[string][]AudioSegment
	touched  map[string]time.Time
}

func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &InMemoryStore{
		ttl:      ttl,
		messages: make(map[string][]Message),
		segments: make(map[string][]AudioSegment),
		touched:  make(map[string]time.Time),
	}
}

func (s *InMemoryStore) AppendMessage(_ context.Context, sessionID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(sessionID)
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	s.touched[sessionID] = time.Now()
	return nil
}

func (s *InMemoryStore) AppendAudioSegment(_ context.Context, sessionID string, seg AudioSegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(sessionID)
	s.segments[sessionID] = append(s.segments[sessionID], seg)
	s.touched[sessionID] = time.Now()
	return nil
}

func (s *InMemoryStore) Messages(_ context.Context, sessionID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(sessionID)
	out := make([]Message, len(s.messages[sessionID]))
	copy(out, s.messages[sessionID])
	return out, nil
}

func (s *InMemoryStore) AudioSegments(_ context.Context, sessionID string) ([]AudioSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(sessionID)
	out := make([]AudioSegment, len(s.segments[sessionID]))
	copy(out, s.segments[sessionID])
	return out, nil
}

func (s *InMemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(sessionID)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) expireLocked(sessionID string) {
	at, ok := s.touched[sessionID]
	if !ok {
		return
	}
	if time.Since(at) >= s.ttl {
		s.dropLocked(sessionID)
	}
}

func (s *InMemoryStore) dropLocked(sessionID string) {
	delete(s.messages, sessionID)
	delete(s.segments, sessionID)
	delete(s.touched, sessionID)
}
