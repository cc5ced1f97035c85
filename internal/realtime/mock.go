package realtime

import (
	"context"
	"sync"
)

// MockProvider is an in-process provider used when no upstream key is
// configured, and by tests that need scriptable upstream behavior.
type MockProvider struct {
	mu      sync.Mutex
	streams map[string]*MockStream
	autoAck bool
}

func NewMockProvider() *MockProvider {
	return &MockProvider{streams: make(map[string]*MockStream), autoAck: true}
}

// NewScriptedProvider returns a provider that does not acknowledge the
// session configuration by itself; tests drive every event through Emit.
func NewScriptedProvider() *MockProvider {
	return &MockProvider{streams: make(map[string]*MockStream)}
}

func (p *MockProvider) StartSession(_ context.Context, cfg SessionConfig) (Stream, <-chan Event, error) {
	events := make(chan Event, 256)
	s := &MockStream{events: events, Config: cfg}
	p.mu.Lock()
	p.streams[cfg.SessionID] = s
	p.mu.Unlock()
	if p.autoAck {
		events <- Event{Type: EventConnected}
	}
	return s, events, nil
}

// Stream returns the stream opened for a session id so a test can drive it.
func (p *MockProvider) Stream(sessionID string) *MockStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streams[sessionID]
}

// MockStream records every control message and lets tests emit events.
type MockStream struct {
	mu     sync.Mutex
	events chan Event
	closed bool

	Config   SessionConfig
	Appended []string
	Commits  int
	Clears   int
	Creates  int
	Cancels  int
}

func (s *MockStream) AppendAudio(_ context.Context, audioBase64 string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.Appended = append(s.Appended, audioBase64)
	return nil
}

func (s *MockStream) Commit(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Commits++
	return nil
}

func (s *MockStream) ClearInput(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Clears++
	return nil
}

func (s *MockStream) CreateResponse(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Creates++
	return nil
}

func (s *MockStream) CancelResponse(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cancels++
	return nil
}

// Counts returns a race-safe snapshot of the recorded control messages:
// appends, commits, clears, creates, cancels.
func (s *MockStream) Counts() (int, int, int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Appended), s.Commits, s.Clears, s.Creates, s.Cancels
}

// AppendedAudio returns a copy of every audio payload appended so far.
func (s *MockStream) AppendedAudio() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Appended))
	copy(out, s.Appended)
	return out
}

// Emit pushes an upstream event into the stream's event channel.
func (s *MockStream) Emit(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- evt
}

func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

// Closed reports whether Close has been called.
func (s *MockStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
