package session

import (
	"errors"
	"sync"
	"time"

	"github.com/mvirga/parlo/internal/cefr"
)

// State is a session lifecycle position. Transitions only move forward:
// Connecting -> Connected -> {Disconnected, Error} -> Closed.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
	StateClosed       State = "closed"
)

// Mode distinguishes an open-ended practice chat from a placement test.
type Mode string

const (
	ModeFreePractice  Mode = "free-practice"
	ModePlacementTest Mode = "placement-test"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrDuplicateSession = errors.New("session id already live")
	ErrBadTransition    = errors.New("invalid session state transition")
)

// Session is the live per-session record owned by the Registry.
type Session struct {
	ID          string     `json:"session_id"`
	PrincipalID string     `json:"principal_id"`
	Language    string     `json:"language"`
	Level       cefr.Level `json:"level"`
	Mode        Mode       `json:"mode"`
	State       State      `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`

	// Ephemeral per-session counters; not serialized.
	audioSeq        int
	speechStartedMS int64
}

// Params carries the caller-supplied fields for Open.
type Params struct {
	PrincipalID string
	Language    string
	Level       cefr.Level
	Mode        Mode
}

// Registry maintains the bidirectional connection <-> session mapping and
// the ephemeral state of every live session.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	byConn    map[string]string
	bySession map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		byConn:    make(map[string]string),
		bySession: make(map[string]string),
	}
}

// Open registers a new live session bound to a connection handle. The
// session starts in StateConnecting. A session id that is already live is
// rejected with ErrDuplicateSession.
func (r *Registry) Open(sessionID, connID string, p Params) (*Session, error) {
	mode := p.Mode
	if mode == "" {
		mode = ModeFreePractice
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; ok {
		return nil, ErrDuplicateSession
	}
	s := &Session{
		ID:          sessionID,
		PrincipalID: p.PrincipalID,
		Language:    p.Language,
		Level:       p.Level,
		Mode:        mode,
		State:       StateConnecting,
		CreatedAt:   time.Now().UTC(),
	}
	r.sessions[sessionID] = s
	r.byConn[connID] = sessionID
	r.bySession[sessionID] = connID
	return clone(s), nil
}

// ByConn resolves the session id bound to a connection handle.
func (r *Registry) ByConn(connID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byConn[connID]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

// BySession resolves the connection handle bound to a session id.
func (r *Registry) BySession(sessionID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.bySession[sessionID]
	if !ok {
		return "", ErrNotFound
	}
	return conn, nil
}

func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// SetState advances the session lifecycle. Re-entering StateConnecting is
// rejected: a dropped session must be restarted under a new id.
func (r *Registry) SetState(sessionID string, next State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if next == StateConnecting && s.State != StateConnecting {
		return ErrBadTransition
	}
	s.State = next
	return nil
}

func (r *Registry) State(sessionID string) (State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return "", ErrNotFound
	}
	return s.State, nil
}

// SetLevel updates the session's working level (used when a start request
// omitted one and a later source supplies it).
func (r *Registry) SetLevel(sessionID string, l cefr.Level) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Level = l
	return nil
}

// NextAudioSeq returns the next inbound audio sequence number for a session.
func (r *Registry) NextAudioSeq(sessionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return 0, ErrNotFound
	}
	s.audioSeq++
	return s.audioSeq, nil
}

// MarkSpeechStart records the timestamp of a detected speech onset.
func (r *Registry) MarkSpeechStart(sessionID string, tsMS int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.speechStartedMS = tsMS
	return nil
}

// TakeSpeechStart returns and clears the recorded speech-onset marker.
func (r *Registry) TakeSpeechStart(sessionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return 0, ErrNotFound
	}
	ts := s.speechStartedMS
	s.speechStartedMS = 0
	return ts, nil
}

// Close removes the session and both directions of the connection mapping.
// Closing an unknown or already-closed session is a no-op: teardown can be
// triggered by an explicit stop and a late disconnect for the same id.
func (r *Registry) Close(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	s.State = StateClosed
	if conn, ok := r.bySession[sessionID]; ok {
		delete(r.byConn, conn)
	}
	delete(r.bySession, sessionID)
	delete(r.sessions, sessionID)
}

// ActiveCount reports the number of live sessions.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
