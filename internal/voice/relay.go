package voice

import (
	"context"
	"errors"
	"sync"

	"github.com/mvirga/parlo/internal/observability"
	"github.com/mvirga/parlo/internal/realtime"
)

var (
	ErrSessionNotConnected = errors.New("session not connected to upstream")
	ErrReplyInFlight       = errors.New("tutor reply already in flight")
)

type link struct {
	stream    realtime.Stream
	connected bool
	inFlight  bool
}

// Relay owns the per-session upstream links. It enforces the single
// in-flight generation rule and mirrors upstream turn boundaries onto
// the link state.
type Relay struct {
	mu       sync.Mutex
	provider realtime.Provider
	metrics  *observability.Metrics
	links    map[string]*link
}

func NewRelay(provider realtime.Provider, metrics *observability.Metrics) *Relay {
	return &Relay{
		provider: provider,
		metrics:  metrics,
		links:    make(map[string]*link),
	}
}

// Open dials the upstream for a session and returns the translated event
// stream. The link pump marks the link connected on the configuration
// acknowledgment and requests the opening tutor greeting; it clears the
// in-flight flag when a reply finishes.
func (r *Relay) Open(ctx context.Context, cfg realtime.SessionConfig) (<-chan realtime.Event, error) {
	r.mu.Lock()
	if _, ok := r.links[cfg.SessionID]; ok {
		r.mu.Unlock()
		return nil, errors.New("relay link already open for session")
	}
	r.mu.Unlock()

	stream, events, err := r.provider.StartSession(ctx, cfg)
	if err != nil {
		return nil, err
	}

	l := &link{stream: stream}
	r.mu.Lock()
	r.links[cfg.SessionID] = l
	r.mu.Unlock()

	out := make(chan realtime.Event, 64)
	go r.pump(ctx, cfg.SessionID, l, events, out)
	return out, nil
}

func (r *Relay) pump(ctx context.Context, sessionID string, l *link, in <-chan realtime.Event, out chan<- realtime.Event) {
	defer close(out)
	for evt := range in {
		switch evt.Type {
		case realtime.EventConnected:
			r.mu.Lock()
			l.connected = true
			l.inFlight = true
			r.mu.Unlock()
			// Opening greeting: the tutor speaks first.
			if err := l.stream.CreateResponse(ctx); err != nil {
				r.mu.Lock()
				l.inFlight = false
				r.mu.Unlock()
				r.metrics.RelayErrors.WithLabelValues("greeting_failed").Inc()
			}
		case realtime.EventResponseDone:
			r.mu.Lock()
			l.inFlight = false
			r.mu.Unlock()
		case realtime.EventError:
			if evt.Fatal {
				r.mu.Lock()
				l.connected = false
				l.inFlight = false
				r.mu.Unlock()
			}
		}
		select {
		case out <- evt:
		case <-ctx.Done():
			return
		}
	}
}

// ForwardAudio relays one learner audio fragment upstream.
func (r *Relay) ForwardAudio(ctx context.Context, sessionID, audioBase64 string) error {
	l, err := r.connectedLink(sessionID)
	if err != nil {
		return err
	}
	return l.stream.AppendAudio(ctx, audioBase64)
}

// Commit finalizes the accumulated upstream input buffer for transcription.
func (r *Relay) Commit(ctx context.Context, sessionID string) error {
	l, err := r.connectedLink(sessionID)
	if err != nil {
		return err
	}
	return l.stream.Commit(ctx)
}

// Discard drops the uncommitted upstream input buffer.
func (r *Relay) Discard(ctx context.Context, sessionID string) error {
	l, err := r.connectedLink(sessionID)
	if err != nil {
		return err
	}
	return l.stream.ClearInput(ctx)
}

// Generate requests a tutor reply. At most one generation may be in
// flight per session; a second request is refused.
func (r *Relay) Generate(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	l, ok := r.links[sessionID]
	if !ok || !l.connected {
		r.mu.Unlock()
		return ErrSessionNotConnected
	}
	if l.inFlight {
		r.mu.Unlock()
		return ErrReplyInFlight
	}
	l.inFlight = true
	r.mu.Unlock()

	if err := l.stream.CreateResponse(ctx); err != nil {
		r.mu.Lock()
		l.inFlight = false
		r.mu.Unlock()
		return err
	}
	return nil
}

// Interrupt cancels the in-flight reply and discards uncommitted input,
// clearing the in-flight flag so the next turn is not blocked.
func (r *Relay) Interrupt(ctx context.Context, sessionID string) error {
	l, err := r.connectedLink(sessionID)
	if err != nil {
		return err
	}

	clearErr := l.stream.ClearInput(ctx)
	cancelErr := l.stream.CancelResponse(ctx)

	r.mu.Lock()
	l.inFlight = false
	r.mu.Unlock()

	if clearErr != nil {
		return clearErr
	}
	return cancelErr
}

// InFlight reports whether a tutor reply is currently being generated.
func (r *Relay) InFlight(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[sessionID]
	return ok && l.inFlight
}

// Connected reports whether the session has a live, configured upstream link.
func (r *Relay) Connected(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[sessionID]
	return ok && l.connected
}

// Close tears down the upstream link for a session. Idempotent.
func (r *Relay) Close(sessionID string) {
	r.mu.Lock()
	l, ok := r.links[sessionID]
	if ok {
		delete(r.links, sessionID)
	}
	r.mu.Unlock()
	if ok {
		_ = l.stream.Close()
	}
}

// ActiveLinks reports the number of open upstream links.
func (r *Relay) ActiveLinks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.links)
}

func (r *Relay) connectedLink(sessionID string) (*link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[sessionID]
	if !ok || !l.connected {
		return nil, ErrSessionNotConnected
	}
	return l, nil
}
