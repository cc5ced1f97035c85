package realtime

import "context"

// EventType enumerates the internal vocabulary upstream events are
// translated into.
type EventType string

const (
	// EventConnected signals the upstream accepted the session configuration.
	EventConnected       EventType = "connected"
	EventSpeechStarted   EventType = "speech_started"
	EventSpeechStopped   EventType = "speech_stopped"
	EventTranscriptDelta EventType = "transcript_delta"
	EventTranscriptDone  EventType = "transcript_done"
	EventAudioDelta      EventType = "audio_delta"
	EventResponseDone    EventType = "response_done"
	EventError           EventType = "error"
)

const (
	RoleLearner = "learner"
	RoleTutor   = "tutor"
)

// Event is one translated upstream event.
type Event struct {
	Type        EventType
	Role        string
	Text        string
	AudioBase64 string
	Code        string
	Detail      string
	Retryable   bool
	// Fatal marks errors that indicate the upstream connection itself is
	// gone; they force session teardown.
	Fatal     bool
	Timestamp int64
}

// SessionConfig is the one-shot configuration sent at connect time.
type SessionConfig struct {
	SessionID          string
	Voice              string
	Instructions       string
	InputAudioFormat   string
	OutputAudioFormat  string
	TranscriptionModel string
	Modalities         []string
	VADThreshold       float64
	SilenceDurationMS  int
	Temperature        float64
}

// Stream is one live upstream connection for a single session.
type Stream interface {
	AppendAudio(ctx context.Context, audioBase64 string) error
	Commit(ctx context.Context) error
	ClearInput(ctx context.Context) error
	CreateResponse(ctx context.Context) error
	CancelResponse(ctx context.Context) error
	Close() error
}

// Provider opens upstream streaming connections.
type Provider interface {
	StartSession(ctx context.Context, cfg SessionConfig) (Stream, <-chan Event, error)
}
