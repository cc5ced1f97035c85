package transcript

import "context"

// Role tags a transcript message with its speaker.
type Role string

const (
	RoleLearner Role = "learner"
	RoleTutor   Role = "tutor"
)

// Message is one role-tagged transcript entry. Messages are append-only;
// arrival order is the transcript order.
type Message struct {
	Role        Role   `json:"role"`
	Text        string `json:"text"`
	AudioBase64 string `json:"audio_base64,omitempty"`
	TimestampMS int64  `json:"ts_ms"`
}

// AudioSegment is one flushed batch of raw learner audio.
type AudioSegment struct {
	AudioBase64 string `json:"audio_base64"`
	TimestampMS int64  `json:"ts_ms"`
}

// Store holds in-progress session transcripts in a transient keyspace.
// Entries expire after the configured TTL unless cleared at completion.
type Store interface {
	AppendMessage(ctx context.Context, sessionID string, msg Message) error
	AppendAudioSegment(ctx context.Context, sessionID string, seg AudioSegment) error
	Messages(ctx context.Context, sessionID string) ([]Message, error)
	AudioSegments(ctx context.Context, sessionID string) ([]AudioSegment, error)
	Clear(ctx context.Context, sessionID string) error
	Close() error
}
