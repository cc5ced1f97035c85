package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mvirga/parlo/internal/cefr"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeStart             MessageType = "start"
	TypeAudioChunk        MessageType = "audio_chunk"
	TypeStop              MessageType = "stop"
	TypeInterrupt         MessageType = "interrupt"
	TypeSessionStarted    MessageType = "session_started"
	TypeSpeechStarted     MessageType = "speech_started"
	TypeSpeechStopped     MessageType = "speech_stopped"
	TypeTranscriptPartial MessageType = "transcript_partial"
	TypeTranscriptFinal   MessageType = "transcript_final"
	TypeTutorAudioChunk   MessageType = "tutor_audio_chunk"
	TypeReplyComplete     MessageType = "reply_complete"
	TypeSessionCompleted  MessageType = "session_completed"
	TypeErrorEvent        MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Start opens a practice session on this connection.
type Start struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	PrincipalID string      `json:"principal_id"`
	Language    string      `json:"language"`
	Level       string      `json:"level,omitempty"`
	Mode        string      `json:"mode,omitempty"`
}

// AudioChunk carries one fragment of learner audio.
type AudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	AudioBase64 string      `json:"audio_base64"`
	TSMs        int64       `json:"ts_ms"`
}

type Stop struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type Interrupt struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type SessionStarted struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Language  string      `json:"language"`
	Level     string      `json:"level"`
	Mode      string      `json:"mode"`
}

type SpeechStarted struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TSMs      int64       `json:"ts_ms"`
}

type SpeechStopped struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TSMs      int64       `json:"ts_ms"`
}

type TranscriptPartial struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Role      string      `json:"role"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

type TranscriptFinal struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Role      string      `json:"role"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

type TutorAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	AudioBase64 string      `json:"audio_base64"`
}

type ReplyComplete struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

// SessionCompleted carries the finalized assessment summary.
type SessionCompleted struct {
	Type             MessageType `json:"type"`
	SessionID        string      `json:"session_id"`
	Level            string      `json:"level"`
	MeanScore        float64     `json:"mean_score"`
	RecommendedLevel string      `json:"recommended_level"`
	FluencyRatio     float64     `json:"fluency_ratio"`
	DurationSeconds  float64     `json:"duration_seconds"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates one caller frame.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeStart:
		var msg Start
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PrincipalID == "" || msg.Language == "" {
			return nil, errors.New("invalid start")
		}
		if msg.Level != "" {
			if _, err := cefr.Parse(msg.Level); err != nil {
				return nil, fmt.Errorf("invalid start: %w", err)
			}
		}
		return msg, nil
	case TypeAudioChunk:
		var msg AudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.AudioBase64 == "" {
			return nil, errors.New("invalid audio_chunk")
		}
		return msg, nil
	case TypeStop:
		var msg Stop
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid stop")
		}
		return msg, nil
	case TypeInterrupt:
		var msg Interrupt
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid interrupt")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
