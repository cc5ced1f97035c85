package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mvirga/parlo/internal/reliability"
)

type OpenAIConfig struct {
	APIKey    string
	WSBaseURL string
	Model     string
}

// OpenAIProvider speaks the OpenAI realtime websocket protocol.
type OpenAIProvider struct {
	cfg OpenAIConfig
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.openai.com"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-realtime-preview"
	}
	return &OpenAIProvider{cfg: cfg}
}

func (p *OpenAIProvider) StartSession(ctx context.Context, cfg SessionConfig) (Stream, <-chan Event, error) {
	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/realtime")
	if err != nil {
		return nil, nil, err
	}
	q := u.Query()
	q.Set("model", p.cfg.Model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+p.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, nil, fmt.Errorf("dial realtime websocket: %w", err)
	}

	events := make(chan Event, 256)
	s := &openAIStream{conn: conn, events: events}

	if err := s.writeJSON(sessionUpdatePayload(cfg)); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("send session configuration: %w", err)
	}

	go s.readLoop()
	return s, events, nil
}

func sessionUpdatePayload(cfg SessionConfig) map[string]any {
	voice := cfg.Voice
	if voice == "" {
		voice = "alloy"
	}
	inFormat := cfg.InputAudioFormat
	if inFormat == "" {
		inFormat = "pcm16"
	}
	outFormat := cfg.OutputAudioFormat
	if outFormat == "" {
		outFormat = "pcm16"
	}
	transcriptionModel := cfg.TranscriptionModel
	if transcriptionModel == "" {
		transcriptionModel = "whisper-1"
	}
	modalities := cfg.Modalities
	if len(modalities) == 0 {
		modalities = []string{"audio", "text"}
	}
	threshold := cfg.VADThreshold
	if threshold <= 0 {
		threshold = 0.5
	}
	silenceMS := cfg.SilenceDurationMS
	if silenceMS <= 0 {
		silenceMS = 500
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = 0.8
	}

	return map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"voice":               voice,
			"instructions":        cfg.Instructions,
			"input_audio_format":  inFormat,
			"output_audio_format": outFormat,
			"modalities":          modalities,
			"temperature":         temperature,
			"input_audio_transcription": map[string]any{
				"model": transcriptionModel,
			},
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           threshold,
				"silence_duration_ms": silenceMS,
				"create_response":     false,
			},
		},
	}
}

type openAIStream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan Event
}

func (s *openAIStream) AppendAudio(_ context.Context, audioBase64 string) error {
	return s.writeJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": audioBase64,
	})
}

func (s *openAIStream) Commit(_ context.Context) error {
	return s.writeJSON(map[string]any{"type": "input_audio_buffer.commit"})
}

func (s *openAIStream) ClearInput(_ context.Context) error {
	return s.writeJSON(map[string]any{"type": "input_audio_buffer.clear"})
}

func (s *openAIStream) CreateResponse(_ context.Context) error {
	return s.writeJSON(map[string]any{"type": "response.create"})
}

func (s *openAIStream) CancelResponse(_ context.Context) error {
	return s.writeJSON(map[string]any{"type": "response.cancel"})
}

// Close shuts the websocket; the read loop notices and closes the event
// channel. Only the sending goroutine ever closes the channel.
func (s *openAIStream) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		retErr = s.conn.Close()
	})
	return retErr
}

func (s *openAIStream) writeJSON(payload map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

func (s *openAIStream) readLoop() {
	defer close(s.events)
	defer func() { _ = s.Close() }()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		now := time.Now().UnixMilli()
		switch asString(raw["type"]) {
		case "session.updated":
			s.events <- Event{Type: EventConnected, Timestamp: now}
		case "input_audio_buffer.speech_started":
			s.events <- Event{Type: EventSpeechStarted, Role: RoleLearner, Timestamp: now}
		case "input_audio_buffer.speech_stopped":
			s.events <- Event{Type: EventSpeechStopped, Role: RoleLearner, Timestamp: now}
		case "conversation.item.input_audio_transcription.delta":
			s.events <- Event{Type: EventTranscriptDelta, Role: RoleLearner, Text: asString(raw["delta"]), Timestamp: now}
		case "conversation.item.input_audio_transcription.completed":
			s.events <- Event{Type: EventTranscriptDone, Role: RoleLearner, Text: asString(raw["transcript"]), Timestamp: now}
		case "response.audio_transcript.delta":
			s.events <- Event{Type: EventTranscriptDelta, Role: RoleTutor, Text: asString(raw["delta"]), Timestamp: now}
		case "response.audio_transcript.done":
			s.events <- Event{Type: EventTranscriptDone, Role: RoleTutor, Text: asString(raw["transcript"]), Timestamp: now}
		case "response.audio.delta":
			s.events <- Event{Type: EventAudioDelta, Role: RoleTutor, AudioBase64: asString(raw["delta"]), Timestamp: now}
		case "response.done":
			s.events <- Event{Type: EventResponseDone, Timestamp: now}
		case "error":
			code, detail := errorFields(raw)
			// Committing an empty input buffer is an expected consequence
			// of normal turn-taking, not a fault.
			if reliability.IsBenignRealtimeCode(code) {
				continue
			}
			s.events <- Event{
				Type:      EventError,
				Code:      code,
				Detail:    detail,
				Retryable: reliability.IsRetryableRealtimeCode(code),
				Fatal:     reliability.IsFatalRealtimeCode(code),
				Timestamp: now,
			}
		case "session.created", "input_audio_buffer.committed", "input_audio_buffer.cleared",
			"response.created", "response.output_item.added", "response.output_item.done",
			"response.content_part.added", "response.content_part.done",
			"conversation.item.created", "response.audio.done", "rate_limits.updated":
			// control/bookkeeping events the engine does not act on
		default:
		}
	}
}

func errorFields(raw map[string]any) (code, detail string) {
	obj, ok := raw["error"].(map[string]any)
	if !ok {
		return "unknown", ""
	}
	return asString(obj["code"]), asString(obj["message"])
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
