package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageStart(t *testing.T) {
	raw := []byte(`{"type":"start","session_id":"s1","principal_id":"u1","language":"es","level":"B1","mode":"placement-test"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	start, ok := msg.(Start)
	if !ok {
		t.Fatalf("message type = %T, want Start", msg)
	}
	if start.SessionID != "s1" || start.PrincipalID != "u1" || start.Language != "es" {
		t.Fatalf("unexpected start: %+v", start)
	}
	if start.Level != "B1" || start.Mode != "placement-test" {
		t.Fatalf("unexpected start: %+v", start)
	}
}

func TestParseClientMessageStartLevelOptional(t *testing.T) {
	raw := []byte(`{"type":"start","session_id":"s1","principal_id":"u1","language":"es"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if start := msg.(Start); start.Level != "" {
		t.Fatalf("Level = %q, want empty", start.Level)
	}
}

func TestParseClientMessageStartRejectsBadLevel(t *testing.T) {
	raw := []byte(`{"type":"start","session_id":"s1","principal_id":"u1","language":"es","level":"Z9"}`)
	if _, err := ParseClientMessage(raw); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestParseClientMessageAudioChunk(t *testing.T) {
	raw := []byte(`{"type":"audio_chunk","session_id":"s1","seq":3,"audio_base64":"AQID","ts_ms":123}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	chunk, ok := msg.(AudioChunk)
	if !ok {
		t.Fatalf("message type = %T, want AudioChunk", msg)
	}
	if chunk.SessionID != "s1" || chunk.Seq != 3 || chunk.AudioBase64 != "AQID" {
		t.Fatalf("unexpected audio chunk: %+v", chunk)
	}
	if chunk.TSMs != 123 {
		t.Fatalf("TSMs = %d, want 123", chunk.TSMs)
	}
}

func TestParseClientMessageRejectsEmptyAudio(t *testing.T) {
	raw := []byte(`{"type":"audio_chunk","session_id":"s1","seq":1}`)
	if _, err := ParseClientMessage(raw); err == nil {
		t.Fatal("expected error for empty audio payload")
	}
}

func TestParseClientMessageStopAndInterrupt(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"stop","session_id":"s1"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage(stop) error = %v", err)
	}
	if _, ok := msg.(Stop); !ok {
		t.Fatalf("message type = %T, want Stop", msg)
	}

	msg, err = ParseClientMessage([]byte(`{"type":"interrupt","session_id":"s1"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage(interrupt) error = %v", err)
	}
	if _, ok := msg.(Interrupt); !ok {
		t.Fatalf("message type = %T, want Interrupt", msg)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}
