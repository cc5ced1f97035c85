package transcript

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryAppendPreservesOrder(t *testing.T) {
	s := NewInMemoryStore(time.Hour)
	ctx := context.Background()

	texts := []string{"hello", "ciao", "come stai"}
	for i, text := range texts {
		role := RoleLearner
		if i%2 == 1 {
			role = RoleTutor
		}
		if err := s.AppendMessage(ctx, "sess-1", Message{Role: role, Text: text, TimestampMS: int64(i)}); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	got, err := s.Messages(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(got) != len(texts) {
		t.Fatalf("len(Messages) = %d, want %d", len(got), len(texts))
	}
	for i, m := range got {
		if m.Text != texts[i] {
			t.Fatalf("Messages[%d].Text = %q, want %q", i, m.Text, texts[i])
		}
	}
}

func TestInMemoryAudioSegments(t *testing.T) {
	s := NewInMemoryStore(time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.AppendAudioSegment(ctx, "sess-1", AudioSegment{AudioBase64: "chunk", TimestampMS: int64(i)}); err != nil {
			t.Fatalf("AppendAudioSegment() error = %v", err)
		}
	}
	segs, err := s.AudioSegments(ctx, "sess-1")
	if err != nil {
		t.Fatalf("AudioSegments() error = %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("len(AudioSegments) = %d, want 3", len(segs))
	}
	for i, seg := range segs {
		if seg.TimestampMS != int64(i) {
			t.Fatalf("AudioSegments[%d].TimestampMS = %d, want %d", i, seg.TimestampMS, i)
		}
	}
}

func TestInMemoryClear(t *testing.T) {
	s := NewInMemoryStore(time.Hour)
	ctx := context.Background()

	_ = s.AppendMessage(ctx, "sess-1", Message{Role: RoleLearner, Text: "hi"})
	_ = s.AppendAudioSegment(ctx, "sess-1", AudioSegment{AudioBase64: "a"})
	if err := s.Clear(ctx, "sess-1"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	msgs, _ := s.Messages(ctx, "sess-1")
	segs, _ := s.AudioSegments(ctx, "sess-1")
	if len(msgs) != 0 || len(segs) != 0 {
		t.Fatalf("after Clear: %d messages, %d segments, want 0/0", len(msgs), len(segs))
	}
}

func TestInMemoryTTLExpiry(t *testing.T) {
	s := NewInMemoryStore(20 * time.Millisecond)
	ctx := context.Background()

	_ = s.AppendMessage(ctx, "sess-1", Message{Role: RoleLearner, Text: "hi"})
	time.Sleep(40 * time.Millisecond)

	msgs, err := s.Messages(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expired session still has %d messages", len(msgs))
	}
}
