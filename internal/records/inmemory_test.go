package records

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mvirga/parlo/internal/cefr"
)

func TestFinalizeOnce(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	rec := PracticeRecord{
		SessionID:   "sess-1",
		PrincipalID: "learner-1",
		Language:    "es",
		Level:       cefr.LevelB1,
		Mode:        "free-practice",
		StartedAt:   time.Now().Add(-5 * time.Minute),
	}
	if err := store.CreatePracticeRecord(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	rec.EndedAt = time.Now()
	rec.DurationSeconds = 300
	if err := store.FinalizePracticeRecord(ctx, rec); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	got, err := store.GetPracticeRecord(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Completed {
		t.Fatal("expected record to be completed")
	}
	if got.DurationSeconds != 300 {
		t.Fatalf("duration = %v, want 300", got.DurationSeconds)
	}

	if err := store.FinalizePracticeRecord(ctx, rec); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("second finalize = %v, want ErrAlreadyCompleted", err)
	}
}

func TestFinalizeUnknownSession(t *testing.T) {
	store := NewInMemoryStore()
	err := store.FinalizePracticeRecord(context.Background(), PracticeRecord{SessionID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("finalize = %v, want ErrNotFound", err)
	}
}

func TestCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	first := PracticeRecord{SessionID: "sess-1", Level: cefr.LevelA2}
	if err := store.CreatePracticeRecord(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	second := PracticeRecord{SessionID: "sess-1", Level: cefr.LevelC1}
	if err := store.CreatePracticeRecord(ctx, second); err != nil {
		t.Fatalf("create again: %v", err)
	}

	got, err := store.GetPracticeRecord(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Level != cefr.LevelA2 {
		t.Fatalf("level = %s, want original %s", got.Level, cefr.LevelA2)
	}
}

func TestPlacementResultSupersedes(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	if _, err := store.GetPlacementResult(ctx, "learner-1", "es"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get before save = %v, want ErrNotFound", err)
	}

	if err := store.SavePlacementResult(ctx, PlacementResult{
		PrincipalID: "learner-1",
		Language:    "es",
		Level:       cefr.LevelA2,
		Score:       55,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SavePlacementResult(ctx, PlacementResult{
		PrincipalID: "learner-1",
		Language:    "es",
		Level:       cefr.LevelB1,
		Score:       72,
	}); err != nil {
		t.Fatalf("save again: %v", err)
	}

	got, err := store.GetPlacementResult(ctx, "learner-1", "es")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Level != cefr.LevelB1 || got.Score != 72 {
		t.Fatalf("got level=%s score=%v, want retake to supersede", got.Level, got.Score)
	}

	// Results are keyed per language.
	if _, err := store.GetPlacementResult(ctx, "learner-1", "fr"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other language = %v, want ErrNotFound", err)
	}
}
