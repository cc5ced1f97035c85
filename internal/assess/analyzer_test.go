package assess

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mvirga/parlo/internal/cefr"
	"github.com/mvirga/parlo/internal/transcript"
)

type failingScorer struct{}

func (failingScorer) Score(context.Context, ScoreRequest) (ScoreResult, error) {
	return ScoreResult{}, errors.New("scorer unavailable")
}

type fixedScorer struct {
	result ScoreResult
}

func (s fixedScorer) Score(context.Context, ScoreRequest) (ScoreResult, error) {
	return s.result, nil
}

func learnerMsg(text string, ts int64) transcript.Message {
	return transcript.Message{Role: transcript.RoleLearner, Text: text, TimestampMS: ts}
}

func TestWordsPerMinute(t *testing.T) {
	msgs := []transcript.Message{
		learnerMsg("one two three four five", 0),
		{Role: transcript.RoleTutor, Text: "tutor words are not counted", TimestampMS: 1},
		learnerMsg("six seven eight nine ten", 2),
	}
	if got := WordsPerMinute(msgs, 60); got != 10 {
		t.Fatalf("WordsPerMinute = %v, want 10", got)
	}
	if got := WordsPerMinute(msgs, 0); got != 0 {
		t.Fatalf("WordsPerMinute with zero duration = %v, want 0", got)
	}
	if got := WordsPerMinute(msgs, -5); got != 0 {
		t.Fatalf("WordsPerMinute with negative duration = %v, want 0", got)
	}
}

func TestAnalyzeFallbackOnScorerFailure(t *testing.T) {
	a := NewAnalyzer(failingScorer{})
	got := a.Analyze(context.Background(), "italian", []transcript.Message{learnerMsg("ciao come stai", 0)}, 30)

	if got.Level != cefr.Lowest() {
		t.Fatalf("fallback level = %s, want %s", got.Level, cefr.Lowest())
	}
	if !got.Degraded {
		t.Fatal("fallback assessment should be marked degraded")
	}
	fb := got.Feedback
	for name, score := range map[string]int{
		"pronunciation": fb.Pronunciation.Score,
		"grammar":       fb.Grammar.Score,
		"vocabulary":    fb.Vocabulary.Score,
		"fluency":       fb.Fluency.Score,
	} {
		if score != fallbackScore {
			t.Fatalf("%s fallback score = %d, want %d", name, score, fallbackScore)
		}
	}
	if len(fb.Pronunciation.Mispronounced) != 0 || len(fb.Grammar.Errors) != 0 {
		t.Fatalf("fallback detail lists should be empty")
	}
	if got.Confidence != fallbackConfidence {
		t.Fatalf("fallback confidence = %v, want %v", got.Confidence, fallbackConfidence)
	}
	if fb.Fluency.WordsPerMinute != 6 {
		t.Fatalf("fallback WPM = %v, want 6", fb.Fluency.WordsPerMinute)
	}
}

func TestAnalyzeKeepsDeterministicRateStats(t *testing.T) {
	a := NewAnalyzer(fixedScorer{result: ScoreResult{
		Level: cefr.LevelB2,
		Feedback: FeedbackBundle{
			Pronunciation: PronunciationFeedback{Score: 80},
			Grammar:       GrammarFeedback{Score: 82},
			Vocabulary:    VocabularyFeedback{Score: 78},
			Fluency:       FluencyFeedback{Score: 90, WordsPerMinute: 999},
		},
		Confidence: 0.9,
	}})

	msgs := []transcript.Message{
		learnerMsg("hello um there", 0),
		learnerMsg("I uh paused", 5000),
	}
	got := a.Analyze(context.Background(), "english", msgs, 60)
	if got.Level != cefr.LevelB2 {
		t.Fatalf("level = %s, want B2", got.Level)
	}
	if got.Feedback.Fluency.WordsPerMinute != 6 {
		t.Fatalf("WPM = %v, want computed 6, not the model's value", got.Feedback.Fluency.WordsPerMinute)
	}
	if got.Feedback.Fluency.PauseCount != 1 {
		t.Fatalf("PauseCount = %d, want 1", got.Feedback.Fluency.PauseCount)
	}
	if got.Feedback.Fluency.FillerCount != 2 {
		t.Fatalf("FillerCount = %d, want 2", got.Feedback.Fluency.FillerCount)
	}
}

func TestAnalyzeRejectsInvalidModelLevel(t *testing.T) {
	a := NewAnalyzer(fixedScorer{result: ScoreResult{Level: "Z9", Confidence: 1}})
	got := a.Analyze(context.Background(), "english", nil, 10)
	if got.Level != cefr.Lowest() {
		t.Fatalf("invalid model level should fall back, got %s", got.Level)
	}
}

func TestHTTPScorerRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"level":"B1","feedback":{"pronunciation":{"score":70},"grammar":{"score":72},"vocabulary":{"score":68},"fluency":{"score":75}},"confidence":0.8}`))
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL)
	got, err := s.Score(context.Background(), ScoreRequest{Language: "italian"})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if got.Level != cefr.LevelB1 || got.Feedback.Fluency.Score != 75 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestHTTPScorerRetriesRetryableStatus(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"level":"A2","feedback":{"pronunciation":{"score":60},"grammar":{"score":60},"vocabulary":{"score":60},"fluency":{"score":60}},"confidence":0.6}`))
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL)
	got, err := s.Score(context.Background(), ScoreRequest{})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	if got.Level != cefr.LevelA2 {
		t.Fatalf("level = %s, want A2", got.Level)
	}
}

func TestHTTPScorerDoesNotRetryClientError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL)
	if _, err := s.Score(context.Background(), ScoreRequest{}); err == nil {
		t.Fatalf("Score() should fail on 400")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}
