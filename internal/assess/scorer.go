package assess

import (
	"context"
	"strings"

	"github.com/mvirga/parlo/internal/cefr"
	"github.com/mvirga/parlo/internal/transcript"
)

// ScoreRequest is the payload sent to the scoring model.
type ScoreRequest struct {
	Language        string               `json:"language"`
	Transcript      []transcript.Message `json:"transcript"`
	WordsPerMinute  float64              `json:"words_per_minute"`
	DurationSeconds float64              `json:"duration_seconds"`
}

// ScoreResult is the scoring model's reply.
type ScoreResult struct {
	Level      cefr.Level     `json:"level"`
	Feedback   FeedbackBundle `json:"feedback"`
	Confidence float64        `json:"confidence"`
}

// Scorer rates a conversation transcript through the scoring model.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (ScoreResult, error)
}

// StaticScorer is a deterministic in-process scorer for local/dev use. It
// rates by utterance volume and speaking rate only.
type StaticScorer struct{}

func NewStaticScorer() *StaticScorer { return &StaticScorer{} }

func (s *StaticScorer) Score(_ context.Context, req ScoreRequest) (ScoreResult, error) {
	words := 0
	for _, m := range req.Transcript {
		if m.Role == transcript.RoleLearner {
			words += len(strings.Fields(m.Text))
		}
	}

	level := cefr.Lowest()
	for _, l := range cefr.Levels() {
		band := cefr.ExpectedWPM(l)
		if req.WordsPerMinute >= band.Min {
			level = l
		}
	}

	base := 50
	if words > 30 {
		base = 65
	}
	if words > 100 {
		base = 75
	}

	return ScoreResult{
		Level: level,
		Feedback: FeedbackBundle{
			Pronunciation: PronunciationFeedback{Score: base, Mispronounced: []string{}},
			Grammar:       GrammarFeedback{Score: base, Errors: []string{}},
			Vocabulary:    VocabularyFeedback{Score: base, Strong: []string{}, Suggested: []string{}},
			Fluency:       FluencyFeedback{Score: base, WordsPerMinute: req.WordsPerMinute},
		},
		Confidence: 0.5,
	}, nil
}
