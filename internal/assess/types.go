package assess

import (
	"github.com/mvirga/parlo/internal/cefr"
)

// PronunciationFeedback scores pronunciation and lists problem words.
type PronunciationFeedback struct {
	Score         int      `json:"score"`
	Mispronounced []string `json:"mispronounced_words"`
}

// GrammarFeedback scores grammar and lists observed errors.
type GrammarFeedback struct {
	Score  int      `json:"score"`
	Errors []string `json:"errors"`
}

// VocabularyFeedback scores vocabulary breadth.
type VocabularyFeedback struct {
	Score     int      `json:"score"`
	Strong    []string `json:"strong_words"`
	Suggested []string `json:"suggested_words"`
}

// FluencyFeedback scores fluency with deterministic rate statistics.
type FluencyFeedback struct {
	Score          int     `json:"score"`
	WordsPerMinute float64 `json:"words_per_minute"`
	PauseCount     int     `json:"pause_count"`
	FillerCount    int     `json:"filler_count"`
}

// FeedbackBundle groups the four independently scored dimensions.
type FeedbackBundle struct {
	Pronunciation PronunciationFeedback `json:"pronunciation"`
	Grammar       GrammarFeedback       `json:"grammar"`
	Vocabulary    VocabularyFeedback    `json:"vocabulary"`
	Fluency       FluencyFeedback       `json:"fluency"`
}

// MeanScore is the mean of the four dimension scores.
func (f FeedbackBundle) MeanScore() float64 {
	sum := f.Pronunciation.Score + f.Grammar.Score + f.Vocabulary.Score + f.Fluency.Score
	return float64(sum) / 4
}

// Assessment is the analyzer's outcome for one session.
type Assessment struct {
	Level      cefr.Level     `json:"level"`
	Feedback   FeedbackBundle `json:"feedback"`
	Confidence float64        `json:"confidence"`
	// Degraded marks the fallback taken when the scoring model failed;
	// its Level is a placeholder, not an analyzed estimate.
	Degraded bool `json:"degraded,omitempty"`
}
