package assess

import (
	"context"
	"strings"

	"github.com/mvirga/parlo/internal/cefr"
	"github.com/mvirga/parlo/internal/transcript"
)

const (
	fallbackScore      = 50
	fallbackConfidence = 0.2

	// A gap this long between two learner utterances counts as a pause.
	pauseGapMS = 2000
)

var fillerWords = map[string]struct{}{
	"um": {}, "uh": {}, "er": {}, "hmm": {}, "uhm": {}, "ehm": {},
}

// Analyzer produces a scored assessment from a session transcript. Rate
// statistics are computed deterministically; quality scoring is delegated
// to the scoring model with a never-fail fallback.
type Analyzer struct {
	scorer Scorer
}

func NewAnalyzer(scorer Scorer) *Analyzer {
	return &Analyzer{scorer: scorer}
}

// Analyze never returns an error: scoring-model failures degrade to the
// deterministic fallback so a session always ends with a FeedbackBundle.
func (a *Analyzer) Analyze(ctx context.Context, language string, msgs []transcript.Message, durationSeconds float64) Assessment {
	wpm := WordsPerMinute(msgs, durationSeconds)
	pauses, fillers := speechStatistics(msgs)

	result, err := a.scorer.Score(ctx, ScoreRequest{
		Language:        language,
		Transcript:      msgs,
		WordsPerMinute:  wpm,
		DurationSeconds: durationSeconds,
	})
	if err != nil || !cefr.Valid(result.Level) {
		return Assessment{
			Level:      cefr.Lowest(),
			Feedback:   fallbackBundle(wpm, pauses, fillers),
			Confidence: fallbackConfidence,
			Degraded:   true,
		}
	}

	// The rate statistics are ours regardless of what the model reported.
	result.Feedback.Fluency.WordsPerMinute = wpm
	result.Feedback.Fluency.PauseCount = pauses
	result.Feedback.Fluency.FillerCount = fillers

	return Assessment{
		Level:      result.Level,
		Feedback:   result.Feedback,
		Confidence: result.Confidence,
	}
}

// DeterministicBundle builds the fallback FeedbackBundle from the rate
// statistics alone, without consulting the scoring model. Used when a
// session ends without analysis.
func DeterministicBundle(msgs []transcript.Message, durationSeconds float64) FeedbackBundle {
	wpm := WordsPerMinute(msgs, durationSeconds)
	pauses, fillers := speechStatistics(msgs)
	return fallbackBundle(wpm, pauses, fillers)
}

// WordsPerMinute computes the learner speaking rate from transcript word
// counts; 0 when duration is not positive.
func WordsPerMinute(msgs []transcript.Message, durationSeconds float64) float64 {
	if durationSeconds <= 0 {
		return 0
	}
	words := 0
	for _, m := range msgs {
		if m.Role == transcript.RoleLearner {
			words += len(strings.Fields(m.Text))
		}
	}
	return float64(words) / durationSeconds * 60
}

func speechStatistics(msgs []transcript.Message) (pauses, fillers int) {
	var lastLearnerTS int64
	for _, m := range msgs {
		if m.Role != transcript.RoleLearner {
			continue
		}
		if lastLearnerTS > 0 && m.TimestampMS-lastLearnerTS >= pauseGapMS {
			pauses++
		}
		lastLearnerTS = m.TimestampMS
		for _, w := range strings.Fields(strings.ToLower(m.Text)) {
			w = strings.Trim(w, ".,!?;:")
			if _, ok := fillerWords[w]; ok {
				fillers++
			}
		}
	}
	return pauses, fillers
}

func fallbackBundle(wpm float64, pauses, fillers int) FeedbackBundle {
	return FeedbackBundle{
		Pronunciation: PronunciationFeedback{Score: fallbackScore, Mispronounced: []string{}},
		Grammar:       GrammarFeedback{Score: fallbackScore, Errors: []string{}},
		Vocabulary:    VocabularyFeedback{Score: fallbackScore, Strong: []string{}, Suggested: []string{}},
		Fluency: FluencyFeedback{
			Score:          fallbackScore,
			WordsPerMinute: wpm,
			PauseCount:     pauses,
			FillerCount:    fillers,
		},
	}
}
