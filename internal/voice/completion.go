package voice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mvirga/parlo/internal/assess"
	"github.com/mvirga/parlo/internal/audiobackup"
	"github.com/mvirga/parlo/internal/cefr"
	"github.com/mvirga/parlo/internal/observability"
	"github.com/mvirga/parlo/internal/records"
	"github.com/mvirga/parlo/internal/session"
	"github.com/mvirga/parlo/internal/transcript"
)

const (
	synthesizedStartFallback = 5 * time.Minute

	// Finalized summaries kept for idempotent re-completion of recently
	// ended sessions.
	completedSummaryCap = 1024
)

var ErrCompletionInProgress = errors.New("completion already in progress")

// Summary is the finalized assessment emitted when a session completes.
type Summary struct {
	SessionID        string
	Level            cefr.Level
	MeanScore        float64
	RecommendedLevel cefr.Level
	FluencyRatio     float64
	DurationSeconds  float64
}

// CompletionPipeline finalizes a session: it reconciles the proficiency
// level, persists the practice record, and releases all live per-session
// state. A session id completes at most once; a repeat attempt returns
// the already-finalized summary.
type CompletionPipeline struct {
	registry    *session.Registry
	backup      *audiobackup.Buffer
	relay       *Relay
	transcripts transcript.Store
	records     records.Store
	analyzer    *assess.Analyzer
	metrics     *observability.Metrics

	mu        sync.Mutex
	running   map[string]struct{}
	completed map[string]Summary
	order     []string
}

func NewCompletionPipeline(
	registry *session.Registry,
	backup *audiobackup.Buffer,
	relay *Relay,
	transcripts transcript.Store,
	recordStore records.Store,
	analyzer *assess.Analyzer,
	metrics *observability.Metrics,
) *CompletionPipeline {
	return &CompletionPipeline{
		registry:    registry,
		backup:      backup,
		relay:       relay,
		transcripts: transcripts,
		records:     recordStore,
		analyzer:    analyzer,
		metrics:     metrics,
		running:     make(map[string]struct{}),
		completed:   make(map[string]Summary),
	}
}

// Complete runs the full pipeline for one session. Persistence failure is
// returned to the caller, but live state is torn down regardless.
func (p *CompletionPipeline) Complete(ctx context.Context, sessionID string, declaredDuration time.Duration) (Summary, error) {
	p.mu.Lock()
	if summary, ok := p.completed[sessionID]; ok {
		p.mu.Unlock()
		return summary, nil
	}
	if _, ok := p.running[sessionID]; ok {
		p.mu.Unlock()
		return Summary{}, ErrCompletionInProgress
	}
	p.running[sessionID] = struct{}{}
	p.mu.Unlock()

	started := time.Now()
	summary, err := p.run(ctx, sessionID, declaredDuration)
	p.metrics.ObserveCompletionDuration(time.Since(started))

	p.mu.Lock()
	delete(p.running, sessionID)
	if err == nil {
		p.rememberLocked(sessionID, summary)
	}
	p.mu.Unlock()
	return summary, err
}

func (p *CompletionPipeline) run(ctx context.Context, sessionID string, declaredDuration time.Duration) (Summary, error) {
	end := time.Now().UTC()
	live, liveErr := p.registry.Get(sessionID)

	rec, err := p.records.GetPracticeRecord(ctx, sessionID)
	if errors.Is(err, records.ErrNotFound) {
		rec = p.synthesizeRecord(sessionID, live, end, declaredDuration)
		if createErr := p.records.CreatePracticeRecord(ctx, *rec); createErr != nil {
			p.metrics.SessionEvents.WithLabelValues("record_synthesize_failed").Inc()
		}
		err = nil
	}
	if err != nil {
		// Unreadable store: still build an in-memory record so the
		// summary and teardown proceed.
		p.metrics.SessionEvents.WithLabelValues("record_read_failed").Inc()
		rec = p.synthesizeRecord(sessionID, live, end, declaredDuration)
	}

	durationSeconds := declaredDuration.Seconds()
	if durationSeconds <= 0 {
		durationSeconds = end.Sub(rec.StartedAt).Seconds()
	}

	msgs, msgsErr := p.transcripts.Messages(ctx, sessionID)
	if msgsErr != nil {
		p.metrics.SessionEvents.WithLabelValues("transcript_read_failed").Inc()
		msgs = nil
	}

	originalLevel := rec.Level
	if liveErr == nil && live.Level != "" {
		originalLevel = live.Level
	}
	if !cefr.Valid(originalLevel) {
		originalLevel = cefr.Lowest()
	}

	extracted, hasExtracted := extractAnnouncedLevel(msgs)

	mode := rec.Mode
	if liveErr == nil {
		mode = string(live.Mode)
	}
	isPlacement := mode == string(session.ModePlacementTest)

	var (
		analyzed    cefr.Level
		hasAnalyzed bool
		feedback    assess.FeedbackBundle
	)
	if isPlacement && len(msgs) > 0 {
		assessment := p.analyzer.Analyze(ctx, rec.Language, msgs, durationSeconds)
		analyzed = assessment.Level
		// A degraded assessment's level is a placeholder; it must not
		// displace the level the session was opened at.
		hasAnalyzed = !assessment.Degraded && cefr.Valid(analyzed)
		feedback = assessment.Feedback
	} else {
		feedback = assess.DeterministicBundle(msgs, durationSeconds)
	}

	finalLevel := originalLevel
	switch {
	case hasExtracted:
		finalLevel = extracted
	case hasAnalyzed:
		finalLevel = analyzed
	}

	rec.Level = finalLevel
	rec.Mode = mode
	rec.EndedAt = end
	rec.DurationSeconds = durationSeconds
	rec.Feedback = feedback
	rec.Transcript = msgs
	rec.Completed = true

	// Forced flush of any pending learner audio, before the registry
	// entry disappears.
	if flushErr := p.backup.FlushNow(ctx, sessionID); flushErr != nil {
		p.metrics.SessionEvents.WithLabelValues("final_flush_failed").Inc()
	}
	if segs, segErr := p.transcripts.AudioSegments(ctx, sessionID); segErr == nil {
		rec.AudioSegments = segs
	}

	persistErr := p.records.FinalizePracticeRecord(ctx, *rec)
	if errors.Is(persistErr, records.ErrAlreadyCompleted) {
		persistErr = nil
	}

	if persistErr == nil && isPlacement {
		mean := feedback.MeanScore()
		if placeErr := p.records.SavePlacementResult(ctx, records.PlacementResult{
			PrincipalID: rec.PrincipalID,
			Language:    rec.Language,
			TakenAt:     end,
			Level:       finalLevel,
			Score:       mean,
			Feedback:    feedback,
		}); placeErr != nil {
			persistErr = placeErr
		}
	}

	summary := Summary{
		SessionID:        sessionID,
		Level:            finalLevel,
		MeanScore:        feedback.MeanScore(),
		RecommendedLevel: cefr.ShiftRecommendation(feedback.MeanScore(), originalLevel),
		FluencyRatio:     fluencyRatio(msgs, durationSeconds, originalLevel),
		DurationSeconds:  durationSeconds,
	}

	// Teardown order matters: no component may be queried after another
	// has already forgotten the session.
	p.registry.Close(sessionID)
	p.backup.Release(sessionID)
	p.relay.Close(sessionID)
	if clearErr := p.transcripts.Clear(ctx, sessionID); clearErr != nil {
		p.metrics.SessionEvents.WithLabelValues("transcript_clear_failed").Inc()
	}

	return summary, persistErr
}

// synthesizeRecord builds a record for a session the store never saw. The
// start time is end minus the declared duration, clamped against a future
// start or one more than a declared-duration unit in the past.
func (p *CompletionPipeline) synthesizeRecord(sessionID string, live *session.Session, end time.Time, declared time.Duration) *records.PracticeRecord {
	rec := &records.PracticeRecord{
		SessionID: sessionID,
		Level:     cefr.Lowest(),
		Mode:      string(session.ModeFreePractice),
		StartedAt: synthesizedStart(end, declared),
	}
	if live != nil {
		rec.PrincipalID = live.PrincipalID
		rec.Language = live.Language
		rec.Mode = string(live.Mode)
		if cefr.Valid(live.Level) {
			rec.Level = live.Level
		}
		if !live.CreatedAt.IsZero() {
			rec.StartedAt = clampStart(live.CreatedAt, end, declared)
		}
	}
	p.metrics.SessionEvents.WithLabelValues("record_synthesized").Inc()
	return rec
}

func synthesizedStart(end time.Time, declared time.Duration) time.Time {
	if declared <= 0 {
		return end.Add(-synthesizedStartFallback)
	}
	return end.Add(-declared)
}

func clampStart(candidate, end time.Time, declared time.Duration) time.Time {
	if candidate.After(end) {
		return synthesizedStart(end, declared)
	}
	if declared > 0 && end.Sub(candidate) > 2*declared {
		return synthesizedStart(end, declared)
	}
	return candidate
}

func extractAnnouncedLevel(msgs []transcript.Message) (cefr.Level, bool) {
	// The latest announcement wins when the tutor revises an estimate.
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != transcript.RoleTutor {
			continue
		}
		if level, ok := cefr.ExtractAnnouncedLevel(msgs[i].Text); ok {
			return level, true
		}
	}
	return "", false
}

func fluencyRatio(msgs []transcript.Message, durationSeconds float64, original cefr.Level) float64 {
	expected := cefr.ExpectedWPM(original).Midpoint()
	if expected <= 0 {
		return 0
	}
	return assess.WordsPerMinute(msgs, durationSeconds) / expected
}

func (p *CompletionPipeline) rememberLocked(sessionID string, summary Summary) {
	if _, ok := p.completed[sessionID]; !ok {
		p.order = append(p.order, sessionID)
	}
	p.completed[sessionID] = summary
	for len(p.order) > completedSummaryCap {
		evict := p.order[0]
		p.order = p.order[1:]
		delete(p.completed, evict)
	}
}
