package records

import (
	"context"
	"errors"
	"time"

	"github.com/mvirga/parlo/internal/assess"
	"github.com/mvirga/parlo/internal/cefr"
	"github.com/mvirga/parlo/internal/transcript"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrAlreadyCompleted = errors.New("record already completed")
)

// PracticeRecord is the durable outcome of one practice session. It is
// created at session start and finalized exactly once by the completion
// pipeline; Completed never reverts.
type PracticeRecord struct {
	SessionID       string                `json:"session_id"`
	PrincipalID     string                `json:"principal_id"`
	Language        string                `json:"language"`
	Level           cefr.Level            `json:"level"`
	Mode            string                `json:"mode"`
	StartedAt       time.Time             `json:"started_at"`
	EndedAt         time.Time             `json:"ended_at"`
	DurationSeconds float64               `json:"duration_seconds"`
	Feedback        assess.FeedbackBundle `json:"feedback"`
	Transcript      []transcript.Message  `json:"transcript"`
	// AudioSegments holds the learner audio flushed by the backup buffer,
	// copied out of the transient store before it is cleared at completion.
	AudioSegments []transcript.AudioSegment `json:"audio_segments,omitempty"`
	Completed     bool                      `json:"completed"`
}

// PlacementResult is the durable outcome of a placement test, one per
// principal and language; a retake supersedes the previous result.
type PlacementResult struct {
	PrincipalID string                `json:"principal_id"`
	Language    string                `json:"language"`
	TakenAt     time.Time             `json:"taken_at"`
	Level       cefr.Level            `json:"level"`
	Score       float64               `json:"score"`
	Feedback    assess.FeedbackBundle `json:"feedback"`
}

// Store persists practice records and placement results.
type Store interface {
	CreatePracticeRecord(ctx context.Context, rec PracticeRecord) error
	GetPracticeRecord(ctx context.Context, sessionID string) (*PracticeRecord, error)
	// FinalizePracticeRecord writes the final fields and flips Completed
	// false -> true; finalizing twice returns ErrAlreadyCompleted.
	FinalizePracticeRecord(ctx context.Context, rec PracticeRecord) error
	SavePlacementResult(ctx context.Context, res PlacementResult) error
	GetPlacementResult(ctx context.Context, principalID, language string) (*PlacementResult, error)
	Close() error
}
