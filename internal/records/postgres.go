package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mvirga/parlo/internal/transcript"
)

// PostgresStore persists practice outcomes in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS practice_records (
			session_id TEXT PRIMARY KEY,
			principal_id TEXT NOT NULL,
			language TEXT NOT NULL,
			level TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ,
			duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
			feedback JSONB,
			transcript JSONB,
			audio_segments JSONB,
			completed BOOLEAN NOT NULL DEFAULT FALSE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_practice_records_principal ON practice_records (principal_id, started_at);`,
		`CREATE TABLE IF NOT EXISTS placement_results (
			principal_id TEXT NOT NULL,
			language TEXT NOT NULL,
			taken_at TIMESTAMPTZ NOT NULL,
			level TEXT NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			feedback JSONB,
			PRIMARY KEY (principal_id, language)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreatePracticeRecord(ctx context.Context, rec PracticeRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO practice_records (session_id, principal_id, language, level, mode, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (session_id) DO NOTHING`,
		rec.SessionID,
		rec.PrincipalID,
		rec.Language,
		string(rec.Level),
		rec.Mode,
		rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("create practice record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPracticeRecord(ctx context.Context, sessionID string) (*PracticeRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT session_id, principal_id, language, level, mode, started_at, ended_at, duration_seconds, feedback, transcript, audio_segments, completed
		 FROM practice_records WHERE session_id=$1`,
		sessionID,
	)

	var (
		rec           PracticeRecord
		endedAt       *time.Time
		feedbackJSON  []byte
		transcriptRaw []byte
		audioRaw      []byte
	)
	err := row.Scan(&rec.SessionID, &rec.PrincipalID, &rec.Language, &rec.Level, &rec.Mode,
		&rec.StartedAt, &endedAt, &rec.DurationSeconds, &feedbackJSON, &transcriptRaw, &audioRaw, &rec.Completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get practice record: %w", err)
	}
	if endedAt != nil {
		rec.EndedAt = *endedAt
	}
	if len(feedbackJSON) > 0 {
		if err := json.Unmarshal(feedbackJSON, &rec.Feedback); err != nil {
			return nil, fmt.Errorf("decode feedback: %w", err)
		}
	}
	if len(transcriptRaw) > 0 {
		if err := json.Unmarshal(transcriptRaw, &rec.Transcript); err != nil {
			return nil, fmt.Errorf("decode transcript: %w", err)
		}
	}
	if len(audioRaw) > 0 {
		if err := json.Unmarshal(audioRaw, &rec.AudioSegments); err != nil {
			return nil, fmt.Errorf("decode audio segments: %w", err)
		}
	}
	return &rec, nil
}

func (s *PostgresStore) FinalizePracticeRecord(ctx context.Context, rec PracticeRecord) error {
	feedbackJSON, err := json.Marshal(rec.Feedback)
	if err != nil {
		return fmt.Errorf("encode feedback: %w", err)
	}
	if rec.Transcript == nil {
		rec.Transcript = []transcript.Message{}
	}
	transcriptJSON, err := json.Marshal(rec.Transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if rec.AudioSegments == nil {
		rec.AudioSegments = []transcript.AudioSegment{}
	}
	audioJSON, err := json.Marshal(rec.AudioSegments)
	if err != nil {
		return fmt.Errorf("encode audio segments: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE practice_records
		 SET level=$2, ended_at=$3, duration_seconds=$4, feedback=$5, transcript=$6, audio_segments=$7, completed=TRUE
		 WHERE session_id=$1 AND completed=FALSE`,
		rec.SessionID,
		string(rec.Level),
		rec.EndedAt,
		rec.DurationSeconds,
		feedbackJSON,
		transcriptJSON,
		audioJSON,
	)
	if err != nil {
		return fmt.Errorf("finalize practice record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetPracticeRecord(ctx, rec.SessionID); err != nil {
			return err
		}
		return ErrAlreadyCompleted
	}
	return nil
}

func (s *PostgresStore) SavePlacementResult(ctx context.Context, res PlacementResult) error {
	if res.TakenAt.IsZero() {
		res.TakenAt = time.Now().UTC()
	}
	feedbackJSON, err := json.Marshal(res.Feedback)
	if err != nil {
		return fmt.Errorf("encode feedback: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO placement_results (principal_id, language, taken_at, level, score, feedback)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (principal_id, language)
		 DO UPDATE SET taken_at=EXCLUDED.taken_at, level=EXCLUDED.level, score=EXCLUDED.score, feedback=EXCLUDED.feedback`,
		res.PrincipalID,
		res.Language,
		res.TakenAt,
		string(res.Level),
		res.Score,
		feedbackJSON,
	)
	if err != nil {
		return fmt.Errorf("save placement result: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPlacementResult(ctx context.Context, principalID, language string) (*PlacementResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT principal_id, language, taken_at, level, score, feedback
		 FROM placement_results WHERE principal_id=$1 AND language=$2`,
		principalID, language,
	)

	var (
		res          PlacementResult
		feedbackJSON []byte
	)
	err := row.Scan(&res.PrincipalID, &res.Language, &res.TakenAt, &res.Level, &res.Score, &feedbackJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get placement result: %w", err)
	}
	if len(feedbackJSON) > 0 {
		if err := json.Unmarshal(feedbackJSON, &res.Feedback); err != nil {
			return nil, fmt.Errorf("decode feedback: %w", err)
		}
	}
	return &res, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
