package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/mvirga/parlo/internal/assess"
	"github.com/mvirga/parlo/internal/audiobackup"
	"github.com/mvirga/parlo/internal/config"
	"github.com/mvirga/parlo/internal/httpapi"
	"github.com/mvirga/parlo/internal/observability"
	"github.com/mvirga/parlo/internal/realtime"
	"github.com/mvirga/parlo/internal/records"
	"github.com/mvirga/parlo/internal/session"
	"github.com/mvirga/parlo/internal/transcript"
	"github.com/mvirga/parlo/internal/voice"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Registry     *session.Registry
	Orchestrator *voice.Orchestrator
	Metrics      *observability.Metrics

	// Cleanup should be called on shutdown to release external resources
	// (record store, transcript store, upstream links).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	transcripts, err := transcript.NewStore(ctx, cfg.RedisAddr, cfg.TranscriptTTL)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	recordStore, err := records.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("record store init failed: %w", err)
	}

	var provider realtime.Provider
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		provider = realtime.NewOpenAIProvider(realtime.OpenAIConfig{
			APIKey:    cfg.OpenAIAPIKey,
			WSBaseURL: cfg.OpenAIWSBaseURL,
			Model:     cfg.OpenAIModel,
		})
	} else {
		// Without credentials the service still comes up against a local
		// scripted provider, which is what tests and demos use.
		provider = realtime.NewMockProvider()
	}

	registry := session.NewRegistry()
	backup := audiobackup.New(transcripts, cfg.AudioFlushBytes, cfg.AudioFlushInterval)
	relay := voice.NewRelay(provider, metrics)
	analyzer := assess.NewAnalyzer(assess.NewScorer(cfg.ScorerURL))
	completion := voice.NewCompletionPipeline(registry, backup, relay, transcripts, recordStore, analyzer, metrics)

	orchestrator := voice.NewOrchestrator(
		registry,
		relay,
		transcripts,
		backup,
		completion,
		recordStore,
		metrics,
		cfg.TutorVoice,
		cfg.VADThreshold,
		cfg.SilenceDurationMS,
	)

	api := httpapi.New(cfg, orchestrator, recordStore, metrics)

	cleanup := func() error {
		var errs []string
		if err := recordStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := transcripts.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Registry:     registry,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Cleanup:      cleanup,
	}, nil
}
