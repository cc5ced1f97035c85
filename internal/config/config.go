package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the practice service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool
	AuthToken      string

	OpenAIAPIKey    string
	OpenAIWSBaseURL string
	OpenAIModel     string
	TutorVoice      string

	VADThreshold      float64
	SilenceDurationMS int

	RedisAddr     string
	TranscriptTTL time.Duration

	DatabaseURL string
	ScorerURL   string

	AudioFlushBytes    int
	AudioFlushInterval time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "parlo"),
		AllowAnyOrigin:   false,
		AuthToken:        stringsTrimSpace("APP_AUTH_TOKEN"),
		OpenAIAPIKey:     stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIWSBaseURL:  envOrDefault("OPENAI_WS_BASE_URL", "wss://api.openai.com"),
		OpenAIModel:      envOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview"),
		TutorVoice:       envOrDefault("TUTOR_VOICE", "alloy"),
		// Server-side VAD defaults tuned for conversational turn taking.
		VADThreshold:       0.5,
		SilenceDurationMS:  600,
		RedisAddr:          stringsTrimSpace("REDIS_ADDR"),
		TranscriptTTL:      time.Hour,
		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
		ScorerURL:          stringsTrimSpace("SCORER_URL"),
		AudioFlushBytes:    64 << 10,
		AudioFlushInterval: 5 * time.Second,
		ShutdownTimeout:    15 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.VADThreshold, err = floatFromEnv("TUTOR_VAD_THRESHOLD", cfg.VADThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceDurationMS, err = intFromEnv("TUTOR_SILENCE_DURATION_MS", cfg.SilenceDurationMS)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscriptTTL, err = durationFromEnv("TRANSCRIPT_TTL", cfg.TranscriptTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioFlushBytes, err = intFromEnv("AUDIO_FLUSH_BYTES", cfg.AudioFlushBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioFlushInterval, err = durationFromEnv("AUDIO_FLUSH_INTERVAL", cfg.AudioFlushInterval)
	if err != nil {
		return Config{}, err
	}

	if cfg.VADThreshold < 0 || cfg.VADThreshold > 1 {
		return Config{}, fmt.Errorf("TUTOR_VAD_THRESHOLD must be between 0 and 1")
	}
	if cfg.SilenceDurationMS <= 0 {
		return Config{}, fmt.Errorf("TUTOR_SILENCE_DURATION_MS must be positive")
	}
	if cfg.TranscriptTTL < time.Minute {
		return Config{}, fmt.Errorf("TRANSCRIPT_TTL must be at least 1m")
	}
	if cfg.AudioFlushBytes <= 0 {
		return Config{}, fmt.Errorf("AUDIO_FLUSH_BYTES must be positive")
	}
	if cfg.AudioFlushInterval < 100*time.Millisecond {
		return Config{}, fmt.Errorf("AUDIO_FLUSH_INTERVAL must be at least 100ms")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
