package assess

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mvirga/parlo/internal/reliability"
)

const (
	scorerRequestTimeout = 30 * time.Second
	scorerMaxAttempts    = 3
	scorerBackoffBase    = 200 * time.Millisecond
	scorerBackoffCap     = 2 * time.Second
)

// HTTPScorer forwards score requests to a scoring-model HTTP endpoint.
type HTTPScorer struct {
	url    string
	client *http.Client
}

func NewHTTPScorer(url string) *HTTPScorer {
	return &HTTPScorer{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: scorerRequestTimeout,
		},
	}
}

func (s *HTTPScorer) Score(ctx context.Context, req ScoreRequest) (ScoreResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("marshal score request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < scorerMaxAttempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt, scorerBackoffBase, scorerBackoffCap)
			select {
			case <-ctx.Done():
				return ScoreResult{}, ctx.Err()
			case <-time.After(wait):
			}
		}

		result, retryable, err := s.scoreOnce(ctx, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return ScoreResult{}, lastErr
}

func (s *HTTPScorer) scoreOnce(ctx context.Context, payload []byte) (ScoreResult, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return ScoreResult{}, false, fmt.Errorf("create score request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(httpReq)
	if err != nil {
		return ScoreResult{}, true, fmt.Errorf("send score request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return ScoreResult{}, reliability.IsRetryableHTTPStatus(res.StatusCode),
			fmt.Errorf("scorer http status %d: %s", res.StatusCode, string(body))
	}

	var result ScoreResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return ScoreResult{}, false, fmt.Errorf("decode score response: %w", err)
	}
	return result, false, nil
}

// NewScorer creates an HTTP-backed scorer when an endpoint is configured,
// otherwise the deterministic in-process one.
func NewScorer(url string) Scorer {
	if strings.TrimSpace(url) == "" {
		return NewStaticScorer()
	}
	return NewHTTPScorer(url)
}
