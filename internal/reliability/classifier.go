package reliability

import "time"

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableRealtimeCode classifies retryable upstream realtime errors.
func IsRetryableRealtimeCode(code string) bool {
	switch code {
	case "rate_limit_exceeded", "rate_limited", "server_error", "session_expired_retryable":
		return true
	default:
		return false
	}
}

// IsFatalRealtimeCode classifies upstream errors after which the session
// connection is unusable and must be torn down.
func IsFatalRealtimeCode(code string) bool {
	switch code {
	case "session_expired", "session_not_found", "invalid_api_key", "token_expired":
		return true
	default:
		return false
	}
}

// IsBenignRealtimeCode classifies upstream errors that are an expected
// consequence of normal turn-taking and must be suppressed entirely.
func IsBenignRealtimeCode(code string) bool {
	switch code {
	case "input_audio_buffer_commit_empty", "commit_empty":
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
