package reliability

import (
	"context"
	"errors"
	"time"

	"github.com/avillega/telecare/internal/rtc"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableSessionError reports whether a failed connect attempt is worth
// retrying on a fresh controller. Caller cancellation and controller reuse
// are terminal; token and transport failures are transient.
func IsRetryableSessionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, rtc.ErrControllerUsed) {
		return false
	}
	if errors.Is(err, rtc.ErrTokenUnavailable) || errors.Is(err, rtc.ErrTransportConnect) {
		return true
	}
	return false
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
