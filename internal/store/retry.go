package store

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/borrowchecker/borrowchecker/internal/logging"
)

// RetryConfig is the backoff for remote refreshes. Delays grow by
// Multiplier per attempt and are capped at MaxDelay.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryConfig retries three times starting at 100ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
	}
}

// WithRetry calls fn until it succeeds or fails permanently, at most
// MaxRetries+1 times.
func WithRetry[T any](ctx context.Context, op string, cfg RetryConfig, log *logging.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	if log == nil {
		log = logging.Nop()
	}

	var zero T
	var err error
	for attempt := 0; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		var result T
		result, err = fn(ctx)
		if err == nil {
			if attempt > 0 {
				log.Info().Str("op", op).Int("attempt", attempt+1).Msg("succeeded after retry")
			}
			return result, nil
		}
		if !isRetryable(err) {
			return zero, err
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		delay := calculateDelay(attempt, cfg)
		log.Warn().Str("op", op).Int("attempt", attempt+1).Dur("delay", delay).Err(err).Msg("attempt failed, retrying")
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		}
	}

	log.Error().Str("op", op).Int("attempts", cfg.MaxRetries+1).Err(err).Msg("all attempts failed")
	return zero, err
}

// permanentGitErrors will not go away by asking the remote again.
var permanentGitErrors = []error{
	transport.ErrRepositoryNotFound,
	transport.ErrEmptyRemoteRepository,
	transport.ErrAuthenticationRequired,
	transport.ErrAuthorizationFailed,
	transport.ErrInvalidAuthMethod,
	plumbing.ErrReferenceNotFound,
	plumbing.ErrObjectNotFound,
}

// transientMessages match errors that carry no type, such as those
// surfaced by the git smart HTTP transport or database drivers.
var transientMessages = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"temporary failure",
	"try again",
	"service unavailable",
	"bad gateway",
	"too many connections",
}

// isRetryable reports whether err is worth another attempt.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var open *CircuitOpenError
	if errors.As(err, &open) {
		return false
	}

	var se *Error
	if errors.As(err, &se) {
		switch se.Kind {
		case KindNotFound, KindUnsupported, KindDecode, KindInvalidObjectType, KindRepoOpen:
			return false
		}
	}

	for _, permanent := range permanentGitErrors {
		if errors.Is(err, permanent) {
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// calculateDelay is the capped exponential delay for attempt with ±20%
// jitter.
func calculateDelay(attempt int, cfg RetryConfig) time.Duration {
	d := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	d = math.Min(d, float64(cfg.MaxDelay))
	return time.Duration(d * (0.8 + 0.4*rand.Float64()))
}
