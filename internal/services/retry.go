package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pr-slack-tracker/internal/log"

	"github.com/google/go-github/v73/github"
	"github.com/slack-go/slack"
)

// RetryConfig controls the bounded-retry wrapper used for all outbound
// GitHub and Slack calls.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig returns the retry policy used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Second}
}

// CallError normalizes an outbound API failure into one shape, decoupling
// the backoff policy from any particular client library's error types.
// RetryAfter is zero unless the failure carried a rate-limit hint.
type CallError struct {
	Op         string
	Err        error
	RetryAfter time.Duration
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// normalizeCallError wraps err as a CallError, extracting a retry-after
// hint from the Slack and GitHub rate limit error types.
func normalizeCallError(op string, err error) *CallError {
	ce := &CallError{Op: op, Err: err}

	var slackRate *slack.RateLimitedError
	if errors.As(err, &slackRate) {
		ce.RetryAfter = slackRate.RetryAfter
		return ce
	}

	var ghAbuse *github.AbuseRateLimitError
	if errors.As(err, &ghAbuse) && ghAbuse.RetryAfter != nil {
		ce.RetryAfter = *ghAbuse.RetryAfter
		return ce
	}

	var ghRate *github.RateLimitError
	if errors.As(err, &ghRate) {
		if wait := time.Until(ghRate.Rate.Reset.Time); wait > 0 {
			ce.RetryAfter = wait
		}
		return ce
	}

	return ce
}

// WithRetry runs fn with exponential backoff (BaseDelay × 2^attempt), up to
// MaxAttempts attempts. When a failure carries a rate-limit retry-after
// hint, that duration is used instead of the exponential delay. Retries are
// local to the one call; exhaustion returns the last failure as a
// *CallError.
func WithRetry(ctx context.Context, cfg RetryConfig, op string, fn func() error) error {
	var lastErr *CallError
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = normalizeCallError(op, err)
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.BaseDelay * (1 << attempt)
		if lastErr.RetryAfter > 0 {
			delay = lastErr.RetryAfter
			log.Warn(ctx, "Rate limited, honoring retry-after",
				"operation", op, "retry_after", delay, "attempt", attempt)
		} else {
			log.Warn(ctx, "Outbound call failed, retrying",
				"operation", op, "error", err, "attempt", attempt, "delay", delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
