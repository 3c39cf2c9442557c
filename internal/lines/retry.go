package lines

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// RetryConfig contains the exponential backoff used while opening a backend.
// GPIO chips can appear late during boot, and lines may still be held by a
// previous consumer for a moment after it exits.
type RetryConfig struct {
	MaxRetries    int           // Maximum number of open retries (0 = single attempt)
	RetryDelay    time.Duration // Initial retry delay (default: 250ms)
	MaxRetryDelay time.Duration // Retry delay cap (default: 5s)
}

// DefaultRetryConfig returns the default open retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		RetryDelay:    250 * time.Millisecond,
		MaxRetryDelay: 5 * time.Second,
	}
}

type openFunc func() (Backend, error)

// openWithRetry calls open until it succeeds, retries are exhausted or ctx ends.
func openWithRetry(ctx context.Context, open openFunc, cfg RetryConfig) (Backend, error) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		b, err := open()
		if err == nil {
			if attempt > 0 {
				slog.Info("lines: backend opened after retry", "attempts", attempt+1)
			}
			return b, nil
		}

		attempt++
		if attempt > cfg.MaxRetries {
			return nil, fmt.Errorf("lines: open failed after %d attempts: %w", attempt, err)
		}

		delay := calculateBackoff(attempt, cfg)
		slog.Warn("lines: open failed, retrying",
			"error", err,
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// calculateBackoff returns retryDelay * 2^(attempt-1), capped at maxRetryDelay.
// Doubling stops at the cap (or before time.Duration overflows), so large
// attempt counts never wrap to a negative delay.
func calculateBackoff(attempt int, cfg RetryConfig) time.Duration {
	delay := cfg.RetryDelay
	for i := 1; i < attempt; i++ {
		if cfg.MaxRetryDelay > 0 && delay >= cfg.MaxRetryDelay {
			break
		}
		if delay > math.MaxInt64/2 {
			break
		}
		delay *= 2
	}
	if cfg.MaxRetryDelay > 0 && delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
