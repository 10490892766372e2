package orchestrator

import (
	"context"
	"log/slog"
	"time"
	"workloadlauncher/internal/observability"
	"workloadlauncher/pkg/backoff"
)

// RetryConfig bounds retries of transient platform errors.
type RetryConfig struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	Jitter   float64 // Fraction of each delay randomized away
}

// Retrier runs platform calls, retrying transient failures and counting
// every failure that is surfaced.
type Retrier struct {
	cfg       RetryConfig
	transient func(error) bool
	metrics   *observability.Metrics
}

// NewRetrier creates a retrier. transient decides which errors are retried;
// metrics may be nil.
func NewRetrier(cfg RetryConfig, transient func(error) bool, metrics *observability.Metrics) *Retrier {
	return &Retrier{cfg: cfg, transient: transient, metrics: metrics}
}

// Do runs fn under the retry policy. The error that survives retries is
// recorded against op and returned unchanged for the caller to classify.
// Failures caused by ctx ending are not recorded.
func (r *Retrier) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	policy := backoff.Policy{
		Attempts:  r.cfg.Attempts,
		Backoff:   backoff.Config{Initial: r.cfg.Initial, Max: r.cfg.Max, Jitter: r.cfg.Jitter},
		Retryable: r.transient,
		OnRetry: func(try int, err error, delay time.Duration) {
			r.metrics.RecordPlatformRetry(ctx, op)
			slog.Debug("Retrying platform call", "operation", op, "try", try, "delay", delay, "error", err)
		},
	}

	err := policy.Do(ctx, fn)
	if err != nil && ctx.Err() == nil {
		r.metrics.RecordPlatformError(ctx, op)
	}
	return err
}

// Fail records a platform failure that did not go through Do.
func (r *Retrier) Fail(ctx context.Context, op string) {
	r.metrics.RecordPlatformError(ctx, op)
}
