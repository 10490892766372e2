package backoff

import (
	"context"
	"time"
)

// Policy bounds how often a transient failure is retried.
type Policy struct {
	Attempts  int              // Total tries, at least 1
	Backoff   Config           // Delay between tries
	Retryable func(error) bool // nil retries nothing
	OnRetry   func(try int, err error, delay time.Duration)

	// Wait blocks for d or until ctx ends. nil uses a timer.
	Wait func(ctx context.Context, d time.Duration) error
}

// Do runs op until it succeeds, returns a non-retryable error or runs out of
// tries. The last error from op is returned, also when ctx ends while
// waiting between tries.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := max(p.Attempts, 1)
	wait := p.Wait
	if wait == nil {
		wait = sleep
	}

	var err error
	for try := 1; ; try++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if try >= attempts || p.Retryable == nil || !p.Retryable(err) {
			return err
		}

		delay := p.Backoff.Delay(try)
		if p.OnRetry != nil {
			p.OnRetry(try, err, delay)
		}
		if wait(ctx, delay) != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
