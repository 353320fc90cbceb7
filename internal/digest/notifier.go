package digest

import (
	"context"
	"time"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the wait before the first retry when the platform gives
	// no Retry-After hint.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the wait between retries.
	maxBackoff = time.Minute
)

// Notifier delivers a digest message to one destination.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, msg Message) error
}

// rateLimit inspects an error and reports whether it was a rate limit, along
// with the wait the platform asked for (zero when it gave none).
type rateLimit func(err error) (limited bool, retryAfter time.Duration)

// retryOnRateLimit calls fn, retrying rate-limited failures with exponential
// backoff. Any other error is returned immediately.
func retryOnRateLimit(ctx context.Context, base time.Duration, limited rateLimit, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		ok, wait := limited(err)
		if !ok || attempt == maxRetries {
			return err
		}
		if wait <= 0 {
			wait = base << attempt
		}
		wait = min(wait, maxBackoff)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
