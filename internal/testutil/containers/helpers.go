//go:build integration

package containers

import (
	"context"
	"fmt"
	"time"
)

// retry calls fn until it succeeds, doubling the delay between attempts up
// to maxDelay.
func retry(ctx context.Context, attempts int, delay, maxDelay time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w (last error: %w)", ctx.Err(), lastErr)
		case <-time.After(delay):
			delay = min(delay*2, maxDelay)
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}
