package supervisor

import (
	"context"
	"time"
)

// withRetry runs fn up to tries times. After a failed attempt it sleeps
// baseDelay*(attempt+1), so delays grow linearly. The last error is returned.
// Context cancellation interrupts both the sleep and further attempts.
func withRetry(ctx context.Context, tries int, baseDelay time.Duration, fn func() error) error {
	if tries < 1 {
		tries = 1
	}
	var last error
	for attempt := 0; attempt < tries; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}
		if last = fn(); last == nil {
			return nil
		}
		if attempt == tries-1 {
			break
		}
		t := time.NewTimer(baseDelay * time.Duration(attempt+1))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return last
		}
	}
	return last
}
