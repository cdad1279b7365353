package crawl

import (
	"context"
	"time"
)

// pause sleeps for d unless the context is canceled first. Court sites are
// shared public infrastructure; every stage spaces its requests out.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
