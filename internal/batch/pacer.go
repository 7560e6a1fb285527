// Package batch renders several styles of one photo in sequence under the
// generative backend's rate limits.
package batch

import (
	"context"
	"time"
)

// DefaultDelay is the pause between two consecutive generator calls.
const DefaultDelay = 2 * time.Second

// Pacer runs tasks one after another with a fixed pause between them. There
// is no pause before the first task nor after the last.
type Pacer struct {
	Delay time.Duration
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Run calls task for indexes 0..n-1 and stops at the first error.
func (p Pacer) Run(ctx context.Context, n int, task func(ctx context.Context, i int) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	for i := 0; i < n; i++ {
		if i > 0 && p.Delay > 0 {
			if err := sleep(ctx, p.Delay); err != nil {
				return err
			}
		}
		if err := task(ctx, i); err != nil {
			return err
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
