package tasks

import (
	"context"
	"time"
)

// DefaultInterval is the task synchronization period.
const DefaultInterval = 2 * time.Second

// Poll runs pass once immediately, then on every interval tick while
// active reports true. Activity is checked at the top of each tick; the
// first inactive check ends the loop. ctx ends it unconditionally.
// Poll returns immediately; the ticks run on their own goroutine.
func Poll(ctx context.Context, interval time.Duration, active func() bool, pass func()) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	pass()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !active() {
					return
				}
				pass()
			}
		}
	}()
}
