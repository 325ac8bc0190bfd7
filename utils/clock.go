package utils

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// SelectContextOrWaitClock waits until the duration has elapsed on clk or the context is done.
// It returns true if the duration elapsed and false if the context finished first.
func SelectContextOrWaitClock(ctx context.Context, clk clock.Clock, dur time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if dur <= 0 {
		return true
	}
	timer := clk.Timer(dur)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}
	return true
}
