package pipeline

import (
	"context"
	"time"
)

// DelayTicker schedules interval cycles. The first tick fires immediately.
// Each later tick fires one period after the previous tick; if that instant
// has already passed, the tick fires immediately and the schedule is
// re-anchored to now, so missed ticks are never replayed as a burst.
type DelayTicker struct {
	period  time.Duration
	next    time.Time
	started bool
	now     func() time.Time
}

// NewDelayTicker creates a ticker with the given period.
func NewDelayTicker(period time.Duration) *DelayTicker {
	return &DelayTicker{period: period, now: time.Now}
}

// Period returns the ticker's period.
func (t *DelayTicker) Period() time.Duration { return t.period }

// Tick blocks until the next tick and returns ctx.Err() if ctx is done
// first.
func (t *DelayTicker) Tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := t.now()
	if !t.started {
		t.started = true
		t.next = now.Add(t.period)
		return nil
	}

	if !now.Before(t.next) {
		t.next = now.Add(t.period)
		return nil
	}

	timer := time.NewTimer(t.next.Sub(now))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		t.next = t.next.Add(t.period)
		return nil
	}
}
