// Package poll provides the bounded polling primitive shared by every wait in
// the batch: element presence on the remote surface, result pages and
// downloaded files all go through Until so their timing semantics match.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultInterval is used when Bounds.Interval is zero.
const DefaultInterval = time.Second

// ErrTimeout is matched by every TimeoutError.
var ErrTimeout = errors.New("poll: limit reached")

// Bounds describes how often a condition is checked and for how long.
type Bounds struct {
	Interval time.Duration
	Limit    time.Duration
}

func (b Bounds) interval() time.Duration {
	if b.Interval <= 0 {
		return DefaultInterval
	}
	return b.Interval
}

// Condition reports whether the awaited state has been reached. A non-nil
// error stops polling immediately.
type Condition func(ctx context.Context) (bool, error)

// TimeoutError names what was being awaited when the limit ran out.
type TimeoutError struct {
	What  string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("poll: %s not reached within %s", e.What, e.Limit)
}

// Unwrap lets errors.Is(err, ErrTimeout) match.
func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// Until checks cond immediately and then once per interval. It returns nil on
// the first true result and a *TimeoutError only once the full limit has
// elapsed without one. The final check runs at the deadline itself.
func Until(ctx context.Context, b Bounds, what string, cond Condition) error {
	if cond == nil {
		return fmt.Errorf("poll: condition is required")
	}
	done, err := cond(ctx)
	if err != nil || done {
		return err
	}
	if b.Limit <= 0 {
		return &TimeoutError{What: what, Limit: b.Limit}
	}
	deadline := time.NewTimer(b.Limit)
	defer deadline.Stop()
	ticker := time.NewTicker(b.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			done, err := cond(ctx)
			if err != nil || done {
				return err
			}
			return &TimeoutError{What: what, Limit: b.Limit}
		case <-ticker.C:
			done, err := cond(ctx)
			if err != nil || done {
				return err
			}
		}
	}
}

// Sleep pauses for d unless ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
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
