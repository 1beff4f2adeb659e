package artifact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kingrea/automega/internal/poll"
)

// DefaultDownloadTimeout bounds a download wait when none is configured.
const DefaultDownloadTimeout = 120 * time.Second

// Waiter polls the filesystem for a downloaded file.
//
// Detection is existence-based: the file counts as delivered once it exists
// under its final name and no in-progress sibling is present. Browsers write
// to a temporary name and rename on completion; a surface that writes the
// final name incrementally could be archived half-written. RequireStable
// narrows that window by also requiring the size to hold across two polls.
type Waiter struct {
	Interval      time.Duration
	RequireStable bool
}

// Await returns as soon as path is detected, or an error wrapping
// ErrDownloadTimeout once limit has elapsed without detection.
func (w Waiter) Await(ctx context.Context, path string, limit time.Duration) error {
	if limit <= 0 {
		limit = DefaultDownloadTimeout
	}
	lastSize := int64(-1)
	err := poll.Until(ctx, poll.Bounds{Interval: w.Interval, Limit: limit}, path, func(context.Context) (bool, error) {
		state, info, err := Check(path)
		if err != nil {
			return false, err
		}
		if state != StateReady {
			lastSize = -1
			return false, nil
		}
		if !w.RequireStable {
			return true, nil
		}
		size := info.Size()
		stable := size == lastSize
		lastSize = size
		return stable, nil
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, poll.ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrDownloadTimeout, err)
	}
	return err
}
