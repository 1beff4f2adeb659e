package artifact

import (
	"context"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Leases hands out exclusive use of download directories. Two jobs
// downloading into one directory would race on the same fixed file name.
type Leases struct {
	mu   sync.Mutex
	dirs map[string]*semaphore.Weighted
}

// NewLeases returns an empty lease table.
func NewLeases() *Leases {
	return &Leases{dirs: map[string]*semaphore.Weighted{}}
}

func (l *Leases) sem(dir string) *semaphore.Weighted {
	key := filepath.Clean(dir)
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.dirs[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.dirs[key] = sem
	}
	return sem
}

// Acquire blocks until dir is free or ctx ends.
func (l *Leases) Acquire(ctx context.Context, dir string) (func(), error) {
	sem := l.sem(dir)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, nil
}
