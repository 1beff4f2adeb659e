package batch

import (
	"errors"
	"time"

	"github.com/kingrea/automega/internal/artifact"
	"github.com/kingrea/automega/internal/jobs"
	"github.com/kingrea/automega/internal/surface"
)

// Status is how a job ended.
type Status string

const (
	StatusArchived Status = "archived"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Outcome is emitted once per job, in matrix order.
type Outcome struct {
	Job    jobs.Job
	Status Status
	// Kind is set for failed jobs.
	Kind jobs.FailureKind
	// Path is the canonical artifact for archived or skipped jobs.
	Path    string
	Err     error
	Elapsed time.Duration
}

// Failure returns the record written to the failure log for a failed job.
func (o Outcome) Failure() (jobs.FailureRecord, bool) {
	if o.Status != StatusFailed {
		return jobs.FailureRecord{}, false
	}
	rec := jobs.FailureRecord{Job: o.Job, Kind: o.Kind}
	if o.Err != nil {
		rec.Detail = o.Err.Error()
	}
	return rec, true
}

// Summary counts outcomes.
type Summary struct {
	RunID    string
	Stage    string
	Total    int
	Archived int
	Skipped  int
	Failed   int
	ByKind   map[jobs.FailureKind]int
	Elapsed  time.Duration
}

// Done returns how many jobs have finished.
func (s Summary) Done() int {
	return s.Archived + s.Skipped + s.Failed
}

func (s *Summary) add(o Outcome) {
	switch o.Status {
	case StatusArchived:
		s.Archived++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
		if s.ByKind == nil {
			s.ByKind = map[jobs.FailureKind]int{}
		}
		s.ByKind[o.Kind]++
	}
}

// Classify maps a job error onto the failure taxonomy. A refused interaction
// is the surface's way of saying "no match", so both locate errors are
// NoResult.
func Classify(err error) jobs.FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, surface.ErrNotFound), errors.Is(err, surface.ErrNotInteractable):
		return jobs.NoResult
	case errors.Is(err, surface.ErrTimeout):
		return jobs.RemoteTimeout
	case errors.Is(err, artifact.ErrDownloadTimeout):
		return jobs.DownloadTimeout
	case errors.Is(err, artifact.ErrArchiveConflict):
		return jobs.ArchiveConflict
	default:
		return jobs.Unknown
	}
}

// Observer receives progress events. Calls happen on the batch goroutine and
// must not block for long.
type Observer interface {
	BatchStarted(runID string, total int)
	JobStarted(job jobs.Job)
	JobFinished(outcome Outcome)
	BatchFinished(summary Summary, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) BatchStarted(string, int)     {}
func (NopObserver) JobStarted(jobs.Job)          {}
func (NopObserver) JobFinished(Outcome)          {}
func (NopObserver) BatchFinished(Summary, error) {}
