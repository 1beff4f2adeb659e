package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kingrea/automega/internal/config"
	"github.com/kingrea/automega/internal/jobs"
	"github.com/kingrea/automega/internal/logbook"
)

// Archiver renames downloads into place and keeps the failure side logs.
type Archiver struct {
	layout config.Layout
	stage  string
	books  *logbook.Shelf
	// Force lets Archive replace an existing canonical artifact. Only an
	// operator decision enables it.
	Force bool
}

// NewArchiver builds an archiver for one stage of the output tree.
func NewArchiver(layout config.Layout, stage string) *Archiver {
	return &Archiver{layout: layout, stage: stage, books: logbook.NewShelf()}
}

// Archive moves rawPath to canonicalPath. An existing canonicalPath yields
// ErrArchiveConflict and is left untouched unless Force is set.
func (a *Archiver) Archive(rawPath, canonicalPath string) error {
	if _, err := os.Stat(rawPath); err != nil {
		return fmt.Errorf("artifact: archive %s: %w", filepath.Base(rawPath), err)
	}
	if a.Force {
		if err := os.Rename(rawPath, canonicalPath); err != nil {
			return fmt.Errorf("artifact: archive %s: %w", filepath.Base(canonicalPath), err)
		}
		return nil
	}
	// A hard link fails atomically when the target exists, unlike rename.
	err := os.Link(rawPath, canonicalPath)
	switch {
	case err == nil:
		if err := os.Remove(rawPath); err != nil {
			return fmt.Errorf("artifact: drop raw %s: %w", filepath.Base(rawPath), err)
		}
		return nil
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %s", ErrArchiveConflict, canonicalPath)
	}
	// Filesystems without hard links fall back to check-then-rename.
	if _, statErr := os.Lstat(canonicalPath); statErr == nil {
		return fmt.Errorf("%w: %s", ErrArchiveConflict, canonicalPath)
	}
	if err := os.Rename(rawPath, canonicalPath); err != nil {
		return fmt.Errorf("artifact: archive %s: %w", filepath.Base(canonicalPath), err)
	}
	return nil
}

// Quarantine moves a raw download that could not be archived aside, next to
// its canonical name, so the next job's wait cannot mistake it for its own.
func (a *Archiver) Quarantine(rawPath, canonicalPath, tag string) (string, error) {
	ext := filepath.Ext(canonicalPath)
	stem := strings.TrimSuffix(canonicalPath, ext)
	target := fmt.Sprintf("%s.%s.conflict%s", stem, tag, ext)
	if err := os.Rename(rawPath, target); err != nil {
		return "", fmt.Errorf("artifact: quarantine %s: %w", filepath.Base(rawPath), err)
	}
	return target, nil
}

// RecordFailure appends the failed organism to the (query, kind) side log,
// creating it on first use.
func (a *Archiver) RecordFailure(rec jobs.FailureRecord) error {
	queryID := rec.Job.Query.ID
	book, err := a.FailureLog(queryID, rec.Kind)
	if err != nil {
		return fmt.Errorf("artifact: failure log %s: %w", jobs.FailureLogName(queryID, rec.Kind), err)
	}
	return book.Append(string(rec.Job.Organism))
}

// FailureLog returns the logbook for a (query, kind) pair.
func (a *Archiver) FailureLog(queryID string, kind jobs.FailureKind) (*logbook.Logbook, error) {
	return a.books.Get(a.layout.FailureLogPath(a.stage, queryID, string(kind)))
}
