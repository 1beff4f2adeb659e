// Package artifact handles the files a remote surface delivers: waiting for a
// download to appear under its fixed, service-chosen name, then archiving it
// under a canonical per-organism name without ever overwriting earlier results.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrDownloadTimeout means the expected file never appeared.
	ErrDownloadTimeout = errors.New("artifact: download timed out")
	// ErrArchiveConflict means the canonical path is already taken.
	ErrArchiveConflict = errors.New("artifact: canonical artifact already exists")
)

// partialSuffixes mark files a browser is still writing.
var partialSuffixes = []string{".crdownload", ".part", ".download"}

// State describes what is on disk at a path.
type State string

const (
	StateMissing State = "missing"
	StatePartial State = "partial"
	StateReady   State = "ready"
)

// Check inspects path. A file with an in-progress sibling is partial.
func Check(path string) (State, fs.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return StateMissing, nil, nil
		}
		return StateMissing, nil, err
	}
	if info.IsDir() {
		return StateMissing, nil, fmt.Errorf("artifact: %s is a directory", path)
	}
	for _, suffix := range partialSuffixes {
		if _, err := os.Stat(path + suffix); err == nil {
			return StatePartial, info, nil
		}
	}
	return StateReady, info, nil
}

// IsPartialName reports whether name is a browser's in-progress download.
func IsPartialName(name string) bool {
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// Expectation is created per job right before its download step.
type Expectation struct {
	// ExpectedPath is where the surface saves the file under its fixed name.
	ExpectedPath string
	// CanonicalPath is the per-organism archive name.
	CanonicalPath string
	PollInterval  time.Duration
	Timeout       time.Duration
}

// NewExpectation builds the expectation for one organism's download.
func NewExpectation(dir, rawName, organism, ext string, interval, timeout time.Duration) Expectation {
	return Expectation{
		ExpectedPath:  filepath.Join(dir, rawName),
		CanonicalPath: filepath.Join(dir, organism+ext),
		PollInterval:  interval,
		Timeout:       timeout,
	}
}

// Clear removes a leftover raw file (and partial siblings) so the wait can
// only be satisfied by this job's download. Left in place, the browser would
// save the new file as "name (1).ext" and the wait would see the stale one.
func (e Expectation) Clear() error {
	paths := []string{e.ExpectedPath}
	for _, suffix := range partialSuffixes {
		paths = append(paths, e.ExpectedPath+suffix)
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("artifact: clear stale %s: %w", p, err)
		}
	}
	return nil
}

// Archived reports whether the canonical artifact already exists.
func (e Expectation) Archived() bool {
	state, _, err := Check(e.CanonicalPath)
	return err == nil && state == StateReady
}
