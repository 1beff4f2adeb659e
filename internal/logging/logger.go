package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	gologging "github.com/op/go-logging"
)

// FileName is the run log created inside the logs directory.
const FileName = "automega.log"

const format = `%{time:2006-01-02 15:04:05} %{level:.5s} [%{module}] %{message}`

// Options configures the logging backends.
type Options struct {
	// Dir receives the append-only run log so an overnight batch can be
	// inspected after the terminal is gone. Empty disables the file backend.
	Dir string
	// Level is a go-logging level name (DEBUG, INFO, NOTICE, WARNING, ERROR).
	Level string
	// Console receives the same records; nil means stderr, io.Discard silences
	// it while the progress view owns the terminal.
	Console io.Writer
}

// Logger owns the run log file handle.
type Logger struct {
	file *os.File
	path string
}

// Init installs the console and run-log backends for every module logger.
func Init(opts Options) (*Logger, error) {
	level := gologging.INFO
	if name := strings.TrimSpace(opts.Level); name != "" {
		parsed, err := gologging.LogLevel(name)
		if err != nil {
			return nil, fmt.Errorf("logging: %w", err)
		}
		level = parsed
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	formatter := gologging.MustStringFormatter(format)
	backends := []gologging.Backend{
		gologging.NewBackendFormatter(gologging.NewLogBackend(console, "", 0), formatter),
	}

	logger := &Logger{}
	if dir := strings.TrimSpace(opts.Dir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("logging: ensure log dir: %w", err)
		}
		path := filepath.Join(dir, FileName)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		logger.file = f
		logger.path = path
		backends = append(backends, gologging.NewBackendFormatter(gologging.NewLogBackend(f, "", 0), formatter))
	}

	leveled := gologging.SetBackend(backends...)
	leveled.SetLevel(level, "")
	return logger, nil
}

// Get returns the named module logger.
func Get(module string) *gologging.Logger {
	return gologging.MustGetLogger(module)
}

// Path returns the run log location, or "" when no file backend is active.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
