package logbook

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Logbook is an append-only list of entries, one per line. It backs the
// per-query failure logs: entries are only ever appended, never rewritten, so
// an interrupted batch leaves every earlier line intact.
type Logbook struct {
	path string
	mu   sync.Mutex
}

// New creates a logbook that writes to the provided path. The file itself is
// created on the first append.
func New(path string) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Logbook{path: path}, nil
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes a single entry.
func (l *Logbook) Append(entry string) error {
	if l == nil {
		return fmt.Errorf("logbook: nil receiver")
	}
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return fmt.Errorf("logbook: empty entry")
	}
	if strings.ContainsAny(entry, "\r\n") {
		return fmt.Errorf("logbook: entry %q spans lines", entry)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logbook: open %s: %w", l.path, err)
	}
	if _, err := file.WriteString(entry + "\n"); err != nil {
		file.Close()
		return fmt.Errorf("logbook: append %s: %w", l.path, err)
	}
	return file.Close()
}

// Lines returns every entry in append order. A missing file has no entries.
func (l *Logbook) Lines() ([]string, error) {
	if l == nil {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if text := strings.TrimSpace(scanner.Text()); text != "" {
			lines = append(lines, text)
		}
	}
	return lines, scanner.Err()
}

// Shelf hands out one Logbook per path so appends to the same file from one
// process are serialized.
type Shelf struct {
	mu    sync.Mutex
	books map[string]*Logbook
}

// NewShelf returns an empty shelf.
func NewShelf() *Shelf {
	return &Shelf{books: map[string]*Logbook{}}
}

// Get returns the logbook for path, creating it on first use.
func (s *Shelf) Get(path string) (*Logbook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if book, ok := s.books[path]; ok {
		return book, nil
	}
	book, err := New(path)
	if err != nil {
		return nil, err
	}
	s.books[path] = book
	return book, nil
}
