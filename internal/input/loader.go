// Package input loads the organism and query lists. Lists are often saved by
// spreadsheet tools on Japanese Windows machines, so several encodings are
// tried in a fixed order and the first one that decodes the whole file wins.
package input

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"

	"github.com/kingrea/automega/internal/logging"
)

var log = logging.Get("input")

var (
	// ErrUnsupportedFormat is returned for files whose extension is not a known text format.
	ErrUnsupportedFormat = errors.New("input: unsupported file format")
	// ErrDecodeExhausted is returned when no configured encoding decodes the file.
	ErrDecodeExhausted = errors.New("input: no encoding could decode the file")
)

// DefaultEncodings is the priority order used when none is configured.
var DefaultEncodings = []string{"utf-8", "shift-jis", "cp932"}

// DefaultExtensions lists the accepted list file extensions.
var DefaultExtensions = []string{".txt"}

// LoadError names the file that could not be loaded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("input: load %q: %v", filepath.Base(e.Path), e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Loader reads text lists.
type Loader struct {
	encodings  []string
	extensions map[string]struct{}
}

// NewLoader builds a loader. Empty arguments fall back to the defaults.
// Unknown encoding names are rejected up front.
func NewLoader(encodings, extensions []string) (*Loader, error) {
	if len(encodings) == 0 {
		encodings = DefaultEncodings
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	for _, name := range encodings {
		if _, err := lookup(name); err != nil {
			return nil, err
		}
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		exts[strings.ToLower(ext)] = struct{}{}
	}
	return &Loader{encodings: append([]string{}, encodings...), extensions: exts}, nil
}

// Load returns the file's lines decoded with the first encoding that accepts
// every byte. Nothing is returned unless the whole file decoded.
func (l *Loader) Load(path string) ([]string, error) {
	lines, _, err := l.LoadWithEncoding(path)
	return lines, err
}

// LoadWithEncoding is Load plus the name of the encoding that succeeded.
func (l *Loader) LoadWithEncoding(path string) ([]string, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := l.extensions[ext]; !ok {
		log.Errorf("%s: only text lists are supported (got %q)", filepath.Base(path), ext)
		return nil, "", &LoadError{Path: path, Err: ErrUnsupportedFormat}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Errorf("%s: %v", filepath.Base(path), err)
		return nil, "", &LoadError{Path: path, Err: err}
	}
	for _, name := range l.encodings {
		text, ok := decode(name, data)
		if !ok {
			continue
		}
		log.Debugf("%s decoded as %s", filepath.Base(path), name)
		return SplitLines(text), name, nil
	}
	log.Errorf("could not load %q in %s", filepath.Base(path), strings.Join(l.encodings, ", "))
	return nil, "", &LoadError{Path: path, Err: ErrDecodeExhausted}
}

// SplitLines splits on \n, \r\n and \r. A final line terminator does not
// produce a trailing empty entry.
func SplitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	if text == "" {
		return []string{}
	}
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}

func decode(name string, data []byte) (string, bool) {
	if isUTF8(name) {
		data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
		if !utf8.Valid(data) {
			return "", false
		}
		return string(data), true
	}
	enc, err := lookup(name)
	if err != nil {
		return "", false
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	// Legacy decoders substitute U+FFFD for bytes they cannot map instead of
	// failing, which would silently corrupt names.
	if bytes.ContainsRune(out, utf8.RuneError) {
		return "", false
	}
	return string(out), true
}

func isUTF8(name string) bool {
	switch normalizeName(name) {
	case "utf-8", "utf8":
		return true
	}
	return false
}

func lookup(name string) (encoding.Encoding, error) {
	switch normalizeName(name) {
	case "utf-8", "utf8":
		return encoding.Nop, nil
	case "shift-jis", "shift_jis", "sjis", "cp932", "ms932", "windows-31j":
		return japanese.ShiftJIS, nil
	case "euc-jp", "eucjp":
		return japanese.EUCJP, nil
	case "iso-2022-jp":
		return japanese.ISO2022JP, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("input: unknown encoding %q", name)
	}
	return enc, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
