// Package surface models one scripted conversation with a slow, asynchronous
// remote UI. A Session owns a Driver (one browser session) and exposes the
// small step vocabulary batch scripts are written in: navigate, fill,
// assisted pick, submit and the presence/result waits.
package surface

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means no element matches a locator the step requires.
	ErrNotFound = errors.New("surface: element not found")
	// ErrNotInteractable means the element exists but cannot take input or clicks.
	ErrNotInteractable = errors.New("surface: element not interactable")
	// ErrTimeout means a presence or results wait ran out.
	ErrTimeout = errors.New("surface: timed out")
	// ErrInvalidState means a step was issued out of order.
	ErrInvalidState = errors.New("surface: invalid session state")
	// ErrClosed means the session has been closed.
	ErrClosed = errors.New("surface: session closed")
)

// Driver is the remote interaction surface as seen by a session. Locators are
// opaque strings (XPath for the browser driver) supplied by stage definitions.
type Driver interface {
	// Navigate loads url and returns once the document has loaded.
	Navigate(ctx context.Context, url string) error
	// Count returns how many elements currently match locator.
	Count(ctx context.Context, locator string) (int, error)
	// Interactable reports whether the first match can currently accept input.
	Interactable(ctx context.Context, locator string) (bool, error)
	// Clear empties the first match's value.
	Clear(ctx context.Context, locator string) error
	// Type writes text into the first match.
	Type(ctx context.Context, locator, text string) error
	// Click clicks the first match.
	Click(ctx context.Context, locator string) error
	// SetFile attaches a local file to the first matching file input.
	SetFile(ctx context.Context, locator, path string) error
	// ScrollToBottom scrolls the document so lazily rendered links become clickable.
	ScrollToBottom(ctx context.Context) error
	// SetDownloadDir redirects future downloads.
	SetDownloadDir(ctx context.Context, dir string) error
	// Close ends the browser session.
	Close() error
}

// Opener starts a driver whose downloads land in downloadDir.
type Opener interface {
	Open(ctx context.Context, downloadDir string) (Driver, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, downloadDir string) (Driver, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, downloadDir string) (Driver, error) {
	return f(ctx, downloadDir)
}
