// Package surfacetest provides an in-memory remote surface for tests, in the
// spirit of net/http/httptest: pages are scripted as element sets and
// callbacks, and downloads are simulated by writing files into the session's
// download directory.
package surfacetest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kingrea/automega/internal/surface"
)

// Element is one scripted page element.
type Element struct {
	// Hidden elements exist but refuse input and clicks.
	Hidden bool
	Value  string
	// OnType runs after text is typed into the element.
	OnType func(d *Driver, text string)
	// OnClick runs when the element is clicked.
	OnClick func(d *Driver) error
}

// Page sets up the elements of a freshly navigated URL.
type Page func(d *Driver)

// Call records one driver invocation.
type Call struct {
	Op      string
	Locator string
	Arg     string
}

// Driver implements surface.Driver in memory.
type Driver struct {
	mu          sync.Mutex
	pages       map[string]Page
	elements    map[string]*Element
	calls       []Call
	downloadDir string
	closed      bool
}

var _ surface.Driver = (*Driver)(nil)

// NewDriver returns a driver serving the given pages.
func NewDriver(downloadDir string, pages map[string]Page) *Driver {
	return &Driver{pages: pages, elements: map[string]*Element{}, downloadDir: downloadDir}
}

// Set adds or replaces an element. Safe to call from callbacks.
func (d *Driver) Set(locator string, el Element) {
	d.elements[locator] = &el
}

// Remove deletes an element.
func (d *Driver) Remove(locator string) {
	delete(d.elements, locator)
}

// Value returns an element's current value.
func (d *Driver) Value(locator string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.elements[locator]; ok {
		return el.Value
	}
	return ""
}

// DownloadDir returns the current download directory.
func (d *Driver) DownloadDir() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.downloadDir
}

// Calls returns a copy of the recorded calls.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call{}, d.calls...)
}

// Closed reports whether Close was called.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Download writes name into the download directory after delay, the way a
// browser finishes a download some time after the click.
func (d *Driver) Download(name, body string, delay time.Duration) {
	dir := d.downloadDir
	write := func() {
		_ = os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644)
	}
	if delay <= 0 {
		write()
		return
	}
	go func() {
		time.Sleep(delay)
		write()
	}()
}

func (d *Driver) record(op, locator, arg string) error {
	d.calls = append(d.calls, Call{Op: op, Locator: locator, Arg: arg})
	if d.closed {
		return fmt.Errorf("surfacetest: driver closed")
	}
	return nil
}

func (d *Driver) element(locator string) (*Element, error) {
	el, ok := d.elements[locator]
	if !ok {
		return nil, fmt.Errorf("surfacetest: no element %s", locator)
	}
	return el, nil
}

// Navigate implements surface.Driver.
func (d *Driver) Navigate(_ context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("navigate", "", url); err != nil {
		return err
	}
	page, ok := d.pages[url]
	if !ok {
		return fmt.Errorf("surfacetest: 404 %s", url)
	}
	d.elements = map[string]*Element{}
	page(d)
	return nil
}

// Count implements surface.Driver.
func (d *Driver) Count(_ context.Context, locator string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, fmt.Errorf("surfacetest: driver closed")
	}
	if _, ok := d.elements[locator]; ok {
		return 1, nil
	}
	return 0, nil
}

// Interactable implements surface.Driver.
func (d *Driver) Interactable(_ context.Context, locator string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, err := d.element(locator)
	if err != nil {
		return false, err
	}
	return !el.Hidden, nil
}

// Clear implements surface.Driver.
func (d *Driver) Clear(_ context.Context, locator string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("clear", locator, ""); err != nil {
		return err
	}
	el, err := d.element(locator)
	if err != nil {
		return err
	}
	el.Value = ""
	return nil
}

// Type implements surface.Driver.
func (d *Driver) Type(_ context.Context, locator, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("type", locator, text); err != nil {
		return err
	}
	el, err := d.element(locator)
	if err != nil {
		return err
	}
	el.Value += text
	if el.OnType != nil {
		el.OnType(d, text)
	}
	return nil
}

// Click implements surface.Driver.
func (d *Driver) Click(_ context.Context, locator string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("click", locator, ""); err != nil {
		return err
	}
	el, err := d.element(locator)
	if err != nil {
		return err
	}
	if el.OnClick != nil {
		return el.OnClick(d)
	}
	return nil
}

// SetFile implements surface.Driver.
func (d *Driver) SetFile(_ context.Context, locator, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("upload", locator, path); err != nil {
		return err
	}
	el, err := d.element(locator)
	if err != nil {
		return err
	}
	el.Value = path
	return nil
}

// ScrollToBottom implements surface.Driver.
func (d *Driver) ScrollToBottom(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.record("scroll", "", "")
}

// SetDownloadDir implements surface.Driver.
func (d *Driver) SetDownloadDir(_ context.Context, dir string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("download-dir", "", dir); err != nil {
		return err
	}
	d.downloadDir = dir
	return nil
}

// Close implements surface.Driver.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Opener hands out a new Driver per Open call.
type Opener struct {
	mu    sync.Mutex
	Pages map[string]Page
	// Err, when set, fails every Open.
	Err     error
	drivers []*Driver
}

var _ surface.Opener = (*Opener)(nil)

// Open implements surface.Opener.
func (o *Opener) Open(_ context.Context, downloadDir string) (surface.Driver, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return nil, o.Err
	}
	d := NewDriver(downloadDir, o.Pages)
	o.drivers = append(o.drivers, d)
	return d, nil
}

// Drivers returns every driver opened so far.
func (o *Opener) Drivers() []*Driver {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Driver{}, o.drivers...)
}
