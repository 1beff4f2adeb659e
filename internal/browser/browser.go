// Package browser drives a real Chrome through the DevTools protocol and
// implements surface.Driver. Locators are XPath expressions.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"

	"github.com/kingrea/automega/internal/logging"
	"github.com/kingrea/automega/internal/surface"
)

var log = logging.Get("browser")

// Options configures the Chrome process.
type Options struct {
	Headless bool
	// ExecPath overrides Chrome discovery.
	ExecPath string
}

// Opener starts one Chrome process per session.
type Opener struct {
	Options Options
}

var _ surface.Opener = Opener{}

// Open launches Chrome with downloads directed at downloadDir.
func (o Opener) Open(ctx context.Context, downloadDir string) (surface.Driver, error) {
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "prepare download dir %s", downloadDir)
	}
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", o.Options.Headless))
	if o.Options.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.Options.ExecPath))
	}
	// The browser outlives the caller's context; Close ends it.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithErrorf(log.Errorf))
	d := &Driver{ctx: tabCtx, cancel: func() { cancelTab(); cancelAlloc() }}
	// The first Run allocates the browser and ties it to the context it is given.
	if err := chromedp.Run(tabCtx); err != nil {
		d.cancel()
		return nil, eris.Wrap(err, "start browser")
	}
	if err := d.run(ctx, setDownloadDir(downloadDir)); err != nil {
		d.cancel()
		return nil, eris.Wrap(err, "start browser")
	}
	log.Debugf("browser started, downloads in %s", downloadDir)
	return d, nil
}

// Driver is a single Chrome tab.
type Driver struct {
	ctx    context.Context
	cancel func()
	once   sync.Once
}

var _ surface.Driver = (*Driver)(nil)

func setDownloadDir(dir string) chromedp.Action {
	return cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
		WithDownloadPath(dir).
		WithEventsEnabled(true)
}

// run executes actions on the tab, aborting when either the caller's context
// or the tab ends.
func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(d.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// first returns the first node matching locator.
func (d *Driver) first(ctx context.Context, locator string) (*cdp.Node, error) {
	var nodes []*cdp.Node
	if err := d.run(ctx, chromedp.Nodes(locator, &nodes, chromedp.BySearch, chromedp.AtLeast(0))); err != nil {
		return nil, eris.Wrapf(err, "query %s", locator)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("browser: query %s: %w", locator, surface.ErrNotFound)
	}
	return nodes[0], nil
}

func xpathScript(locator, body string) string {
	quoted, _ := json.Marshal(locator)
	return fmt.Sprintf(`(() => {
	const r = document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
	%s
})()`, quoted, body)
}

// Navigate implements surface.Driver.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := d.run(ctx, chromedp.Navigate(url)); err != nil {
		return eris.Wrapf(err, "navigate %s", url)
	}
	return nil
}

// Count implements surface.Driver.
func (d *Driver) Count(ctx context.Context, locator string) (int, error) {
	var n int
	if err := d.run(ctx, chromedp.Evaluate(xpathScript(locator, "return r.snapshotLength;"), &n)); err != nil {
		return 0, eris.Wrapf(err, "count %s", locator)
	}
	return n, nil
}

const interactableBody = `if (r.snapshotLength === 0) return false;
	const el = r.snapshotItem(0);
	if (el.disabled || el.readOnly) return false;
	const style = window.getComputedStyle(el);
	if (style.visibility === "hidden" || style.display === "none") return false;
	return el.getClientRects().length > 0;`

// Interactable implements surface.Driver. An element counts when it is
// rendered, visible and enabled; the same test Selenium applies before it
// raises "element not interactable".
func (d *Driver) Interactable(ctx context.Context, locator string) (bool, error) {
	var ok bool
	if err := d.run(ctx, chromedp.Evaluate(xpathScript(locator, interactableBody), &ok)); err != nil {
		return false, eris.Wrapf(err, "inspect %s", locator)
	}
	return ok, nil
}

// Clear implements surface.Driver.
func (d *Driver) Clear(ctx context.Context, locator string) error {
	node, err := d.first(ctx, locator)
	if err != nil {
		return err
	}
	if err := d.run(ctx, chromedp.Clear([]cdp.NodeID{node.NodeID}, chromedp.ByNodeID)); err != nil {
		return interactErr(err, "clear %s", locator)
	}
	return nil
}

// Type implements surface.Driver.
func (d *Driver) Type(ctx context.Context, locator, text string) error {
	node, err := d.first(ctx, locator)
	if err != nil {
		return err
	}
	if err := d.run(ctx, chromedp.SendKeys([]cdp.NodeID{node.NodeID}, text, chromedp.ByNodeID)); err != nil {
		return interactErr(err, "type into %s", locator)
	}
	return nil
}

// Click implements surface.Driver with a real mouse click at the element,
// which menus that ignore synthetic click events still honour.
func (d *Driver) Click(ctx context.Context, locator string) error {
	node, err := d.first(ctx, locator)
	if err != nil {
		return err
	}
	if err := d.run(ctx,
		chromedp.ScrollIntoView([]cdp.NodeID{node.NodeID}, chromedp.ByNodeID),
		chromedp.MouseClickNode(node),
	); err != nil {
		return interactErr(err, "click %s", locator)
	}
	return nil
}

// SetFile implements surface.Driver.
func (d *Driver) SetFile(ctx context.Context, locator, path string) error {
	node, err := d.first(ctx, locator)
	if err != nil {
		return err
	}
	if err := d.run(ctx, chromedp.SetUploadFiles([]cdp.NodeID{node.NodeID}, []string{path}, chromedp.ByNodeID)); err != nil {
		return eris.Wrapf(err, "upload %s", path)
	}
	return nil
}

// ScrollToBottom implements surface.Driver.
func (d *Driver) ScrollToBottom(ctx context.Context) error {
	if err := d.run(ctx, chromedp.Evaluate(`void window.scrollTo(0, document.body.scrollHeight)`, nil)); err != nil {
		return eris.Wrap(err, "scroll")
	}
	return nil
}

// SetDownloadDir implements surface.Driver.
func (d *Driver) SetDownloadDir(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "prepare download dir %s", dir)
	}
	if err := d.run(ctx, setDownloadDir(dir)); err != nil {
		return eris.Wrapf(err, "set download dir %s", dir)
	}
	return nil
}

// Close implements surface.Driver. It shuts the browser down.
func (d *Driver) Close() error {
	d.once.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
	})
	return nil
}

// interactErr wraps a failed interaction, marking DevTools errors that mean
// the element could not receive input so they classify like a refused step.
func interactErr(err error, format string, args ...any) error {
	wrapped := eris.Wrapf(err, format, args...)
	if notInteractable(err) {
		return fmt.Errorf("%w: %w", surface.ErrNotInteractable, wrapped)
	}
	return wrapped
}

func notInteractable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not interactable") ||
		strings.Contains(msg, "could not compute box model") ||
		strings.Contains(msg, "node is not visible")
}
