package surface

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kingrea/automega/internal/poll"
)

const (
	// DefaultPresenceTimeout bounds waits for ordinary page elements.
	DefaultPresenceTimeout = 20 * time.Second
	// DefaultResultsTimeout bounds the wait for a remote search or alignment.
	DefaultResultsTimeout = 300 * time.Second
	// DefaultSettle is the pause before submitting or picking a suggestion.
	DefaultSettle = time.Second
	// DefaultPollInterval is how often presence is re-checked.
	DefaultPollInterval = 250 * time.Millisecond
)

// State tracks where a job is in its linear step sequence.
type State int

const (
	StateIdle State = iota
	StateNavigated
	StateFieldsFilled
	StateSubmitted
	StateResultsReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNavigated:
		return "navigated"
	case StateFieldsFilled:
		return "fields-filled"
	case StateSubmitted:
		return "submitted"
	case StateResultsReady:
		return "results-ready"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Options tunes session timing. Zero values take the defaults.
type Options struct {
	PresenceTimeout time.Duration
	ResultsTimeout  time.Duration
	// Settle is waited before submitting or picking a suggestion, while the
	// remote page is still narrowing its typeahead list.
	Settle       time.Duration
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.PresenceTimeout <= 0 {
		o.PresenceTimeout = DefaultPresenceTimeout
	}
	if o.ResultsTimeout <= 0 {
		o.ResultsTimeout = DefaultResultsTimeout
	}
	if o.Settle < 0 {
		o.Settle = 0
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// Session is one browser session. It is not safe for concurrent use; the
// batch drives exactly one session from one goroutine.
type Session struct {
	driver      Driver
	opts        Options
	state       State
	loaded      bool
	closed      bool
	downloadDir string
}

// Open establishes a session whose downloads land in downloadDir.
func Open(ctx context.Context, opener Opener, downloadDir string, opts Options) (*Session, error) {
	if opener == nil {
		return nil, fmt.Errorf("surface: opener is required")
	}
	driver, err := opener.Open(ctx, downloadDir)
	if err != nil {
		return nil, fmt.Errorf("surface: open session: %w", err)
	}
	return NewSession(driver, downloadDir, opts), nil
}

// NewSession wraps an already running driver.
func NewSession(driver Driver, downloadDir string, opts Options) *Session {
	return &Session{driver: driver, opts: opts.withDefaults(), downloadDir: downloadDir}
}

// State returns the current job state.
func (s *Session) State() State { return s.state }

// DownloadDir returns where the surface currently saves downloads.
func (s *Session) DownloadDir() string { return s.downloadDir }

// Options returns the effective timing options.
func (s *Session) Options() Options { return s.opts }

// Retarget redirects downloads when a session is reused for another query.
func (s *Session) Retarget(ctx context.Context, dir string) error {
	if err := s.usable(); err != nil {
		return err
	}
	if dir == s.downloadDir {
		return nil
	}
	if err := s.driver.SetDownloadDir(ctx, dir); err != nil {
		return fmt.Errorf("surface: retarget downloads to %s: %w", dir, err)
	}
	s.downloadDir = dir
	return nil
}

// BeginJob resets the state machine for a new job. The entry page is loaded
// when navigate is set or nothing has been loaded yet; otherwise the job
// continues on the surface the previous job left behind, which is only safe
// because every fill clears its field first.
func (s *Session) BeginJob(ctx context.Context, url string, navigate bool) error {
	if err := s.usable(); err != nil {
		return err
	}
	s.state = StateIdle
	if navigate || !s.loaded {
		return s.Navigate(ctx, url)
	}
	s.state = StateNavigated
	return nil
}

// Navigate loads a fresh interaction surface.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.require("navigate", StateIdle); err != nil {
		return err
	}
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("surface: navigate: url is required")
	}
	if err := s.driver.Navigate(ctx, url); err != nil {
		return fmt.Errorf("surface: navigate %s: %w", url, err)
	}
	s.loaded = true
	s.state = StateNavigated
	return nil
}

// AwaitPresence blocks until an element matches locator. A zero timeout
// means the presence default.
func (s *Session) AwaitPresence(ctx context.Context, locator string, timeout time.Duration) error {
	if err := s.usable(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = s.opts.PresenceTimeout
	}
	return s.await(ctx, locator, timeout)
}

// LocateRequired checks that locator matches an element that accepts input.
// Every interacting step goes through it, so "the page refused the
// interaction" is inferred in exactly one place.
func (s *Session) LocateRequired(ctx context.Context, locator string) error {
	if err := s.usable(); err != nil {
		return err
	}
	n, err := s.driver.Count(ctx, locator)
	if err != nil {
		return fmt.Errorf("surface: locate %s: %w", locator, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, locator)
	}
	ok, err := s.driver.Interactable(ctx, locator)
	if err != nil {
		return fmt.Errorf("surface: locate %s: %w", locator, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInteractable, locator)
	}
	return nil
}

// FillField clears the target and writes value into it.
func (s *Session) FillField(ctx context.Context, locator, value string) error {
	if err := s.require("fill", StateNavigated, StateFieldsFilled); err != nil {
		return err
	}
	if err := s.fill(ctx, locator, value); err != nil {
		return err
	}
	s.state = StateFieldsFilled
	return nil
}

// AssistedPick types text into a typeahead field, waits for the first
// suggestion to appear, lets the list settle and selects it.
func (s *Session) AssistedPick(ctx context.Context, field, text, suggestion string) error {
	if err := s.require("pick", StateNavigated, StateFieldsFilled); err != nil {
		return err
	}
	if err := s.fill(ctx, field, text); err != nil {
		return err
	}
	if err := s.await(ctx, suggestion, s.opts.PresenceTimeout); err != nil {
		return err
	}
	if err := poll.Sleep(ctx, s.opts.Settle); err != nil {
		return err
	}
	if err := s.click(ctx, suggestion); err != nil {
		return err
	}
	s.state = StateFieldsFilled
	return nil
}

// Upload attaches a local file to a file input. It counts as filling a field.
func (s *Session) Upload(ctx context.Context, locator, path string) error {
	if err := s.require("upload", StateNavigated, StateFieldsFilled); err != nil {
		return err
	}
	if err := s.LocateRequired(ctx, locator); err != nil {
		return err
	}
	if err := s.driver.SetFile(ctx, locator, path); err != nil {
		return fmt.Errorf("surface: upload %s: %w", locator, err)
	}
	s.state = StateFieldsFilled
	return nil
}

// Submit waits the settle delay and triggers the action.
func (s *Session) Submit(ctx context.Context, button string) error {
	if err := s.require("submit", StateFieldsFilled); err != nil {
		return err
	}
	if err := poll.Sleep(ctx, s.opts.Settle); err != nil {
		return err
	}
	if err := s.click(ctx, button); err != nil {
		return err
	}
	s.state = StateSubmitted
	return nil
}

// AwaitResults blocks until the results surface is present. A zero timeout
// means the results default, which is long because remote searches take minutes.
func (s *Session) AwaitResults(ctx context.Context, locator string, timeout time.Duration) error {
	if err := s.require("await results", StateSubmitted); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = s.opts.ResultsTimeout
	}
	if err := s.await(ctx, locator, timeout); err != nil {
		return err
	}
	s.state = StateResultsReady
	return nil
}

// Click presses an element without changing the job state. Download menus
// and "add another" buttons use it.
func (s *Session) Click(ctx context.Context, locator string) error {
	if err := s.usable(); err != nil {
		return err
	}
	if s.state == StateIdle {
		return fmt.Errorf("%w: click before navigate", ErrInvalidState)
	}
	return s.click(ctx, locator)
}

// ScrollToBottom scrolls the page.
func (s *Session) ScrollToBottom(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	if err := s.driver.ScrollToBottom(ctx); err != nil {
		return fmt.Errorf("surface: scroll: %w", err)
	}
	return nil
}

// Close ends the session. Closing twice is a no-op.
func (s *Session) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	return s.driver.Close()
}

func (s *Session) fill(ctx context.Context, locator, value string) error {
	if err := s.LocateRequired(ctx, locator); err != nil {
		return err
	}
	if err := s.driver.Clear(ctx, locator); err != nil {
		return fmt.Errorf("surface: clear %s: %w", locator, err)
	}
	if err := s.driver.Type(ctx, locator, value); err != nil {
		return fmt.Errorf("surface: type into %s: %w", locator, err)
	}
	return nil
}

func (s *Session) click(ctx context.Context, locator string) error {
	if err := s.LocateRequired(ctx, locator); err != nil {
		return err
	}
	if err := s.driver.Click(ctx, locator); err != nil {
		return fmt.Errorf("surface: click %s: %w", locator, err)
	}
	return nil
}

func (s *Session) await(ctx context.Context, locator string, timeout time.Duration) error {
	err := poll.Until(ctx, poll.Bounds{Interval: s.opts.PollInterval, Limit: timeout}, locator, func(ctx context.Context) (bool, error) {
		n, err := s.driver.Count(ctx, locator)
		if err != nil {
			return false, fmt.Errorf("surface: await %s: %w", locator, err)
		}
		return n > 0, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, poll.ErrTimeout) {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return err
	}
	return nil
}

func (s *Session) require(step string, allowed ...State) error {
	if err := s.usable(); err != nil {
		return err
	}
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not allowed in state %s", ErrInvalidState, step, s.state)
}

func (s *Session) usable() error {
	if s == nil || s.driver == nil {
		return fmt.Errorf("surface: session not open")
	}
	if s.closed {
		return ErrClosed
	}
	return nil
}
