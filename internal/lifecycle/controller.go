// ABOUTME: Maps screen focus and app foreground signals onto agent resume/background calls
// ABOUTME: Backgrounding waits out a short settle dwell so quick focus flips do not thrash

package lifecycle

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/convo-sync/internal/convo"
)

// Target is the part of the conversation agent the controller drives.
type Target interface {
	ConvoID() string
	LatestSeq() int64
	Resume() error
	Background() error
}

// Watcher is implemented by targets that publish snapshots. When the target
// is one, a resume that starts a history load is followed by a second read
// receipt once the load lands, since the position known at the trigger is
// stale or zero.
type Watcher interface {
	Snapshot() *convo.State
	Subscribe(l convo.Listener) (unsubscribe func())
}

// ReadMarker queues a read receipt. It must not block.
type ReadMarker interface {
	MarkRead(convoID string, upTo int64)
}

// AppStateActive is the app-state string that means foreground.
const AppStateActive = "active"

// Option configures a Controller.
type Option func(*Controller)

// WithSettle sets how long a background request waits before reaching the
// agent. Zero applies it immediately.
func WithSettle(d time.Duration) Option {
	return func(c *Controller) {
		c.settle = d
	}
}

// WithLogger sets the controller's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithForeground sets the initial app foreground state. Apps start in the
// foreground unless told otherwise.
func WithForeground(fg bool) Option {
	return func(c *Controller) {
		c.foreground = fg
	}
}

// Controller tracks whether the conversation screen is focused and whether
// the app is in the foreground.
type Controller struct {
	target   Target
	receipts ReadMarker
	settle   time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	focused    bool
	foreground bool
	closed     bool

	pending    *time.Timer
	pendingGen uint64

	watcher   Watcher
	unwatch   func()
	awaitLoad bool
}

// New creates a controller for target. receipts may be nil.
func New(target Target, receipts ReadMarker, opts ...Option) *Controller {
	c := &Controller{
		target:     target,
		receipts:   receipts,
		settle:     250 * time.Millisecond,
		logger:     slog.Default(),
		foreground: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "lifecycle", "convo_id", target.ConvoID())
	if w, ok := target.(Watcher); ok {
		c.watcher = w
		c.unwatch = w.Subscribe(c.onState)
	}
	return c
}

// SetScreenFocused reports a focus change of the conversation screen.
func (c *Controller) SetScreenFocused(focused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || focused == c.focused {
		return
	}
	c.focused = focused

	switch {
	case focused && c.foreground:
		c.resumeLocked("focus")
	case !focused:
		c.backgroundLocked("blur")
	}
}

// SetAppForeground reports the app moving to or from the foreground. It is
// ignored while the screen is not focused.
func (c *Controller) SetAppForeground(fg bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || fg == c.foreground {
		return
	}
	c.foreground = fg

	if !c.focused {
		return
	}
	if fg {
		c.resumeLocked("app_foreground")
	} else {
		c.backgroundLocked("app_background")
	}
}

// SetAppState accepts a platform app-state string. Only "active" counts as
// foreground.
func (c *Controller) SetAppState(state string) {
	c.SetAppForeground(state == AppStateActive)
}

// Focused reports the last focus signal.
func (c *Controller) Focused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focused
}

// Close drops any pending background request. Later signals are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	c.cancelPendingLocked()
	c.closed = true
	c.awaitLoad = false
	unwatch := c.unwatch
	c.unwatch = nil
	c.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
}

func (c *Controller) resumeLocked(trigger string) {
	c.cancelPendingLocked()
	if err := c.target.Resume(); err != nil {
		c.logger.Warn("resume failed", "trigger", trigger, "error", err)
	}
	// Check for a pending load before reading the position, so a load that
	// lands in between is still covered by one of the two receipts.
	if c.watcher != nil {
		st := c.watcher.Snapshot()
		c.awaitLoad = st != nil && st.Syncing
	}
	c.markReadLocked()
}

// onState sends the follow-up receipt once the load started by a resume has
// been applied and the conversation is still in view.
func (c *Controller) onState(st *convo.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.awaitLoad || c.closed {
		return
	}
	switch {
	case st.Status == convo.StatusError, st.Status == convo.StatusDestroyed:
		c.awaitLoad = false
	case st.Syncing || !st.Status.Active():
	default:
		c.awaitLoad = false
		if c.focused && c.foreground && c.receipts != nil {
			c.receipts.MarkRead(c.target.ConvoID(), st.LatestSeq)
		}
	}
}

func (c *Controller) backgroundLocked(trigger string) {
	c.awaitLoad = false
	c.markReadLocked()

	if c.settle <= 0 {
		c.applyBackground(trigger)
		return
	}

	c.cancelPendingLocked()
	gen := c.pendingGen
	c.pending = time.AfterFunc(c.settle, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.pendingGen || c.closed {
			return
		}
		c.pending = nil
		c.applyBackground(trigger)
	})
}

func (c *Controller) applyBackground(trigger string) {
	err := c.target.Background()
	switch {
	case err == nil:
	case errors.Is(err, convo.ErrInvalidState), errors.Is(err, convo.ErrDestroyed):
		c.logger.Debug("background skipped", "trigger", trigger, "error", err)
	default:
		c.logger.Warn("background failed", "trigger", trigger, "error", err)
	}
}

func (c *Controller) cancelPendingLocked() {
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	c.pendingGen++
}

func (c *Controller) markReadLocked() {
	if c.receipts == nil {
		return
	}
	c.receipts.MarkRead(c.target.ConvoID(), c.target.LatestSeq())
}
