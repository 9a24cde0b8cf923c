package search

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

type Options struct {
	Debounce       time.Duration // quiet period before a typed query dispatches; default 300ms
	MinQueryLen    int           // queries shorter than this never reach the network; default 2
	RequestTimeout time.Duration // per search request; default 5s
	Variant        Variant
	Clock          Clock
	Binder         DismissBinder
}

// Controller drives one autocomplete session. Typed queries are debounced and
// tagged with a monotonically increasing sequence number; a response is
// applied only if no newer query has been issued since, so results always
// reflect issuance order even when responses arrive out of order.
type Controller struct {
	searcher Searcher
	view     View
	binder   DismissBinder
	clock    Clock
	debounce time.Duration
	minQuery int
	timeout  time.Duration
	gap      float64

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	query    string
	results  []Result
	open     bool
	noMatch  bool
	anchor   Rect
	scrollX  float64
	scrollY  float64
	seq      uint64
	accepted uint64
	timer    Timer
	timerGen uint64
	bound    bool
	closed   bool
}

func NewController(searcher Searcher, view View, opts Options) *Controller {
	if opts.Debounce <= 0 {
		opts.Debounce = 300 * time.Millisecond
	}
	if opts.MinQueryLen <= 0 {
		opts.MinQueryLen = 2
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		searcher: searcher,
		view:     view,
		binder:   opts.Binder,
		clock:    opts.Clock,
		debounce: opts.Debounce,
		minQuery: opts.MinQueryLen,
		timeout:  opts.RequestTimeout,
		gap:      opts.Variant.gap(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetAnchor records the anchor's viewport rectangle and the document scroll
// offsets. Called on resize and on scroll anywhere in the document; an open
// overlay tracks the anchor without closing.
func (c *Controller) SetAnchor(rect Rect, scrollX, scrollY float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.anchor = rect
	c.scrollX = scrollX
	c.scrollY = scrollY
	if c.open {
		c.view.MoveOverlay(c.positionLocked())
	}
}

// Input registers a keystroke-updated query. Dispatch waits for the quiet
// period; a newer query supersedes any pending one (last write wins).
func (c *Controller) Input(query string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.query = query
	c.stopTimerLocked()

	if utf8.RuneCountInString(query) < c.minQuery {
		c.results = nil
		c.noMatch = false
		c.discardInFlightLocked()
		c.closeOverlayLocked()
		return
	}

	gen := c.timerGen
	c.timer = c.clock.AfterFunc(c.debounce, func() {
		c.fireDebounce(gen, query)
	})
}

// Submit dispatches the current query immediately, bypassing the debounce.
// The minimum-length gate still applies.
func (c *Controller) Submit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if strings.TrimSpace(c.query) == "" {
		return
	}
	if utf8.RuneCountInString(c.query) < c.minQuery {
		return
	}
	c.stopTimerLocked()
	c.dispatchLocked(c.query)
}

// Focus reopens the overlay over stale results from a prior query without
// issuing a new request.
func (c *Controller) Focus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.open {
		return
	}
	if len(c.results) > 0 {
		c.noMatch = false
		c.showLocked()
	}
}

// PointerDown reports a document-level pointer-down. A press outside both the
// anchor and the overlay dismisses the overlay; presses inside either leave
// it open.
func (c *Controller) PointerDown(insideAnchor, insideOverlay bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.open {
		return
	}
	if insideAnchor || insideOverlay {
		return
	}
	c.closeOverlayLocked()
}

// Select navigates to the chosen user's profile route, falling back to the
// synthetic "user{id}" handle when no username is set, and clears the query
// and overlay.
func (c *Controller) Select(result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	path := "/" + result.Username
	if result.Username == "" {
		path = fmt.Sprintf("/user%d", result.ID)
	}
	c.query = ""
	c.results = nil
	c.noMatch = false
	c.stopTimerLocked()
	c.discardInFlightLocked()
	c.closeOverlayLocked()
	c.view.ClearQuery()
	c.view.Navigate(path)
}

// Dismiss closes the overlay without clearing the query or results.
func (c *Controller) Dismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closeOverlayLocked()
}

// Close tears the controller down: pending timers are cancelled, in-flight
// responses are discarded, and the dismiss listener is released.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.stopTimerLocked()
	c.cancel()
	if c.bound {
		c.binder.Unbind()
		c.bound = false
	}
}

func (c *Controller) fireDebounce(gen uint64, query string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.timerGen {
		return
	}
	c.dispatchLocked(query)
}

func (c *Controller) dispatchLocked(query string) {
	c.seq++
	seq := c.seq
	ctx := c.ctx
	go func() {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		results, err := c.searcher.SearchUsers(reqCtx, query)
		if err != nil {
			// Read-path failures degrade to the empty-result state.
			results = nil
		}
		c.apply(seq, results)
	}()
}

func (c *Controller) apply(seq uint64, results []Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	// Drop the response unless it answers the latest issued query.
	if seq != c.seq || seq <= c.accepted {
		return
	}
	c.accepted = seq
	c.results = results
	c.noMatch = len(results) == 0
	c.showLocked()
}

func (c *Controller) showLocked() {
	c.open = true
	if !c.bound && c.binder != nil {
		c.binder.Bind()
		c.bound = true
	}
	pos := c.positionLocked()
	if c.noMatch {
		c.view.ShowNoResults(pos)
		return
	}
	results := make([]Result, len(c.results))
	copy(results, c.results)
	c.view.ShowOverlay(pos, results)
}

func (c *Controller) closeOverlayLocked() {
	if c.bound {
		c.binder.Unbind()
		c.bound = false
	}
	if !c.open {
		return
	}
	c.open = false
	c.view.HideOverlay()
}

func (c *Controller) positionLocked() Position {
	return Position{
		Top:   c.anchor.Top + c.anchor.Height + c.scrollY + c.gap,
		Left:  c.anchor.Left + c.scrollX,
		Width: c.anchor.Width,
	}
}

// discardInFlightLocked invalidates any dispatched request whose response has
// not landed yet, so clearing the results cannot be undone by a late arrival.
func (c *Controller) discardInFlightLocked() {
	c.accepted = c.seq
}

func (c *Controller) stopTimerLocked() {
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
