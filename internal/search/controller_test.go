package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeTimer struct {
	mu      sync.Mutex
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	fn := t.fn
	t.mu.Unlock()
	fn()
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(_ time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &fakeTimer{fn: fn}
	c.timers = append(c.timers, timer)
	return timer
}

func (c *fakeClock) fireAll() {
	c.mu.Lock()
	timers := c.timers
	c.timers = nil
	c.mu.Unlock()
	for _, timer := range timers {
		timer.fire()
	}
}

type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	results map[string][]Result
	gates   map[string]chan struct{}
	err     error
}

func (s *fakeSearcher) SearchUsers(_ context.Context, name string) ([]Result, error) {
	s.mu.Lock()
	s.queries = append(s.queries, name)
	gate := s.gates[name]
	results := s.results[name]
	err := s.err
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return results, err
}

func (s *fakeSearcher) queryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

func (s *fakeSearcher) lastQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queries) == 0 {
		return ""
	}
	return s.queries[len(s.queries)-1]
}

type fakeView struct {
	mu          sync.Mutex
	open        bool
	lastPos     Position
	lastResults []Result
	shows       int
	noResults   int
	moves       []Position
	hides       int
	navs        []string
	clears      int
}

func (v *fakeView) ShowOverlay(pos Position, results []Result) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.open = true
	v.lastPos = pos
	v.lastResults = results
	v.shows++
}

func (v *fakeView) ShowNoResults(pos Position) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.open = true
	v.lastPos = pos
	v.lastResults = nil
	v.noResults++
}

func (v *fakeView) MoveOverlay(pos Position) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastPos = pos
	v.moves = append(v.moves, pos)
}

func (v *fakeView) HideOverlay() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.open = false
	v.hides++
}

func (v *fakeView) Navigate(path string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.navs = append(v.navs, path)
}

func (v *fakeView) ClearQuery() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clears++
}

func (v *fakeView) snapshot() fakeView {
	v.mu.Lock()
	defer v.mu.Unlock()
	return fakeView{
		open:        v.open,
		lastPos:     v.lastPos,
		lastResults: v.lastResults,
		shows:       v.shows,
		noResults:   v.noResults,
		hides:       v.hides,
		navs:        append([]string{}, v.navs...),
		clears:      v.clears,
	}
}

type fakeBinder struct {
	mu      sync.Mutex
	binds   int
	unbinds int
}

func (b *fakeBinder) Bind() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.binds++
}

func (b *fakeBinder) Unbind() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unbinds++
}

func (b *fakeBinder) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.binds, b.unbinds
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestController(t *testing.T, searcher *fakeSearcher) (*Controller, *fakeView, *fakeClock, *fakeBinder) {
	t.Helper()
	view := &fakeView{}
	clock := &fakeClock{}
	binder := &fakeBinder{}
	ctrl := NewController(searcher, view, Options{
		Clock:  clock,
		Binder: binder,
	})
	t.Cleanup(ctrl.Close)
	return ctrl, view, clock, binder
}

func TestShortQueriesNeverReachNetwork(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]Result{}}
	ctrl, view, clock, _ := newTestController(t, searcher)

	for _, q := range []string{"", "j", "ж"} {
		ctrl.Input(q)
	}
	clock.fireAll()

	if got := searcher.queryCount(); got != 0 {
		t.Fatalf("expected no requests for short queries, got %d", got)
	}
	if view.snapshot().open {
		t.Fatalf("expected overlay closed for short queries")
	}
}

func TestShortQueryClearsResultsAndCloses(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]Result{
		"jane": {{ID: 1, Name: "Jane Doe", Username: "janed"}},
	}}
	ctrl, view, clock, _ := newTestController(t, searcher)

	ctrl.Input("jane")
	clock.fireAll()
	waitFor(t, "overlay open", func() bool { return view.snapshot().open })

	ctrl.Input("j")
	waitFor(t, "overlay closed", func() bool { return !view.snapshot().open })

	// Results were discarded, so focus must not reopen anything.
	ctrl.Focus()
	if view.snapshot().open {
		t.Fatalf("expected no reopen after results were cleared")
	}
}

func TestLateResponseAfterShortQueryStaysDiscarded(t *testing.T) {
	gate := make(chan struct{})
	searcher := &fakeSearcher{
		results: map[string][]Result{
			"jane": {{ID: 1, Name: "Jane Doe", Username: "janed"}},
		},
		gates: map[string]chan struct{}{"jane": gate},
	}
	ctrl, view, clock, _ := newTestController(t, searcher)

	ctrl.Input("jane")
	clock.fireAll()
	waitFor(t, "request issued", func() bool { return searcher.queryCount() == 1 })

	// Query shrinks below the minimum while the response is still in flight.
	ctrl.Input("j")
	close(gate)
	time.Sleep(20 * time.Millisecond)

	snap := view.snapshot()
	if snap.open || snap.shows != 0 {
		t.Fatalf("late response reopened overlay: open=%v shows=%d results=%+v",
			snap.open, snap.shows, snap.lastResults)
	}
	ctrl.Focus()
	if view.snapshot().open {
		t.Fatalf("expected no stale results left to reopen")
	}
}

func TestLateResponseAfterSelectStaysDiscarded(t *testing.T) {
	gate := make(chan struct{})
	searcher := &fakeSearcher{
		results: map[string][]Result{
			"jane": {{ID: 1, Name: "Jane Doe", Username: "janed"}},
		},
		gates: map[string]chan struct{}{"jane": gate},
	}
	ctrl, view, clock, _ := newTestController(t, searcher)

	ctrl.Input("jane")
	clock.fireAll()
	waitFor(t, "request issued", func() bool { return searcher.queryCount() == 1 })

	// Selection while the refreshed response is still in flight.
	ctrl.Select(Result{ID: 1, Name: "Jane Doe", Username: "janed"})
	close(gate)
	time.Sleep(20 * time.Millisecond)

	snap := view.snapshot()
	if snap.open || snap.shows != 0 {
		t.Fatalf("late response reopened overlay after selection: open=%v shows=%d",
			snap.open, snap.shows)
	}
	if len(snap.navs) != 1 || snap.navs[0] != "/janed" {
		t.Fatalf("unexpected navigations %v", snap.navs)
	}
}

func TestDebounceIssuesSingleRequestForFinalQuery(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]Result{
		"jane": {{ID: 1, Name: "Jane Doe", Username: "janed"}},
	}}
	ctrl, view, clock, _ := newTestController(t, searcher)

	ctrl.Input("ja")
	ctrl.Input("jan")
	ctrl.Input("jane")
	clock.fireAll()

	waitFor(t, "overlay open", func() bool { return view.snapshot().open })
	if got := searcher.queryCount(); got != 1 {
		t.Fatalf("expected exactly one request, got %d", got)
	}
	if got := searcher.lastQuery(); got != "jane" {
		t.Fatalf("expected final query value, got %q", got)
	}
}

func TestOutOfOrderResponsesDiscarded(t *testing.T) {
	gateA := make(chan struct{})
	gateB := make(chan struct{})
	searcher := &fakeSearcher{
		results: map[string][]Result{
			"jane":  {{ID: 1, Name: "Jane Doe", Username: "janed"}},
			"janet": {{ID: 2, Name: "Janet Roe", Username: "janetr"}},
		},
		gates: map[string]chan struct{}{"jane": gateA, "janet": gateB},
	}
	ctrl, view, clock, _ := newTestController(t, searcher)

	ctrl.Input("jane")
	clock.fireAll()
	waitFor(t, "first request issued", func() bool { return searcher.queryCount() == 1 })

	ctrl.Input("janet")
	clock.fireAll()
	waitFor(t, "second request issued", func() bool { return searcher.queryCount() == 2 })

	// Newer response lands first.
	close(gateB)
	waitFor(t, "overlay open", func() bool { return view.snapshot().open })

	// Older response lands last and must be dropped.
	close(gateA)
	time.Sleep(20 * time.Millisecond)

	snap := view.snapshot()
	if len(snap.lastResults) != 1 || snap.lastResults[0].Username != "janetr" {
		t.Fatalf("expected janet's results to stay displayed, got %+v", snap.lastResults)
	}
	if snap.shows != 1 {
		t.Fatalf("expected one overlay render, got %d", snap.shows)
	}
}

func TestSubmitBypassesDebounce(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]Result{
		"jane": {{ID: 1, Name: "Jane Doe", Username: "janed"}},
	}}
	ctrl, view, clock, _ := newTestController(t, searcher)

	ctrl.Input("jane")
	ctrl.Submit()
	waitFor(t, "request issued", func() bool { return searcher.queryCount() == 1 })
	waitFor(t, "overlay open", func() bool { return view.snapshot().open })

	// The superseded debounce timer must not fire a duplicate.
	clock.fireAll()
	time.Sleep(20 * time.Millisecond)
	if got := searcher.queryCount(); got != 1 {
		t.Fatalf("expected no duplicate request after submit, got %d", got)
	}
}

func TestSubmitRespectsMinimumLength(t *testing.T) {
	searcher := &fakeSearcher{}
	ctrl, _, _, _ := newTestController(t, searcher)

	ctrl.Input("j")
	ctrl.Submit()
	time.Sleep(10 * time.Millisecond)
	if got := searcher.queryCount(); got != 0 {
		t.Fatalf("expected no request for 1-char submit, got %d", got)
	}
}

func TestSelectNavigatesWithUsernameFallback(t *testing.T) {
	searcher := &fakeSearcher{}
	ctrl, view, _, _ := newTestController(t, searcher)

	ctrl.Select(Result{ID: 5, Name: "No Handle"})
	ctrl.Select(Result{ID: 6, Name: "Jane Doe", Username: "janed"})

	snap := view.snapshot()
	if len(snap.navs) != 2 || snap.navs[0] != "/user5" || snap.navs[1] != "/janed" {
		t.Fatalf("unexpected navigations %v", snap.navs)
	}
	if snap.clears != 2 {
		t.Fatalf("expected query cleared on each selection, got %d", snap.clears)
	}
}

func TestOutsidePointerDownDismisses(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]Result{
		"jane": {{ID: 1, Name: "Jane Doe", Username: "janed"}},
	}}
	ctrl, view, clock, binder := newTestController(t, searcher)

	ctrl.Input("jane")
	clock.fireAll()
	waitFor(t, "overlay open", func() bool { return view.snapshot().open })

	binds, unbinds := binder.counts()
	if binds != 1 || unbinds != 0 {
		t.Fatalf("expected listener bound once while open, got binds=%d unbinds=%d", binds, unbinds)
	}

	// Presses inside the anchor or overlay keep it open.
	ctrl.PointerDown(true, false)
	ctrl.PointerDown(false, true)
	if !view.snapshot().open {
		t.Fatalf("expected overlay to stay open for inside presses")
	}

	ctrl.PointerDown(false, false)
	if view.snapshot().open {
		t.Fatalf("expected outside press to close overlay")
	}
	binds, unbinds = binder.counts()
	if binds != 1 || unbinds != 1 {
		t.Fatalf("expected listener released on close, got binds=%d unbinds=%d", binds, unbinds)
	}

	// Reopen cycle binds again; teardown leaves nothing held.
	ctrl.Focus()
	waitFor(t, "overlay reopened", func() bool { return view.snapshot().open })
	ctrl.Close()
	binds, unbinds = binder.counts()
	if binds != unbinds {
		t.Fatalf("leaked dismiss listener: binds=%d unbinds=%d", binds, unbinds)
	}
}

func TestFocusReopensStaleResultsWithoutRequest(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]Result{
		"jane": {{ID: 1, Name: "Jane Doe", Username: "janed"}},
	}}
	ctrl, view, clock, _ := newTestController(t, searcher)

	ctrl.Input("jane")
	clock.fireAll()
	waitFor(t, "overlay open", func() bool { return view.snapshot().open })

	ctrl.Dismiss()
	if view.snapshot().open {
		t.Fatalf("expected overlay closed after dismiss")
	}

	before := searcher.queryCount()
	ctrl.Focus()
	snap := view.snapshot()
	if !snap.open {
		t.Fatalf("expected overlay reopened on focus")
	}
	if got := searcher.queryCount(); got != before {
		t.Fatalf("expected no new request on focus, got %d extra", got-before)
	}
}

func TestEmptyResultState(t *testing.T) {
	gate := make(chan struct{})
	searcher := &fakeSearcher{
		results: map[string][]Result{"zz": {}},
		gates:   map[string]chan struct{}{"zz": gate},
	}
	ctrl, view, clock, _ := newTestController(t, searcher)

	ctrl.Input("zz")
	clock.fireAll()
	waitFor(t, "request issued", func() bool { return searcher.queryCount() == 1 })

	// While in flight the no-results affordance stays hidden.
	if view.snapshot().noResults != 0 {
		t.Fatalf("no-results shown while request in flight")
	}

	close(gate)
	waitFor(t, "no-results shown", func() bool { return view.snapshot().noResults == 1 })
}

func TestSearchErrorDegradesToEmptyState(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("connection refused")}
	ctrl, view, clock, _ := newTestController(t, searcher)

	ctrl.Input("jane")
	clock.fireAll()
	waitFor(t, "no-results shown", func() bool { return view.snapshot().noResults == 1 })
}

func TestOverlayTracksAnchorGeometry(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]Result{
		"jane": {{ID: 1, Name: "Jane Doe", Username: "janed"}},
	}}
	ctrl, view, clock, _ := newTestController(t, searcher)

	ctrl.SetAnchor(Rect{Top: 100, Left: 50, Width: 300, Height: 40}, 10, 20)
	ctrl.Input("jane")
	clock.fireAll()
	waitFor(t, "overlay open", func() bool { return view.snapshot().open })

	snap := view.snapshot()
	want := Position{Top: 100 + 40 + 20 + 8, Left: 50 + 10, Width: 300}
	if snap.lastPos != want {
		t.Fatalf("expected %+v, got %+v", want, snap.lastPos)
	}

	// Scroll moves the overlay without closing it.
	hidesBefore := snap.hides
	ctrl.SetAnchor(Rect{Top: 60, Left: 50, Width: 300, Height: 40}, 10, 80)
	snap = view.snapshot()
	if !snap.open || snap.hides != hidesBefore {
		t.Fatalf("expected overlay to stay open through scroll")
	}
	want = Position{Top: 60 + 40 + 80 + 8, Left: 60, Width: 300}
	if snap.lastPos != want {
		t.Fatalf("expected repositioned overlay %+v, got %+v", want, snap.lastPos)
	}
}

func TestCompactVariantUsesSmallerGap(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]Result{
		"jane": {{ID: 1, Name: "Jane Doe", Username: "janed"}},
	}}
	view := &fakeView{}
	clock := &fakeClock{}
	ctrl := NewController(searcher, view, Options{Clock: clock, Variant: VariantCompact})
	t.Cleanup(ctrl.Close)

	ctrl.SetAnchor(Rect{Top: 10, Left: 0, Width: 200, Height: 30}, 0, 0)
	ctrl.Input("jane")
	clock.fireAll()
	waitFor(t, "overlay open", func() bool { return view.snapshot().open })

	want := Position{Top: 10 + 30 + 4, Left: 0, Width: 200}
	if got := view.snapshot().lastPos; got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}
