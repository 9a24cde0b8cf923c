// Package search implements the debounced user-autocomplete component: a
// query box plus a floating result overlay anchored below it. The controller
// is headless; a transport (the portal's search socket) feeds it UI events and
// renders the View callbacks it emits.
package search

import (
	"context"
	"time"
)

type Result struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type Searcher interface {
	SearchUsers(ctx context.Context, name string) ([]Result, error)
}

// Rect is the anchor's on-screen rectangle in viewport coordinates.
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Position places the overlay in document coordinates. It exists only while
// the overlay is open and is recomputed whenever the anchor moves or the
// result set changes.
type Position struct {
	Top   float64 `json:"top"`
	Left  float64 `json:"left"`
	Width float64 `json:"width"`
}

// View receives the controller's rendering decisions. The overlay lives
// outside the anchor's containment hierarchy, so it is addressed in document
// coordinates rather than relative to any parent.
type View interface {
	ShowOverlay(pos Position, results []Result)
	ShowNoResults(pos Position)
	MoveOverlay(pos Position)
	HideOverlay()
	Navigate(path string)
	ClearQuery()
}

// DismissBinder scopes the global outside-pointer-down listener to the time
// the overlay is open: Bind on open, Unbind on close or teardown, never
// leaked across open/close cycles.
type DismissBinder interface {
	Bind()
	Unbind()
}

// Variant selects the compact or full-size presentation. The two share all
// behavior; only the anchor gap differs.
type Variant string

const (
	VariantFull    Variant = "full"
	VariantCompact Variant = "compact"
)

func (v Variant) gap() float64 {
	if v == VariantCompact {
		return 4
	}
	return 8
}

type Timer interface {
	Stop() bool
}

type Clock interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
