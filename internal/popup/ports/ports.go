// Package ports defines the browsing-context interfaces the popup
// coordinator depends on. Real browsers are adapted in internal/browser/jsdom,
// the in-process simulator lives in internal/browser/sim.
package ports

import "context"

//go:generate mockgen -destination=mocks/outcome_store.go -package=mocks popupflow/internal/popup/ports OutcomeStore

// Geometry describes where the current context sits on screen.
type Geometry struct {
	ScreenLeft  int
	ScreenTop   int
	InnerWidth  int
	InnerHeight int
}

// Window is a handle to a secondary browsing context (popup or tab).
type Window interface {
	Closed() bool
	Close()
	// Navigate points the context at url. It fails when the handle is closed
	// or the browser refuses access (cross-origin restrictions).
	Navigate(url string) error
	ResizeTo(width, height int)
	MoveTo(left, top int)
	Focus()
}

// Event is an inbound cross-context message.
type Event struct {
	Origin string
	Data   []byte
}

// Host is the browsing context the coordinator runs in.
type Host interface {
	Origin() string
	UserAgent() string
	// IsTopLevel reports whether the context is the top-most one. An error
	// means the ancestor chain could not be inspected (sandboxed frames).
	IsTopLevel() (bool, error)
	Geometry() Geometry

	// Open creates a secondary context. A nil Window with a nil error means
	// the browser blocked the request.
	Open(url, name, features string) (Window, error)
	Navigate(url string) error

	PostToTop(payload []byte, targetOrigin string) error
	PostToEmbedded(payload []byte) error

	OnMessage(fn func(Event)) (unsubscribe func())
	OnVisibilityChange(fn func(visible bool)) (unsubscribe func())
}

// OutcomeStore is the persisted last-outcome slot shared between the
// initiator and a tab that has no opener reference.
type OutcomeStore interface {
	Put(ctx context.Context, key, value string) error
	// Take returns the value and deletes it in one step.
	Take(ctx context.Context, key string) (string, bool, error)
}
