// Package dom defines the capability surface the turbo engine uses to reach
// a live page. Every access that can legitimately fail (missing frame,
// cross-origin document, detached element) returns an error instead of
// assuming success, so the engine can degrade to "nothing this pass".
//
// Two implementations exist: the CDP-backed one in turbo/internal/browser
// and the in-memory one in turbo/dom/htmldom.
package dom

import (
	"context"
	"errors"
)

var (
	// ErrUnreachable means a document exists but cannot be read from the
	// engine's execution context (no frame yet, not loaded, cross-origin).
	ErrUnreachable = errors.New("dom: document unreachable")

	// ErrDetached means an element handle no longer belongs to a live tree.
	ErrDetached = errors.New("dom: element detached")
)

// Page is the top-level browsing context the engine is attached to.
type Page interface {
	// Location returns the current location href.
	Location(ctx context.Context) (string, error)

	// Host returns the top-level document.
	Host(ctx context.Context) (Document, error)

	// Frame returns the document of the first child frame. It returns
	// ErrUnreachable when there is no frame or its document is not readable.
	Frame(ctx context.Context) (Document, error)

	// SetGlobal writes value into window[object][field] of the host window
	// (inFrame=false) or of the first child frame's window (inFrame=true).
	// It reports whether the object existed; absence is not an error.
	SetGlobal(ctx context.Context, inFrame bool, object, field string, value bool) (bool, error)
}

// Document is one document instance. Key changes whenever the instance is
// replaced (frame reload, document.open).
type Document interface {
	Key() string
	Query(ctx context.Context, selector string) (Element, error)
	CreateElement(ctx context.Context, tag string) (Element, error)
	Observe(ctx context.Context, opts ObserveOptions, fn func(Batch)) (Subscription, error)
}

// Element is a handle on a node. A nil Element from Query means no match.
type Element interface {
	Parent(ctx context.Context) (Element, error)
	Query(ctx context.Context, selector string) (Element, error)
	OwnerDocument(ctx context.Context) (Document, error)
	HasClass(ctx context.Context, class string) (bool, error)
	SetClassName(ctx context.Context, class string) error
	SetText(ctx context.Context, text string) error
	// SetStyle writes inline style properties in order. An empty value
	// clears the property.
	SetStyle(ctx context.Context, props []StyleProp) error
	// InsertAfter moves the receiver so that it directly follows ref.
	InsertAfter(ctx context.Context, ref Element) error
	// OnClick registers fn to run when the element is clicked. fn is called
	// from the implementation's own goroutine.
	OnClick(ctx context.Context, fn func()) error
}

// StyleProp is one inline style property, camelCase as in CSSStyleDeclaration.
type StyleProp struct {
	Name  string
	Value string
}

// Subscription is a live mutation subscription. Close is idempotent.
type Subscription interface {
	Close() error
}
