// Package docwatch subscribes to mutations of one document and turns every
// relevant notification batch into a single reconcile signal. A watcher is
// bound to one document instance at a time; rebinding to a new instance
// bumps its generation so signals from the old instance can be told apart.
package docwatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/hazyhaar/entryturbo/turbo/dom"
)

// Scope names which document a watcher follows.
type Scope int

const (
	Host Scope = iota
	Frame
)

func (s Scope) String() string {
	if s == Frame {
		return "frame"
	}
	return "host"
}

// Markers are the class names that make a mutation relevant.
type Markers struct {
	Control   []string // ON and OFF marker of the control
	Container string   // elevated popup container
}

func (m Markers) watch() []string {
	out := append([]string{}, m.Control...)
	if m.Container != "" {
		out = append(out, m.Container)
	}
	return out
}

// Relevant reports whether any mutation in b involves the control or the
// container: an added or removed node carrying or containing one of their
// markers, or a class change on a container node.
func Relevant(b dom.Batch, m Markers) bool {
	for _, rec := range b.Records {
		switch rec.Type {
		case dom.ChildList:
			for _, n := range rec.Nodes {
				for _, c := range m.Control {
					if n.Carries(c) {
						return true
					}
				}
				if m.Container != "" && n.Carries(m.Container) {
					return true
				}
			}
		case dom.Attributes:
			if rec.Attribute == "class" && m.Container != "" && rec.Target.HasClass(m.Container) {
				return true
			}
		}
	}
	return false
}

// Signal asks the owner to run a reconcile pass.
type Signal struct {
	Scope       Scope
	Generation  uint64
	DocumentKey string
}

// Watcher follows one document slot (host or frame).
type Watcher struct {
	scope   Scope
	markers Markers
	out     chan<- Signal
	logger  *slog.Logger

	sub    dom.Subscription
	closed *atomic.Bool
	key    string
	gen    uint64

	batches atomic.Int64
	signals atomic.Int64
}

// New creates an unbound watcher that posts signals to out. Sends never
// block: when out is full the signal is dropped, a pass is already queued.
func New(scope Scope, markers Markers, out chan<- Signal, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{scope: scope, markers: markers, out: out, logger: logger}
}

// Bind subscribes to doc unless already bound to that same instance. It
// reports whether a new subscription was made. On failure the watcher is
// left unbound and inert.
func (w *Watcher) Bind(ctx context.Context, doc dom.Document) (bool, error) {
	if w.sub != nil && w.key == doc.Key() {
		return false, nil
	}
	w.Close()

	w.gen++
	gen, key, scope := w.gen, doc.Key(), w.scope
	closed := new(atomic.Bool)

	sub, err := doc.Observe(ctx, dom.ObserveOptions{
		Attributes: []string{"class", "style"},
		Watch:      w.markers.watch(),
	}, func(b dom.Batch) {
		if closed.Load() {
			return
		}
		w.batches.Add(1)
		if !Relevant(b, w.markers) {
			return
		}
		select {
		case w.out <- Signal{Scope: scope, Generation: gen, DocumentKey: key}:
			w.signals.Add(1)
		default:
		}
	})
	if err != nil {
		return false, fmt.Errorf("docwatch: observe %s: %w", w.scope, err)
	}

	w.sub, w.closed, w.key = sub, closed, key
	w.logger.Debug("docwatch: bound", "scope", w.scope, "document", key, "generation", gen)
	return true, nil
}

// Current reports whether s comes from the live subscription.
func (w *Watcher) Current(s Signal) bool {
	return w.sub != nil && s.Scope == w.scope && s.Generation == w.gen && s.DocumentKey == w.key
}

// Bound reports whether a subscription is live.
func (w *Watcher) Bound() bool { return w.sub != nil }

// DocumentKey returns the key of the bound document, or "".
func (w *Watcher) DocumentKey() string { return w.key }

// Generation returns the number of subscriptions made so far.
func (w *Watcher) Generation() uint64 { return w.gen }

// Close releases the subscription. Callbacks already in flight are
// discarded. Safe to call on an unbound watcher.
func (w *Watcher) Close() {
	if w.sub == nil {
		return
	}
	w.closed.Store(true)
	if err := w.sub.Close(); err != nil {
		w.logger.Debug("docwatch: close", "scope", w.scope, "error", err)
	}
	w.sub, w.closed, w.key = nil, nil, ""
}

// Counts returns the number of batches seen and signals posted.
func (w *Watcher) Counts() (batches, signals int64) {
	return w.batches.Load(), w.signals.Load()
}
