// Package control owns the single toggle button injected next to the anchor.
// The button is recognised by its marker class, never by handle identity,
// because the host page may destroy and rebuild it at any time.
package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/entryturbo/turbo/dom"
	"github.com/hazyhaar/entryturbo/turbo/internal/anchor"
)

// Appearance holds the ON/OFF variants of the button.
type Appearance struct {
	MarkerOn  string
	MarkerOff string
	LabelOn   string
	LabelOff  string
	ColorOn   string
	ColorOff  string
}

// DefaultAppearance matches the editor's own button palette.
var DefaultAppearance = Appearance{
	MarkerOn:  "isTurboButtonON",
	MarkerOff: "isTurboButtonOFF",
	LabelOn:   "터보모드 켜짐",
	LabelOff:  "터보모드 꺼짐",
	ColorOn:   "rgb(22, 216, 163)",
	ColorOff:  "rgb(226, 226, 226)",
}

func (a *Appearance) defaults() {
	d := DefaultAppearance
	if a.MarkerOn == "" {
		a.MarkerOn = d.MarkerOn
	}
	if a.MarkerOff == "" {
		a.MarkerOff = d.MarkerOff
	}
	if a.LabelOn == "" {
		a.LabelOn = d.LabelOn
	}
	if a.LabelOff == "" {
		a.LabelOff = d.LabelOff
	}
	if a.ColorOn == "" {
		a.ColorOn = d.ColorOn
	}
	if a.ColorOff == "" {
		a.ColorOff = d.ColorOff
	}
}

// Marker returns the marker class for mode.
func (a Appearance) Marker(mode bool) string {
	if mode {
		return a.MarkerOn
	}
	return a.MarkerOff
}

// Label returns the button text for mode.
func (a Appearance) Label(mode bool) string {
	if mode {
		return a.LabelOn
	}
	return a.LabelOff
}

// Color returns the background color for mode.
func (a Appearance) Color(mode bool) string {
	if mode {
		return a.ColorOn
	}
	return a.ColorOff
}

// Selector matches a control in either state.
func (a Appearance) Selector() string {
	return "." + a.MarkerOn + ", ." + a.MarkerOff
}

// Outcome tells what Ensure did.
type Outcome int

const (
	Adopted Outcome = iota + 1
	Created
)

func (o Outcome) String() string {
	switch o {
	case Adopted:
		return "adopted"
	case Created:
		return "created"
	}
	return "none"
}

// Lifecycle creates or adopts the control and rewrites its appearance.
// It is not safe for concurrent use; the engine loop owns it.
type Lifecycle struct {
	app     Appearance
	onClick func()
	logger  *slog.Logger

	el dom.Element
}

// New creates a Lifecycle. onClick is attached to every button it creates
// and must only hand the event over to the owner's loop.
func New(app Appearance, onClick func(), logger *slog.Logger) *Lifecycle {
	app.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{app: app, onClick: onClick, logger: logger}
}

// Appearance returns the effective appearance.
func (l *Lifecycle) Appearance() Appearance { return l.app }

// Forget drops the stored handle. The element itself is left to the page.
func (l *Lifecycle) Forget() { l.el = nil }

// Ensure guarantees a control sits among the anchor's siblings. An existing
// marked control under the anchor's parent is adopted untouched; otherwise a
// new one is built for mode and inserted directly after the anchor.
func (l *Lifecycle) Ensure(ctx context.Context, a anchor.Anchor, mode bool) (dom.Element, Outcome, error) {
	parent, err := a.Element.Parent(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("control: anchor parent: %w", err)
	}
	if parent == nil {
		return nil, 0, dom.ErrDetached
	}

	existing, err := parent.Query(ctx, l.app.Selector())
	if err != nil {
		return nil, 0, fmt.Errorf("control: look up existing: %w", err)
	}
	if existing != nil {
		l.el = existing
		return existing, Adopted, nil
	}

	el, err := l.build(ctx, a.Document, mode)
	if err != nil {
		return nil, 0, err
	}
	if err := el.InsertAfter(ctx, a.Element); err != nil {
		return nil, 0, fmt.Errorf("control: insert: %w", err)
	}
	l.el = el
	l.logger.Debug("control: created", "document", a.Document.Key(), "in_frame", a.InFrame, "mode", mode)
	return el, Created, nil
}

func (l *Lifecycle) build(ctx context.Context, doc dom.Document, mode bool) (dom.Element, error) {
	el, err := doc.CreateElement(ctx, "button")
	if err != nil {
		return nil, fmt.Errorf("control: create: %w", err)
	}
	if err := el.SetClassName(ctx, l.app.Marker(mode)); err != nil {
		return nil, fmt.Errorf("control: class: %w", err)
	}
	if err := el.SetText(ctx, l.app.Label(mode)); err != nil {
		return nil, fmt.Errorf("control: label: %w", err)
	}
	if err := el.SetStyle(ctx, l.baseStyle(mode)); err != nil {
		return nil, fmt.Errorf("control: style: %w", err)
	}
	if l.onClick != nil {
		if err := el.OnClick(ctx, l.onClick); err != nil {
			return nil, fmt.Errorf("control: click handler: %w", err)
		}
	}
	return el, nil
}

func (l *Lifecycle) baseStyle(mode bool) []dom.StyleProp {
	return []dom.StyleProp{
		{Name: "padding", Value: "5px 10px"},
		{Name: "float", Value: "right"},
		{Name: "fontSize", Value: "12px"},
		{Name: "border", Value: "none"},
		{Name: "borderRadius", Value: "4px"},
		{Name: "cursor", Value: "pointer"},
		{Name: "backgroundColor", Value: l.app.Color(mode)},
		{Name: "color", Value: "white"},
		{Name: "fontWeight", Value: "bold"},
	}
}

// Refresh rewrites label, background and marker class for mode. With no
// control yet it does nothing. The marker is written last: after a partial
// failure it still names the old mode, so the adopt check repairs the
// control on the next pass. A failed write also drops the handle.
func (l *Lifecycle) Refresh(ctx context.Context, mode bool) error {
	if l.el == nil {
		return nil
	}
	err := l.el.SetText(ctx, l.app.Label(mode))
	if err == nil {
		err = l.el.SetStyle(ctx, []dom.StyleProp{{Name: "backgroundColor", Value: l.app.Color(mode)}})
	}
	if err == nil {
		err = l.el.SetClassName(ctx, l.app.Marker(mode))
	}
	if err != nil {
		l.el = nil
		return fmt.Errorf("control: refresh: %w", err)
	}
	return nil
}
