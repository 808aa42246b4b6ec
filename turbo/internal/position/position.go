// Package position decides the inline style of the control from the page
// layout and where the control currently sits.
package position

import (
	"context"

	"github.com/hazyhaar/entryturbo/turbo/dom"
	"github.com/hazyhaar/entryturbo/turbo/internal/pagectx"
)

// DefaultElevatedDepth bounds the ancestor walk for the popup marker.
const DefaultElevatedDepth = 10

// Style is the positional part of the control's inline style. An empty
// field clears the property. When Margin is set it resets every side and
// the per-side fields are not written.
type Style struct {
	Position     string
	Right        string
	Bottom       string
	Margin       string
	MarginRight  string
	MarginTop    string
	MarginBottom string
	Float        string
}

var (
	// FrameStyle: project layout, control inside the child frame.
	FrameStyle = Style{Float: "right", MarginRight: "150px", MarginTop: "12px", MarginBottom: "12px"}
	// HostStyle: project layout, control still in the host document.
	HostStyle = Style{Float: "right", MarginRight: "10px", MarginTop: "12px", MarginBottom: "12px"}
	// ElevatedStyle: workspace layout inside a popup container.
	ElevatedStyle = Style{Position: "absolute", Right: "100px", Bottom: "9.5px", Margin: "0", Float: "right"}
	// WorkspaceStyle: plain workspace layout.
	WorkspaceStyle = Style{Float: "right", MarginTop: "2.5px"}
)

// Placement describes where the control sits. InFrame only matters for the
// project layout and Elevated only for the workspace layout.
type Placement struct {
	InFrame  bool
	Elevated bool
}

// For returns the style for c and p. ok is false for Unknown: the caller
// must not touch the control.
func For(c pagectx.Context, p Placement) (s Style, ok bool) {
	switch c {
	case pagectx.ProjectOrFrameView:
		if p.InFrame {
			return FrameStyle, true
		}
		return HostStyle, true
	case pagectx.WorkspaceView:
		if p.Elevated {
			return ElevatedStyle, true
		}
		return WorkspaceStyle, true
	}
	return Style{}, false
}

// Props returns the ordered property writes for s.
func (s Style) Props() []dom.StyleProp {
	props := []dom.StyleProp{
		{Name: "position", Value: s.Position},
		{Name: "right", Value: s.Right},
		{Name: "bottom", Value: s.Bottom},
	}
	if s.Margin != "" {
		props = append(props, dom.StyleProp{Name: "margin", Value: s.Margin})
	} else {
		props = append(props,
			dom.StyleProp{Name: "margin", Value: ""},
			dom.StyleProp{Name: "marginRight", Value: s.MarginRight},
			dom.StyleProp{Name: "marginTop", Value: s.MarginTop},
			dom.StyleProp{Name: "marginBottom", Value: s.MarginBottom},
		)
	}
	return append(props, dom.StyleProp{Name: "float", Value: s.Float})
}

// HasAncestorClass walks at most depth ancestors of el, starting at its
// parent, looking for class. Lookup errors count as "not found".
func HasAncestorClass(ctx context.Context, el dom.Element, class string, depth int) bool {
	if depth <= 0 {
		depth = DefaultElevatedDepth
	}
	cur, err := el.Parent(ctx)
	for i := 0; err == nil && cur != nil && i < depth; i++ {
		if ok, herr := cur.HasClass(ctx, class); herr == nil && ok {
			return true
		}
		cur, err = cur.Parent(ctx)
	}
	return false
}
