// Package anchor finds the reference element the control is attached to.
// In the project/iframe layout it lives in the child frame's document; in
// the workspace layout it lives in the host document. One selector per
// layout, no fallbacks.
package anchor

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/entryturbo/turbo/dom"
	"github.com/hazyhaar/entryturbo/turbo/internal/pagectx"
)

// ErrNotFound means the target document is readable but the anchor is not
// (yet) in it. Callers retry on the next pass.
var ErrNotFound = errors.New("anchor: not found")

// Default selectors for the editor's minimise button.
const (
	DefaultProjectSelector   = ".entryEngineButtonMinimize.entryCoordinateButtonMinimize"
	DefaultWorkspaceSelector = ".entryEngineButtonWorkspace_w.entryEngineTopWorkspace.entryCoordinateButtonWorkspace_w"
)

// Anchor is a located reference element. It is not owned and may vanish
// at any moment.
type Anchor struct {
	Element  dom.Element
	Document dom.Document
	InFrame  bool
}

// Locator holds the per-context selectors.
type Locator struct {
	ProjectSelector   string
	WorkspaceSelector string
}

// NewLocator returns a Locator, falling back to the default selectors.
func NewLocator(project, workspace string) *Locator {
	if project == "" {
		project = DefaultProjectSelector
	}
	if workspace == "" {
		workspace = DefaultWorkspaceSelector
	}
	return &Locator{ProjectSelector: project, WorkspaceSelector: workspace}
}

// Selector returns the selector for c, or "" for Unknown.
func (l *Locator) Selector(c pagectx.Context) string {
	switch c {
	case pagectx.ProjectOrFrameView:
		return l.ProjectSelector
	case pagectx.WorkspaceView:
		return l.WorkspaceSelector
	}
	return ""
}

// Locate searches the document c designates. It returns dom.ErrUnreachable
// when that document cannot be read and ErrNotFound when the selector has
// no match.
func (l *Locator) Locate(ctx context.Context, page dom.Page, c pagectx.Context) (Anchor, error) {
	sel := l.Selector(c)
	if sel == "" {
		return Anchor{}, ErrNotFound
	}

	var (
		doc     dom.Document
		err     error
		inFrame = c == pagectx.ProjectOrFrameView
	)
	if inFrame {
		doc, err = page.Frame(ctx)
	} else {
		doc, err = page.Host(ctx)
	}
	if err != nil {
		if errors.Is(err, dom.ErrUnreachable) {
			return Anchor{}, err
		}
		return Anchor{}, fmt.Errorf("anchor: %w: %v", dom.ErrUnreachable, err)
	}

	el, err := doc.Query(ctx, sel)
	if err != nil {
		return Anchor{}, fmt.Errorf("anchor: query %s: %w", c, err)
	}
	if el == nil {
		return Anchor{}, ErrNotFound
	}
	return Anchor{Element: el, Document: doc, InFrame: inFrame}, nil
}

// Transient reports whether err is a normal, retryable absence.
func Transient(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, dom.ErrUnreachable) || errors.Is(err, dom.ErrDetached)
}
