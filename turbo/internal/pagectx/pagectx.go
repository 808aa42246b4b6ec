// Package pagectx classifies the current location into one of the fixed
// editor layouts the engine knows how to decorate.
package pagectx

import "strings"

// Context is the page layout currently shown.
type Context int

const (
	Unknown Context = iota
	// ProjectOrFrameView hosts the editor inside a child frame
	// (/project/... and /iframe/... pages).
	ProjectOrFrameView
	// WorkspaceView hosts the editor in the top-level document (/ws/...).
	WorkspaceView
)

func (c Context) String() string {
	switch c {
	case ProjectOrFrameView:
		return "project"
	case WorkspaceView:
		return "workspace"
	default:
		return "unknown"
	}
}

// Classify maps a location href to a Context. Project and iframe patterns
// take precedence over the workspace pattern, so a location can never
// classify as both.
func Classify(location string) Context {
	switch {
	case strings.Contains(location, "/project/"), strings.Contains(location, "/iframe/"):
		return ProjectOrFrameView
	case strings.Contains(location, "/ws/"):
		return WorkspaceView
	default:
		return Unknown
	}
}
