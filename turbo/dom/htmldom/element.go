package htmldom

import (
	"context"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/entryturbo/turbo/dom"
)

// Element is an in-memory element handle.
type Element struct {
	doc *Document
	n   *html.Node
}

func (e *Element) Parent(_ context.Context) (dom.Element, error) {
	e.doc.page.mu.Lock()
	defer e.doc.page.mu.Unlock()
	p := e.n.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil, nil
	}
	return &Element{doc: e.doc, n: p}, nil
}

func (e *Element) Query(_ context.Context, sel string) (dom.Element, error) {
	e.doc.page.mu.Lock()
	defer e.doc.page.mu.Unlock()
	n := parseSelector(sel).first(e.n)
	if n == nil {
		return nil, nil
	}
	return &Element{doc: e.doc, n: n}, nil
}

func (e *Element) OwnerDocument(_ context.Context) (dom.Document, error) {
	return e.doc, nil
}

func (e *Element) HasClass(_ context.Context, class string) (bool, error) {
	e.doc.page.mu.Lock()
	defer e.doc.page.mu.Unlock()
	return hasClass(e.n, class), nil
}

func (e *Element) SetClassName(_ context.Context, class string) error {
	e.doc.page.mu.Lock()
	defer e.doc.page.mu.Unlock()
	setAttr(e.n, "class", class)
	e.doc.record(rawMutation{typ: dom.Attributes, attr: "class", target: e.n})
	return nil
}

func (e *Element) SetText(_ context.Context, text string) error {
	e.doc.page.mu.Lock()
	defer e.doc.page.mu.Unlock()
	var removed []*html.Node
	for c := e.n.FirstChild; c != nil; {
		next := c.NextSibling
		e.n.RemoveChild(c)
		removed = append(removed, c)
		c = next
	}
	e.n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	e.doc.record(rawMutation{typ: dom.ChildList, target: e.n, nodes: removed})
	return nil
}

func (e *Element) SetStyle(_ context.Context, props []dom.StyleProp) error {
	e.doc.page.mu.Lock()
	defer e.doc.page.mu.Unlock()
	st := parseStyle(attr(e.n, "style"))
	for _, p := range props {
		st.set(cssName(p.Name), p.Value)
	}
	setAttr(e.n, "style", st.String())
	e.doc.record(rawMutation{typ: dom.Attributes, attr: "style", target: e.n})
	return nil
}

func (e *Element) InsertAfter(_ context.Context, ref dom.Element) error {
	r, ok := ref.(*Element)
	if !ok || r.doc != e.doc {
		return dom.ErrDetached
	}
	e.doc.page.mu.Lock()
	defer e.doc.page.mu.Unlock()
	parent := r.n.Parent
	if parent == nil || !e.doc.attached(parent) {
		return dom.ErrDetached
	}
	if old := e.n.Parent; old != nil {
		old.RemoveChild(e.n)
		e.doc.record(rawMutation{typ: dom.ChildList, target: old, nodes: []*html.Node{e.n}})
	}
	parent.InsertBefore(e.n, r.n.NextSibling)
	e.doc.record(rawMutation{typ: dom.ChildList, target: parent, nodes: []*html.Node{e.n}})
	return nil
}

func (e *Element) OnClick(_ context.Context, fn func()) error {
	e.doc.page.mu.Lock()
	defer e.doc.page.mu.Unlock()
	e.doc.handlers[e.n] = append(e.doc.handlers[e.n], fn)
	return nil
}

// Click runs the registered click handlers on the caller's goroutine.
func (e *Element) Click() {
	e.doc.page.mu.Lock()
	hs := append([]func(){}, e.doc.handlers[e.n]...)
	e.doc.page.mu.Unlock()
	for _, h := range hs {
		h()
	}
}

// ClassName returns the class attribute.
func (e *Element) ClassName() string {
	e.doc.page.mu.Lock()
	defer e.doc.page.mu.Unlock()
	return attr(e.n, "class")
}

// Text returns the concatenated text content.
func (e *Element) Text() string {
	e.doc.page.mu.Lock()
	defer e.doc.page.mu.Unlock()
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(e.n)
	return sb.String()
}

// Style returns the inline value of a property (camelCase or CSS name).
func (e *Element) Style(name string) string {
	e.doc.page.mu.Lock()
	defer e.doc.page.mu.Unlock()
	return parseStyle(attr(e.n, "style")).get(cssName(name))
}

// NextSibling returns the next element sibling, or nil.
func (e *Element) NextSibling() *Element {
	e.doc.page.mu.Lock()
	defer e.doc.page.mu.Unlock()
	for s := e.n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			return &Element{doc: e.doc, n: s}
		}
	}
	return nil
}

// Same reports whether two handles point at the same node.
func (e *Element) Same(other *Element) bool {
	return other != nil && e.n == other.n
}
