// Package htmldom is an in-memory implementation of the dom capability
// layer on top of golang.org/x/net/html. It models one host document and at
// most one child frame document, records mutations the way MutationObserver
// does, and delivers them only when Flush is called so tests stay
// deterministic.
package htmldom

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/entryturbo/turbo/dom"
)

var docSeq atomic.Uint64

// Page is an in-memory browsing context. All documents of a page share the
// page lock.
type Page struct {
	mu           sync.Mutex
	location     string
	host         *Document
	frame        *Document
	frameBlocked bool
	globals      map[globalKey]map[string]bool
}

type globalKey struct {
	inFrame bool
	object  string
}

// NewPage parses hostHTML as the top-level document.
func NewPage(location, hostHTML string) (*Page, error) {
	p := &Page{
		location: location,
		globals:  make(map[globalKey]map[string]bool),
	}
	doc, err := p.parse(hostHTML)
	if err != nil {
		return nil, err
	}
	p.host = doc
	return p, nil
}

func (p *Page) parse(src string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse: %w", err)
	}
	return &Document{
		page:     p,
		key:      fmt.Sprintf("doc-%d", docSeq.Add(1)),
		root:     root,
		subs:     make(map[uint64]*subscription),
		handlers: make(map[*html.Node][]func()),
	}, nil
}

// SetLocation simulates a navigation that keeps the documents in place
// (history.pushState in a single-page app).
func (p *Page) SetLocation(loc string) {
	p.mu.Lock()
	p.location = loc
	p.mu.Unlock()
}

// LoadFrame replaces the child frame's document with a freshly parsed
// instance, the way a frame reload does. Subscriptions on the previous
// instance stay attached to it.
func (p *Page) LoadFrame(src string) (*Document, error) {
	doc, err := p.parse(src)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.frame = doc
	p.mu.Unlock()
	return doc, nil
}

// RemoveFrame removes the child frame.
func (p *Page) RemoveFrame() {
	p.mu.Lock()
	p.frame = nil
	p.mu.Unlock()
}

// BlockFrame makes the frame document unreadable, as a cross-origin frame is.
func (p *Page) BlockFrame(blocked bool) {
	p.mu.Lock()
	p.frameBlocked = blocked
	p.mu.Unlock()
}

// HostDocument returns the host document.
func (p *Page) HostDocument() *Document { return p.host }

// DefineGlobal creates window[object] on the host or frame window.
func (p *Page) DefineGlobal(inFrame bool, object string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := globalKey{inFrame, object}
	if p.globals[k] == nil {
		p.globals[k] = make(map[string]bool)
	}
}

// Global returns window[object][field] and whether it was ever written.
func (p *Page) Global(inFrame bool, object, field string) (value, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fields := p.globals[globalKey{inFrame, object}]
	if fields == nil {
		return false, false
	}
	value, ok = fields[field]
	return value, ok
}

func (p *Page) Location(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location, nil
}

func (p *Page) Host(_ context.Context) (dom.Document, error) {
	return p.host, nil
}

func (p *Page) Frame(_ context.Context) (dom.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frame == nil || p.frameBlocked {
		return nil, dom.ErrUnreachable
	}
	return p.frame, nil
}

func (p *Page) SetGlobal(_ context.Context, inFrame bool, object, field string, value bool) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if inFrame && (p.frame == nil || p.frameBlocked) {
		return false, dom.ErrUnreachable
	}
	fields := p.globals[globalKey{inFrame, object}]
	if fields == nil {
		return false, nil
	}
	fields[field] = value
	return true, nil
}

// Document is an in-memory document instance.
type Document struct {
	page     *Page
	key      string
	root     *html.Node
	subs     map[uint64]*subscription
	subSeq   uint64
	pending  []rawMutation
	handlers map[*html.Node][]func()
}

type rawMutation struct {
	typ    dom.MutationType
	attr   string
	target *html.Node
	nodes  []*html.Node
}

func (d *Document) Key() string { return d.key }

func (d *Document) Query(_ context.Context, sel string) (dom.Element, error) {
	d.page.mu.Lock()
	defer d.page.mu.Unlock()
	n := parseSelector(sel).first(d.root)
	if n == nil {
		return nil, nil
	}
	return &Element{doc: d, n: n}, nil
}

func (d *Document) CreateElement(_ context.Context, tag string) (dom.Element, error) {
	tag = strings.ToLower(tag)
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	return &Element{doc: d, n: n}, nil
}

func (d *Document) Observe(_ context.Context, opts dom.ObserveOptions, fn func(dom.Batch)) (dom.Subscription, error) {
	d.page.mu.Lock()
	defer d.page.mu.Unlock()
	d.subSeq++
	s := &subscription{id: d.subSeq, doc: d, opts: opts, fn: fn}
	d.subs[s.id] = s
	return s, nil
}

// Observers returns the number of live subscriptions.
func (d *Document) Observers() int {
	d.page.mu.Lock()
	defer d.page.mu.Unlock()
	return len(d.subs)
}

// Flush delivers the pending mutation records to every live subscription
// as one batch each, then clears them. Callbacks run on the caller's
// goroutine, outside the page lock.
func (d *Document) Flush() {
	d.page.mu.Lock()
	pending := d.pending
	d.pending = nil
	type delivery struct {
		fn    func(dom.Batch)
		batch dom.Batch
	}
	var out []delivery
	for _, s := range d.subs {
		b := dom.Batch{DocumentKey: d.key}
		for _, rm := range pending {
			if m, ok := s.filter(rm); ok {
				b.Records = append(b.Records, m)
			}
		}
		if len(b.Records) > 0 {
			out = append(out, delivery{s.fn, b})
		}
	}
	d.page.mu.Unlock()

	for _, dl := range out {
		dl.fn(dl.batch)
	}
}

// Count returns the number of elements matching sel.
func (d *Document) Count(sel string) int {
	d.page.mu.Lock()
	defer d.page.mu.Unlock()
	return len(parseSelector(sel).all(d.root))
}

// Find returns the first element matching sel, or nil.
func (d *Document) Find(sel string) *Element {
	d.page.mu.Lock()
	defer d.page.mu.Unlock()
	n := parseSelector(sel).first(d.root)
	if n == nil {
		return nil
	}
	return &Element{doc: d, n: n}
}

// AddClass adds class to the first element matching sel, recording an
// attribute mutation. It reports whether an element matched.
func (d *Document) AddClass(sel, class string) bool {
	d.page.mu.Lock()
	defer d.page.mu.Unlock()
	n := parseSelector(sel).first(d.root)
	if n == nil {
		return false
	}
	if !hasClass(n, class) {
		setAttr(n, "class", strings.TrimSpace(attr(n, "class")+" "+class))
		d.record(rawMutation{typ: dom.Attributes, attr: "class", target: n})
	}
	return true
}

// RemoveClass removes class from the first element matching sel.
func (d *Document) RemoveClass(sel, class string) bool {
	d.page.mu.Lock()
	defer d.page.mu.Unlock()
	n := parseSelector(sel).first(d.root)
	if n == nil {
		return false
	}
	var keep []string
	for _, c := range classesOf(n) {
		if c != class {
			keep = append(keep, c)
		}
	}
	setAttr(n, "class", strings.Join(keep, " "))
	d.record(rawMutation{typ: dom.Attributes, attr: "class", target: n})
	return true
}

// Remove detaches every element matching sel, the way a host re-render
// throws away a subtree.
func (d *Document) Remove(sel string) int {
	d.page.mu.Lock()
	defer d.page.mu.Unlock()
	nodes := parseSelector(sel).all(d.root)
	for _, n := range nodes {
		if parent := n.Parent; parent != nil {
			parent.RemoveChild(n)
			d.record(rawMutation{typ: dom.ChildList, target: parent, nodes: []*html.Node{n}})
		}
	}
	return len(nodes)
}

// Append parses fragment and appends it under the first element matching
// parentSel.
func (d *Document) Append(parentSel, fragment string) error {
	d.page.mu.Lock()
	defer d.page.mu.Unlock()
	parent := parseSelector(parentSel).first(d.root)
	if parent == nil {
		return fmt.Errorf("htmldom: no element matches %q", parentSel)
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent)
	if err != nil {
		return fmt.Errorf("htmldom: parse fragment: %w", err)
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	d.record(rawMutation{typ: dom.ChildList, target: parent, nodes: nodes})
	return nil
}

// Render serialises the document.
func (d *Document) Render() string {
	d.page.mu.Lock()
	defer d.page.mu.Unlock()
	var sb strings.Builder
	html.Render(&sb, d.root)
	return sb.String()
}

func (d *Document) attached(n *html.Node) bool {
	for a := n; a != nil; a = a.Parent {
		if a == d.root {
			return true
		}
	}
	return false
}

// record must be called with the page lock held.
func (d *Document) record(rm rawMutation) {
	if !d.attached(rm.target) {
		return
	}
	d.pending = append(d.pending, rm)
}

type subscription struct {
	id   uint64
	doc  *Document
	opts dom.ObserveOptions
	fn   func(dom.Batch)
	once sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.doc.page.mu.Lock()
		delete(s.doc.subs, s.id)
		s.doc.page.mu.Unlock()
	})
	return nil
}

func (s *subscription) filter(rm rawMutation) (dom.Mutation, bool) {
	if rm.typ == dom.Attributes && len(s.opts.Attributes) > 0 {
		wanted := false
		for _, a := range s.opts.Attributes {
			if a == rm.attr {
				wanted = true
				break
			}
		}
		if !wanted {
			return dom.Mutation{}, false
		}
	}
	m := dom.Mutation{
		Type:      rm.typ,
		Attribute: rm.attr,
		Target:    s.summarise(rm.target),
	}
	for _, n := range rm.nodes {
		if n.Type == html.ElementNode {
			m.Nodes = append(m.Nodes, s.summarise(n))
		}
	}
	return m, true
}

func (s *subscription) summarise(n *html.Node) dom.Node {
	out := dom.Node{Classes: classesOf(n)}
	for _, w := range s.opts.Watch {
		if parseSelector("." + w).first(n) != nil {
			out.Contains = append(out.Contains, w)
		}
	}
	return out
}
