package htmldom

import (
	"strings"

	"golang.org/x/net/html"
)

// Supported selector grammar, enough for the fixed anchor selectors:
//   - tag, #id, .class, and compounds: "button.a.b", "div#main.x"
//   - tag[attr], tag[attr=val]
//   - descendant combinator (space)
//   - selector lists separated by commas
type compound struct {
	tag     string
	id      string
	classes []string
	attrKey string
	attrVal string
}

type selector [][]compound // list of descendant chains

func parseSelector(s string) selector {
	var sel selector
	for _, group := range strings.Split(s, ",") {
		parts := strings.Fields(group)
		if len(parts) == 0 {
			continue
		}
		chain := make([]compound, 0, len(parts))
		for _, p := range parts {
			chain = append(chain, parseCompound(p))
		}
		sel = append(sel, chain)
	}
	return sel
}

func parseCompound(s string) compound {
	var c compound

	if idx := strings.IndexByte(s, '['); idx >= 0 {
		attrPart := strings.TrimRight(s[idx+1:], "]")
		s = s[:idx]
		if eq := strings.IndexByte(attrPart, '='); eq >= 0 {
			c.attrKey = attrPart[:eq]
			c.attrVal = strings.Trim(attrPart[eq+1:], `"'`)
		} else {
			c.attrKey = attrPart
		}
	}

	// Split on '.' and '#' while remembering which delimiter opened each part.
	start, kind := 0, byte(0)
	flush := func(end int) {
		part := s[start:end]
		switch kind {
		case 0:
			c.tag = strings.ToLower(part)
		case '.':
			if part != "" {
				c.classes = append(c.classes, part)
			}
		case '#':
			c.id = part
		}
	}
	for i := 0; i < len(s); i++ {
		if s[i] == '.' || s[i] == '#' {
			flush(i)
			start, kind = i+1, s[i]
		}
	}
	flush(len(s))
	return c
}

func (c compound) match(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && c.tag != "*" && n.Data != c.tag {
		return false
	}
	if c.id != "" && attr(n, "id") != c.id {
		return false
	}
	for _, cls := range c.classes {
		if !hasClass(n, cls) {
			return false
		}
	}
	if c.attrKey != "" {
		if _, ok := lookupAttr(n, c.attrKey); !ok {
			return false
		}
		if c.attrVal != "" && attr(n, c.attrKey) != c.attrVal {
			return false
		}
	}
	return true
}

// matches reports whether n matches any chain. The last compound must match
// n itself; earlier compounds must match ancestors in order, stopping at
// scope (exclusive) when scope is non-nil.
func (sel selector) matches(n, scope *html.Node) bool {
	for _, chain := range sel {
		if matchChain(chain, n, scope) {
			return true
		}
	}
	return false
}

func matchChain(chain []compound, n, scope *html.Node) bool {
	last := len(chain) - 1
	if !chain[last].match(n) {
		return false
	}
	i := last - 1
	for a := n.Parent; a != nil && a != scope && i >= 0; a = a.Parent {
		if chain[i].match(a) {
			i--
		}
	}
	return i < 0
}

// first returns the first descendant of root (document order, root
// excluded) matching sel.
func (sel selector) first(root *html.Node) *html.Node {
	scope := root
	if root.Type == html.DocumentNode {
		scope = nil
	}
	var found *html.Node
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if sel.matches(c, scope) {
				found = c
				return true
			}
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(root)
	return found
}

// all returns every descendant of root matching sel, in document order.
func (sel selector) all(root *html.Node) []*html.Node {
	scope := root
	if root.Type == html.DocumentNode {
		scope = nil
	}
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if sel.matches(c, scope) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func classesOf(n *html.Node) []string {
	if n.Type != html.ElementNode {
		return nil
	}
	return strings.Fields(attr(n, "class"))
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range classesOf(n) {
		if c == class {
			return true
		}
	}
	return false
}
