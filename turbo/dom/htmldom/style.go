package htmldom

import (
	"strings"
	"unicode"
)

// inlineStyle is an ordered declaration list, enough to model
// CSSStyleDeclaration writes including shorthand resets.
type inlineStyle struct {
	names  []string
	values map[string]string
}

func parseStyle(s string) *inlineStyle {
	st := &inlineStyle{values: make(map[string]string)}
	for _, decl := range strings.Split(s, ";") {
		name, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		st.put(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return st
}

func (st *inlineStyle) put(name, value string) {
	if _, ok := st.values[name]; !ok {
		st.names = append(st.names, name)
	}
	st.values[name] = value
}

func (st *inlineStyle) del(name string) {
	if _, ok := st.values[name]; !ok {
		return
	}
	delete(st.values, name)
	for i, n := range st.names {
		if n == name {
			st.names = append(st.names[:i], st.names[i+1:]...)
			break
		}
	}
}

// set writes one property. Writing a shorthand drops its longhands, the
// way the browser expands it; an empty value removes the property.
func (st *inlineStyle) set(name, value string) {
	if name == "margin" || name == "padding" {
		for _, side := range []string{"top", "right", "bottom", "left"} {
			st.del(name + "-" + side)
		}
	}
	if value == "" {
		st.del(name)
		return
	}
	st.put(name, value)
}

func (st *inlineStyle) get(name string) string {
	return st.values[name]
}

func (st *inlineStyle) String() string {
	parts := make([]string, 0, len(st.names))
	for _, n := range st.names {
		parts = append(parts, n+": "+st.values[n])
	}
	return strings.Join(parts, "; ")
}

// cssName converts marginRight to margin-right. CSS names pass through.
func cssName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		if unicode.IsUpper(r) {
			sb.WriteByte('-')
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
