package dom

import (
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
)

// Style is a parsed inline style attribute. Declaration order is kept so a
// round trip leaves untouched author properties where they were.
type Style struct {
	decls []*css.Declaration
}

// ParseStyle parses the body of a style attribute. Like a browser it drops
// empty and malformed declarations and keeps the rest.
func ParseStyle(s string) *Style {
	st := &Style{}
	for _, part := range splitDeclarations(s) {
		decls, err := parser.ParseDeclarations(part + ";")
		if err != nil {
			continue
		}
		for _, d := range decls {
			if d.Property != "" && d.Value != "" {
				st.decls = append(st.decls, d)
			}
		}
	}
	return st
}

// splitDeclarations cuts s on semicolons outside strings and parentheses,
// so url("data:...;base64,...") stays whole. Blank parts are dropped.
func splitDeclarations(s string) []string {
	var (
		parts   []string
		depth   int
		quote   rune
		escaped bool
		start   int
	)
	flush := func(end int) {
		if p := strings.TrimSpace(s[start:end]); p != "" {
			parts = append(parts, p)
		}
	}
	for i, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(':
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}
		case r == ';' && depth == 0:
			flush(i)
			start = i + 1
		}
	}
	flush(len(s))
	return parts
}

// Get returns the value and priority of prop.
func (s *Style) Get(prop string) (value string, important, ok bool) {
	for i := len(s.decls) - 1; i >= 0; i-- {
		if strings.EqualFold(s.decls[i].Property, prop) {
			return s.decls[i].Value, s.decls[i].Important, true
		}
	}
	return "", false, false
}

// Set replaces every declaration of prop with one value.
func (s *Style) Set(prop, value string, important bool) {
	s.Remove(prop)
	s.decls = append(s.decls, &css.Declaration{Property: prop, Value: value, Important: important})
}

// Remove drops every declaration of prop. It reports whether any existed.
func (s *Style) Remove(prop string) bool {
	kept := s.decls[:0]
	for _, d := range s.decls {
		if !strings.EqualFold(d.Property, prop) {
			kept = append(kept, d)
		}
	}
	removed := len(kept) != len(s.decls)
	s.decls = kept
	return removed
}

// Len returns the number of declarations.
func (s *Style) Len() int { return len(s.decls) }

// String serialises the declarations as a style attribute value.
func (s *Style) String() string {
	parts := make([]string, len(s.decls))
	for i, d := range s.decls {
		parts[i] = d.String()
	}
	return strings.Join(parts, " ")
}

// StyleOf parses the style attribute of n.
func StyleOf(n *html.Node) *Style {
	v, _ := Attr(n, "style")
	return ParseStyle(v)
}

// WriteStyle stores st on n, dropping the attribute when st is empty.
func (d *Document) WriteStyle(n *html.Node, st *Style) {
	if st.Len() == 0 {
		d.RemoveAttr(n, "style")
		return
	}
	d.SetAttr(n, "style", st.String())
}
