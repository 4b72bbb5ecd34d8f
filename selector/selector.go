// Package selector derives a short, re-matchable CSS selector for an
// element of a dom.Document.
//
// Strategies run in order and the first accepted candidate wins:
//
//  1. identity: #id, when it resolves to exactly the node;
//  2. class signature: tag.c1.c2..., when it resolves to exactly the node;
//  3. positional path: up to six "tag[#id|.classes]:nth-child(k)" levels
//     joined with " > ", anchored at body or at an id-bearing ancestor.
//
// Classes written by webcleaner itself (webcleaner-*, highlight*) never
// appear in a selector.
package selector

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/webcleaner/dom"
)

// MaxDepth bounds the positional path.
const MaxDepth = 6

// MaxPathClasses bounds the classes emitted per positional level.
const MaxPathClasses = 3

// ErrSynthesis is returned when no valid selector can be derived.
var ErrSynthesis = errors.New("selector: synthesis failed")

// Transient reports whether class c is runtime bookkeeping.
func Transient(c string) bool {
	return strings.HasPrefix(c, "webcleaner-") || strings.HasPrefix(c, "highlight")
}

// StableClasses returns n's classes minus the transient ones.
func StableClasses(n *html.Node) []string {
	var out []string
	for _, c := range dom.Classes(n) {
		if !Transient(c) {
			out = append(out, c)
		}
	}
	return out
}

// Synthesize returns a selector that resolves to n in doc. The result is
// deterministic for a given tree.
func Synthesize(doc *dom.Document, n *html.Node) (string, error) {
	if !dom.IsElement(n) {
		return "", fmt.Errorf("%w: not an element", ErrSynthesis)
	}
	if !dom.Attached(doc.Root(), n) {
		return "", fmt.Errorf("%w: node is detached", ErrSynthesis)
	}

	if sel, ok := byID(doc, n); ok {
		return sel, nil
	}
	if sel, ok := byClasses(doc, n); ok {
		return sel, nil
	}
	return byPath(doc, n)
}

func byID(doc *dom.Document, n *html.Node) (string, bool) {
	id := dom.ID(n)
	if strings.TrimSpace(id) == "" {
		return "", false
	}
	esc, err := dom.EscapeIdent(id)
	if err != nil {
		return "", false
	}
	sel := "#" + esc
	return sel, doc.MatchesOnly(sel, n)
}

func byClasses(doc *dom.Document, n *html.Node) (string, bool) {
	classes := escapeAll(StableClasses(n))
	if len(classes) == 0 {
		return "", false
	}
	sel := typeSelector(n) + "." + strings.Join(classes, ".")
	return sel, doc.MatchesOnly(sel, n)
}

func byPath(doc *dom.Document, n *html.Node) (string, error) {
	var levels []string
	anchored := false
	cur := n
	for depth := 0; depth < MaxDepth && dom.IsElement(cur); depth++ {
		tag := dom.Tag(cur)
		if tag == "html" {
			break
		}
		if tag == "body" {
			levels = append(levels, "body")
			anchored = true
			break
		}
		step, hasID := level(cur)
		levels = append(levels, step)
		if hasID {
			anchored = true
			break
		}
		cur = dom.Parent(cur)
	}
	if len(levels) == 0 {
		return "", fmt.Errorf("%w: empty path", ErrSynthesis)
	}

	for i, j := 0, len(levels)-1; i < j; i, j = i+1, j-1 {
		levels[i], levels[j] = levels[j], levels[i]
	}
	sel := strings.Join(levels, " > ")

	nodes, err := doc.QueryAll(sel)
	if err != nil {
		return "", fmt.Errorf("%w: %q does not parse: %v", ErrSynthesis, sel, err)
	}
	if !containsNode(nodes, n) {
		return "", fmt.Errorf("%w: %q does not resolve to the node", ErrSynthesis, sel)
	}
	// Without an anchor the path is only relative; keep it only when it
	// still pins the node down.
	if !anchored && len(nodes) != 1 {
		return "", fmt.Errorf("%w: depth exhausted without anchor (%d matches)", ErrSynthesis, len(nodes))
	}
	return sel, nil
}

// level renders one positional step. hasID reports an id anchor, which
// ends the ascent and carries no :nth-child.
func level(n *html.Node) (step string, hasID bool) {
	tag := typeSelector(n)
	if id := dom.ID(n); strings.TrimSpace(id) != "" {
		if esc, err := dom.EscapeIdent(id); err == nil {
			return tag + "#" + esc, true
		}
	}

	var b strings.Builder
	b.WriteString(tag)
	classes := StableClasses(n)
	if len(classes) > MaxPathClasses {
		classes = classes[:MaxPathClasses]
	}
	for _, c := range escapeAll(classes) {
		b.WriteByte('.')
		b.WriteString(c)
	}
	if k := dom.ChildIndex(n); k > 0 {
		b.WriteString(":nth-child(")
		b.WriteString(strconv.Itoa(k))
		b.WriteByte(')')
	}
	return b.String(), false
}

// typeSelector renders n's tag for a selector step. Type selectors are
// matched lower-cased, so a mixed-case foreign tag can only be reached
// through the universal selector.
func typeSelector(n *html.Node) string {
	tag := dom.Tag(n)
	if tag != strings.ToLower(tag) {
		return "*"
	}
	esc, err := dom.EscapeIdent(tag)
	if err != nil {
		return "*"
	}
	return esc
}

// escapeAll escapes each class, skipping the ones that cannot be escaped.
func escapeAll(classes []string) []string {
	out := make([]string, 0, len(classes))
	for _, c := range classes {
		if esc, err := dom.EscapeIdent(c); err == nil {
			out = append(out, esc)
		}
	}
	return out
}

func containsNode(nodes []*html.Node, n *html.Node) bool {
	for _, x := range nodes {
		if x == n {
			return true
		}
	}
	return false
}
