package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// IsElement reports whether n is an element node.
func IsElement(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode
}

// Tag returns the tag name of an element, or "". HTML tags are lower-case;
// SVG and MathML tags keep their case (linearGradient).
func Tag(n *html.Node) string {
	if !IsElement(n) {
		return ""
	}
	if n.Namespace != "" {
		return n.Data
	}
	return strings.ToLower(n.Data)
}

// Attr returns the value of attribute key.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// ID returns the id attribute, or "".
func ID(n *html.Node) string {
	v, _ := Attr(n, "id")
	return v
}

// Classes returns the class list in document order.
func Classes(n *html.Node) []string {
	v, _ := Attr(n, "class")
	return strings.Fields(v)
}

// HasClass reports whether n carries class c.
func HasClass(n *html.Node, c string) bool {
	for _, x := range Classes(n) {
		if x == c {
			return true
		}
	}
	return false
}

// Parent returns the nearest element ancestor, or nil.
func Parent(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			return p
		}
	}
	return nil
}

// ElementChildren returns the element children of n.
func ElementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// ChildIndex returns the 1-based position of n among its parent's element
// children, as :nth-child counts it. 0 when n has no parent.
func ChildIndex(n *html.Node) int {
	if n.Parent == nil {
		return 0
	}
	k := 0
	for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			k++
		}
		if c == n {
			return k
		}
	}
	return 0
}

// IsAncestor reports whether a is a strict ancestor of b.
func IsAncestor(a, b *html.Node) bool {
	if a == nil || b == nil {
		return false
	}
	for p := b.Parent; p != nil; p = p.Parent {
		if p == a {
			return true
		}
	}
	return false
}

// Contains reports whether b is a or lies inside a.
func Contains(a, b *html.Node) bool {
	return a != nil && (a == b || IsAncestor(a, b))
}

// Attached reports whether n is still reachable from root.
func Attached(root, n *html.Node) bool {
	return Contains(root, n)
}

// Walk calls fn on every element under n in document order, n included.
// Returning false skips the element's subtree.
func Walk(n *html.Node, fn func(*html.Node) bool) {
	if n.Type == html.ElementNode && !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		Walk(c, fn)
	}
}

// HasDescendantWithClass reports whether any element strictly below n
// carries class c.
func HasDescendantWithClass(n *html.Node, c string) bool {
	found := false
	for ch := n.FirstChild; ch != nil && !found; ch = ch.NextSibling {
		Walk(ch, func(e *html.Node) bool {
			if found {
				return false
			}
			if HasClass(e, c) {
				found = true
				return false
			}
			return true
		})
	}
	return found
}

// HasAncestorWithClass reports whether any element strictly above n
// carries class c.
func HasAncestorWithClass(n *html.Node, c string) bool {
	for p := Parent(n); p != nil; p = Parent(p) {
		if HasClass(p, c) {
			return true
		}
	}
	return false
}
