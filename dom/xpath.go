package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// XPath returns an absolute XPath for n, indexing a step only when the
// parent holds several elements with the same tag. Detached nodes get a
// path relative to their detached root.
func XPath(n *html.Node) string {
	if n == nil {
		return ""
	}
	switch n.Type {
	case html.DocumentNode:
		return ""
	case html.TextNode:
		return XPath(n.Parent) + "/text()"
	case html.CommentNode:
		return XPath(n.Parent) + "/comment()"
	case html.ElementNode:
	default:
		return XPath(n.Parent)
	}

	name := strings.ToLower(n.Data)
	parent := n.Parent
	if parent == nil {
		return "/" + name
	}
	idx, total := 0, 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || strings.ToLower(c.Data) != name {
			continue
		}
		total++
		if c == n {
			idx = total
		}
	}
	prefix := XPath(parent)
	if total > 1 {
		return fmt.Sprintf("%s/%s[%d]", prefix, name, idx)
	}
	return prefix + "/" + name
}
