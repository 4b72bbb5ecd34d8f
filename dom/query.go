package dom

import (
	"fmt"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Compile parses a selector group. Malformed input is an error, never a
// panic.
func Compile(sel string) (cascadia.SelectorGroup, error) {
	g, err := cascadia.ParseGroup(sel)
	if err != nil {
		return nil, fmt.Errorf("dom: compile %q: %w", sel, err)
	}
	return g, nil
}

// QueryAll evaluates sel against the whole document, in document order.
func (d *Document) QueryAll(sel string) ([]*html.Node, error) {
	g, err := Compile(sel)
	if err != nil {
		return nil, err
	}
	return cascadia.QueryAll(d.root, g), nil
}

// QueryAllUnder evaluates sel against the subtree strictly below n.
func QueryAllUnder(n *html.Node, sel string) ([]*html.Node, error) {
	g, err := Compile(sel)
	if err != nil {
		return nil, err
	}
	return cascadia.QueryAll(n, g), nil
}

// MatchesOnly reports whether sel resolves to exactly {n}.
func (d *Document) MatchesOnly(sel string, n *html.Node) bool {
	nodes, err := d.QueryAll(sel)
	return err == nil && len(nodes) == 1 && nodes[0] == n
}
