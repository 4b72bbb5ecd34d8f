// Package dom is the host document model: an x/net/html tree plus the
// geometry and mutation notifications a browser page would provide.
//
// Every write the cleaner performs goes through a Document so observers see
// it as a mutation.Record. A Document is not safe for concurrent use; the
// page loop that owns it serialises all access.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/webcleaner/dom/mutation"
)

// Document wraps a parsed page.
type Document struct {
	root      *html.Node
	layout    Layout
	viewport  Viewport
	observers map[int]func(mutation.Record)
	nextObs   int
}

// Option configures a Document.
type Option func(*Document)

// WithLayout sets the geometry source. Default: an empty StaticLayout.
func WithLayout(l Layout) Option { return func(d *Document) { d.layout = l } }

// WithViewport sets the viewport size. Default: 1280x800.
func WithViewport(v Viewport) Option { return func(d *Document) { d.viewport = v } }

// New wraps an existing tree. root should be an html.DocumentNode.
func New(root *html.Node, opts ...Option) *Document {
	d := &Document{
		root:      root,
		layout:    NewStaticLayout(),
		viewport:  Viewport{Width: 1280, Height: 800},
		observers: make(map[int]func(mutation.Record)),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Parse reads an HTML document.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return New(root, opts...), nil
}

// ParseString is Parse over a string.
func ParseString(s string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), opts...)
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Layout returns the geometry source.
func (d *Document) Layout() Layout { return d.layout }

// SetLayout replaces the geometry source, e.g. after a fresh capture.
func (d *Document) SetLayout(l Layout) { d.layout = l }

// Viewport returns the viewport size.
func (d *Document) Viewport() Viewport { return d.viewport }

// SetViewport replaces the viewport size.
func (d *Document) SetViewport(v Viewport) { d.viewport = v }

// DocumentElement returns the <html> element, or nil.
func (d *Document) DocumentElement() *html.Node {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Html {
			return c
		}
	}
	return nil
}

// Body returns the <body> element, or nil.
func (d *Document) Body() *html.Node {
	h := d.DocumentElement()
	if h == nil {
		return nil
	}
	for c := h.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Body {
			return c
		}
	}
	return nil
}

// Observe registers fn for every mutation and returns the function that
// unregisters it.
func (d *Document) Observe(fn func(mutation.Record)) (cancel func()) {
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	return func() { delete(d.observers, id) }
}

// Notify delivers a record produced outside this Document, such as a
// mutation reported by the live browser page.
func (d *Document) Notify(rec mutation.Record) {
	for _, fn := range d.observers {
		fn(rec)
	}
}

// SetAttr sets attribute key on n.
func (d *Document) SetAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			old := n.Attr[i].Val
			if old == val {
				return
			}
			n.Attr[i].Val = val
			d.Notify(mutation.Record{Op: mutation.OpAttr, XPath: XPath(n), Tag: n.Data, Name: key, Value: val, OldValue: old})
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	d.Notify(mutation.Record{Op: mutation.OpAttr, XPath: XPath(n), Tag: n.Data, Name: key, Value: val})
}

// RemoveAttr removes attribute key from n. Missing attributes are ignored.
func (d *Document) RemoveAttr(n *html.Node, key string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			old := n.Attr[i].Val
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			d.Notify(mutation.Record{Op: mutation.OpAttrDel, XPath: XPath(n), Tag: n.Data, Name: key, OldValue: old})
			return
		}
	}
}

// AddClass adds class c to n if it is not already present.
func (d *Document) AddClass(n *html.Node, c string) {
	cls := Classes(n)
	for _, x := range cls {
		if x == c {
			return
		}
	}
	d.SetAttr(n, "class", strings.Join(append(cls, c), " "))
}

// RemoveClass removes class c from n. The attribute is dropped once empty.
func (d *Document) RemoveClass(n *html.Node, c string) {
	cls := Classes(n)
	kept := cls[:0]
	for _, x := range cls {
		if x != c {
			kept = append(kept, x)
		}
	}
	if len(kept) == len(Classes(n)) {
		return
	}
	if len(kept) == 0 {
		d.RemoveAttr(n, "class")
		return
	}
	d.SetAttr(n, "class", strings.Join(kept, " "))
}

// AppendChild attaches child as the last child of parent.
func (d *Document) AppendChild(parent, child *html.Node) {
	if child.Parent != nil {
		d.Remove(child)
	}
	parent.AppendChild(child)
	d.Notify(mutation.Record{Op: mutation.OpInsert, XPath: XPath(child), Tag: child.Data})
}

// InsertBefore attaches child before ref under parent. A nil ref appends.
func (d *Document) InsertBefore(parent, child, ref *html.Node) {
	if child.Parent != nil {
		d.Remove(child)
	}
	parent.InsertBefore(child, ref)
	d.Notify(mutation.Record{Op: mutation.OpInsert, XPath: XPath(child), Tag: child.Data})
}

// Remove detaches n from its parent.
func (d *Document) Remove(n *html.Node) {
	if n.Parent == nil {
		return
	}
	path := XPath(n)
	n.Parent.RemoveChild(n)
	d.Notify(mutation.Record{Op: mutation.OpRemove, XPath: path, Tag: n.Data})
}

// Replace swaps the whole tree, as a client-side navigation would.
func (d *Document) Replace(root *html.Node) {
	d.root = root
	d.Notify(mutation.Record{Op: mutation.OpDocReset})
}

// Render serialises the document.
func (d *Document) Render() (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return "", fmt.Errorf("dom: render: %w", err)
	}
	return buf.String(), nil
}

// Fragment parses s as children of parent's context, without inserting.
func Fragment(parent *html.Node, s string) ([]*html.Node, error) {
	nodes, err := html.ParseFragment(strings.NewReader(s), parent)
	if err != nil {
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	return nodes, nil
}
