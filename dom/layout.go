package dom

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Rect is a rendered bounding box in CSS pixels.
type Rect struct {
	X, Y, Width, Height float64
}

// Area returns Width*Height, or 0 for a degenerate box.
func (r Rect) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Empty reports whether the box has no rendered area.
func (r Rect) Empty() bool { return r.Area() == 0 }

// Contains reports whether the point lies inside the box.
func (r Rect) Contains(x, y float64) bool {
	return !r.Empty() && x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Viewport is the visible window size.
type Viewport struct {
	Width, Height float64
}

// Area returns Width*Height.
func (v Viewport) Area() float64 {
	if v.Width <= 0 || v.Height <= 0 {
		return 0
	}
	return v.Width * v.Height
}

// Layout supplies geometry for elements. ok is false when the layout has
// no box for n.
type Layout interface {
	Box(n *html.Node) (r Rect, ok bool)
	Display(n *html.Node) string
}

// StaticLayout is a Layout backed by maps, filled from a browser capture or
// by tests.
type StaticLayout struct {
	boxes   map[*html.Node]Rect
	display map[*html.Node]string
}

// NewStaticLayout returns an empty layout.
func NewStaticLayout() *StaticLayout {
	return &StaticLayout{
		boxes:   make(map[*html.Node]Rect),
		display: make(map[*html.Node]string),
	}
}

// Set records the box of n.
func (l *StaticLayout) Set(n *html.Node, r Rect) { l.boxes[n] = r }

// SetDisplay records the computed display of n.
func (l *StaticLayout) SetDisplay(n *html.Node, display string) { l.display[n] = display }

// Box implements Layout.
func (l *StaticLayout) Box(n *html.Node) (Rect, bool) {
	r, ok := l.boxes[n]
	return r, ok
}

// Display implements Layout. Unrecorded nodes get their tag's UA default.
func (l *StaticLayout) Display(n *html.Node) string {
	if v, ok := l.display[n]; ok {
		return v
	}
	return DefaultDisplay(n)
}

// Len returns the number of recorded boxes.
func (l *StaticLayout) Len() int { return len(l.boxes) }

var inlineAtoms = map[atom.Atom]bool{
	atom.A: true, atom.Abbr: true, atom.B: true, atom.Bdi: true, atom.Bdo: true,
	atom.Br: true, atom.Cite: true, atom.Code: true, atom.Data: true, atom.Dfn: true,
	atom.Em: true, atom.I: true, atom.Kbd: true, atom.Label: true, atom.Mark: true,
	atom.Q: true, atom.S: true, atom.Samp: true, atom.Small: true, atom.Span: true,
	atom.Strong: true, atom.Sub: true, atom.Sup: true, atom.Time: true, atom.U: true,
	atom.Var: true, atom.Wbr: true, atom.Img: true, atom.Video: true, atom.Iframe: true,
}

var inlineBlockAtoms = map[atom.Atom]bool{
	atom.Button: true, atom.Input: true, atom.Select: true, atom.Textarea: true,
}

// DefaultDisplay returns the user-agent display value for n's tag.
func DefaultDisplay(n *html.Node) string {
	switch {
	case !IsElement(n):
		return ""
	case inlineAtoms[n.DataAtom]:
		return "inline"
	case inlineBlockAtoms[n.DataAtom]:
		return "inline-block"
	case n.DataAtom == atom.Head, n.DataAtom == atom.Script, n.DataAtom == atom.Style:
		return "none"
	}
	return "block"
}

// ElementAt returns the element painted at (x, y): the last element in
// document order whose box contains the point. Nil when nothing does.
func (d *Document) ElementAt(x, y float64) *html.Node {
	var hit *html.Node
	Walk(d.root, func(n *html.Node) bool {
		if !IsElement(n) {
			return true
		}
		if d.layout.Display(n) == "none" {
			return false
		}
		if r, ok := d.layout.Box(n); ok && r.Contains(x, y) {
			hit = n
		}
		return true
	})
	return hit
}

// LayoutFromAttr builds a StaticLayout from a "x,y,w,h" attribute on
// elements, then strips the attribute. An optional "display" value may
// follow as a fifth field.
func LayoutFromAttr(d *Document, attr string) *StaticLayout {
	l := NewStaticLayout()
	Walk(d.root, func(n *html.Node) bool {
		v, ok := Attr(n, attr)
		if !ok {
			return true
		}
		parts := strings.Split(v, ",")
		if len(parts) >= 4 {
			var f [4]float64
			for i := 0; i < 4; i++ {
				f[i], _ = strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
			}
			l.Set(n, Rect{X: f[0], Y: f[1], Width: f[2], Height: f[3]})
		}
		if len(parts) >= 5 {
			l.SetDisplay(n, strings.TrimSpace(parts[4]))
		}
		for i, a := range n.Attr {
			if a.Key == attr {
				n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
				break
			}
		}
		return true
	})
	return l
}
