// Package refine narrows a raw pointer target to the element the user most
// likely means to designate.
package refine

import (
	"regexp"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/webcleaner/dom"
)

const (
	// RootThreshold is the viewport share at which a target counts as a
	// page-level wrapper.
	RootThreshold = 0.90
	// LargeThreshold is the viewport share above which one extra
	// shrinking descent is attempted.
	LargeThreshold = 0.70
)

// DefaultMarkers are the effect markers that disqualify a candidate.
var DefaultMarkers = []string{"webcleaner-hidden"}

var meaningfulClass = regexp.MustCompile(`(?i)container|wrapper|content|box|card|panel|widget|component`)

var genericTags = map[atom.Atom]bool{
	atom.Div: true, atom.Section: true, atom.Article: true, atom.Main: true,
	atom.Aside: true, atom.Header: true, atom.Footer: true, atom.Nav: true,
}

var meaningfulTags = map[atom.Atom]bool{
	atom.Img: true, atom.Video: true, atom.Iframe: true, atom.Button: true,
	atom.A: true, atom.Form: true, atom.Input: true, atom.Textarea: true,
	atom.Select: true,
}

type options struct {
	markers []string
}

// Option configures Refine.
type Option func(*options)

// WithMarkers replaces the effect markers checked by the final validation.
func WithMarkers(markers ...string) Option {
	return func(o *options) { o.markers = markers }
}

// Refine returns the refined target, or nil when nothing under the pointer
// qualifies. Geometry comes from doc's layout; nodes without a box count as
// invisible.
func Refine(doc *dom.Document, raw *html.Node, vp dom.Viewport, opts ...Option) *html.Node {
	o := options{markers: DefaultMarkers}
	for _, fn := range opts {
		fn(&o)
	}
	if !dom.IsElement(raw) {
		return nil
	}
	r := refiner{layout: doc.Layout(), vpArea: vp.Area()}

	candidate := raw
	if r.isRoot(candidate) {
		if child := r.meaningfulChild(candidate); child != nil {
			candidate = child
		}
	}
	if r.isGenericContainer(candidate) {
		if child := r.meaningfulChild(candidate); child != nil {
			candidate = child
		}
	}
	if r.tooLarge(candidate) {
		if child := r.meaningfulChild(candidate); child != nil && !r.tooLarge(child) {
			candidate = child
		}
	}

	if !r.valid(candidate, o.markers) {
		return nil
	}
	return candidate
}

type refiner struct {
	layout dom.Layout
	vpArea float64
}

func (r refiner) area(n *html.Node) float64 {
	box, ok := r.layout.Box(n)
	if !ok {
		return 0
	}
	return box.Area()
}

func (r refiner) share(n *html.Node) float64 {
	if r.vpArea == 0 {
		return 0
	}
	return r.area(n) / r.vpArea
}

func (r refiner) isRoot(n *html.Node) bool {
	if n.DataAtom == atom.Html || n.DataAtom == atom.Body {
		return true
	}
	return r.share(n) >= RootThreshold
}

func (r refiner) tooLarge(n *html.Node) bool {
	return r.share(n) >= LargeThreshold
}

func (r refiner) visibleChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for _, c := range dom.ElementChildren(n) {
		if r.area(c) > 0 {
			out = append(out, c)
		}
	}
	return out
}

func (r refiner) isGenericContainer(n *html.Node) bool {
	if !genericTags[n.DataAtom] {
		return false
	}
	if cls, ok := dom.Attr(n, "class"); ok && meaningfulClass.MatchString(cls) {
		return false
	}
	return len(r.visibleChildren(n)) == 1
}

// meaningfulChild picks, among visible children: the first interactive or
// media element, else the only child, else the largest (earliest on ties).
func (r refiner) meaningfulChild(n *html.Node) *html.Node {
	visible := r.visibleChildren(n)
	if len(visible) == 0 {
		return nil
	}
	for _, c := range visible {
		if meaningfulTags[c.DataAtom] {
			return c
		}
	}
	if len(visible) == 1 {
		return visible[0]
	}
	best, bestArea := visible[0], r.area(visible[0])
	for _, c := range visible[1:] {
		if a := r.area(c); a > bestArea {
			best, bestArea = c, a
		}
	}
	return best
}

func (r refiner) valid(n *html.Node, markers []string) bool {
	if !dom.IsElement(n) || n.DataAtom == atom.Html || n.DataAtom == atom.Body {
		return false
	}
	for _, m := range markers {
		if dom.HasClass(n, m) || dom.HasDescendantWithClass(n, m) {
			return false
		}
	}
	box, ok := r.layout.Box(n)
	return ok && box.Width > 0 && box.Height > 0
}
