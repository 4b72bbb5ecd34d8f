package reconcile

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/webcleaner/dom"
)

// Effect is a reversible visual treatment keyed by a marker class.
type Effect interface {
	Kind() string
	Marker() string
	Apply(doc *dom.Document, n *html.Node) error
	Reverse(doc *dom.Document, n *html.Node) error
}

// Declaration is one inline style property an effect writes.
type Declaration struct {
	Property  string
	Value     string
	Important bool
}

// StyleEffect writes a fixed set of inline declarations. Prior inline values
// of every property it touches are kept on the node so reversal restores
// exactly what the author had.
type StyleEffect struct {
	kind   string
	marker string
	decls  []Declaration
	// inline is added for nodes displayed inline or inline-block.
	inline []Declaration
}

// NewStyleEffect builds a custom effect.
func NewStyleEffect(kind, marker string, decls, inline []Declaration) *StyleEffect {
	return &StyleEffect{kind: kind, marker: marker, decls: decls, inline: inline}
}

const (
	KindBlur      = "blur"
	KindEnlarge   = "enlarge"
	MarkerBlur    = "webcleaner-hidden"
	MarkerEnlarge = "webcleaner-enlarged"
)

// Blur hides content behind a gaussian blur and disables interaction.
// radius is a CSS length; "" means 8px.
func Blur(radius string) *StyleEffect {
	if radius == "" {
		radius = "8px"
	}
	return NewStyleEffect(KindBlur, MarkerBlur,
		[]Declaration{
			{Property: "filter", Value: "blur(" + radius + ")", Important: true},
			{Property: "pointer-events", Value: "none", Important: true},
			{Property: "user-select", Value: "none", Important: true},
		},
		[]Declaration{
			{Property: "display", Value: "inline-block", Important: true},
		})
}

// Enlarge scales content up from its top-left corner. scale <= 0 means 1.5.
func Enlarge(scale float64) *StyleEffect {
	if scale <= 0 {
		scale = 1.5
	}
	return NewStyleEffect(KindEnlarge, MarkerEnlarge,
		[]Declaration{
			{Property: "transform", Value: fmt.Sprintf("scale(%g)", scale), Important: true},
			{Property: "transform-origin", Value: "top left", Important: true},
			{Property: "position", Value: "relative", Important: true},
			{Property: "z-index", Value: "2147483000", Important: true},
		},
		[]Declaration{
			{Property: "display", Value: "inline-block", Important: true},
		})
}

func (e *StyleEffect) Kind() string   { return e.kind }
func (e *StyleEffect) Marker() string { return e.marker }

// Apply writes the declarations, records prior values and adds the marker.
// A property already written by another effect on n is not recorded as
// prior: that effect keeps the author's value and hands it over on reversal.
func (e *StyleEffect) Apply(doc *dom.Document, n *html.Node) error {
	st := dom.StyleOf(n)

	decls := e.decls
	switch doc.Layout().Display(n) {
	case "inline", "inline-block":
		decls = append(append([]Declaration(nil), e.decls...), e.inline...)
	}

	prior := make(map[string]string)
	touched := make([]string, 0, len(decls))
	for _, d := range decls {
		if v, imp, ok := st.Get(d.Property); ok && e.owner(n, d.Property) == "" {
			if imp {
				v += " !important"
			}
			prior[d.Property] = v
		}
		touched = append(touched, d.Property)
		st.Set(d.Property, d.Value, d.Important)
	}

	doc.WriteStyle(n, st)
	if err := e.writePrior(doc, n, e.marker, prior); err != nil {
		return err
	}
	doc.SetAttr(n, touchedAttr(e.marker), strings.Join(touched, " "))
	doc.AddClass(n, e.marker)
	return nil
}

// Reverse removes the touched properties, restores prior values and drops
// the marker. Unrelated author properties are left alone. A property another
// effect still writes keeps its live value, and the prior value moves to
// that effect.
func (e *StyleEffect) Reverse(doc *dom.Document, n *html.Node) error {
	st := dom.StyleOf(n)

	var touched []string
	if v, ok := dom.Attr(n, touchedAttr(e.marker)); ok {
		touched = strings.Fields(v)
	} else {
		for _, d := range e.decls {
			touched = append(touched, d.Property)
		}
	}

	prior, err := e.readPrior(n, e.marker)
	if err != nil {
		return err
	}

	handover := make(map[string]map[string]string)
	for _, p := range touched {
		v, had := prior[p]
		if other := e.owner(n, p); other != "" {
			if had {
				if handover[other] == nil {
					handover[other] = make(map[string]string)
				}
				handover[other][p] = v
			}
			continue
		}
		st.Remove(p)
		if had {
			imp := strings.HasSuffix(v, " !important")
			st.Set(p, strings.TrimSuffix(v, " !important"), imp)
		}
	}
	for other, moved := range handover {
		theirs, err := e.readPrior(n, other)
		if err != nil {
			return err
		}
		for p, v := range moved {
			theirs[p] = v
		}
		if err := e.writePrior(doc, n, other, theirs); err != nil {
			return err
		}
	}

	doc.WriteStyle(n, st)
	doc.RemoveAttr(n, priorAttr(e.marker))
	doc.RemoveAttr(n, touchedAttr(e.marker))
	doc.RemoveClass(n, e.marker)
	return nil
}

func priorAttr(marker string) string   { return "data-" + marker + "-prior" }
func touchedAttr(marker string) string { return "data-" + marker + "-touched" }

// owner returns the marker of another effect that writes prop on n, or "".
func (e *StyleEffect) owner(n *html.Node, prop string) string {
	for _, a := range n.Attr {
		if a.Namespace != "" || !strings.HasPrefix(a.Key, "data-") || !strings.HasSuffix(a.Key, "-touched") {
			continue
		}
		marker := strings.TrimSuffix(strings.TrimPrefix(a.Key, "data-"), "-touched")
		if marker == e.marker {
			continue
		}
		for _, p := range strings.Fields(a.Val) {
			if strings.EqualFold(p, prop) {
				return marker
			}
		}
	}
	return ""
}

func (e *StyleEffect) readPrior(n *html.Node, marker string) (map[string]string, error) {
	prior := make(map[string]string)
	if v, ok := dom.Attr(n, priorAttr(marker)); ok {
		if err := json.Unmarshal([]byte(v), &prior); err != nil {
			return nil, fmt.Errorf("reconcile: %s: decode prior: %w", e.kind, err)
		}
	}
	return prior, nil
}

func (e *StyleEffect) writePrior(doc *dom.Document, n *html.Node, marker string, prior map[string]string) error {
	if len(prior) == 0 {
		return nil
	}
	data, err := json.Marshal(prior)
	if err != nil {
		return fmt.Errorf("reconcile: %s: encode prior: %w", e.kind, err)
	}
	doc.SetAttr(n, priorAttr(marker), string(data))
	return nil
}
