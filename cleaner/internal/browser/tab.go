package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"golang.org/x/net/html"

	"github.com/hazyhaar/webcleaner/dom"
)

// IndexAttr tags every live element with its position in document order so
// the captured tree and the page can be matched up again.
const IndexAttr = "data-wc-idx"

// Tab is one page opened with stealth and resource blocking.
type Tab struct {
	Page    *rod.Page
	PageURL string

	hijack *rod.HijackRouter
	mgr    *Manager
}

// OpenTab creates a stealth tab, sizes its viewport and navigates to
// pageURL.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	t := &Tab{Page: page, PageURL: pageURL, mgr: mgr}
	if len(mgr.cfg.ResourceBlocking) > 0 {
		t.hijack = blockResources(page, mgr.cfg.ResourceBlocking)
	}

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             mgr.cfg.Width,
		Height:            mgr.cfg.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: viewport: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, mgr.cfg.Timeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	if info, err := page.Info(); err == nil && info.URL != "" {
		t.PageURL = info.URL
	}
	return t, nil
}

// Snapshot is what the page reports at capture time.
type Snapshot struct {
	HTML     string `json:"html"`
	Boxes    []Box  `json:"boxes"`
	Viewport [2]int `json:"viewport"`
}

// Box is the viewport-relative layout of the element whose IndexAttr is
// its index in Boxes.
type Box struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	W       float64 `json:"w"`
	H       float64 `json:"h"`
	Display string  `json:"d"`
}

const captureJS = `() => {
	const els = document.documentElement.querySelectorAll('*');
	const all = [document.documentElement, ...els];
	const boxes = [];
	all.forEach((el, i) => {
		el.setAttribute('` + IndexAttr + `', String(i));
		const r = el.getBoundingClientRect();
		boxes.push({x: r.left, y: r.top, w: r.width, h: r.height,
			d: getComputedStyle(el).display});
	});
	return JSON.stringify({
		html: document.documentElement.outerHTML,
		boxes: boxes,
		viewport: [innerWidth, innerHeight],
	});
}`

// Capture indexes the live elements and returns the page as a Document
// whose layout holds the rendered boxes.
func (t *Tab) Capture(ctx context.Context) (*dom.Document, error) {
	res, err := t.Page.Context(ctx).Eval(captureJS)
	if err != nil {
		return nil, fmt.Errorf("browser: capture: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(res.Value.Str()), &snap); err != nil {
		return nil, fmt.Errorf("browser: capture: decode: %w", err)
	}
	return snap.Document()
}

// Document parses the snapshot and attaches its boxes. Elements the parser
// adds on its own carry no index and get no box.
func (s *Snapshot) Document() (*dom.Document, error) {
	doc, err := dom.ParseString(s.HTML)
	if err != nil {
		return nil, err
	}
	layout := dom.NewStaticLayout()
	dom.Walk(doc.Root(), func(n *html.Node) bool {
		if !dom.IsElement(n) {
			return true
		}
		raw, ok := dom.Attr(n, IndexAttr)
		if !ok {
			return true
		}
		i, err := strconv.Atoi(raw)
		if err != nil || i < 0 || i >= len(s.Boxes) {
			return true
		}
		b := s.Boxes[i]
		layout.Set(n, dom.Rect{X: b.X, Y: b.Y, Width: b.W, Height: b.H})
		if b.Display != "" {
			layout.SetDisplay(n, b.Display)
		}
		return true
	})
	doc.SetLayout(layout)
	doc.SetViewport(dom.Viewport{Width: float64(s.Viewport[0]), Height: float64(s.Viewport[1])})
	return doc, nil
}

// Patch carries the class and style of one indexed element. A nil field
// removes the attribute.
type Patch struct {
	Index int     `json:"i"`
	Class *string `json:"c"`
	Style *string `json:"s"`
}

// Patches lists class and style of every indexed element of doc.
func Patches(doc *dom.Document) []Patch {
	var out []Patch
	dom.Walk(doc.Root(), func(n *html.Node) bool {
		if !dom.IsElement(n) {
			return true
		}
		raw, ok := dom.Attr(n, IndexAttr)
		if !ok {
			return true
		}
		i, err := strconv.Atoi(raw)
		if err != nil {
			return true
		}
		p := Patch{Index: i}
		if v, ok := dom.Attr(n, "class"); ok {
			p.Class = &v
		}
		if v, ok := dom.Attr(n, "style"); ok {
			p.Style = &v
		}
		out = append(out, p)
		return true
	})
	return out
}

const syncJS = `(raw) => {
	const patches = JSON.parse(raw);
	const byIdx = new Map();
	document.querySelectorAll('[` + IndexAttr + `]').forEach(el => {
		byIdx.set(el.getAttribute('` + IndexAttr + `'), el);
	});
	let n = 0;
	const put = (el, name, v) => {
		if (v === null) {
			if (el.hasAttribute(name)) { el.removeAttribute(name); n++; }
		} else if (el.getAttribute(name) !== v) {
			el.setAttribute(name, v); n++;
		}
	};
	for (const p of patches) {
		const el = byIdx.get(String(p.i));
		if (!el) continue;
		put(el, 'class', p.c);
		put(el, 'style', p.s);
	}
	return n;
}`

// Sync writes the class and style of doc's indexed elements into the live
// page and returns how many attributes changed.
func (t *Tab) Sync(ctx context.Context, doc *dom.Document) (int, error) {
	payload, err := json.Marshal(Patches(doc))
	if err != nil {
		return 0, err
	}
	res, err := t.Page.Context(ctx).Eval(syncJS, string(payload))
	if err != nil {
		return 0, fmt.Errorf("browser: sync: %w", err)
	}
	return res.Value.Int(), nil
}

// Close closes the tab and stops request interception.
func (t *Tab) Close() error {
	if t.hijack != nil {
		t.hijack.Stop()
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
