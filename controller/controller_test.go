package controller

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"golang.org/x/net/html"

	"github.com/hazyhaar/webcleaner/dom"
	"github.com/hazyhaar/webcleaner/reconcile"
	"github.com/hazyhaar/webcleaner/selector"
)

type memStore struct {
	mu    sync.Mutex
	rules map[string][]string
}

func (s *memStore) Load(_ context.Context, o string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rules[o]), nil
}

func (s *memStore) Save(_ context.Context, o string, rules []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[o] = slices.Clone(rules)
	return nil
}

func (s *memStore) RemoveOne(_ context.Context, o, sel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[o] = slices.DeleteFunc(s.rules[o], func(x string) bool { return x == sel })
	return nil
}

func (s *memStore) IsDisabled(context.Context, string) (bool, error) { return false, nil }

const origin = "https://shop.example"

type fixture struct {
	doc     *dom.Document
	blur    *reconcile.Reconciler
	enlarge *reconcile.Reconciler
	ctrl    *Controller
	changes [][2]Mode
}

func setup(t *testing.T) *fixture {
	t.Helper()
	d, err := dom.ParseString(`<html data-rect="0,0,1000,1000"><body data-rect="0,0,1000,1000">
<div id="app" data-rect="0,0,1000,1000">
  <aside class="promo-box" data-rect="0,0,300,200"><span id="inner" data-rect="10,10,50,20">sale</span></aside>
  <article id="story" data-rect="300,0,700,900"><img id="hero" src="x.png" data-rect="300,0,700,400"></article>
</div></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	d.SetLayout(dom.LayoutFromAttr(d, "data-rect"))
	d.SetViewport(dom.Viewport{Width: 1000, Height: 1000})

	ctx := context.Background()
	f := &fixture{doc: d}
	f.blur = reconcile.New(d, origin, &memStore{rules: map[string][]string{}})
	f.enlarge = reconcile.New(d, origin, &memStore{rules: map[string][]string{}},
		reconcile.WithEffect(reconcile.Enlarge(0)))
	for _, r := range []*reconcile.Reconciler{f.blur, f.enlarge} {
		if _, err := r.Start(ctx); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(r.Close)
	}
	f.ctrl = New(d, f.blur, f.enlarge, OnModeChange(func(from, to Mode) {
		f.changes = append(f.changes, [2]Mode{from, to})
	}))
	return f
}

func (f *fixture) node(t *testing.T, sel string) *html.Node {
	t.Helper()
	nodes, err := f.doc.QueryAll(sel)
	if err != nil || len(nodes) != 1 {
		t.Fatalf("%s: %d nodes, err=%v", sel, len(nodes), err)
	}
	return nodes[0]
}

func TestModeTransitions(t *testing.T) {
	f := setup(t)
	c := f.ctrl

	if c.Mode() != Idle {
		t.Fatalf("initial mode = %v", c.Mode())
	}
	c.Enter(Designating)
	c.Hover(f.node(t, "#inner"))
	if c.Highlighted() == nil {
		t.Fatal("no highlight in designating mode")
	}

	c.Enter(Resizing)
	if c.Mode() != Resizing {
		t.Fatalf("mode = %v", c.Mode())
	}
	if got, _ := f.doc.QueryAll("." + HighlightClass); len(got) != 0 {
		t.Error("highlight survived leaving designating mode")
	}

	c.Toggle(Resizing)
	if c.Mode() != Idle {
		t.Fatalf("toggle off: mode = %v", c.Mode())
	}
	c.Enter(Idle)

	want := [][2]Mode{{Idle, Designating}, {Designating, Resizing}, {Resizing, Idle}}
	if !slices.Equal(f.changes, want) {
		t.Errorf("transitions = %v, want %v", f.changes, want)
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{Idle, Designating, Resizing} {
		got, err := ParseMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseMode(%q) = %v, %v", m, got, err)
		}
	}
	if _, err := ParseMode("zoom"); err == nil {
		t.Error("expected error")
	}
}

func TestHoverIdleDoesNothing(t *testing.T) {
	f := setup(t)
	if n := f.ctrl.Hover(f.node(t, "#inner")); n != nil {
		t.Fatal("hover in idle highlighted a node")
	}
}

func TestHoverMovesHighlight(t *testing.T) {
	f := setup(t)
	f.ctrl.Enter(Designating)

	first := f.ctrl.Hover(f.node(t, "#inner"))
	second := f.ctrl.Hover(f.node(t, "#story"))
	if first == nil || second == nil || first == second {
		t.Fatalf("hover results: %v, %v", first, second)
	}
	got, _ := f.doc.QueryAll("." + HighlightClass)
	if len(got) != 1 || got[0] != second {
		t.Fatalf("highlighted %d nodes", len(got))
	}

	f.ctrl.Escape()
	if got, _ := f.doc.QueryAll("." + HighlightClass); len(got) != 0 {
		t.Error("escape left a highlight")
	}
}

func TestHoverRootDescends(t *testing.T) {
	f := setup(t)
	f.ctrl.Enter(Designating)
	// #app covers the viewport: descend to the article, whose only
	// visible child is the image.
	got := f.ctrl.Hover(f.node(t, "#app"))
	if got == nil || dom.ID(got) != "hero" {
		t.Fatalf("hover #app = %v", got)
	}
}

func TestClickDesignatingBlurs(t *testing.T) {
	f := setup(t)
	f.ctrl.Enter(Designating)
	f.ctrl.Hover(f.node(t, "#inner"))

	out, err := f.ctrl.Click(context.Background(), f.node(t, "#inner"))
	if err != nil {
		t.Fatalf("click: %v", err)
	}
	if out.Action != ActionBlur || out.Selector != "#inner" {
		t.Fatalf("outcome = %+v", out)
	}
	for _, p := range out.Pending {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("persist: %v", err)
		}
	}
	if !dom.HasClass(f.node(t, "#inner"), reconcile.MarkerBlur) {
		t.Error("target not blurred")
	}
	if dom.HasClass(f.node(t, "#inner"), HighlightClass) {
		t.Error("highlight left on clicked node")
	}
	if !slices.Equal(f.blur.Rules(), []string{"#inner"}) {
		t.Errorf("blur rules = %v", f.blur.Rules())
	}
}

func TestClickUsesClassSignature(t *testing.T) {
	f := setup(t)
	f.ctrl.Enter(Designating)
	out, err := f.ctrl.Click(context.Background(), f.node(t, "aside"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Selector != "aside.promo-box" {
		t.Fatalf("selector = %q", out.Selector)
	}
}

func TestClickIdle(t *testing.T) {
	f := setup(t)
	if _, err := f.ctrl.Click(context.Background(), f.node(t, "#inner")); !errors.Is(err, ErrIdle) {
		t.Fatalf("err = %v, want ErrIdle", err)
	}
}

func TestClickRejectedIsSilent(t *testing.T) {
	f := setup(t)
	f.ctrl.Enter(Designating)
	out, err := f.ctrl.Click(context.Background(), f.node(t, "body"))
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if out.Action != ActionNone || len(f.blur.Rules()) != 0 {
		t.Fatalf("rejected click changed state: %+v", out)
	}
}

func TestClickResizingToggles(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.ctrl.Enter(Resizing)

	out, err := f.ctrl.Click(ctx, f.node(t, "#hero"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Action != ActionEnlarge || !dom.HasClass(f.node(t, "#hero"), reconcile.MarkerEnlarge) {
		t.Fatalf("enlarge: %+v", out)
	}
	if len(f.blur.Rules()) != 0 {
		t.Error("resizing touched the blur rules")
	}

	out, err = f.ctrl.Click(ctx, f.node(t, "#hero"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Action != ActionShrink || out.Report.Unmarked != 1 {
		t.Fatalf("shrink: %+v", out)
	}
	if dom.HasClass(f.node(t, "#hero"), reconcile.MarkerEnlarge) {
		t.Error("still enlarged")
	}
	if len(f.enlarge.Rules()) != 0 {
		t.Errorf("enlarge rules = %v", f.enlarge.Rules())
	}
}

func TestClickSynthesisFailure(t *testing.T) {
	f := setup(t)
	f.ctrl.Enter(Designating)

	// A node with a box that is no longer in the tree.
	gone := f.node(t, "#inner")
	f.doc.Remove(gone)
	f.doc.Layout().(*dom.StaticLayout).Set(gone, dom.Rect{Width: 50, Height: 20})

	if _, err := f.ctrl.Click(context.Background(), gone); !errors.Is(err, selector.ErrSynthesis) {
		t.Fatalf("err = %v, want ErrSynthesis", err)
	}
	if len(f.blur.Rules()) != 0 {
		t.Errorf("rules = %v", f.blur.Rules())
	}
}
