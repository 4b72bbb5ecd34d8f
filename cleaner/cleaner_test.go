package cleaner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/webcleaner/cleaner/internal/store"
	"github.com/hazyhaar/webcleaner/controller"
	"github.com/hazyhaar/webcleaner/dbopen"
	"github.com/hazyhaar/webcleaner/dom"
	"github.com/hazyhaar/webcleaner/dom/mutation"
	"github.com/hazyhaar/webcleaner/reconcile"
)

const (
	testURL    = "https://news.example/2026/10/story"
	testOrigin = "https://news.example"
)

const testPage = `<html data-rect="0,0,1000,1000"><body data-rect="0,0,1000,1000">
<div id="app" data-rect="0,0,1000,1000">
  <header id="top" data-rect="0,0,1000,80"><a href="/">News</a></header>
  <aside class="promo-box" data-rect="0,100,300,200"><span id="ad" data-rect="10,110,50,20">sale</span></aside>
  <article id="story" data-rect="300,100,700,800"><h1>Title</h1><p>Body text.</p><img id="hero" src="/x.png" data-rect="300,300,700,400"></article>
</div></body></html>`

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testCleaner(t *testing.T, opts ...Option) *Cleaner {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if _, err := db.Exec(store.Schema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	cfg := &Config{Debounce: DebounceConfig{Window: 10 * time.Millisecond}}
	c := newCleaner(&store.Store{DB: db}, cfg, discard(), opts...)
	t.Cleanup(func() {
		for _, s := range c.Sessions("") {
			s.Close()
		}
	})
	return c
}

func testDoc(t *testing.T) *dom.Document {
	t.Helper()
	d, err := dom.ParseString(testPage)
	if err != nil {
		t.Fatal(err)
	}
	d.SetLayout(dom.LayoutFromAttr(d, "data-rect"))
	d.SetViewport(dom.Viewport{Width: 1000, Height: 1000})
	return d
}

func openPage(t *testing.T, c *Cleaner, opts ...SessionOption) (*Session, *dom.Document) {
	t.Helper()
	d := testDoc(t)
	s, err := c.OpenPage(context.Background(), testURL, d, opts...)
	if err != nil {
		t.Fatalf("open page: %v", err)
	}
	return s, d
}

// marked reports whether the element matching sel carries the effect marker.
func marked(t *testing.T, s *Session, sel, marker string) bool {
	t.Helper()
	var on bool
	err := s.Do(context.Background(), func(_ context.Context, d *dom.Document) error {
		nodes, err := d.QueryAll(sel)
		if err != nil || len(nodes) == 0 {
			return errors.Join(err, errors.New("no match for "+sel))
		}
		on = dom.HasClass(nodes[0], marker)
		return nil
	})
	if err != nil {
		t.Fatalf("marked(%s): %v", sel, err)
	}
	return on
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOpenPageAppliesStoredRules(t *testing.T) {
	c := testCleaner(t)
	ctx := context.Background()
	if err := c.Store().SaveRules(ctx, testOrigin, KindBlur, []string{"#ad"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Store().SaveRules(ctx, testOrigin, KindEnlarge, []string{"#hero"}); err != nil {
		t.Fatal(err)
	}

	s, _ := openPage(t, c)
	if s.Origin() != testOrigin {
		t.Errorf("origin = %q", s.Origin())
	}
	if !strings.HasPrefix(s.ID(), "ses_") {
		t.Errorf("id = %q", s.ID())
	}
	if got := s.Initial(); got.Blur.Applied != 1 || got.Enlarge.Applied != 1 {
		t.Errorf("initial = %+v", got)
	}
	if !marked(t, s, "#ad", reconcile.MarkerBlur) {
		t.Error("#ad not blurred")
	}
	if !marked(t, s, "#hero", reconcile.MarkerEnlarge) {
		t.Error("#hero not enlarged")
	}
	blur, enlarge, err := s.State(ctx)
	if err != nil || blur != reconcile.StateActive || enlarge != reconcile.StateActive {
		t.Errorf("state = %v %v %v", blur, enlarge, err)
	}
}

func TestOpenPageWithoutOrigin(t *testing.T) {
	c := testCleaner(t)
	_, err := c.OpenPage(context.Background(), "file:///tmp/x.html", testDoc(t))
	if !errors.Is(err, ErrNoOrigin) {
		t.Fatalf("err = %v, want ErrNoOrigin", err)
	}
}

func TestHandleRuleAddedPersists(t *testing.T) {
	c := testCleaner(t)
	s, _ := openPage(t, c)
	ctx := context.Background()

	res, err := s.Handle(ctx, Event{Type: EventRuleAdded, Selector: "aside.promo-box"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Blur.Applied != 1 {
		t.Errorf("applied = %d", res.Blur.Applied)
	}
	if err := res.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	rules, _ := c.GetRules(ctx, testOrigin, KindBlur)
	if !slices.Equal(rules, []string{"aside.promo-box"}) {
		t.Errorf("stored = %v", rules)
	}

	res, err = s.Handle(ctx, Event{Type: EventRuleRemoved, Selector: "aside.promo-box"})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if res.Blur.Unmarked != 1 {
		t.Errorf("unmarked = %d", res.Blur.Unmarked)
	}
	res.Wait(ctx)
	rules, _ = c.GetRules(ctx, testOrigin, KindBlur)
	if len(rules) != 0 {
		t.Errorf("stored after remove = %v", rules)
	}
}

func TestHandleRejects(t *testing.T) {
	c := testCleaner(t)
	s, _ := openPage(t, c)
	ctx := context.Background()

	if _, err := s.Handle(ctx, Event{Type: EventRefresh, Origin: "https://other.example"}); !errors.Is(err, ErrForeignOrigin) {
		t.Errorf("foreign origin: %v", err)
	}
	if _, err := s.Handle(ctx, Event{Type: "PING"}); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("unknown type: %v", err)
	}
	if _, err := s.Handle(ctx, Event{Type: EventRuleAdded, Selector: "#nothing-here"}); !errors.Is(err, reconcile.ErrSelectorStale) {
		t.Errorf("zero match: %v", err)
	}
	if _, err := s.Handle(ctx, Event{Type: EventRuleAdded, Selector: "#ad", Kind: "shrink"}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("unknown kind: %v", err)
	}
}

func TestHandleResetClearStore(t *testing.T) {
	c := testCleaner(t)
	ctx := context.Background()
	c.Store().SaveRules(ctx, testOrigin, KindBlur, []string{"#ad", "#top"})
	s, _ := openPage(t, c)

	res, err := s.Handle(ctx, Event{Type: EventReset})
	if err != nil {
		t.Fatal(err)
	}
	if res.Blur.Unmarked != 2 {
		t.Errorf("unmarked = %d", res.Blur.Unmarked)
	}
	if rules, _ := s.Rules(ctx, KindBlur); len(rules) != 0 {
		t.Errorf("in-memory rules = %v", rules)
	}
	if rules, _ := c.GetRules(ctx, testOrigin, KindBlur); len(rules) != 2 {
		t.Errorf("plain reset touched the store: %v", rules)
	}

	if _, err := s.Handle(ctx, Event{Type: EventReset, ClearStore: true}); err != nil {
		t.Fatal(err)
	}
	if rules, _ := c.GetRules(ctx, testOrigin, KindBlur); len(rules) != 0 {
		t.Errorf("store after clear = %v", rules)
	}
}

func TestHandleToggleSite(t *testing.T) {
	c := testCleaner(t)
	ctx := context.Background()
	c.Store().SaveRules(ctx, testOrigin, KindBlur, []string{"#ad"})
	s, _ := openPage(t, c)
	s.SetMode(ctx, controller.Designating)

	if _, err := s.Handle(ctx, Event{Type: EventToggleSite, Disabled: true}); err != nil {
		t.Fatal(err)
	}
	if marked(t, s, "#ad", reconcile.MarkerBlur) {
		t.Error("#ad still blurred on a disabled site")
	}
	if m, _ := s.Mode(ctx); m != controller.Idle {
		t.Errorf("mode = %v", m)
	}
	if blur, _, _ := s.State(ctx); blur != reconcile.StateDisabled {
		t.Errorf("blur state = %v", blur)
	}
	if _, err := s.Handle(ctx, Event{Type: EventRuleAdded, Selector: "#top"}); !errors.Is(err, reconcile.ErrDisabled) {
		t.Errorf("add on disabled: %v", err)
	}

	if _, err := s.Handle(ctx, Event{Type: EventToggleSite, Disabled: false}); err != nil {
		t.Fatal(err)
	}
	if !marked(t, s, "#ad", reconcile.MarkerBlur) {
		t.Error("#ad not blurred after re-enable")
	}
	if site, _ := c.GetSite(ctx, testOrigin); site.Disabled {
		t.Error("site still disabled")
	}
}

func TestModePersistsAcrossLoads(t *testing.T) {
	c := testCleaner(t)
	ctx := context.Background()
	s, _ := openPage(t, c)

	if err := s.SetMode(ctx, controller.Resizing); err != nil {
		t.Fatal(err)
	}
	if mode, _ := c.Store().GetMode(ctx, testOrigin); mode != store.ModeEnlarge {
		t.Errorf("stored mode = %q", mode)
	}
	s.Close()

	s2, _ := openPage(t, c)
	if m, _ := s2.Mode(ctx); m != controller.Resizing {
		t.Errorf("restored mode = %v", m)
	}
	if err := s2.Escape(ctx); err != nil {
		t.Fatal(err)
	}
	if mode, _ := c.Store().GetMode(ctx, testOrigin); mode != "" {
		t.Errorf("stored mode after escape = %q", mode)
	}
}

func TestClickDesignatesAndSaves(t *testing.T) {
	c := testCleaner(t)
	ctx := context.Background()
	s, _ := openPage(t, c)

	if _, err := s.Click(ctx, 20, 115); !errors.Is(err, controller.ErrIdle) {
		t.Fatalf("idle click: %v", err)
	}
	s.SetMode(ctx, controller.Designating)

	hit, err := s.Hover(ctx, 20, 115)
	if err != nil || !hit {
		t.Fatalf("hover = %v %v", hit, err)
	}
	if !marked(t, s, "#ad", controller.HighlightClass) {
		t.Error("#ad not highlighted")
	}

	out, err := s.Click(ctx, 20, 115)
	if err != nil {
		t.Fatalf("click: %v", err)
	}
	if out.Action != controller.ActionBlur || out.Selector != "#ad" {
		t.Errorf("outcome = %+v", out)
	}
	if marked(t, s, "#ad", controller.HighlightClass) {
		t.Error("highlight kept after click")
	}
	if err := s.WaitPersisted(ctx); err != nil {
		t.Fatal(err)
	}
	if rules, _ := c.GetRules(ctx, testOrigin, KindBlur); !slices.Equal(rules, []string{"#ad"}) {
		t.Errorf("stored = %v", rules)
	}
	st, _ := c.Stats(ctx)
	if st.TotalBlurred != 1 {
		t.Errorf("total blurred = %d", st.TotalBlurred)
	}
}

func TestPeersFollowRuleChanges(t *testing.T) {
	c := testCleaner(t)
	ctx := context.Background()
	a, _ := openPage(t, c)
	b, _ := openPage(t, c)

	if _, err := a.Handle(ctx, Event{Type: EventRuleAdded, Selector: "#ad"}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "peer refresh", func() bool {
		return marked(t, b, "#ad", reconcile.MarkerBlur)
	})
	if rules, _ := b.Rules(ctx, KindBlur); !slices.Equal(rules, []string{"#ad"}) {
		t.Errorf("peer rules = %v", rules)
	}
}

func TestServiceWritesRefreshSessions(t *testing.T) {
	c := testCleaner(t)
	ctx := context.Background()
	s, _ := openPage(t, c)

	added, err := c.SaveRule(ctx, testOrigin, KindBlur, "#top")
	if err != nil || !added {
		t.Fatalf("save = %v %v", added, err)
	}
	if !marked(t, s, "#top", reconcile.MarkerBlur) {
		t.Error("#top not blurred after SaveRule")
	}
	if added, _ := c.SaveRule(ctx, testOrigin, KindBlur, "#top"); added {
		t.Error("duplicate reported as added")
	}

	if err := c.SetDisabled(ctx, testOrigin, true); err != nil {
		t.Fatal(err)
	}
	if marked(t, s, "#top", reconcile.MarkerBlur) {
		t.Error("#top blurred on disabled site")
	}
	c.SetDisabled(ctx, testOrigin, false)

	if err := c.ResetSite(ctx, testOrigin); err != nil {
		t.Fatal(err)
	}
	if marked(t, s, "#top", reconcile.MarkerBlur) {
		t.Error("#top blurred after reset")
	}
	sites, _ := c.ListSites(ctx)
	if len(sites) != 1 || sites[0].Blur != 0 || sites[0].Disabled {
		t.Errorf("sites = %+v", sites)
	}
}

func TestBroadcastNeedsOrigin(t *testing.T) {
	c := testCleaner(t)
	openPage(t, c)
	if _, err := c.Broadcast(context.Background(), Event{Type: EventRefresh}); !errors.Is(err, ErrNoOrigin) {
		t.Errorf("err = %v", err)
	}
	n, err := c.Broadcast(context.Background(), Event{Type: EventRefresh, Origin: testOrigin})
	if err != nil || n != 1 {
		t.Errorf("delivered = %d, %v", n, err)
	}
}

func TestOnBatchAfterMutation(t *testing.T) {
	c := testCleaner(t)
	ctx := context.Background()
	c.Store().SaveRules(ctx, testOrigin, KindBlur, []string{".late"})
	c.Store().AddRule(ctx, testOrigin, KindBlur, "#ad")

	type flushed struct {
		batch mutation.Batch
		rep   reconcile.Report
	}
	got := make(chan flushed, 4)
	s, _ := openPage(t, c, OnBatch(func(_ context.Context, kind string, b mutation.Batch, rep reconcile.Report) {
		if kind == KindBlur {
			got <- flushed{b, rep}
		}
	}))

	// .late matched nothing at load and was pruned.
	if rules, _ := s.Rules(ctx, KindBlur); !slices.Equal(rules, []string{"#ad"}) {
		t.Fatalf("rules = %v", rules)
	}

	err := s.Do(ctx, func(_ context.Context, d *dom.Document) error {
		nodes, err := dom.Fragment(d.Body(), `<div class="late">late ad</div>`)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			d.AppendChild(d.Body(), n)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case f := <-got:
		if len(f.batch.Records) == 0 {
			t.Error("empty batch")
		}
		if f.batch.PageURL != testURL {
			t.Errorf("batch page = %q", f.batch.PageURL)
		}
		if f.rep.Applied != 0 {
			t.Errorf("re-scan applied %d, want 0", f.rep.Applied)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no batch flushed")
	}
}

func TestSessionClose(t *testing.T) {
	c := testCleaner(t)
	s, _ := openPage(t, c)
	s.Close()
	s.Close()

	if _, ok := c.Session(s.ID()); ok {
		t.Error("closed session still registered")
	}
	if _, err := s.Rules(context.Background(), KindBlur); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}
