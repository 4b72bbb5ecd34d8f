package store

import (
	"context"
	"path/filepath"
	"slices"
	"testing"

	"github.com/hazyhaar/webcleaner/dbopen"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return &Store{DB: db}
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "webcleaner.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if _, err := s.LoadRules(context.Background(), "https://a.example", KindBlur); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestSaveAndLoadKeepOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	origin := "https://news.example"

	rules := []string{"#ad-banner", "div.promo:nth-child(3)", ".sidebar"}
	if err := s.SaveRules(ctx, origin, KindBlur, rules); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.LoadRules(ctx, origin, KindBlur)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !slices.Equal(got, rules) {
		t.Errorf("got %v, want %v", got, rules)
	}

	// Replace: drop one, reorder.
	next := []string{".sidebar", "#ad-banner"}
	if err := s.SaveRules(ctx, origin, KindBlur, next); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, _ = s.LoadRules(ctx, origin, KindBlur)
	if !slices.Equal(got, next) {
		t.Errorf("after replace got %v, want %v", got, next)
	}

	// Kinds are separate.
	if got, _ := s.LoadRules(ctx, origin, KindEnlarge); len(got) != 0 {
		t.Errorf("enlarge rules = %v, want none", got)
	}
}

func TestLoadUnknownOriginIsEmpty(t *testing.T) {
	s := testStore(t)
	got, err := s.LoadRules(context.Background(), "https://nowhere.example", KindBlur)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}

func TestUnknownKind(t *testing.T) {
	s := testStore(t)
	if _, err := s.LoadRules(context.Background(), "o", "shake"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestAddRuleIsIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	origin := "https://a.example"

	for i, sel := range []string{".a", ".b", ".a"} {
		added, err := s.AddRule(ctx, origin, KindBlur, sel)
		if err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
		if want := i < 2; added != want {
			t.Errorf("add %q: added=%v, want %v", sel, added, want)
		}
	}
	got, _ := s.LoadRules(ctx, origin, KindBlur)
	if !slices.Equal(got, []string{".a", ".b"}) {
		t.Errorf("got %v", got)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalBlurred != 2 || st.Rules != 2 || st.Sites != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSaveCountsOnlyNewSelectors(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	o := "https://a.example"

	s.SaveRules(ctx, o, KindBlur, []string{".a"})
	s.SaveRules(ctx, o, KindBlur, []string{".a", ".b"})
	s.SaveRules(ctx, o, KindEnlarge, []string{"img.hero"})

	st, _ := s.Stats(ctx)
	if st.TotalBlurred != 2 {
		t.Errorf("TotalBlurred = %d, want 2", st.TotalBlurred)
	}
	if st.TotalEnlarged != 1 {
		t.Errorf("TotalEnlarged = %d, want 1", st.TotalEnlarged)
	}
}

func TestRemoveRule(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	o := "https://a.example"
	s.SaveRules(ctx, o, KindBlur, []string{".a", ".b"})

	if err := s.RemoveRule(ctx, o, KindBlur, ".a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.RemoveRule(ctx, o, KindBlur, ".missing"); err != nil {
		t.Fatalf("remove missing: %v", err)
	}
	got, _ := s.LoadRules(ctx, o, KindBlur)
	if !slices.Equal(got, []string{".b"}) {
		t.Errorf("got %v", got)
	}
}

func TestResetOriginAndAll(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a, b := "https://a.example", "https://b.example"
	s.SaveRules(ctx, a, KindBlur, []string{".x"})
	s.SaveRules(ctx, a, KindEnlarge, []string{".y"})
	s.SaveRules(ctx, b, KindBlur, []string{".z"})
	s.SetMode(ctx, a, ModeEdit, true)

	if err := s.ResetOrigin(ctx, a); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got, _ := s.LoadRules(ctx, a, KindBlur); len(got) != 0 {
		t.Errorf("a blur = %v", got)
	}
	if got, _ := s.LoadRules(ctx, a, KindEnlarge); len(got) != 0 {
		t.Errorf("a enlarge = %v", got)
	}
	if mode, _ := s.GetMode(ctx, a); mode != "" {
		t.Errorf("mode = %q after reset", mode)
	}
	if got, _ := s.LoadRules(ctx, b, KindBlur); len(got) != 1 {
		t.Errorf("b touched by reset of a: %v", got)
	}

	if err := s.ResetAll(ctx); err != nil {
		t.Fatalf("reset all: %v", err)
	}
	origins, _ := s.ListOrigins(ctx)
	if len(origins) != 0 {
		t.Errorf("origins after reset all = %v", origins)
	}
	st, _ := s.Stats(ctx)
	if st.TotalBlurred != 2 {
		t.Errorf("counters must survive reset, got %+v", st)
	}
}

func TestDisabledFlag(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	o := "https://a.example"

	if d, _ := s.IsDisabled(ctx, o); d {
		t.Fatal("unknown origin reported disabled")
	}
	if err := s.SetDisabled(ctx, o, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if d, _ := s.IsDisabled(ctx, o); !d {
		t.Fatal("expected disabled")
	}
	s.SetDisabled(ctx, o, false)
	if d, _ := s.IsDisabled(ctx, o); d {
		t.Fatal("expected enabled")
	}
}

func TestModesExcludeEachOther(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	o := "https://a.example"

	s.SetMode(ctx, o, ModeEdit, true)
	if m, _ := s.GetMode(ctx, o); m != ModeEdit {
		t.Fatalf("mode = %q", m)
	}
	s.SetMode(ctx, o, ModeEnlarge, true)
	if m, _ := s.GetMode(ctx, o); m != ModeEnlarge {
		t.Fatalf("mode = %q", m)
	}
	s.SetMode(ctx, o, ModeEnlarge, false)
	if m, _ := s.GetMode(ctx, o); m != "" {
		t.Fatalf("mode = %q", m)
	}
	if err := s.SetMode(ctx, o, "zoom", true); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestSetModeKeepsDisabled(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	o := "https://a.example"
	s.SetDisabled(ctx, o, true)
	s.SetMode(ctx, o, ModeEdit, true)
	if d, _ := s.IsDisabled(ctx, o); !d {
		t.Fatal("SetMode cleared the disabled flag")
	}
}

func TestListOrigins(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.SaveRules(ctx, "https://b.example", KindBlur, []string{".a", ".b"})
	s.SaveRules(ctx, "https://b.example", KindEnlarge, []string{".c"})
	s.SetDisabled(ctx, "https://a.example", true)

	got, err := s.ListOrigins(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d origins: %+v", len(got), got)
	}
	if got[0].Origin != "https://a.example" || !got[0].Disabled || got[0].Blur != 0 {
		t.Errorf("a = %+v", got[0])
	}
	if got[1].Blur != 2 || got[1].Enlarge != 1 || got[1].Disabled {
		t.Errorf("b = %+v", got[1])
	}
}

func TestRuleView(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	o := "https://a.example"
	v := s.Rules(KindEnlarge)

	if err := v.Save(ctx, o, []string{"img.hero", "figure"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := v.RemoveOne(ctx, o, "figure"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, _ := v.Load(ctx, o)
	if !slices.Equal(got, []string{"img.hero"}) {
		t.Errorf("got %v", got)
	}
	if blur, _ := s.Rules(KindBlur).Load(ctx, o); len(blur) != 0 {
		t.Errorf("blur view sees %v", blur)
	}
	s.SetDisabled(ctx, o, true)
	if d, _ := v.IsDisabled(ctx, o); !d {
		t.Error("view does not see disabled flag")
	}
}
