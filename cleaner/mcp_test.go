package cleaner

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/webcleaner/reconcile"
)

var testMCPImpl = &mcp.Implementation{Name: "webcleaner-test", Version: "0.1.0"}

func mcpSession(t *testing.T, c *Cleaner) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	c.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCall(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text, result.IsError
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	text, isErr := mcpCall(t, session, name, args)
	if isErr {
		t.Fatalf("CallTool(%s) tool error: %s", name, text)
	}
	return text
}

func TestMCP_SaveAndGetRules(t *testing.T) {
	c := testCleaner(t)
	s, _ := openPage(t, c)
	session := mcpSession(t, c)

	text := mcpCallTool(t, session, "webcleaner_save_rule", map[string]any{
		"origin":   testURL,
		"selector": "aside.promo-box",
	})
	var saved struct {
		Origin string `json:"origin"`
		Added  bool   `json:"added"`
	}
	if err := json.Unmarshal([]byte(text), &saved); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if saved.Origin != testOrigin || !saved.Added {
		t.Errorf("saved = %+v", saved)
	}
	if !marked(t, s, "aside.promo-box", reconcile.MarkerBlur) {
		t.Error("open page not refreshed")
	}

	text = mcpCallTool(t, session, "webcleaner_get_rules", map[string]any{"origin": testOrigin})
	var rules []string
	json.Unmarshal([]byte(text), &rules)
	if len(rules) != 1 || rules[0] != "aside.promo-box" {
		t.Errorf("rules = %v", rules)
	}

	mcpCallTool(t, session, "webcleaner_remove_rule", map[string]any{"origin": testOrigin, "selector": "aside.promo-box"})
	if marked(t, s, "aside.promo-box", reconcile.MarkerBlur) {
		t.Error("removed rule still applied")
	}
}

func TestMCP_InvalidInput(t *testing.T) {
	c := testCleaner(t)
	session := mcpSession(t, c)

	text, isErr := mcpCall(t, session, "webcleaner_save_rule", map[string]any{"origin": testOrigin, "selector": "div[["})
	if !isErr || !strings.Contains(text, "invalid") {
		t.Errorf("bad selector: %v %s", isErr, text)
	}
	text, isErr = mcpCall(t, session, "webcleaner_get_rules", map[string]any{"origin": "file:///x"})
	if !isErr || !strings.Contains(text, "invalid arguments") {
		t.Errorf("no origin: %v %s", isErr, text)
	}
}

func TestMCP_SitesAndStats(t *testing.T) {
	c := testCleaner(t)
	session := mcpSession(t, c)

	mcpCallTool(t, session, "webcleaner_save_rule", map[string]any{"origin": testOrigin, "selector": "#ad"})
	mcpCallTool(t, session, "webcleaner_save_rule", map[string]any{"origin": testOrigin, "selector": "#hero", "kind": "enlarge"})
	mcpCallTool(t, session, "webcleaner_toggle_site", map[string]any{"origin": testOrigin, "disabled": true})

	var sites []OriginSummary
	json.Unmarshal([]byte(mcpCallTool(t, session, "webcleaner_list_sites", map[string]any{})), &sites)
	if len(sites) != 1 || !sites[0].Disabled || sites[0].Blur != 1 || sites[0].Enlarge != 1 {
		t.Errorf("sites = %+v", sites)
	}

	var st Stats
	json.Unmarshal([]byte(mcpCallTool(t, session, "webcleaner_stats", map[string]any{})), &st)
	if st.TotalBlurred != 1 || st.TotalEnlarged != 1 || st.Sites != 1 || st.Rules != 2 {
		t.Errorf("stats = %+v", st)
	}

	mcpCallTool(t, session, "webcleaner_reset_site", map[string]any{"origin": testOrigin})
	rules, _ := c.GetRules(context.Background(), testOrigin, KindEnlarge)
	if len(rules) != 0 {
		t.Errorf("rules after reset = %v", rules)
	}
}
