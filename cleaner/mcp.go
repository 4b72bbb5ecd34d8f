package cleaner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/webcleaner/dom"
	"github.com/hazyhaar/webcleaner/kit"
	"github.com/hazyhaar/webcleaner/reconcile"
)

// RegisterMCP registers webcleaner tools on an MCP server.
func (c *Cleaner) RegisterMCP(srv *mcp.Server) {
	c.registerGetRulesTool(srv)
	c.registerSaveRuleTool(srv)
	c.registerRemoveRuleTool(srv)
	c.registerResetSiteTool(srv)
	c.registerToggleSiteTool(srv)
	c.registerListSitesTool(srv)
	c.registerStatsTool(srv)
}

// endpoint decorates a tool endpoint with call logging.
func (c *Cleaner) endpoint(name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(c.logCalls(name))(ep)
}

func (c *Cleaner) logCalls(name string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"tool", name,
				"transport", kit.GetTransport(ctx),
				"origin", kit.GetOrigin(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				c.logger.WarnContext(ctx, "cleaner: tool failed", append(attrs, "error", err)...)
			} else {
				c.logger.DebugContext(ctx, "cleaner: tool ok", attrs...)
			}
			return resp, err
		}
	}
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var (
	originProp   = map[string]any{"type": "string", "description": "Origin (scheme://host[:port]) or page URL"}
	kindProp     = map[string]any{"type": "string", "enum": []any{KindBlur, KindEnlarge}, "description": "Effect kind (default: blur)"}
	selectorProp = map[string]any{"type": "string", "description": "CSS selector"}
)

type siteRequest struct {
	Origin   string `json:"origin"`
	Kind     string `json:"kind,omitempty"`
	Selector string `json:"selector,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// decodeSite accepts either an origin or a full page URL.
func (c *Cleaner) decodeSite(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r siteRequest
	if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
		return nil, err
	}
	origin, err := c.Origin(r.Origin)
	if err != nil {
		return nil, err
	}
	r.Origin = origin
	if r.Kind == "" {
		r.Kind = KindBlur
	}
	return &kit.MCPDecodeResult{
		Request:   &r,
		EnrichCtx: func(ctx context.Context) context.Context { return kit.WithOrigin(ctx, origin) },
	}, nil
}

// --- get_rules ---

func (c *Cleaner) registerGetRulesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "webcleaner_get_rules",
		Description: "List the stored selectors of a site, in application order.",
		InputSchema: inputSchema(map[string]any{
			"origin": originProp,
			"kind":   kindProp,
		}, []string{"origin"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*siteRequest)
		rules, err := c.GetRules(ctx, r.Origin, r.Kind)
		if rules == nil {
			rules = []string{}
		}
		return rules, err
	}

	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, endpoint), c.decodeSite)
}

// --- save_rule ---

func (c *Cleaner) registerSaveRuleTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "webcleaner_save_rule",
		Description: "Blur (or enlarge) every element matching a selector on a site. Open pages of the site pick it up.",
		InputSchema: inputSchema(map[string]any{
			"origin":   originProp,
			"kind":     kindProp,
			"selector": selectorProp,
		}, []string{"origin", "selector"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*siteRequest)
		if err := validSelector(r.Selector); err != nil {
			return nil, err
		}
		added, err := c.SaveRule(ctx, r.Origin, r.Kind, r.Selector)
		if err != nil {
			return nil, err
		}
		return map[string]any{"origin": r.Origin, "selector": r.Selector, "added": added}, nil
	}

	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, endpoint), c.decodeSite)
}

// --- remove_rule ---

func (c *Cleaner) registerRemoveRuleTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "webcleaner_remove_rule",
		Description: "Remove one selector from a site.",
		InputSchema: inputSchema(map[string]any{
			"origin":   originProp,
			"kind":     kindProp,
			"selector": selectorProp,
		}, []string{"origin", "selector"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*siteRequest)
		if err := c.RemoveRule(ctx, r.Origin, r.Kind, r.Selector); err != nil {
			return nil, err
		}
		return map[string]string{"removed": r.Selector}, nil
	}

	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, endpoint), c.decodeSite)
}

// --- reset_site ---

func (c *Cleaner) registerResetSiteTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "webcleaner_reset_site",
		Description: "Delete every rule of a site and restore its open pages.",
		InputSchema: inputSchema(map[string]any{"origin": originProp}, []string{"origin"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*siteRequest)
		if err := c.ResetSite(ctx, r.Origin); err != nil {
			return nil, err
		}
		return map[string]string{"reset": r.Origin}, nil
	}

	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, endpoint), c.decodeSite)
}

// --- toggle_site ---

func (c *Cleaner) registerToggleSiteTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "webcleaner_toggle_site",
		Description: "Disable or re-enable cleaning on a site without deleting its rules.",
		InputSchema: inputSchema(map[string]any{
			"origin":   originProp,
			"disabled": map[string]any{"type": "boolean", "description": "true to disable cleaning"},
		}, []string{"origin", "disabled"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*siteRequest)
		if err := c.SetDisabled(ctx, r.Origin, r.Disabled); err != nil {
			return nil, err
		}
		return c.GetSite(ctx, r.Origin)
	}

	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, endpoint), c.decodeSite)
}

// --- list_sites ---

func (c *Cleaner) registerListSitesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "webcleaner_list_sites",
		Description: "List sites with rules or flags, with rule counts per kind.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		sites, err := c.ListSites(ctx)
		if sites == nil {
			sites = []OriginSummary{}
		}
		return sites, err
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, endpoint), decode)
}

// --- stats ---

func (c *Cleaner) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "webcleaner_stats",
		Description: "Get webcleaner statistics: elements blurred and enlarged, sites and rules.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return c.Stats(ctx)
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, endpoint), decode)
}

func validSelector(sel string) error {
	if sel == "" {
		return fmt.Errorf("selector is required")
	}
	if _, err := dom.Compile(sel); err != nil {
		return fmt.Errorf("%w: %q: %v", reconcile.ErrSelectorInvalid, sel, err)
	}
	return nil
}
