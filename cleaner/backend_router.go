package cleaner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/webcleaner/cleaner/internal/store"
	"github.com/hazyhaar/webcleaner/connectivity"
	"github.com/hazyhaar/webcleaner/reconcile"
)

// RouterBackend persists through the webcleaner_* services of a
// connectivity Router, so sessions can share a rule database that lives in
// another process. Which process serves a call is decided by the router's
// routes table.
type RouterBackend struct {
	router *connectivity.Router
}

// NewRouterBackend returns a Backend that calls through router.
func NewRouterBackend(router *connectivity.Router) *RouterBackend {
	return &RouterBackend{router: router}
}

func (b *RouterBackend) call(ctx context.Context, service string, req ruleRequest, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	resp, err := b.router.Call(ctx, service, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("cleaner: %s: decode response: %w", service, err)
	}
	return nil
}

// Rules returns the rule store of kind.
func (b *RouterBackend) Rules(kind string) reconcile.RuleStore {
	return &routerRules{b: b, kind: kind}
}

func (b *RouterBackend) SetDisabled(ctx context.Context, origin string, disabled bool) error {
	return b.call(ctx, "webcleaner_toggle_site", ruleRequest{Origin: origin, Disabled: disabled}, nil)
}

func (b *RouterBackend) ResetOrigin(ctx context.Context, origin string) error {
	return b.call(ctx, "webcleaner_reset_site", ruleRequest{Origin: origin}, nil)
}

func (b *RouterBackend) GetMode(ctx context.Context, origin string) (string, error) {
	var site Site
	if err := b.call(ctx, "webcleaner_get_site", ruleRequest{Origin: origin}, &site); err != nil {
		return "", err
	}
	switch {
	case site.EditMode:
		return store.ModeEdit, nil
	case site.EnlargeMode:
		return store.ModeEnlarge, nil
	}
	return "", nil
}

func (b *RouterBackend) SetMode(ctx context.Context, origin, mode string, on bool) error {
	return b.call(ctx, "webcleaner_set_mode", ruleRequest{Origin: origin, Mode: mode, On: on}, nil)
}

type routerRules struct {
	b    *RouterBackend
	kind string
}

func (r *routerRules) Load(ctx context.Context, origin string) ([]string, error) {
	var rules []string
	err := r.b.call(ctx, "webcleaner_get_rules", ruleRequest{Origin: origin, Kind: r.kind}, &rules)
	return rules, err
}

func (r *routerRules) Save(ctx context.Context, origin string, rules []string) error {
	return r.b.call(ctx, "webcleaner_set_rules", ruleRequest{Origin: origin, Kind: r.kind, Rules: rules}, nil)
}

func (r *routerRules) RemoveOne(ctx context.Context, origin, sel string) error {
	return r.b.call(ctx, "webcleaner_remove_rule", ruleRequest{Origin: origin, Kind: r.kind, Selector: sel}, nil)
}

func (r *routerRules) IsDisabled(ctx context.Context, origin string) (bool, error) {
	var site Site
	if err := r.b.call(ctx, "webcleaner_get_site", ruleRequest{Origin: origin}, &site); err != nil {
		return false, err
	}
	return site.Disabled, nil
}
