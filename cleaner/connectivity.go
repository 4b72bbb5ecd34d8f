package cleaner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/webcleaner/connectivity"
)

// RegisterConnectivity registers webcleaner service handlers on a
// connectivity Router.
//
// Registered services:
//
//	webcleaner_get_rules    rule set of (origin, kind)
//	webcleaner_save_rule    append one selector
//	webcleaner_set_rules    replace a rule set
//	webcleaner_remove_rule  delete one selector
//	webcleaner_reset_site   delete every rule of an origin
//	webcleaner_toggle_site  disable or enable an origin
//	webcleaner_get_site     per-origin flags
//	webcleaner_set_mode     record the interaction mode of an origin
//	webcleaner_list_sites   origins with rules or flags
//	webcleaner_stats        counters and totals
//	webcleaner_event        deliver a bus event to open sessions
//
// Writes touch the database only. Set "notify" to also refresh the open
// sessions of the origin; a remote Backend leaves it off because its own
// session already holds the change.
func (c *Cleaner) RegisterConnectivity(router *connectivity.Router) {
	for name, h := range map[string]connectivity.Handler{
		"webcleaner_get_rules":   c.handleGetRules,
		"webcleaner_save_rule":   c.handleSaveRule,
		"webcleaner_set_rules":   c.handleSetRules,
		"webcleaner_remove_rule": c.handleRemoveRule,
		"webcleaner_reset_site":  c.handleResetSite,
		"webcleaner_toggle_site": c.handleToggleSite,
		"webcleaner_get_site":    c.handleGetSite,
		"webcleaner_set_mode":    c.handleSetMode,
		"webcleaner_list_sites":  c.handleListSites,
		"webcleaner_stats":       c.handleStats,
		"webcleaner_event":       c.handleEvent,
	} {
		mw := connectivity.Chain(connectivity.Recovery(c.logger), connectivity.Logging(c.logger, name))
		router.RegisterLocal(name, mw(h))
	}
}

type ruleRequest struct {
	Origin   string   `json:"origin"`
	Kind     string   `json:"kind,omitempty"`
	Selector string   `json:"selector,omitempty"`
	Rules    []string `json:"rules,omitempty"`
	Disabled bool     `json:"disabled,omitempty"`
	Mode     string   `json:"mode,omitempty"`
	On       bool     `json:"on,omitempty"`
	Notify   bool     `json:"notify,omitempty"`
}

func decodeRule(payload []byte) (*ruleRequest, error) {
	var req ruleRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if req.Origin == "" {
		return nil, fmt.Errorf("decode: %w", ErrNoOrigin)
	}
	if req.Kind == "" {
		req.Kind = KindBlur
	}
	return &req, nil
}

func (c *Cleaner) handleGetRules(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := decodeRule(payload)
	if err != nil {
		return nil, err
	}
	rules, err := c.store.LoadRules(ctx, req.Origin, req.Kind)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []string{}
	}
	return json.Marshal(rules)
}

func (c *Cleaner) handleSaveRule(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := decodeRule(payload)
	if err != nil {
		return nil, err
	}
	if req.Selector == "" {
		return nil, fmt.Errorf("decode: selector is required")
	}
	added, err := c.store.AddRule(ctx, req.Origin, req.Kind, req.Selector)
	if err != nil {
		return nil, err
	}
	if added && req.Notify {
		c.refreshOpen(ctx, req.Origin)
	}
	return json.Marshal(map[string]bool{"added": added})
}

func (c *Cleaner) handleSetRules(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := decodeRule(payload)
	if err != nil {
		return nil, err
	}
	if err := c.store.SaveRules(ctx, req.Origin, req.Kind, req.Rules); err != nil {
		return nil, err
	}
	if req.Notify {
		c.refreshOpen(ctx, req.Origin)
	}
	return json.Marshal(map[string]int{"rules": len(req.Rules)})
}

func (c *Cleaner) handleRemoveRule(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := decodeRule(payload)
	if err != nil {
		return nil, err
	}
	if err := c.store.RemoveRule(ctx, req.Origin, req.Kind, req.Selector); err != nil {
		return nil, err
	}
	if req.Notify {
		c.refreshOpen(ctx, req.Origin)
	}
	return json.Marshal(map[string]string{"removed": req.Selector})
}

func (c *Cleaner) handleResetSite(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := decodeRule(payload)
	if err != nil {
		return nil, err
	}
	if req.Notify {
		err = c.ResetSite(ctx, req.Origin)
	} else {
		err = c.store.ResetOrigin(ctx, req.Origin)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"reset": req.Origin})
}

func (c *Cleaner) handleToggleSite(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := decodeRule(payload)
	if err != nil {
		return nil, err
	}
	if err := c.store.SetDisabled(ctx, req.Origin, req.Disabled); err != nil {
		return nil, err
	}
	if req.Notify {
		c.refreshOpen(ctx, req.Origin)
	}
	return json.Marshal(map[string]bool{"disabled": req.Disabled})
}

func (c *Cleaner) handleGetSite(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := decodeRule(payload)
	if err != nil {
		return nil, err
	}
	site, err := c.store.GetSite(ctx, req.Origin)
	if err != nil {
		return nil, err
	}
	return json.Marshal(site)
}

func (c *Cleaner) handleSetMode(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := decodeRule(payload)
	if err != nil {
		return nil, err
	}
	if err := c.store.SetMode(ctx, req.Origin, req.Mode, req.On); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"mode": req.Mode, "on": req.On})
}

func (c *Cleaner) handleListSites(ctx context.Context, _ []byte) ([]byte, error) {
	sites, err := c.ListSites(ctx)
	if err != nil {
		return nil, err
	}
	if sites == nil {
		sites = []OriginSummary{}
	}
	return json.Marshal(sites)
}

func (c *Cleaner) handleStats(ctx context.Context, _ []byte) ([]byte, error) {
	stats, err := c.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stats)
}

func (c *Cleaner) handleEvent(ctx context.Context, payload []byte) ([]byte, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	n, err := c.Broadcast(ctx, ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]int{"delivered": n})
}
