package cleaner

import (
	"context"
	"fmt"

	"github.com/hazyhaar/webcleaner/cleaner/internal/browser"
	"github.com/hazyhaar/webcleaner/controller"
	"github.com/hazyhaar/webcleaner/dom"
)

// Browser opens sessions on pages rendered by Chrome.
type Browser struct {
	c   *Cleaner
	mgr *browser.Manager
}

// StartBrowser launches Chrome, or connects to cfg.Browser.Remote.
func (c *Cleaner) StartBrowser(ctx context.Context) (*Browser, error) {
	bc := c.config.Browser
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        bc.Remote,
		ResourceBlocking: bc.ResourceBlocking,
		Width:            bc.Viewport.Width,
		Height:           bc.Viewport.Height,
		Timeout:          bc.Timeout,
		Logger:           c.logger.With("component", "browser"),
	})
	if err := mgr.Start(ctx); err != nil {
		return nil, err
	}
	return &Browser{c: c, mgr: mgr}, nil
}

// Close shuts Chrome down. Open pages should be closed first.
func (b *Browser) Close() error { return b.mgr.Close() }

// Page is a session bound to a live tab.
type Page struct {
	*Session
	tab *browser.Tab
}

// Open navigates to pageURL, captures the rendered page, starts a session on
// it and pushes the stored effects into the tab.
func (b *Browser) Open(ctx context.Context, pageURL string) (*Page, error) {
	tab, err := browser.OpenTab(ctx, b.mgr, pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := tab.Capture(ctx)
	if err != nil {
		tab.Close()
		return nil, err
	}
	s, err := b.c.OpenPage(ctx, tab.PageURL, doc)
	if err != nil {
		tab.Close()
		return nil, err
	}
	p := &Page{Session: s, tab: tab}
	if err := p.Sync(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Sync pushes the document's effect classes and styles into the tab.
func (p *Page) Sync(ctx context.Context) error {
	return p.Do(ctx, func(ctx context.Context, doc *dom.Document) error {
		n, err := p.tab.Sync(ctx, doc)
		if err != nil {
			return err
		}
		p.logger.Debug("cleaner: tab synced", "changed", n)
		return nil
	})
}

// Pick hovers then clicks at viewport coordinates (x, y) in mode m, returns
// to Idle and syncs the result into the tab.
func (p *Page) Pick(ctx context.Context, m controller.Mode, x, y float64) (controller.Outcome, error) {
	if err := p.SetMode(ctx, m); err != nil {
		return controller.Outcome{}, err
	}
	if _, err := p.Hover(ctx, x, y); err != nil {
		return controller.Outcome{}, err
	}
	out, err := p.Click(ctx, x, y)
	if err != nil {
		return out, fmt.Errorf("cleaner: pick (%v, %v): %w", x, y, err)
	}
	if err := p.Escape(ctx); err != nil {
		return out, err
	}
	return out, p.Sync(ctx)
}

// Close ends the session and the tab.
func (p *Page) Close() {
	p.Session.Close()
	p.tab.Close()
}
