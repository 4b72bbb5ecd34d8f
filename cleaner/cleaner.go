// Package cleaner is the webcleaner orchestrator.
//
// It owns the rule database and the open page sessions. Each Session runs
// one page load: a single loop goroutine owns the page document, a blur and
// an enlarge reconciler, and the interaction controller. Everything that
// touches the document (host mutations, pointer input, bus events) goes
// through that loop.
//
//	c, err := cleaner.New(cfg, logger)
//	defer c.Close()
//	s, err := c.OpenPage(ctx, "https://news.example/a", doc)
//	defer s.Close()
//	s.Handle(ctx, cleaner.Event{Type: cleaner.EventRuleAdded, Selector: "#ad"})
//
// The same rule operations are exposed as connectivity services, MCP tools
// and an HTTP API.
package cleaner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/webcleaner/cleaner/internal/store"
	"github.com/hazyhaar/webcleaner/dbopen"
	"github.com/hazyhaar/webcleaner/dom"
	"github.com/hazyhaar/webcleaner/idgen"
	"github.com/hazyhaar/webcleaner/reconcile"
)

// Backend is the persistence a session works against: the local database,
// or a remote rule service reached through the connectivity router.
type Backend interface {
	Rules(kind string) reconcile.RuleStore
	SetDisabled(ctx context.Context, origin string, disabled bool) error
	ResetOrigin(ctx context.Context, origin string) error
	GetMode(ctx context.Context, origin string) (string, error)
	SetMode(ctx context.Context, origin, mode string, on bool) error
}

type localBackend struct{ *store.Store }

func (b localBackend) Rules(kind string) reconcile.RuleStore { return b.Store.Rules(kind) }

// Cleaner is the main webcleaner orchestrator.
type Cleaner struct {
	store    *store.Store
	backend  Backend
	logger   *slog.Logger
	config   *Config
	ids      idgen.Generator
	exporter *Exporter

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// Option configures a Cleaner.
type Option func(*Cleaner)

// WithBackend makes sessions persist through b instead of the local
// database. The service surfaces keep using the local database.
func WithBackend(b Backend) Option { return func(c *Cleaner) { c.backend = b } }

// New creates a Cleaner. Opens the SQLite database at cfg.DBPath.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Cleaner, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s, err := store.Open(cfg.DBPath, dbopen.WithBusyTimeout(int(cfg.BusyTimeout/time.Millisecond)))
	if err != nil {
		return nil, err
	}
	return newCleaner(s, cfg, logger, opts...), nil
}

func newCleaner(s *store.Store, cfg *Config, logger *slog.Logger, opts ...Option) *Cleaner {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cleaner{
		store:    s,
		backend:  localBackend{s},
		logger:   logger,
		config:   cfg,
		ids:      idgen.Prefixed("ses_", idgen.Default),
		exporter: NewExporter(),
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Close ends every open session and closes the database.
func (c *Cleaner) Close() error {
	c.mu.Lock()
	c.closed = true
	open := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		open = append(open, s)
	}
	c.mu.Unlock()

	for _, s := range open {
		s.Close()
	}
	return c.store.Close()
}

// Store returns the underlying store for direct access (testing, admin).
func (c *Cleaner) Store() *store.Store { return c.store }

// Config returns the effective configuration.
func (c *Cleaner) Config() *Config { return c.config }

// Origin derives the rule key of pageURL under the configured origin mode.
func (c *Cleaner) Origin(pageURL string) (string, error) {
	return DeriveOrigin(pageURL, c.config.OriginMode)
}

// ErrClosed is returned once the Cleaner or a Session has been closed.
var ErrClosed = errors.New("cleaner: closed")

// OpenPage starts a session for one load of pageURL. The rule sets are
// loaded and applied before it returns.
func (c *Cleaner) OpenPage(ctx context.Context, pageURL string, doc *dom.Document, opts ...SessionOption) (*Session, error) {
	origin, err := c.Origin(pageURL)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	s := newSession(c, c.ids(), origin, pageURL, doc, opts...)
	c.sessions[s.id] = s
	c.mu.Unlock()

	if err := s.start(); err != nil {
		s.Close()
		return nil, fmt.Errorf("cleaner: open %s: %w", pageURL, err)
	}
	c.logger.Info("cleaner: page opened", "session", s.id, "origin", origin, "url", pageURL)
	return s, nil
}

func (c *Cleaner) forget(s *Session) {
	c.mu.Lock()
	delete(c.sessions, s.id)
	c.mu.Unlock()
}

// Session returns the open session with the given id.
func (c *Cleaner) Session(id string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	return s, ok
}

// Sessions returns the open sessions of origin, or all of them when origin
// is empty.
func (c *Cleaner) Sessions(origin string) []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Session
	for _, s := range c.sessions {
		if origin == "" || s.origin == origin {
			out = append(out, s)
		}
	}
	return out
}

// Broadcast delivers ev to every open session of ev.Origin and returns how
// many sessions handled it.
func (c *Cleaner) Broadcast(ctx context.Context, ev Event) (int, error) {
	if ev.Origin == "" {
		return 0, fmt.Errorf("cleaner: broadcast %s: %w", ev.Type, ErrNoOrigin)
	}
	return c.broadcast(ctx, ev, nil)
}

func (c *Cleaner) broadcast(ctx context.Context, ev Event, except *Session) (int, error) {
	var errs []error
	n := 0
	for _, s := range c.Sessions(ev.Origin) {
		if s == except {
			continue
		}
		if _, err := s.Handle(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.id, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// notifyPeers tells the other sessions of s's origin to reload once p has
// reached the store, so their in-memory rule sets follow.
func (c *Cleaner) notifyPeers(s *Session, p *reconcile.Pending) {
	if p == nil || len(c.Sessions(s.origin)) < 2 {
		return
	}
	go func() {
		if err := p.Wait(s.ctx); err != nil {
			return
		}
		if _, err := c.broadcast(s.ctx, Event{Type: EventRefresh, Origin: s.origin}, s); err != nil {
			c.logger.Warn("cleaner: peer refresh failed", "origin", s.origin, "error", err)
		}
	}()
}

// --- rule operations on the local database ---

// GetRules returns the rule set of (origin, kind).
func (c *Cleaner) GetRules(ctx context.Context, origin, kind string) ([]string, error) {
	return c.store.LoadRules(ctx, origin, kind)
}

// SaveRule appends sel to (origin, kind) and refreshes open sessions of
// origin. It reports whether the rule was new.
func (c *Cleaner) SaveRule(ctx context.Context, origin, kind, sel string) (bool, error) {
	added, err := c.store.AddRule(ctx, origin, kind, sel)
	if err != nil || !added {
		return added, err
	}
	c.refreshOpen(ctx, origin)
	return true, nil
}

// SetRules replaces the rule set of (origin, kind).
func (c *Cleaner) SetRules(ctx context.Context, origin, kind string, rules []string) error {
	if err := c.store.SaveRules(ctx, origin, kind, rules); err != nil {
		return err
	}
	c.refreshOpen(ctx, origin)
	return nil
}

// RemoveRule deletes one selector and refreshes open sessions of origin.
func (c *Cleaner) RemoveRule(ctx context.Context, origin, kind, sel string) error {
	if err := c.store.RemoveRule(ctx, origin, kind, sel); err != nil {
		return err
	}
	c.refreshOpen(ctx, origin)
	return nil
}

// ResetSite deletes every rule of origin and resets its open sessions.
func (c *Cleaner) ResetSite(ctx context.Context, origin string) error {
	if err := c.store.ResetOrigin(ctx, origin); err != nil {
		return err
	}
	if _, err := c.broadcast(ctx, Event{Type: EventReset, Origin: origin}, nil); err != nil {
		c.logger.Warn("cleaner: reset broadcast failed", "origin", origin, "error", err)
	}
	return nil
}

// ResetAll deletes every rule and site flag.
func (c *Cleaner) ResetAll(ctx context.Context) error {
	if err := c.store.ResetAll(ctx); err != nil {
		return err
	}
	for _, s := range c.Sessions("") {
		if _, err := s.Handle(ctx, Event{Type: EventReset, Origin: s.origin}); err != nil {
			c.logger.Warn("cleaner: reset failed", "session", s.id, "error", err)
		}
	}
	return nil
}

// SetDisabled turns cleaning off or on for origin. Open sessions reload and
// drop or restore their effects.
func (c *Cleaner) SetDisabled(ctx context.Context, origin string, disabled bool) error {
	if err := c.store.SetDisabled(ctx, origin, disabled); err != nil {
		return err
	}
	c.refreshOpen(ctx, origin)
	return nil
}

// GetSite returns the per-origin flags.
func (c *Cleaner) GetSite(ctx context.Context, origin string) (*Site, error) {
	return c.store.GetSite(ctx, origin)
}

// SetMode records the interaction mode of origin.
func (c *Cleaner) SetMode(ctx context.Context, origin, mode string, on bool) error {
	return c.store.SetMode(ctx, origin, mode, on)
}

// ListSites lists every origin with rules or flags.
func (c *Cleaner) ListSites(ctx context.Context) ([]OriginSummary, error) {
	return c.store.ListOrigins(ctx)
}

// Stats returns the counters and rule totals.
func (c *Cleaner) Stats(ctx context.Context) (*Stats, error) {
	return c.store.Stats(ctx)
}

func (c *Cleaner) refreshOpen(ctx context.Context, origin string) {
	if _, err := c.broadcast(ctx, Event{Type: EventRefresh, Origin: origin}, nil); err != nil {
		c.logger.Warn("cleaner: refresh broadcast failed", "origin", origin, "error", err)
	}
}
