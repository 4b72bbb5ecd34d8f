// Package reconcile keeps a page's DOM in line with the stored rule set of
// its origin: it applies an effect to every match, re-scans after the page
// settles, prunes selectors that stopped matching and never stacks an
// effect inside another.
//
// A Reconciler is owned by a single page loop. None of its methods are safe
// for concurrent use; persistence runs in background goroutines that only
// talk to the RuleStore.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/webcleaner/dom"
	"github.com/hazyhaar/webcleaner/dom/mutation"
	"github.com/hazyhaar/webcleaner/idgen"
)

// RuleStore persists rule sets keyed by page origin.
type RuleStore interface {
	Load(ctx context.Context, origin string) ([]string, error)
	Save(ctx context.Context, origin string, rules []string) error
	RemoveOne(ctx context.Context, origin, selector string) error
	IsDisabled(ctx context.Context, origin string) (bool, error)
}

var (
	// ErrSelectorStale: the selector resolves to no node.
	ErrSelectorStale = errors.New("reconcile: selector matches nothing")
	// ErrSelectorInvalid: the selector does not parse.
	ErrSelectorInvalid = errors.New("reconcile: selector is invalid")
	// ErrDisabled: cleaning is turned off for the origin.
	ErrDisabled = errors.New("reconcile: disabled for origin")
	// ErrNotActive: the reconciler has not finished loading.
	ErrNotActive = errors.New("reconcile: not active")
)

// PersistError wraps a RuleStore failure.
type PersistError struct {
	Op       string // "save", "remove", "prune"
	Origin   string
	Selector string
	Err      error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("reconcile: persist %s %q for %s: %v", e.Op, e.Selector, e.Origin, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// State is the lifecycle of a Reconciler.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateDisabled
	StateActive
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateDisabled:
		return "disabled"
	case StateActive:
		return "active"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Report summarises one apply run. Counts are informational.
type Report struct {
	Applied  int      `json:"applied"`
	Unmarked int      `json:"unmarked"`
	Pruned   []string `json:"pruned,omitempty"`
	Invalid  []string `json:"invalid,omitempty"`
}

// Pending is the outcome of a background persistence call.
type Pending struct {
	done chan struct{}
	err  error
}

func resolved(err error) *Pending {
	p := &Pending{done: make(chan struct{}), err: err}
	close(p.done)
	return p
}

// Done is closed once the call finished.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the call error. Only meaningful after Done is closed.
func (p *Pending) Err() error { return p.err }

// Wait blocks until the call finished or ctx is done.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconciler owns the rule set and effect markers of one page load.
type Reconciler struct {
	doc     *dom.Document
	origin  string
	pageURL string
	store   RuleStore
	effect  Effect
	logger  *slog.Logger
	window  time.Duration
	ids     idgen.Generator

	state     State
	rules     []string
	deb       *debouncer
	unobserve func()
	applied   int

	tail chan struct{}
	wg   sync.WaitGroup
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithEffect sets the effect. Default: Blur("8px").
func WithEffect(e Effect) Option { return func(r *Reconciler) { r.effect = e } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Reconciler) { r.logger = l } }

// WithDebounce sets the quiet period before a re-scan. Default: 200ms.
func WithDebounce(d time.Duration) Option { return func(r *Reconciler) { r.window = d } }

// WithPageURL tags emitted batches with the page URL.
func WithPageURL(u string) Option { return func(r *Reconciler) { r.pageURL = u } }

// WithIDGenerator sets the batch ID generator.
func WithIDGenerator(g idgen.Generator) Option { return func(r *Reconciler) { r.ids = g } }

// New creates a Reconciler in StateUninitialized.
func New(doc *dom.Document, origin string, store RuleStore, opts ...Option) *Reconciler {
	r := &Reconciler{
		doc:    doc,
		origin: origin,
		store:  store,
		effect: Blur(""),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	r.deb = newDebouncer(r.window, r.pageURL, r.ids)
	return r
}

func (r *Reconciler) State() State    { return r.state }
func (r *Reconciler) Origin() string  { return r.origin }
func (r *Reconciler) Effect() Effect  { return r.effect }
func (r *Reconciler) Applied() int    { return r.applied }
func (r *Reconciler) Rules() []string { return slices.Clone(r.rules) }

// Timer fires when a debounced re-scan is due; the owner then calls Flush.
// Nil while nothing is pending.
func (r *Reconciler) Timer() <-chan time.Time { return r.deb.timerC() }

// Start loads the rule set and disabled flag, then either stops in
// StateDisabled or applies every rule and starts observing mutations.
// A failed load counts as an empty rule set.
func (r *Reconciler) Start(ctx context.Context) (Report, error) {
	if r.state != StateUninitialized {
		return Report{}, fmt.Errorf("reconcile: start: already %s", r.state)
	}
	return r.load(ctx), nil
}

// Refresh reverses every effect, reloads from the store and re-applies. It
// is also how a disabled origin gets re-enabled.
func (r *Reconciler) Refresh(ctx context.Context) Report {
	if r.state == StateUninitialized {
		r.logger.Debug("reconcile: refresh before start", "origin", r.origin)
	}
	rep := Report{Unmarked: r.reverseAll()}
	loaded := r.load(ctx)
	loaded.Unmarked += rep.Unmarked
	return loaded
}

func (r *Reconciler) load(ctx context.Context) Report {
	r.state = StateLoading
	r.rules = nil

	disabled, err := r.store.IsDisabled(ctx, r.origin)
	if err != nil {
		r.logger.Warn("reconcile: disabled flag unavailable", "origin", r.origin, "error", err)
	}
	if disabled {
		r.state = StateDisabled
		r.stopObserving()
		r.logger.Info("reconcile: disabled for origin", "origin", r.origin)
		return Report{}
	}

	rules, err := r.store.Load(ctx, r.origin)
	if err != nil {
		r.logger.Warn("reconcile: load failed, starting empty",
			"origin", r.origin, "error", &PersistError{Op: "load", Origin: r.origin, Err: err})
		rules = nil
	}
	for _, s := range rules {
		if !slices.Contains(r.rules, s) {
			r.rules = append(r.rules, s)
		}
	}

	r.state = StateActive
	r.startObserving()
	rep := r.Apply(ctx)
	r.logger.Info("reconcile: active",
		"origin", r.origin, "kind", r.effect.Kind(), "rules", len(r.rules), "applied", rep.Applied)
	return rep
}

func (r *Reconciler) startObserving() {
	if r.unobserve != nil {
		return
	}
	r.unobserve = r.doc.Observe(func(rec mutation.Record) {
		// Effects only write attributes, so they never re-arm the timer.
		if r.state == StateActive && rec.Structural() {
			r.deb.add(rec)
		}
	})
}

func (r *Reconciler) stopObserving() {
	if r.unobserve != nil {
		r.unobserve()
		r.unobserve = nil
	}
	r.deb.stop()
}

// Flush runs the debounced re-scan. The owner calls it when Timer fires.
func (r *Reconciler) Flush(ctx context.Context) (mutation.Batch, Report) {
	batch := r.deb.flush()
	if r.state != StateActive {
		return batch, Report{}
	}
	rep := r.Apply(ctx)
	r.logger.Debug("reconcile: batch applied",
		"origin", r.origin, "batch", batch.ID, "seq", batch.Seq,
		"records", len(batch.Records), "applied", rep.Applied, "pruned", len(rep.Pruned))
	return batch, rep
}

// Apply runs every rule against the live DOM, in rule order. Stale and
// invalid selectors are dropped from the rule set and removed from the
// store in the background. Running it twice on an unchanged DOM is a no-op.
func (r *Reconciler) Apply(ctx context.Context) Report {
	var rep Report
	if r.state != StateActive {
		return rep
	}
	for _, sel := range slices.Clone(r.rules) {
		nodes, err := r.evaluate(sel)
		if err != nil {
			r.logger.Warn("reconcile: invalid selector", "origin", r.origin, "selector", sel, "error", err)
			rep.Invalid = append(rep.Invalid, sel)
			r.prune(ctx, sel)
			continue
		}
		if len(nodes) == 0 {
			r.logger.Info("reconcile: stale selector pruned", "origin", r.origin, "selector", sel)
			rep.Pruned = append(rep.Pruned, sel)
			r.prune(ctx, sel)
			continue
		}
		for _, n := range nodes {
			r.applyNode(n, &rep)
		}
	}
	r.applied += rep.Applied
	return rep
}

// evaluate isolates one selector: a parse error or a panic in the matcher
// only affects that selector.
func (r *Reconciler) evaluate(sel string) (nodes []*html.Node, err error) {
	defer func() {
		if v := recover(); v != nil {
			nodes, err = nil, fmt.Errorf("%w: panic: %v", ErrSelectorInvalid, v)
		}
	}()
	nodes, err = r.doc.QueryAll(sel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSelectorInvalid, err)
	}
	return nodes, nil
}

func (r *Reconciler) applyNode(n *html.Node, rep *Report) {
	marker := r.effect.Marker()
	if dom.HasClass(n, marker) || dom.HasAncestorWithClass(n, marker) {
		return
	}
	if box, ok := r.doc.Layout().Box(n); ok && box.Width == 0 && box.Height == 0 {
		return
	}
	if inner, err := dom.QueryAllUnder(n, "."+marker); err == nil {
		for _, d := range inner {
			if err := r.effect.Reverse(r.doc, d); err != nil {
				r.logger.Warn("reconcile: reverse failed", "xpath", dom.XPath(d), "error", err)
				continue
			}
			rep.Unmarked++
		}
	}
	if err := r.effect.Apply(r.doc, n); err != nil {
		r.logger.Warn("reconcile: apply failed", "xpath", dom.XPath(n), "error", err)
		return
	}
	rep.Applied++
}

// AddSelector applies sel to its current matches right away, appends it to
// the rule set and saves the rule set in the background. The visual effect
// stays even if the save fails; the failure surfaces through Pending.
func (r *Reconciler) AddSelector(ctx context.Context, sel string) (Report, *Pending, error) {
	var rep Report
	switch r.state {
	case StateDisabled:
		return rep, nil, ErrDisabled
	case StateActive:
	default:
		return rep, nil, ErrNotActive
	}

	nodes, err := r.evaluate(sel)
	if err != nil {
		return rep, nil, err
	}
	if len(nodes) == 0 {
		return rep, nil, fmt.Errorf("%w: %q", ErrSelectorStale, sel)
	}
	for _, n := range nodes {
		r.applyNode(n, &rep)
	}
	r.applied += rep.Applied

	if slices.Contains(r.rules, sel) {
		return rep, resolved(nil), nil
	}
	r.rules = append(r.rules, sel)
	snapshot := slices.Clone(r.rules)
	p := r.persist(ctx, "save", sel, func(ctx context.Context) error {
		return r.store.Save(ctx, r.origin, snapshot)
	})
	return rep, p, nil
}

// RemoveSelector reverses the effect on sel's marked matches, drops it from
// the rule set, removes it from the store in the background, then re-applies
// the remaining rules so nodes that sel was covering get their own effect
// back.
func (r *Reconciler) RemoveSelector(ctx context.Context, sel string) (Report, *Pending, error) {
	var rep Report
	if r.state == StateDisabled {
		return rep, nil, ErrDisabled
	}

	if nodes, err := r.evaluate(sel); err == nil {
		for _, n := range nodes {
			if !dom.HasClass(n, r.effect.Marker()) {
				continue
			}
			if err := r.effect.Reverse(r.doc, n); err != nil {
				r.logger.Warn("reconcile: reverse failed", "selector", sel, "error", err)
				continue
			}
			rep.Unmarked++
		}
	}
	r.rules = slices.DeleteFunc(r.rules, func(s string) bool { return s == sel })

	p := r.persist(ctx, "remove", sel, func(ctx context.Context) error {
		return r.store.RemoveOne(ctx, r.origin, sel)
	})

	again := r.Apply(ctx)
	rep.Applied = again.Applied
	rep.Unmarked += again.Unmarked
	rep.Pruned = again.Pruned
	rep.Invalid = again.Invalid
	return rep, p, nil
}

// Reset reverses every applied effect and clears the in-memory rule set.
// The store is left untouched; clearing it is the caller's decision.
func (r *Reconciler) Reset() int {
	n := r.reverseAll()
	r.rules = nil
	r.deb.stop()
	return n
}

func (r *Reconciler) reverseAll() int {
	nodes, err := r.doc.QueryAll("." + r.effect.Marker())
	if err != nil {
		r.logger.Error("reconcile: marker query failed", "marker", r.effect.Marker(), "error", err)
		return 0
	}
	n := 0
	for _, node := range nodes {
		if err := r.effect.Reverse(r.doc, node); err != nil {
			r.logger.Warn("reconcile: reverse failed", "xpath", dom.XPath(node), "error", err)
			continue
		}
		n++
	}
	return n
}

func (r *Reconciler) prune(ctx context.Context, sel string) {
	r.rules = slices.DeleteFunc(r.rules, func(s string) bool { return s == sel })
	r.persist(ctx, "prune", sel, func(ctx context.Context) error {
		return r.store.RemoveOne(ctx, r.origin, sel)
	})
}

// persist runs fn in the background. Calls reach the store in the order
// they were issued.
func (r *Reconciler) persist(ctx context.Context, op, sel string, fn func(context.Context) error) *Pending {
	p := &Pending{done: make(chan struct{})}
	prev := r.tail
	r.tail = p.done

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(p.done)
		if prev != nil {
			<-prev
		}
		if err := fn(ctx); err != nil {
			p.err = &PersistError{Op: op, Origin: r.origin, Selector: sel, Err: err}
			r.logger.Warn("reconcile: persist failed", "op", op, "origin", r.origin, "selector", sel, "error", err)
		}
	}()
	return p
}

// WaitPersisted blocks until every background store call issued so far has
// returned, or ctx is done.
func (r *Reconciler) WaitPersisted(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops observing the document. Effects stay in place.
func (r *Reconciler) Close() {
	r.stopObserving()
}
