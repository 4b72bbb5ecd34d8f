// Package controller turns pointer and keyboard input into rule changes.
//
// The controller is in one of three modes. In Designating mode a hover
// highlights the refined target and a click blurs it; in Resizing mode a
// click toggles enlargement. Only one active mode exists at a time: entering
// one leaves the other first. The controller never writes effect markers
// itself, it hands selectors to the reconcilers.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/net/html"

	"github.com/hazyhaar/webcleaner/dom"
	"github.com/hazyhaar/webcleaner/reconcile"
	"github.com/hazyhaar/webcleaner/refine"
	"github.com/hazyhaar/webcleaner/selector"
)

// HighlightClass marks the hovered element. Selector synthesis ignores it.
const HighlightClass = "webcleaner-highlight"

// Mode is the interaction mode.
type Mode int

const (
	Idle Mode = iota
	Designating
	Resizing
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Designating:
		return "designating"
	case Resizing:
		return "resizing"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{Idle, Designating, Resizing} {
		if m.String() == s {
			return m, nil
		}
	}
	return Idle, fmt.Errorf("controller: unknown mode %q", s)
}

// ErrIdle is returned by Click outside an active mode.
var ErrIdle = errors.New("controller: no active mode")

// Effector is the part of a reconciler the controller drives.
type Effector interface {
	AddSelector(ctx context.Context, sel string) (reconcile.Report, *reconcile.Pending, error)
	RemoveSelector(ctx context.Context, sel string) (reconcile.Report, *reconcile.Pending, error)
	Rules() []string
}

// Action says what a click did.
type Action string

const (
	ActionNone    Action = ""
	ActionBlur    Action = "blur"
	ActionEnlarge Action = "enlarge"
	ActionShrink  Action = "shrink"
)

// Outcome describes a click.
type Outcome struct {
	Action   Action               `json:"action"`
	Selector string               `json:"selector,omitempty"`
	Node     *html.Node           `json:"-"`
	Report   reconcile.Report     `json:"report"`
	Pending  []*reconcile.Pending `json:"-"`
}

// Controller tracks the mode and the highlighted node of one page.
type Controller struct {
	doc     *dom.Document
	blur    Effector
	enlarge Effector
	logger  *slog.Logger
	onMode  func(from, to Mode)
	refine  []refine.Option

	mode        Mode
	highlighted *html.Node
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.logger = l } }

// OnModeChange registers fn, called after every mode transition.
func OnModeChange(fn func(from, to Mode)) Option { return func(c *Controller) { c.onMode = fn } }

// WithRefineOptions passes options to the target refiner.
func WithRefineOptions(opts ...refine.Option) Option {
	return func(c *Controller) { c.refine = opts }
}

// New returns a Controller in Idle mode.
func New(doc *dom.Document, blur, enlarge Effector, opts ...Option) *Controller {
	c := &Controller{
		doc:     doc,
		blur:    blur,
		enlarge: enlarge,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode { return c.mode }

// Highlighted returns the highlighted node, or nil.
func (c *Controller) Highlighted() *html.Node { return c.highlighted }

// Enter switches to m. Leaving an active mode always clears the highlight,
// so Designating and Resizing never overlap.
func (c *Controller) Enter(m Mode) {
	if m == c.mode {
		return
	}
	from := c.mode
	if from != Idle {
		c.clearHighlight()
	}
	c.mode = m
	c.logger.Debug("controller: mode", "from", from, "to", m)
	if c.onMode != nil {
		c.onMode(from, m)
	}
}

// Toggle enters m, or returns to Idle when m is already active.
func (c *Controller) Toggle(m Mode) {
	if c.mode == m {
		c.Enter(Idle)
		return
	}
	c.Enter(m)
}

// Escape returns to Idle.
func (c *Controller) Escape() { c.Enter(Idle) }

// Hover refines target and moves the highlight onto the result. It
// returns the highlighted node, nil when refinement rejected the target or
// no mode is active.
func (c *Controller) Hover(target *html.Node) *html.Node {
	if c.mode == Idle {
		return nil
	}
	n := c.refineTarget(target)
	if n == c.highlighted {
		return n
	}
	c.clearHighlight()
	if n != nil {
		c.doc.AddClass(n, HighlightClass)
		c.highlighted = n
	}
	return n
}

// Click refines target, synthesizes its selector and hands it to the
// reconciler of the current mode. A rejected target yields an empty
// Outcome and no error; a synthesis failure is returned.
func (c *Controller) Click(ctx context.Context, target *html.Node) (Outcome, error) {
	var out Outcome
	if c.mode == Idle {
		return out, ErrIdle
	}
	n := c.refineTarget(target)
	c.clearHighlight()
	if n == nil {
		c.logger.Debug("controller: target rejected")
		return out, nil
	}
	sel, err := selector.Synthesize(c.doc, n)
	if err != nil {
		return out, err
	}
	out.Selector, out.Node = sel, n

	switch c.mode {
	case Designating:
		rep, p, err := c.blur.AddSelector(ctx, sel)
		if err != nil {
			return out, err
		}
		out.Action, out.Report, out.Pending = ActionBlur, rep, []*reconcile.Pending{p}

	case Resizing:
		if dom.HasClass(n, reconcile.MarkerEnlarge) {
			return c.shrink(ctx, n, out)
		}
		rep, p, err := c.enlarge.AddSelector(ctx, sel)
		if err != nil {
			return out, err
		}
		out.Action, out.Report, out.Pending = ActionEnlarge, rep, []*reconcile.Pending{p}
	}
	c.logger.Info("controller: click", "action", out.Action, "selector", sel)
	return out, nil
}

// shrink removes every enlarge rule that matches n.
func (c *Controller) shrink(ctx context.Context, n *html.Node, out Outcome) (Outcome, error) {
	out.Action = ActionShrink
	for _, rule := range c.enlarge.Rules() {
		nodes, err := c.doc.QueryAll(rule)
		if err != nil || !slices.Contains(nodes, n) {
			continue
		}
		rep, p, err := c.enlarge.RemoveSelector(ctx, rule)
		if err != nil {
			return out, err
		}
		out.Report.Unmarked += rep.Unmarked
		out.Report.Applied += rep.Applied
		out.Pending = append(out.Pending, p)
	}
	c.logger.Info("controller: click", "action", out.Action, "selector", out.Selector)
	return out, nil
}

func (c *Controller) refineTarget(target *html.Node) *html.Node {
	if target == nil {
		return nil
	}
	return refine.Refine(c.doc, target, c.doc.Viewport(), c.refine...)
}

func (c *Controller) clearHighlight() {
	if c.highlighted != nil {
		c.doc.RemoveClass(c.highlighted, HighlightClass)
		c.highlighted = nil
	}
}
