package cleaner

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/webcleaner/dom"
	"github.com/hazyhaar/webcleaner/reconcile"
)

// EventType names a bus message.
type EventType string

const (
	EventRuleAdded   EventType = "RULE_ADDED"
	EventRuleRemoved EventType = "RULE_REMOVED"
	EventReset       EventType = "RESET"
	EventRefresh     EventType = "REFRESH"
	EventToggleSite  EventType = "TOGGLE_SITE"
)

// Event is a bus message addressed to the sessions of one origin.
type Event struct {
	Type     EventType `json:"type"`
	Origin   string    `json:"origin,omitempty"`
	Selector string    `json:"selector,omitempty"`
	Kind     string    `json:"kind,omitempty"` // blur (default) or enlarge
	Disabled bool      `json:"disabled,omitempty"`
	// ClearStore makes RESET also delete the stored rules of the origin.
	ClearStore bool `json:"clear_store,omitempty"`
}

var (
	// ErrForeignOrigin: the event names another origin than the session's.
	ErrForeignOrigin = errors.New("cleaner: event for another origin")
	// ErrUnknownEvent: the event type is not one of the bus types.
	ErrUnknownEvent = errors.New("cleaner: unknown event type")
)

// Result is what a session did with one event.
type Result struct {
	Blur    reconcile.Report `json:"blur"`
	Enlarge reconcile.Report `json:"enlarge"`

	pending []*reconcile.Pending
}

// Wait blocks until the store calls started by the event returned, and
// joins their errors.
func (r *Result) Wait(ctx context.Context) error {
	var errs []error
	for _, p := range r.pending {
		if err := p.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Result) set(kind string, rep reconcile.Report) {
	if kind == KindEnlarge {
		r.Enlarge = rep
		return
	}
	r.Blur = rep
}

// Handle applies a bus event on the session loop. An event without an
// origin targets this session.
func (s *Session) Handle(ctx context.Context, ev Event) (*Result, error) {
	if ev.Origin != "" && ev.Origin != s.origin {
		return nil, fmt.Errorf("%w: %s is not %s", ErrForeignOrigin, ev.Origin, s.origin)
	}
	res := &Result{}
	err := s.Do(ctx, func(ctx context.Context, _ *dom.Document) error {
		return s.handle(ctx, ev, res)
	})
	if err != nil {
		return nil, err
	}
	if ev.Type == EventRuleAdded || ev.Type == EventRuleRemoved {
		for _, p := range res.pending {
			s.cleaner.notifyPeers(s, p)
		}
	}
	return res, nil
}

func (s *Session) handle(ctx context.Context, ev Event, res *Result) error {
	s.logger.Debug("cleaner: event", "type", ev.Type, "selector", ev.Selector, "kind", ev.Kind)

	switch ev.Type {
	case EventRuleAdded, EventRuleRemoved:
		r, err := s.reconciler(ev.Kind)
		if err != nil {
			return err
		}
		if ev.Selector == "" {
			return fmt.Errorf("cleaner: %s: empty selector", ev.Type)
		}
		add := r.AddSelector
		if ev.Type == EventRuleRemoved {
			add = r.RemoveSelector
		}
		rep, p, err := add(ctx, ev.Selector)
		if err != nil {
			return err
		}
		res.set(r.Effect().Kind(), rep)
		res.pending = append(res.pending, p)

	case EventReset:
		s.ctrl.Escape()
		res.Blur.Unmarked = s.blur.Reset()
		res.Enlarge.Unmarked = s.enlarge.Reset()
		if ev.ClearStore {
			if err := s.backend.ResetOrigin(ctx, s.origin); err != nil {
				return &reconcile.PersistError{Op: "reset", Origin: s.origin, Err: err}
			}
		}

	case EventToggleSite:
		if err := s.backend.SetDisabled(ctx, s.origin, ev.Disabled); err != nil {
			return &reconcile.PersistError{Op: "toggle", Origin: s.origin, Err: err}
		}
		if ev.Disabled {
			s.ctrl.Escape()
		}
		s.refresh(ctx, res)

	case EventRefresh:
		s.refresh(ctx, res)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	return nil
}

func (s *Session) refresh(ctx context.Context, res *Result) {
	res.Blur = s.blur.Refresh(ctx)
	res.Enlarge = s.enlarge.Refresh(ctx)
}
