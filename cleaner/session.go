package cleaner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/webcleaner/cleaner/internal/store"
	"github.com/hazyhaar/webcleaner/controller"
	"github.com/hazyhaar/webcleaner/dom"
	"github.com/hazyhaar/webcleaner/dom/mutation"
	"github.com/hazyhaar/webcleaner/reconcile"
)

// BatchFunc receives every debounced re-scan of a session. It runs on the
// session loop and may touch the document.
type BatchFunc func(ctx context.Context, kind string, batch mutation.Batch, rep reconcile.Report)

// SessionOption configures a Session.
type SessionOption func(*Session)

// OnBatch registers fn for debounced re-scans.
func OnBatch(fn BatchFunc) SessionOption { return func(s *Session) { s.onBatch = fn } }

// Session is one page load. The loop goroutine owns the document; callers
// reach it through Do and the helpers built on it.
type Session struct {
	id      string
	origin  string
	pageURL string
	doc     *dom.Document
	cleaner *Cleaner
	backend Backend
	logger  *slog.Logger
	onBatch BatchFunc

	blur    *reconcile.Reconciler
	enlarge *reconcile.Reconciler
	ctrl    *controller.Controller
	initial Result

	// restoring suppresses mode persistence while the stored mode is
	// being re-entered.
	restoring bool

	ctx       context.Context
	cancel    context.CancelFunc
	cmds      chan command
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type command struct {
	fn   func(ctx context.Context) error
	errc chan error
}

func newSession(c *Cleaner, id, origin, pageURL string, doc *dom.Document, opts ...SessionOption) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      id,
		origin:  origin,
		pageURL: pageURL,
		doc:     doc,
		cleaner: c,
		backend: c.backend,
		logger:  c.logger.With("session", id),
		ctx:     ctx,
		cancel:  cancel,
		cmds:    make(chan command),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	common := []reconcile.Option{
		reconcile.WithLogger(s.logger),
		reconcile.WithDebounce(c.config.Debounce.Window),
		reconcile.WithPageURL(pageURL),
	}
	s.blur = reconcile.New(doc, origin, s.backend.Rules(KindBlur),
		append(common, reconcile.WithEffect(reconcile.Blur(c.config.Effects.BlurRadius)))...)
	s.enlarge = reconcile.New(doc, origin, s.backend.Rules(KindEnlarge),
		append(common, reconcile.WithEffect(reconcile.Enlarge(c.config.Effects.EnlargeScale)))...)
	s.ctrl = controller.New(doc, s.blur, s.enlarge,
		controller.WithLogger(s.logger),
		controller.OnModeChange(s.persistMode))

	go s.run()
	return s
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			s.blur.Close()
			s.enlarge.Close()
			return
		case cmd := <-s.cmds:
			cmd.errc <- cmd.fn(s.ctx)
		case <-s.blur.Timer():
			s.flush(s.blur)
		case <-s.enlarge.Timer():
			s.flush(s.enlarge)
		}
	}
}

func (s *Session) flush(r *reconcile.Reconciler) {
	batch, rep := r.Flush(s.ctx)
	if s.onBatch != nil {
		s.onBatch(s.ctx, r.Effect().Kind(), batch, rep)
	}
}

func (s *Session) start() error {
	return s.Do(s.ctx, func(ctx context.Context, _ *dom.Document) error {
		blur, err := s.blur.Start(ctx)
		if err != nil {
			return err
		}
		enlarge, err := s.enlarge.Start(ctx)
		if err != nil {
			return err
		}
		s.initial = Result{Blur: blur, Enlarge: enlarge}

		mode, err := s.backend.GetMode(ctx, s.origin)
		if err != nil {
			s.logger.Warn("cleaner: stored mode unavailable", "origin", s.origin, "error", err)
			return nil
		}
		s.restoring = true
		switch mode {
		case store.ModeEdit:
			s.ctrl.Enter(controller.Designating)
		case store.ModeEnlarge:
			s.ctrl.Enter(controller.Resizing)
		}
		s.restoring = false
		return nil
	})
}

// persistMode runs on the loop after every controller transition.
func (s *Session) persistMode(from, to controller.Mode) {
	if s.restoring {
		return
	}
	var err error
	switch to {
	case controller.Designating:
		err = s.backend.SetMode(s.ctx, s.origin, store.ModeEdit, true)
	case controller.Resizing:
		err = s.backend.SetMode(s.ctx, s.origin, store.ModeEnlarge, true)
	case controller.Idle:
		mode := store.ModeEdit
		if from == controller.Resizing {
			mode = store.ModeEnlarge
		}
		err = s.backend.SetMode(s.ctx, s.origin, mode, false)
	}
	if err != nil {
		s.logger.Warn("cleaner: persist mode failed", "origin", s.origin, "mode", to, "error", err)
	}
}

// Do runs fn on the session loop and returns its error. fn must not call
// Do itself.
func (s *Session) Do(ctx context.Context, fn func(ctx context.Context, doc *dom.Document) error) error {
	cmd := command{
		fn:   func(ctx context.Context) error { return fn(ctx, s.doc) },
		errc: make(chan error, 1),
	}
	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-cmd.errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) ID() string      { return s.id }
func (s *Session) Origin() string  { return s.origin }
func (s *Session) PageURL() string { return s.pageURL }

// Initial returns the reports of the first apply run.
func (s *Session) Initial() Result { return s.initial }

// State returns the reconciler states as (blur, enlarge).
func (s *Session) State(ctx context.Context) (blur, enlarge reconcile.State, err error) {
	err = s.Do(ctx, func(context.Context, *dom.Document) error {
		blur, enlarge = s.blur.State(), s.enlarge.State()
		return nil
	})
	return blur, enlarge, err
}

// Rules returns the in-memory rule set of kind.
func (s *Session) Rules(ctx context.Context, kind string) ([]string, error) {
	var out []string
	err := s.Do(ctx, func(context.Context, *dom.Document) error {
		r, err := s.reconciler(kind)
		if err != nil {
			return err
		}
		out = r.Rules()
		return nil
	})
	return out, err
}

// Mode returns the controller mode.
func (s *Session) Mode(ctx context.Context) (controller.Mode, error) {
	var m controller.Mode
	err := s.Do(ctx, func(context.Context, *dom.Document) error {
		m = s.ctrl.Mode()
		return nil
	})
	return m, err
}

// SetMode moves the controller to m.
func (s *Session) SetMode(ctx context.Context, m controller.Mode) error {
	return s.Do(ctx, func(context.Context, *dom.Document) error {
		s.ctrl.Enter(m)
		return nil
	})
}

// Escape returns the controller to Idle.
func (s *Session) Escape(ctx context.Context) error {
	return s.SetMode(ctx, controller.Idle)
}

// Hover moves the highlight to the refined element at (x, y). It reports
// whether something is highlighted.
func (s *Session) Hover(ctx context.Context, x, y float64) (bool, error) {
	var hit bool
	err := s.Do(ctx, func(_ context.Context, doc *dom.Document) error {
		hit = s.ctrl.Hover(doc.ElementAt(x, y)) != nil
		return nil
	})
	return hit, err
}

// Click designates or toggles the refined element at (x, y), depending on
// the controller mode.
func (s *Session) Click(ctx context.Context, x, y float64) (controller.Outcome, error) {
	var out controller.Outcome
	err := s.Do(ctx, func(ctx context.Context, doc *dom.Document) error {
		var err error
		out, err = s.ctrl.Click(ctx, doc.ElementAt(x, y))
		return err
	})
	if err == nil {
		for _, p := range out.Pending {
			s.cleaner.notifyPeers(s, p)
		}
	}
	return out, err
}

// Render serialises the current document.
func (s *Session) Render(ctx context.Context) (string, error) {
	var out string
	err := s.Do(ctx, func(_ context.Context, doc *dom.Document) error {
		var err error
		out, err = doc.Render()
		return err
	})
	return out, err
}

// WaitPersisted blocks until every store call issued so far has returned.
func (s *Session) WaitPersisted(ctx context.Context) error {
	if err := s.blur.WaitPersisted(ctx); err != nil {
		return err
	}
	return s.enlarge.WaitPersisted(ctx)
}

// Close stops the loop, then gives pending store calls a short grace
// period. Effects stay in the document.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.done

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.WaitPersisted(ctx); err != nil {
			s.logger.Warn("cleaner: close with pending writes", "error", err)
		}
		cancel()
		s.cancel()
		s.cleaner.forget(s)
		s.logger.Debug("cleaner: session closed", "origin", s.origin)
	})
}

func (s *Session) reconciler(kind string) (*reconcile.Reconciler, error) {
	switch kind {
	case "", KindBlur:
		return s.blur, nil
	case KindEnlarge:
		return s.enlarge, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// ErrUnknownKind is returned for an effect kind other than blur or enlarge.
var ErrUnknownKind = errors.New("cleaner: unknown effect kind")
