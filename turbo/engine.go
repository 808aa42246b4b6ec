// Package turbo keeps a single "turbo mode" toggle anchored next to the
// editor's minimise button, in whichever layout the page currently shows,
// and mirrors the mode flag into the editor's global object.
//
// An Engine is driven by three triggers: a poll ticker, debounced mutation
// signals from the host and frame documents, and mode changes (page click,
// STATE message, admin call). All of them funnel into one goroutine that
// runs the same idempotent reconcile pass.
package turbo

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/entryturbo/turbo/dom"
	"github.com/hazyhaar/entryturbo/turbo/internal/anchor"
	"github.com/hazyhaar/entryturbo/turbo/internal/bridge"
	"github.com/hazyhaar/entryturbo/turbo/internal/control"
	"github.com/hazyhaar/entryturbo/turbo/internal/docwatch"
	"github.com/hazyhaar/entryturbo/turbo/internal/pagectx"
	"github.com/hazyhaar/entryturbo/turbo/internal/position"
	"github.com/hazyhaar/entryturbo/turbo/internal/store"
)

// ErrStopped is returned by calls made after Stop.
var ErrStopped = errors.New("turbo: engine stopped")

// Journal exposes the toggle history to the admin surfaces.
type Journal interface {
	History(ctx context.Context, limit int) ([]store.Toggle, error)
}

// Options configures an Engine.
type Options struct {
	Page    dom.Page
	Bus     *bridge.Bus // page side of the bridge; nil disables STATE/TOGGLE
	Journal Journal     // optional
	Config  *Config     // nil means DefaultConfig()
	Logger  *slog.Logger
}

// Report describes one reconcile pass.
type Report struct {
	ID      string `json:"id"`
	Context string `json:"context"`
	Outcome string `json:"outcome,omitempty"` // created | adopted
	Skipped string `json:"skipped,omitempty"`
	Mode    bool   `json:"mode"`
}

// Engine is the reconciliation loop. Its mutable state is owned by the loop
// goroutine once Start is called; before Start, Reconcile and SetMode run on
// the caller's goroutine.
type Engine struct {
	cfg     *Config
	page    dom.Page
	bus     *bridge.Bus
	journal Journal
	logger  *slog.Logger

	locator *anchor.Locator
	ctrl    *control.Lifecycle
	hostW   *docwatch.Watcher
	frameW  *docwatch.Watcher

	signals  chan docwatch.Signal
	clicks   chan struct{}
	requests chan request

	globalPending bool

	mode    atomic.Bool
	context atomic.Int32

	running  atomic.Bool
	stopped  atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	stats counters
}

type request struct {
	fn   func(context.Context)
	done chan struct{}
}

// New creates an Engine. Call Start to run the loop.
func New(opts Options) (*Engine, error) {
	if opts.Page == nil {
		return nil, errors.New("turbo: page is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:      cfg,
		page:     opts.Page,
		bus:      opts.Bus,
		journal:  opts.Journal,
		logger:   logger,
		locator:  anchor.NewLocator(cfg.Anchor.ProjectSelector, cfg.Anchor.WorkspaceSelector),
		signals:  make(chan docwatch.Signal, 64),
		clicks:   make(chan struct{}, 8),
		requests: make(chan request),
		done:     make(chan struct{}),
	}

	app := control.Appearance{
		MarkerOn:  cfg.Control.MarkerOn,
		MarkerOff: cfg.Control.MarkerOff,
		LabelOn:   cfg.Control.LabelOn,
		LabelOff:  cfg.Control.LabelOff,
		ColorOn:   cfg.Control.ColorOn,
		ColorOff:  cfg.Control.ColorOff,
	}
	e.ctrl = control.New(app, e.onClick, logger)

	markers := docwatch.Markers{
		Control:   []string{app.MarkerOn, app.MarkerOff},
		Container: cfg.Anchor.ElevatedMarker,
	}
	e.hostW = docwatch.New(docwatch.Host, markers, e.signals, logger)
	e.frameW = docwatch.New(docwatch.Frame, markers, e.signals, logger)
	return e, nil
}

// onClick runs on the DOM implementation's goroutine: hand over only.
func (e *Engine) onClick() {
	select {
	case e.clicks <- struct{}{}:
	default:
	}
}

// Mode returns the current flag.
func (e *Engine) Mode() bool { return e.mode.Load() }

// Context returns the layout seen by the last pass.
func (e *Engine) Context() pagectx.Context { return pagectx.Context(e.context.Load()) }

// Start launches the loop goroutine.
func (e *Engine) Start(ctx context.Context) error {
	if e.stopped.Load() {
		return ErrStopped
	}
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("turbo: engine already started")
	}
	ctx, e.cancel = context.WithCancel(ctx)

	var (
		state       <-chan bridge.Message
		unsubscribe = func() {}
	)
	if e.bus != nil {
		state, unsubscribe = e.bus.Subscribe(16)
	}

	go func() {
		defer close(e.done)
		defer unsubscribe()
		e.loop(ctx, state)
	}()
	e.logger.Info("turbo: engine started",
		"poll", e.cfg.Engine.PollInterval, "debounce", e.cfg.Engine.Debounce)
	return nil
}

// Stop cancels the loop, releases both subscriptions and waits for the
// goroutine. Safe to call more than once, and before Start.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.stopped.Store(true)
		if e.cancel != nil {
			e.cancel()
			<-e.done
			return
		}
		e.hostW.Close()
		e.frameW.Close()
	})
}

func (e *Engine) loop(ctx context.Context, state <-chan bridge.Message) {
	ticker := time.NewTicker(e.cfg.Engine.PollInterval)
	defer ticker.Stop()

	var (
		debounce  *time.Timer
		debounceC <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
		e.hostW.Close()
		e.frameW.Close()
		e.stopped.Store(true)
		e.running.Store(false)
		e.logger.Info("turbo: engine stopped")
	}()

	e.pass(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			e.pass(ctx)

		case s := <-e.signals:
			if !e.accept(s) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(e.cfg.Engine.Debounce)
			} else {
				debounce.Reset(e.cfg.Engine.Debounce)
			}
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			e.pass(ctx)

		case <-e.clicks:
			e.stats.clicks.Add(1)
			e.applyMode(ctx, !e.mode.Load(), "page")

		case m, ok := <-state:
			if !ok {
				state = nil
				continue
			}
			if m.Type != bridge.State {
				continue
			}
			e.stats.states.Add(1)
			e.applyMode(ctx, m.IsTurbo, "")

		case req := <-e.requests:
			req.fn(ctx)
			close(req.done)
		}
	}
}

// accept drops signals from subscriptions that have since been replaced.
func (e *Engine) accept(s docwatch.Signal) bool {
	e.stats.signals.Add(1)
	w := e.hostW
	if s.Scope == docwatch.Frame {
		w = e.frameW
	}
	if !w.Current(s) {
		e.stats.staleSignals.Add(1)
		e.logger.Debug("turbo: stale signal dropped", "scope", s.Scope, "document", s.DocumentKey, "generation", s.Generation)
		return false
	}
	return true
}

// do runs fn on the loop goroutine, or inline when the loop is not running.
func (e *Engine) do(ctx context.Context, fn func(context.Context)) error {
	if e.stopped.Load() {
		return ErrStopped
	}
	if !e.running.Load() {
		fn(ctx)
		return nil
	}
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case e.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

// Reconcile runs one pass and reports what it did.
func (e *Engine) Reconcile(ctx context.Context) (Report, error) {
	var r Report
	err := e.do(ctx, func(ctx context.Context) { r = e.pass(ctx) })
	return r, err
}

// Toggle flips the flag as a page click would and returns the new value.
func (e *Engine) Toggle(ctx context.Context, source string) (bool, error) {
	var v bool
	err := e.do(ctx, func(ctx context.Context) {
		v = !e.mode.Load()
		e.applyMode(ctx, v, source)
	})
	return v, err
}

// SetMode sets the flag. Setting the current value is a no-op.
func (e *Engine) SetMode(ctx context.Context, v bool, source string) error {
	return e.do(ctx, func(ctx context.Context) {
		if e.mode.Load() != v {
			e.applyMode(ctx, v, source)
		}
	})
}

// applyMode stores v, announces it when source is non-empty, refreshes the
// control and re-runs the pass so position and global follow.
func (e *Engine) applyMode(ctx context.Context, v bool, source string) {
	e.mode.Store(v)
	if source != "" {
		e.stats.toggles.Add(1)
		if e.bus != nil {
			e.bus.Post(bridge.Message{Type: bridge.Toggle, IsTurbo: v, Source: source})
		}
	}
	if err := e.ctrl.Refresh(ctx, v); err != nil {
		e.logger.Debug("turbo: refresh appearance", "error", err)
	}
	e.globalPending = true
	e.logger.Info("turbo: mode", "is_turbo", v, "source", source)
	e.pass(ctx)
}

// pass is the single reconcile step. Every failure ends the pass quietly;
// the next trigger retries.
func (e *Engine) pass(ctx context.Context) Report {
	e.stats.passes.Add(1)
	mode := e.mode.Load()
	r := Report{ID: uuid.Must(uuid.NewV7()).String(), Mode: mode}
	log := e.logger.With("pass", r.ID)

	loc, err := e.page.Location(ctx)
	if err != nil {
		log.Debug("turbo: location", "error", err)
		r.Skipped = "location"
		return r
	}
	c := pagectx.Classify(loc)
	e.context.Store(int32(c))
	r.Context = c.String()

	if c == pagectx.Unknown {
		e.releaseWatchers(log)
		r.Skipped = "context"
		return r
	}
	e.bindWatchers(ctx, log)
	e.writeGlobal(ctx, c, log)

	a, err := e.locator.Locate(ctx, e.page, c)
	if err != nil {
		e.stats.anchorMisses.Add(1)
		if !anchor.Transient(err) {
			e.stats.errors.Add(1)
			log.Warn("turbo: locate anchor", "context", c, "error", err)
		}
		r.Skipped = "anchor"
		return r
	}

	el, outcome, err := e.ctrl.Ensure(ctx, a, mode)
	if err != nil {
		e.fail(log, "ensure control", err)
		r.Skipped = "control"
		return r
	}
	r.Outcome = outcome.String()
	switch outcome {
	case control.Created:
		e.stats.created.Add(1)
		e.globalPending = true
		e.writeGlobal(ctx, c, log)
	case control.Adopted:
		marker := e.ctrl.Appearance().Marker(mode)
		if ok, err := el.HasClass(ctx, marker); err == nil && !ok {
			if err := e.ctrl.Refresh(ctx, mode); err != nil {
				e.fail(log, "refresh adopted control", err)
				r.Skipped = "control"
				return r
			}
		}
	}

	style, ok := position.For(c, e.placement(ctx, c, el))
	if !ok {
		r.Skipped = "context"
		return r
	}
	if err := el.SetStyle(ctx, style.Props()); err != nil {
		e.ctrl.Forget()
		e.fail(log, "apply position", err)
		r.Skipped = "position"
	}
	return r
}

func (e *Engine) placement(ctx context.Context, c pagectx.Context, el dom.Element) position.Placement {
	var p position.Placement
	switch c {
	case pagectx.ProjectOrFrameView:
		owner, err := el.OwnerDocument(ctx)
		if err != nil {
			return p
		}
		frame, err := e.page.Frame(ctx)
		p.InFrame = err == nil && owner.Key() == frame.Key()
	case pagectx.WorkspaceView:
		p.Elevated = position.HasAncestorClass(ctx, el, e.cfg.Anchor.ElevatedMarker, e.cfg.Engine.ElevatedDepth)
	}
	return p
}

// bindWatchers keeps one subscription on the host document and one on the
// current frame document instance.
func (e *Engine) bindWatchers(ctx context.Context, log *slog.Logger) {
	if host, err := e.page.Host(ctx); err == nil {
		if _, err := e.hostW.Bind(ctx, host); err != nil {
			log.Debug("turbo: host watcher", "error", err)
		}
	}

	frame, err := e.page.Frame(ctx)
	if err != nil {
		if e.frameW.Bound() {
			log.Debug("turbo: frame gone, watcher released", "document", e.frameW.DocumentKey())
			e.frameW.Close()
		}
		return
	}
	rebound, err := e.frameW.Bind(ctx, frame)
	if err != nil {
		log.Debug("turbo: frame watcher", "error", err)
		return
	}
	if rebound {
		e.stats.rebinds.Add(1)
		log.Debug("turbo: frame watcher bound", "document", frame.Key(), "generation", e.frameW.Generation())
	}
}

// releaseWatchers drops both subscriptions while the page shows no known
// layout. The next known pass binds them again.
func (e *Engine) releaseWatchers(log *slog.Logger) {
	if e.hostW.Bound() || e.frameW.Bound() {
		log.Debug("turbo: unknown layout, watchers released")
	}
	e.hostW.Close()
	e.frameW.Close()
}

// writeGlobal mirrors the flag into the editor global while a write is
// pending. The project layout keeps its editor in the frame window.
func (e *Engine) writeGlobal(ctx context.Context, c pagectx.Context, log *slog.Logger) {
	if !e.globalPending {
		return
	}
	inFrame := c == pagectx.ProjectOrFrameView
	ok, err := e.page.SetGlobal(ctx, inFrame, e.cfg.Global.Object, e.cfg.Global.Field, e.mode.Load())
	if err != nil {
		log.Debug("turbo: write global", "in_frame", inFrame, "error", err)
		return
	}
	if ok {
		e.globalPending = false
		e.stats.globalWrites.Add(1)
	}
}

func (e *Engine) fail(log *slog.Logger, what string, err error) {
	if anchor.Transient(err) {
		log.Debug("turbo: "+what, "error", err)
		return
	}
	e.stats.errors.Add(1)
	log.Warn("turbo: "+what, "error", err)
}
