package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"github.com/hazyhaar/entryturbo/turbo/dom"
)

// Page implements dom.Page on a rod page. Click and mutation callbacks run
// on the binding listener goroutine.
type Page struct {
	rp     *rod.Page
	logger *slog.Logger

	mu     sync.Mutex
	clicks map[string]func()
	subs   map[string]subEntry

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	bindingCalls atomic.Int64
}

type subEntry struct {
	key string
	fn  func(dom.Batch)
}

type bindingMsg struct {
	Kind    string         `json:"kind"`
	ID      string         `json:"id"`
	Records []dom.Mutation `json:"records"`
}

// NewPage exposes the binding on rp and starts listening for its calls
// until Close.
func NewPage(ctx context.Context, rp *rod.Page, logger *slog.Logger) (*Page, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(rp); err != nil {
		return nil, fmt.Errorf("browser: add binding: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Page{
		rp:     rp,
		logger: logger,
		clicks: make(map[string]func()),
		subs:   make(map[string]subEntry),
		cancel: cancel,
	}

	wait := rp.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		p.dispatch(e.Payload)
	})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		wait()
	}()
	return p, nil
}

func (p *Page) dispatch(payload string) {
	p.bindingCalls.Add(1)
	var msg bindingMsg
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		p.logger.Warn("browser: parse binding payload", "error", err)
		return
	}

	switch msg.Kind {
	case "click":
		p.mu.Lock()
		fn := p.clicks[msg.ID]
		p.mu.Unlock()
		if fn != nil {
			fn()
		}
	case "mutations":
		p.mu.Lock()
		s, ok := p.subs[msg.ID]
		p.mu.Unlock()
		if ok {
			s.fn(dom.Batch{DocumentKey: s.key, Records: msg.Records})
		}
	default:
		p.logger.Debug("browser: unknown binding kind", "kind", msg.Kind)
	}
}

// Close disconnects every observer still installed, stops the binding
// listener and waits for it. No callback runs after Close returns.
func (p *Page) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.mu.Lock()
	ids := make([]string, 0, len(p.subs))
	for id := range p.subs {
		ids = append(ids, id)
	}
	p.subs = make(map[string]subEntry)
	p.clicks = make(map[string]func())
	p.mu.Unlock()

	for _, id := range ids {
		p.unobserve(id)
	}
	p.cancel()
	p.wg.Wait()
	return nil
}

// BindingCalls returns how many binding payloads were received.
func (p *Page) BindingCalls() int64 { return p.bindingCalls.Load() }

func (p *Page) Location(ctx context.Context) (string, error) {
	res, err := p.value(ctx, locationJS, nil)
	if err != nil {
		return "", fmt.Errorf("browser: location: %w", err)
	}
	return res.Value.Str(), nil
}

func (p *Page) Host(ctx context.Context) (dom.Document, error) {
	obj, err := p.object(ctx, hostJS, nil)
	if err != nil {
		return nil, fmt.Errorf("browser: host document: %w", err)
	}
	if obj == nil {
		return nil, dom.ErrUnreachable
	}
	return p.document(ctx, obj, false)
}

func (p *Page) Frame(ctx context.Context) (dom.Document, error) {
	obj, err := p.object(ctx, frameJS, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dom.ErrUnreachable, err)
	}
	if obj == nil {
		return nil, dom.ErrUnreachable
	}
	return p.document(ctx, obj, true)
}

func (p *Page) SetGlobal(ctx context.Context, inFrame bool, object, field string, value bool) (bool, error) {
	res, err := p.value(ctx, setGlobalJS, nil, inFrame, object, field, value)
	if err != nil {
		return false, fmt.Errorf("browser: set global: %w", err)
	}
	switch res.Value.Str() {
	case "ok":
		return true, nil
	case "unreachable":
		return false, dom.ErrUnreachable
	}
	return false, nil
}

func (p *Page) document(ctx context.Context, obj *proto.RuntimeRemoteObject, inFrame bool) (*Document, error) {
	res, err := p.value(ctx, keyJS, obj)
	if err != nil {
		return nil, fmt.Errorf("browser: document key: %w", err)
	}
	d := &Document{p: p, obj: obj, key: res.Value.Str(), inFrame: inFrame}
	runtime.AddCleanup(d, p.release, obj.ObjectID)
	return d, nil
}

func (p *Page) element(obj *proto.RuntimeRemoteObject, inFrame bool) *Element {
	e := &Element{p: p, obj: obj, inFrame: inFrame}
	runtime.AddCleanup(e, p.release, obj.ObjectID)
	return e
}

// object evaluates js by reference. A null or undefined result is nil.
func (p *Page) object(ctx context.Context, js string, this *proto.RuntimeRemoteObject, args ...any) (*proto.RuntimeRemoteObject, error) {
	opts := rod.Eval(js, args...).ByObject()
	if this != nil {
		opts = opts.This(this)
	}
	res, err := p.rp.Context(ctx).Evaluate(opts)
	if err != nil {
		return nil, classify(err)
	}
	if res.ObjectID == "" {
		return nil, nil
	}
	return res, nil
}

func (p *Page) value(ctx context.Context, js string, this *proto.RuntimeRemoteObject, args ...any) (*proto.RuntimeRemoteObject, error) {
	opts := rod.Eval(js, args...)
	if this != nil {
		opts = opts.This(this)
	}
	res, err := p.rp.Context(ctx).Evaluate(opts)
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

// release frees a remote object once its Go handle is collected.
func (p *Page) release(id proto.RuntimeRemoteObjectID) {
	if p.closed.Load() {
		return
	}
	go func() {
		_ = proto.RuntimeReleaseObject{ObjectID: id}.Call(p.rp)
	}()
}

func (p *Page) unobserve(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := p.value(ctx, unobserveJS, nil, id); err != nil {
		p.logger.Debug("browser: disconnect observer", "id", id, "error", err)
	}
}

// classify maps "the object or its context is gone" to dom.ErrDetached.
func classify(err error) error {
	var cdpErr *cdp.Error
	if errors.As(err, &cdpErr) {
		msg := cdpErr.Message
		if strings.Contains(msg, "Cannot find context") ||
			strings.Contains(msg, "Could not find object") ||
			strings.Contains(msg, "context was destroyed") {
			return fmt.Errorf("%w: %s", dom.ErrDetached, msg)
		}
	}
	return err
}

// Document is a document instance in the tab.
type Document struct {
	p       *Page
	obj     *proto.RuntimeRemoteObject
	key     string
	inFrame bool
}

func (d *Document) Key() string { return d.key }

func (d *Document) Query(ctx context.Context, sel string) (dom.Element, error) {
	obj, err := d.p.object(ctx, queryJS, d.obj, sel)
	if err != nil {
		return nil, fmt.Errorf("browser: query %q: %w", sel, err)
	}
	if obj == nil {
		return nil, nil
	}
	return d.p.element(obj, d.inFrame), nil
}

func (d *Document) CreateElement(ctx context.Context, tag string) (dom.Element, error) {
	obj, err := d.p.object(ctx, createJS, d.obj, tag)
	if err != nil {
		return nil, fmt.Errorf("browser: create %s: %w", tag, err)
	}
	if obj == nil {
		return nil, dom.ErrDetached
	}
	return d.p.element(obj, d.inFrame), nil
}

func (d *Document) Observe(ctx context.Context, opts dom.ObserveOptions, fn func(dom.Batch)) (dom.Subscription, error) {
	p := d.p
	if p.closed.Load() {
		return nil, dom.ErrUnreachable
	}
	id := uuid.Must(uuid.NewV7()).String()

	p.mu.Lock()
	p.subs[id] = subEntry{key: d.key, fn: fn}
	p.mu.Unlock()

	watch := opts.Watch
	if watch == nil {
		watch = []string{}
	}
	attrs := opts.Attributes
	if attrs == nil {
		attrs = []string{}
	}
	_, err := p.value(ctx, observeJS, d.obj, id, map[string]any{
		"attributes": attrs,
		"watch":      watch,
	})
	if err != nil {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
		return nil, fmt.Errorf("browser: observe %s: %w", d.key, err)
	}
	return &subscription{p: p, id: id}, nil
}

type subscription struct {
	p    *Page
	id   string
	once sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.p.mu.Lock()
		delete(s.p.subs, s.id)
		s.p.mu.Unlock()
		if !s.p.closed.Load() {
			s.p.unobserve(s.id)
		}
	})
	return nil
}
