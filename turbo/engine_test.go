package turbo

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/hazyhaar/entryturbo/turbo/dom"
	"github.com/hazyhaar/entryturbo/turbo/dom/htmldom"
	"github.com/hazyhaar/entryturbo/turbo/internal/bridge"
	"github.com/hazyhaar/entryturbo/turbo/internal/store"
)

const (
	controlSel = ".isTurboButtonON, .isTurboButtonOFF"

	workspaceHTML = `<html><body>
<div class="top"><div class="bar">
  <button class="entryEngineButtonWorkspace_w entryEngineTopWorkspace entryCoordinateButtonWorkspace_w">save</button>
  <span class="tail">x</span>
</div></div>
</body></html>`

	projectHostHTML = `<html><body><div class="shell"><iframe src="/iframe/1"></iframe></div></body></html>`

	frameHTML = `<html><body>
<div class="toolbar">
  <button class="entryEngineButtonMinimize entryCoordinateButtonMinimize">min</button>
</div>
</body></html>`
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Engine.PollInterval = 20 * time.Millisecond
	cfg.Engine.Debounce = 5 * time.Millisecond
	cfg.Engine.StateDelay = 10 * time.Millisecond
	return cfg
}

func newEngine(t *testing.T, p *htmldom.Page, bus *bridge.Bus, cfg *Config) *Engine {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	e, err := New(Options{Page: p, Bus: bus, Config: cfg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

func workspacePage(t *testing.T) *htmldom.Page {
	t.Helper()
	p, err := htmldom.NewPage("https://playentry.org/ws/123", workspaceHTML)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func projectPage(t *testing.T) (*htmldom.Page, *htmldom.Document) {
	t.Helper()
	p, err := htmldom.NewPage("https://playentry.org/project/123", projectHostHTML)
	if err != nil {
		t.Fatal(err)
	}
	frame, err := p.LoadFrame(frameHTML)
	if err != nil {
		t.Fatal(err)
	}
	return p, frame
}

func reconcile(t *testing.T, e *Engine) Report {
	t.Helper()
	r, err := e.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	return r
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReconcile_WorkspaceCreatesOnce(t *testing.T) {
	p := workspacePage(t)
	doc := p.HostDocument()
	e := newEngine(t, p, nil, nil)

	r := reconcile(t, e)
	if r.Context != "workspace" || r.Outcome != "created" || r.Skipped != "" {
		t.Fatalf("first pass = %+v", r)
	}
	before := doc.Render()

	for range 3 {
		if r := reconcile(t, e); r.Outcome != "adopted" {
			t.Fatalf("repeat pass = %+v", r)
		}
	}
	if n := doc.Count(controlSel); n != 1 {
		t.Fatalf("controls = %d, want 1", n)
	}
	if doc.Render() != before {
		t.Error("repeat passes changed the document")
	}

	anchorEl := doc.Find(".entryEngineButtonWorkspace_w")
	ctrl := doc.Find(controlSel)
	if !anchorEl.NextSibling().Same(ctrl) {
		t.Error("control is not the anchor's next sibling")
	}
	if ctrl.ClassName() != "isTurboButtonOFF" || ctrl.Text() != "터보모드 꺼짐" {
		t.Errorf("control = %q / %q", ctrl.ClassName(), ctrl.Text())
	}
	if ctrl.Style("float") != "right" || ctrl.Style("marginTop") != "2.5px" || ctrl.Style("position") != "" {
		t.Errorf("plain workspace style: float=%q marginTop=%q position=%q",
			ctrl.Style("float"), ctrl.Style("marginTop"), ctrl.Style("position"))
	}
	if ctrl.Style("padding") != "5px 10px" || ctrl.Style("backgroundColor") != "rgb(226, 226, 226)" {
		t.Errorf("base style: padding=%q bg=%q", ctrl.Style("padding"), ctrl.Style("backgroundColor"))
	}
}

func TestReconcile_ElevatedFlip(t *testing.T) {
	p := workspacePage(t)
	doc := p.HostDocument()
	e := newEngine(t, p, nil, nil)
	reconcile(t, e)

	doc.AddClass(".top", "entryPopup")
	reconcile(t, e)

	ctrl := doc.Find(controlSel)
	if doc.Count(controlSel) != 1 {
		t.Fatalf("controls = %d after elevation", doc.Count(controlSel))
	}
	want := map[string]string{"position": "absolute", "right": "100px", "bottom": "9.5px", "margin": "0", "float": "right"}
	for k, v := range want {
		if got := ctrl.Style(k); got != v {
			t.Errorf("elevated %s = %q, want %q", k, got, v)
		}
	}
	if ctrl.Style("marginTop") != "" {
		t.Errorf("elevated marginTop = %q, want cleared", ctrl.Style("marginTop"))
	}

	doc.RemoveClass(".top", "entryPopup")
	reconcile(t, e)
	if ctrl.Style("position") != "" || ctrl.Style("right") != "" || ctrl.Style("margin") != "" {
		t.Errorf("plain after elevated: position=%q right=%q margin=%q",
			ctrl.Style("position"), ctrl.Style("right"), ctrl.Style("margin"))
	}
	if ctrl.Style("marginTop") != "2.5px" {
		t.Errorf("plain marginTop = %q", ctrl.Style("marginTop"))
	}
	if doc.Count(controlSel) != 1 {
		t.Error("flip back duplicated the control")
	}
}

func TestReconcile_UnknownContextTouchesNothing(t *testing.T) {
	p, err := htmldom.NewPage("https://playentry.org/community", workspaceHTML)
	if err != nil {
		t.Fatal(err)
	}
	p.DefineGlobal(false, "Entry")
	before := p.HostDocument().Render()
	e := newEngine(t, p, nil, nil)
	if err := e.SetMode(context.Background(), true, "test"); err != nil {
		t.Fatal(err)
	}

	if r := reconcile(t, e); r.Skipped != "context" || r.Context != "unknown" {
		t.Errorf("report = %+v", r)
	}
	if p.HostDocument().Render() != before {
		t.Error("unknown layout was modified")
	}
	if _, set := p.Global(false, "Entry", "isTurbo"); set {
		t.Error("global written in an unknown layout")
	}
}

func TestReconcile_ContextRecomputedEveryPass(t *testing.T) {
	p := workspacePage(t)
	e := newEngine(t, p, nil, nil)
	reconcile(t, e)

	p.SetLocation("https://playentry.org/project/9")
	if r := reconcile(t, e); r.Context != "project" || r.Skipped != "anchor" {
		t.Errorf("after navigation = %+v, want project with no frame anchor", r)
	}
}

func TestReconcile_ProjectInFrame(t *testing.T) {
	p, frame := projectPage(t)
	e := newEngine(t, p, nil, nil)

	if r := reconcile(t, e); r.Outcome != "created" {
		t.Fatalf("report = %+v", r)
	}
	if p.HostDocument().Count(controlSel) != 0 {
		t.Error("control created in host document")
	}
	ctrl := frame.Find(controlSel)
	if ctrl == nil {
		t.Fatal("no control in frame document")
	}
	if ctrl.Style("marginRight") != "150px" || ctrl.Style("marginTop") != "12px" || ctrl.Style("marginBottom") != "12px" {
		t.Errorf("frame style: right=%q top=%q bottom=%q",
			ctrl.Style("marginRight"), ctrl.Style("marginTop"), ctrl.Style("marginBottom"))
	}
}

func TestReconcile_FrameUnreachableIsQuiet(t *testing.T) {
	p, err := htmldom.NewPage("https://playentry.org/project/1", projectHostHTML)
	if err != nil {
		t.Fatal(err)
	}
	e := newEngine(t, p, nil, nil)

	if r := reconcile(t, e); r.Skipped != "anchor" {
		t.Errorf("no frame: %+v", r)
	}
	p.LoadFrame(frameHTML)
	p.BlockFrame(true)
	if r := reconcile(t, e); r.Skipped != "anchor" {
		t.Errorf("blocked frame: %+v", r)
	}
	if e.Stats().Errors != 0 {
		t.Errorf("errors = %d, want 0 for transient absence", e.Stats().Errors)
	}

	p.BlockFrame(false)
	if r := reconcile(t, e); r.Outcome != "created" {
		t.Errorf("frame readable again: %+v", r)
	}
}

func TestFrameReplacement_RebindsAndDropsStale(t *testing.T) {
	p, first := projectPage(t)
	e := newEngine(t, p, nil, nil)
	reconcile(t, e)
	if first.Observers() != 1 {
		t.Fatalf("first frame observers = %d", first.Observers())
	}

	// A relevant mutation on the first instance is queued...
	first.Remove(controlSel)
	first.Flush()
	if len(e.signals) == 0 {
		t.Fatal("no signal from first frame")
	}

	// ...then the frame reloads before the signal is handled.
	second, _ := p.LoadFrame(frameHTML)
	if r := reconcile(t, e); r.Outcome != "created" {
		t.Fatalf("pass on reloaded frame = %+v", r)
	}
	if first.Observers() != 0 || second.Observers() != 1 {
		t.Errorf("observers first=%d second=%d, want 0/1", first.Observers(), second.Observers())
	}

	for len(e.signals) > 0 {
		if e.accept(<-e.signals) {
			t.Error("signal from replaced frame accepted")
		}
	}
	st := e.Stats()
	if st.Rebinds != 2 || st.StaleSignals == 0 {
		t.Errorf("rebinds=%d stale=%d", st.Rebinds, st.StaleSignals)
	}
	if second.Count(controlSel) != 1 {
		t.Error("reloaded frame has no control")
	}
}

func TestToggle_AppearanceAndGlobal(t *testing.T) {
	ctx := context.Background()
	p := workspacePage(t)
	p.DefineGlobal(false, "Entry")
	bus := bridge.NewBus(nil)
	msgs, cancel := bus.Subscribe(4)
	defer cancel()

	e := newEngine(t, p, bus, nil)
	reconcile(t, e)

	v, err := e.Toggle(ctx, "test")
	if err != nil || !v {
		t.Fatalf("Toggle = %v, %v", v, err)
	}
	ctrl := p.HostDocument().Find(controlSel)
	if ctrl.ClassName() != "isTurboButtonON" || ctrl.Text() != "터보모드 켜짐" || ctrl.Style("backgroundColor") != "rgb(22, 216, 163)" {
		t.Errorf("after toggle: class=%q text=%q bg=%q", ctrl.ClassName(), ctrl.Text(), ctrl.Style("backgroundColor"))
	}
	if g, ok := p.Global(false, "Entry", "isTurbo"); !ok || !g {
		t.Errorf("Entry.isTurbo = %v (set=%v)", g, ok)
	}

	m := <-msgs
	if m.Type != bridge.Toggle || !m.IsTurbo || m.Source != "test" {
		t.Errorf("bus message = %+v", m)
	}

	// Setting the current value neither posts nor rewrites.
	if err := e.SetMode(ctx, true, "test"); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Error("no-op SetMode posted a message")
	}
}

func TestToggle_ProjectWritesFrameGlobal(t *testing.T) {
	p, _ := projectPage(t)
	p.DefineGlobal(true, "Entry")
	p.DefineGlobal(false, "Entry")
	e := newEngine(t, p, nil, nil)
	reconcile(t, e)

	if _, err := e.Toggle(context.Background(), "test"); err != nil {
		t.Fatal(err)
	}
	if g, _ := p.Global(true, "Entry", "isTurbo"); !g {
		t.Error("frame Entry.isTurbo not written")
	}
	if _, set := p.Global(false, "Entry", "isTurbo"); set {
		t.Error("host Entry.isTurbo written in project layout")
	}
}

func TestGlobal_RetriedUntilObjectExists(t *testing.T) {
	p := workspacePage(t)
	e := newEngine(t, p, nil, nil)
	reconcile(t, e)

	if _, set := p.Global(false, "Entry", "isTurbo"); set {
		t.Fatal("global written without object")
	}
	p.DefineGlobal(false, "Entry")
	reconcile(t, e)
	if g, set := p.Global(false, "Entry", "isTurbo"); !set || g {
		t.Errorf("Entry.isTurbo = %v (set=%v), want false written late", g, set)
	}
	if e.Stats().GlobalWrites != 1 {
		t.Errorf("global writes = %d, want 1", e.Stats().GlobalWrites)
	}
}

func TestAdoptedControlWithStaleMarkerIsRefreshed(t *testing.T) {
	p := workspacePage(t)
	doc := p.HostDocument()
	doc.Append(".bar", `<button class="isTurboButtonON">old</button>`)
	e := newEngine(t, p, nil, nil)

	if r := reconcile(t, e); r.Outcome != "adopted" {
		t.Fatalf("report = %+v", r)
	}
	ctrl := doc.Find(controlSel)
	if ctrl.ClassName() != "isTurboButtonOFF" || ctrl.Text() != "터보모드 꺼짐" {
		t.Errorf("adopted control = %q / %q", ctrl.ClassName(), ctrl.Text())
	}
}

func TestLoop_ClickFlipsMode(t *testing.T) {
	p := workspacePage(t)
	doc := p.HostDocument()
	e := newEngine(t, p, bridge.NewBus(nil), nil)
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "control", func() bool { return doc.Find(controlSel) != nil })
	doc.Find(controlSel).Click()
	waitFor(t, "mode on", e.Mode)
	waitFor(t, "ON marker", func() bool { return doc.Count(".isTurboButtonON") == 1 })

	doc.Find(controlSel).Click()
	waitFor(t, "mode off", func() bool { return !e.Mode() })
	if e.Stats().Clicks != 2 {
		t.Errorf("clicks = %d", e.Stats().Clicks)
	}
}

func TestLoop_MutationSignalRestoresControl(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.PollInterval = time.Hour
	cfg.Engine.Debounce = 10 * time.Millisecond

	p := workspacePage(t)
	doc := p.HostDocument()
	e := newEngine(t, p, nil, cfg)
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "initial control", func() bool { return e.Stats().Created == 1 })

	doc.Remove(controlSel)
	doc.Flush()
	waitFor(t, "second creation", func() bool { return e.Stats().Created == 2 })
	if n := doc.Count(controlSel); n != 1 {
		t.Errorf("controls = %d, want 1", n)
	}
}

func TestLoop_StoredStateAppliedAfterDelay(t *testing.T) {
	ctx := context.Background()
	st, err := store.New(store.OpenMemory(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SetTurbo(ctx, true, "seed"); err != nil {
		t.Fatal(err)
	}

	p := workspacePage(t)
	bus := bridge.NewBus(nil)
	e := newEngine(t, p, bus, nil)
	in := bridge.NewInjector(bus, st, 10*time.Millisecond, nil)

	if e.Mode() {
		t.Fatal("mode true before STATE")
	}
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	in.Start(ctx)
	defer in.Stop()

	waitFor(t, "stored mode", e.Mode)
	waitFor(t, "ON control", func() bool { return p.HostDocument().Count(".isTurboButtonON") == 1 })
}

// A click in one session is what the next session starts with.
func TestReloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := store.New(store.OpenMemory(t), nil)
	if err != nil {
		t.Fatal(err)
	}

	session := func() (*htmldom.Page, *Engine, *bridge.Injector) {
		p := workspacePage(t)
		bus := bridge.NewBus(nil)
		e := newEngine(t, p, bus, nil)
		in := bridge.NewInjector(bus, st, 10*time.Millisecond, nil)
		if err := e.Start(ctx); err != nil {
			t.Fatal(err)
		}
		in.Start(ctx)
		return p, e, in
	}

	p1, e1, in1 := session()
	waitFor(t, "first control", func() bool { return p1.HostDocument().Find(controlSel) != nil })
	p1.HostDocument().Find(controlSel).Click()
	waitFor(t, "persisted", func() bool { return st.Turbo(ctx) })
	e1.Stop()
	in1.Stop()

	p2, e2, in2 := session()
	defer in2.Stop()
	waitFor(t, "restored mode", e2.Mode)
	waitFor(t, "restored ON control", func() bool { return p2.HostDocument().Count(".isTurboButtonON") == 1 })
}

func TestStop_ReleasesEverything(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p, frame := projectPage(t)
	host := p.HostDocument()
	bus := bridge.NewBus(nil)
	e, err := New(Options{Page: p, Bus: bus, Config: testConfig()})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "frame control", func() bool { return frame.Count(controlSel) == 1 })

	e.Stop()
	e.Stop()

	if host.Observers() != 0 || frame.Observers() != 0 {
		t.Errorf("observers after Stop: host=%d frame=%d", host.Observers(), frame.Observers())
	}
	if _, err := e.Reconcile(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Reconcile after Stop: %v", err)
	}
	if err := e.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start after Stop: %v", err)
	}

	passes := e.Stats().Passes
	frame.Remove(controlSel)
	frame.Flush()
	time.Sleep(30 * time.Millisecond)
	if e.Stats().Passes != passes {
		t.Error("pass ran after Stop")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("nil page accepted")
	}
	cfg := testConfig()
	cfg.Engine.Debounce = time.Second
	if _, err := New(Options{Page: workspacePage(t), Config: cfg}); err == nil {
		t.Error("invalid config accepted")
	}
}

// flakyPage wraps an in-memory page so element writes can be made to fail.
type flakyPage struct {
	*htmldom.Page
	textFailures atomic.Int32
	bindingCalls int64
}

func (p *flakyPage) Host(ctx context.Context) (dom.Document, error) {
	d, err := p.Page.Host(ctx)
	if err != nil {
		return nil, err
	}
	return &flakyDoc{Document: d, p: p}, nil
}

func (p *flakyPage) BindingCalls() int64 { return p.bindingCalls }

func (p *flakyPage) wrap(el dom.Element) dom.Element {
	if el == nil {
		return nil
	}
	return &flakyElement{Element: el, p: p}
}

type flakyDoc struct {
	dom.Document
	p *flakyPage
}

func (d *flakyDoc) Query(ctx context.Context, sel string) (dom.Element, error) {
	el, err := d.Document.Query(ctx, sel)
	return d.p.wrap(el), err
}

func (d *flakyDoc) CreateElement(ctx context.Context, tag string) (dom.Element, error) {
	el, err := d.Document.CreateElement(ctx, tag)
	return d.p.wrap(el), err
}

type flakyElement struct {
	dom.Element
	p *flakyPage
}

func (e *flakyElement) Parent(ctx context.Context) (dom.Element, error) {
	el, err := e.Element.Parent(ctx)
	return e.p.wrap(el), err
}

func (e *flakyElement) Query(ctx context.Context, sel string) (dom.Element, error) {
	el, err := e.Element.Query(ctx, sel)
	return e.p.wrap(el), err
}

func (e *flakyElement) SetText(ctx context.Context, text string) error {
	if e.p.textFailures.Load() > 0 {
		e.p.textFailures.Add(-1)
		return errors.New("write rejected")
	}
	return e.Element.SetText(ctx, text)
}

func (e *flakyElement) InsertAfter(ctx context.Context, ref dom.Element) error {
	if f, ok := ref.(*flakyElement); ok {
		ref = f.Element
	}
	return e.Element.InsertAfter(ctx, ref)
}

func TestToggle_FailedLabelWriteIsRepaired(t *testing.T) {
	ctx := context.Background()
	p := &flakyPage{Page: workspacePage(t)}
	e, err := New(Options{Page: p, Config: testConfig()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Stop)

	if r := reconcile(t, e); r.Outcome != "created" {
		t.Fatalf("first pass = %+v", r)
	}

	p.textFailures.Store(1)
	if _, err := e.Toggle(ctx, "test"); err != nil {
		t.Fatal(err)
	}
	for range 5 {
		reconcile(t, e)
	}

	ctrl := p.HostDocument().Find(controlSel)
	if ctrl == nil {
		t.Fatal("control gone")
	}
	if ctrl.ClassName() != "isTurboButtonON" || ctrl.Text() != "터보모드 켜짐" {
		t.Errorf("mode=%v class=%q text=%q, want ON marker and ON label", e.Mode(), ctrl.ClassName(), ctrl.Text())
	}
	if n := p.HostDocument().Count(controlSel); n != 1 {
		t.Errorf("controls = %d, want 1", n)
	}
}

func TestStats_BindingCallsFromPage(t *testing.T) {
	p := &flakyPage{Page: workspacePage(t), bindingCalls: 3}
	e, err := New(Options{Page: p, Config: testConfig()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Stop)
	if got := e.Stats().BindingCalls; got != 3 {
		t.Errorf("binding calls = %d, want 3", got)
	}

	plain := newEngine(t, workspacePage(t), nil, nil)
	if got := plain.Stats().BindingCalls; got != 0 {
		t.Errorf("in-memory page binding calls = %d, want 0", got)
	}
}

func TestReconcile_UnknownReleasesWatchers(t *testing.T) {
	p, err := htmldom.NewPage("https://playentry.org/community", workspaceHTML)
	if err != nil {
		t.Fatal(err)
	}
	host := p.HostDocument()
	e := newEngine(t, p, nil, nil)

	reconcile(t, e)
	if n := host.Observers(); n != 0 {
		t.Fatalf("observers on unknown layout = %d, want 0", n)
	}

	p.SetLocation("https://playentry.org/ws/1")
	reconcile(t, e)
	if n := host.Observers(); n != 1 {
		t.Fatalf("observers on workspace = %d, want 1", n)
	}

	p.SetLocation("https://playentry.org/community")
	reconcile(t, e)
	if n := host.Observers(); n != 0 {
		t.Errorf("observers after leaving for unknown layout = %d, want 0", n)
	}
}

func TestLoop_BatchesWithinDebounceRunOnePass(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.PollInterval = time.Hour
	cfg.Engine.Debounce = 150 * time.Millisecond

	p := workspacePage(t)
	doc := p.HostDocument()
	e := newEngine(t, p, nil, cfg)
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "initial control", func() bool { return e.Stats().Created == 1 })
	before := e.Stats().Passes

	for range 3 {
		if err := doc.Append("body", `<div class="entryPopup"></div>`); err != nil {
			t.Fatal(err)
		}
		doc.Flush()
	}
	waitFor(t, "three signals", func() bool { return e.Stats().Signals == 3 })
	waitFor(t, "debounced pass", func() bool { return e.Stats().Passes == before+1 })

	time.Sleep(3 * cfg.Engine.Debounce)
	if got := e.Stats().Passes - before; got != 1 {
		t.Errorf("passes after three batches = %d, want 1", got)
	}
}
