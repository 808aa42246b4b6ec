package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"

	"github.com/hazyhaar/entryturbo/turbo/dom"
)

const hostPage = `<html><body>
<div class="toolbar"><button class="entryEngineButtonMinimize entryCoordinateButtonMinimize">min</button></div>
<iframe src="/frame"></iframe>
<script>window.Entry = {};</script>
</body></html>`

const framePage = `<html><body><div class="entryPopup"><span class="inner">x</span></div></body></html>`

// openTestPage launches a local headless Chrome against an httptest server.
// Skipped in -short mode and when no Chrome binary is installed.
func openTestPage(t *testing.T) (*Page, *Tab) {
	t.Helper()
	if testing.Short() {
		t.Skip("browser test in short mode")
	}
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no chrome binary")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/1", func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, hostPage) })
	mux.HandleFunc("/frame", func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, framePage) })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	mgr := NewManager(Config{Headless: true, Bin: bin})
	if _, err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	tab, err := OpenTab(ctx, mgr, srv.URL+"/ws/1", 10*time.Second)
	if err != nil {
		t.Fatalf("OpenTab: %v", err)
	}
	t.Cleanup(func() { tab.Close() })

	p, err := NewPage(ctx, tab.Page, nil)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p, tab
}

func TestPage_InsertObserveClick(t *testing.T) {
	ctx := context.Background()
	p, tab := openTestPage(t)

	loc, err := p.Location(ctx)
	if err != nil || loc == "" {
		t.Fatalf("Location = %q, %v", loc, err)
	}

	doc, err := p.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	again, _ := p.Host(ctx)
	if doc.Key() != again.Key() {
		t.Errorf("document key changed between reads: %q vs %q", doc.Key(), again.Key())
	}

	batches := make(chan dom.Batch, 8)
	sub, err := doc.Observe(ctx, dom.ObserveOptions{
		Attributes: []string{"class"},
		Watch:      []string{"marker"},
	}, func(b dom.Batch) { batches <- b })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	anchor, err := doc.Query(ctx, ".entryEngineButtonMinimize.entryCoordinateButtonMinimize")
	if err != nil || anchor == nil {
		t.Fatalf("anchor = %v, %v", anchor, err)
	}
	el, _ := doc.CreateElement(ctx, "button")
	if err := el.SetClassName(ctx, "marker"); err != nil {
		t.Fatal(err)
	}
	clicked := make(chan struct{}, 1)
	if err := el.OnClick(ctx, func() { clicked <- struct{}{} }); err != nil {
		t.Fatal(err)
	}
	if err := el.InsertAfter(ctx, anchor); err != nil {
		t.Fatalf("InsertAfter: %v", err)
	}

	select {
	case b := <-batches:
		if b.DocumentKey != doc.Key() {
			t.Errorf("batch key = %q, want %q", b.DocumentKey, doc.Key())
		}
		found := false
		for _, m := range b.Records {
			for _, n := range m.Nodes {
				if n.Carries("marker") {
					found = true
				}
			}
		}
		if !found {
			t.Errorf("no record carries the inserted marker: %+v", b.Records)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no mutation batch")
	}

	if _, err := tab.Page.Eval(`() => document.querySelector('.marker').click()`); err != nil {
		t.Fatal(err)
	}
	select {
	case <-clicked:
	case <-time.After(5 * time.Second):
		t.Fatal("click handler not called")
	}
	if n := p.BindingCalls(); n < 2 {
		t.Errorf("binding calls = %d, want at least the batch and the click", n)
	}
}

func TestPage_FrameAndGlobals(t *testing.T) {
	ctx := context.Background()
	p, _ := openTestPage(t)

	frame, err := p.Frame(ctx)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	popup, err := frame.Query(ctx, ".entryPopup")
	if err != nil || popup == nil {
		t.Fatalf("popup = %v, %v", popup, err)
	}
	owner, _ := popup.OwnerDocument(ctx)
	if owner.Key() != frame.Key() {
		t.Errorf("owner key = %q, want frame key %q", owner.Key(), frame.Key())
	}

	ok, err := p.SetGlobal(ctx, false, "Entry", "isTurbo", true)
	if !ok || err != nil {
		t.Errorf("host SetGlobal = %v, %v", ok, err)
	}
	ok, err = p.SetGlobal(ctx, true, "Entry", "isTurbo", true)
	if ok || err != nil {
		t.Errorf("frame SetGlobal without object = %v, %v", ok, err)
	}
}
