package turbo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/entryturbo/turbo/internal/store"
)

func TestHandler(t *testing.T) {
	ctx := context.Background()
	st, err := store.New(store.OpenMemory(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	st.SetTurbo(ctx, true, "seed")

	p := workspacePage(t)
	e, err := New(Options{Page: p, Journal: st, Config: testConfig()})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Stop()
	h := e.Handler()

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	w := do("GET", "/health", "")
	if w.Code != 200 || w.Header().Get("X-Content-Type-Options") != "nosniff" || len(w.Header().Get("X-Trace-ID")) != 8 {
		t.Errorf("health: %d %v", w.Code, w.Header())
	}

	w = do("POST", "/reconcile", "")
	var rep Report
	json.NewDecoder(w.Body).Decode(&rep)
	if w.Code != 200 || rep.Outcome != "created" || rep.Context != "workspace" {
		t.Errorf("reconcile: %d %+v", w.Code, rep)
	}

	w = do("POST", "/toggle", "")
	var state stateResponse
	json.NewDecoder(w.Body).Decode(&state)
	if w.Code != 200 || !state.Mode {
		t.Errorf("toggle: %d %+v", w.Code, state)
	}

	w = do("POST", "/toggle", `{"on": false}`)
	json.NewDecoder(w.Body).Decode(&state)
	if state.Mode {
		t.Errorf("toggle on=false: %+v", state)
	}

	if w = do("POST", "/toggle", `{"on":`); w.Code != 400 {
		t.Errorf("bad body: %d", w.Code)
	}

	w = do("GET", "/stats", "")
	var stats Stats
	json.NewDecoder(w.Body).Decode(&stats)
	if stats.Toggles != 2 || stats.Created != 1 {
		t.Errorf("stats = %+v", stats)
	}

	w = do("GET", "/history?limit=1", "")
	var hist []store.Toggle
	json.NewDecoder(w.Body).Decode(&hist)
	if w.Code != 200 || len(hist) != 1 || hist[0].Source != "seed" {
		t.Errorf("history: %d %+v", w.Code, hist)
	}

	if w = do(http.MethodHead, "/state", ""); w.Code != 200 {
		t.Errorf("HEAD /state: %d", w.Code)
	}

	e.Stop()
	if w = do("POST", "/reconcile", ""); w.Code != 503 {
		t.Errorf("reconcile after stop: %d", w.Code)
	}
}

func TestHandler_NoJournal(t *testing.T) {
	e := newEngine(t, workspacePage(t), nil, nil)
	req := httptest.NewRequest("GET", "/history", nil)
	w := httptest.NewRecorder()
	e.Handler().ServeHTTP(w, req)
	if w.Code != 404 {
		t.Errorf("history without journal: %d", w.Code)
	}
}
