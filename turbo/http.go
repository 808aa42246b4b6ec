package turbo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Handler returns the admin router:
//
//	GET  /health     liveness
//	GET  /state      mode and layout
//	POST /toggle     flip, or set with {"on": bool}
//	POST /reconcile  run one pass now
//	GET  /stats      counters
//	GET  /history    toggle journal (?limit=N)
func (e *Engine) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range adminStack(e.logger) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Get("/state", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, e.state())
	})

	r.Post("/toggle", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			On *bool `json:"on"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, 400, err)
			return
		}
		var err error
		if req.On != nil {
			err = e.SetMode(r.Context(), *req.On, "http")
		} else {
			_, err = e.Toggle(r.Context(), "http")
		}
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, 200, e.state())
	})

	r.Post("/reconcile", func(w http.ResponseWriter, r *http.Request) {
		rep, err := e.Reconcile(r.Context())
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, 200, rep)
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, e.Stats())
	})

	r.Get("/history", func(w http.ResponseWriter, r *http.Request) {
		if e.journal == nil {
			writeJSON(w, 404, map[string]string{"error": "no journal configured"})
			return
		}
		hist, err := e.journal.History(r.Context(), queryInt(r, "limit", 50))
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, hist)
	})

	return r
}

type stateResponse struct {
	Mode    bool   `json:"mode"`
	Context string `json:"context"`
}

func (e *Engine) state() stateResponse {
	return stateResponse{Mode: e.Mode(), Context: e.Context().String()}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrStopped):
		return 503
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return 504
	}
	return 500
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
