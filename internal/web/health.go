// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"net/http"
	"net/url"

	"go.astrophena.name/hush/internal/syncx"
)

// Health returns the [HealthHandler] served at GET /health on mux. The first
// call registers it; later calls return the same handler, so independent
// components can add their checks.
func Health(mux *http.ServeMux) *HealthHandler {
	h, pat := mux.Handler(&http.Request{Method: http.MethodGet, URL: &url.URL{Path: "/health"}})
	if hh, ok := h.(*HealthHandler); ok && pat == "GET /health" {
		return hh
	}
	ret := &HealthHandler{
		checks: syncx.Protect(make(checksMap)),
	}
	mux.Handle("GET /health", ret)
	return ret
}

// HealthHandler reports whether the state stores and other dependencies of
// the bot are reachable. It responds with 500 when any check fails.
type HealthHandler struct{ checks *syncx.Protected[checksMap] }

type checksMap = map[string]HealthFunc

// HealthFunc checks one dependency, such as a store connection, and returns a
// short status line.
type HealthFunc func() (status string, ok bool)

// RegisterFunc adds a check reported under name. Names must be unique;
// registering one twice panics.
//
// Checks run on every request and may run concurrently.
func (h *HealthHandler) RegisterFunc(name string, f HealthFunc) {
	h.checks.Access(func(checks checksMap) {
		if _, dup := checks[name]; dup {
			panic("health: duplicate check " + name)
		}
		checks[name] = f
	})
}

// HealthResponse is the body of a /health response.
type HealthResponse struct {
	OK     bool                     `json:"ok"`
	Checks map[string]CheckResponse `json:"checks"`
}

// CheckResponse is the result of a single check.
type CheckResponse struct {
	Status string `json:"status"`
	OK     bool   `json:"ok"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hr := &HealthResponse{
		OK:     true,
		Checks: make(map[string]CheckResponse),
	}

	h.checks.RAccess(func(checks checksMap) {
		for name, f := range checks {
			status, ok := f()
			if !ok {
				hr.OK = false
			}
			hr.Checks[name] = CheckResponse{Status: status, OK: ok}
		}
	})

	w.Header().Set("Content-Type", "application/json")
	if !hr.OK {
		w.WriteHeader(http.StatusInternalServerError)
	}
	RespondJSON(w, hr)
}
