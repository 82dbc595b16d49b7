// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.astrophena.name/hush/internal/logger"
	"go.astrophena.name/hush/internal/store"
	"go.astrophena.name/hush/internal/version"
	"go.astrophena.name/hush/internal/web"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const storePingTimeout = 5 * time.Second

func (e *engine) initRoutes() {
	e.mux = http.NewServeMux()

	e.mux.HandleFunc("/", e.handleRoot)
	e.mux.HandleFunc("POST /webhook", e.handleWebhook)

	// Health check.
	health := web.Health(e.mux)
	health.RegisterFunc("mutes", storeCheck(e.mutes))
	health.RegisterFunc("admins", storeCheck(e.admins))

	// Admin routes.
	e.mux.Handle("GET /admin/stats", e.adminAuth(http.HandlerFunc(e.handleStats)))
	e.mux.Handle("GET /metrics", e.adminAuth(promhttp.Handler()))
}

func (e *engine) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		web.RespondJSONError(w, r, web.ErrNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%s is running. It mutes people who reply to messages in Telegram groups.\n", e.me.DisplayName())
}

type stats struct {
	Muted        int    `json:"muted"`
	CachedAdmins int    `json:"cached_admins"`
	Groups       int    `json:"groups,omitempty"`
	Bot          string `json:"bot"`
	Version      string `json:"version"`
}

func (e *engine) handleStats(w http.ResponseWriter, r *http.Request) {
	web.RespondJSON(w, stats{
		Muted:        e.ledger.Len(),
		CachedAdmins: e.cache.Len(),
		Groups:       len(e.groups),
		Bot:          e.me.DisplayName(),
		Version:      version.Version().Version,
	})
}

// adminAuth only lets through requests bearing the admin token. Without
// the token configured, admin routes don't exist.
func (e *engine) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if e.adminToken == "" {
			web.RespondJSONError(w, r, web.ErrNotFound)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(e.adminToken)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="hush"`)
			web.RespondJSONError(w, r, web.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// logRequests logs served requests at debug level, so they show up with
// -verbose.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.Debug(r.Context(), "served request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func storeCheck(st store.Store) web.HealthFunc {
	return func() (status string, ok bool) {
		p, isPinger := st.(store.Pinger)
		if !isPinger {
			return "ok", true
		}
		ctx, cancel := context.WithTimeout(context.Background(), storePingTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			return err.Error(), false
		}
		return "ok", true
	}
}
