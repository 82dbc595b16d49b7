// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.astrophena.name/hush/internal/logger"
)

// Server is used to configure the HTTP server started by
// [Server.ListenAndServe].
//
// All fields of Server can't be modified after [Server.ListenAndServe]
// is called.
type Server struct {
	// Addr is a network address to listen on (in the form of "host:port").
	Addr string
	// Mux is a http.ServeMux to serve.
	Mux *http.ServeMux
	// Middleware wraps Mux in the given order, the first one being outermost.
	Middleware []Middleware
	// Ready specifies an optional function to be called when the server is
	// ready to serve requests.
	Ready func()
}

// Middleware is a function that wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

var (
	errNoAddr = errors.New("server.Addr is empty")
	errNilMux = errors.New("server.Mux is nil")
)

const shutdownTimeout = 30 * time.Second

// ListenAndServe starts the HTTP server and blocks until ctx is canceled or
// the server fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.Addr == "" {
		return errNoAddr
	}
	if s.Mux == nil {
		return errNilMux
	}

	l, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer l.Close()

	lg := logger.Get(ctx)
	lg.Info("listening", slog.String("addr", l.Addr().String()))

	var handler http.Handler = s.Mux
	for i := len(s.Middleware) - 1; i >= 0; i-- {
		handler = s.Middleware[i](handler)
	}

	httpSrv := &http.Server{
		ErrorLog:          log.New(lg.Logf(slog.LevelWarn), "", 0),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Propagate the logger to request handlers.
		BaseContext: func(net.Listener) context.Context {
			return logger.Put(context.Background(), lg)
		},
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if s.Ready != nil {
		s.Ready()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		lg.Info("gracefully shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return httpSrv.Shutdown(shutdownCtx)
	}
}
