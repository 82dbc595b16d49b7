// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.astrophena.name/hush/internal/cli"
	"go.astrophena.name/hush/internal/logger"
	"go.astrophena.name/hush/internal/request"
	"go.astrophena.name/hush/internal/web"
)

var (
	errNoHost   = errors.New("host hasn't set; pass it with -host flag or HOST environment variable")
	errNoSecret = errors.New("webhook secret hasn't set; set it with TG_SECRET environment variable")
)

func (e *engine) webhookURL() string {
	u := &url.URL{
		Scheme: "https",
		Host:   e.host,
		Path:   "/webhook",
	}
	return u.String()
}

func (e *engine) setWebhook(ctx context.Context) error {
	if e.host == "" {
		return errNoHost
	}
	if e.tgSecret == "" {
		return errNoSecret
	}
	return e.tg.SetWebhook(ctx, e.webhookURL(), e.tgSecret)
}

// renderSelfPing continuously pings Hush to prevent its Render app from
// sleeping.
func (e *engine) renderSelfPing(ctx context.Context, interval time.Duration) {
	env := cli.GetEnv(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			url := env.Getenv("RENDER_EXTERNAL_URL")
			if url == "" {
				logger.Warn(ctx, "RENDER_EXTERNAL_URL is not set; are you really on Render?")
				return
			}
			health, err := request.Make[web.HealthResponse](ctx, request.Params{
				Method:     http.MethodGet,
				URL:        url + "/health",
				HTTPClient: e.httpc,
			})
			if err != nil {
				logger.Error(ctx, "self-ping failed", slog.Any("err", err))
				continue
			}
			if !health.OK {
				logger.Warn(ctx, "self-ping: unhealthy", slog.Any("checks", health.Checks))
			}
		case <-ctx.Done():
			return
		}
	}
}
