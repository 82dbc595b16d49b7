// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// NewHTTPClient returns a [http.Client] that retries requests failed with
// connection errors or 5xx statuses. Retries are logged at the warning level
// to l, with each of secrets (such as the bot token, which is a part of every
// request URL) redacted.
//
// 429 Too Many Requests is not retried by the transport: the Bot API reports
// how long to wait in the response body, and [Client] handles that itself.
func NewHTTPClient(l *slog.Logger, secrets ...string) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	var pairs []string
	for _, s := range secrets {
		if s != "" {
			pairs = append(pairs, s, "[EXPUNGED]")
		}
	}
	rc.Logger = retryablehttp.LeveledLogger(leveledSlog{
		l:        l.With("subsystem", "telegram-http"),
		scrubber: strings.NewReplacer(pairs...),
	})
	rc.CheckRetry = retryPolicy
	// Let request.Make see the final response instead of a generic error.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := rc.StandardClient()
	c.Timeout = 30 * time.Second
	return c
}

func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// leveledSlog adapts slog to retryablehttp. Errors are logged as warnings
// since they are retried.
type leveledSlog struct {
	l        *slog.Logger
	scrubber *strings.Replacer
}

func (s leveledSlog) Error(msg string, kv ...any) { s.l.Warn(msg, s.scrub(kv)...) }
func (s leveledSlog) Warn(msg string, kv ...any)  { s.l.Warn(msg, s.scrub(kv)...) }
func (s leveledSlog) Info(msg string, kv ...any)  { s.l.Info(msg, s.scrub(kv)...) }
func (s leveledSlog) Debug(msg string, kv ...any) { s.l.Debug(msg, s.scrub(kv)...) }

// scrub formats values as strings with secrets redacted. Keys are left as is.
func (s leveledSlog) scrub(kv []any) []any {
	out := make([]any, len(kv))
	for i, v := range kv {
		if i%2 == 0 {
			out[i] = v
			continue
		}
		out[i] = s.scrubber.Replace(fmt.Sprint(v))
	}
	return out
}
