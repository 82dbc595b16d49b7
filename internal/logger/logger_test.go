// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package logger

import (
	"bytes"
	"context"
	"log"
	"log/slog"
	"strings"
	"testing"

	"go.astrophena.name/hush/internal/testutil"
)

func TestContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(&buf)
	ctx := Put(context.Background(), l)

	if Get(ctx) != l {
		t.Fatal("Get returned a different logger")
	}

	Info(ctx, "muted user", slog.Int64("user_id", 42))
	Debug(ctx, "hidden")
	out := buf.String()
	if !strings.Contains(out, "muted user") || !strings.Contains(out, "user_id=42") {
		t.Fatalf("unexpected output: %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug message logged at info level: %q", out)
	}

	l.Level.Set(slog.LevelDebug)
	Debug(ctx, "visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("debug message not logged after level change: %q", buf.String())
	}
}

func TestGetDefault(t *testing.T) {
	t.Parallel()

	if Get(context.Background()) == nil {
		t.Fatal("Get must never return nil")
	}
}

func TestLogf(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(&buf)
	std := log.New(l.Logf(slog.LevelWarn), "", 0)
	std.Printf("http: TLS handshake error from %s", "127.0.0.1")

	out := buf.String()
	testutil.AssertEqual(t, strings.Count(out, "\n"), 1)
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "TLS handshake error") {
		t.Fatalf("unexpected output: %q", out)
	}
}
