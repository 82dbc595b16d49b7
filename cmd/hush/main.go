// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.astrophena.name/hush/cmd/hush/internal/moderation"
	"go.astrophena.name/hush/cmd/hush/internal/telegram"
	"go.astrophena.name/hush/internal/cli"
	"go.astrophena.name/hush/internal/filelock"
	"go.astrophena.name/hush/internal/logger"
	"go.astrophena.name/hush/internal/store"
	"go.astrophena.name/hush/internal/syncx"
	"go.astrophena.name/hush/internal/web"

	"github.com/joho/godotenv"
)

func main() { cli.Main(new(engine)) }

const (
	defaultAddr      = "localhost:3000"
	selfPingInterval = 10 * time.Minute
)

func (e *engine) Flags(fs *flag.FlagSet) {
	fs.StringVar(&e.addr, "addr", "", "Listen on `host:port`. Defaults to "+defaultAddr+".")
	fs.StringVar(&e.envFile, "env-file", ".env", "Load environment variables from `file`, if it exists.")
	fs.StringVar(&e.host, "host", "", "Public host `name` to register the webhook at.")
	fs.BoolVar(&e.prod, "prod", false, "Run in production mode.")
	fs.StringVar(&e.stateDir, "state-dir", "", "Keep state files in `dir`.")
	fs.StringVar(&e.storeURL, "store", "", "State store `URL`.")
	fs.BoolVar(&e.verbose, "verbose", false, "Log every handled update.")
}

var errNoToken = errors.New("bot token is not set; set it with TG_TOKEN environment variable")

func (e *engine) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	if e.verbose {
		logger.Get(ctx).Level.Set(slog.LevelDebug)
	}

	getenv, err := loadEnvFile(env.Getenv, e.envFile)
	if err != nil {
		return err
	}

	// Load configuration from environment variables.
	e.addr = cmp.Or(e.addr, getenv("ADDR"), portAddr(getenv("PORT")), defaultAddr)
	e.adminToken = cmp.Or(e.adminToken, getenv("ADMIN_TOKEN"))
	e.host = cmp.Or(e.host, getenv("HOST"), hostOf(getenv("WEBHOOK_URL")))
	e.muteNotice = cmp.Or(e.muteNotice, getenv("MUTE_NOTICE"))
	e.onRender = getenv("RENDER") == "true"
	e.stateDir = cmp.Or(e.stateDir, getenv("STATE_DIRECTORY"), defaultStateDir(getenv))
	e.storeURL = cmp.Or(e.storeURL, getenv("STORE_URL"))
	e.tgSecret = cmp.Or(e.tgSecret, getenv("TG_SECRET"))
	e.tgToken = cmp.Or(e.tgToken, getenv("TG_TOKEN"), getenv("BOT_TOKEN"))
	if e.groups == nil {
		groups, err := parseGroups(getenv("GROUPS"))
		if err != nil {
			return fmt.Errorf("%w: GROUPS: %v", cli.ErrInvalidArgs, err)
		}
		e.groups = groups
	}

	if e.tgToken == "" {
		return fmt.Errorf("%w: %w", cli.ErrInvalidArgs, errNoToken)
	}

	// Initialize internal state.
	if err := e.init.Get(func() error {
		return e.doInit(ctx)
	}); err != nil {
		return err
	}
	defer e.close(ctx)

	// Used in tests.
	if e.noServerStart {
		return nil
	}

	// If running on Render, start goroutine that prevents Hush from sleeping.
	if e.onRender {
		logger.Info(ctx, "running on Render: enabling production mode and starting self-ping goroutine")
		e.prod = true
		go e.renderSelfPing(ctx, selfPingInterval)
	}

	// If running in production mode, set the webhook in Telegram Bot API.
	if e.prod {
		if err := e.setWebhook(ctx); err != nil {
			return err
		}
		logger.Info(ctx, "running in production mode", slog.String("host", e.host))
	} else {
		logger.Info(ctx, "running in development mode")
	}

	return e.srv.ListenAndServe(ctx)
}

type engine struct {
	init syncx.Lazy[error] // main initialization

	// initialized by doInit
	admins store.Store
	cache  *moderation.AdminCache
	ledger *moderation.Ledger
	lock   *filelock.Lock // held while using local state files
	me     telegram.User
	mod    *moderation.Engine
	mutes  store.Store
	mux    *http.ServeMux
	srv    *web.Server
	tg     *telegram.Client

	// configuration, read-only after initialization
	addr       string
	adminToken string
	envFile    string
	groups     []int64
	host       string
	httpc      *http.Client
	muteNotice string
	onRender   bool
	prod       bool
	stateDir   string
	storeURL   string
	tgAPIURL   string
	tgSecret   string
	tgToken    string
	verbose    bool
	// for tests
	noServerStart bool
	now           func() time.Time
	ready         func() // see web.Server.Ready
}

func (e *engine) doInit(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			e.close(ctx)
		}
	}()

	if e.httpc == nil {
		e.httpc = telegram.NewHTTPClient(logger.Get(ctx).Logger, e.tgToken, e.tgSecret)
	}

	e.tg = telegram.New(telegram.Options{
		Token:      e.tgToken,
		APIURL:     e.tgAPIURL,
		HTTPClient: e.httpc,
		MuteNotice: e.muteNotice,
	})
	me, err := e.tg.GetMe(ctx)
	if err != nil {
		return err
	}
	e.me = me

	if dir, ok := store.LocalDir(e.storeURL, e.stateDir); ok {
		if e.lock, err = filelock.LockDir(dir); err != nil {
			return err
		}
	}
	mutes, err := store.Open(ctx, e.storeURL, e.stateDir, "mutes")
	if err != nil {
		return err
	}
	e.mutes = mutes
	admins, err := store.Open(ctx, e.storeURL, e.stateDir, "admins")
	if err != nil {
		return err
	}
	e.admins = admins
	if e.ledger, err = moderation.LoadLedger(ctx, e.mutes, e.now); err != nil {
		return err
	}
	if e.cache, err = moderation.LoadAdminCache(ctx, e.admins, e.now); err != nil {
		return err
	}

	e.mod = moderation.NewEngine(moderation.Config{
		Cache:      e.cache,
		Ledger:     e.ledger,
		Privileges: e.tg,
		Executor:   e.tg,
		Notifier:   e.tg,
		Groups:     e.groups,
	})

	e.initRoutes()
	e.srv = &web.Server{
		Addr:       e.addr,
		Mux:        e.mux,
		Middleware: []web.Middleware{logRequests},
		Ready:      e.ready,
	}

	logger.Info(ctx, "initialized",
		slog.String("bot", e.me.DisplayName()),
		slog.Int("muted", e.ledger.Len()),
		slog.Int("cached_admins", e.cache.Len()),
	)
	return nil
}

func (e *engine) close(ctx context.Context) {
	for _, st := range []store.Store{e.mutes, e.admins} {
		if st == nil {
			continue
		}
		if err := st.Close(); err != nil {
			logger.Error(ctx, "failed to close store", slog.Any("err", err))
		}
	}
	if err := e.lock.Release(); err != nil {
		logger.Error(ctx, "failed to release state directory lock", slog.Any("err", err))
	}
}

// loadEnvFile returns a function that looks up environment variables in
// getenv first and in the .env file at path second. A missing file is not an
// error.
func loadEnvFile(getenv func(string) string, path string) (func(string) string, error) {
	if path == "" {
		return getenv, nil
	}
	vars, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return getenv, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return func(name string) string {
		if v := getenv(name); v != "" {
			return v
		}
		return vars[name]
	}, nil
}

func portAddr(port string) string {
	if port == "" {
		return ""
	}
	return ":" + port
}

// hostOf returns the host of webhookURL, accepting a bare host name too.
func hostOf(webhookURL string) string {
	if webhookURL == "" {
		return ""
	}
	u, err := url.Parse(webhookURL)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(webhookURL, "/")
	}
	return u.Host
}

func defaultStateDir(getenv func(string) string) string {
	if dir := getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "hush")
	}
	if home := getenv("HOME"); home != "" {
		return filepath.Join(home, ".local", "state", "hush")
	}
	return "state"
}

func parseGroups(s string) ([]int64, error) {
	var groups []int64
	for f := range strings.SplitSeq(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid group ID %q", f)
		}
		groups = append(groups, id)
	}
	return groups, nil
}
