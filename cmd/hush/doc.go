// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Hush is a Telegram bot that mutes people who reply to messages in groups.

When a member of a group replies to any message, Hush checks whether they are
the creator or an administrator of the group. If they are not, Hush restricts
them from sending anything to the group, once and for all. Admin statuses are
cached for 24 hours, and muted users are remembered, so Hush doesn't ask
Telegram twice.

Hush receives updates through a webhook at /webhook. The bot must be an
administrator with the "Ban users" right in each group it moderates.

# Usage

	$ hush [flags...]

# Configuration

Hush is configured with flags and environment variables. Variables can also be
put into a .env file in the working directory (see -env-file); the real
environment takes precedence over it.

	TG_TOKEN (or BOT_TOKEN): Telegram Bot API token. Required.
	TG_SECRET: Secret token Telegram sends with each webhook request.
		Required in production mode.
	HOST (or WEBHOOK_URL): Public host name the webhook is registered at.
		Required in production mode.
	ADDR (or PORT): Address to listen on. Defaults to localhost:3000.
	STORE_URL: Where to keep state. See below. Overridden by -store.
	STATE_DIRECTORY: Directory for state files. Defaults to
		$XDG_STATE_HOME/hush or ~/.local/state/hush.
	ADMIN_TOKEN: Bearer token for /admin/stats and /metrics. If empty, these
		routes are disabled.
	MUTE_NOTICE: Text to reply with after muting someone. {user} is replaced
		with the name of the muted user. If empty, Hush mutes silently.
	GROUPS: Comma-separated list of group IDs to moderate. If empty, Hush
		moderates every group it's in.

# State

Hush keeps two collections: muted users and cached admin statuses. STORE_URL
selects where they live:

	(empty) or file:DIR: JSON files in DIR (the state directory by default).
	sqlite:PATH: SQLite database.
	postgres://... or postgresql://...: PostgreSQL database.
	redis://... or rediss://...: Redis, one hash per collection.
	mem: In memory, lost on restart.

Mutes are permanent. To unmute someone, lift the restriction in Telegram and
remove their record from the store.

# Routes

	GET /: Short description.
	GET /health: Health check, including the state store.
	POST /webhook: Telegram updates.
	GET /admin/stats: Counts of muted users and cached admin statuses.
	GET /metrics: Prometheus metrics.

# Render

When the RENDER environment variable is set to "true", Hush runs in production
mode, listens on PORT and pings itself every 10 minutes to prevent [Render]
from idling.

[Render]: https://render.com
*/
package main

import (
	_ "embed"

	"go.astrophena.name/hush/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
