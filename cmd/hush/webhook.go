// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.astrophena.name/hush/cmd/hush/internal/telegram"
	"go.astrophena.name/hush/internal/logger"
	"go.astrophena.name/hush/internal/web"
)

// Telegram limits the size of updates well below this.
const maxUpdateSize = 1 << 20

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

func (e *engine) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if e.tgSecret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(secretHeader)), []byte(e.tgSecret)) != 1 {
		web.RespondJSONError(w, r, web.ErrNotFound)
		return
	}

	var u telegram.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateSize)).Decode(&u); err != nil {
		web.RespondJSONError(w, r, fmt.Errorf("%w: %v", web.ErrBadRequest, err))
		return
	}

	if ev, ok := telegram.Normalize(u); ok {
		out := e.mod.Handle(r.Context(), ev)
		logger.Debug(r.Context(), "handled update",
			slog.Int64("update_id", u.UpdateID),
			slog.String("outcome", out.String()),
		)
	}

	// Always report success, otherwise Telegram retries the update.
	jsonOK(w)
}

func jsonOK(w http.ResponseWriter) {
	var res struct {
		OK bool `json:"ok"`
	}
	res.OK = true
	web.RespondJSON(w, res)
}
