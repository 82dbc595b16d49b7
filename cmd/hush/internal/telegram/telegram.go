// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegram implements the parts of the Telegram Bot API hush needs:
// moderation calls and webhook update decoding.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.astrophena.name/hush/cmd/hush/internal/moderation"
	"go.astrophena.name/hush/internal/logger"
	"go.astrophena.name/hush/internal/request"

	"golang.org/x/time/rate"
)

// DefaultAPIURL is the Telegram Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// Telegram allows a bot about 30 requests per second.
const (
	defaultLimit = rate.Limit(30)
	defaultBurst = 30
)

// rateLimitRetries is how many times a call rejected with 429 Too Many
// Requests is retried.
const rateLimitRetries = 3

// Options configure a [Client].
type Options struct {
	// Token is the bot token. Required.
	Token string
	// APIURL defaults to DefaultAPIURL.
	APIURL string
	// HTTPClient defaults to request.DefaultClient.
	HTTPClient *http.Client
	// Limit and Burst configure the outbound rate limit.
	Limit rate.Limit
	Burst int
	// MuteNotice is sent to a group after a user is muted. "{user}" is
	// replaced with the name of the muted user. If empty, nothing is sent.
	MuteNotice string
}

// Client is a Telegram Bot API client. It implements
// [moderation.PrivilegeChecker], [moderation.Executor] and
// [moderation.Notifier].
type Client struct {
	token    string
	apiURL   string
	httpc    *http.Client
	limiter  *rate.Limiter
	scrubber *strings.Replacer
	notice   string
}

var (
	_ moderation.PrivilegeChecker = (*Client)(nil)
	_ moderation.Executor         = (*Client)(nil)
	_ moderation.Notifier         = (*Client)(nil)
)

// New returns a new Client.
func New(opts Options) *Client {
	c := &Client{
		token:    opts.Token,
		apiURL:   strings.TrimSuffix(opts.APIURL, "/"),
		httpc:    opts.HTTPClient,
		scrubber: strings.NewReplacer(opts.Token, "[EXPUNGED]"),
		notice:   opts.MuteNotice,
	}
	if c.apiURL == "" {
		c.apiURL = DefaultAPIURL
	}
	limit, burst := opts.Limit, opts.Burst
	if limit == 0 {
		limit = defaultLimit
	}
	if burst == 0 {
		burst = defaultBurst
	}
	c.limiter = rate.NewLimiter(limit, burst)
	return c
}

// User is a Telegram user or bot.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// DisplayName returns @username if the user has one, or the full name
// otherwise.
func (u User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// GetMe returns the bot user. It's a cheap way to check the token.
func (c *Client) GetMe(ctx context.Context) (User, error) {
	return call[User](ctx, c, "getMe", struct{}{})
}

// SetWebhook tells Telegram to deliver message updates to url, authenticated
// with secret.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	_, err := call[bool](ctx, c, "setWebhook", map[string]any{
		"url":             url,
		"secret_token":    secret,
		"allowed_updates": []string{"message"},
	})
	return err
}

// ChatMember statuses.
const (
	StatusCreator       = "creator"
	StatusAdministrator = "administrator"
	StatusMember        = "member"
	StatusRestricted    = "restricted"
	StatusLeft          = "left"
	StatusKicked        = "kicked"
)

// ChatMember is a user's membership in a chat.
type ChatMember struct {
	Status string `json:"status"`
	User   User   `json:"user"`
}

// GetChatMember returns membership of a user in a chat.
func (c *Client) GetChatMember(ctx context.Context, chatID, userID int64) (ChatMember, error) {
	return call[ChatMember](ctx, c, "getChatMember", map[string]int64{
		"chat_id": chatID,
		"user_id": userID,
	})
}

// IsAdmin reports whether a user is the creator or an administrator of a
// group.
func (c *Client) IsAdmin(ctx context.Context, userID, groupID int64) (bool, error) {
	m, err := c.GetChatMember(ctx, groupID, userID)
	if err != nil {
		return false, err
	}
	return m.Status == StatusCreator || m.Status == StatusAdministrator, nil
}

// ChatPermissions are the actions a user may take in a chat. All fields are
// always sent, so the zero value revokes everything.
type ChatPermissions struct {
	CanSendMessages       bool `json:"can_send_messages"`
	CanSendAudios         bool `json:"can_send_audios"`
	CanSendDocuments      bool `json:"can_send_documents"`
	CanSendPhotos         bool `json:"can_send_photos"`
	CanSendVideos         bool `json:"can_send_videos"`
	CanSendVideoNotes     bool `json:"can_send_video_notes"`
	CanSendVoiceNotes     bool `json:"can_send_voice_notes"`
	CanSendPolls          bool `json:"can_send_polls"`
	CanSendOtherMessages  bool `json:"can_send_other_messages"`
	CanAddWebPagePreviews bool `json:"can_add_web_page_previews"`
}

type restrictArgs struct {
	ChatID                        int64           `json:"chat_id"`
	UserID                        int64           `json:"user_id"`
	Permissions                   ChatPermissions `json:"permissions"`
	UseIndependentChatPermissions bool            `json:"use_independent_chat_permissions"`
}

// Mute restricts a user from sending anything to a group, indefinitely.
// Restricting an already restricted user succeeds.
func (c *Client) Mute(ctx context.Context, userID, groupID int64) error {
	_, err := call[bool](ctx, c, "restrictChatMember", restrictArgs{
		ChatID:                        groupID,
		UserID:                        userID,
		UseIndependentChatPermissions: true,
	})
	return err
}

type replyParameters struct {
	MessageID                int64 `json:"message_id"`
	AllowSendingWithoutReply bool  `json:"allow_sending_without_reply"`
}

type sendMessageArgs struct {
	ChatID          int64            `json:"chat_id"`
	Text            string           `json:"text"`
	ReplyParameters *replyParameters `json:"reply_parameters,omitempty"`
}

// SendMessage sends a plain text message to a chat, optionally as a reply.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) error {
	args := sendMessageArgs{ChatID: chatID, Text: text}
	if replyTo != 0 {
		args.ReplyParameters = &replyParameters{
			MessageID:                replyTo,
			AllowSendingWithoutReply: true,
		}
	}
	_, err := call[json.RawMessage](ctx, c, "sendMessage", args)
	return err
}

// NotifyMuted sends the mute notice to the group, replying to the message
// that triggered the mute. It does nothing if the notice is not configured.
func (c *Client) NotifyMuted(ctx context.Context, ev moderation.MessageEvent) error {
	if c.notice == "" {
		return nil
	}
	name := ev.UserName
	if name == "" {
		name = "user"
	}
	text := strings.ReplaceAll(c.notice, "{user}", name)
	return c.SendMessage(ctx, ev.GroupID, text, ev.MessageID)
}

type response[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	Description string `json:"description"`
}

var errNotOK = errors.New("telegram: response is not ok")

func call[T any](ctx context.Context, c *Client, method string, args any) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, err
		}
		resp, err := request.Make[response[T]](ctx, request.Params{
			Method:     http.MethodPost,
			URL:        c.apiURL + "/bot" + c.token + "/" + method,
			Body:       args,
			HTTPClient: c.httpc,
			Scrubber:   c.scrubber,
		})
		if err != nil {
			wait, limited := RetryAfter(err)
			if !limited || attempt >= rateLimitRetries {
				return zero, fmt.Errorf("%s: %w", method, err)
			}
			logger.Warn(ctx, "rate limited by Telegram, waiting",
				slog.String("method", method),
				slog.Duration("wait", wait),
			)
			if err := sleep(ctx, wait); err != nil {
				return zero, fmt.Errorf("%s: %w", method, err)
			}
			continue
		}
		if !resp.OK {
			return zero, fmt.Errorf("%s: %w: %s", method, errNotOK, resp.Description)
		}
		return resp.Result, nil
	}
}

// RetryAfter reports whether err is a 429 Too Many Requests response and how
// long Telegram asks to wait before retrying.
func RetryAfter(err error) (wait time.Duration, ok bool) {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		return 0, false
	}

	var errorResponse struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(statusErr.Body, &errorResponse); err != nil {
		return 0, false
	}
	return time.Duration(errorResponse.Parameters.RetryAfter) * time.Second, true
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
