// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package moderation decides whether the author of a group message should be
// muted and keeps the state that makes muting idempotent: a cache of admin
// statuses and a ledger of muted users.
package moderation

import (
	"context"
	"strconv"
)

// Key identifies a user in a group.
type Key struct {
	UserID  int64
	GroupID int64
}

// String returns the record identifier of k used in persistent storage. It's
// never parsed back: records carry the key fields in their values.
func (k Key) String() string {
	return strconv.FormatInt(k.UserID, 10) + ":" + strconv.FormatInt(k.GroupID, 10)
}

// ChatKind is a kind of chat the message was sent to.
type ChatKind int

// Chat kinds.
const (
	ChatUnknown ChatKind = iota
	// Private chat with the bot.
	ChatDirect
	// Group or supergroup.
	ChatGroup
	// Channel.
	ChatBroadcast
)

func (k ChatKind) String() string {
	switch k {
	case ChatDirect:
		return "direct"
	case ChatGroup:
		return "group"
	case ChatBroadcast:
		return "broadcast"
	}
	return "unknown"
}

// MessageEvent is a message normalized from a platform update.
type MessageEvent struct {
	UserID   int64
	GroupID  int64
	IsBot    bool
	ChatKind ChatKind
	IsReply  bool

	// Used only for notifications.
	MessageID int64
	UserName  string
}

// Key returns the key of the message author in the group.
func (ev MessageEvent) Key() Key { return Key{UserID: ev.UserID, GroupID: ev.GroupID} }

// PrivilegeChecker reports whether a user is an administrator or the creator
// of a group.
type PrivilegeChecker interface {
	IsAdmin(ctx context.Context, userID, groupID int64) (bool, error)
}

// Executor restricts a user from sending messages to a group. Mute must be
// safe to call more than once for the same user and group.
type Executor interface {
	Mute(ctx context.Context, userID, groupID int64) error
}

// Notifier tells a group that a user has been muted.
type Notifier interface {
	NotifyMuted(ctx context.Context, ev MessageEvent) error
}

// MuteCommand asks the [Executor] to mute a user in a group.
type MuteCommand struct {
	Key Key
}

// Decision is the result of evaluating a [MessageEvent].
type Decision struct {
	Outcome Outcome
	// Mute is non-nil when the message author should be muted.
	Mute *MuteCommand
}

// Outcome describes what happened to an event.
type Outcome int

// Possible outcomes.
const (
	// Unexpected condition during evaluation.
	OutcomeSkipped Outcome = iota
	// No resolvable user or chat.
	OutcomeInapplicable
	// Author is a bot.
	OutcomeBot
	// Not a group chat.
	OutcomeNotGroup
	// Group is not in the allow-list.
	OutcomeNotMonitored
	// Message is not a reply.
	OutcomeNotReply
	// Author is exempt.
	OutcomeAdmin
	// Author is in the ledger.
	OutcomeAlreadyMuted
	// Another event for the same key is being muted.
	OutcomeInFlight
	// Decision: mute the author.
	OutcomeMute
	// Author was muted.
	OutcomeMuted
	// Executor failed.
	OutcomeMuteFailed
)

var outcomeNames = [...]string{
	OutcomeSkipped:      "skipped",
	OutcomeInapplicable: "inapplicable",
	OutcomeBot:          "bot",
	OutcomeNotGroup:     "not_group",
	OutcomeNotMonitored: "not_monitored",
	OutcomeNotReply:     "not_reply",
	OutcomeAdmin:        "admin",
	OutcomeAlreadyMuted: "already_muted",
	OutcomeInFlight:     "in_flight",
	OutcomeMute:         "mute",
	OutcomeMuted:        "muted",
	OutcomeMuteFailed:   "mute_failed",
}

func (o Outcome) String() string {
	if o >= 0 && int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "outcome(" + strconv.Itoa(int(o)) + ")"
}
