// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package telegram

import "go.astrophena.name/hush/cmd/hush/internal/moderation"

// Update is an incoming update delivered to the webhook.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is a Telegram message.
type Message struct {
	MessageID      int64    `json:"message_id"`
	From           *User    `json:"from,omitempty"`
	Chat           Chat     `json:"chat"`
	Text           string   `json:"text,omitempty"`
	ReplyToMessage *Message `json:"reply_to_message,omitempty"`
	// Set for messages sent to a forum topic.
	IsTopicMessage  bool  `json:"is_topic_message,omitempty"`
	MessageThreadID int64 `json:"message_thread_id,omitempty"`
	// Set for the service message that opens a forum topic.
	ForumTopicCreated *struct{} `json:"forum_topic_created,omitempty"`
}

// Chat types.
const (
	ChatTypePrivate    = "private"
	ChatTypeGroup      = "group"
	ChatTypeSupergroup = "supergroup"
	ChatTypeChannel    = "channel"
)

// Chat is a Telegram chat.
type Chat struct {
	ID      int64  `json:"id"`
	Type    string `json:"type"`
	Title   string `json:"title,omitempty"`
	IsForum bool   `json:"is_forum,omitempty"`
}

// Kind maps the chat type to a [moderation.ChatKind].
func (c Chat) Kind() moderation.ChatKind {
	switch c.Type {
	case ChatTypePrivate:
		return moderation.ChatDirect
	case ChatTypeGroup, ChatTypeSupergroup:
		return moderation.ChatGroup
	case ChatTypeChannel:
		return moderation.ChatBroadcast
	}
	return moderation.ChatUnknown
}

// Normalize converts an update to a [moderation.MessageEvent]. ok is false if
// the update doesn't carry a new message.
//
// A message without a sender yields an event with zero UserID, which the
// engine treats as inapplicable.
func Normalize(u Update) (ev moderation.MessageEvent, ok bool) {
	m := u.Message
	if m == nil {
		return moderation.MessageEvent{}, false
	}
	ev = moderation.MessageEvent{
		GroupID:   m.Chat.ID,
		ChatKind:  m.Chat.Kind(),
		IsReply:   isReply(m),
		MessageID: m.MessageID,
	}
	if m.From != nil {
		ev.UserID = m.From.ID
		ev.IsBot = m.From.IsBot
		ev.UserName = m.From.DisplayName()
	}
	return ev, true
}

// isReply reports whether m is an explicit reply. In forum supergroups every
// message in a topic refers to the topic's creation message, which doesn't
// count.
func isReply(m *Message) bool {
	r := m.ReplyToMessage
	if r == nil {
		return false
	}
	if m.IsTopicMessage && r.ForumTopicCreated != nil {
		return false
	}
	return true
}
