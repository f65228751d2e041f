// Package transport holds the chat types shared by the Telegram adapter,
// the command router and the notifier.
package transport

import (
	"context"
	"time"
)

// Update is one inbound event from a chat platform. Only text messages are
// delivered today, so Message is always set.
type Update struct {
	Received time.Time
	Message  *Message
}

type Message struct {
	ID       int
	ChatID   int64
	ThreadID int // forum topic, 0 outside topics
	FromID   int64
	FromName string
	Text     string
	Group    bool
}

// Target returns where a reply to m should go.
func (m *Message) Target() ChatTarget { return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID} }

// ChatTarget addresses a chat and optionally a forum topic in it.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 }

// MessageRef identifies a sent message. Long texts split into chunks are
// referenced by their first chunk.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool
}

// Notification is one outbound operator message. Priority runs from 0 to 10
// and selects the emoji prefix.
type Notification struct {
	Channel  string
	Priority int
	Target   ChatTarget
	Text     string
	Options  *SendOptions
}

// Sender delivers text to a chat.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// BotCommand is one entry of the chat command menu.
type BotCommand struct {
	Command     string
	Description string
}
