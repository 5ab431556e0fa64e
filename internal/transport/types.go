// Package transport is the outbound chat-platform surface used by the
// notifier and the alert log sink.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrForbidden: the bot may not post to the chat (kicked, blocked, no rights).
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound: the chat, thread or message no longer exists.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited: the platform asked us to slow down.
	ErrRateLimited = errors.New("rate limited")
)

type ChatTarget struct {
	ChatID   int64
	ThreadID int // forum topic thread id (0 if none)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender posts and edits plain-text messages.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
}
