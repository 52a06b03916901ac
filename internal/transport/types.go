package transport

import (
	"context"
	"errors"
)

const (
	ParseModeMarkdown = "Markdown"
	ParseModeHTML     = "HTML"
)

// ChatKind describes where an incoming message came from.
type ChatKind string

const (
	ChatPrivate ChatKind = "private"
	ChatGroup   ChatKind = "group"
	ChatChannel ChatKind = "channel"
	ChatUnknown ChatKind = "unknown"
)

// Message is an incoming chat message, reduced to what echo-id needs.
type Message struct {
	ID     int
	ChatID int64
	// Kind and Title describe the chat the message was received in.
	Kind  ChatKind
	Title string
	Text  string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// MaxTextLen is the longest text, in runes, that fits in one message.
// SendText splits longer text; EditText rejects it with ErrTooLong.
const MaxTextLen = 4000

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender is the dispatch boundary: send a new message or replace the text of an existing one.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
}

// Adapter is a Sender that can also receive messages.
type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error
}

// Errors a Sender may wrap so callers can classify failures with errors.Is.
var (
	// ErrBadMarkup means the text could not be parsed in the requested parse mode.
	ErrBadMarkup = errors.New("message markup rejected")
	// ErrNotModified means an edit carried the same text the message already has.
	ErrNotModified = errors.New("message not modified")
	// ErrTooLong means an edit would not fit in one message.
	ErrTooLong = errors.New("message text too long")
)
