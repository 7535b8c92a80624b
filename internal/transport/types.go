package transport

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string // display name
	Text         string
	SentAt       time.Time
}

// Target returns the room the message was posted in.
func (m *Message) Target() ChatTarget {
	if m == nil {
		return ChatTarget{}
	}
	return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
}

// ChatTarget addresses a room (and optionally a thread inside it).
//
// The string form ("<chat>" or "<chat>/<thread>") is what the cron book persists as roomId.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 && t.ThreadID == 0 }

func (t ChatTarget) String() string {
	s := strconv.FormatInt(t.ChatID, 10)
	if t.ThreadID != 0 {
		s += "/" + strconv.Itoa(t.ThreadID)
	}
	return s
}

var ErrInvalidTarget = errors.New("invalid chat target")

// ParseChatTarget is the inverse of ChatTarget.String.
func ParseChatTarget(raw string) (ChatTarget, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ChatTarget{}, ErrInvalidTarget
	}
	chatPart, threadPart, hasThread := strings.Cut(s, "/")
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return ChatTarget{}, errors.Join(ErrInvalidTarget, err)
	}
	t := ChatTarget{ChatID: chatID}
	if hasThread {
		th, err := strconv.Atoi(threadPart)
		if err != nil {
			return ChatTarget{}, errors.Join(ErrInvalidTarget, err)
		}
		t.ThreadID = th
	}
	return t, nil
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	// Preformatted renders the text as a fixed-width block.
	Preformatted   bool
	DisablePreview bool
}

// Sender delivers text to a room.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
