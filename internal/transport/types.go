package transport

import "context"

// Transport names used in ChatTarget/Message.
const (
	Telegram = "telegram"
	Console  = "console"
)

type Update struct {
	Message *Message
}

type Message struct {
	Transport    string
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
}

// Target returns where replies to this message go.
func (m *Message) Target() ChatTarget {
	return ChatTarget{Transport: m.Transport, ChatID: m.ChatID, ThreadID: m.ThreadID}
}

type ChatTarget struct {
	Transport string
	ChatID    int64
	ThreadID  int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Adapter interface {
	Name() string
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
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
