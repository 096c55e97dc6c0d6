package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/moveflow/vault-engine/internal/model"
)

const textFailed = "Sorry, something went wrong. Please try again later."

// SessionStore loads and saves conversation sessions.
type SessionStore interface {
	GetSession(ctx context.Context, conversationID int64) (model.Session, error)
	SaveSession(ctx context.Context, s model.Session) error
}

// Sender delivers replies.
type Sender interface {
	SendWithRetry(ctx context.Context, chatID int64, r Reply, maxRetries uint64) error
}

// Bot runs the handler over Telegram updates.
type Bot struct {
	tg       *TelegramClient
	sender   Sender
	sessions SessionStore
	handler  *Handler
}

// New creates a bot.
func New(tg *TelegramClient, sessions SessionStore, handler *Handler) *Bot {
	return &Bot{tg: tg, sender: tg, sessions: sessions, handler: handler}
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	slog.Info("telegram bot started")
	b.tg.Poll(ctx, b.HandleUpdate)
}

// HandleUpdate loads the chat's session, handles the message, saves the
// next session, and sends the reply.
func (b *Bot) HandleUpdate(ctx context.Context, u Update) {
	chatID := u.Message.Chat.ID
	reply := b.process(ctx, chatID, u.Message.Text)

	sendCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := b.sender.SendWithRetry(sendCtx, chatID, reply, 3); err != nil {
		slog.Error("telegram reply failed", "chat_id", chatID, "err", err)
	}
}

func (b *Bot) process(ctx context.Context, chatID int64, text string) Reply {
	sess, err := b.sessions.GetSession(ctx, chatID)
	if err != nil {
		slog.Error("load session", "chat_id", chatID, "err", err)
		return Reply{Text: textFailed}
	}

	reply, next := b.handler.Handle(ctx, sess, text)
	if err := b.sessions.SaveSession(ctx, next); err != nil {
		slog.Error("save session", "chat_id", chatID, "err", err)
		return Reply{Text: textFailed}
	}
	return reply
}
