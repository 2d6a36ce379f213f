package bot

import (
	"context"
	"log/slog"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/pkg/errors"

	"referral-bot/internal/session"
	"referral-bot/internal/workflow"
)

type Bot struct {
	Instance *telego.Bot
	Service  *workflow.Service
	Sessions session.Store

	admins   map[int64]bool
	username string
	log      *slog.Logger
}

func NewBot(token string, svc *workflow.Service, sessions session.Store, admins map[int64]bool, logger *slog.Logger) (*Bot, error) {
	tgBot, err := telego.NewBot(token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create bot")
	}

	return &Bot{
		Instance: tgBot,
		Service:  svc,
		Sessions: sessions,
		admins:   admins,
		log:      logger.With("component", "bot"),
	}, nil
}

func (b *Bot) isAdmin(id int64) bool {
	return b.admins[id]
}

// Deliver sends a plain message; it lets the workflow broadcast through the bot.
func (b *Bot) Deliver(ctx context.Context, userID int64, text string) error {
	_, err := b.Instance.SendMessage(ctx, tu.Message(tu.ID(userID), text))
	return err
}

// Start long-polls until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	me, err := b.Instance.GetMe(ctx)
	if err != nil {
		return errors.Wrap(err, "resolve bot username")
	}
	b.username = me.Username

	updates, err := b.Instance.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "start long polling")
	}

	handler, err := th.NewBotHandler(b.Instance, updates)
	if err != nil {
		return errors.Wrap(err, "create update handler")
	}

	handler.Use(b.recoverPanics)
	handler.Use(b.logUpdates)
	b.register(handler)

	b.log.Info("bot started", "username", b.username)

	go func() {
		<-ctx.Done()
		handler.Stop()
	}()
	handler.Start()
	return nil
}

func (b *Bot) logUpdates(ctx *th.Context, update telego.Update) error {
	if msg := update.Message; msg != nil && msg.From != nil {
		b.log.Debug("update received", "update_id", update.UpdateID, "user_id", msg.From.ID, "text", msg.Text)
	} else {
		b.log.Debug("update received", "update_id", update.UpdateID)
	}
	return ctx.Next(update)
}

func (b *Bot) recoverPanics(ctx *th.Context, update telego.Update) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("handler panic", "update_id", update.UpdateID, "panic", r)
			err = nil
		}
	}()
	return ctx.Next(update)
}

func (b *Bot) reply(ctx *th.Context, chatID int64, text string, markup telego.ReplyMarkup) {
	msg := tu.Message(tu.ID(chatID), text)
	if markup != nil {
		msg = msg.WithReplyMarkup(markup)
	}
	if _, err := ctx.Bot().SendMessage(ctx.Context(), msg); err != nil {
		b.log.Warn("send message failed", "chat_id", chatID, "error", err)
	}
}
