package bot

import (
	"context"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"

	"referral-bot/internal/session"
	"referral-bot/internal/workflow"
)

const (
	btnBalance   = "Баланс"
	btnReferrals = "Мои рефералы"
	btnLink      = "Реферальная ссылка"
	btnTier      = "Мой уровень"
	btnAdmin     = "Админ-панель"
	btnCredit    = "Добавить баланс"
	btnDebit     = "Списать баланс"
	btnBroadcast = "Рассылка"
	btnMainMenu  = "Главное меню"
)

var queryButtons = map[string]workflow.EventKind{
	btnBalance:   workflow.EventQueryBalance,
	btnReferrals: workflow.EventQueryReferrals,
	btnLink:      workflow.EventQueryLink,
	btnTier:      workflow.EventQueryTier,
}

var adminButtons = map[string]session.State{
	btnCredit:    session.AwaitingCredit,
	btnDebit:     session.AwaitingDebit,
	btnBroadcast: session.AwaitingBroadcast,
}

var stateEvents = map[session.State]workflow.EventKind{
	session.AwaitingCredit:    workflow.EventAdminCredit,
	session.AwaitingDebit:     workflow.EventAdminDebit,
	session.AwaitingBroadcast: workflow.EventAdminBroadcast,
}

func (b *Bot) register(handler *th.BotHandler) {
	handler.Handle(b.handleStart, th.CommandEqual("start"))

	for text, kind := range queryButtons {
		handler.Handle(b.handleQuery(kind), th.TextEqual(text))
	}

	handler.Handle(b.handleAdminPanel, th.TextEqual(btnAdmin))
	for text, state := range adminButtons {
		handler.Handle(b.handleAdminPrompt(state), th.TextEqual(text))
	}
	handler.Handle(b.handleMainMenu, th.TextEqual(btnMainMenu))

	handler.Handle(b.handleText, th.AnyMessageWithText())
}

func (b *Bot) handleStart(ctx *th.Context, update telego.Update) error {
	msg := update.Message
	if msg.From == nil {
		return nil
	}
	userID := msg.From.ID
	admin := b.isAdmin(userID)

	if err := b.Sessions.Clear(ctx.Context(), userID); err != nil {
		b.log.Warn("clear session failed", "user_id", userID, "error", err)
	}

	res, err := b.Service.Handle(ctx.Context(), workflow.Event{
		Kind:        workflow.EventStart,
		UserID:      userID,
		DisplayName: displayName(msg.From),
		ReferralArg: commandArg(msg.Text),
		IsAdmin:     admin,
	})
	if err != nil {
		b.log.Error("start failed", "user_id", userID, "error", err)
		b.reply(ctx, msg.Chat.ID, textUnavailable, nil)
		return nil
	}

	for _, line := range startMessages(res, b.username) {
		b.reply(ctx, msg.Chat.ID, line, nil)
	}
	b.reply(ctx, msg.Chat.ID, textChooseAction, mainMenu(admin))

	if reg := res.Registration; reg != nil && reg.Linked {
		b.notifyReferrer(ctx.Context(), reg)
	}
	return nil
}

// notifyReferrer is best effort; the credit is already committed.
func (b *Bot) notifyReferrer(ctx context.Context, reg *workflow.Registration) {
	if err := b.Deliver(ctx, reg.ReferrerID, referrerNotice(reg)); err != nil {
		b.log.Warn("referrer notification failed", "referrer_id", reg.ReferrerID, "error", err)
	}
}

func (b *Bot) handleQuery(kind workflow.EventKind) th.Handler {
	return func(ctx *th.Context, update telego.Update) error {
		msg := update.Message
		if msg.From == nil {
			return nil
		}

		res, err := b.Service.Handle(ctx.Context(), workflow.Event{
			Kind:        kind,
			UserID:      msg.From.ID,
			DisplayName: displayName(msg.From),
			IsAdmin:     b.isAdmin(msg.From.ID),
		})
		if err != nil {
			b.log.Error("query failed", "user_id", msg.From.ID, "event", kind.String(), "error", err)
			b.reply(ctx, msg.Chat.ID, textUnavailable, nil)
			return nil
		}

		b.reply(ctx, msg.Chat.ID, renderResult(res, b.username), nil)
		return nil
	}
}

func (b *Bot) handleAdminPanel(ctx *th.Context, update telego.Update) error {
	msg := update.Message
	if msg.From == nil {
		return nil
	}
	if !b.isAdmin(msg.From.ID) {
		b.reply(ctx, msg.Chat.ID, rejectionText(workflow.RejectionUnauthorized), nil)
		return nil
	}

	b.reply(ctx, msg.Chat.ID, textAdminPanel, adminMenu())
	return nil
}

func (b *Bot) handleAdminPrompt(state session.State) th.Handler {
	return func(ctx *th.Context, update telego.Update) error {
		msg := update.Message
		if msg.From == nil {
			return nil
		}
		userID := msg.From.ID
		if !b.isAdmin(userID) {
			b.reply(ctx, msg.Chat.ID, rejectionText(workflow.RejectionUnauthorized), nil)
			return nil
		}

		if err := b.Sessions.Set(ctx.Context(), userID, state); err != nil {
			b.log.Error("set session failed", "user_id", userID, "state", string(state), "error", err)
			b.reply(ctx, msg.Chat.ID, textUnavailable, nil)
			return nil
		}

		b.reply(ctx, msg.Chat.ID, promptFor(state), nil)
		return nil
	}
}

func (b *Bot) handleMainMenu(ctx *th.Context, update telego.Update) error {
	msg := update.Message
	if msg.From == nil {
		return nil
	}

	if err := b.Sessions.Clear(ctx.Context(), msg.From.ID); err != nil {
		b.log.Warn("clear session failed", "user_id", msg.From.ID, "error", err)
	}
	b.reply(ctx, msg.Chat.ID, textChooseAction, mainMenu(b.isAdmin(msg.From.ID)))
	return nil
}

// handleText only acts on plain text when an admin prompt is pending.
func (b *Bot) handleText(ctx *th.Context, update telego.Update) error {
	msg := update.Message
	if msg.From == nil || strings.HasPrefix(msg.Text, "/") {
		return nil
	}
	userID := msg.From.ID

	state, err := b.Sessions.Get(ctx.Context(), userID)
	if err != nil {
		b.log.Error("get session failed", "user_id", userID, "error", err)
		return nil
	}
	kind, ok := stateEvents[state]
	if !ok {
		return nil
	}

	if err := b.Sessions.Clear(ctx.Context(), userID); err != nil {
		b.log.Warn("clear session failed", "user_id", userID, "error", err)
	}

	res, err := b.Service.Handle(ctx.Context(), workflow.Event{
		Kind:         kind,
		UserID:       userID,
		DisplayName:  displayName(msg.From),
		AdminPayload: msg.Text,
		IsAdmin:      b.isAdmin(userID),
	})
	if err != nil {
		b.log.Error("admin action failed", "user_id", userID, "event", kind.String(), "error", err)
		b.reply(ctx, msg.Chat.ID, textUnavailable, adminMenu())
		return nil
	}

	b.reply(ctx, msg.Chat.ID, renderResult(res, b.username), adminMenu())
	return nil
}
