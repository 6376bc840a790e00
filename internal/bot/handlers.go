// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package bot

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/helpblocks/vpnbot/internal/db"
	"github.com/helpblocks/vpnbot/internal/i18n"
	"github.com/helpblocks/vpnbot/internal/logging"
	"github.com/helpblocks/vpnbot/internal/model"
	"github.com/helpblocks/vpnbot/internal/vpn"
)

// referralPrefix marks a /start deep-link payload carrying the inviter's
// Telegram ID (t.me/<bot>?start=ref<id>).
const referralPrefix = "ref"

// handleStart registers the user and records a referral when the deep link
// carries one. Repeating /start is harmless.
func (b *Bot) handleStart(msg *tgbotapi.Message) {
	from := msg.From

	known, err := b.store.GetUserByTelegramID(from.ID)
	if err != nil {
		logging.Errorf("bot: /start lookup for %d: %v", from.ID, err)
		b.reply(msg.Chat.ID, i18n.T("bot.error_generic"))
		return
	}

	user, err := b.store.AddUser(from.ID, from.UserName, from.FirstName, from.LastName)
	if err != nil {
		logging.Errorf("bot: registering %d: %v", from.ID, err)
		b.reply(msg.Chat.ID, i18n.T("bot.error_generic"))
		return
	}

	if known != nil {
		b.reply(msg.Chat.ID, i18n.T("bot.welcome_back", displayName(from)))
		return
	}

	b.recordReferral(msg.CommandArguments(), user)
	b.reply(msg.Chat.ID, i18n.T("bot.welcome", displayName(from)))
}

// recordReferral links a freshly registered user to their inviter. Referral
// failures never break registration.
func (b *Bot) recordReferral(payload string, invited *model.User) {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, referralPrefix) {
		return
	}
	inviterTelegramID, err := strconv.ParseInt(strings.TrimPrefix(payload, referralPrefix), 10, 64)
	if err != nil || inviterTelegramID == invited.TelegramID {
		return
	}
	inviter, err := b.store.GetUserByTelegramID(inviterTelegramID)
	if err != nil || inviter == nil {
		return
	}
	if err := b.store.AddReferral(inviter.ID, invited.ID); err != nil && !errors.Is(err, db.ErrDuplicate) {
		logging.Warnf("bot: recording referral %d->%d: %v", inviter.ID, invited.ID, err)
	}
}

func (b *Bot) handleStatus(msg *tgbotapi.Message) {
	text, err := b.svc.SubscriptionSummary(msg.From.ID)
	if err != nil {
		if errors.Is(err, vpn.ErrNotRegistered) {
			b.reply(msg.Chat.ID, i18n.T("bot.not_registered"))
			return
		}
		logging.Errorf("bot: /status for %d: %v", msg.From.ID, err)
		b.reply(msg.Chat.ID, i18n.T("bot.error_generic"))
		return
	}
	b.reply(msg.Chat.ID, text)
}

// handleGetConfig provisions a config, ships it as a document and removes
// the local artifact. The artifact only exists for the duration of the send.
func (b *Bot) handleGetConfig(msg *tgbotapi.Message) {
	path, cfg, err := b.svc.IssueConfig(msg.From.ID)
	if err != nil {
		b.reply(msg.Chat.ID, issueErrorText(err, msg.From.ID))
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			logging.Warnf("bot: removing artifact %s: %v", path, err)
		}
	}()

	doc := tgbotapi.NewDocument(msg.Chat.ID, tgbotapi.FilePath(path))
	doc.Caption = i18n.T("config.ready")
	if _, err := b.api.Send(doc); err != nil {
		logging.Errorf("bot: sending config %s to %d: %v", cfg.FileName, msg.From.ID, err)
		b.reply(msg.Chat.ID, i18n.T("bot.error_generic"))
	}
}

// issueErrorText maps service errors to user-facing dialog. Everything
// unexpected is logged and collapsed into a generic apology.
func issueErrorText(err error, telegramID int64) string {
	var limitErr *vpn.LimitError
	switch {
	case errors.Is(err, vpn.ErrNotRegistered):
		return i18n.T("bot.not_registered")
	case errors.Is(err, vpn.ErrNoSubscription):
		return i18n.T("config.no_subscription")
	case errors.As(err, &limitErr):
		return i18n.T("config.limit_reached", limitErr.Max)
	default:
		logging.Errorf("bot: issuing config for %d: %v", telegramID, err)
		return i18n.T("bot.error_generic")
	}
}

func (b *Bot) handleDelConfig(msg *tgbotapi.Message) {
	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		text, err := b.svc.SubscriptionSummary(msg.From.ID)
		if err != nil {
			b.reply(msg.Chat.ID, issueErrorText(err, msg.From.ID))
			return
		}
		b.reply(msg.Chat.ID, i18n.T("config.pick")+"\n"+text)
		return
	}

	n, err := strconv.Atoi(arg)
	if err != nil {
		b.reply(msg.Chat.ID, i18n.T("config.not_found"))
		return
	}

	if _, err := b.svc.RevokeConfig(msg.From.ID, n); err != nil {
		switch {
		case errors.Is(err, vpn.ErrNotRegistered):
			b.reply(msg.Chat.ID, i18n.T("bot.not_registered"))
		case errors.Is(err, db.ErrNotFound):
			b.reply(msg.Chat.ID, i18n.T("config.not_found"))
		default:
			logging.Errorf("bot: revoking config %d for %d: %v", n, msg.From.ID, err)
			b.reply(msg.Chat.ID, i18n.T("bot.error_generic"))
		}
		return
	}
	b.reply(msg.Chat.ID, i18n.T("config.deleted"))
}

func (b *Bot) handleUsers(msg *tgbotapi.Message) {
	users, err := b.store.GetAllUsers()
	if err != nil {
		logging.Errorf("bot: /users: %v", err)
		b.reply(msg.Chat.ID, i18n.T("bot.error_generic"))
		return
	}
	var lines []string
	lines = append(lines, i18n.T("admin.users_header"))
	for _, u := range users {
		lines = append(lines, userHandle(u))
	}
	b.reply(msg.Chat.ID, strings.Join(lines, "\n"))
}

// handleGrant activates a subscription: /grant <telegram_id> <tier> <days>.
// Zero days grants an open-ended subscription.
func (b *Bot) handleGrant(msg *tgbotapi.Message) {
	fields := strings.Fields(msg.CommandArguments())
	if len(fields) != 3 {
		b.reply(msg.Chat.ID, i18n.T("admin.grant_usage"))
		return
	}
	telegramID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		b.reply(msg.Chat.ID, i18n.T("admin.grant_usage"))
		return
	}
	tier := model.SubscriptionType(fields[1])
	if _, ok := model.DeviceLimits[tier]; !ok {
		b.reply(msg.Chat.ID, i18n.T("admin.grant_usage"))
		return
	}
	days, err := strconv.Atoi(fields[2])
	if err != nil || days < 0 {
		b.reply(msg.Chat.ID, i18n.T("admin.grant_usage"))
		return
	}

	user, err := b.store.GetUserByTelegramID(telegramID)
	if err != nil {
		logging.Errorf("bot: /grant lookup: %v", err)
		b.reply(msg.Chat.ID, i18n.T("bot.error_generic"))
		return
	}
	if user == nil {
		b.reply(msg.Chat.ID, i18n.T("admin.grant_no_user"))
		return
	}

	sub, err := b.store.GetSubscriptionForUser(user.ID)
	if err != nil {
		logging.Errorf("bot: /grant subscription lookup: %v", err)
		b.reply(msg.Chat.ID, i18n.T("bot.error_generic"))
		return
	}
	if sub == nil {
		sub = &model.Subscription{UserID: user.ID}
	}
	sub.Type = tier
	sub.Activate(time.Duration(days) * 24 * time.Hour)
	if err := b.store.SaveSubscription(sub); err != nil {
		logging.Errorf("bot: /grant save: %v", err)
		b.reply(msg.Chat.ID, i18n.T("bot.error_generic"))
		return
	}
	b.reply(msg.Chat.ID, i18n.T("admin.grant_done"))
}

// handleNews broadcasts a message to every registered user.
func (b *Bot) handleNews(msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.CommandArguments())
	if text == "" {
		b.reply(msg.Chat.ID, i18n.T("admin.news_usage"))
		return
	}
	users, err := b.store.GetAllUsers()
	if err != nil {
		logging.Errorf("bot: /news: %v", err)
		b.reply(msg.Chat.ID, i18n.T("bot.error_generic"))
		return
	}
	sent := 0
	for _, u := range users {
		if _, err := b.api.Send(tgbotapi.NewMessage(u.TelegramID, text)); err != nil {
			logging.Warnf("bot: broadcast to %d: %v", u.TelegramID, err)
			continue
		}
		sent++
	}
	b.reply(msg.Chat.ID, i18n.T("admin.news_sent", sent))
}
