// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// package bot implements the Telegram front end: command routing, dialog
// text and document delivery. All heavy lifting is delegated to the vpn
// service and the store; handlers only translate between Telegram updates
// and service calls. Raw command output and stderr never reach end users.
package bot

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/helpblocks/vpnbot/internal/db"
	"github.com/helpblocks/vpnbot/internal/i18n"
	"github.com/helpblocks/vpnbot/internal/logging"
	"github.com/helpblocks/vpnbot/internal/model"
	"github.com/helpblocks/vpnbot/internal/vpn"
)

// Sender is the slice of the Telegram API the handlers need. Tests swap in
// a recorder.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot routes Telegram updates to handlers.
type Bot struct {
	api      Sender
	store    db.Store
	svc      *vpn.Service
	adminIDs map[int64]bool
}

// New returns a Bot. adminIDs are Telegram IDs that get admin commands
// regardless of their stored role.
func New(api Sender, store db.Store, svc *vpn.Service, adminIDs []int64) *Bot {
	ids := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		ids[id] = true
	}
	return &Bot{api: api, store: store, svc: svc, adminIDs: ids}
}

// HandleUpdate processes one incoming update. Non-command messages and
// non-message updates are ignored.
func (b *Bot) HandleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || !msg.IsCommand() {
		return
	}

	switch msg.Command() {
	case "start":
		b.handleStart(msg)
	case "help":
		b.reply(msg.Chat.ID, i18n.T("bot.help"))
	case "status":
		b.handleStatus(msg)
	case "getconfig":
		b.handleGetConfig(msg)
	case "delconfig":
		b.handleDelConfig(msg)
	case "users":
		b.admin(msg, b.handleUsers)
	case "grant":
		b.admin(msg, b.handleGrant)
	case "news":
		b.admin(msg, b.handleNews)
	default:
		b.reply(msg.Chat.ID, i18n.T("bot.unknown_command"))
	}
}

// admin gates a handler behind the admin check.
func (b *Bot) admin(msg *tgbotapi.Message, handler func(*tgbotapi.Message)) {
	if !b.isAdmin(msg.From.ID) {
		b.reply(msg.Chat.ID, i18n.T("bot.admin_only"))
		return
	}
	handler(msg)
}

// isAdmin checks the configured admin list first, then the stored role.
func (b *Bot) isAdmin(telegramID int64) bool {
	if b.adminIDs[telegramID] {
		return true
	}
	user, err := b.store.GetUserByTelegramID(telegramID)
	if err != nil {
		logging.Errorf("bot: admin check for %d: %v", telegramID, err)
		return false
	}
	return user != nil && user.Role.IsAdmin()
}

// reply sends plain text to a chat. Send failures are logged; there is no
// sensible recovery inside a handler.
func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		logging.Errorf("bot: sending to chat %d: %v", chatID, err)
	}
}

// displayName picks the friendliest name available on the Telegram side.
func displayName(u *tgbotapi.User) string {
	if u.FirstName != "" {
		return u.FirstName
	}
	if u.UserName != "" {
		return u.UserName
	}
	return "there"
}

// userHandle formats a stored user for admin listings.
func userHandle(u model.User) string {
	parts := []string{u.String()}
	if u.FirstName != "" {
		parts = append(parts, u.FirstName)
	}
	if u.Role != model.RoleUser {
		parts = append(parts, "["+string(u.Role)+"]")
	}
	return strings.Join(parts, " ")
}
