// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package bot

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/helpblocks/vpnbot/internal/logging"
)

// RunPolling consumes updates via long polling until ctx is cancelled.
func (b *Bot) RunPolling(ctx context.Context, api *tgbotapi.BotAPI) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30

	updates := api.GetUpdatesChan(cfg)
	logging.Infof("bot: polling for updates")

	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(update)
		}
	}
}

// RunWebhook registers webhookURL with Telegram and serves updates on
// listenAddr until ctx is cancelled.
func (b *Bot) RunWebhook(ctx context.Context, api *tgbotapi.BotAPI, webhookURL, listenAddr string) error {
	wh, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		return fmt.Errorf("webhook config: %w", err)
	}
	if _, err := api.Request(wh); err != nil {
		return fmt.Errorf("registering webhook: %w", err)
	}

	info, err := api.GetWebhookInfo()
	if err != nil {
		return fmt.Errorf("webhook info: %w", err)
	}
	if info.LastErrorDate != 0 {
		logging.Warnf("bot: telegram reports webhook error: %s", info.LastErrorMessage)
	}

	updates := api.ListenForWebhook("/" + api.Token)
	srv := &http.Server{Addr: listenAddr}

	go func() {
		logging.Infof("bot: webhook listening on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("bot: webhook server: %v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(update)
		}
	}
}
