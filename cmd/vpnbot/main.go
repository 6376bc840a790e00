// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface for vpnbot using the Cobra
// library. The root command runs the Telegram bot; operator subcommands
// cover host trust, manual provisioning, snapshots, backups and database
// maintenance.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/helpblocks/vpnbot/buildvars"
	"github.com/helpblocks/vpnbot/config"
	"github.com/helpblocks/vpnbot/internal/awg"
	"github.com/helpblocks/vpnbot/internal/bot"
	"github.com/helpblocks/vpnbot/internal/db"
	"github.com/helpblocks/vpnbot/internal/i18n"
	"github.com/helpblocks/vpnbot/internal/logging"
	"github.com/helpblocks/vpnbot/internal/vpn"
)

var version = "dev" // this will be set by the linker

var (
	cfgFile string
	cfg     config.Config
)

// main is the entry point of the application.
func main() {
	if err := rootCmd.Execute(); err != nil {
		// The error is already printed by Cobra on failure.
		os.Exit(1)
	}
}

var rootCmd *cobra.Command

func init() {
	rootCmd = newRootCmd()
}

// newRootCmd creates and configures a new root cobra command. Fresh
// instances are also used for isolated testing.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vpnbot",
		Short: "vpnbot issues AmneziaWG VPN configs through a Telegram bot.",
		Long: `vpnbot provisions WireGuard/AmneziaWG peers on a remote server over SSH
and hands the rendered client configs out through a Telegram bot. The
database is the source of truth for users, subscriptions and issued
configs.

Running without a subcommand starts the bot.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadConfig(cmd, config.Defaults(), &cfgFile)
			if err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					return err
				}
				logging.Debugf("no config file found, using defaults, environment and flags")
			}
			logging.SetLevel(cfg.LogLevel)
			i18n.Init(cfg.Language)
			if err := db.InitDB(cfg.Database.Type, cfg.Database.Dsn); err != nil {
				return fmt.Errorf("initializing database: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot()
		},
	}

	cmd.AddCommand(trustHostCmd)
	cmd.AddCommand(provisionCmd)
	cmd.AddCommand(revokeCmd)
	cmd.AddCommand(snapshotCmd)
	cmd.AddCommand(backupCmd)
	cmd.AddCommand(restoreCmd)
	cmd.AddCommand(maintenanceCmd)
	cmd.AddCommand(auditCmd)

	cmd.Version = buildvars.VersionOrDefault(version)

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is vpnbot.yaml in the user or system config dir)")
	cmd.PersistentFlags().String("language", "", `bot language ("en", "ru")`)

	return cmd
}

// newConnectFunc builds the per-operation SSH dialer the vpn service uses.
// Host key verification is pinned against the known_hosts table unless the
// operator opted out.
func newConnectFunc(c config.Config, store db.Store) vpn.ConnectFunc {
	return func() (vpn.Provisioner, func(), error) {
		t := &awg.Transport{
			Host:      c.SSH.Host,
			User:      c.SSH.User,
			Port:      c.SSH.Port,
			KeyFile:   c.SSH.KeyFile,
			Container: c.SSH.Container,
		}
		if !c.SSH.InsecureHostKey {
			t.HostKeyCallback = awg.PinnedHostKeyCallback(store)
		}
		if err := t.Connect(); err != nil {
			return nil, nil, err
		}
		client := awg.NewClient(t, c.VPN.Endpoint, c.VPN.ConfigDir)
		return client, t.Close, nil
	}
}

// runBot starts the Telegram front end and blocks until interrupted.
func runBot() error {
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("no telegram token configured (telegram.token or VPNBOT_TELEGRAM_TOKEN)")
	}

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("connecting to telegram: %w", err)
	}
	logging.Infof("authorized as @%s", api.Self.UserName)

	store := db.GetStore()
	svc := vpn.NewService(store, newConnectFunc(cfg, store))
	b := bot.New(api, store, svc, cfg.Telegram.AdminIDs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telegram.WebhookURL != "" {
		listen := cfg.Telegram.WebhookListen
		if listen == "" {
			listen = ":8443"
		}
		return b.RunWebhook(ctx, api, cfg.Telegram.WebhookURL, listen)
	}
	return b.RunPolling(ctx, api)
}
