// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	"github.com/helpblocks/vpnbot/internal/awg"
	"github.com/helpblocks/vpnbot/internal/db"
	"github.com/helpblocks/vpnbot/internal/vpn"
)

// trustHostCmd fetches the VPN server's host key, shows its fingerprint and
// pins it in the database. This is a required step before vpnbot talks to a
// new server.
var trustHostCmd = &cobra.Command{
	Use:   "trust-host [host]",
	Short: "Pins the VPN server's SSH host key in the database",
	Long: `Connects to the VPN server for the first time, retrieves its public
host key, and prompts to save it as trusted. Defaults to the configured
ssh.host when no host is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host := cfg.SSH.Host
		if len(args) == 1 {
			host = args[0]
		}
		if host == "" {
			return fmt.Errorf("no host given and ssh.host is not configured")
		}

		fmt.Printf("Retrieving host key from %s...\n", host)
		key, err := awg.FetchRemoteHostKey(host, cfg.SSH.Port)
		if err != nil {
			return err
		}

		fingerprint := ssh.FingerprintSHA256(key)
		fmt.Printf("\nThe authenticity of host '%s' can't be established.\n", host)
		fmt.Printf("%s key fingerprint is %s\n", key.Type(), fingerprint)

		if promptForConfirmation("Do you want to trust this host? (yes/no): ") != "yes" {
			return fmt.Errorf("host not trusted, aborting")
		}

		keyStr := string(ssh.MarshalAuthorizedKey(key))
		if err := db.GetStore().AddKnownHostKey(host, keyStr); err != nil {
			return fmt.Errorf("saving host key: %w", err)
		}
		fmt.Printf("Host '%s' (%s) added to known hosts.\n", host, key.Type())
		return nil
	},
}

// provisionCmd issues a config for a user from the command line, bypassing
// the bot. Useful for support cases and first-time setup checks.
var provisionCmd = &cobra.Command{
	Use:   "provision <telegram_id>",
	Short: "Issues a VPN config for a registered user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		telegramID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid telegram id %q", args[0])
		}

		store := db.GetStore()
		svc := vpn.NewService(store, newConnectFunc(cfg, store))

		path, issued, err := svc.IssueConfig(telegramID)
		if err != nil {
			return err
		}
		fmt.Printf("Issued %s (public key %s)\n", path, issued.PublicKey)

		copyURI, _ := cmd.Flags().GetBool("copy-uri")
		if !copyURI {
			return nil
		}
		text, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading issued config: %w", err)
		}
		if err := clipboard.WriteAll(awg.RenderVPNURI(string(text))); err != nil {
			return fmt.Errorf("copying vpn:// URI to clipboard: %w", err)
		}
		fmt.Println("vpn:// URI copied to clipboard.")
		return nil
	},
}

// revokeCmd removes a peer by its WireGuard public key.
var revokeCmd = &cobra.Command{
	Use:   "revoke <public_key>",
	Short: "Revokes an issued config by its WireGuard public key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		publicKey := args[0]

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("refusing to revoke without confirmation on a non-interactive stdin; pass --yes")
			}
			prompt := fmt.Sprintf("Revoke peer %s? (yes/no): ", publicKey)
			if promptForConfirmation(prompt) != "yes" {
				return fmt.Errorf("aborted")
			}
		}

		store := db.GetStore()
		svc := vpn.NewService(store, newConnectFunc(cfg, store))

		cfgRow, err := svc.RevokeByPublicKey(publicKey)
		if err != nil {
			return err
		}
		fmt.Printf("Revoked %s\n", cfgRow.FileName)
		return nil
	},
}

// snapshotCmd downloads the server-side interface config for inspection.
var snapshotCmd = &cobra.Command{
	Use:   "snapshot [output_dir]",
	Short: "Downloads the server's wg0.conf and clients table",
	Long: `Fetches the AmneziaWG interface config and the clients table from the
server over SFTP and writes them to the output directory (default ".").
Handy before manual surgery or for drift inspection.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir := "."
		if len(args) == 1 {
			outDir = args[0]
		}
		if err := os.MkdirAll(outDir, 0o700); err != nil {
			return err
		}

		store := db.GetStore()
		t := &awg.Transport{
			Host:      cfg.SSH.Host,
			User:      cfg.SSH.User,
			Port:      cfg.SSH.Port,
			KeyFile:   cfg.SSH.KeyFile,
			Container: cfg.SSH.Container,
		}
		if !cfg.SSH.InsecureHostKey {
			t.HostKeyCallback = awg.PinnedHostKeyCallback(store)
		}
		if err := t.Connect(); err != nil {
			return err
		}
		defer t.Close()

		for _, remote := range []string{"/opt/amnezia/awg/wg0.conf", "/opt/amnezia/awg/clientsTable"} {
			data, err := t.FetchFile(remote)
			if err != nil {
				return fmt.Errorf("fetching %s: %w", remote, err)
			}
			local := filepath.Join(outDir, filepath.Base(remote))
			if err := os.WriteFile(local, data, 0o600); err != nil {
				return err
			}
			fmt.Printf("Wrote %s (%d bytes)\n", local, len(data))
		}
		return nil
	},
}

// backupCmd exports the whole database to a compressed archive.
var backupCmd = &cobra.Command{
	Use:   "backup <file>",
	Short: "Exports users, subscriptions, configs and trust data to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := db.Backup(db.GetStore())
		if err != nil {
			return err
		}
		f, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := db.WriteBackup(data, f); err != nil {
			return err
		}
		fmt.Printf("Backup written to %s (%d users, %d configs)\n", args[0], len(data.Users), len(data.VPNConfigs))
		return nil
	},
}

// restoreCmd imports a backup archive into the current database.
var restoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Imports a backup archive into the database",
	Long: `Restores users, subscriptions, configs, referrals, trusted hosts and
the audit log from a backup archive. Existing rows with the same keys are
replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("refusing to restore without confirmation on a non-interactive stdin; pass --yes")
			}
			if promptForConfirmation("Restoring will overwrite matching rows. Continue? (yes/no): ") != "yes" {
				return fmt.Errorf("aborted")
			}
		}

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		if err := db.Restore(f, db.GetStore()); err != nil {
			return err
		}
		fmt.Println("Restore complete.")
		return nil
	},
}

// auditCmd prints the audit trail, newest first.
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Prints the audit trail of database mutations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := db.GetStore().GetAllAuditLogEntries()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}
		for _, e := range entries {
			fmt.Printf("%s  %-20s %s\n", e.Timestamp, e.Action, e.Details)
		}
		return nil
	},
}

// maintenanceCmd runs backend-specific database housekeeping.
var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Runs database housekeeping (vacuum, optimize, integrity check)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := db.RunDBMaintenance(cfg.Database.Type, cfg.Database.Dsn); err != nil {
			return err
		}
		fmt.Println("Maintenance complete.")
		return nil
	},
}

func init() {
	provisionCmd.Flags().Bool("copy-uri", false, "Copy the vpn:// URI of the issued config to the clipboard")
	auditCmd.Flags().IntP("limit", "n", 0, "Show only the most recent N entries")
	revokeCmd.Flags().BoolP("yes", "y", false, "Skip confirmation prompt")
	restoreCmd.Flags().BoolP("yes", "y", false, "Skip confirmation prompt")
}

// promptForConfirmation displays a prompt and reads a line from stdin.
func promptForConfirmation(prompt string) string {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	return strings.TrimSpace(strings.ToLower(answer))
}
