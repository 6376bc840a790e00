// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cfg "github.com/helpblocks/vpnbot/config"
)

func TestLoadConfigDefaults(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	t.Chdir(tmp)

	got, err := cfg.LoadConfig(&cobra.Command{}, cfg.Defaults(), nil)
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			t.Fatalf("unexpected error type %T: %v", err, err)
		}
	}
	if got.Database.Type != "sqlite" {
		t.Errorf("default database type = %q, want sqlite", got.Database.Type)
	}
	if got.SSH.Port != 22 {
		t.Errorf("default ssh port = %d, want 22", got.SSH.Port)
	}
	if got.SSH.Container != "amnezia-awg" {
		t.Errorf("default container = %q", got.SSH.Container)
	}
	if got.Language != "en" {
		t.Errorf("default language = %q, want en", got.Language)
	}
}

func TestLoadConfigEnvVarParsing(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	t.Chdir(tmp)

	t.Setenv("VPNBOT_DATABASE_TYPE", "postgres")
	t.Setenv("VPNBOT_DATABASE_DSN", "postgresql://envuser@/envdb")
	t.Setenv("VPNBOT_SSH_HOST", "vpn.example.com")
	t.Setenv("VPNBOT_LANGUAGE", "ru")

	got, err := cfg.LoadConfig(&cobra.Command{}, cfg.Defaults(), nil)
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			t.Fatalf("unexpected error type %T: %v", err, err)
		}
	}

	if got.Database.Type != "postgres" {
		t.Errorf("database type = %q, want postgres from env", got.Database.Type)
	}
	if got.Database.Dsn != "postgresql://envuser@/envdb" {
		t.Errorf("dsn = %q, want env value", got.Database.Dsn)
	}
	if got.SSH.Host != "vpn.example.com" {
		t.Errorf("ssh host = %q, want env value", got.SSH.Host)
	}
	if got.Language != "ru" {
		t.Errorf("language = %q, want ru from env", got.Language)
	}
	// Endpoint falls back to the SSH host when unset.
	if got.VPN.Endpoint != "vpn.example.com" {
		t.Errorf("vpn endpoint = %q, want ssh host fallback", got.VPN.Endpoint)
	}
}

func TestLoadConfigFlagOverridesEnv(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	t.Chdir(tmp)

	t.Setenv("VPNBOT_LANGUAGE", "ru")

	cmd := &cobra.Command{}
	cmd.Flags().String("language", "", "language")
	if err := cmd.Flags().Set("language", "en"); err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}

	got, err := cfg.LoadConfig(cmd, cfg.Defaults(), nil)
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			t.Fatalf("unexpected error type %T: %v", err, err)
		}
	}
	if got.Language != "en" {
		t.Errorf("language = %q, want en from flag over env", got.Language)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	t.Chdir(tmp)

	content := "ssh:\n  host: file.example.com\n  container: awg0\ntelegram:\n  token: \"123:abc\"\n"
	path := filepath.Join(tmp, "explicit.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	got, err := cfg.LoadConfig(&cobra.Command{}, cfg.Defaults(), &path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.SSH.Host != "file.example.com" {
		t.Errorf("ssh host = %q, want file value", got.SSH.Host)
	}
	if got.SSH.Container != "awg0" {
		t.Errorf("container = %q, want file value", got.SSH.Container)
	}
	if got.Telegram.Token != "123:abc" {
		t.Errorf("token = %q, want file value", got.Telegram.Token)
	}
	// Values absent from the file keep their defaults.
	if got.SSH.Port != 22 {
		t.Errorf("ssh port = %d, want default 22", got.SSH.Port)
	}
}

func TestWriteConfigFile(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)

	c := &cfg.Config{}
	c.Database.Type = "mysql"
	c.Database.Dsn = "user@tcp(localhost:3306)/vpnbot"
	c.Language = "ru"

	if err := cfg.WriteConfigFile(c, false); err != nil {
		t.Fatalf("WriteConfigFile: %v", err)
	}

	path, err := cfg.GetConfigPath(false)
	if err != nil {
		t.Fatalf("GetConfigPath: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written config: %v", err)
	}
	if !strings.Contains(string(data), "mysql") || !strings.Contains(string(data), "ru") {
		t.Errorf("written config missing expected values:\n%s", data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}
}
