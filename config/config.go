// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config provides configuration loading, merging, and persistence
// helpers for vpnbot. It uses Viper for file/env/flag parsing and exposes
// utility functions to read/write configuration files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	SSH      SSHConfig      `mapstructure:"ssh" yaml:"ssh"`
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
	VPN      VPNConfig      `mapstructure:"vpn" yaml:"vpn"`
	Language string         `mapstructure:"language" yaml:"language"`
	LogLevel string         `mapstructure:"log_level" yaml:"log_level"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
	Dsn  string `mapstructure:"dsn" yaml:"dsn"`
}

// SSHConfig describes how to reach the VPN server and its container.
type SSHConfig struct {
	Host      string `mapstructure:"host" yaml:"host"`
	Port      int    `mapstructure:"port" yaml:"port"`
	User      string `mapstructure:"user" yaml:"user"`
	KeyFile   string `mapstructure:"key_file" yaml:"key_file"`
	Container string `mapstructure:"container" yaml:"container"`
	// InsecureHostKey disables host key verification entirely. Intended for
	// first-contact setups; prefer `vpnbot trust-host`.
	InsecureHostKey bool `mapstructure:"insecure_host_key" yaml:"insecure_host_key"`
}

// TelegramConfig configures the bot transport.
type TelegramConfig struct {
	Token    string  `mapstructure:"token" yaml:"token"`
	AdminIDs []int64 `mapstructure:"admin_ids" yaml:"admin_ids"`
	// WebhookURL switches the bot from long polling to webhook mode.
	WebhookURL    string `mapstructure:"webhook_url" yaml:"webhook_url"`
	WebhookListen string `mapstructure:"webhook_listen" yaml:"webhook_listen"`
}

// VPNConfig holds client-facing provisioning settings.
type VPNConfig struct {
	// Endpoint is the address written into issued client configs. Defaults
	// to ssh.host when empty.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// ConfigDir receives rendered config artifacts before they are sent.
	ConfigDir string `mapstructure:"config_dir" yaml:"config_dir"`
}

// Defaults returns the default configuration values keyed for viper.
func Defaults() map[string]any {
	return map[string]any{
		"database.type":  "sqlite",
		"database.dsn":   "./vpnbot.db",
		"ssh.port":       22,
		"ssh.user":       "root",
		"ssh.container":  "amnezia-awg",
		"vpn.config_dir": "./configs",
		"language":       "en",
		"log_level":      "info",
	}
}

// GetConfigPath returns the full path for the configuration file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Vpnbot")
		default: // Linux, macOS, etc.
			configDir = "/etc/vpnbot"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "vpnbot")
	}

	return filepath.Join(configDir, "vpnbot.yaml"), nil
}

// LoadConfig resolves configuration with the usual precedence: CLI flags over
// environment (VPNBOT_ prefix) over config file over defaults. A missing
// config file is reported as viper.ConfigFileNotFoundError but the returned
// config is still populated from the other sources.
func LoadConfig(cmd *cobra.Command, defaults map[string]any, explicitFile *string) (Config, error) {
	var c Config
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("vpnbot")
	v.SetConfigType("yaml")

	// An explicit --config path has the highest precedence for file-based
	// configuration.
	if explicitFile != nil && *explicitFile != "" {
		v.SetConfigFile(*explicitFile)
	}

	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	var notFound error
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
		notFound = err
	}

	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("vpnbot")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return c, err
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}

	if c.VPN.Endpoint == "" {
		c.VPN.Endpoint = c.SSH.Host
	}

	return c, notFound
}

// WriteConfigFile persists the configuration as YAML to the user or system
// location. The file may contain secrets, so it is written 0600.
func WriteConfigFile(c *Config, system bool) error {
	path, err := GetConfigPath(system)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	return os.WriteFile(path, data, 0600)
}
