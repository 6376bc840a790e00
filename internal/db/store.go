// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import "github.com/helpblocks/vpnbot/internal/model"

// Store defines the interface for all database operations in vpnbot.
// This allows for multiple database backends to be implemented.
type Store interface {
	// User methods
	AddUser(telegramID int64, username, firstName, lastName string) (*model.User, error)
	GetUserByTelegramID(telegramID int64) (*model.User, error)
	GetAllUsers() ([]model.User, error)
	UpdateUserRole(id int, role model.Role) error

	// Subscription methods
	GetSubscriptionForUser(userID int) (*model.Subscription, error)
	SaveSubscription(sub *model.Subscription) error

	// VPN config methods
	AddVPNConfig(userID int, fileName, publicKey string) (int, error)
	GetVPNConfigsForUser(userID int) ([]model.VPNConfig, error)
	GetVPNConfigByPublicKey(publicKey string) (*model.VPNConfig, error)
	DeleteVPNConfig(id int) error

	// Referral methods
	AddReferral(inviterID, invitedID int) error
	CountReferrals(inviterID int) (int, error)

	// Host key methods
	GetKnownHostKey(hostname string) (string, error)
	AddKnownHostKey(hostname, key string) error

	// Audit log methods
	LogAction(action string, details string) error
	GetAllAuditLogEntries() ([]model.AuditLogEntry, error)

	// Backup methods
	ExportDataForBackup() (*model.BackupData, error)
	ImportDataFromBackup(data *model.BackupData) error
}
