// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// package model defines the core data structures shared across vpnbot.
package model // import "github.com/helpblocks/vpnbot/internal/model"

import (
	"fmt"
	"time"
)

// Role is a user's authorization level inside the bot.
type Role string

const (
	RoleUser    Role = "user"
	RoleAdmin   Role = "admin"
	RoleFounder Role = "founder"
)

// IsAdmin reports whether the role grants access to admin commands.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleFounder
}

// User represents a registered Telegram user.
type User struct {
	ID         int
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	Role       Role
	CreatedAt  time.Time
}

// String returns the best human-readable handle for the user.
func (u User) String() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return fmt.Sprintf("id:%d", u.TelegramID)
}

// SubscriptionType identifies a subscription tier.
type SubscriptionType string

const (
	SubscriptionStandard SubscriptionType = "standard"
	SubscriptionPremium  SubscriptionType = "premium"
)

// DeviceLimits maps a subscription tier to the maximum number of VPN configs
// a user on that tier may hold at once.
var DeviceLimits = map[SubscriptionType]int{
	SubscriptionStandard: 3,
	SubscriptionPremium:  5,
}

// Subscription is a user's access entitlement. A nil EndDate means the
// subscription never expires.
type Subscription struct {
	ID        int
	UserID    int
	Type      SubscriptionType
	IsActive  bool
	StartDate time.Time
	EndDate   *time.Time
}

// Activate turns the subscription on starting now, expiring after the given
// duration. A zero duration makes it open-ended.
func (s *Subscription) Activate(d time.Duration) {
	s.IsActive = true
	s.StartDate = time.Now()
	if d == 0 {
		s.EndDate = nil
		return
	}
	end := s.StartDate.Add(d)
	s.EndDate = &end
}

// Extend pushes the expiry out by d. An expired or open-ended subscription
// restarts from now.
func (s *Subscription) Extend(d time.Duration) {
	base := time.Now()
	if s.EndDate != nil && s.EndDate.After(base) {
		base = *s.EndDate
	}
	end := base.Add(d)
	s.EndDate = &end
	s.IsActive = true
}

// Deactivate turns the subscription off immediately.
func (s *Subscription) Deactivate() {
	s.IsActive = false
	now := time.Now()
	s.EndDate = &now
}

// IsExpired reports whether the subscription no longer grants access.
func (s *Subscription) IsExpired() bool {
	if !s.IsActive {
		return true
	}
	return s.EndDate != nil && time.Now().After(*s.EndDate)
}

// RemainingDays returns the whole days left, or -1 for an open-ended
// subscription. An expired subscription reports 0.
func (s *Subscription) RemainingDays() int {
	if s.EndDate == nil {
		return -1
	}
	d := int(time.Until(*s.EndDate).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// DeviceLimit returns how many configs this subscription allows. Inactive or
// unknown tiers allow none.
func (s *Subscription) DeviceLimit() int {
	if s == nil || s.IsExpired() {
		return 0
	}
	return DeviceLimits[s.Type]
}

// VPNConfig is one issued WireGuard peer. PublicKey is the durable handle
// used to find and remove the peer on the server.
type VPNConfig struct {
	ID        int
	UserID    int
	FileName  string
	PublicKey string
	CreatedAt time.Time
}

// String returns a compact representation for logs.
func (c VPNConfig) String() string {
	return fmt.Sprintf("VPNConfig(%s, user_id=%d)", c.FileName, c.UserID)
}

// Referral records that one user invited another. A user can be invited at
// most once.
type Referral struct {
	ID        int
	InviterID int
	InvitedID int
	CreatedAt time.Time
}

// AuditLogEntry represents a single, immutable entry in the audit trail.
type AuditLogEntry struct {
	ID        int
	Timestamp string
	Username  string
	Action    string
	Details   string
}

// BackupData is the portable snapshot format for full database export and
// import.
type BackupData struct {
	Users         []User          `json:"users"`
	Subscriptions []Subscription  `json:"subscriptions"`
	VPNConfigs    []VPNConfig     `json:"vpn_configs"`
	Referrals     []Referral      `json:"referrals"`
	KnownHosts    []KnownHost     `json:"known_hosts"`
	AuditLog      []AuditLogEntry `json:"audit_log"`
}

// KnownHost pins a trusted SSH host key for one hostname.
type KnownHost struct {
	Hostname string
	Key      string
}
