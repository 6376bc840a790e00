// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/helpblocks/vpnbot/internal/model"
	"github.com/uptrace/bun"
)

// UserModel maps the `users` table for Bun queries.
type UserModel struct {
	bun.BaseModel `bun:"table:users"`
	ID            int            `bun:"id,pk,autoincrement"`
	TelegramID    int64          `bun:"telegram_id"`
	Username      sql.NullString `bun:"username"`
	FirstName     sql.NullString `bun:"first_name"`
	LastName      sql.NullString `bun:"last_name"`
	Role          string         `bun:"role"`
	CreatedAt     time.Time      `bun:"created_at"`
}

// SubscriptionModel maps the `subscriptions` table.
type SubscriptionModel struct {
	bun.BaseModel `bun:"table:subscriptions"`
	ID            int          `bun:"id,pk,autoincrement"`
	UserID        int          `bun:"user_id"`
	Type          string       `bun:"type"`
	IsActive      bool         `bun:"is_active"`
	StartDate     time.Time    `bun:"start_date"`
	EndDate       sql.NullTime `bun:"end_date"`
}

// VPNConfigModel maps the `vpn_configs` table.
type VPNConfigModel struct {
	bun.BaseModel `bun:"table:vpn_configs"`
	ID            int       `bun:"id,pk,autoincrement"`
	UserID        int       `bun:"user_id"`
	FileName      string    `bun:"file_name"`
	PublicKey     string    `bun:"public_key"`
	CreatedAt     time.Time `bun:"created_at"`
}

// ReferralModel maps the `referrals` table.
type ReferralModel struct {
	bun.BaseModel `bun:"table:referrals"`
	ID            int       `bun:"id,pk,autoincrement"`
	InviterID     int       `bun:"inviter_id"`
	InvitedID     int       `bun:"invited_id"`
	CreatedAt     time.Time `bun:"created_at"`
}

// KnownHostModel maps `known_hosts`.
type KnownHostModel struct {
	bun.BaseModel `bun:"table:known_hosts"`
	Hostname      string `bun:"hostname,pk"`
	Key           string `bun:"key"`
}

// AuditLogModel maps the `audit_log` table.
type AuditLogModel struct {
	bun.BaseModel `bun:"table:audit_log"`
	ID            int    `bun:"id,pk,autoincrement"`
	Timestamp     string `bun:"timestamp"`
	Username      string `bun:"username"`
	Action        string `bun:"action"`
	Details       string `bun:"details"`
}

// --- Mapping helpers (centralized conversions) ---

func userModelToModel(u UserModel) model.User {
	m := model.User{
		ID:         u.ID,
		TelegramID: u.TelegramID,
		Role:       model.Role(u.Role),
		CreatedAt:  u.CreatedAt,
	}
	if u.Username.Valid {
		m.Username = u.Username.String
	}
	if u.FirstName.Valid {
		m.FirstName = u.FirstName.String
	}
	if u.LastName.Valid {
		m.LastName = u.LastName.String
	}
	return m
}

func subscriptionModelToModel(s SubscriptionModel) model.Subscription {
	m := model.Subscription{
		ID:        s.ID,
		UserID:    s.UserID,
		Type:      model.SubscriptionType(s.Type),
		IsActive:  s.IsActive,
		StartDate: s.StartDate,
	}
	if s.EndDate.Valid {
		end := s.EndDate.Time
		m.EndDate = &end
	}
	return m
}

func vpnConfigModelToModel(c VPNConfigModel) model.VPNConfig {
	return model.VPNConfig{
		ID:        c.ID,
		UserID:    c.UserID,
		FileName:  c.FileName,
		PublicKey: c.PublicKey,
		CreatedAt: c.CreatedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// bunStore implements Store on top of a *bun.DB. All three backends share
// it; the dialect differences live entirely in Bun and the migrations.
type bunStore struct {
	bun *bun.DB
}

// SqliteStore is the SQLite implementation of the Store interface.
type SqliteStore struct{ bunStore }

// PostgresStore is the PostgreSQL implementation of the Store interface.
type PostgresStore struct{ bunStore }

// MySQLStore is the MySQL implementation of the Store interface.
type MySQLStore struct{ bunStore }

// AddUser registers a Telegram user. Registering an already-known telegram_id
// returns the existing row unchanged, so /start is safe to repeat.
func (s *bunStore) AddUser(telegramID int64, username, firstName, lastName string) (*model.User, error) {
	ctx := context.Background()

	existing, err := s.GetUserByTelegramID(telegramID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	um := &UserModel{
		TelegramID: telegramID,
		Username:   nullString(username),
		FirstName:  nullString(firstName),
		LastName:   nullString(lastName),
		Role:       string(model.RoleUser),
		CreatedAt:  time.Now(),
	}
	if _, err := s.bun.NewInsert().Model(um).Exec(ctx); err != nil {
		return nil, MapDBError(err)
	}
	_ = s.LogAction("ADD_USER", fmt.Sprintf("telegram_id: %d, username: '%s'", telegramID, username))
	u := userModelToModel(*um)
	return &u, nil
}

// GetUserByTelegramID returns the user with the given telegram_id, or nil
// when no such user exists.
func (s *bunStore) GetUserByTelegramID(telegramID int64) (*model.User, error) {
	ctx := context.Background()
	var um UserModel
	err := s.bun.NewSelect().Model(&um).Where("telegram_id = ?", telegramID).Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	u := userModelToModel(um)
	return &u, nil
}

// GetAllUsers returns all registered users ordered by creation time.
func (s *bunStore) GetAllUsers() ([]model.User, error) {
	ctx := context.Background()
	var um []UserModel
	if err := s.bun.NewSelect().Model(&um).OrderExpr("created_at, id").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.User, 0, len(um))
	for _, u := range um {
		out = append(out, userModelToModel(u))
	}
	return out, nil
}

// UpdateUserRole changes a user's role.
func (s *bunStore) UpdateUserRole(id int, role model.Role) error {
	ctx := context.Background()
	res, err := s.bun.NewUpdate().Model((*UserModel)(nil)).
		Set("role = ?", string(role)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	_ = s.LogAction("UPDATE_USER_ROLE", fmt.Sprintf("user_id: %d, new_role: '%s'", id, role))
	return nil
}

// GetSubscriptionForUser returns the user's subscription, or nil when the
// user has none.
func (s *bunStore) GetSubscriptionForUser(userID int) (*model.Subscription, error) {
	ctx := context.Background()
	var sm SubscriptionModel
	err := s.bun.NewSelect().Model(&sm).Where("user_id = ?", userID).Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	sub := subscriptionModelToModel(sm)
	return &sub, nil
}

// SaveSubscription inserts or updates the user's subscription. Each user has
// at most one; the user_id decides whether this is an insert or an update.
func (s *bunStore) SaveSubscription(sub *model.Subscription) error {
	ctx := context.Background()

	sm := SubscriptionModel{
		ID:        sub.ID,
		UserID:    sub.UserID,
		Type:      string(sub.Type),
		IsActive:  sub.IsActive,
		StartDate: sub.StartDate,
	}
	if sub.EndDate != nil {
		sm.EndDate = sql.NullTime{Time: *sub.EndDate, Valid: true}
	}

	existing, err := s.GetSubscriptionForUser(sub.UserID)
	if err != nil {
		return err
	}
	if existing == nil {
		if _, err := s.bun.NewInsert().Model(&sm).Exec(ctx); err != nil {
			return MapDBError(err)
		}
		sub.ID = sm.ID
	} else {
		sm.ID = existing.ID
		if _, err := s.bun.NewUpdate().Model(&sm).WherePK().Exec(ctx); err != nil {
			return err
		}
		sub.ID = existing.ID
	}
	_ = s.LogAction("SAVE_SUBSCRIPTION", fmt.Sprintf("user_id: %d, type: '%s', active: %t", sub.UserID, sub.Type, sub.IsActive))
	return nil
}

// AddVPNConfig records an issued config and returns its ID.
func (s *bunStore) AddVPNConfig(userID int, fileName, publicKey string) (int, error) {
	ctx := context.Background()
	cm := &VPNConfigModel{
		UserID:    userID,
		FileName:  fileName,
		PublicKey: publicKey,
		CreatedAt: time.Now(),
	}
	if _, err := s.bun.NewInsert().Model(cm).Exec(ctx); err != nil {
		return 0, MapDBError(err)
	}
	_ = s.LogAction("ADD_VPN_CONFIG", fmt.Sprintf("user_id: %d, file: '%s'", userID, fileName))
	return cm.ID, nil
}

// GetVPNConfigsForUser returns all configs issued to the user, oldest first.
func (s *bunStore) GetVPNConfigsForUser(userID int) ([]model.VPNConfig, error) {
	ctx := context.Background()
	var cm []VPNConfigModel
	err := s.bun.NewSelect().Model(&cm).Where("user_id = ?", userID).OrderExpr("created_at, id").Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.VPNConfig, 0, len(cm))
	for _, c := range cm {
		out = append(out, vpnConfigModelToModel(c))
	}
	return out, nil
}

// GetVPNConfigByPublicKey finds a config by its WireGuard public key, or nil.
func (s *bunStore) GetVPNConfigByPublicKey(publicKey string) (*model.VPNConfig, error) {
	ctx := context.Background()
	var cm VPNConfigModel
	err := s.bun.NewSelect().Model(&cm).Where("public_key = ?", publicKey).Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	c := vpnConfigModelToModel(cm)
	return &c, nil
}

// DeleteVPNConfig removes an issued-config record by ID.
func (s *bunStore) DeleteVPNConfig(id int) error {
	ctx := context.Background()
	res, err := s.bun.NewDelete().Model((*VPNConfigModel)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	_ = s.LogAction("DELETE_VPN_CONFIG", fmt.Sprintf("config_id: %d", id))
	return nil
}

// AddReferral records that inviter invited invited. A user can be invited at
// most once; a second referral for the same invited user is ErrDuplicate.
func (s *bunStore) AddReferral(inviterID, invitedID int) error {
	ctx := context.Background()
	rm := &ReferralModel{
		InviterID: inviterID,
		InvitedID: invitedID,
		CreatedAt: time.Now(),
	}
	if _, err := s.bun.NewInsert().Model(rm).Exec(ctx); err != nil {
		return MapDBError(err)
	}
	_ = s.LogAction("ADD_REFERRAL", fmt.Sprintf("inviter: %d, invited: %d", inviterID, invitedID))
	return nil
}

// CountReferrals returns how many users the inviter brought in.
func (s *bunStore) CountReferrals(inviterID int) (int, error) {
	ctx := context.Background()
	return s.bun.NewSelect().Model((*ReferralModel)(nil)).Where("inviter_id = ?", inviterID).Count(ctx)
}

// GetKnownHostKey returns the pinned host key for hostname, or "" when the
// host has not been trusted yet.
func (s *bunStore) GetKnownHostKey(hostname string) (string, error) {
	ctx := context.Background()
	var km KnownHostModel
	err := s.bun.NewSelect().Model(&km).Where("hostname = ?", hostname).Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return km.Key, nil
}

// AddKnownHostKey pins (or replaces) the trusted host key for hostname.
func (s *bunStore) AddKnownHostKey(hostname, key string) error {
	ctx := context.Background()

	existing, err := s.GetKnownHostKey(hostname)
	if err != nil {
		return err
	}
	km := &KnownHostModel{Hostname: hostname, Key: key}
	if existing == "" {
		if _, err := s.bun.NewInsert().Model(km).Exec(ctx); err != nil {
			return MapDBError(err)
		}
	} else {
		if _, err := s.bun.NewUpdate().Model(km).WherePK().Exec(ctx); err != nil {
			return err
		}
	}
	_ = s.LogAction("TRUST_HOST_KEY", fmt.Sprintf("hostname: %s", hostname))
	return nil
}

// LogAction appends an entry to the audit trail.
func (s *bunStore) LogAction(action string, details string) error {
	ctx := context.Background()
	lm := &AuditLogModel{
		Timestamp: time.Now().Format(time.RFC3339),
		Username:  "system",
		Action:    action,
		Details:   details,
	}
	_, err := s.bun.NewInsert().Model(lm).Exec(ctx)
	return err
}

// GetAllAuditLogEntries returns the audit trail, newest first.
func (s *bunStore) GetAllAuditLogEntries() ([]model.AuditLogEntry, error) {
	ctx := context.Background()
	var lm []AuditLogModel
	if err := s.bun.NewSelect().Model(&lm).OrderExpr("id DESC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.AuditLogEntry, 0, len(lm))
	for _, l := range lm {
		out = append(out, model.AuditLogEntry{
			ID:        l.ID,
			Timestamp: l.Timestamp,
			Username:  l.Username,
			Action:    l.Action,
			Details:   l.Details,
		})
	}
	return out, nil
}
