// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/helpblocks/vpnbot/internal/model"
	"github.com/klauspost/compress/zstd"
)

// ExportDataForBackup snapshots every table into a portable BackupData.
func (s *bunStore) ExportDataForBackup() (*model.BackupData, error) {
	ctx := context.Background()
	data := &model.BackupData{}

	users, err := s.GetAllUsers()
	if err != nil {
		return nil, fmt.Errorf("export users: %w", err)
	}
	data.Users = users

	var sm []SubscriptionModel
	if err := s.bun.NewSelect().Model(&sm).OrderExpr("id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("export subscriptions: %w", err)
	}
	for _, m := range sm {
		data.Subscriptions = append(data.Subscriptions, subscriptionModelToModel(m))
	}

	var cm []VPNConfigModel
	if err := s.bun.NewSelect().Model(&cm).OrderExpr("id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("export vpn configs: %w", err)
	}
	for _, m := range cm {
		data.VPNConfigs = append(data.VPNConfigs, vpnConfigModelToModel(m))
	}

	var rm []ReferralModel
	if err := s.bun.NewSelect().Model(&rm).OrderExpr("id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("export referrals: %w", err)
	}
	for _, m := range rm {
		data.Referrals = append(data.Referrals, model.Referral{
			ID: m.ID, InviterID: m.InviterID, InvitedID: m.InvitedID, CreatedAt: m.CreatedAt,
		})
	}

	var km []KnownHostModel
	if err := s.bun.NewSelect().Model(&km).OrderExpr("hostname").Scan(ctx); err != nil {
		return nil, fmt.Errorf("export known hosts: %w", err)
	}
	for _, m := range km {
		data.KnownHosts = append(data.KnownHosts, model.KnownHost{Hostname: m.Hostname, Key: m.Key})
	}

	audit, err := s.GetAllAuditLogEntries()
	if err != nil {
		return nil, fmt.Errorf("export audit log: %w", err)
	}
	data.AuditLog = audit

	return data, nil
}

// ImportDataFromBackup loads a snapshot into an empty database. Rows keep
// their original IDs so cross-table references stay intact; importing over
// existing data is the caller's responsibility to avoid.
func (s *bunStore) ImportDataFromBackup(data *model.BackupData) error {
	ctx := context.Background()

	tx, err := s.bun.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, u := range data.Users {
		um := UserModel{
			ID:         u.ID,
			TelegramID: u.TelegramID,
			Username:   nullString(u.Username),
			FirstName:  nullString(u.FirstName),
			LastName:   nullString(u.LastName),
			Role:       string(u.Role),
			CreatedAt:  u.CreatedAt,
		}
		if _, err := tx.NewInsert().Model(&um).Exec(ctx); err != nil {
			return fmt.Errorf("import user %d: %w", u.ID, MapDBError(err))
		}
	}
	for _, sub := range data.Subscriptions {
		sm := SubscriptionModel{
			ID:        sub.ID,
			UserID:    sub.UserID,
			Type:      string(sub.Type),
			IsActive:  sub.IsActive,
			StartDate: sub.StartDate,
		}
		if sub.EndDate != nil {
			sm.EndDate.Time = *sub.EndDate
			sm.EndDate.Valid = true
		}
		if _, err := tx.NewInsert().Model(&sm).Exec(ctx); err != nil {
			return fmt.Errorf("import subscription %d: %w", sub.ID, MapDBError(err))
		}
	}
	for _, c := range data.VPNConfigs {
		cm := VPNConfigModel{
			ID: c.ID, UserID: c.UserID, FileName: c.FileName, PublicKey: c.PublicKey, CreatedAt: c.CreatedAt,
		}
		if _, err := tx.NewInsert().Model(&cm).Exec(ctx); err != nil {
			return fmt.Errorf("import vpn config %d: %w", c.ID, MapDBError(err))
		}
	}
	for _, r := range data.Referrals {
		rm := ReferralModel{ID: r.ID, InviterID: r.InviterID, InvitedID: r.InvitedID, CreatedAt: r.CreatedAt}
		if _, err := tx.NewInsert().Model(&rm).Exec(ctx); err != nil {
			return fmt.Errorf("import referral %d: %w", r.ID, MapDBError(err))
		}
	}
	for _, k := range data.KnownHosts {
		km := KnownHostModel{Hostname: k.Hostname, Key: k.Key}
		if _, err := tx.NewInsert().Model(&km).Exec(ctx); err != nil {
			return fmt.Errorf("import known host %s: %w", k.Hostname, MapDBError(err))
		}
	}
	for _, e := range data.AuditLog {
		lm := AuditLogModel{ID: e.ID, Timestamp: e.Timestamp, Username: e.Username, Action: e.Action, Details: e.Details}
		if _, err := tx.NewInsert().Model(&lm).Exec(ctx); err != nil {
			return fmt.Errorf("import audit entry %d: %w", e.ID, MapDBError(err))
		}
	}

	return tx.Commit()
}

// WriteBackup writes compressed JSON backup data to w.
func WriteBackup(data *model.BackupData, w io.Writer) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	defer func() { _ = zw.Close() }()
	enc := json.NewEncoder(zw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	return zw.Close()
}

// Backup snapshots the store into BackupData.
func Backup(st Store) (*model.BackupData, error) {
	return st.ExportDataForBackup()
}

// Restore reads a zstd-compressed JSON backup from r and imports it.
func Restore(r io.Reader, st Store) error {
	data, err := ReadBackup(r)
	if err != nil {
		return err
	}
	return st.ImportDataFromBackup(data)
}

// ReadBackup reads a zstd-compressed JSON backup from r.
func ReadBackup(r io.Reader) (*model.BackupData, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()
	var data model.BackupData
	if err := json.NewDecoder(zr).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode backup: %w", err)
	}
	return &data, nil
}
