// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// package vpn implements the provisioning service that ties the Telegram
// front end to the AmneziaWG server and the database. It is the only caller
// of the low-level peer pipelines.
package vpn

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/helpblocks/vpnbot/internal/db"
	"github.com/helpblocks/vpnbot/internal/i18n"
	"github.com/helpblocks/vpnbot/internal/logging"
	"github.com/helpblocks/vpnbot/internal/model"
)

// ErrNotRegistered is returned when an operation references a Telegram user
// that never sent /start.
var ErrNotRegistered = errors.New("user not registered")

// ErrNoSubscription is returned when a user without an active subscription
// requests a config.
var ErrNoSubscription = errors.New("no active subscription")

// LimitError is returned when issuing one more config would exceed the
// user's device limit.
type LimitError struct {
	Max int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("device limit reached (max %d configs)", e.Max)
}

// Provisioner is the server-side peer lifecycle the service drives.
type Provisioner interface {
	// AddPeer provisions a peer and returns the local artifact path and the
	// peer's public key.
	AddPeer(fileName string) (string, string, error)
	// DeletePeer removes a peer; best-effort, reports overall success.
	DeletePeer(publicKey string) bool
}

// ConnectFunc dials the VPN server and returns a ready Provisioner plus a
// cleanup function. Each operation gets a fresh connection.
type ConnectFunc func() (Provisioner, func(), error)

// Service coordinates config issue and revocation. All server-side mutation
// runs under one process-wide lock: the remote pipelines share a single
// serial shell and a read-modify-write clients table.
type Service struct {
	store   db.Store
	connect ConnectFunc

	mu sync.Mutex
}

// NewService returns a Service issuing configs through connect and
// persisting them in store.
func NewService(store db.Store, connect ConnectFunc) *Service {
	return &Service{store: store, connect: connect}
}

// IssueConfig provisions a new VPN config for the Telegram user. It enforces
// the subscription's device limit, provisions the peer on the server, and
// records the issued config. The returned path is a local artifact the
// caller must send to the user and then delete.
func (s *Service) IssueConfig(telegramID int64) (string, *model.VPNConfig, error) {
	user, err := s.store.GetUserByTelegramID(telegramID)
	if err != nil {
		return "", nil, err
	}
	if user == nil {
		return "", nil, ErrNotRegistered
	}

	sub, err := s.store.GetSubscriptionForUser(user.ID)
	if err != nil {
		return "", nil, err
	}
	limit := sub.DeviceLimit()
	if limit == 0 {
		return "", nil, ErrNoSubscription
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The count has to happen under the lock or two concurrent callers
	// could both pass the limit check and overshoot it by one.
	existing, err := s.store.GetVPNConfigsForUser(user.ID)
	if err != nil {
		return "", nil, err
	}
	if len(existing) >= limit {
		return "", nil, &LimitError{Max: limit}
	}

	fileName := configFileName(user, len(existing)+1)

	prov, cleanup, err := s.connect()
	if err != nil {
		return "", nil, err
	}
	defer cleanup()

	path, publicKey, err := prov.AddPeer(fileName)
	if err != nil {
		return "", nil, err
	}

	id, err := s.store.AddVPNConfig(user.ID, fileName, publicKey)
	if err != nil {
		// The peer exists on the server but not in the DB; the operator can
		// reconcile from the server's clients table.
		logging.Errorf("vpn: peer %s provisioned but not recorded: %v", publicKey, err)
		return "", nil, err
	}

	cfg := &model.VPNConfig{ID: id, UserID: user.ID, FileName: fileName, PublicKey: publicKey}
	return path, cfg, nil
}

// RevokeConfig removes the user's n-th config (1-based, as listed by
// /status). Server-side removal is best-effort; the database record goes
// away regardless so users are never stuck with undeletable entries.
func (s *Service) RevokeConfig(telegramID int64, n int) (*model.VPNConfig, error) {
	user, err := s.store.GetUserByTelegramID(telegramID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotRegistered
	}

	configs, err := s.store.GetVPNConfigsForUser(user.ID)
	if err != nil {
		return nil, err
	}
	if n < 1 || n > len(configs) {
		return nil, db.ErrNotFound
	}
	cfg := configs[n-1]

	if err := s.revoke(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RevokeByPublicKey removes the config identified by its WireGuard public
// key. Used by the operator CLI.
func (s *Service) RevokeByPublicKey(publicKey string) (*model.VPNConfig, error) {
	cfg, err := s.store.GetVPNConfigByPublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, db.ErrNotFound
	}
	if err := s.revoke(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *Service) revoke(cfg *model.VPNConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prov, cleanup, err := s.connect()
	if err != nil {
		return err
	}
	defer cleanup()

	if !prov.DeletePeer(cfg.PublicKey) {
		logging.Warnf("vpn: server-side removal of %s incomplete, dropping DB record anyway", cfg.PublicKey)
	}
	return s.store.DeleteVPNConfig(cfg.ID)
}

// SubscriptionSummary renders the user's subscription state and issued
// configs for /status.
func (s *Service) SubscriptionSummary(telegramID int64) (string, error) {
	user, err := s.store.GetUserByTelegramID(telegramID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrNotRegistered
	}

	sub, err := s.store.GetSubscriptionForUser(user.ID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	switch {
	case sub == nil:
		b.WriteString(i18n.T("status.none"))
	case sub.IsExpired():
		b.WriteString(i18n.T("status.inactive"))
	default:
		b.WriteString(i18n.T("status.active", strings.ToUpper(string(sub.Type))))
		b.WriteString(" — ")
		if days := sub.RemainingDays(); days < 0 {
			b.WriteString(i18n.T("status.unlimited"))
		} else {
			b.WriteString(i18n.T("status.days_left", days))
		}
	}
	b.WriteString("\n")

	configs, err := s.store.GetVPNConfigsForUser(user.ID)
	if err != nil {
		return "", err
	}
	if len(configs) == 0 {
		b.WriteString(i18n.T("status.no_configs"))
	} else {
		b.WriteString(i18n.T("status.configs_header"))
		for i, c := range configs {
			fmt.Fprintf(&b, "\n%d. %s", i+1, c.FileName)
		}
	}
	return b.String(), nil
}

// configFileName derives a config artifact name from the user's handle and
// the issue sequence number.
func configFileName(user *model.User, seq int) string {
	stem := user.Username
	if stem == "" {
		stem = fmt.Sprintf("user%d", user.TelegramID)
	}
	stem = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, stem)
	return fmt.Sprintf("%s_%d.conf", stem, seq)
}
