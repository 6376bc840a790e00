// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package awg

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// KnownHostStore looks up the pinned public key for a host. An empty string
// means the host has never been trusted.
type KnownHostStore interface {
	GetKnownHostKey(hostname string) (string, error)
}

// PinnedHostKeyCallback verifies the server against the key pinned in store.
// Unknown hosts are rejected; the operator trusts them explicitly with the
// trust-host command.
func PinnedHostKeyCallback(store KnownHostStore) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		// The hostname may carry the port; the store is keyed by bare host.
		host, _, err := net.SplitHostPort(hostname)
		if err != nil {
			host = hostname
		}

		presentedKey := string(ssh.MarshalAuthorizedKey(key))

		knownKey, err := store.GetKnownHostKey(host)
		if err != nil {
			return fmt.Errorf("failed to query known_hosts database: %w", err)
		}
		if knownKey == "" {
			return fmt.Errorf("unknown host key for %s. run 'vpnbot trust-host' to add it", host)
		}
		if knownKey != presentedKey {
			return fmt.Errorf("!!! HOST KEY MISMATCH FOR %s !!!\nRemote key presented: %s\nThis could be a man-in-the-middle attack", host, presentedKey)
		}
		return nil
	}
}

const hostKeyProbeErr = "vpnbot: successfully retrieved host key"

// FetchRemoteHostKey connects to a host just to retrieve its public key.
// The handshake is aborted as soon as the key is presented; no
// authentication happens.
func FetchRemoteHostKey(host string, port int) (ssh.PublicKey, error) {
	keyChan := make(chan ssh.PublicKey, 1)

	config := &ssh.ClientConfig{
		User: "vpnbot-probe",
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			keyChan <- key
			return fmt.Errorf("%s", hostKeyProbeErr)
		},
		Timeout: 5 * time.Second,
	}

	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	_, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		if strings.Contains(err.Error(), hostKeyProbeErr) {
			return <-keyChan, nil
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return nil, fmt.Errorf("handshake succeeded unexpectedly, could not retrieve key")
}
