// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package awg

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

type fakeKnownHosts struct {
	keys map[string]string
	err  error
}

func (f *fakeKnownHosts) GetKnownHostKey(hostname string) (string, error) {
	return f.keys[hostname], f.err
}

func testHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return sshPub
}

func TestPinnedHostKeyCallback(t *testing.T) {
	key := testHostKey(t)
	pinned := string(ssh.MarshalAuthorizedKey(key))
	store := &fakeKnownHosts{keys: map[string]string{"vpn.example.com": pinned}}
	cb := PinnedHostKeyCallback(store)

	if err := cb("vpn.example.com:22", nil, key); err != nil {
		t.Errorf("trusted key rejected: %v", err)
	}
	// The bare hostname form must resolve to the same pin.
	if err := cb("vpn.example.com", nil, key); err != nil {
		t.Errorf("trusted key rejected without port: %v", err)
	}
}

func TestPinnedHostKeyCallbackUnknownHost(t *testing.T) {
	cb := PinnedHostKeyCallback(&fakeKnownHosts{keys: map[string]string{}})

	err := cb("other.example.com:22", nil, testHostKey(t))
	if err == nil || !strings.Contains(err.Error(), "unknown host key") {
		t.Errorf("err = %v, want unknown host rejection", err)
	}
}

func TestPinnedHostKeyCallbackMismatch(t *testing.T) {
	pinned := string(ssh.MarshalAuthorizedKey(testHostKey(t)))
	cb := PinnedHostKeyCallback(&fakeKnownHosts{keys: map[string]string{"vpn.example.com": pinned}})

	err := cb("vpn.example.com:22", nil, testHostKey(t))
	if err == nil || !strings.Contains(err.Error(), "MISMATCH") {
		t.Errorf("err = %v, want mismatch rejection", err)
	}
}

func TestPinnedHostKeyCallbackStoreError(t *testing.T) {
	storeErr := errors.New("db gone")
	cb := PinnedHostKeyCallback(&fakeKnownHosts{err: storeErr})

	err := cb("vpn.example.com:22", nil, testHostKey(t))
	if !errors.Is(err, storeErr) {
		t.Errorf("err = %v, want wrapped store error", err)
	}
}
