// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package awg

import (
	"fmt"
	"io"

	"github.com/pkg/sftp"
)

// FetchFile downloads one file from the remote host over SFTP, using the
// Transport's existing SSH connection. The shell protocol cannot carry
// binary-safe reads, so operator-facing snapshots (e.g. backing up the
// host-mounted wg0.conf) go through this path instead.
func (t *Transport) FetchFile(remotePath string) ([]byte, error) {
	if t.client == nil {
		return nil, &SSHError{Message: "no active connection, call Connect first"}
	}
	sc, err := sftp.NewClient(t.client)
	if err != nil {
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}
	defer sc.Close()

	f, err := sc.Open(remotePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote file %s: %w", remotePath, err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote file %s: %w", remotePath, err)
	}
	return content, nil
}
