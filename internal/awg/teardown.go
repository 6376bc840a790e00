// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package awg

import (
	"fmt"
	"strings"

	"github.com/helpblocks/vpnbot/internal/logging"
)

// DeletePeer fully removes the peer identified by publicKey: its [Peer]
// block in the server config, its clients-table entry, and a final interface
// reload. The reload only happens when both removals actually matched an
// entry; if either reports not-found, nothing changed and there is nothing
// to reload.
//
// Teardown is best-effort by design: errors are logged for the operator and
// reported as an overall false instead of escalating, since partial cleanup
// beats crashing the bot on a delete.
func (c *Client) DeletePeer(publicKey string) bool {
	removedConf, err := c.removePeerBlock(publicKey)
	if err != nil {
		logging.Errorf("awg: removing peer %s from server config: %v", publicKey, err)
		return false
	}
	removedTable, err := c.table.remove(publicKey)
	if err != nil {
		logging.Errorf("awg: removing peer %s from clients table: %v", publicKey, err)
		return false
	}
	if !removedConf || !removedTable {
		return false
	}
	if err := c.rebootInterface(); err != nil {
		logging.Errorf("awg: interface reload after removing %s: %v", publicKey, err)
		return false
	}
	logging.Infof("awg: removed peer %s", publicKey)
	return true
}

// removePeerBlock excises the whole [Peer] block whose PublicKey line
// matches publicKey: the header and every line up to the next [Peer] header
// or end of file. Other peers' blocks are left untouched. It reports false
// when no block matched.
func (c *Client) removePeerBlock(publicKey string) (bool, error) {
	res, err := c.runner.WriteSingleCmd("cat " + wgConfPath)
	if err != nil {
		return false, err
	}
	if res.Stderr != "" {
		return false, &ConfigError{Message: "failed to read server config", File: wgConfPath, Stderr: res.Stderr}
	}

	lines := strings.Split(res.Stdout, "\n")
	kept := make([]string, 0, len(lines))
	found := false
	for i := 0; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "[Peer]" && blockMatchesKey(lines[i+1:], publicKey) {
			found = true
			// Skip the header and everything up to the next block.
			for i++; i < len(lines); i++ {
				if strings.TrimSpace(lines[i]) == "[Peer]" {
					i--
					break
				}
			}
			continue
		}
		kept = append(kept, lines[i])
	}
	if !found {
		return false, nil
	}

	content := strings.TrimRight(strings.Join(kept, "\n"), "\n")
	script := fmt.Sprintf("cat > %s << 'EOF'\n%s\nEOF", wgConfPath, content)
	wres, err := c.runner.OneShotInContainer(script)
	if err != nil {
		return false, err
	}
	if wres.ExitCode != 0 {
		return false, &SSHError{Message: "failed to write server config", Cmd: wres.Cmd, Stdout: wres.Stdout, Stderr: wres.Stderr}
	}
	return true, nil
}

// blockMatchesKey reports whether the PublicKey line immediately following a
// [Peer] header names publicKey. Blank lines between header and key line are
// tolerated; another section header ends the search.
func blockMatchesKey(rest []string, publicKey string) bool {
	for _, line := range rest {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") {
			return false
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return false
		}
		if strings.TrimSpace(key) != "PublicKey" {
			return false
		}
		return strings.TrimSpace(value) == publicKey
	}
	return false
}
