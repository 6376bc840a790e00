// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package awg

import (
	"encoding/json"
	"fmt"
	"time"
)

// tableEntry mirrors the JSON schema Amnezia keeps in clientsTable. Field
// names are part of the on-server format and must not change.
type tableEntry struct {
	ClientID string        `json:"clientId"`
	UserData tableUserData `json:"userData"`
}

type tableUserData struct {
	ClientName   string `json:"clientName"`
	CreationDate string `json:"creationDate"`
}

// clientsTable is a read-modify-write helper over the single remote JSON file
// listing all registered peers. Concurrent mutation is prevented by the
// caller's pipeline-wide lock, not by anything in the file itself.
type clientsTable struct {
	runner Runner
}

// load reads and parses the remote table. Error output from the read is
// fatal; a JSON parse failure propagates unwrapped so callers see the native
// decode error.
func (t *clientsTable) load() ([]tableEntry, error) {
	res, err := t.runner.WriteSingleCmd("cat " + clientsTablePath)
	if err != nil {
		return nil, err
	}
	if res.Stderr != "" {
		return nil, &ConfigError{Message: "failed to read clients table", File: clientsTablePath, Stderr: res.Stderr}
	}
	var entries []tableEntry
	if err := json.Unmarshal([]byte(res.Stdout), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// store rewrites the remote table atomically via a here-document through the
// container shell.
func (t *clientsTable) store(entries []tableEntry) error {
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return err
	}
	script := fmt.Sprintf("cat > %s << 'EOF'\n%s\nEOF", clientsTablePath, data)
	res, err := t.runner.OneShotInContainer(script)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &SSHError{Message: "failed to write clients table", Cmd: res.Cmd, Stdout: res.Stdout, Stderr: res.Stderr}
	}
	return nil
}

// add registers publicKey under displayName. Adding an already-registered
// key is a success and leaves the table untouched.
func (t *clientsTable) add(publicKey, displayName string) (bool, error) {
	entries, err := t.load()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.ClientID == publicKey {
			return true, nil
		}
	}
	entries = append(entries, tableEntry{
		ClientID: publicKey,
		UserData: tableUserData{
			ClientName:   displayName,
			CreationDate: time.Now().Format(time.ANSIC),
		},
	})
	if err := t.store(entries); err != nil {
		return false, err
	}
	return true, nil
}

// remove deletes the entry whose clientId matches publicKey exactly. A key
// that is not in the table reports false without rewriting; that is a valid
// outcome, not an error.
func (t *clientsTable) remove(publicKey string) (bool, error) {
	entries, err := t.load()
	if err != nil {
		return false, err
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.ClientID != publicKey {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return false, nil
	}
	if err := t.store(kept); err != nil {
		return false, err
	}
	return true, nil
}
