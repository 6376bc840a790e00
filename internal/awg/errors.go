// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package awg

import (
	"fmt"
	"strings"
)

// Error is the base type for all AmneziaWG provisioning failures. The more
// specific SSHError, ConfigError and UserError carry extra diagnostic fields;
// all of them render a multi-line message including the cause chain so
// operator logs have the full picture.
type Error struct {
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return renderError(e.Message, nil, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// SSHError reports a failure of the transport or of a remote command: the
// connection itself, a non-zero exit from a write-back, or an unexpected
// container identity.
type SSHError struct {
	Message string
	Cmd     string
	Stdout  string
	Stderr  string
	Cause   error
}

func (e *SSHError) Error() string {
	var details []string
	if e.Cmd != "" {
		details = append(details, "cmd: "+e.Cmd)
	}
	if e.Stdout != "" {
		details = append(details, "stdout: "+e.Stdout)
	}
	if e.Stderr != "" {
		details = append(details, "stderr: "+e.Stderr)
	}
	return renderError(e.Message, details, e.Cause)
}

func (e *SSHError) Unwrap() error { return e.Cause }

// ConfigError reports an unreadable or unusable remote file (wg0.conf, key
// files, clientsTable).
type ConfigError struct {
	Message string
	File    string
	Stderr  string
	Cause   error
}

func (e *ConfigError) Error() string {
	var details []string
	if e.File != "" {
		details = append(details, "file: "+e.File)
	}
	if e.Stderr != "" {
		details = append(details, "stderr: "+e.Stderr)
	}
	return renderError(e.Message, details, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// UserError reports a failure tied to a specific user during peer addition
// or removal.
type UserError struct {
	Message string
	User    string
	Cause   error
}

func (e *UserError) Error() string {
	var details []string
	if e.User != "" {
		details = append(details, "user: "+e.User)
	}
	return renderError(e.Message, details, e.Cause)
}

func (e *UserError) Unwrap() error { return e.Cause }

func renderError(message string, details []string, cause error) string {
	parts := append([]string{message}, details...)
	if cause != nil {
		parts = append(parts, fmt.Sprintf("caused by: %v", cause))
	}
	return strings.Join(parts, "\n")
}
