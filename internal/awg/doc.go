// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// Package awg talks to a remote AmneziaWG server over SSH and manages its
// peers. All state lives on the server in two files (wg0.conf and
// clientsTable) inside a Docker container; this package drives them through
// a single interactive shell session plus one-shot exec channels for file
// rewrites. The only entry points the rest of the application may use are
// Client.AddPeer and Client.DeletePeer.
package awg
