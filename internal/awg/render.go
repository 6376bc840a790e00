// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package awg

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// clientDNS is the resolver pair written into every rendered client config.
const clientDNS = "1.1.1.1, 1.0.0.1"

// Param is one key/value pair scraped from the server's [Interface] section.
// Order matters: rendered configs repeat the parameters in scrape order.
type Param struct {
	Key   string
	Value string
}

// RenderConfig produces the client-side WireGuard configuration text for a
// new peer. It is a pure function: identical inputs yield byte-identical
// output, always one [Interface] section followed by one [Peer] section.
func RenderConfig(newIP, privateKey, serverPublicKey, presharedKey string, params []Param, listenPort int, host string) string {
	var b strings.Builder
	b.WriteString("[Interface]\n")
	fmt.Fprintf(&b, "Address = %s\n", newIP)
	fmt.Fprintf(&b, "DNS = %s\n", clientDNS)
	fmt.Fprintf(&b, "PrivateKey = %s\n", privateKey)
	for _, p := range params {
		fmt.Fprintf(&b, "%s = %s\n", p.Key, p.Value)
	}
	b.WriteString("\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", serverPublicKey)
	fmt.Fprintf(&b, "PresharedKey = %s\n", presharedKey)
	b.WriteString("AllowedIPs = 0.0.0.0/0, ::/0\n")
	fmt.Fprintf(&b, "Endpoint = %s:%d\n", host, listenPort)
	b.WriteString("PersistentKeepalive = 25\n")
	return b.String()
}

// RenderVPNURI wraps rendered config text in the vpn:// container format the
// AmneziaVPN client imports. This is a presentation variant of RenderConfig,
// not a different config.
func RenderVPNURI(configText string) string {
	return "vpn://\n" + base64.StdEncoding.EncodeToString([]byte(configText))
}
