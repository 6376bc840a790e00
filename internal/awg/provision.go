// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package awg

import (
	"fmt"
	"math/rand"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/helpblocks/vpnbot/internal/logging"
)

// Remote paths inside the AmneziaWG container. These are part of the Amnezia
// on-server layout; bit-exact paths matter for compatibility.
const (
	wgDir            = "/opt/amnezia/awg"
	wgConfPath       = wgDir + "/wg0.conf"
	clientsTablePath = wgDir + "/clientsTable"
	pskPath          = wgDir + "/wireguard_psk.key"
	serverPubKeyPath = "wireguard_server_public_key.key"

	tmpPrivateKeyPath = "/tmp/vpnbot_private.key"
	tmpPublicKeyPath  = "/tmp/vpnbot_public.key"
)

// warningPrefix marks wg-quick/wg stderr output that is expected noise, not
// a failure. Matching on CLI text is fragile but it is the only signal the
// tools give us.
const warningPrefix = "Warning"

// interfaceParamKeys are the obfuscation parameters scraped from the
// server's [Interface] section and copied into client configs.
var interfaceParamKeys = map[string]bool{
	"Jc": true, "Jmin": true, "Jmax": true,
	"S1": true, "S2": true,
	"H1": true, "H2": true, "H3": true, "H4": true,
}

// Client drives peer provisioning and teardown against one AmneziaWG server
// through a Runner. A Client must not be shared between concurrent pipelines;
// the surrounding application serializes all provisioning and teardown with
// a single lock.
type Client struct {
	runner Runner
	table  clientsTable

	// host is the endpoint written into rendered client configs.
	host string
	// configDir is the local directory rendered artifacts are written to.
	configDir string
}

// NewClient returns a Client issuing commands through r. host is the
// endpoint address handed to VPN clients; configDir receives the rendered
// config artifacts.
func NewClient(r Runner, host, configDir string) *Client {
	return &Client{
		runner:    r,
		table:     clientsTable{runner: r},
		host:      host,
		configDir: configDir,
	}
}

// AddPeer provisions one new VPN peer: keys, address, server-side
// registration and a local config artifact named after fileName. It returns
// the artifact path and the peer's public key, which is the durable
// identifier for later teardown. Steps run strictly in order; the first
// failure aborts the rest with no rollback of completed steps.
func (c *Client) AddPeer(fileName string) (string, string, error) {
	if err := c.checkContainer(); err != nil {
		return "", "", err
	}
	privateKey, err := c.generatePrivateKey()
	if err != nil {
		return "", "", err
	}
	publicKey, err := c.generatePublicKey()
	if err != nil {
		return "", "", err
	}
	serverPublicKey, err := c.serverPublicKey()
	if err != nil {
		return "", "", err
	}
	newIP, err := c.allocateIP()
	if err != nil {
		return "", "", err
	}
	psk, err := c.presharedKey()
	if err != nil {
		return "", "", err
	}
	if err := c.appendPeerBlock(publicKey, newIP, psk); err != nil {
		return "", "", err
	}
	if _, err := c.table.add(publicKey, clientDisplayName(fileName)); err != nil {
		return "", "", err
	}
	path, err := c.saveLocalConfig(fileName, newIP, privateKey, serverPublicKey, psk)
	if err != nil {
		return "", "", err
	}
	if err := c.deleteTempFiles(); err != nil {
		return "", "", err
	}
	if err := c.rebootInterface(); err != nil {
		return "", "", err
	}
	logging.Infof("awg: provisioned peer %s at %s", publicKey, newIP)
	return path, publicKey, nil
}

// checkContainer verifies the shell is alive inside the container and runs
// as the expected privileged user.
func (c *Client) checkContainer() error {
	res, err := c.runner.WriteSingleCmd("whoami")
	if err != nil {
		return err
	}
	if res.Stderr != "" || res.ExitCode != 0 {
		return &SSHError{Message: "container check failed", Cmd: res.Cmd, Stdout: res.Stdout, Stderr: res.Stderr}
	}
	if res.Stdout != "root" {
		return &SSHError{Message: "container shell is not running as root", Cmd: res.Cmd, Stdout: res.Stdout}
	}
	return nil
}

// generatePrivateKey creates a fresh private key in the container, persisted
// to a scratch file and read back. A stderr line starting with Warning is
// logged and tolerated; anything else is fatal.
func (c *Client) generatePrivateKey() (string, error) {
	cmds := []string{
		"wg genkey > " + tmpPrivateKeyPath,
		"cat " + tmpPrivateKeyPath,
	}
	var key string
	var stepErr error
	err := c.runner.RunCommands(cmds, func(r Result) bool {
		if r.Stderr != "" {
			if strings.HasPrefix(r.Stderr, warningPrefix) {
				logging.Warnf("awg: wg genkey: %s", r.Stderr)
			} else {
				stepErr = &SSHError{Message: "private key generation failed", Cmd: r.Cmd, Stdout: r.Stdout, Stderr: r.Stderr}
				return false
			}
		}
		if r.Stdout != "" {
			key = r.Stdout
			return false
		}
		return true
	})
	if err != nil {
		return "", err
	}
	return key, stepErr
}

// generatePublicKey derives the public key from the scratch private key.
// Any stderr here is fatal.
func (c *Client) generatePublicKey() (string, error) {
	cmds := []string{
		fmt.Sprintf("wg pubkey < %s > %s", tmpPrivateKeyPath, tmpPublicKeyPath),
		"cat " + tmpPublicKeyPath,
	}
	var key string
	var stepErr error
	err := c.runner.RunCommands(cmds, func(r Result) bool {
		if r.Stderr != "" {
			stepErr = &SSHError{Message: "public key derivation failed", Cmd: r.Cmd, Stdout: r.Stdout, Stderr: r.Stderr}
			return false
		}
		if r.Stdout != "" {
			key = r.Stdout
			return false
		}
		return true
	})
	if err != nil {
		return "", err
	}
	return key, stepErr
}

// serverPublicKey reads the server's own public key from its key file in the
// container working directory.
func (c *Client) serverPublicKey() (string, error) {
	res, err := c.runner.WriteSingleCmd("cat " + serverPubKeyPath)
	if err != nil {
		return "", err
	}
	if res.Stderr != "" {
		return "", &ConfigError{Message: "failed to read server public key", File: serverPubKeyPath, Stderr: res.Stderr}
	}
	return res.Stdout, nil
}

// presharedKey reads the server-wide preshared key.
func (c *Client) presharedKey() (string, error) {
	res, err := c.runner.WriteSingleCmd("cat " + pskPath)
	if err != nil {
		return "", err
	}
	if res.Stderr != "" {
		return "", &ConfigError{Message: "failed to read preshared key", File: pskPath, Stderr: res.Stderr}
	}
	return res.Stdout, nil
}

// allocateIP computes the next free address: the last AllowedIPs entry in the
// server config plus one host. A fresh server with no peers yet allocates
// from the interface's own Address instead. An empty or unparsable scan is a
// hard error, never a silently wrong address.
func (c *Client) allocateIP() (string, error) {
	cmds := []string{
		fmt.Sprintf("awk '/Address/ {base=$3} /AllowedIPs/ {ip=$3} END {print (ip ? ip : base)}' %s", wgConfPath),
	}
	var lastIP string
	var stepErr error
	err := c.runner.RunCommands(cmds, func(r Result) bool {
		if r.Stderr != "" {
			stepErr = &ConfigError{Message: "failed to read last allocated address", File: wgConfPath, Stderr: r.Stderr}
			return false
		}
		lastIP = r.Stdout
		return false
	})
	if err != nil {
		return "", err
	}
	if stepErr != nil {
		return "", stepErr
	}
	if strings.TrimSpace(lastIP) == "" {
		return "", &ConfigError{Message: "no interface address or allocated peers found", File: wgConfPath}
	}
	return nextHostAddress(lastIP)
}

// nextHostAddress returns lastIP's successor with a /32 prefix.
func nextHostAddress(lastIP string) (string, error) {
	addrText, _, _ := strings.Cut(lastIP, "/")
	addr, err := netip.ParseAddr(strings.TrimSpace(addrText))
	if err != nil {
		return "", fmt.Errorf("invalid peer address %q in %s: %w", lastIP, wgConfPath, err)
	}
	next := addr.Next()
	if !next.IsValid() {
		return "", fmt.Errorf("address space exhausted after %q", lastIP)
	}
	return next.String() + "/32", nil
}

// interfaceParams scrapes the obfuscation parameters and listen port from
// the server's [Interface] section. The listen port defaults to 1 when
// absent or unparsable.
func (c *Client) interfaceParams() ([]Param, int, error) {
	res, err := c.runner.WriteSingleCmd("cat " + wgConfPath)
	if err != nil {
		return nil, 0, err
	}
	if res.Stderr != "" {
		return nil, 0, &ConfigError{Message: "failed to read interface parameters", File: wgConfPath, Stderr: res.Stderr}
	}

	var params []Param
	listenPort := 1
	inInterface := false
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "[") {
			inInterface = line == "[Interface]"
			continue
		}
		if !inInterface {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "ListenPort" {
			if p, err := strconv.Atoi(value); err == nil {
				listenPort = p
			}
			continue
		}
		if interfaceParamKeys[key] {
			params = append(params, Param{Key: key, Value: value})
		}
	}
	return params, listenPort, nil
}

// appendPeerBlock appends the new peer's [Peer] section to the server
// config. The block is keyed by PublicKey; teardown later removes it whole.
func (c *Client) appendPeerBlock(publicKey, newIP, psk string) error {
	block := fmt.Sprintf("\\n[Peer]\\nPublicKey = %s\\nPresharedKey = %s\\nAllowedIPs = %s\\n", publicKey, psk, newIP)
	cmds := []string{
		fmt.Sprintf("printf '%s' >> %s", block, wgConfPath),
	}
	var stepErr error
	err := c.runner.RunCommands(cmds, func(r Result) bool {
		if r.Stderr != "" {
			stepErr = &ConfigError{Message: "failed to append peer to server config", File: wgConfPath, Stderr: r.Stderr}
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return stepErr
}

// saveLocalConfig renders the client config and writes the local artifact.
// A .vpn extension selects the AmneziaVPN vpn:// flavor; anything else is
// normalized to a plain .conf WireGuard file. The caller owns the artifact
// and deletes it after transmitting it to the user.
func (c *Client) saveLocalConfig(fileName, newIP, privateKey, serverPublicKey, psk string) (string, error) {
	params, listenPort, err := c.interfaceParams()
	if err != nil {
		return "", err
	}
	text := RenderConfig(newIP, privateKey, serverPublicKey, psk, params, listenPort, c.host)

	base := filepath.Base(fileName)
	if ext := filepath.Ext(base); ext == ".vpn" {
		text = RenderVPNURI(text)
	} else {
		base = strings.TrimSuffix(base, ext) + ".conf"
	}

	if err := os.MkdirAll(c.configDir, 0o700); err != nil {
		return "", fmt.Errorf("could not create config directory %s: %w", c.configDir, err)
	}
	path := filepath.Join(c.configDir, base)
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return "", fmt.Errorf("could not write config artifact %s: %w", path, err)
	}
	return path, nil
}

// deleteTempFiles removes the key scratch files. Leftover temp files hold
// key material, so failures are reported, not swallowed.
func (c *Client) deleteTempFiles() error {
	cmds := []string{
		"rm -f " + tmpPrivateKeyPath,
		"rm -f " + tmpPublicKeyPath,
	}
	var stepErr error
	err := c.runner.RunCommands(cmds, func(r Result) bool {
		if r.Stderr != "" {
			stepErr = &SSHError{Message: "failed to delete temporary key files", Cmd: r.Cmd, Stdout: r.Stdout, Stderr: r.Stderr}
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return stepErr
}

// rebootInterface takes the WireGuard interface down and back up so config
// changes take effect. wg-quick writes routine chatter to stderr prefixed
// with Warning; only other stderr output is fatal.
func (c *Client) rebootInterface() error {
	cmds := []string{
		"wg-quick down " + wgConfPath,
		"wg-quick up " + wgConfPath,
	}
	var stepErr error
	err := c.runner.RunCommands(cmds, func(r Result) bool {
		if r.Stderr != "" && !strings.HasPrefix(r.Stderr, warningPrefix) {
			stepErr = &SSHError{Message: "interface reload failed", Cmd: r.Cmd, Stdout: r.Stdout, Stderr: r.Stderr}
			return false
		}
		if r.Stderr != "" {
			logging.Warnf("awg: wg-quick: %s", r.Stderr)
		}
		return true
	})
	if err != nil {
		return err
	}
	return stepErr
}

const displayNameSuffixChars = "abcdefghijklmnopqrstuvwxyz0123456789"

// clientDisplayName derives a unique display name for the clients table from
// the requested file name. The random suffix keeps repeat requests for the
// same logical user from colliding.
func clientDisplayName(fileName string) string {
	base := filepath.Base(fileName)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = displayNameSuffixChars[rand.Intn(len(displayNameSuffixChars))]
	}
	return stem + "-" + string(suffix)
}
