package awg

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testServerConf = `[Interface]
Address = 10.0.0.1/32
PrivateKey = SERVERPRIV
ListenPort = 51820
Jc = 4
Jmin = 8
Jmax = 80
S1 = 16
S2 = 52
H1 = 1234567891
H2 = 1234567892
H3 = 1234567893
H4 = 1234567894

[Peer]
PublicKey = OTHERPUB
PresharedKey = OTHERPSK
AllowedIPs = 10.0.0.5/32
`

// happyPathRunner scripts a full successful provisioning conversation.
func happyPathRunner() *fakeRunner {
	f := &fakeRunner{}
	f.respond("whoami", Result{Stdout: "root"})
	f.respond("cat "+tmpPrivateKeyPath, Result{Stdout: "PK1"})
	f.respond("cat "+tmpPublicKeyPath, Result{Stdout: "PUB1"})
	f.respond("cat "+serverPubKeyPath, Result{Stdout: "SPUB"})
	f.respond("cat "+pskPath, Result{Stdout: "PSK1"})
	f.respond("awk", Result{Stdout: "10.0.0.1/32"})
	f.respond("cat "+wgConfPath, Result{Stdout: testServerConf})
	f.respond("cat "+clientsTablePath, Result{Stdout: "[]"})
	return f
}

func TestAddPeerHappyPath(t *testing.T) {
	f := happyPathRunner()
	dir := t.TempDir()
	c := NewClient(f, "vpn.example.com", dir)

	path, publicKey, err := c.AddPeer("alice.conf")
	if err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if publicKey != "PUB1" {
		t.Errorf("public key = %q, want PUB1", publicKey)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("artifact written to %q, want directory %q", path, dir)
	}
	if filepath.Ext(path) != ".conf" {
		t.Errorf("artifact extension = %q, want .conf", filepath.Ext(path))
	}

	text, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	for _, want := range []string{
		"Address = 10.0.0.2/32",
		"PrivateKey = PK1",
		"PublicKey = SPUB",
		"PresharedKey = PSK1",
		"AllowedIPs = 0.0.0.0/0, ::/0",
		"Endpoint = vpn.example.com:51820",
		"Jc = 4",
		"H4 = 1234567894",
	} {
		if !strings.Contains(string(text), want) {
			t.Errorf("artifact missing %q", want)
		}
	}

	// One table registration, keyed by the fresh public key.
	if len(f.oneShots) != 1 {
		t.Fatalf("expected one clients-table rewrite, got %d", len(f.oneShots))
	}
	if !strings.Contains(f.oneShots[0], `"clientId": "PUB1"`) {
		t.Error("clients table was not updated with the new public key")
	}
	if !strings.Contains(f.oneShots[0], `"clientName": "alice-`) {
		t.Error("display name does not derive from the file name stem")
	}

	// The interface reload ran exactly once (one down, one up).
	if n := f.countIssued("wg-quick down"); n != 1 {
		t.Errorf("wg-quick down issued %d times, want 1", n)
	}
	if n := f.countIssued("wg-quick up"); n != 1 {
		t.Errorf("wg-quick up issued %d times, want 1", n)
	}

	// Scratch key files were cleaned up.
	if n := f.countIssued("rm -f " + tmpPrivateKeyPath); n != 1 {
		t.Errorf("private scratch file removed %d times, want 1", n)
	}
}

func TestAddPeerVPNFlavor(t *testing.T) {
	f := happyPathRunner()
	c := NewClient(f, "vpn.example.com", t.TempDir())

	path, _, err := c.AddPeer("alice.vpn")
	if err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if filepath.Ext(path) != ".vpn" {
		t.Fatalf("artifact extension = %q, want .vpn", filepath.Ext(path))
	}
	text, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	if !strings.HasPrefix(string(text), "vpn://\n") {
		t.Error("vpn flavor artifact must start with the vpn:// line")
	}
}

func TestCheckContainerNotRoot(t *testing.T) {
	f := &fakeRunner{}
	f.respond("whoami", Result{Stdout: "ubuntu"})
	c := NewClient(f, "host", t.TempDir())

	err := c.checkContainer()
	var sshErr *SSHError
	if !errors.As(err, &sshErr) {
		t.Fatalf("expected *SSHError, got %T: %v", err, err)
	}
	if sshErr.Stdout != "ubuntu" {
		t.Errorf("error stdout = %q, want ubuntu", sshErr.Stdout)
	}
	if sshErr.Cmd != "whoami" {
		t.Errorf("error cmd = %q, want whoami", sshErr.Cmd)
	}
}

func TestCheckContainerCommandError(t *testing.T) {
	f := &fakeRunner{}
	f.respond("whoami", Result{Stderr: "sh: whoami: not found", ExitCode: 127})
	c := NewClient(f, "host", t.TempDir())

	var sshErr *SSHError
	if err := c.checkContainer(); !errors.As(err, &sshErr) {
		t.Fatalf("expected *SSHError, got %T: %v", err, err)
	}
}

func TestGeneratePrivateKeyToleratesWarning(t *testing.T) {
	f := &fakeRunner{}
	f.respond("wg genkey", Result{Stderr: "Warning: AmneziaWG obfuscation active"})
	f.respond("cat "+tmpPrivateKeyPath, Result{Stdout: "PK1"})
	c := NewClient(f, "host", t.TempDir())

	key, err := c.generatePrivateKey()
	if err != nil {
		t.Fatalf("a Warning-prefixed stderr must not fail key generation: %v", err)
	}
	if key != "PK1" {
		t.Errorf("key = %q, want PK1", key)
	}
}

func TestGeneratePrivateKeyFatalStderr(t *testing.T) {
	f := &fakeRunner{}
	f.respond("wg genkey", Result{Stderr: "fatal: no such device", ExitCode: 1})
	c := NewClient(f, "host", t.TempDir())

	_, err := c.generatePrivateKey()
	var sshErr *SSHError
	if !errors.As(err, &sshErr) {
		t.Fatalf("expected *SSHError, got %T: %v", err, err)
	}
}

func TestGeneratePublicKeyAnyStderrFatal(t *testing.T) {
	f := &fakeRunner{}
	f.respond("wg pubkey", Result{Stderr: "Warning: something"})
	c := NewClient(f, "host", t.TempDir())

	_, err := c.generatePublicKey()
	var sshErr *SSHError
	if !errors.As(err, &sshErr) {
		t.Fatalf("public key derivation must fail on any stderr, got %T: %v", err, err)
	}
}

func TestAllocateIP(t *testing.T) {
	tests := []struct {
		name    string
		lastIP  string
		want    string
		wantErr bool
	}{
		{"next host", "10.0.0.5/32", "10.0.0.6/32", false},
		{"octet rollover", "10.0.0.255/32", "10.0.1.0/32", false},
		{"interface address fallback", "10.8.1.1/24", "10.8.1.2/32", false},
		{"unparsable", "not-an-ip/32", "", true},
		{"empty scan", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeRunner{}
			f.respond("awk", Result{Stdout: tt.lastIP})
			c := NewClient(f, "host", t.TempDir())

			got, err := c.allocateIP()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected a validation error for %q, got %q", tt.lastIP, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("allocateIP: %v", err)
			}
			if got != tt.want {
				t.Errorf("allocateIP = %q, want %q", got, tt.want)
			}
		})
	}
}

// A config with neither peers nor an interface address yields nothing to
// allocate from. The pipeline must stop before mutating server state: an
// empty allocation would append `AllowedIPs = ` to wg0.conf and render an
// artifact with an empty Address, and the closing wg-quick reload would then
// fail on a config the server is already carrying.
func TestAddPeerEmptyAddressScanAborts(t *testing.T) {
	f := &fakeRunner{}
	f.respond("whoami", Result{Stdout: "root"})
	f.respond("cat "+tmpPrivateKeyPath, Result{Stdout: "PK1"})
	f.respond("cat "+tmpPublicKeyPath, Result{Stdout: "PUB1"})
	f.respond("cat "+serverPubKeyPath, Result{Stdout: "SPUB"})
	f.respond("awk", Result{Stdout: ""})
	c := NewClient(f, "vpn.example.com", t.TempDir())

	_, _, err := c.AddPeer("alice.conf")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
	if cfgErr.File != wgConfPath {
		t.Errorf("error file = %q, want %q", cfgErr.File, wgConfPath)
	}
	if n := f.countIssued("printf"); n != 0 {
		t.Errorf("peer block was appended %d times despite failed allocation", n)
	}
	if n := f.countIssued("wg-quick"); n != 0 {
		t.Errorf("interface was reloaded %d times despite failed allocation", n)
	}
	if len(f.oneShots) != 0 {
		t.Errorf("server files were rewritten despite failed allocation: %v", f.oneShots)
	}
}

func TestAllocateIPReadError(t *testing.T) {
	f := &fakeRunner{}
	f.respond("awk", Result{Stderr: "awk: can't open file", ExitCode: 2})
	c := NewClient(f, "host", t.TempDir())

	_, err := c.allocateIP()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
	if cfgErr.File != wgConfPath {
		t.Errorf("error file = %q, want %q", cfgErr.File, wgConfPath)
	}
}

func TestInterfaceParams(t *testing.T) {
	f := &fakeRunner{}
	f.respond("cat "+wgConfPath, Result{Stdout: testServerConf})
	c := NewClient(f, "host", t.TempDir())

	params, port, err := c.interfaceParams()
	if err != nil {
		t.Fatalf("interfaceParams: %v", err)
	}
	if port != 51820 {
		t.Errorf("listen port = %d, want 51820", port)
	}
	if len(params) != 9 {
		t.Fatalf("expected 9 obfuscation parameters, got %d: %v", len(params), params)
	}
	if params[0].Key != "Jc" || params[0].Value != "4" {
		t.Errorf("first scraped parameter = %+v, want Jc = 4", params[0])
	}
	for _, p := range params {
		if p.Key == "Address" || p.Key == "PrivateKey" || p.Key == "ListenPort" {
			t.Errorf("parameter %s must not be scraped into client configs", p.Key)
		}
	}
}

func TestInterfaceParamsDefaultPort(t *testing.T) {
	f := &fakeRunner{}
	f.respond("cat "+wgConfPath, Result{Stdout: "[Interface]\nJc = 4\n"})
	c := NewClient(f, "host", t.TempDir())

	_, port, err := c.interfaceParams()
	if err != nil {
		t.Fatalf("interfaceParams: %v", err)
	}
	if port != 1 {
		t.Errorf("missing ListenPort must default to 1, got %d", port)
	}
}

func TestRebootInterfaceWarningTolerated(t *testing.T) {
	f := &fakeRunner{}
	f.respond("wg-quick", Result{Stderr: "Warning: `/etc/wireguard` world accessible"})
	c := NewClient(f, "host", t.TempDir())

	if err := c.rebootInterface(); err != nil {
		t.Fatalf("Warning-prefixed stderr must not fail the reload: %v", err)
	}
	if n := f.countIssued("wg-quick"); n != 2 {
		t.Errorf("expected down and up to both run, got %d commands", n)
	}
}

func TestRebootInterfaceFatalStderr(t *testing.T) {
	f := &fakeRunner{}
	f.respond("wg-quick down", Result{Stderr: "RTNETLINK answers: operation not permitted", ExitCode: 1})
	c := NewClient(f, "host", t.TempDir())

	err := c.rebootInterface()
	var sshErr *SSHError
	if !errors.As(err, &sshErr) {
		t.Fatalf("expected *SSHError, got %T: %v", err, err)
	}
	if n := f.countIssued("wg-quick up"); n != 0 {
		t.Error("up must not run after down failed")
	}
}

func TestAddPeerAbortsOnFirstFailure(t *testing.T) {
	f := &fakeRunner{}
	f.respond("whoami", Result{Stdout: "root"})
	f.respond("cat "+tmpPrivateKeyPath, Result{Stdout: "PK1"})
	f.respond("wg pubkey", Result{Stderr: "fatal"})
	c := NewClient(f, "host", t.TempDir())

	_, _, err := c.AddPeer("alice.conf")
	if err == nil {
		t.Fatal("expected AddPeer to fail")
	}
	if len(f.oneShots) != 0 {
		t.Error("no clients-table write may happen after an earlier step failed")
	}
	if n := f.countIssued("wg-quick"); n != 0 {
		t.Error("no interface reload may happen after an earlier step failed")
	}
}

func TestClientDisplayNameUnique(t *testing.T) {
	a := clientDisplayName("alice.conf")
	b := clientDisplayName("alice.conf")
	if !strings.HasPrefix(a, "alice-") || !strings.HasPrefix(b, "alice-") {
		t.Fatalf("display names %q/%q do not derive from the stem", a, b)
	}
	if a == b {
		t.Errorf("repeat requests produced colliding display names: %q", a)
	}
}

func TestNextHostAddress(t *testing.T) {
	if _, err := nextHostAddress("10.0.0.300/32"); err == nil {
		t.Error("out-of-range octet must be a validation error")
	}
	got, err := nextHostAddress("10.0.0.5/32")
	if err != nil {
		t.Fatalf("nextHostAddress: %v", err)
	}
	if got != "10.0.0.6/32" {
		t.Errorf("nextHostAddress = %q, want 10.0.0.6/32", got)
	}
}
