package awg

import "testing"

func TestSplitAtMarker(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		stdout   string
		exitCode int
	}{
		{"success", "root\n__EXIT__:0\n", "root", 0},
		{"failure code", "__EXIT__:127\n", "", 127},
		{"multi line output", "line1\nline2\n__EXIT__:0\n", "line1\nline2", 0},
		{"no output", "__EXIT__:0\n", "", 0},
		{"marker mid line", "partial__EXIT__:1\n", "partial", 1},
		{"malformed tail", "out\n__EXIT__:\n", "out", 0},
		{"missing colon", "out\n__EXIT__garbage\n", "out", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, code := splitAtMarker(tt.output, "cmd")
			if stdout != tt.stdout {
				t.Errorf("stdout = %q, want %q", stdout, tt.stdout)
			}
			if code != tt.exitCode {
				t.Errorf("exit code = %d, want %d", code, tt.exitCode)
			}
		})
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "'plain'"},
		{"with space", "'with space'"},
		{"it's", `'it'\''s'`},
		{"cat > /opt/file << 'EOF'", `'cat > /opt/file << '\''EOF'\'''`},
	}
	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteSingleCmdRequiresConnect(t *testing.T) {
	tr := &Transport{Host: "example.com", User: "root", Container: "amnezia-awg"}
	_, err := tr.WriteSingleCmd("whoami")
	if err == nil {
		t.Fatal("expected an error before Connect")
	}
}

func TestOneShotRequiresConnect(t *testing.T) {
	tr := &Transport{Host: "example.com", User: "root", Container: "amnezia-awg"}
	if _, err := tr.OneShotInContainer("true"); err == nil {
		t.Fatal("expected an error before Connect")
	}
}

func TestCloseWithoutConnect(t *testing.T) {
	tr := &Transport{Host: "example.com"}
	tr.Close()
	tr.Close()
}
