package awg

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestClientsTableAddNew(t *testing.T) {
	f := &fakeRunner{}
	f.respond("cat "+clientsTablePath, Result{Stdout: "[]"})
	table := clientsTable{runner: f}

	ok, err := table.add("PUB1", "alice-abc123")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !ok {
		t.Fatal("add reported failure")
	}
	if len(f.oneShots) != 1 {
		t.Fatalf("expected one table rewrite, got %d", len(f.oneShots))
	}
	if !strings.Contains(f.oneShots[0], `"clientId": "PUB1"`) {
		t.Errorf("rewrite does not contain the new entry: %s", f.oneShots[0])
	}
	if !strings.Contains(f.oneShots[0], `"clientName": "alice-abc123"`) {
		t.Errorf("rewrite does not contain the display name: %s", f.oneShots[0])
	}
}

func TestClientsTableAddIdempotent(t *testing.T) {
	existing := `[{"clientId": "PUB1", "userData": {"clientName": "alice", "creationDate": "Mon Jan  2 15:04:05 2006"}}]`
	f := &fakeRunner{}
	f.respond("cat "+clientsTablePath, Result{Stdout: existing})
	table := clientsTable{runner: f}

	ok, err := table.add("PUB1", "alice")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !ok {
		t.Fatal("adding an existing key must report success")
	}
	if len(f.oneShots) != 0 {
		t.Fatalf("existing key must not trigger a rewrite, got %d", len(f.oneShots))
	}
}

func TestClientsTableAddReadError(t *testing.T) {
	f := &fakeRunner{}
	f.respond("cat "+clientsTablePath, Result{Stderr: "cat: can't open", ExitCode: 1})
	table := clientsTable{runner: f}

	_, err := table.add("PUB1", "alice")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
	if cfgErr.File != clientsTablePath {
		t.Errorf("error file = %q, want %q", cfgErr.File, clientsTablePath)
	}
	if !strings.Contains(cfgErr.Stderr, "can't open") {
		t.Errorf("error does not carry stderr: %v", cfgErr)
	}
}

func TestClientsTableBadJSON(t *testing.T) {
	f := &fakeRunner{}
	f.respond("cat "+clientsTablePath, Result{Stdout: "not json at all"})
	table := clientsTable{runner: f}

	_, err := table.add("PUB1", "alice")
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("expected raw *json.SyntaxError, got %T: %v", err, err)
	}

	_, err = table.remove("PUB1")
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("remove: expected raw *json.SyntaxError, got %T: %v", err, err)
	}
}

func TestClientsTableWriteError(t *testing.T) {
	f := &fakeRunner{}
	f.respond("cat "+clientsTablePath, Result{Stdout: "[]"})
	f.respond("cat > "+clientsTablePath, Result{Stderr: "disk full", ExitCode: 1})
	table := clientsTable{runner: f}

	_, err := table.add("PUB1", "alice")
	var sshErr *SSHError
	if !errors.As(err, &sshErr) {
		t.Fatalf("expected *SSHError, got %T: %v", err, err)
	}
	if !strings.Contains(sshErr.Stderr, "disk full") {
		t.Errorf("error does not carry stderr: %v", sshErr)
	}
}

func TestClientsTableRemoveRoundTrip(t *testing.T) {
	withEntry := `[{"clientId": "PUB1", "userData": {"clientName": "alice", "creationDate": "Mon Jan  2 15:04:05 2006"}}]`
	f := &fakeRunner{}
	f.respond("cat "+clientsTablePath, Result{Stdout: withEntry})
	table := clientsTable{runner: f}

	ok, err := table.remove("PUB1")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !ok {
		t.Fatal("remove of a present key must report true")
	}
	if len(f.oneShots) != 1 {
		t.Fatalf("expected one rewrite, got %d", len(f.oneShots))
	}
	if strings.Contains(f.oneShots[0], "PUB1") {
		t.Error("rewrite still contains the removed key")
	}

	// Second removal runs against a table without the entry.
	f2 := &fakeRunner{}
	f2.respond("cat "+clientsTablePath, Result{Stdout: "[]"})
	table2 := clientsTable{runner: f2}
	ok, err = table2.remove("PUB1")
	if err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if ok {
		t.Fatal("removing an absent key must report false")
	}
	if len(f2.oneShots) != 0 {
		t.Fatal("absent key must not trigger a rewrite")
	}
}
