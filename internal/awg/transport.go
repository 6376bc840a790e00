// Copyright (c) 2025 help-blocks
// vpnbot - Telegram bot for AmneziaWG peer provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package awg

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/helpblocks/vpnbot/internal/logging"
	"golang.org/x/crypto/ssh"
)

// exitMarker frames command completion on the interactive shell stream. The
// shell gives us no structured protocol, so every command is followed by an
// echo of this sentinel plus the exit status.
const exitMarker = "__EXIT__"

// stderrDrainTimeout bounds how long WriteSingleCmd waits for error output
// after a command finishes. An empty stderr is the normal case.
const stderrDrainTimeout = 100 * time.Millisecond

// dialTimeout is the TCP/SSH handshake timeout for Connect.
const dialTimeout = 10 * time.Second

// Result holds the captured output of one remote shell command. It is
// produced once per command and never mutated.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Cmd      string
}

// Runner abstracts the remote shell used by the provisioning and teardown
// pipelines, so tests can script command results without a server.
type Runner interface {
	// WriteSingleCmd executes one command on the interactive shell inside
	// the container and returns its framed result.
	WriteSingleCmd(cmd string) (Result, error)
	// RunCommands executes cmds in order, invoking yield after each one
	// completes. Iteration stops early when yield returns false.
	RunCommands(cmds []string, yield func(Result) bool) error
	// OneShotInContainer runs script through a fresh exec channel wrapped
	// in docker exec. Used for multi-line here-document file rewrites that
	// cannot pass through the sentinel-framed shell.
	OneShotInContainer(script string) (Result, error)
}

// Transport owns one SSH connection and one long-lived interactive shell
// spawned as `docker exec -i <container> sh` on the remote host. A Transport
// is not safe for concurrent use: the shell is a single serial stream, and
// the caller must hold it exclusively for the duration of a whole pipeline,
// not just a single command.
type Transport struct {
	Host      string
	User      string
	Port      int
	KeyFile   string
	Container string

	// HostKeyCallback verifies the server's host key. When nil the
	// connection is accepted without verification, mirroring a disabled
	// known-hosts policy.
	HostKeyCallback ssh.HostKeyCallback

	client *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser
	stdout *bufio.Reader
	errCh  chan string
}

var _ Runner = (*Transport)(nil)

// Connect establishes the SSH connection and starts the container shell.
// It is idempotent: a connected Transport logs and returns. Transport and
// authentication errors propagate unchanged so callers can tell network
// failures from protocol failures.
func (t *Transport) Connect() error {
	if t.client != nil {
		logging.Debugf("awg: already connected to %s", t.Host)
		return nil
	}

	hostKeyCallback := t.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	port := t.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(t.Host, strconv.Itoa(port))

	client, err := t.dial(addr, hostKeyCallback)
	if err != nil {
		return err
	}

	if err := t.openShell(client); err != nil {
		client.Close()
		return err
	}
	t.client = client
	logging.Debugf("awg: connected to %s, shell session open in container %s", t.Host, t.Container)
	return nil
}

// dial authenticates with the configured private key first and falls back to
// a running SSH agent when key auth is rejected.
func (t *Transport) dial(addr string, hostKeyCallback ssh.HostKeyCallback) (*ssh.Client, error) {
	var keyErr error
	if t.KeyFile != "" {
		keyData, err := os.ReadFile(t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read private key %s: %w", t.KeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("unable to parse private key %s: %w", t.KeyFile, err)
		}

		config := &ssh.ClientConfig{
			User:            t.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         dialTimeout,
		}
		client, err := ssh.Dial("tcp", addr, config)
		if err == nil {
			return client, nil
		}
		// Anything other than an auth rejection is a hard failure.
		if !strings.Contains(err.Error(), "unable to authenticate") {
			return nil, err
		}
		keyErr = err
	}

	agentClient := getSSHAgent()
	if agentClient == nil {
		if keyErr != nil {
			return nil, fmt.Errorf("key authentication failed and no SSH agent available for fallback: %w", keyErr)
		}
		return nil, fmt.Errorf("no authentication method available (no key file configured and no ssh agent found)")
	}

	config := &ssh.ClientConfig{
		User:            t.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(agentClient.Signers)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         dialTimeout,
	}
	return ssh.Dial("tcp", addr, config)
}

// openShell starts the interactive container shell and wires up its streams.
// Stderr is pumped into a channel by a background goroutine so command
// results can drain it with a bounded wait.
func (t *Transport) openShell(client *ssh.Client) error {
	sess, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("unable to open shell session: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return fmt.Errorf("unable to attach shell stdin: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return fmt.Errorf("unable to attach shell stdout: %w", err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		sess.Close()
		return fmt.Errorf("unable to attach shell stderr: %w", err)
	}

	if err := sess.Start("docker exec -i " + t.Container + " sh"); err != nil {
		sess.Close()
		return fmt.Errorf("unable to start container shell: %w", err)
	}

	errCh := make(chan string, 64)
	go func() {
		r := bufio.NewReader(stderr)
		for {
			line, err := r.ReadString('\n')
			if line != "" {
				errCh <- line
			}
			if err != nil {
				close(errCh)
				return
			}
		}
	}()

	t.sess = sess
	t.stdin = stdin
	t.stdout = bufio.NewReader(stdout)
	t.errCh = errCh
	return nil
}

// WriteSingleCmd writes one command to the shell, reads stdout until the exit
// sentinel appears, then drains stderr with a short bounded wait. Output may
// arrive across any number of reads before the sentinel; everything before it
// is the command's stdout. A malformed sentinel tail parses as exit code 0
// for compatibility with the original protocol, but is logged since it
// usually indicates a framing bug.
func (t *Transport) WriteSingleCmd(cmd string) (Result, error) {
	if t.sess == nil {
		return Result{}, &SSHError{Message: "no active shell session, call Connect first", Cmd: cmd}
	}

	if _, err := fmt.Fprintf(t.stdin, "%s; echo %s:$?\n", cmd, exitMarker); err != nil {
		return Result{}, &SSHError{Message: "failed to write command to shell", Cmd: cmd, Cause: err}
	}

	var buf strings.Builder
	for {
		line, err := t.stdout.ReadString('\n')
		buf.WriteString(line)
		if strings.Contains(line, exitMarker) {
			break
		}
		if err != nil {
			return Result{}, &SSHError{Message: "shell stream closed before exit marker", Cmd: cmd, Stdout: buf.String(), Cause: err}
		}
	}

	stdout, exitCode := splitAtMarker(buf.String(), cmd)

	return Result{
		Stdout:   stdout,
		Stderr:   t.drainStderr(),
		ExitCode: exitCode,
		Cmd:      cmd,
	}, nil
}

// splitAtMarker splits accumulated shell output at the exit sentinel:
// everything before it is the command's stdout, the :N tail is the exit
// status. A malformed tail parses as 0 for compatibility with the original
// protocol, but is logged since it usually indicates a framing bug.
func splitAtMarker(output, cmd string) (string, int) {
	idx := strings.Index(output, exitMarker)
	stdout := strings.TrimSpace(output[:idx])
	tail := strings.TrimSpace(output[idx+len(exitMarker):])

	exitCode := 0
	code, ok := strings.CutPrefix(tail, ":")
	if ok {
		if n, err := strconv.Atoi(code); err == nil {
			exitCode = n
			return stdout, exitCode
		}
	}
	logging.Warnf("awg: malformed exit marker %q for command %q, assuming 0", tail, cmd)
	return stdout, 0
}

// drainStderr collects whatever error output is already available, waiting at
// most stderrDrainTimeout after the last line. No output within the window is
// the normal case and returns an empty string.
func (t *Transport) drainStderr() string {
	var buf strings.Builder
	timer := time.NewTimer(stderrDrainTimeout)
	defer timer.Stop()
	for {
		select {
		case line, ok := <-t.errCh:
			if !ok {
				return strings.TrimSpace(buf.String())
			}
			buf.WriteString(line)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stderrDrainTimeout)
		case <-timer.C:
			return strings.TrimSpace(buf.String())
		}
	}
}

// RunCommands executes cmds in order on the shell session, handing each
// result to yield as soon as the command finishes. The sequence is finite,
// forward-only and not restartable; yield returning false stops the batch.
func (t *Transport) RunCommands(cmds []string, yield func(Result) bool) error {
	for _, cmd := range cmds {
		res, err := t.WriteSingleCmd(cmd)
		if err != nil {
			return err
		}
		if !yield(res) {
			return nil
		}
	}
	return nil
}

// OneShotInContainer runs script through a fresh SSH exec channel, wrapped in
// a non-interactive docker exec. Unlike the interactive shell this gives a
// real exit status and clean stream separation, which file rewrites rely on.
func (t *Transport) OneShotInContainer(script string) (Result, error) {
	if t.client == nil {
		return Result{}, &SSHError{Message: "no active connection, call Connect first"}
	}

	sess, err := t.client.NewSession()
	if err != nil {
		return Result{}, &SSHError{Message: "failed to open exec session", Cause: err}
	}
	defer sess.Close()

	cmd := fmt.Sprintf("docker exec -i %s sh -c %s", t.Container, shellQuote(script))

	var stdout, stderr strings.Builder
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	exitCode := 0
	if err := sess.Run(cmd); err != nil {
		exitErr, ok := err.(*ssh.ExitError)
		if !ok {
			return Result{}, &SSHError{Message: "exec session failed", Cmd: cmd, Cause: err}
		}
		exitCode = exitErr.ExitStatus()
	}

	return Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Cmd:      cmd,
	}, nil
}

// Close ends the shell session and the connection. Safe to call multiple
// times and on a Transport that never connected; callers defer it so cleanup
// runs on every path out of a pipeline.
func (t *Transport) Close() {
	if t.sess != nil {
		// Ask the shell to exit cleanly before tearing the session down.
		_, _ = io.WriteString(t.stdin, "exit\n")
		_ = t.stdin.Close()
		_ = t.sess.Close()
		t.sess = nil
		t.stdin = nil
		t.stdout = nil
	}
	if t.client != nil {
		_ = t.client.Close()
		logging.Debugf("awg: connection to %s closed", t.Host)
		t.client = nil
	}
}

// shellQuote wraps s in single quotes for safe embedding in sh -c.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
