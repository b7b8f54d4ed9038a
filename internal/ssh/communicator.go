// Package ssh runs build commands on machines over SSH and manages the key
// crucible authenticates with.
package ssh

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/jbweber/crucible/internal/environment"
)

const (
	// Shell is the login shell commands are fed to on stdin.
	Shell = "bash -l"
	// SudoShell runs Shell as root, keeping the caller's environment.
	SudoShell = "sudo -E -H " + Shell

	defaultDialTimeout  = 10 * time.Second
	defaultPollInterval = 5 * time.Second
)

// Config addresses one machine.
type Config struct {
	Host   string
	Port   int
	User   string
	Signer ssh.Signer

	// DialTimeout bounds the TCP connect and handshake. Defaults to 10s.
	DialTimeout time.Duration
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) clientConfig() *ssh.ClientConfig {
	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	return &ssh.ClientConfig{
		User: c.User,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(c.Signer)},
		// Machines are recreated per build with fresh host keys.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}
}

// Communicator implements environment.Communicator over SSH. Every Execute
// opens its own connection.
type Communicator struct {
	cfg    Config
	logger *zap.Logger

	// PollInterval is the delay between AwaitServer attempts.
	PollInterval time.Duration
}

// New returns a Communicator for cfg.
func New(cfg Config, logger *zap.Logger) *Communicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Communicator{cfg: cfg, logger: logger, PollInterval: defaultPollInterval}
}

// Addr returns host:port.
func (c *Communicator) Addr() string {
	return c.cfg.addr()
}

func (c *Communicator) dial(ctx context.Context) (*ssh.Client, error) {
	cc := c.cfg.clientConfig()
	d := net.Dialer{Timeout: cc.Timeout}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.addr())
	if err != nil {
		return nil, fmt.Errorf("unable to connect to %s: %w", c.cfg.addr(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(cc.Timeout))
	}
	sc, chans, reqs, err := ssh.NewClientConn(conn, c.cfg.addr(), cc)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", c.cfg.addr(), err)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(sc, chans, reqs), nil
}

// Execute feeds command to a login shell on the machine and streams its
// output line by line to out. The returned status is the remote exit code.
// A nonzero status is not an error.
func (c *Communicator) Execute(ctx context.Context, command string, sudo bool, out environment.OutputFunc) (int, error) {
	client, err := c.dial(ctx)
	if err != nil {
		return -1, err
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return -1, fmt.Errorf("unable to create SSH session: %w", err)
	}
	defer func() { _ = session.Close() }()

	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	session.Stdin = strings.NewReader(command)

	stdout, err := session.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("unable to attach stdout: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("unable to attach stderr: %w", err)
	}

	shell := Shell
	if sudo {
		shell = SudoShell
	}
	if err := session.Start(shell); err != nil {
		return -1, fmt.Errorf("unable to start remote shell: %w", err)
	}

	var mu sync.Mutex
	deliver := func(kind environment.StreamKind, line []byte) {
		if out == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		out(kind, line)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); pump(stdout, environment.Stdout, deliver) }()
	go func() { defer wg.Done(); pump(stderr, environment.Stderr, deliver) }()

	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- session.Wait()
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = client.Close()
		<-done
		return -1, ctx.Err()
	case err := <-done:
		return exitStatus(err)
	}
}

func pump(r io.Reader, kind environment.StreamKind, deliver func(environment.StreamKind, []byte)) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			deliver(kind, line)
		}
		if err != nil {
			return
		}
	}
}

func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return -1, fmt.Errorf("remote command exited without status: %w", err)
	}
	return -1, fmt.Errorf("remote command failed: %w", err)
}

// AwaitServer polls until an SSH handshake succeeds or timeout elapses.
func (c *Communicator) AwaitServer(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interval := c.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		client, err := c.dial(ctx)
		if err == nil {
			_ = client.Close()
			return nil
		}
		c.logger.Debug("ssh not ready", zap.String("addr", c.cfg.addr()), zap.Error(err))

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("timed out waiting for SSH server at %s: %w", c.cfg.addr(), err)
			}
			return ctx.Err()
		case <-tick.C:
		}
	}
}
