// Package remote runs single commands on hosts over SSH.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/jbweber/homelab/brain/internal/domain"
	"github.com/jbweber/homelab/brain/internal/logging"
)

const defaultPort = 22

// Target is a host and the credentials used to reach it.
type Target struct {
	Host     string
	Port     int // 22 when zero
	User     string
	Password string
	Timeout  time.Duration // overrides the executor default when non-zero
}

// HostTarget returns the target for a host's saved OS credentials.
func HostTarget(h domain.Host) Target {
	return Target{Host: h.IP, User: h.OSUser, Password: h.OSPassword}
}

func (t Target) address() string {
	port := t.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// Executor runs one command on a target and returns its standard output.
type Executor interface {
	Execute(ctx context.Context, target Target, cmd string) (string, error)
}

// ErrTimeout is returned when a command does not finish within its timeout.
var ErrTimeout = errors.New("remote command timed out")

// SSHExecutor implements Executor with password authenticated SSH sessions.
// One connection is opened per command.
type SSHExecutor struct {
	timeout time.Duration
}

// NewSSHExecutor creates an executor. timeout bounds both the connection
// handshake and the command run.
func NewSSHExecutor(timeout time.Duration) *SSHExecutor {
	return &SSHExecutor{timeout: timeout}
}

// Execute implements Executor. Output written to stderr is logged and a
// non-zero exit status is logged but not returned; callers verify the effect
// of the command themselves.
func (e *SSHExecutor) Execute(ctx context.Context, target Target, cmd string) (string, error) {
	timeout := target.Timeout
	if timeout == 0 {
		timeout = e.timeout
	}
	log := logging.FromContext(ctx).WithFields(logrus.Fields{"host": target.Host, "user": target.User})

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := dial(ctx, target, timeout)
	if err != nil {
		return "", err
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("open session on %s: %w", target.Host, err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	log.WithField("cmd", cmd).Debug("running remote command")
	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		// Closing the client unblocks Run.
		client.Close()
		return "", fmt.Errorf("%q on %s: %w", cmd, target.Host, ErrTimeout)
	}

	if s := strings.TrimSpace(stderr.String()); s != "" {
		log.WithField("cmd", cmd).Warnf("remote stderr: %s", s)
	}
	var exitErr *ssh.ExitError
	switch {
	case errors.As(err, &exitErr):
		log.WithField("cmd", cmd).Warnf("remote command exited with status %d", exitErr.ExitStatus())
	case err != nil:
		return "", fmt.Errorf("%q on %s: %w", cmd, target.Host, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func dial(ctx context.Context, target Target, timeout time.Duration) (*ssh.Client, error) {
	addr := target.address()
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}

	cfg := &ssh.ClientConfig{
		User:            target.User,
		Auth:            []ssh.AuthMethod{ssh.Password(target.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
		Timeout:         timeout,
	}
	// Bound the handshake; cleared once the session is established.
	_ = conn.SetDeadline(time.Now().Add(timeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}
