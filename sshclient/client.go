// Package sshclient runs the remote commands behind metrics whose source is
// SSH rather than SNMP. It keeps a small per-device pool of authenticated
// connections so that a 10-second polling cadence does not pay a full TCP +
// key-exchange handshake on every cycle.
package sshclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/vpbank/proxy_monitor/models"
)

// memoryCommand computes the used-memory percentage from /proc/meminfo on
// the remote host. MemAvailable is kernel-estimated reclaimable memory, so
// the result matches what `free` reports as actually used.
const memoryCommand = `awk '/MemTotal/ {total=$2} /MemAvailable/ {available=$2} END {printf "%.0f", 100 - (available / total * 100)}' /proc/meminfo`

// Conn is one authenticated SSH connection. The production implementation
// wraps *ssh.Client; tests substitute function-field fakes through Options.Dial.
type Conn interface {
	// Output runs command in a fresh session and returns its stdout.
	Output(command string) ([]byte, error)
	Close() error
}

// DialFunc establishes an authenticated connection to addr ("host:port").
type DialFunc func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (Conn, error)

// ─────────────────────────────────────────────────────────────────────────────
// Options
// ─────────────────────────────────────────────────────────────────────────────

// Options configures the Client.
type Options struct {
	// ConnectTimeout bounds TCP connect plus SSH handshake when the caller's
	// context carries no earlier deadline (default 15s).
	ConnectTimeout time.Duration

	// MaxIdlePerDevice is the number of idle connections kept per device
	// (default 2). Excess connections returned after use are closed.
	MaxIdlePerDevice int

	// IdleTimeout discards pooled connections idle for longer than this on
	// their next reuse attempt. Zero means no expiry.
	IdleTimeout time.Duration

	// MaxPerDevice limits concurrent in-flight connections per device
	// (default 2).
	MaxPerDevice int

	// Dial creates new connections. Defaults to the x/crypto/ssh dialer.
	Dial DialFunc
}

func (o *Options) defaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 15 * time.Second
	}
	if o.MaxIdlePerDevice <= 0 {
		o.MaxIdlePerDevice = 2
	}
	if o.MaxPerDevice <= 0 {
		o.MaxPerDevice = 2
	}
	if o.Dial == nil {
		o.Dial = dialSSH
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Client
// ─────────────────────────────────────────────────────────────────────────────

// Client executes commands on monitored devices over SSH with password
// authentication. It is safe for concurrent use.
type Client struct {
	opts   Options
	logger *slog.Logger
	pool   *connPool
}

// New constructs a Client. A nil logger is replaced with a no-op logger.
func New(opts Options, logger *slog.Logger) *Client {
	opts.defaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Client{
		opts:   opts,
		logger: logger,
		pool:   newConnPool(opts),
	}
}

// MemoryPercent fetches the used-memory percentage of device by running the
// /proc/meminfo pipeline remotely. The result is clamped to [0, 100].
func (c *Client) MemoryPercent(ctx context.Context, device models.Device) (float64, error) {
	out, err := c.Run(ctx, device, memoryCommand)
	if err != nil {
		return 0, err
	}
	return ParseMemoryPercent(out)
}

// Run executes command on device and returns its stdout. The connection
// comes from the per-device pool; a healthy one goes back afterwards. When
// ctx expires mid-command the connection is torn down, which is the only
// way to unblock a remote exec over a dead link.
func (c *Client) Run(ctx context.Context, device models.Device, command string) (string, error) {
	addr := net.JoinHostPort(device.Host, strconv.Itoa(device.SSHPort))

	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.opts.ConnectTimeout)
		defer cancel()
	}

	conn, err := c.pool.get(dialCtx, addr, func(ctx context.Context) (Conn, error) {
		return c.opts.Dial(ctx, addr, c.clientConfig(device))
	})
	if err != nil {
		return "", fmt.Errorf("ssh %s: %w", addr, err)
	}

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := conn.Output(command)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		c.release(addr, conn, r.err)
		if r.err != nil {
			return "", fmt.Errorf("ssh %s: run command: %w", addr, r.err)
		}
		return string(r.out), nil

	case <-ctx.Done():
		conn.Close() // unblocks the exec goroutine
		go func() {
			<-done
			c.pool.discard(addr, conn)
		}()
		return "", fmt.Errorf("ssh %s: %w", addr, ctx.Err())
	}
}

// release puts conn back in the pool when it is still usable. A non-zero
// remote exit status travels as *ssh.ExitError and says nothing about the
// connection itself; anything else means the link is suspect.
func (c *Client) release(addr string, conn Conn, execErr error) {
	var exitErr *ssh.ExitError
	if execErr == nil || errors.As(execErr, &exitErr) {
		c.pool.put(addr, conn)
		return
	}
	c.pool.discard(addr, conn)
}

// Close drains every pooled connection.
func (c *Client) Close() error {
	return c.pool.close()
}

func (c *Client) clientConfig(device models.Device) *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User: device.Username,
		Auth: []ssh.AuthMethod{ssh.Password(device.Password)},
		// The appliances never publish host keys to a known_hosts
		// distribution; identity rests on the management network.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.opts.ConnectTimeout,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Real dialer
// ─────────────────────────────────────────────────────────────────────────────

// sshConn adapts *ssh.Client to Conn, opening one session per command.
type sshConn struct {
	client *ssh.Client
}

func (s *sshConn) Output(command string) ([]byte, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()
	return sess.Output(command)
}

func (s *sshConn) Close() error {
	return s.client.Close()
}

// dialSSH is the production DialFunc: a context-aware TCP dial followed by
// the SSH handshake.
func dialSSH(ctx context.Context, addr string, cfg *ssh.ClientConfig) (Conn, error) {
	var d net.Dialer
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	sshc, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return &sshConn{client: ssh.NewClient(sshc, chans, reqs)}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Output parsing
// ─────────────────────────────────────────────────────────────────────────────

// ParseMemoryPercent converts the remote pipeline's output into a usable
// percentage, clamped to [0, 100]. A host missing MemTotal or MemAvailable
// makes awk emit inf or nan, which is rejected rather than clamped.
func ParseMemoryPercent(output string) (float64, error) {
	trimmed := strings.TrimSpace(output)
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("parse memory percentage %q: %w", trimmed, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("memory percentage %q is not finite", trimmed)
	}
	return math.Min(100, math.Max(0, v)), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// no-op logger writer
// ─────────────────────────────────────────────────────────────────────────────

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
