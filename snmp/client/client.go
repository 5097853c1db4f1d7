// Package client implements the blocking SNMPv2c GET client: one UDP socket
// per request, request/response framing from snmp/ber, and strict timeout
// attribution so that "device did not answer" is always distinguishable from
// "device answered garbage".
//
// The blocking exchange is the unit of work the collector offloads to its
// own goroutines; Get wraps it with an outer deadline slightly larger than
// the socket deadline so an expired wait is attributable to the network, not
// to scheduling.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/vpbank/proxy_monitor/snmp/ber"
)

// requestIDs is the process-wide request-id counter. IDs are monotonically
// increasing for the process lifetime and exist for log correlation only.
var requestIDs atomic.Uint32

// nextRequestID returns the next request id, starting at 1.
func nextRequestID() uint32 {
	return requestIDs.Add(1)
}

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

const (
	defaultTimeout = 10 * time.Second
	defaultPort    = 161

	// taskGrace is added to the socket timeout for the outer deadline, so
	// the socket deadline always fires first on an unresponsive device.
	taskGrace = 2 * time.Second

	// recvBufferSize bounds a reply datagram. A single scalar varbind never
	// approaches an Ethernet MTU.
	recvBufferSize = 1500
)

// Config controls Client behaviour.
type Config struct {
	// Timeout is the socket read and write deadline. Default 10s.
	Timeout time.Duration

	// Port is the agent UDP port. Default 161.
	Port int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Port <= 0 {
		c.Port = defaultPort
	}
	return c
}

// ─────────────────────────────────────────────────────────────────────────────
// Client
// ─────────────────────────────────────────────────────────────────────────────

// Client issues SNMPv2c GET requests. It is stateless apart from its
// configuration and safe for concurrent use; every request opens its own
// socket.
type Client struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs a Client. A nil logger is replaced with a no-op logger.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Client{cfg: cfg.withDefaults(), logger: logger}
}

// Timeout returns the configured socket deadline.
func (c *Client) Timeout() time.Duration {
	return c.cfg.Timeout
}

// Get fetches one scalar numeric OID from host. The blocking exchange runs
// on its own goroutine; Get waits for it under ctx plus an outer deadline of
// socket timeout + 2s, and converts a panic in the exchange into an error so
// a misbehaving agent can never take the calling task down.
func (c *Client) Get(ctx context.Context, host, community, oid string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout+taskGrace)
	defer cancel()

	type outcome struct {
		value float64
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &TaskError{Host: host, OID: oid, Cause: fmt.Sprintf("panic: %v", r)}}
			}
		}()
		v, err := c.get(host, community, oid)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		return 0, &TaskError{Host: host, OID: oid, Cause: ctx.Err().Error()}
	}
}

// get performs one complete blocking request/response exchange.
func (c *Client) get(host, community, oid string) (float64, error) {
	reqID := nextRequestID()

	pkt, err := ber.EncodeGetRequest(int32(reqID), community, oid)
	if err != nil {
		return 0, err
	}

	// Literal IPv4 addresses resolve directly; anything else goes to DNS.
	// Either way a failure is fatal for this call, never retried.
	raddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(c.cfg.Port)))
	if err != nil {
		return 0, &TransportError{Op: "resolve " + host, Err: err}
	}

	conn, err := bindSocket()
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
		return 0, &TransportError{Op: "set deadline", Err: err}
	}

	n, err := conn.WriteToUDP(pkt, raddr)
	if err != nil {
		return 0, &TransportError{Op: "send", Err: err}
	}
	if n != len(pkt) {
		return 0, &TransportError{Op: "send", Err: fmt.Errorf("short write: %d of %d bytes", n, len(pkt))}
	}

	buf := make([]byte, recvBufferSize)
	n, _, err = conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, &TimeoutError{Host: host, OID: oid, RequestID: reqID, Wait: c.cfg.Timeout}
		}
		return 0, &TransportError{Op: "receive", Err: err}
	}

	resp, err := ber.DecodeGetResponse(buf[:n])
	if err != nil {
		return 0, err
	}

	if resp.RequestID != int32(reqID) {
		// Lenient by choice: some agents in the wild do not echo the id.
		c.logger.Warn("client: request id mismatch",
			"host", host, "oid", oid, "sent", reqID, "received", resp.RequestID)
	}

	c.logger.Debug("client: get ok", "host", host, "oid", oid, "value", resp.Value, "request_id", reqID)
	return resp.Value, nil
}

// bindSocket binds an ephemeral UDP port, falling back to loopback when the
// wildcard bind is refused (sandboxed environments).
func bindSocket() (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err == nil {
		return conn, nil
	}
	conn, fallbackErr := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if fallbackErr != nil {
		return nil, &TransportError{Op: "bind", Err: err}
	}
	return conn, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// no-op logger writer
// ─────────────────────────────────────────────────────────────────────────────

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
