// Package trapreceiver turns asynchronous SNMP traps into immediate
// single-device refreshes.
//
// The collection engine polls the proxy fleet on a schedule; the trap
// receiver is the push path. When a monitored proxy emits a coldStart,
// linkDown or linkUp notification its state just changed, and waiting for the
// next cycle would leave the snapshot stale. The receiver listens on UDP,
// parses each trap via snmp/trap, filters to configured devices and emits the
// matching models.Device on its output channel, debounced per host so a trap
// storm cannot flood the collector.
//
// gosnmp's TrapListener is the UDP engine; protocol-level parsing lives in
// snmp/trap.
package trapreceiver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/vpbank/proxy_monitor/models"
	snmptrap "github.com/vpbank/proxy_monitor/snmp/trap"
)

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config controls the TrapReceiver behaviour.
type Config struct {
	// ListenAddr is the UDP address to bind to (default "0.0.0.0:162").
	ListenAddr string

	// Community is the SNMP community string for v1/v2c source validation.
	// If empty, all communities are accepted.
	Community string

	// SNMPVersion controls which SNMP version the listener accepts.
	// Defaults to gosnmp.Version2c.
	SNMPVersion gosnmp.SnmpVersion

	// CloseTimeout is the maximum time to wait for the UDP socket to close
	// gracefully (default 3 s, matching gosnmp's default).
	CloseTimeout time.Duration

	// Debounce is the minimum gap between two refreshes of the same host
	// (default 10 s). A proxy that flaps its link emits linkDown/linkUp
	// pairs in quick succession; one refresh covers them all.
	Debounce time.Duration

	// OutputBufferSize is the capacity of the refresh channel (default 64).
	OutputBufferSize int

	// ParseFunc replaces the default snmp/trap.Parse function. Used in tests.
	ParseFunc ParseFunc

	// Now supplies the clock for the debounce window. nil defaults to
	// time.Now.
	Now func() time.Time
}

// ParseFunc is the signature of the trap-parsing function. Callers may inject
// a stub for testing.
type ParseFunc func(pkt *gosnmp.SnmpPacket, addr *net.UDPAddr) (snmptrap.Event, error)

// DeviceLookup resolves a trap sender to a configured device.
// *config.Config satisfies it.
type DeviceLookup interface {
	DeviceByHost(host string) (models.Device, bool)
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ListenAddr == "" {
		out.ListenAddr = "0.0.0.0:162"
	}
	if out.SNMPVersion == 0 {
		out.SNMPVersion = gosnmp.Version2c
	}
	if out.CloseTimeout == 0 {
		out.CloseTimeout = 3 * time.Second
	}
	if out.Debounce == 0 {
		out.Debounce = 10 * time.Second
	}
	if out.OutputBufferSize <= 0 {
		out.OutputBufferSize = 64
	}
	if out.ParseFunc == nil {
		out.ParseFunc = snmptrap.Parse
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// TrapReceiver
// ─────────────────────────────────────────────────────────────────────────────

// TrapReceiver listens on UDP for SNMP traps and informs, and emits the
// devices that should be refreshed on its output channel.
//
// It runs independently of the scheduled collection cycles — the two paths
// meet again in the app, which runs the actual refresh.
type TrapReceiver struct {
	cfg     Config
	devices DeviceLookup
	logger  *slog.Logger

	output chan models.Device // produced here, consumed by the app

	listener *gosnmp.TrapListener

	debounceMu  sync.Mutex
	lastRefresh map[string]time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a TrapReceiver. devices resolves trap senders to configured
// devices; traps from hosts it does not know are dropped.
func New(cfg Config, devices DeviceLookup, logger *slog.Logger) *TrapReceiver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	c := cfg.withDefaults()
	return &TrapReceiver{
		cfg:         c,
		devices:     devices,
		logger:      logger,
		output:      make(chan models.Device, c.OutputBufferSize),
		lastRefresh: make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Output returns the read-only channel that delivers devices to refresh.
// The channel is closed when the TrapReceiver stops.
func (r *TrapReceiver) Output() <-chan models.Device {
	return r.output
}

// ListenAddr returns the address the receiver is (or will be) listening on.
func (r *TrapReceiver) ListenAddr() string {
	return r.cfg.ListenAddr
}

// Start begins listening for traps. It blocks until the listener is ready
// (or until ctx is cancelled). Refreshes are dispatched to Output()
// asynchronously. Start returns an error if the listener cannot bind to the
// configured address.
//
// Call Stop (or cancel ctx) to terminate.
func (r *TrapReceiver) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("trapreceiver: already running")
	}
	r.running = true
	r.mu.Unlock()

	tl := gosnmp.NewTrapListener()
	tl.Params = &gosnmp.GoSNMP{
		Version:   r.cfg.SNMPVersion,
		Community: r.cfg.Community,
		Logger:    gosnmp.NewLogger(slogAdapter{r.logger}),
	}
	tl.CloseTimeout = r.cfg.CloseTimeout
	tl.OnNewTrap = r.handleTrap

	r.listener = tl

	// errCh receives the first error from tl.Listen (which blocks).
	errCh := make(chan error, 1)
	go func() {
		defer close(r.doneCh)
		errCh <- tl.Listen(r.cfg.ListenAddr)
	}()

	// Wait for the listener to be ready or for an early bind error.
	select {
	case <-tl.Listening():
		r.logger.Info("trapreceiver: listening", "addr", r.cfg.ListenAddr)
	case err := <-errCh:
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return fmt.Errorf("trapreceiver: listen %s: %w", r.cfg.ListenAddr, err)
	case <-ctx.Done():
		tl.Close()
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return ctx.Err()
	}

	// Goroutine: stop when ctx is cancelled.
	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-r.stopCh:
		}
	}()

	return nil
}

// Stop shuts down the UDP listener and closes the output channel. It is safe
// to call Stop multiple times.
func (r *TrapReceiver) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	r.running = false

	if r.listener != nil {
		r.listener.Close()
	}
	close(r.stopCh)

	// Wait for the listen goroutine to exit before closing output so that no
	// further writes happen after close.
	<-r.doneCh
	close(r.output)

	r.logger.Info("trapreceiver: stopped")
}

// ─────────────────────────────────────────────────────────────────────────────
// Trap handling
// ─────────────────────────────────────────────────────────────────────────────

// handleTrap is the gosnmp TrapHandlerFunc callback. It runs in the gosnmp
// internal listener goroutine so it must not block for long.
func (r *TrapReceiver) handleTrap(pkt *gosnmp.SnmpPacket, addr *net.UDPAddr) {
	ev, err := r.cfg.ParseFunc(pkt, addr)
	if err != nil {
		r.logger.Warn("trapreceiver: parse error", "remote", addr, "error", err)
		return
	}

	r.logger.Debug("trapreceiver: trap received",
		"host", ev.Host, "oid", ev.OID, "version", ev.Version)

	if !ev.TriggersRefresh() {
		return
	}

	var dev models.Device
	ok := false
	if r.devices != nil {
		dev, ok = r.devices.DeviceByHost(ev.Host)
	}
	if !ok {
		r.logger.Warn("trapreceiver: trap from unknown host — dropped",
			"host", ev.Host, "oid", ev.OID)
		return
	}

	if !r.allowRefresh(ev.Host) {
		r.logger.Debug("trapreceiver: refresh debounced", "host", ev.Host)
		return
	}

	select {
	case r.output <- dev:
		r.logger.Info("trapreceiver: device refresh queued",
			"device", dev.DisplayName(), "oid", ev.OID)
	default:
		r.logger.Warn("trapreceiver: output buffer full — refresh dropped",
			"device", dev.DisplayName())
	}
}

// allowRefresh applies the per-host debounce window and records the refresh
// time when it passes.
func (r *TrapReceiver) allowRefresh(host string) bool {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()

	now := r.cfg.Now()
	if last, ok := r.lastRefresh[host]; ok && now.Sub(last) < r.cfg.Debounce {
		return false
	}
	r.lastRefresh[host] = now
	return true
}

// ─────────────────────────────────────────────────────────────────────────────
// Utilities
// ─────────────────────────────────────────────────────────────────────────────

type noopWriter struct{}

func (noopWriter) Write(b []byte) (int, error) { return len(b), nil }

// slogAdapter bridges slog.Logger to gosnmp's Logger interface (Printf-style).
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Print(v ...interface{}) {
	a.l.Debug(fmt.Sprint(v...))
}

func (a slogAdapter) Printf(format string, v ...interface{}) {
	a.l.Debug(fmt.Sprintf(format, v...))
}
