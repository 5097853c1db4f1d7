package trapreceiver_test

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/vpbank/proxy_monitor/models"
	"github.com/vpbank/proxy_monitor/pkg/proxymonitor/trapreceiver"
	snmptrap "github.com/vpbank/proxy_monitor/snmp/trap"
)

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// staticLookup resolves hosts from a fixed device set.
type staticLookup map[string]models.Device

func (l staticLookup) DeviceByHost(host string) (models.Device, bool) {
	d, ok := l[host]
	return d, ok
}

// mkEvent produces a pre-built trap event.
func mkEvent(oid, host string) snmptrap.Event {
	return snmptrap.Event{
		Host:       host,
		OID:        oid,
		Version:    "2c",
		ReceivedAt: time.Now().UTC(),
	}
}

// stubParseFunc returns a ParseFunc that always produces a fixed event.
func stubParseFunc(ev snmptrap.Event) trapreceiver.ParseFunc {
	return func(_ *gosnmp.SnmpPacket, _ *net.UDPAddr) (snmptrap.Event, error) {
		return ev, nil
	}
}

// signalParseFunc is stubParseFunc plus a channel that signals every
// invocation, so tests can tell a packet has reached the handler.
func signalParseFunc(ev snmptrap.Event) (trapreceiver.ParseFunc, chan struct{}) {
	parsed := make(chan struct{}, 16)
	return func(_ *gosnmp.SnmpPacket, _ *net.UDPAddr) (snmptrap.Event, error) {
		parsed <- struct{}{}
		return ev, nil
	}, parsed
}

// errorParseFunc returns a ParseFunc that always errors.
func errorParseFunc() trapreceiver.ParseFunc {
	return func(_ *gosnmp.SnmpPacket, _ *net.UDPAddr) (snmptrap.Event, error) {
		return snmptrap.Event{}, fmt.Errorf("parse error")
	}
}

// freePort finds a free UDP port on localhost.
func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

// startReceiver starts a TrapReceiver and returns it with a cancel func.
func startReceiver(t *testing.T, cfg trapreceiver.Config, devices trapreceiver.DeviceLookup) (*trapreceiver.TrapReceiver, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := trapreceiver.New(cfg, devices, nil)
	if err := r.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	return r, cancel
}

// sendLinkDown delivers one well-formed v2c linkDown trap to the listener.
// The listener unmarshals the packet before invoking the handler, so even
// tests that stub ParseFunc must send valid SNMP bytes.
func sendLinkDown(t *testing.T, port int) {
	t.Helper()
	sender := &gosnmp.GoSNMP{
		Target:    "127.0.0.1",
		Port:      uint16(port), //nolint:gosec
		Version:   gosnmp.Version2c,
		Community: "public",
		Timeout:   2 * time.Second,
		Retries:   0,
	}
	if err := sender.Connect(); err != nil {
		t.Fatalf("sender.Connect: %v", err)
	}
	defer sender.Conn.Close()

	pkt := gosnmp.SnmpTrap{
		Variables: []gosnmp.SnmpPDU{
			{Name: ".1.3.6.1.2.1.1.3.0", Type: gosnmp.TimeTicks, Value: uint32(12345)},
			{Name: ".1.3.6.1.6.3.1.1.4.1.0", Type: gosnmp.ObjectIdentifier, Value: "1.3.6.1.6.3.1.1.5.3"},
		},
	}
	if _, err := sender.SendTrap(pkt); err != nil {
		t.Fatalf("SendTrap: %v", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Config / constructor
// ─────────────────────────────────────────────────────────────────────────────

func TestNew_NonNil(t *testing.T) {
	r := trapreceiver.New(trapreceiver.Config{}, nil, nil)
	if r == nil {
		t.Fatal("New returned nil")
	}
	if r.Output() == nil {
		t.Fatal("Output() returned nil channel")
	}
}

func TestNew_DefaultListenAddr(t *testing.T) {
	r := trapreceiver.New(trapreceiver.Config{}, nil, nil)
	if r.ListenAddr() == "" {
		t.Error("ListenAddr() should not be empty after defaults are applied")
	}
}

func TestNew_OutputBufferSize(t *testing.T) {
	r := trapreceiver.New(trapreceiver.Config{OutputBufferSize: 3}, nil, nil)
	if cap(r.Output()) != 3 {
		t.Errorf("output buf cap = %d, want 3", cap(r.Output()))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Start / Stop lifecycle
// ─────────────────────────────────────────────────────────────────────────────

func TestStart_BindsAndReturnsNil(t *testing.T) {
	port := freePort(t)
	cfg := trapreceiver.Config{
		ListenAddr: fmt.Sprintf("127.0.0.1:%d", port),
		ParseFunc:  stubParseFunc(mkEvent(snmptrap.OIDLinkDown, "10.0.0.1")),
	}
	r, cancel := startReceiver(t, cfg, nil)
	defer cancel()
	defer r.Stop()
}

func TestStop_ClosesOutputChannel(t *testing.T) {
	port := freePort(t)
	cfg := trapreceiver.Config{
		ListenAddr: fmt.Sprintf("127.0.0.1:%d", port),
		ParseFunc:  stubParseFunc(mkEvent(snmptrap.OIDLinkDown, "10.0.0.1")),
	}
	r, cancel := startReceiver(t, cfg, nil)
	defer cancel()

	r.Stop()

	select {
	case _, ok := <-r.Output():
		if ok {
			t.Error("expected output channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Error("output channel not closed within 2s")
	}
}

func TestStop_Idempotent(t *testing.T) {
	port := freePort(t)
	cfg := trapreceiver.Config{
		ListenAddr: fmt.Sprintf("127.0.0.1:%d", port),
		ParseFunc:  stubParseFunc(mkEvent(snmptrap.OIDLinkDown, "10.0.0.1")),
	}
	r, cancel := startReceiver(t, cfg, nil)
	defer cancel()

	r.Stop()
	r.Stop() // must not panic or deadlock
}

func TestStart_AlreadyRunning_ReturnsError(t *testing.T) {
	port := freePort(t)
	cfg := trapreceiver.Config{
		ListenAddr: fmt.Sprintf("127.0.0.1:%d", port),
		ParseFunc:  stubParseFunc(mkEvent(snmptrap.OIDLinkDown, "10.0.0.1")),
	}
	r, cancel := startReceiver(t, cfg, nil)
	defer cancel()
	defer r.Stop()

	err := r.Start(context.Background())
	if err == nil {
		t.Fatal("expected error on second Start, got nil")
	}
}

func TestStart_BadAddr_ReturnsError(t *testing.T) {
	cfg := trapreceiver.Config{
		ListenAddr: "999.999.999.999:9999",
		ParseFunc:  stubParseFunc(mkEvent(snmptrap.OIDLinkDown, "10.0.0.1")),
	}
	r := trapreceiver.New(cfg, nil, nil)
	err := r.Start(context.Background())
	if err == nil {
		r.Stop()
		t.Fatal("expected error for bad address, got nil")
	}
}

func TestContextCancel_ClosesOutput(t *testing.T) {
	port := freePort(t)
	cfg := trapreceiver.Config{
		ListenAddr: fmt.Sprintf("127.0.0.1:%d", port),
		ParseFunc:  stubParseFunc(mkEvent(snmptrap.OIDLinkDown, "10.0.0.1")),
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := trapreceiver.New(cfg, nil, nil)
	if err := r.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}

	cancel() // signal context done

	select {
	case _, ok := <-r.Output():
		if ok {
			t.Error("expected closed channel after context cancel")
		}
	case <-time.After(3 * time.Second):
		t.Error("output channel not closed within 3s after ctx cancel")
	}
}

func TestListenAddr_MatchesConfig(t *testing.T) {
	port := freePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	cfg := trapreceiver.Config{
		ListenAddr: addr,
		ParseFunc:  stubParseFunc(mkEvent(snmptrap.OIDLinkDown, "10.0.0.1")),
	}
	r, cancel := startReceiver(t, cfg, nil)
	defer cancel()
	defer r.Stop()

	if r.ListenAddr() != addr {
		t.Errorf("ListenAddr = %q, want %q", r.ListenAddr(), addr)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Refresh filtering
// ─────────────────────────────────────────────────────────────────────────────

func TestLinkDownFromKnownHost_QueuesRefresh(t *testing.T) {
	port := freePort(t)
	devices := staticLookup{
		"10.0.0.1": {ID: 4, Host: "10.0.0.1", Alias: "proxy-d"},
	}
	cfg := trapreceiver.Config{
		ListenAddr: fmt.Sprintf("127.0.0.1:%d", port),
		ParseFunc:  stubParseFunc(mkEvent(snmptrap.OIDLinkDown, "10.0.0.1")),
	}
	r, cancel := startReceiver(t, cfg, devices)
	defer cancel()
	defer r.Stop()

	time.Sleep(50 * time.Millisecond)
	sendLinkDown(t, port)

	select {
	case dev, ok := <-r.Output():
		if !ok {
			t.Fatal("output channel closed unexpectedly")
		}
		if dev.ID != 4 {
			t.Errorf("refreshed device ID = %d, want 4", dev.ID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for refresh on output channel")
	}
}

func TestUnknownHost_Dropped(t *testing.T) {
	port := freePort(t)
	parse, parsed := signalParseFunc(mkEvent(snmptrap.OIDLinkDown, "203.0.113.9"))
	cfg := trapreceiver.Config{
		ListenAddr: fmt.Sprintf("127.0.0.1:%d", port),
		ParseFunc:  parse,
	}
	r, cancel := startReceiver(t, cfg, staticLookup{})
	defer cancel()
	defer r.Stop()

	time.Sleep(50 * time.Millisecond)
	sendLinkDown(t, port)

	select {
	case <-parsed:
	case <-time.After(3 * time.Second):
		t.Fatal("trap never reached the handler")
	}
	time.Sleep(100 * time.Millisecond)

	select {
	case dev := <-r.Output():
		t.Errorf("unexpected refresh for unknown host: %+v", dev)
	default:
	}
}

func TestNonTriggerOID_Ignored(t *testing.T) {
	port := freePort(t)
	warmStart := mkEvent(".1.3.6.1.6.3.1.1.5.2", "10.0.0.1")
	parse, parsed := signalParseFunc(warmStart)
	devices := staticLookup{
		"10.0.0.1": {ID: 4, Host: "10.0.0.1"},
	}
	cfg := trapreceiver.Config{
		ListenAddr: fmt.Sprintf("127.0.0.1:%d", port),
		ParseFunc:  parse,
	}
	r, cancel := startReceiver(t, cfg, devices)
	defer cancel()
	defer r.Stop()

	time.Sleep(50 * time.Millisecond)
	sendLinkDown(t, port)

	select {
	case <-parsed:
	case <-time.After(3 * time.Second):
		t.Fatal("trap never reached the handler")
	}
	time.Sleep(100 * time.Millisecond)

	select {
	case dev := <-r.Output():
		t.Errorf("unexpected refresh for warmStart: %+v", dev)
	default:
	}
}

func TestParseError_NoEmit(t *testing.T) {
	port := freePort(t)
	cfg := trapreceiver.Config{
		ListenAddr: fmt.Sprintf("127.0.0.1:%d", port),
		ParseFunc:  errorParseFunc(),
	}
	r, cancel := startReceiver(t, cfg, nil)
	defer cancel()
	defer r.Stop()

	time.Sleep(50 * time.Millisecond)
	sendLinkDown(t, port)
	time.Sleep(100 * time.Millisecond)

	select {
	case dev := <-r.Output():
		t.Errorf("unexpected refresh after parse error: %+v", dev)
	default:
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Debounce
// ─────────────────────────────────────────────────────────────────────────────

func TestDebounce_SuppressesRepeats(t *testing.T) {
	port := freePort(t)
	devices := staticLookup{
		"10.0.0.1": {ID: 4, Host: "10.0.0.1"},
	}
	parse, parsed := signalParseFunc(mkEvent(snmptrap.OIDLinkDown, "10.0.0.1"))
	cfg := trapreceiver.Config{
		ListenAddr: fmt.Sprintf("127.0.0.1:%d", port),
		ParseFunc:  parse,
	}
	r, cancel := startReceiver(t, cfg, devices)
	defer cancel()
	defer r.Stop()

	time.Sleep(50 * time.Millisecond)
	sendLinkDown(t, port)
	sendLinkDown(t, port)

	for i := 0; i < 2; i++ {
		select {
		case <-parsed:
		case <-time.After(3 * time.Second):
			t.Fatalf("trap %d never reached the handler", i+1)
		}
	}

	select {
	case <-r.Output():
	case <-time.After(2 * time.Second):
		t.Fatal("first refresh never arrived")
	}

	// The second trap falls inside the 10s window.
	select {
	case dev := <-r.Output():
		t.Errorf("second refresh should have been debounced: %+v", dev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestDebounce_ExpiredWindowAllowsRefresh(t *testing.T) {
	port := freePort(t)
	devices := staticLookup{
		"10.0.0.1": {ID: 4, Host: "10.0.0.1"},
	}

	// Every clock read jumps 11s ahead, so each trap lands outside the
	// previous refresh's window.
	var clockMu sync.Mutex
	now := time.Unix(1_700_000_000, 0)
	cfg := trapreceiver.Config{
		ListenAddr: fmt.Sprintf("127.0.0.1:%d", port),
		ParseFunc:  stubParseFunc(mkEvent(snmptrap.OIDLinkDown, "10.0.0.1")),
		Now: func() time.Time {
			clockMu.Lock()
			defer clockMu.Unlock()
			now = now.Add(11 * time.Second)
			return now
		},
	}
	r, cancel := startReceiver(t, cfg, devices)
	defer cancel()
	defer r.Stop()

	time.Sleep(50 * time.Millisecond)
	sendLinkDown(t, port)
	sendLinkDown(t, port)

	for i := 0; i < 2; i++ {
		select {
		case <-r.Output():
		case <-time.After(3 * time.Second):
			t.Fatalf("refresh %d never arrived", i+1)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Real UDP round-trip with the default parser
// ─────────────────────────────────────────────────────────────────────────────

func TestRealUDP_V2c_TrapDelivered(t *testing.T) {
	port := freePort(t)
	devices := staticLookup{
		"127.0.0.1": {ID: 9, Host: "127.0.0.1", Alias: "loopback"},
	}

	cfg := trapreceiver.Config{
		ListenAddr:  fmt.Sprintf("127.0.0.1:%d", port),
		SNMPVersion: gosnmp.Version2c,
		Community:   "public",
		// No ParseFunc → defaults to trap.Parse.
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := trapreceiver.New(cfg, devices, nil)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	// Small sleep to ensure the UDP socket is ready.
	time.Sleep(50 * time.Millisecond)

	sendLinkDown(t, port)

	select {
	case dev, ok := <-r.Output():
		if !ok {
			t.Fatal("output channel closed unexpectedly")
		}
		if dev.ID != 9 {
			t.Errorf("refreshed device ID = %d, want 9", dev.ID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for refresh on output channel")
	}
}
