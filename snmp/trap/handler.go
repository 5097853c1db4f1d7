// Package trap distils received SNMP trap PDUs into the compact Event the
// monitor acts on. It handles the protocol-level differences between v1 and
// v2c/v3 traps but has no knowledge of UDP socket management — that is the
// trapreceiver package's job.
package trap

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

// ─────────────────────────────────────────────────────────────────────────────
// Well-known OID constants
// ─────────────────────────────────────────────────────────────────────────────

// Standard SNMPv2 notification OIDs (RFC 3418). A coldStart, linkDown or
// linkUp from a monitored proxy means its state just changed, so the monitor
// refreshes that device immediately instead of waiting for the next cycle.
const (
	OIDColdStart = ".1.3.6.1.6.3.1.1.5.1"
	OIDLinkDown  = ".1.3.6.1.6.3.1.1.5.3"
	OIDLinkUp    = ".1.3.6.1.6.3.1.1.5.4"
)

const (
	// oidSysUpTime is sysUpTime.0 — the first standard varbind in v2c/v3
	// trap PDUs.
	oidSysUpTime = ".1.3.6.1.2.1.1.3.0"

	// oidSnmpTrapOID is snmpTrapOID.0 — the second standard varbind in
	// v2c/v3 trap PDUs; its value is the actual notification OID.
	oidSnmpTrapOID = ".1.3.6.1.6.3.1.1.4.1.0"
)

// ─────────────────────────────────────────────────────────────────────────────
// Event
// ─────────────────────────────────────────────────────────────────────────────

// Event is one received trap, reduced to what the monitor needs to decide
// whether a device must be refreshed.
type Event struct {
	// Host is the sender: the v1 agent-address field when present,
	// otherwise the source IP of the UDP packet.
	Host string

	// OID identifies the notification, normalised with a leading dot.
	// For v1 traps it is synthesised per RFC 3584 §3.1. Empty when a
	// v2c/v3 trap carried no snmpTrapOID.0.
	OID string

	// Version is the SNMP protocol version ("1", "2c", "3").
	Version string

	// Uptime is the agent's sysUpTime when the trap carried one.
	Uptime time.Duration

	// ReceivedAt is the arrival time, UTC.
	ReceivedAt time.Time
}

// TriggersRefresh reports whether the event's notification OID warrants an
// immediate re-collection of the sending device.
func (e Event) TriggersRefresh() bool {
	switch e.OID {
	case OIDColdStart, OIDLinkDown, OIDLinkUp:
		return true
	}
	return false
}

// ─────────────────────────────────────────────────────────────────────────────
// Parse — main entry point
// ─────────────────────────────────────────────────────────────────────────────

// Parse converts a raw gosnmp SnmpPacket received by a TrapListener into an
// Event. The remoteAddr is the source UDP address of the sender.
//
// Inform PDUs are treated identically to traps — their acknowledgement is the
// listener's responsibility.
func Parse(pkt *gosnmp.SnmpPacket, remoteAddr *net.UDPAddr) (Event, error) {
	if pkt == nil {
		return Event{}, fmt.Errorf("trap: nil packet")
	}

	ev := Event{
		Host:       senderHost(pkt, remoteAddr),
		Version:    versionString(pkt.Version),
		ReceivedAt: time.Now().UTC(),
	}

	switch pkt.Version {
	case gosnmp.Version1:
		ev.OID = v1TrapOID(pkt)
		ev.Uptime = ticksToDuration(uint64(pkt.Timestamp))
	case gosnmp.Version2c, gosnmp.Version3:
		ev.OID, ev.Uptime = v2TrapOID(pkt.Variables)
	default:
		return ev, fmt.Errorf("trap: unsupported SNMP version %v", pkt.Version)
	}

	return ev, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Sender extraction
// ─────────────────────────────────────────────────────────────────────────────

// senderHost prefers the v1 agent-address field over the UDP source address.
// v1 traps routed through a relay keep their original agent address that way.
func senderHost(pkt *gosnmp.SnmpPacket, remoteAddr *net.UDPAddr) string {
	host := ""
	if remoteAddr != nil {
		host = remoteAddr.IP.String()
	}
	if pkt.Version == gosnmp.Version1 && pkt.AgentAddress != "" {
		host = pkt.AgentAddress
	}
	return host
}

func versionString(v gosnmp.SnmpVersion) string {
	switch v {
	case gosnmp.Version1:
		return "1"
	case gosnmp.Version2c:
		return "2c"
	case gosnmp.Version3:
		return "3"
	default:
		return "unknown"
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// v1 trap parsing
// ─────────────────────────────────────────────────────────────────────────────

// v1TrapOID synthesises the notification OID from a v1 trap PDU following the
// v1-to-v2 mapping of RFC 3584 §3.1:
//
//	generic 0-5 → standard OID: .1.3.6.1.6.3.1.1.5.<generic+1>
//	generic 6   → enterprise-specific: <enterprise>.0.<specific>
func v1TrapOID(pkt *gosnmp.SnmpPacket) string {
	if pkt.GenericTrap >= 0 && pkt.GenericTrap < 6 {
		return fmt.Sprintf(".1.3.6.1.6.3.1.1.5.%d", pkt.GenericTrap+1)
	}
	ent := strings.TrimSuffix(normaliseOID(pkt.Enterprise), ".")
	return fmt.Sprintf("%s.0.%d", ent, pkt.SpecificTrap)
}

// ─────────────────────────────────────────────────────────────────────────────
// v2c / v3 trap parsing
// ─────────────────────────────────────────────────────────────────────────────

// v2TrapOID locates snmpTrapOID.0 and sysUpTime.0 among the varbinds.
// snmpTrapOID.0 should be the second varbind but agents that omit sysUpTime.0
// exist, so the whole list is searched. A missing snmpTrapOID.0 yields an
// empty OID, not an error.
func v2TrapOID(vars []gosnmp.SnmpPDU) (oid string, uptime time.Duration) {
	for _, v := range vars {
		switch normaliseOID(v.Name) {
		case oidSysUpTime:
			uptime = ticksToDuration(gosnmp.ToBigInt(v.Value).Uint64())
		case oidSnmpTrapOID:
			if oid == "" {
				oid = normaliseOID(fmt.Sprintf("%v", v.Value))
			}
		}
	}
	return oid, uptime
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// ticksToDuration converts SNMP TimeTicks (hundredths of a second) to a
// time.Duration.
func ticksToDuration(ticks uint64) time.Duration {
	return time.Duration(ticks) * 10 * time.Millisecond
}

// normaliseOID ensures an OID string starts with a leading dot and has no
// trailing dots.
func normaliseOID(oid string) string {
	oid = strings.TrimSpace(oid)
	if oid == "" {
		return ""
	}
	if !strings.HasPrefix(oid, ".") {
		oid = "." + oid
	}
	return strings.TrimSuffix(oid, ".")
}
