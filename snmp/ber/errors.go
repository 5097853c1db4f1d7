package ber

import "fmt"

// ─────────────────────────────────────────────────────────────────────────────
// Error types
// ─────────────────────────────────────────────────────────────────────────────

// InvalidOIDError reports an OID string that could not be parsed into arcs.
// It indicates malformed configuration and is never retried.
type InvalidOIDError struct {
	OID string
}

func (e *InvalidOIDError) Error() string {
	return fmt.Sprintf("invalid OID %q", e.OID)
}

// MalformedError reports response bytes that do not follow the expected
// SNMPv2c GetResponse structure: a tag mismatch, a truncated buffer, or a
// value encoding outside the supported range. It is treated as a transient
// network or agent anomaly.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return "malformed response: " + e.Reason
}

// AgentError reports a non-zero error-status in the GetResponse PDU, meaning
// the agent itself rejected the request. Typically not retried without
// operator intervention.
type AgentError struct {
	Status int
	Index  int
}

// Label returns the protocol name for the error-status value.
func (e *AgentError) Label() string {
	switch e.Status {
	case 1:
		return "tooBig"
	case 2:
		return "noSuchName"
	case 3:
		return "badValue"
	case 4:
		return "readOnly"
	case 5:
		return "genErr"
	default:
		return "unknown"
	}
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent error %s (status %d, index %d)", e.Label(), e.Status, e.Index)
}

// UnsupportedValueError reports a varbind value of a type this client does
// not handle. Only scalar numeric objects are supported; strings, OIDs,
// addresses and the v2c exception sentinels (NoSuchObject, NoSuchInstance,
// EndOfMibView) all land here. Never retried.
type UnsupportedValueError struct {
	Tag byte
}

func (e *UnsupportedValueError) Error() string {
	return fmt.Sprintf("unsupported value type %s (0x%02X)", TagName(e.Tag), e.Tag)
}
