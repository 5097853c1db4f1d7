// Package ber implements the fragment of ASN.1 BER that an SNMPv2c GET
// exchange needs: SEQUENCE, INTEGER, OCTET STRING, NULL and OBJECT IDENTIFIER
// on the encode side, plus the SNMP application types Counter32, Gauge32,
// TimeTicks and Counter64 on the decode side.
//
// The codec is deliberately hand-rolled rather than delegated to a general
// ASN.1 library: the wire surface is a fixed, tiny subset, and owning every
// byte of the datagram keeps the GET path free of parsing ambiguity. All
// functions are pure; snmp/client owns sockets and timeouts.
package ber

import "fmt"

// ─────────────────────────────────────────────────────────────────────────────
// Tag constants
// ─────────────────────────────────────────────────────────────────────────────

// BER tag bytes for the universal types, the SNMP application types, and the
// context-specific PDU and exception tags used by SNMPv2c.
const (
	TagInteger          byte = 0x02
	TagOctetString      byte = 0x04
	TagNull             byte = 0x05
	TagObjectIdentifier byte = 0x06
	TagSequence         byte = 0x30

	TagIPAddress byte = 0x40
	TagCounter32 byte = 0x41
	TagGauge32   byte = 0x42
	TagTimeTicks byte = 0x43
	TagCounter64 byte = 0x46

	TagNoSuchObject   byte = 0x80
	TagNoSuchInstance byte = 0x81
	TagEndOfMibView   byte = 0x82

	TagGetRequest  byte = 0xA0
	TagGetResponse byte = 0xA2
)

// TagName returns the human-readable name for a tag byte, for error messages
// and logs.
func TagName(tag byte) string {
	switch tag {
	case TagInteger:
		return "Integer"
	case TagOctetString:
		return "OctetString"
	case TagNull:
		return "Null"
	case TagObjectIdentifier:
		return "ObjectIdentifier"
	case TagSequence:
		return "Sequence"
	case TagIPAddress:
		return "IpAddress"
	case TagCounter32:
		return "Counter32"
	case TagGauge32:
		return "Gauge32"
	case TagTimeTicks:
		return "TimeTicks"
	case TagCounter64:
		return "Counter64"
	case TagNoSuchObject:
		return "NoSuchObject"
	case TagNoSuchInstance:
		return "NoSuchInstance"
	case TagEndOfMibView:
		return "EndOfMibView"
	case TagGetRequest:
		return "GetRequest"
	case TagGetResponse:
		return "GetResponse"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", tag)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Length codec
// ─────────────────────────────────────────────────────────────────────────────

// AppendLength appends the BER encoding of a content length to dst: short
// form (one byte) for lengths below 128, otherwise long form — 0x80|n
// followed by n big-endian bytes.
func AppendLength(dst []byte, n int) []byte {
	if n < 0x80 {
		return append(dst, byte(n))
	}
	size := 0
	for v := uint64(n); v > 0; v >>= 8 {
		size++
	}
	dst = append(dst, 0x80|byte(size))
	for i := size - 1; i >= 0; i-- {
		dst = append(dst, byte(uint64(n)>>(8*uint(i))))
	}
	return dst
}

// ParseLength reads a BER length from the front of b and returns the decoded
// length together with the number of bytes consumed.
func ParseLength(b []byte) (length, consumed int, err error) {
	if len(b) == 0 {
		return 0, 0, &MalformedError{Reason: "truncated length"}
	}
	first := b[0]
	if first < 0x80 {
		return int(first), 1, nil
	}
	n := int(first & 0x7F)
	if n == 0 {
		return 0, 0, &MalformedError{Reason: "indefinite length not supported"}
	}
	if n > 8 {
		return 0, 0, &MalformedError{Reason: fmt.Sprintf("length field of %d bytes", n)}
	}
	if len(b) < 1+n {
		return 0, 0, &MalformedError{Reason: "truncated long-form length"}
	}
	var v uint64
	for _, c := range b[1 : 1+n] {
		v = v<<8 | uint64(c)
	}
	if v > uint64(maxInt) {
		return 0, 0, &MalformedError{Reason: fmt.Sprintf("length %d overflows int", v)}
	}
	return int(v), 1 + n, nil
}

const maxInt = int(^uint(0) >> 1)

// ─────────────────────────────────────────────────────────────────────────────
// Integer codec
// ─────────────────────────────────────────────────────────────────────────────

// AppendInteger appends a complete INTEGER TLV holding v. The content is the
// minimal two's-complement big-endian form: at least one byte, with a leading
// 0x00 or 0xFF only where needed to preserve the sign.
func AppendInteger(dst []byte, v int32) []byte {
	var buf [4]byte
	u := uint32(v)
	buf[0] = byte(u >> 24)
	buf[1] = byte(u >> 16)
	buf[2] = byte(u >> 8)
	buf[3] = byte(u)

	start := 0
	for start < 3 {
		if buf[start] == 0x00 && buf[start+1]&0x80 == 0 {
			start++
			continue
		}
		if buf[start] == 0xFF && buf[start+1]&0x80 != 0 {
			start++
			continue
		}
		break
	}

	dst = append(dst, TagInteger)
	dst = AppendLength(dst, 4-start)
	return append(dst, buf[start:]...)
}

// ParseInteger reads a complete INTEGER TLV from the front of b and returns
// the decoded value together with the number of bytes consumed.
func ParseInteger(b []byte) (v int32, consumed int, err error) {
	if len(b) == 0 {
		return 0, 0, &MalformedError{Reason: "truncated integer"}
	}
	if b[0] != TagInteger {
		return 0, 0, &MalformedError{
			Reason: fmt.Sprintf("expected Integer tag, found %s", TagName(b[0])),
		}
	}
	length, n, err := ParseLength(b[1:])
	if err != nil {
		return 0, 0, err
	}
	content := b[1+n:]
	if len(content) < length {
		return 0, 0, &MalformedError{Reason: "truncated integer content"}
	}
	if length == 0 || length > 4 {
		return 0, 0, &MalformedError{Reason: fmt.Sprintf("integer of %d bytes", length)}
	}
	v = int32(int8(content[0]))
	for _, c := range content[1:length] {
		v = v<<8 | int32(c)
	}
	return v, 1 + n + length, nil
}

// parseSigned accumulates a big-endian two's-complement content slice into an
// int64. Used for the INTEGER varbind value, which may legitimately exceed
// 32 bits on some agents.
func parseSigned(content []byte) (int64, error) {
	if len(content) == 0 {
		return 0, nil
	}
	if len(content) > 8 {
		return 0, &MalformedError{Reason: fmt.Sprintf("signed value of %d bytes", len(content))}
	}
	v := int64(int8(content[0]))
	for _, c := range content[1:] {
		v = v<<8 | int64(c)
	}
	return v, nil
}

// parseUnsigned accumulates a big-endian unsigned content slice into a
// uint64. A nine-byte encoding is accepted only when the first byte is the
// 0x00 sign pad BER requires for values with the top bit set.
func parseUnsigned(content []byte) (uint64, error) {
	if len(content) > 9 || (len(content) == 9 && content[0] != 0x00) {
		return 0, &MalformedError{Reason: fmt.Sprintf("unsigned value of %d bytes", len(content))}
	}
	var v uint64
	for _, c := range content {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// TLV assembly
// ─────────────────────────────────────────────────────────────────────────────

// AppendTLV appends one complete tag-length-value element to dst.
func AppendTLV(dst []byte, tag byte, content []byte) []byte {
	dst = append(dst, tag)
	dst = AppendLength(dst, len(content))
	return append(dst, content...)
}
