package ber

import (
	"fmt"
	"strconv"
	"strings"
)

// ─────────────────────────────────────────────────────────────────────────────
// OBJECT IDENTIFIER codec
// ─────────────────────────────────────────────────────────────────────────────

// EncodeOID converts a dot-separated decimal OID string (a leading dot is
// tolerated) into its BER content bytes: the first two arcs fold into a
// single byte 40*arc0+arc1, every following arc is base-128 encoded with the
// continuation bit set on all but its last byte.
//
// A string that yields no arcs at all, or contains anything that is not a
// non-negative integer, fails with an InvalidOIDError.
func EncodeOID(oid string) ([]byte, error) {
	s := strings.TrimPrefix(strings.TrimSpace(oid), ".")
	if s == "" {
		return nil, &InvalidOIDError{OID: oid}
	}

	parts := strings.Split(s, ".")
	arcs := make([]uint64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, &InvalidOIDError{OID: oid}
		}
		arcs = append(arcs, v)
	}

	var second uint64
	if len(arcs) > 1 {
		second = arcs[1]
	}
	out := []byte{byte(40*arcs[0] + second)}

	for _, arc := range arcs[2:] {
		out = appendBase128(out, arc)
	}
	return out, nil
}

// appendBase128 appends one arc in base-128 groups, most significant first,
// with the continuation bit on every byte except the last.
func appendBase128(dst []byte, v uint64) []byte {
	if v < 0x80 {
		return append(dst, byte(v))
	}
	var groups [10]byte
	n := 0
	for v > 0 {
		groups[n] = byte(v & 0x7F)
		v >>= 7
		n++
	}
	for i := n - 1; i > 0; i-- {
		dst = append(dst, groups[i]|0x80)
	}
	return append(dst, groups[0])
}

// DecodeOID converts BER OID content bytes back into the dot-separated
// decimal form without a leading dot.
func DecodeOID(content []byte) (string, error) {
	if len(content) == 0 {
		return "", &MalformedError{Reason: "empty OID"}
	}

	var sb strings.Builder
	first := content[0]
	switch {
	case first < 40:
		fmt.Fprintf(&sb, "0.%d", first)
	case first < 80:
		fmt.Fprintf(&sb, "1.%d", first-40)
	default:
		fmt.Fprintf(&sb, "2.%d", first-80)
	}

	var arc uint64
	inArc := false
	for _, c := range content[1:] {
		if arc >= 1<<57 {
			return "", &MalformedError{Reason: "OID arc overflows uint64"}
		}
		arc = arc<<7 | uint64(c&0x7F)
		inArc = true
		if c&0x80 == 0 {
			fmt.Fprintf(&sb, ".%d", arc)
			arc = 0
			inArc = false
		}
	}
	if inArc {
		return "", &MalformedError{Reason: "truncated OID arc"}
	}
	return sb.String(), nil
}
