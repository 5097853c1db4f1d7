package ber

import "fmt"

// snmpVersion2c is the version field value for SNMPv2c messages.
const snmpVersion2c int32 = 1

// ─────────────────────────────────────────────────────────────────────────────
// GetRequest encoding
// ─────────────────────────────────────────────────────────────────────────────

// EncodeGetRequest builds a complete SNMPv2c GetRequest datagram for a single
// scalar OID:
//
//	Message   = SEQUENCE{ INTEGER version, OCTET STRING community, PDU }
//	PDU       = [GetRequest]{ INTEGER request-id, INTEGER 0, INTEGER 0, VBL }
//	VBL       = SEQUENCE{ SEQUENCE{ OID, NULL } }
//
// The structures are assembled bottom-up so every length field is exact.
func EncodeGetRequest(requestID int32, community, oid string) ([]byte, error) {
	oidContent, err := EncodeOID(oid)
	if err != nil {
		return nil, err
	}

	varbind := AppendTLV(nil, TagObjectIdentifier, oidContent)
	varbind = AppendTLV(varbind, TagNull, nil)
	varbindList := AppendTLV(nil, TagSequence, varbind)

	pdu := AppendInteger(nil, requestID)
	pdu = AppendInteger(pdu, 0) // error-status
	pdu = AppendInteger(pdu, 0) // error-index
	pdu = AppendTLV(pdu, TagSequence, varbindList)

	msg := AppendInteger(nil, snmpVersion2c)
	msg = AppendTLV(msg, TagOctetString, []byte(community))
	msg = AppendTLV(msg, TagGetRequest, pdu)

	return AppendTLV(nil, TagSequence, msg), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// GetResponse decoding
// ─────────────────────────────────────────────────────────────────────────────

// Response is the decoded payload of a GetResponse datagram.
type Response struct {
	// RequestID is the request-id echoed by the agent. The caller compares
	// it with the id it sent; a mismatch is logged, not fatal, because
	// lenient agents in the wild do not always echo it correctly.
	RequestID int32

	// Value is the single varbind's numeric value.
	Value float64
}

// DecodeGetResponse walks a GetResponse datagram, verifying each expected
// tag in order, and extracts the first varbind's numeric value.
//
// Errors: a tag mismatch or truncated buffer yields a MalformedError; a
// non-zero error-status yields an AgentError; a non-numeric varbind value
// yields an UnsupportedValueError.
func DecodeGetResponse(pkt []byte) (Response, error) {
	var resp Response

	msg := reader{buf: pkt}
	body, err := msg.expect(TagSequence)
	if err != nil {
		return resp, err
	}

	if _, _, err := body.integer(); err != nil { // version
		return resp, err
	}
	if _, err := body.expect(TagOctetString); err != nil { // community
		return resp, err
	}

	pdu, err := body.expect(TagGetResponse)
	if err != nil {
		return resp, err
	}

	reqID, _, err := pdu.integer()
	if err != nil {
		return resp, err
	}
	resp.RequestID = reqID

	errStatus, _, err := pdu.integer()
	if err != nil {
		return resp, err
	}
	errIndex, _, err := pdu.integer()
	if err != nil {
		return resp, err
	}
	if errStatus != 0 {
		return resp, &AgentError{Status: int(errStatus), Index: int(errIndex)}
	}

	varbindList, err := pdu.expect(TagSequence)
	if err != nil {
		return resp, err
	}
	varbind, err := varbindList.expect(TagSequence)
	if err != nil {
		return resp, err
	}
	if _, err := varbind.expect(TagObjectIdentifier); err != nil {
		return resp, err
	}

	valueTag, content, err := varbind.next()
	if err != nil {
		return resp, err
	}
	switch valueTag {
	case TagInteger:
		v, err := parseSigned(content)
		if err != nil {
			return resp, err
		}
		resp.Value = float64(v)
	case TagCounter32, TagGauge32, TagTimeTicks, TagCounter64:
		v, err := parseUnsigned(content)
		if err != nil {
			return resp, err
		}
		resp.Value = float64(v)
	default:
		return resp, &UnsupportedValueError{Tag: valueTag}
	}

	return resp, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// TLV reader
// ─────────────────────────────────────────────────────────────────────────────

// reader is a bounds-checked cursor over one level of TLV content.
type reader struct {
	buf []byte
	off int
}

// peekTag returns the tag byte at the cursor without consuming it.
func (r *reader) peekTag() (byte, error) {
	if r.off >= len(r.buf) {
		return 0, &MalformedError{Reason: "truncated message"}
	}
	return r.buf[r.off], nil
}

// next consumes one TLV and returns its tag and content.
func (r *reader) next() (byte, []byte, error) {
	tag, err := r.peekTag()
	if err != nil {
		return 0, nil, err
	}
	length, n, err := ParseLength(r.buf[r.off+1:])
	if err != nil {
		return 0, nil, err
	}
	start := r.off + 1 + n
	end := start + length
	if end > len(r.buf) {
		return 0, nil, &MalformedError{
			Reason: fmt.Sprintf("%s content truncated: need %d bytes, have %d",
				TagName(tag), length, len(r.buf)-start),
		}
	}
	r.off = end
	return tag, r.buf[start:end], nil
}

// expect consumes one TLV, verifies its tag, and returns a reader over its
// content.
func (r *reader) expect(want byte) (*reader, error) {
	tag, content, err := r.next()
	if err != nil {
		return nil, err
	}
	if tag != want {
		return nil, &MalformedError{
			Reason: fmt.Sprintf("expected %s, found %s", TagName(want), TagName(tag)),
		}
	}
	return &reader{buf: content}, nil
}

// integer consumes an INTEGER TLV and returns its value.
func (r *reader) integer() (int32, int, error) {
	v, n, err := ParseInteger(r.buf[r.off:])
	if err != nil {
		return 0, 0, err
	}
	r.off += n
	return v, n, nil
}
