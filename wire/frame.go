// SPDX-License-Identifier: Apache-2.0

// Package wire implements the little-endian fixed-width frame headers and
// the negotiation TLV records described by the protocol. It does not
// interpret payload bytes; it only knows how to lay out and parse the
// header fields that surround them.
package wire

import (
	"encoding/binary"
	"errors"
)

var (
	// ErrShortBuffer is returned when a caller-supplied buffer is too small
	// to hold the header or record being encoded or decoded.
	ErrShortBuffer = errors.New("wire: short buffer")

	// ErrBadMagic is returned when a negotiation frame's magic does not
	// match the locally configured value.
	ErrBadMagic = errors.New("wire: wrong protocol magic")
)

const (
	// RequestHeaderLen is the size of a request header when no per-call
	// deadline is negotiated: verb, msg_id, payload_len.
	RequestHeaderLen = 20

	// RequestHeaderLenWithDeadline is the size of a request header once the
	// TIMEOUT feature has been negotiated: expire_ms, verb, msg_id, payload_len.
	RequestHeaderLenWithDeadline = 28

	// ResponseHeaderLen is the size of a response header: msg_id, payload_len.
	ResponseHeaderLen = 12

	// MagicLen is the length of the negotiation magic constant.
	MagicLen = 8
)

// Magic is the fixed 8-byte constant that must match on both sides before
// any request frame may be exchanged.
var Magic = [MagicLen]byte{'c', 'o', 'r', 'e', 'r', 'p', 'c', '1'}

// RequestHeader is the decoded form of a request frame header. ExpireMS is
// only meaningful (and only present on the wire) when the TIMEOUT feature
// was negotiated; zero means no deadline.
type RequestHeader struct {
	ExpireMS   uint64
	Verb       uint64
	MsgID      int64
	PayloadLen uint32
}

// Len returns the on-wire size of the header given whether the TIMEOUT
// feature is active for this direction.
func (h RequestHeader) Len(withDeadline bool) int {
	if withDeadline {
		return RequestHeaderLenWithDeadline
	}
	return RequestHeaderLen
}

// Encode writes h into buf, which must be at least h.Len(withDeadline) bytes.
func (h RequestHeader) Encode(buf []byte, withDeadline bool) error {
	if len(buf) < h.Len(withDeadline) {
		return ErrShortBuffer
	}
	off := 0
	if withDeadline {
		binary.LittleEndian.PutUint64(buf[off:], h.ExpireMS)
		off += 8
	}
	binary.LittleEndian.PutUint64(buf[off:], h.Verb)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.MsgID))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], h.PayloadLen)
	return nil
}

// DecodeRequestHeader parses a request header of the appropriate length from buf.
func DecodeRequestHeader(buf []byte, withDeadline bool) (RequestHeader, error) {
	var h RequestHeader
	need := RequestHeaderLen
	if withDeadline {
		need = RequestHeaderLenWithDeadline
	}
	if len(buf) < need {
		return h, ErrShortBuffer
	}
	off := 0
	if withDeadline {
		h.ExpireMS = binary.LittleEndian.Uint64(buf[off:])
		off += 8
	}
	h.Verb = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	h.MsgID = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	h.PayloadLen = binary.LittleEndian.Uint32(buf[off:])
	return h, nil
}

// ResponseHeader is the decoded form of a response frame header. A negative
// MsgID marks an exception reply for the call whose id is |MsgID|.
type ResponseHeader struct {
	MsgID      int64
	PayloadLen uint32
}

// Encode writes h into buf, which must be at least ResponseHeaderLen bytes.
func (h ResponseHeader) Encode(buf []byte) error {
	if len(buf) < ResponseHeaderLen {
		return ErrShortBuffer
	}
	binary.LittleEndian.PutUint64(buf, uint64(h.MsgID))
	binary.LittleEndian.PutUint32(buf[8:], h.PayloadLen)
	return nil
}

// DecodeResponseHeader parses a response header from buf.
func DecodeResponseHeader(buf []byte) (ResponseHeader, error) {
	var h ResponseHeader
	if len(buf) < ResponseHeaderLen {
		return h, ErrShortBuffer
	}
	h.MsgID = int64(binary.LittleEndian.Uint64(buf))
	h.PayloadLen = binary.LittleEndian.Uint32(buf[8:])
	return h, nil
}

// ExceptionKind distinguishes the two exception payload shapes carried in a
// negative-msg_id response.
type ExceptionKind uint32

const (
	// ExceptionUser marks a handler-thrown (or marshal-time) error; Data is
	// the UTF-8 error message.
	ExceptionUser ExceptionKind = iota
	// ExceptionUnknownVerb marks a call for a verb with no registered
	// handler; Data is the 8-byte little-endian verb.
	ExceptionUnknownVerb
)

// EncodeException lays out { kind:u32-le | length:u32-le | data } into buf,
// returning the number of bytes written.
func EncodeException(buf []byte, kind ExceptionKind, data []byte) (int, error) {
	need := 8 + len(data)
	if len(buf) < need {
		return 0, ErrShortBuffer
	}
	binary.LittleEndian.PutUint32(buf, uint32(kind))
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(data)))
	copy(buf[8:], data)
	return need, nil
}

// DecodeException parses an exception payload from buf. A short buffer is a
// protocol error, propagated as connection-fatal by the caller.
func DecodeException(buf []byte) (ExceptionKind, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, ErrShortBuffer
	}
	kind := ExceptionKind(binary.LittleEndian.Uint32(buf))
	length := binary.LittleEndian.Uint32(buf[4:])
	if uint32(len(buf)-8) < length {
		return 0, nil, ErrShortBuffer
	}
	return kind, buf[8 : 8+length], nil
}

// EncodedExceptionLen returns the wire size of an exception payload carrying data.
func EncodedExceptionLen(data []byte) int {
	return 8 + len(data)
}
