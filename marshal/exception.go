// SPDX-License-Identifier: Apache-2.0

package marshal

import (
	"errors"
	"fmt"

	"github.com/loopholelabs/corerpc/serializer"
	"github.com/loopholelabs/corerpc/wire"
)

// ErrProtocol wraps a short-buffer failure decoding an exception payload.
// Per spec §4.2 this is always connection-fatal.
var ErrProtocol = errors.New("marshal: protocol error")

// EncodeUserException lays out a USER exception payload (kind=USER, data=
// the UTF-8 message) into a freshly allocated Buffer with headSpace bytes
// reserved for the response header.
func EncodeUserException(headSpace int, message string) *serializer.Buffer {
	data := []byte(message)
	buf := serializer.Get(headSpace)
	scratch := make([]byte, wire.EncodedExceptionLen(data))
	_, _ = wire.EncodeException(scratch, wire.ExceptionUser, data)
	_, _ = buf.Write(scratch)
	return buf
}

// EncodeUnknownVerbException lays out an UNKNOWN_VERB exception payload
// (kind=UNKNOWN_VERB, data=the 8-byte little-endian verb) into a freshly
// allocated Buffer with headSpace bytes reserved for the response header.
func EncodeUnknownVerbException(headSpace int, verb uint64) *serializer.Buffer {
	data := make([]byte, 8)
	for i := 0; i < 8; i++ {
		data[i] = byte(verb >> (8 * i))
	}
	buf := serializer.Get(headSpace)
	scratch := make([]byte, wire.EncodedExceptionLen(data))
	_, _ = wire.EncodeException(scratch, wire.ExceptionUnknownVerb, data)
	_, _ = buf.Write(scratch)
	return buf
}

// DecodedException is the parsed form of an exception response payload.
type DecodedException struct {
	Kind    wire.ExceptionKind
	Message string // set when Kind == ExceptionUser
	Verb    uint64 // set when Kind == ExceptionUnknownVerb
}

// DecodeException parses an exception payload. A short buffer is reported
// as ErrProtocol, which callers must treat as connection-fatal.
func DecodeException(payload []byte) (DecodedException, error) {
	kind, data, err := wire.DecodeException(payload)
	if err != nil {
		return DecodedException{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	out := DecodedException{Kind: kind}
	switch kind {
	case wire.ExceptionUser:
		out.Message = string(data)
	case wire.ExceptionUnknownVerb:
		if len(data) < 8 {
			return DecodedException{}, fmt.Errorf("%w: short unknown-verb payload", ErrProtocol)
		}
		var verb uint64
		for i := 0; i < 8; i++ {
			verb |= uint64(data[i]) << (8 * i)
		}
		out.Verb = verb
	}
	return out, nil
}
