// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestHeaderRoundTrip(t *testing.T) {
	t.Run("NoDeadline", func(t *testing.T) {
		h := RequestHeader{Verb: 1, MsgID: 7, PayloadLen: 4}
		buf := make([]byte, RequestHeaderLen)
		require.NoError(t, h.Encode(buf, false))
		assert.Equal(t, []byte{0x01, 0, 0, 0, 0, 0, 0, 0}, buf[:8])

		decoded, err := DecodeRequestHeader(buf, false)
		require.NoError(t, err)
		assert.Equal(t, h, decoded)
	})

	t.Run("WithDeadline", func(t *testing.T) {
		h := RequestHeader{ExpireMS: 50, Verb: 1, MsgID: 7, PayloadLen: 4}
		buf := make([]byte, RequestHeaderLenWithDeadline)
		require.NoError(t, h.Encode(buf, true))

		decoded, err := DecodeRequestHeader(buf, true)
		require.NoError(t, err)
		assert.Equal(t, h, decoded)
	})

	t.Run("ShortBuffer", func(t *testing.T) {
		buf := make([]byte, RequestHeaderLen-1)
		_, err := DecodeRequestHeader(buf, false)
		assert.ErrorIs(t, err, ErrShortBuffer)
	})
}

func TestEchoScenarioBytes(t *testing.T) {
	// scenario 1 from the spec: verb 1, no timeout negotiated.
	h := RequestHeader{Verb: 1, MsgID: 99, PayloadLen: 4}
	buf := make([]byte, RequestHeaderLen)
	require.NoError(t, h.Encode(buf, false))
	assert.Equal(t, byte(1), buf[0])
	for _, b := range buf[1:8] {
		assert.Equal(t, byte(0), b)
	}
	assert.Equal(t, uint32(4), DecodeUint32(buf[16:20]))
}

func DecodeUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func TestResponseHeaderSignCarriesExceptionFlag(t *testing.T) {
	ok := ResponseHeader{MsgID: 5, PayloadLen: 0}
	buf := make([]byte, ResponseHeaderLen)
	require.NoError(t, ok.Encode(buf))
	decoded, err := DecodeResponseHeader(buf)
	require.NoError(t, err)
	assert.True(t, decoded.MsgID >= 0)

	exc := ResponseHeader{MsgID: -5, PayloadLen: 12}
	require.NoError(t, exc.Encode(buf))
	decoded, err = DecodeResponseHeader(buf)
	require.NoError(t, err)
	assert.True(t, decoded.MsgID < 0)
	assert.Equal(t, int64(5), -decoded.MsgID)
}

func TestExceptionPayloadRoundTrip(t *testing.T) {
	buf := make([]byte, EncodedExceptionLen([]byte("boom")))
	n, err := EncodeException(buf, ExceptionUser, []byte("boom"))
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)

	kind, data, err := DecodeException(buf)
	require.NoError(t, err)
	assert.Equal(t, ExceptionUser, kind)
	assert.Equal(t, "boom", string(data))
}

func TestExceptionPayloadShortBuffer(t *testing.T) {
	_, _, err := DecodeException([]byte{0, 0, 0})
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestNegotiationRoundTrip(t *testing.T) {
	features := Features{
		{Tag: FeatureTimeout, Value: nil},
		{Tag: FeatureCompress, Value: []byte("lz4")},
	}
	buf := EncodeNegotiation(Magic, features)

	extraLen, err := DecodeNegotiationHeader(buf, Magic)
	require.NoError(t, err)
	assert.Equal(t, int(extraLen), len(buf)-MagicLen-4)

	decoded, err := DecodeNegotiationExtra(buf[MagicLen+4:])
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	v, ok := decoded.Get(FeatureCompress)
	require.True(t, ok)
	assert.Equal(t, "lz4", string(v))
}

func TestNegotiationBadMagic(t *testing.T) {
	var bad [MagicLen]byte
	copy(bad[:], "wrongmag")
	buf := EncodeNegotiation(bad, nil)
	_, err := DecodeNegotiationHeader(buf, Magic)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestCompressedEnvelopeRoundTrip(t *testing.T) {
	payload := []byte("some plaintext frame bytes")
	buf := EncodeCompressedEnvelope(payload)
	length, err := DecodeCompressedEnvelopeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(payload)), length)
	assert.Equal(t, payload, buf[4:])
}
