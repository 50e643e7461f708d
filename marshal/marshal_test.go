// SPDX-License-Identifier: Apache-2.0

package marshal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	polyglotser "github.com/loopholelabs/corerpc/serializer/polyglot"
)

type echoArgs struct {
	X uint32
}

type trailingArgs struct {
	A uint32
	B Optional[uint32]
}

func newMarshaller() *Marshaller {
	return New(polyglotser.New())
}

func TestEchoScenarioRoundTrip(t *testing.T) {
	m := newMarshaller()
	buf, err := m.EncodeTuple(28, echoArgs{X: 0x01020304})
	require.NoError(t, err)

	var decoded echoArgs
	require.NoError(t, m.DecodeTuple(buf.Payload(), &decoded))
	assert.Equal(t, uint32(0x01020304), decoded.X)
}

func TestOptionalTrailingLaw(t *testing.T) {
	m := newMarshaller()

	t.Run("Omitted", func(t *testing.T) {
		buf, err := m.EncodeTuple(12, trailingArgs{A: 1, B: None[uint32]()})
		require.NoError(t, err)

		var decoded trailingArgs
		require.NoError(t, m.DecodeTuple(buf.Payload(), &decoded))
		assert.Equal(t, uint32(1), decoded.A)
		assert.False(t, decoded.B.IsSet())
	})

	t.Run("Present", func(t *testing.T) {
		buf, err := m.EncodeTuple(12, trailingArgs{A: 1, B: Some[uint32](2)})
		require.NoError(t, err)

		var decoded trailingArgs
		require.NoError(t, m.DecodeTuple(buf.Payload(), &decoded))
		assert.Equal(t, uint32(1), decoded.A)
		require.True(t, decoded.B.IsSet())
		assert.Equal(t, uint32(2), decoded.B.Value())
	})
}

func TestSmartPointerTransparency(t *testing.T) {
	m := newMarshaller()

	x := uint32(42)
	bufPtr, err := m.EncodeTuple(12, struct{ X *uint32 }{X: &x})
	require.NoError(t, err)

	bufVal, err := m.EncodeTuple(12, struct{ X uint32 }{X: 42})
	require.NoError(t, err)

	assert.Equal(t, bufVal.Payload(), bufPtr.Payload())

	var decoded struct{ X *uint32 }
	require.NoError(t, m.DecodeTuple(bufPtr.Payload(), &decoded))
	require.NotNil(t, decoded.X)
	assert.Equal(t, uint32(42), *decoded.X)
}

func TestExceptionPayloadRoundTrip(t *testing.T) {
	buf := EncodeUserException(12, "boom")
	decoded, err := DecodeException(buf.Payload())
	require.NoError(t, err)
	assert.Equal(t, "boom", decoded.Message)

	buf = EncodeUnknownVerbException(12, 42)
	decoded, err = DecodeException(buf.Payload())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), decoded.Verb)
}

func TestDecodeExceptionShortBuffer(t *testing.T) {
	_, err := DecodeException([]byte{1, 2})
	assert.ErrorIs(t, err, ErrProtocol)
}
