// SPDX-License-Identifier: Apache-2.0

// Package polyglot implements the default serializer.Serializer backed by
// github.com/loopholelabs/polyglot/v2, the binary encoding teacher uses
// throughout its own rpc package.
package polyglot

import (
	"errors"
	"fmt"
	"io"

	"github.com/loopholelabs/polyglot/v2"

	"github.com/loopholelabs/corerpc/serializer"
)

// ErrUnsupportedType is returned when a value's kind has no polyglot encoding.
var ErrUnsupportedType = errors.New("polyglot: unsupported value type")

// Serializer is the polyglot-backed serializer.Serializer implementation.
type Serializer struct{}

// New returns a ready-to-use polyglot Serializer.
func New() *Serializer {
	return &Serializer{}
}

// Encode implements serializer.Serializer.
func (Serializer) Encode(w io.Writer, v any) error {
	buf := polyglot.GetBuffer()
	defer polyglot.PutBuffer(buf)

	enc := polyglot.Encoder(buf)
	switch val := v.(type) {
	case bool:
		enc.Bool(val)
	case int32:
		enc.Int32(val)
	case int64:
		enc.Int64(val)
	case uint32:
		enc.Uint32(val)
	case uint64:
		enc.Uint64(val)
	case float32:
		enc.Float32(val)
	case float64:
		enc.Float64(val)
	case string:
		enc.String(val)
	case []byte:
		enc.Bytes(val)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Decode implements serializer.Serializer.
func (Serializer) Decode(data []byte, v any) (int, error) {
	dec := polyglot.Decoder(data)
	var err error
	switch ptr := v.(type) {
	case *bool:
		*ptr, err = dec.Bool()
	case *int32:
		*ptr, err = dec.Int32()
	case *int64:
		*ptr, err = dec.Int64()
	case *uint32:
		*ptr, err = dec.Uint32()
	case *uint64:
		*ptr, err = dec.Uint64()
	case *float32:
		*ptr, err = dec.Float32()
	case *float64:
		*ptr, err = dec.Float64()
	case *string:
		*ptr, err = dec.String()
	case *[]byte:
		*ptr, err = dec.Bytes(*ptr)
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	if err != nil {
		return 0, err
	}
	return dec.Offset(), nil
}

var _ serializer.Serializer = Serializer{}
