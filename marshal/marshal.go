// SPDX-License-Identifier: Apache-2.0

// Package marshal implements the typed tuple marshaller: it walks a
// declared argument or return struct in field order, delegating each
// scalar field to a serializer.Serializer, and applies the smart-pointer
// transparency and optional-trailing-argument rules along the way.
package marshal

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/loopholelabs/corerpc/serializer"
)

// ErrNotATuple is returned when EncodeTuple/DecodeTuple is given a value
// that is not (a pointer to) a struct.
var ErrNotATuple = errors.New("marshal: value is not a tuple struct")

// Marshaller converts declared argument/return tuples to and from wire
// payloads using a pluggable serializer.Serializer for the scalar leaves.
type Marshaller struct {
	ser serializer.Serializer
}

// New returns a Marshaller backed by ser.
func New(ser serializer.Serializer) *Marshaller {
	return &Marshaller{ser: ser}
}

// EncodeTuple encodes the exported fields of tuple, in declaration order,
// into a freshly allocated Buffer with headSpace bytes reserved at the
// front for the frame header. tuple may be a struct or a pointer to one;
// a nil pointer encodes as a zero-value tuple.
func (m *Marshaller) EncodeTuple(headSpace int, tuple any) (*serializer.Buffer, error) {
	v := reflect.ValueOf(tuple)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			v = reflect.Zero(v.Type().Elem())
			break
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %T", ErrNotATuple, tuple)
	}

	buf := serializer.Get(headSpace)
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		if !t.Field(i).IsExported() {
			continue
		}
		stop, err := m.encodeValue(buf, v.Field(i))
		if err != nil {
			serializer.Put(buf)
			return nil, err
		}
		if stop {
			break
		}
	}
	return buf, nil
}

func (m *Marshaller) encodeValue(buf *serializer.Buffer, v reflect.Value) (stop bool, err error) {
	if oe, ok := v.Interface().(optionalEncoder); ok {
		inner, set := oe.marshalOptional()
		if !set {
			return true, nil
		}
		return false, m.ser.Encode(buf, inner)
	}
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return false, m.ser.Encode(buf, reflect.Zero(v.Type().Elem()).Interface())
		}
		return false, m.ser.Encode(buf, v.Elem().Interface())
	}
	return false, m.ser.Encode(buf, v.Interface())
}

// DecodeTuple decodes payload into the exported fields of tuplePtr, which
// must be a non-nil pointer to a struct, in declaration order. A trailing
// field wrapped in Optional[T] decodes to an unset Optional once payload is
// exhausted rather than raising an error.
func (m *Marshaller) DecodeTuple(payload []byte, tuplePtr any) error {
	v := reflect.ValueOf(tuplePtr)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: %T", ErrNotATuple, tuplePtr)
	}
	v = v.Elem()
	t := v.Type()
	remaining := payload
	for i := 0; i < v.NumField(); i++ {
		if !t.Field(i).IsExported() {
			continue
		}
		consumed, err := m.decodeValue(remaining, v.Field(i))
		if err != nil {
			return err
		}
		remaining = remaining[consumed:]
	}
	return nil
}

func (m *Marshaller) decodeValue(remaining []byte, field reflect.Value) (int, error) {
	if od, ok := field.Addr().Interface().(optionalDecoder); ok {
		if len(remaining) == 0 {
			od.marshalSetOptional(nil, false)
			return 0, nil
		}
		innerType := field.Type().Field(0).Type
		ptr := reflect.New(innerType)
		consumed, err := m.ser.Decode(remaining, ptr.Interface())
		if err != nil {
			return 0, err
		}
		od.marshalSetOptional(ptr.Elem().Interface(), true)
		return consumed, nil
	}
	if field.Kind() == reflect.Ptr {
		elemType := field.Type().Elem()
		ptr := reflect.New(elemType)
		consumed, err := m.ser.Decode(remaining, ptr.Interface())
		if err != nil {
			return 0, err
		}
		field.Set(ptr)
		return consumed, nil
	}
	ptr := reflect.New(field.Type())
	consumed, err := m.ser.Decode(remaining, ptr.Interface())
	if err != nil {
		return 0, err
	}
	field.Set(ptr.Elem())
	return consumed, nil
}
