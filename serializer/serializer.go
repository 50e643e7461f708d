// SPDX-License-Identifier: Apache-2.0

// Package serializer defines the pluggable value-encoding collaborator that
// the marshaller delegates to. It knows how to turn a single Go value into
// wire bytes and back; it has no notion of frames, tuples, or verbs.
package serializer

import (
	"io"
	"sync"
)

// Serializer converts individual values to and from their wire
// representation. Implementations must be safe for concurrent use across
// connections (a single Serializer is normally shared by every Client and
// Server on a process).
type Serializer interface {
	// Encode appends the wire encoding of v to w. v is always a concrete,
	// non-pointer, non-nil scalar (bool, an integer kind, a float kind,
	// string, or []byte) — the marshaller strips optionality and pointer
	// indirection before calling in.
	Encode(w io.Writer, v any) error

	// Decode reads one value from the front of data into v, which is
	// always a non-nil pointer to one of the scalar kinds above, and
	// reports how many bytes of data it consumed.
	Decode(data []byte, v any) (consumed int, err error)
}

// Buffer is an append-only byte buffer that reserves a fixed prefix so a
// frame header can be written into it in place once the final payload
// length is known, per the head-space reservation policy in the marshaller.
type Buffer struct {
	data []byte
	head int
}

// NewBuffer allocates a Buffer with headSpace reserved bytes at the front.
func NewBuffer(headSpace int) *Buffer {
	return &Buffer{data: make([]byte, headSpace, headSpace+64), head: headSpace}
}

// Write implements io.Writer, appending to the payload region.
func (b *Buffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// Bytes returns the full buffer, head space included.
func (b *Buffer) Bytes() []byte { return b.data }

// Payload returns the bytes written after the reserved head space.
func (b *Buffer) Payload() []byte { return b.data[b.head:] }

// Head returns the reserved prefix, for writing the frame header in place.
func (b *Buffer) Head() []byte { return b.data[:b.head] }

// Len returns the total buffer length, head space included.
func (b *Buffer) Len() int { return len(b.data) }

var pool = sync.Pool{New: func() any { return new(Buffer) }}

// Get returns a pooled Buffer with headSpace reserved bytes zeroed at the front.
func Get(headSpace int) *Buffer {
	buf := pool.Get().(*Buffer)
	if cap(buf.data) < headSpace {
		buf.data = make([]byte, headSpace, headSpace+64)
	} else {
		buf.data = buf.data[:headSpace]
		clear(buf.data)
	}
	buf.head = headSpace
	return buf
}

// Put returns buf to the pool.
func Put(buf *Buffer) {
	if buf == nil {
		return
	}
	pool.Put(buf)
}
