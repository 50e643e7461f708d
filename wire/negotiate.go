// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
)

// FeatureTag identifies a negotiable protocol option. The on-wire integer
// values must be stable within a deployment.
type FeatureTag uint32

const (
	// FeatureCompress negotiates payload compression; its value is a
	// compressor-negotiation blob interpreted by the compressor factory.
	FeatureCompress FeatureTag = 1
	// FeatureTimeout negotiates inline per-call deadlines; its value is
	// always empty.
	FeatureTimeout FeatureTag = 2
)

// FeatureRecord is one { feature, value } pair as it appears on the wire.
type FeatureRecord struct {
	Tag   FeatureTag
	Value []byte
}

// Features is an ordered set of feature records. Order is preserved on the
// wire (insertion order) but carries no semantic meaning; keys are unique.
type Features []FeatureRecord

// Get returns the value associated with tag, if present.
func (f Features) Get(tag FeatureTag) ([]byte, bool) {
	for _, r := range f {
		if r.Tag == tag {
			return r.Value, true
		}
	}
	return nil, false
}

// Has reports whether tag is present.
func (f Features) Has(tag FeatureTag) bool {
	_, ok := f.Get(tag)
	return ok
}

// With returns a copy of f with tag set to value, replacing any existing
// record for tag and otherwise preserving insertion order.
func (f Features) With(tag FeatureTag, value []byte) Features {
	out := make(Features, 0, len(f)+1)
	replaced := false
	for _, r := range f {
		if r.Tag == tag {
			out = append(out, FeatureRecord{Tag: tag, Value: value})
			replaced = true
			continue
		}
		out = append(out, r)
	}
	if !replaced {
		out = append(out, FeatureRecord{Tag: tag, Value: value})
	}
	return out
}

// EncodeNegotiation lays out `magic[8] | extra_len:u32-le | records` into a
// freshly allocated buffer.
func EncodeNegotiation(magic [MagicLen]byte, features Features) []byte {
	extraLen := 0
	for _, r := range features {
		extraLen += 4 + 4 + len(r.Value)
	}
	buf := make([]byte, MagicLen+4+extraLen)
	copy(buf, magic[:])
	binary.LittleEndian.PutUint32(buf[MagicLen:], uint32(extraLen))
	off := MagicLen + 4
	for _, r := range features {
		binary.LittleEndian.PutUint32(buf[off:], uint32(r.Tag))
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.Value)))
		off += 4
		copy(buf[off:], r.Value)
		off += len(r.Value)
	}
	return buf
}

// DecodeNegotiationHeader parses the fixed `magic[8] | extra_len:u32-le`
// prefix and validates the magic against want.
func DecodeNegotiationHeader(buf []byte, want [MagicLen]byte) (extraLen uint32, err error) {
	if len(buf) < MagicLen+4 {
		return 0, ErrShortBuffer
	}
	var got [MagicLen]byte
	copy(got[:], buf[:MagicLen])
	if got != want {
		return 0, ErrBadMagic
	}
	return binary.LittleEndian.Uint32(buf[MagicLen:]), nil
}

// DecodeNegotiationExtra parses the `extra` record sequence out of buf,
// which must be exactly extraLen bytes (the caller reads that many bytes
// off the transport before calling this).
func DecodeNegotiationExtra(buf []byte) (Features, error) {
	var out Features
	off := 0
	for off < len(buf) {
		if len(buf)-off < 8 {
			return nil, ErrShortBuffer
		}
		tag := FeatureTag(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		valLen := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		if uint32(len(buf)-off) < valLen {
			return nil, ErrShortBuffer
		}
		value := make([]byte, valLen)
		copy(value, buf[off:off+int(valLen)])
		off += int(valLen)
		out = append(out, FeatureRecord{Tag: tag, Value: value})
	}
	return out, nil
}

// EncodeCompressedEnvelope lays out `compressed_len:u32-le | compressed`
// into a freshly allocated buffer.
func EncodeCompressedEnvelope(compressed []byte) []byte {
	buf := make([]byte, 4+len(compressed))
	binary.LittleEndian.PutUint32(buf, uint32(len(compressed)))
	copy(buf[4:], compressed)
	return buf
}

// DecodeCompressedEnvelopeHeader reads the 4-byte length prefix of a
// compressed envelope.
func DecodeCompressedEnvelopeHeader(buf []byte) (uint32, error) {
	if len(buf) < 4 {
		return 0, ErrShortBuffer
	}
	return binary.LittleEndian.Uint32(buf), nil
}
