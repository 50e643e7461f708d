// SPDX-License-Identifier: Apache-2.0

// Package lz4 implements the default compressor.Factory using
// github.com/pierrec/lz4/v4's block API, which matches the wire's
// single-shot compressed_len|bytes envelope without a streaming wrapper.
package lz4

import (
	"errors"

	"github.com/pierrec/lz4/v4"

	"github.com/loopholelabs/corerpc/compressor"
)

// ErrRejected is returned by Negotiate when the peer did not advertise lz4.
var ErrRejected = errors.New("lz4: peer did not advertise lz4 support")

const advertised = "lz4"

// Factory is the lz4-backed compressor.Factory.
type Factory struct{}

// New returns a ready-to-use lz4 Factory.
func New() *Factory {
	return &Factory{}
}

// Supported implements compressor.Factory.
func (Factory) Supported() []byte {
	return []byte(advertised)
}

// Negotiate implements compressor.Factory.
func (Factory) Negotiate(peerBlob []byte, isServer bool) (compressor.Compressor, []byte, error) {
	if string(peerBlob) != advertised {
		return nil, nil, ErrRejected
	}
	return &blockCompressor{}, []byte(advertised), nil
}

type blockCompressor struct{}

// Compress implements compressor.Compressor.
func (blockCompressor) Compress(plaintext []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(plaintext)))
	var c lz4.Compressor
	n, err := c.CompressBlock(plaintext, dst)
	if err != nil {
		return nil, err
	}
	if n == 0 && len(plaintext) > 0 {
		// incompressible input: lz4 signals this with n == 0
		n = copy(dst, plaintext)
		return append([]byte{0}, dst[:n]...), nil
	}
	return append([]byte{1}, dst[:n]...), nil
}

// Decompress implements compressor.Compressor.
func (blockCompressor) Decompress(compressed []byte) ([]byte, error) {
	if len(compressed) == 0 {
		return nil, nil
	}
	flag, body := compressed[0], compressed[1:]
	if flag == 0 {
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	}
	dst := make([]byte, 4*len(body)+64)
	for {
		n, err := lz4.UncompressBlock(body, dst)
		if err == nil {
			return dst[:n], nil
		}
		if !errors.Is(err, lz4.ErrInvalidSourceShortBuffer) {
			return nil, err
		}
		dst = make([]byte, len(dst)*2)
	}
}

var _ compressor.Factory = Factory{}
