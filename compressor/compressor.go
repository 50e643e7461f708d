// SPDX-License-Identifier: Apache-2.0

// Package compressor defines the pluggable compressor-factory collaborator
// used when the COMPRESS feature is negotiated.
package compressor

// Compressor compresses and decompresses whole frames (header and payload
// together) for one direction of one connection.
type Compressor interface {
	Compress(plaintext []byte) ([]byte, error)
	Decompress(compressed []byte) ([]byte, error)
}

// Factory negotiates a Compressor from the peer's advertised blob.
type Factory interface {
	// Supported returns the blob this side advertises during negotiation.
	Supported() []byte

	// Negotiate returns a Compressor given the peer's advertised blob.
	// isServer is true when called by the side that echoes back the
	// negotiated feature value.
	Negotiate(peerBlob []byte, isServer bool) (Compressor, []byte, error)
}
