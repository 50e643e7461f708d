// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"errors"
	"io"

	"github.com/loopholelabs/corerpc/compressor"
	"github.com/loopholelabs/corerpc/wire"
)

// Config is the set of features a side of a connection wishes to enable.
// It is consumed both by the negotiator and, once negotiation settles the
// active feature set, by the connection itself.
type Config struct {
	// Timeout requests that a relative deadline be carried inline on every
	// request header.
	Timeout bool
	// Compressor, if set, is offered for negotiation. A server accepts it
	// only if the peer advertised an overlapping algorithm.
	Compressor compressor.Factory
}

func wantedFeatures(cfg Config) wire.Features {
	var features wire.Features
	if cfg.Timeout {
		features = features.With(wire.FeatureTimeout, nil)
	}
	if cfg.Compressor != nil {
		features = features.With(wire.FeatureCompress, cfg.Compressor.Supported())
	}
	return features
}

func writeNegotiation(w io.Writer, features wire.Features) error {
	_, err := w.Write(wire.EncodeNegotiation(wire.Magic, features))
	return err
}

func readNegotiation(r io.Reader) (wire.Features, error) {
	head := make([]byte, wire.MagicLen+4)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, errors.Join(ErrProtocol, err)
	}
	extraLen, err := wire.DecodeNegotiationHeader(head, wire.Magic)
	if err != nil {
		return nil, errors.Join(ErrProtocol, err)
	}
	extra := make([]byte, extraLen)
	if extraLen > 0 {
		if _, err := io.ReadFull(r, extra); err != nil {
			return nil, errors.Join(ErrProtocol, err)
		}
	}
	features, err := wire.DecodeNegotiationExtra(extra)
	if err != nil {
		return nil, errors.Join(ErrProtocol, err)
	}
	return features, nil
}

// negotiateClient sends the client's wanted features, reads the server's
// echoed subset, and finalizes any negotiated compressor from the server's
// transformed blob.
func negotiateClient(conn io.ReadWriter, cfg Config) (wire.Features, compressor.Compressor, error) {
	if err := writeNegotiation(conn, wantedFeatures(cfg)); err != nil {
		return nil, nil, errors.Join(ErrClosed, err)
	}
	active, err := readNegotiation(conn)
	if err != nil {
		return nil, nil, err
	}
	var comp compressor.Compressor
	if blob, ok := active.Get(wire.FeatureCompress); ok && cfg.Compressor != nil {
		comp, _, err = cfg.Compressor.Negotiate(blob, false)
		if err != nil {
			return nil, nil, errors.Join(ErrProtocol, err)
		}
	}
	return active, comp, nil
}

// negotiateServer reads the client's wanted features, computes the subset
// this side accepts (possibly transforming values, e.g. picking a
// compressor from the overlap), and echoes it back.
func negotiateServer(conn io.ReadWriter, cfg Config) (wire.Features, compressor.Compressor, error) {
	requested, err := readNegotiation(conn)
	if err != nil {
		return nil, nil, err
	}

	var active wire.Features
	var comp compressor.Compressor

	if _, ok := requested.Get(wire.FeatureTimeout); ok && cfg.Timeout {
		active = active.With(wire.FeatureTimeout, nil)
	}
	if blob, ok := requested.Get(wire.FeatureCompress); ok && cfg.Compressor != nil {
		var responseBlob []byte
		comp, responseBlob, err = cfg.Compressor.Negotiate(blob, true)
		if err == nil {
			active = active.With(wire.FeatureCompress, responseBlob)
		} else {
			comp = nil
		}
	}

	if err := writeNegotiation(conn, active); err != nil {
		return nil, nil, errors.Join(ErrClosed, err)
	}
	return active, comp, nil
}
