//go:build !linux

// SPDX-License-Identifier: Apache-2.0

package vsock

import (
	"context"
	"errors"

	"github.com/loopholelabs/corerpc/transport"
)

// ErrUnsupported is returned on platforms without AF_VSOCK support.
var ErrUnsupported = errors.New("vsock: not supported on this platform")

// Dialer dials a fixed (CID, port) pair over AF_VSOCK.
type Dialer struct {
	CID  uint32
	Port uint32
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(context.Context) (transport.Conn, error) {
	return nil, ErrUnsupported
}

var _ transport.Dialer = (*Dialer)(nil)
