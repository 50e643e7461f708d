//go:build linux

// SPDX-License-Identifier: Apache-2.0

// Package vsock implements a transport.Dialer over AF_VSOCK, for peers that
// share a hypervisor rather than an IP network (guest-to-host RPC).
package vsock

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"

	"github.com/loopholelabs/corerpc/transport"
)

var (
	ErrCreation   = errors.New("vsock: unable to create socket")
	ErrConnection = errors.New("vsock: unable to connect")
)

// Dialer dials a fixed (CID, port) pair over AF_VSOCK.
type Dialer struct {
	CID  uint32
	Port uint32
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	fd, err := unix.Socket(unix.AF_VSOCK, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Join(ErrCreation, err)
	}
	done := make(chan error, 1)
	go func() {
		done <- unix.Connect(fd, &unix.SockaddrVM{CID: d.CID, Port: d.Port})
	}()
	select {
	case err = <-done:
		if err != nil {
			_ = unix.Close(fd)
			return nil, errors.Join(ErrConnection, err)
		}
		return newConn(fd), nil
	case <-ctx.Done():
		_ = unix.Close(fd)
		return nil, ctx.Err()
	}
}

var _ transport.Dialer = (*Dialer)(nil)
