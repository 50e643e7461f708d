//go:build linux

// SPDX-License-Identifier: Apache-2.0

package vsock

import (
	"errors"
	"io"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

var (
	ErrBadFD = errors.New("vsock: bad file descriptor")
	ErrRead  = errors.New("vsock: unable to read")
	ErrWrite = errors.New("vsock: unable to write")
	ErrClose = errors.New("vsock: unable to close")
)

const (
	stateConnected = iota
	stateClosed
)

type conn struct {
	state atomic.Uint32
	fd    int
}

func newConn(fd int) *conn {
	return &conn{fd: fd}
}

func (c *conn) Read(b []byte) (int, error) {
	n, err := unix.Read(c.fd, b)
	if err != nil {
		if errors.Is(err, unix.EBADF) {
			err = errors.Join(ErrBadFD, err)
		}
		return n, errors.Join(ErrRead, err)
	}
	if n == 0 {
		return 0, errors.Join(ErrRead, io.EOF)
	}
	return n, nil
}

func (c *conn) Write(b []byte) (int, error) {
	n, err := unix.Write(c.fd, b)
	if err != nil {
		if errors.Is(err, unix.EBADF) {
			err = errors.Join(ErrBadFD, err)
		}
		return n, errors.Join(ErrWrite, err)
	}
	if n == 0 {
		return 0, errors.Join(ErrWrite, io.EOF)
	}
	return n, nil
}

func (c *conn) Close() error {
	if c.state.CompareAndSwap(stateConnected, stateClosed) {
		if err := unix.Shutdown(c.fd, unix.SHUT_RDWR); err != nil {
			if cerr := unix.Close(c.fd); cerr != nil {
				err = errors.Join(err, cerr)
			}
			return errors.Join(ErrClose, err)
		}
		if err := unix.Close(c.fd); err != nil {
			return errors.Join(ErrClose, err)
		}
	}
	return nil
}
