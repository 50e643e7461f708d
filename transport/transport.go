// SPDX-License-Identifier: Apache-2.0

// Package transport implements the Listener/Dialer collaborators consumed
// by the core: socket listen/accept/connect, generalized from teacher's
// unix-only internal/listener into TCP and Unix domain sockets behind one
// interface, with TCP_NODELAY and optional keepalive applied the way the
// client and server components require.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	logging "github.com/loopholelabs/logging/types"
)

var (
	// ErrOptions is returned when a Listener or Dialer is misconfigured.
	ErrOptions = errors.New("transport: invalid options")
	// ErrClosed is returned by Accept once the listener has been closed.
	ErrClosed = errors.New("transport: listener closed")
	// ErrListen wraps a failure to bind the underlying socket.
	ErrListen = errors.New("transport: unable to listen")
	// ErrClose wraps a failure tearing down the underlying socket.
	ErrClose = errors.New("transport: unable to close")
)

// Conn is the minimal connection surface the core requires. Raw
// socket-backed dialers such as transport/vsock only satisfy this, not the
// full net.Conn interface, so it is what Dialer and Listener trade in.
type Conn = io.ReadWriteCloser

// Dialer opens outbound connections to a fixed address.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// ListenerOptions configures a Listener.
type ListenerOptions struct {
	// Network is "tcp" or "unix".
	Network string
	// Address is a host:port for "tcp" or a socket path for "unix".
	Address string
	// MaxPending bounds how many accepted-but-not-yet-claimed connections
	// are buffered before new ones are dropped with a log line.
	MaxPending int
	Logger     logging.SubLogger
}

func validListenerOptions(o *ListenerOptions) bool {
	return o != nil && o.Network != "" && o.Address != "" && o.MaxPending > 0 && o.Logger != nil
}

// Listener accepts connections on a bound address, applying TCP_NODELAY to
// TCP connections as they are accepted. It buffers accepted connections in
// a channel the way teacher's internal/listener does, so a slow consumer
// cannot stall the OS accept queue indefinitely.
type Listener struct {
	net.Listener
	available chan Conn
	state     atomic.Uint32
	logger    logging.Logger
	wg        sync.WaitGroup
}

const (
	stateListening = iota
	stateClosed
)

// Listen binds a new Listener per options.
func Listen(options *ListenerOptions) (*Listener, error) {
	if !validListenerOptions(options) {
		return nil, ErrOptions
	}
	raw, err := net.Listen(options.Network, options.Address)
	if err != nil {
		return nil, errors.Join(ErrListen, err)
	}
	lis := &Listener{
		Listener:  raw,
		available: make(chan Conn, options.MaxPending),
		logger:    options.Logger.SubLogger("transport"),
	}
	lis.state.Store(stateListening)
	lis.wg.Add(1)
	go lis.accept()
	return lis, nil
}

func (lis *Listener) accept() {
	for {
		conn, err := lis.Listener.Accept()
		if err != nil {
			lis.logger.Error().Err(err).Msg("unable to accept connection")
			break
		}
		applySocketOptions(conn)
		select {
		case lis.available <- conn:
		default:
			lis.logger.Warn().Msg("accept backlog full, dropping connection")
			_ = conn.Close()
		}
	}
	close(lis.available)
	lis.wg.Done()
}

// Accept returns the next connection, or ErrClosed once the listener has
// been closed and drained.
func (lis *Listener) Accept() (Conn, error) {
	conn, ok := <-lis.available
	if !ok {
		return nil, ErrClosed
	}
	return conn, nil
}

// Close stops accepting and closes any connections still buffered.
func (lis *Listener) Close() error {
	if !lis.state.CompareAndSwap(stateListening, stateClosed) {
		return nil
	}
	err := lis.Listener.Close()
	if err != nil {
		err = errors.Join(ErrClose, err)
	}
	lis.wg.Wait()
	for conn := range lis.available {
		_ = conn.Close()
	}
	return err
}

// NetDialer is a Dialer over TCP or Unix domain sockets.
type NetDialer struct {
	Network        string
	Address        string
	Timeout        time.Duration
	KeepaliveEvery time.Duration // zero disables keepalive
}

// Dial implements Dialer.
func (d *NetDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := &net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, d.Network, d.Address)
	if err != nil {
		return nil, err
	}
	applySocketOptions(conn)
	if d.KeepaliveEvery > 0 {
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetKeepAlive(true)
			_ = tc.SetKeepAlivePeriod(d.KeepaliveEvery)
		}
	}
	return conn, nil
}

func applySocketOptions(conn Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}
