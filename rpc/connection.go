// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/loopholelabs/logging"

	"github.com/loopholelabs/corerpc/compressor"
	"github.com/loopholelabs/corerpc/transport"
	"github.com/loopholelabs/corerpc/wire"
)

// outbound is one fully-framed plaintext buffer (header and payload
// contiguous) queued for the send loop. release, if set, is invoked once
// the frame has left the write queue, whether or not the write succeeded.
type outbound struct {
	frame   []byte
	release func()
}

// conn is the shared connection base: a single-writer send loop draining a
// write queue, an error flag latched by the first fatal I/O or protocol
// failure, and the negotiated feature set. Both Client and Server embed it.
type conn struct {
	rw           transport.Conn
	remote       net.Addr
	connectionID uuid.UUID
	logger       logging.Logger
	features     wire.Features
	compressor   compressor.Compressor

	writeQueue chan outbound
	stopSend   chan struct{}
	sendDone   chan struct{}
	errored    atomic.Bool
	stopOnce   sync.Once
}

func newConn(rw transport.Conn, remote net.Addr, logger logging.Logger, features wire.Features, comp compressor.Compressor) *conn {
	id := uuid.New()
	c := &conn{
		rw:           rw,
		remote:       remote,
		connectionID: id,
		logger:       logger,
		features:     features,
		compressor:   comp,
		writeQueue:   make(chan outbound, 64),
		stopSend:     make(chan struct{}),
		sendDone:     make(chan struct{}),
	}
	go c.sendLoop()
	return c
}

func (c *conn) sendLoop() {
	defer close(c.sendDone)
	for {
		select {
		case msg := <-c.writeQueue:
			err := c.writeFrame(msg.frame)
			if msg.release != nil {
				msg.release()
			}
			if err != nil {
				c.fail(err)
				c.drainWriteQueue()
				return
			}
		case <-c.stopSend:
			c.drainWriteQueue()
			return
		}
	}
}

// drainWriteQueue releases every frame currently buffered without writing
// it. Only ever called from the send loop itself, after it has decided to
// stop, so no further sender can race a concurrent enqueue past it.
func (c *conn) drainWriteQueue() {
	for {
		select {
		case msg := <-c.writeQueue:
			if msg.release != nil {
				msg.release()
			}
		default:
			return
		}
	}
}

func (c *conn) writeFrame(plaintext []byte) error {
	if c.compressor != nil {
		compressed, err := c.compressor.Compress(plaintext)
		if err != nil {
			return errors.Join(ErrProtocol, err)
		}
		_, err = c.rw.Write(wire.EncodeCompressedEnvelope(compressed))
		return err
	}
	_, err := c.rw.Write(plaintext)
	return err
}

// enqueue hands a frame to the send loop. It is safe to call after Close
// has begun stopping the loop; the frame is then dropped and release, if
// any, is still invoked so callers never leak admission reservations.
func (c *conn) enqueue(frame []byte, release func()) bool {
	if c.errored.Load() {
		if release != nil {
			release()
		}
		return false
	}
	select {
	case c.writeQueue <- outbound{frame: frame, release: release}:
		return true
	case <-c.sendDone:
		if release != nil {
			release()
		}
		return false
	}
}

// fail latches the error flag. It is idempotent; callers are responsible
// for logging with whatever context they have.
func (c *conn) fail(error) {
	c.errored.CompareAndSwap(false, true)
}

// stopSendLoop signals the send loop to stop and waits for it to drain,
// releasing any frames still buffered.
func (c *conn) stopSendLoop() {
	c.stopOnce.Do(func() {
		close(c.stopSend)
	})
	<-c.sendDone
}

func readPlaintextFrame(r io.Reader, comp compressor.Compressor, headerLen int) (header []byte, payload []byte, err error) {
	if comp != nil {
		prefix := make([]byte, 4)
		if _, err = io.ReadFull(r, prefix); err != nil {
			return nil, nil, err
		}
		length, derr := wire.DecodeCompressedEnvelopeHeader(prefix)
		if derr != nil {
			return nil, nil, errors.Join(ErrProtocol, derr)
		}
		compressed := make([]byte, length)
		if _, err = io.ReadFull(r, compressed); err != nil {
			return nil, nil, errors.Join(ErrProtocol, err)
		}
		plaintext, derr := comp.Decompress(compressed)
		if derr != nil {
			return nil, nil, errors.Join(ErrProtocol, derr)
		}
		if len(plaintext) < headerLen {
			return nil, nil, errors.Join(ErrProtocol, wire.ErrShortBuffer)
		}
		return plaintext[:headerLen], plaintext[headerLen:], nil
	}

	header = make([]byte, headerLen)
	if _, err = io.ReadFull(r, header); err != nil {
		return nil, nil, err
	}
	return header, nil, nil
}

func readPayload(r io.Reader, comp compressor.Compressor, payload []byte, n uint32) ([]byte, error) {
	if comp != nil {
		if uint32(len(payload)) < n {
			return nil, errors.Join(ErrProtocol, wire.ErrShortBuffer)
		}
		return payload[:n], nil
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, errors.Join(ErrProtocol, err)
		}
	}
	return buf, nil
}
