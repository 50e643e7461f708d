// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"errors"
	"io"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	logging "github.com/loopholelabs/logging"

	"github.com/loopholelabs/corerpc/marshal"
	"github.com/loopholelabs/corerpc/serializer"
	"github.com/loopholelabs/corerpc/transport"
	"github.com/loopholelabs/corerpc/wire"
)

// replyResult is what a response frame, or a locally-decided outcome
// (cancellation, connection failure), delivers to a waiting call.
type replyResult struct {
	payload   []byte
	exception bool
	err       error
}

type pendingCall struct {
	resultCh chan replyResult
}

func newPendingCall() *pendingCall {
	return &pendingCall{resultCh: make(chan replyResult, 1)}
}

func (pc *pendingCall) deliver(res replyResult) {
	select {
	case pc.resultCh <- res:
	default:
	}
}

// Client is the caller side of a connection: it allocates message ids,
// tracks outstanding replies, and drives one send loop and one response
// read loop for its underlying transport connection.
type Client struct {
	*conn

	marshaller *marshal.Marshaller
	cfg        Config

	nextID atomic.Int64

	mu          sync.Mutex
	outstanding map[int64]*pendingCall

	sent     atomic.Uint64
	replied  atomic.Uint64
	failed   atomic.Uint64
	timedout atomic.Uint64

	readDone chan struct{}
}

// Connect opens the transport, negotiates features, and starts the client's
// send and response-reading loops. A failure here, or afterward, is
// surfaced to every call as ErrClosed.
func Connect(ctx context.Context, dialer transport.Dialer, ser serializer.Serializer, logger logging.Logger, cfg Config) (*Client, error) {
	rw, err := dialer.Dial(ctx)
	if err != nil {
		return nil, errors.Join(ErrClosed, err)
	}
	features, comp, err := negotiateClient(rw, cfg)
	if err != nil {
		_ = rw.Close()
		return nil, errors.Join(ErrClosed, err)
	}

	var remote net.Addr
	if nc, ok := rw.(net.Conn); ok {
		remote = nc.RemoteAddr()
	}

	c := &Client{
		conn:        newConn(rw, remote, logger.SubLogger("client"), features, comp),
		marshaller:  marshal.New(ser),
		cfg:         cfg,
		outstanding: make(map[int64]*pendingCall),
		readDone:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() Stats {
	return Stats{
		Sent:     c.sent.Load(),
		Replied:  c.replied.Load(),
		Failed:   c.failed.Load(),
		Timedout: c.timedout.Load(),
	}
}

func (c *Client) register(id int64) *pendingCall {
	pc := newPendingCall()
	c.mu.Lock()
	c.outstanding[id] = pc
	c.mu.Unlock()
	return pc
}

func (c *Client) unregister(id int64) (*pendingCall, bool) {
	c.mu.Lock()
	pc, ok := c.outstanding[id]
	if ok {
		delete(c.outstanding, id)
	}
	c.mu.Unlock()
	return pc, ok
}

func (c *Client) failAllOutstanding() {
	c.mu.Lock()
	pending := c.outstanding
	c.outstanding = make(map[int64]*pendingCall)
	c.mu.Unlock()
	for _, pc := range pending {
		pc.deliver(replyResult{err: ErrClosed})
	}
}

// Shutdown stops the send loop, closes the transport, and resolves every
// outstanding pending result with ErrClosed. It is idempotent.
func (c *Client) Shutdown() error {
	c.fail(nil)
	err := c.rw.Close()
	<-c.readDone
	c.stopSendLoop()
	c.failAllOutstanding()
	return err
}

func (c *Client) readLoop() {
	defer close(c.readDone)
	for {
		header, embedded, err := readPlaintextFrame(c.rw, c.compressor, wire.ResponseHeaderLen)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Error().Err(err).Str("connection_id", c.connectionID.String()).Msg("client connection dropped")
			}
			c.fail(err)
			break
		}
		resp, err := wire.DecodeResponseHeader(header)
		if err != nil {
			c.logger.Error().Err(err).Str("connection_id", c.connectionID.String()).Msg("malformed response header")
			c.fail(errors.Join(ErrProtocol, err))
			break
		}
		payload, err := readPayload(c.rw, c.compressor, embedded, resp.PayloadLen)
		if err != nil {
			c.logger.Error().Err(err).Str("connection_id", c.connectionID.String()).Msg("client connection dropped")
			c.fail(err)
			break
		}
		c.dispatchReply(resp.MsgID, payload)
	}
	c.stopSendLoop()
	c.failAllOutstanding()
}

func (c *Client) dispatchReply(msgID int64, payload []byte) {
	id := msgID
	if id < 0 {
		id = -id
	}
	pc, ok := c.unregister(id)
	if ok {
		pc.deliver(replyResult{payload: payload, exception: msgID < 0})
		return
	}

	if msgID < 0 {
		dec, err := marshal.DecodeException(payload)
		if err != nil {
			c.fail(errors.Join(ErrProtocol, err))
			return
		}
		if dec.Kind == wire.ExceptionUnknownVerb {
			// A reply for a fire-and-forget call whose verb the peer did
			// not recognize. Logged and ignored per the protocol.
			c.logger.Debug().Uint64("verb", dec.Verb).Msg("unknown-verb reply for untracked call")
			return
		}
		c.fail(errors.Join(ErrProtocol, errors.New("exception for untracked call")))
		return
	}

	// A positive, untracked msg_id: a late reply after the caller already
	// timed out or cancelled. Discarded with only a debug-level log line.
	c.logger.Debug().Int64("msg_id", msgID).Msg("late reply discarded")
}

func isNoWait[R any]() bool {
	return reflect.TypeOf((*R)(nil)).Elem() == reflect.TypeOf(NoWait{})
}

func requestHeadSpace(withDeadline bool) int {
	if withDeadline {
		return wire.RequestHeaderLenWithDeadline
	}
	return wire.RequestHeaderLen
}

func deadlineMillis(ctx context.Context) uint64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return 1
	}
	return uint64(remaining.Milliseconds())
}

// Invoke marshals args and sends a request for verb over c, then waits for
// the correlated response (or ctx's cancellation/deadline) unless R is the
// NoWait sentinel, in which case it returns as soon as the frame is queued
// for sending and no reply handle is ever registered.
func Invoke[A, R any](ctx context.Context, c *Client, verb MsgType, args A) (R, error) {
	var zero R
	withDeadline := c.features.Has(wire.FeatureTimeout)
	headSpace := requestHeadSpace(withDeadline)

	buf, err := c.marshaller.EncodeTuple(headSpace, args)
	if err != nil {
		return zero, err
	}

	id := c.nextID.Add(1)
	header := wire.RequestHeader{
		Verb:       uint64(verb),
		MsgID:      id,
		PayloadLen: uint32(len(buf.Payload())),
	}
	if withDeadline {
		header.ExpireMS = deadlineMillis(ctx)
	}
	if err := header.Encode(buf.Head(), withDeadline); err != nil {
		serializer.Put(buf)
		return zero, err
	}

	noWait := isNoWait[R]()
	var pc *pendingCall
	if !noWait {
		pc = c.register(id)
	}

	frame := buf.Bytes()
	if !c.enqueue(frame, func() { serializer.Put(buf) }) {
		if pc != nil {
			c.unregister(id)
		}
		return zero, ErrClosed
	}
	c.sent.Add(1)

	if noWait {
		return zero, nil
	}

	select {
	case res := <-pc.resultCh:
		return decodeReply[R](c, res)
	case <-ctx.Done():
		if _, ok := c.unregister(id); ok {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				c.timedout.Add(1)
			}
			return zero, ctx.Err()
		}
		// Lost the race with a concurrent delivery; take whichever result
		// already landed rather than reporting a spurious cancellation.
		return decodeReply[R](c, <-pc.resultCh)
	}
}

func decodeReply[R any](c *Client, res replyResult) (R, error) {
	var zero R
	if res.err != nil {
		return zero, res.err
	}
	if res.exception {
		dec, err := marshal.DecodeException(res.payload)
		if err != nil {
			c.fail(err)
			return zero, err
		}
		c.failed.Add(1)
		switch dec.Kind {
		case wire.ExceptionUnknownVerb:
			return zero, &UnknownVerbError{Verb: MsgType(dec.Verb)}
		default:
			return zero, &RemoteError{Message: dec.Message}
		}
	}
	var out R
	if err := c.marshaller.DecodeTuple(res.payload, &out); err != nil {
		return zero, err
	}
	c.replied.Add(1)
	return out, nil
}
