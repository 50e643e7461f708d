// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/loopholelabs/logging"

	"github.com/loopholelabs/corerpc/admission"
	"github.com/loopholelabs/corerpc/gate"
	"github.com/loopholelabs/corerpc/internal/cancel"
	"github.com/loopholelabs/corerpc/marshal"
	"github.com/loopholelabs/corerpc/serializer"
	"github.com/loopholelabs/corerpc/transport"
	"github.com/loopholelabs/corerpc/wire"
)

// unknownVerbAdmissionBytes is the fixed admission reservation the source
// this framework generalizes charges an unknown-verb response, independent
// of any estimate_request_size hook.
const unknownVerbAdmissionBytes = 28

// EstimateFunc estimates the in-memory footprint of an accepted request
// from its wire payload length, for admission accounting.
type EstimateFunc func(payloadLen uint32) uint64

// DefaultEstimate charges one byte of admission per payload byte.
func DefaultEstimate(payloadLen uint32) uint64 {
	return uint64(payloadLen)
}

// ServerOptions configures a Server.
type ServerOptions struct {
	Negotiation Config
	Serializer  serializer.Serializer
	Logger      logging.Logger
	// MaxMemory bounds, per connection, the sum of in-flight admission
	// reservations.
	MaxMemory uint64
	// Estimate defaults to DefaultEstimate.
	Estimate EstimateFunc
}

func validServerOptions(o *ServerOptions) bool {
	return o != nil && o.Serializer != nil && o.Logger != nil && o.MaxMemory > 0
}

type dispatchFunc func(ctx context.Context, sc *serverConn, info ClientInfo, msgID int64, payload []byte)

// Server is the callee side: it accepts connections, negotiates features
// per connection, and dispatches request frames to registered handlers.
type Server struct {
	cfg        ServerOptions
	marshaller *marshal.Marshaller
	logger     logging.Logger
	estimate   EstimateFunc

	mu       sync.Mutex
	handlers map[MsgType]dispatchFunc

	gate *gate.Gate

	connsMu sync.Mutex
	conns   map[*serverConn]struct{}
	connsWG sync.WaitGroup

	lis        *transport.Listener
	acceptDone chan struct{}
}

// NewServer constructs a Server that has not yet been bound to a listener.
func NewServer(options ServerOptions) (*Server, error) {
	if !validServerOptions(&options) {
		return nil, ErrOptions
	}
	if options.Estimate == nil {
		options.Estimate = DefaultEstimate
	}
	return &Server{
		cfg:        options,
		marshaller: marshal.New(options.Serializer),
		logger:     options.Logger.SubLogger("server"),
		estimate:   options.Estimate,
		handlers:   make(map[MsgType]dispatchFunc),
		gate:       gate.New(),
		conns:      make(map[*serverConn]struct{}),
	}, nil
}

// ErrOptions is returned by NewServer when options are incomplete.
var ErrOptions = errors.New("rpc: invalid server options")

// Bind starts accepting connections from lis. Each accepted connection is
// negotiated and driven by its own read loop.
func (s *Server) Bind(lis *transport.Listener) {
	s.lis = lis
	s.acceptDone = make(chan struct{})
	go s.acceptLoop()
}

func (s *Server) acceptLoop() {
	defer close(s.acceptDone)
	for {
		rw, err := s.lis.Accept()
		if err != nil {
			return
		}
		go s.handleAccepted(rw)
	}
}

func (s *Server) handleAccepted(rw transport.Conn) {
	features, comp, err := negotiateServer(rw, s.cfg.Negotiation)
	if err != nil {
		s.logger.Error().Err(err).Msg("negotiation failed")
		_ = rw.Close()
		return
	}
	var remote net.Addr
	if nc, ok := rw.(net.Conn); ok {
		remote = nc.RemoteAddr()
	}
	sc := &serverConn{
		conn:      newConn(rw, remote, s.logger, features, comp),
		server:    s,
		admission: admission.New(s.cfg.MaxMemory),
	}
	s.connsMu.Lock()
	s.conns[sc] = struct{}{}
	s.connsMu.Unlock()
	s.connsWG.Add(1)
	defer s.connsWG.Done()
	sc.readLoop()
}

func (s *Server) removeConn(sc *serverConn) {
	s.connsMu.Lock()
	delete(s.conns, sc)
	s.connsMu.Unlock()
}

func (s *Server) register(verb MsgType, fn dispatchFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.handlers[verb]; exists {
		return ErrVerbRegistered
	}
	s.handlers[verb] = fn
	return nil
}

func (s *Server) lookup(verb MsgType) (dispatchFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn, ok := s.handlers[verb]
	return fn, ok
}

// Stop stops accepting, closes the reply gate (denying new handler
// invocations), waits for every in-flight handler to finish, then stops
// each connection's loops and closes its transport.
func (s *Server) Stop() error {
	if s.lis != nil {
		_ = s.lis.Close()
		<-s.acceptDone
	}
	s.gate.Close()

	s.connsMu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for sc := range s.conns {
		conns = append(conns, sc)
	}
	s.connsMu.Unlock()

	var firstErr error
	for _, sc := range conns {
		if err := sc.rw.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.connsWG.Wait()
	return firstErr
}

// serverConn is one accepted connection: the shared send-loop base plus a
// per-connection admission pool and a back-reference to the server for
// handler lookup and the shared reply gate.
type serverConn struct {
	*conn
	server    *Server
	admission *admission.Pool
}

func (sc *serverConn) readLoop() {
	withDeadline := sc.features.Has(wire.FeatureTimeout)
	headerLen := wire.RequestHeaderLen
	if withDeadline {
		headerLen = wire.RequestHeaderLenWithDeadline
	}
	for {
		header, embedded, err := readPlaintextFrame(sc.rw, sc.compressor, headerLen)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				sc.logger.Error().Err(err).Str("connection_id", sc.connectionID.String()).Msg("server connection dropped")
			}
			sc.fail(err)
			break
		}
		req, err := wire.DecodeRequestHeader(header, withDeadline)
		if err != nil {
			sc.logger.Error().Err(err).Str("connection_id", sc.connectionID.String()).Msg("server connection dropped")
			sc.fail(errors.Join(ErrProtocol, err))
			break
		}
		payload, err := readPayload(sc.rw, sc.compressor, embedded, req.PayloadLen)
		if err != nil {
			sc.logger.Error().Err(err).Str("connection_id", sc.connectionID.String()).Msg("server connection dropped")
			sc.fail(err)
			break
		}
		sc.dispatch(req, payload)
	}
	sc.stopSendLoop()
	sc.server.removeConn(sc)
}

func (sc *serverConn) dispatch(req wire.RequestHeader, payload []byte) {
	verb := MsgType(req.Verb)
	fn, ok := sc.server.lookup(verb)
	if !ok {
		sc.replyUnknownVerb(req.MsgID, req.Verb)
		return
	}
	var deadline time.Time
	if req.ExpireMS > 0 {
		deadline = time.Now().Add(time.Duration(req.ExpireMS) * time.Millisecond)
	}
	go sc.invoke(fn, deadline, req.MsgID, payload)
}

func (sc *serverConn) invoke(fn dispatchFunc, deadline time.Time, msgID int64, payload []byte) {
	size := sc.server.estimate(uint32(len(payload)))
	ctx := context.Background()
	if !deadline.IsZero() {
		var cancelFn context.CancelFunc
		ctx, cancelFn = context.WithDeadline(ctx, deadline)
		defer cancelFn()

		watcher := cancel.New(ctx, func() error {
			sc.server.logger.Debug().Int64("msg_id", msgID).Msg("call expired before completion")
			return nil
		})
		defer watcher.CloseIgnoreError()
	}
	if err := sc.admission.Reserve(ctx, size); err != nil {
		return
	}
	defer sc.admission.Release(size)

	if !sc.server.gate.Enter() {
		return
	}
	defer sc.server.gate.Exit()

	info := ClientInfo{Remote: sc.remote, Features: sc.features, ConnectionID: sc.connectionID}
	fn(ctx, sc, info, msgID, payload)
}

func (sc *serverConn) replyUnknownVerb(reqMsgID int64, verb uint64) {
	if err := sc.admission.Reserve(context.Background(), unknownVerbAdmissionBytes); err != nil {
		return
	}
	buf := marshal.EncodeUnknownVerbException(wire.ResponseHeaderLen, verb)
	header := wire.ResponseHeader{MsgID: -reqMsgID, PayloadLen: uint32(len(buf.Payload()))}
	_ = header.Encode(buf.Head())
	sc.enqueue(buf.Bytes(), func() {
		serializer.Put(buf)
		sc.admission.Release(unknownVerbAdmissionBytes)
	})
}

func (sc *serverConn) replyResult(msgID int64, result any) {
	buf, err := sc.server.marshaller.EncodeTuple(wire.ResponseHeaderLen, result)
	if err != nil {
		sc.replyUserException(msgID, err.Error())
		return
	}
	header := wire.ResponseHeader{MsgID: msgID, PayloadLen: uint32(len(buf.Payload()))}
	if err := header.Encode(buf.Head()); err != nil {
		serializer.Put(buf)
		return
	}
	sc.enqueue(buf.Bytes(), func() { serializer.Put(buf) })
}

func (sc *serverConn) replyUserException(msgID int64, message string) {
	buf := marshal.EncodeUserException(wire.ResponseHeaderLen, message)
	header := wire.ResponseHeader{MsgID: -msgID, PayloadLen: uint32(len(buf.Payload()))}
	_ = header.Encode(buf.Head())
	sc.enqueue(buf.Bytes(), func() { serializer.Put(buf) })
}
