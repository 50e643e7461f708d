// SPDX-License-Identifier: Apache-2.0

package rpc

import "context"

// ClientStub is the typed, verb-bound caller-side counterpart of a
// registered handler. It is returned by Register/RegisterInfo so the
// caller never has to spell out a verb and its argument/return types more
// than once.
type ClientStub[A, R any] struct {
	verb MsgType
}

// Verb returns the stub's bound verb.
func (s *ClientStub[A, R]) Verb() MsgType { return s.verb }

// Call invokes the stub's verb on c with args, per Invoke's semantics.
func (s *ClientStub[A, R]) Call(ctx context.Context, c *Client, args A) (R, error) {
	return Invoke[A, R](ctx, c, s.verb, args)
}

// Register binds a handler that does not need per-connection information
// about its caller. If R is NoWait, the resulting stub is fire-and-forget:
// the server runs the handler but never sends a response, and the client
// never waits for one.
func Register[A, R any](s *Server, verb MsgType, fn func(context.Context, A) (R, error)) (*ClientStub[A, R], error) {
	return RegisterInfo(s, verb, func(ctx context.Context, _ ClientInfo, args A) (R, error) {
		return fn(ctx, args)
	})
}

// RegisterInfo binds a handler that additionally receives the ClientInfo
// of the connection each call arrived on.
func RegisterInfo[A, R any](s *Server, verb MsgType, fn func(context.Context, ClientInfo, A) (R, error)) (*ClientStub[A, R], error) {
	noWait := isNoWait[R]()
	dispatch := func(ctx context.Context, sc *serverConn, info ClientInfo, msgID int64, payload []byte) {
		var args A
		if err := sc.server.marshaller.DecodeTuple(payload, &args); err != nil {
			if !noWait {
				sc.replyUserException(msgID, err.Error())
			} else {
				sc.server.logger.Warn().Err(err).Msg("dropping fire-and-forget call with undecodable arguments")
			}
			return
		}

		result, err := fn(ctx, info, args)
		if noWait {
			if err != nil {
				sc.server.logger.Warn().Err(err).Msg("fire-and-forget handler failed")
			}
			return
		}
		if err != nil {
			sc.replyUserException(msgID, err.Error())
			return
		}
		sc.replyResult(msgID, result)
	}

	if err := s.register(verb, dispatch); err != nil {
		return nil, err
	}
	return &ClientStub[A, R]{verb: verb}, nil
}
