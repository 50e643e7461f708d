// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"errors"
	"fmt"
)

// ErrClosed is terminal for every pending result once its connection is
// shutting down or already dead.
var ErrClosed = errors.New("rpc: connection closed")

// ErrProtocol marks a malformed frame, bad magic, or short buffer during
// decode. It is connection-fatal.
var ErrProtocol = errors.New("rpc: protocol error")

// ErrCancelled is a client-local termination of a pending result; no wire
// event corresponds to it.
var ErrCancelled = errors.New("rpc: call cancelled")

// ErrVerbRegistered is returned by Register when a verb already has a
// handler bound.
var ErrVerbRegistered = errors.New("rpc: verb already registered")

// UnknownVerbError is the structured exception a server sends back for a
// verb with no registered handler.
type UnknownVerbError struct {
	Verb MsgType
}

func (e *UnknownVerbError) Error() string {
	return fmt.Sprintf("rpc: unknown verb %d", e.Verb)
}

// RemoteError is what the caller observes when the handler, or marshalling
// of its return value, failed on the peer. Whether the message originated
// from the handler itself or from marshalling its result afterward is not
// distinguishable, matching the source this framework generalizes.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "rpc: remote error: " + e.Message
}
