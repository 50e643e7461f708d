// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"net"

	"github.com/google/uuid"

	"github.com/loopholelabs/corerpc/wire"
)

// MsgType is a caller-chosen scalar tag identifying a remote procedure. It
// maps to at most one registered handler per server.
type MsgType uint64

// NoWait is the sentinel return type declaring a handler fire-and-forget:
// the client's stub never registers a reply handle and the server never
// writes a response frame for it, whatever the handler returns.
type NoWait struct{}

// ClientInfo is made available to handlers registered with RegisterInfo. It
// describes the connection the current call arrived on.
type ClientInfo struct {
	Remote       net.Addr
	Features     wire.Features
	ConnectionID uuid.UUID
}

// Stats tracks per-client counters split the way the source this framework
// is modeled on does: only successful, non-exception responses increment
// Replied.
type Stats struct {
	Sent     uint64
	Replied  uint64
	Failed   uint64
	Timedout uint64
}
