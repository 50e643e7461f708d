// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/loopholelabs/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	polyglotser "github.com/loopholelabs/corerpc/serializer/polyglot"
	"github.com/loopholelabs/corerpc/transport"
)

type pipeDialer struct {
	conn transport.Conn
}

func (d *pipeDialer) Dial(context.Context) (transport.Conn, error) {
	return d.conn, nil
}

type echoArgs struct {
	X uint32
}

type echoReply struct {
	X uint32
}

// harness wires a Server and Client over an in-memory net.Pipe, mirroring
// the way teacher's own rpc_test.go drives HandleConnection directly
// instead of a real socket.
type harness struct {
	t      *testing.T
	server *Server
	client *Client
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	logger := logging.NewTestLogger(t)
	c1, c2 := net.Pipe()

	server, err := NewServer(ServerOptions{
		Negotiation: cfg,
		Serializer:  polyglotser.New(),
		Logger:      logger,
		MaxMemory:   1 << 20,
	})
	require.NoError(t, err)

	go server.handleAccepted(c2)

	client, err := Connect(context.Background(), &pipeDialer{conn: c1}, polyglotser.New(), logger, cfg)
	require.NoError(t, err)

	return &harness{t: t, server: server, client: client}
}

func (h *harness) close() {
	_ = h.client.Shutdown()
	_ = h.server.Stop()
}

func TestEcho(t *testing.T) {
	h := newHarness(t, Config{})
	defer h.close()

	stub, err := Register(h.server, MsgType(1), func(_ context.Context, args echoArgs) (echoReply, error) {
		return echoReply{X: args.X ^ 0xA5A5A5A5}, nil
	})
	require.NoError(t, err)

	reply, err := stub.Call(context.Background(), h.client, echoArgs{X: 0x01020304})
	require.NoError(t, err)
	assert.Equal(t, uint32(0xA4A7A6A1), reply.X)
}

func TestUnknownVerb(t *testing.T) {
	h := newHarness(t, Config{})
	defer h.close()

	_, err := Invoke[echoArgs, echoReply](context.Background(), h.client, MsgType(42), echoArgs{})
	require.Error(t, err)
	var uv *UnknownVerbError
	require.True(t, errors.As(err, &uv))
	assert.Equal(t, MsgType(42), uv.Verb)
}

func TestUserException(t *testing.T) {
	h := newHarness(t, Config{})
	defer h.close()

	stub, err := Register(h.server, MsgType(2), func(_ context.Context, _ echoArgs) (echoReply, error) {
		return echoReply{}, errors.New("boom")
	})
	require.NoError(t, err)

	_, err = stub.Call(context.Background(), h.client, echoArgs{})
	require.Error(t, err)
	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "boom", re.Message)

	// The connection remains usable for subsequent calls.
	echoStub, err := Register(h.server, MsgType(3), func(_ context.Context, args echoArgs) (echoReply, error) {
		return echoReply{X: args.X}, nil
	})
	require.NoError(t, err)
	reply, err := echoStub.Call(context.Background(), h.client, echoArgs{X: 7})
	require.NoError(t, err)
	assert.Equal(t, uint32(7), reply.X)
}

func TestFireAndForget(t *testing.T) {
	h := newHarness(t, Config{})
	defer h.close()

	ran := make(chan uint32, 1)
	stub, err := Register(h.server, MsgType(4), func(_ context.Context, args echoArgs) (NoWait, error) {
		ran <- args.X
		return NoWait{}, nil
	})
	require.NoError(t, err)

	result, err := stub.Call(context.Background(), h.client, echoArgs{X: 99})
	require.NoError(t, err)
	assert.Equal(t, NoWait{}, result)

	select {
	case x := <-ran:
		assert.Equal(t, uint32(99), x)
	case <-time.After(time.Second):
		t.Fatal("fire-and-forget handler never ran")
	}
}

func TestDeadlineExpiry(t *testing.T) {
	h := newHarness(t, Config{Timeout: true})
	defer h.close()

	stub, err := Register(h.server, MsgType(5), func(ctx context.Context, _ echoArgs) (echoReply, error) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
		}
		return echoReply{}, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = stub.Call(ctx, h.client, echoArgs{})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, 300*time.Millisecond)
}

func TestShutdownMidFlight(t *testing.T) {
	h := newHarness(t, Config{})

	release := make(chan struct{})
	stub, err := Register(h.server, MsgType(6), func(ctx context.Context, _ echoArgs) (echoReply, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return echoReply{}, nil
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := stub.Call(context.Background(), h.client, echoArgs{})
			results[i] = err
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, h.client.Shutdown())
	close(release)
	wg.Wait()

	for _, err := range results {
		assert.ErrorIs(t, err, ErrClosed)
	}

	h.client.mu.Lock()
	assert.Empty(t, h.client.outstanding)
	h.client.mu.Unlock()

	_ = h.server.Stop()
}
