// SPDX-License-Identifier: Apache-2.0

// Package admission implements the byte-budget semaphore that bounds how
// much request payload a single connection may have resident in memory at
// once.
package admission

import (
	"context"
	"sync"
)

// Pool is a counting semaphore initialized to a byte budget. Every accepted
// request reserves an estimated number of bytes for its lifetime and
// releases them on completion; the sum of reservations never exceeds the
// configured maximum.
type Pool struct {
	mu        sync.Mutex
	available uint64
	waiters   []chan struct{}
}

// New returns a Pool with maxBytes available.
func New(maxBytes uint64) *Pool {
	return &Pool{available: maxBytes}
}

// Reserve blocks until n bytes are available or ctx is done. It returns an
// error only if ctx is cancelled first.
func (p *Pool) Reserve(ctx context.Context, n uint64) error {
	for {
		p.mu.Lock()
		if p.available >= n {
			p.available -= n
			p.mu.Unlock()
			return nil
		}
		wake := make(chan struct{})
		p.waiters = append(p.waiters, wake)
		p.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release returns n bytes to the pool and wakes any waiters.
func (p *Pool) Release(n uint64) {
	p.mu.Lock()
	p.available += n
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Available reports the currently unreserved byte budget.
func (p *Pool) Available() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}
