// SPDX-License-Identifier: Apache-2.0

// Package gate implements the reply gate: a counting barrier that delays
// server shutdown until every in-progress handler invocation has finished,
// and rejects new entries once closing has begun.
package gate

import "sync"

// Gate is a counting barrier. Enter fails once Close has been called;
// Close blocks until every entered holder has called Exit.
type Gate struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	closing bool
}

// New returns an open Gate.
func New() *Gate {
	return &Gate{}
}

// Enter attempts to enter the gate, returning false if it is closing or
// closed. A successful Enter must be paired with exactly one Exit.
func (g *Gate) Enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.wg.Add(1)
	return true
}

// Exit releases one Enter.
func (g *Gate) Exit() {
	g.wg.Done()
}

// Close denies new entries and blocks until every entered holder has
// called Exit.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closing = true
	g.mu.Unlock()
	g.wg.Wait()
}
