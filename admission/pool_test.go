// SPDX-License-Identifier: Apache-2.0

package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveReleaseWithinBudget(t *testing.T) {
	p := New(100)
	require.NoError(t, p.Reserve(context.Background(), 60))
	assert.Equal(t, uint64(40), p.Available())
	p.Release(60)
	assert.Equal(t, uint64(100), p.Available())
}

func TestReserveNeverExceedsBudget(t *testing.T) {
	p := New(10)
	require.NoError(t, p.Reserve(context.Background(), 10))

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, p.Reserve(context.Background(), 5))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("reservation should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(10)
	wg.Wait()
	assert.Equal(t, uint64(5), p.Available())
}

func TestReserveContextCancelled(t *testing.T) {
	p := New(1)
	require.NoError(t, p.Reserve(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Reserve(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
