package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerSerializesSameFlow(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			release, err := locker.Acquire(ctx, "acme", "flow-1")
			require.NoError(t, err)
			defer release()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestLocalLockerIndependentFlows(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	release1, err := locker.Acquire(ctx, "acme", "flow-1")
	require.NoError(t, err)
	defer release1()

	// A different flow must not block behind flow-1.
	done := make(chan struct{})

	go func() {
		release2, err := locker.Acquire(ctx, "acme", "flow-2")
		assert.NoError(t, err)
		release2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("independent flow blocked")
	}
}

func TestLocalLockerAcquireCancelled(t *testing.T) {
	locker := NewLocalLocker()

	release, err := locker.Acquire(context.Background(), "acme", "flow-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = locker.Acquire(ctx, "acme", "flow-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()

	// The lock must be usable again after the cancelled waiter cleaned up.
	release2, err := locker.Acquire(context.Background(), "acme", "flow-1")
	require.NoError(t, err)
	release2()
}

func TestLocalLockerEvictsIdleEntries(t *testing.T) {
	locker := NewLocalLocker()

	release, err := locker.Acquire(context.Background(), "acme", "flow-1")
	require.NoError(t, err)
	release()

	locker.mu.Lock()
	defer locker.mu.Unlock()
	assert.Empty(t, locker.entries)
}
