package transfer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_SingleAcquire(t *testing.T) {
	g := NewGuard(nil)
	assert.Equal(t, GuardIdle, g.State())

	require.True(t, g.TryAcquire())
	assert.Equal(t, GuardExecuting, g.State())

	// Second acquire while executing is rejected.
	assert.False(t, g.TryAcquire())

	g.Release()
	assert.Equal(t, GuardIdle, g.State())

	// A fresh attempt after release succeeds.
	assert.True(t, g.TryAcquire())
	g.Release()
}

func TestGuard_BusyIndicatorTracksState(t *testing.T) {
	var mu sync.Mutex
	var changes []bool
	g := NewGuard(func(busy bool) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, busy)
	})

	require.True(t, g.TryAcquire())
	// A rejected acquire must not touch the indicator.
	require.False(t, g.TryAcquire())
	g.Release()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, changes)
}

func TestGuard_ConcurrentAcquireAdmitsExactlyOne(t *testing.T) {
	g := NewGuard(nil)

	const attempts = 64
	var wg sync.WaitGroup
	acquired := make(chan struct{}, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire() {
				acquired <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(acquired)

	count := 0
	for range acquired {
		count++
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, GuardExecuting, g.State())
}
