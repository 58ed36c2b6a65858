package balance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chipin/chipin/service/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLive struct {
	mu     sync.Mutex
	amount int64
	at     time.Time
	ok     bool
}

func (f *fakeLive) Live(address string) (int64, time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.amount, f.at, f.ok
}

func (f *fakeLive) set(amount int64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.amount, f.at, f.ok = amount, at, true
}

type fakeFetcher struct {
	calls   int32
	amount  int64
	err     error
	started chan struct{} // closed when the first fetch begins
	release chan struct{} // fetch blocks until closed, when non-nil
	once    sync.Once
}

func (f *fakeFetcher) FetchBalance(ctx context.Context, userID, address string) (int64, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.release != nil {
		<-f.release
	}
	return f.amount, f.err
}

type fakeSharedReader struct {
	state *SharedWalletState
	err   error
}

func (f *fakeSharedReader) SharedWalletState(ctx context.Context, id string) (*SharedWalletState, error) {
	return f.state, f.err
}

func TestResolver_PriorityChain(t *testing.T) {
	now := time.Now().UTC()
	req := Request{Context: transfer.ContextSend1to1, UserID: "u1", WalletAddress: "ADDR"}

	t.Run("live wins", func(t *testing.T) {
		live := &fakeLive{}
		live.set(42_000_000, now)
		cache := NewCache()
		cache.Set("ADDR", 10_000_000, now.Add(-time.Minute))
		fetcher := &fakeFetcher{amount: 5_000_000}

		r := NewResolver(ResolverConfig{Live: live, Cached: cache, Fetcher: fetcher})
		snap := r.Resolve(context.Background(), req)
		assert.Equal(t, int64(42_000_000), snap.Amount)
		assert.Equal(t, SourceLive, snap.Source)
		assert.Zero(t, atomic.LoadInt32(&fetcher.calls), "no fetch when live has a value")
	})

	t.Run("cached when live empty", func(t *testing.T) {
		cache := NewCache()
		cache.Set("ADDR", 10_000_000, now)
		fetcher := &fakeFetcher{amount: 5_000_000}

		r := NewResolver(ResolverConfig{Live: &fakeLive{}, Cached: cache, Fetcher: fetcher})
		snap := r.Resolve(context.Background(), req)
		assert.Equal(t, int64(10_000_000), snap.Amount)
		assert.Equal(t, SourceCached, snap.Source)
		assert.Zero(t, atomic.LoadInt32(&fetcher.calls))
	})

	t.Run("fallback fetch when both unavailable", func(t *testing.T) {
		fetcher := &fakeFetcher{amount: 5_000_000}
		r := NewResolver(ResolverConfig{Live: &fakeLive{}, Cached: NewCache(), Fetcher: fetcher})
		snap := r.Resolve(context.Background(), req)
		assert.Equal(t, int64(5_000_000), snap.Amount)
		assert.Equal(t, SourceFallback, snap.Source)
		assert.Equal(t, int32(1), atomic.LoadInt32(&fetcher.calls))
	})

	t.Run("zero when everything fails", func(t *testing.T) {
		fetcher := &fakeFetcher{err: errors.New("rpc down")}
		r := NewResolver(ResolverConfig{Live: &fakeLive{}, Cached: NewCache(), Fetcher: fetcher})
		snap := r.Resolve(context.Background(), req)
		assert.Zero(t, snap.Amount)
		assert.Equal(t, SourceZero, snap.Source)
	})
}

func TestResolver_FallbackFetchIsSingleFlight(t *testing.T) {
	fetcher := &fakeFetcher{
		amount:  7_000_000,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	r := NewResolver(ResolverConfig{Fetcher: fetcher})
	req := Request{Context: transfer.ContextSend1to1, UserID: "u1", WalletAddress: "ADDR"}

	const concurrent = 8
	var wg sync.WaitGroup
	results := make([]Snapshot, concurrent)
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), req)
		}(i)
	}

	<-fetcher.started
	// Give the remaining goroutines time to pile onto the in-flight call.
	time.Sleep(20 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&fetcher.calls), "at most one fallback fetch in flight per address")
	for _, snap := range results {
		assert.Equal(t, int64(7_000_000), snap.Amount)
	}
}

func TestResolver_StaleFetchDiscardedWhenLiveArrives(t *testing.T) {
	live := &fakeLive{}
	fetcher := &fakeFetcher{
		amount:  1_000_000, // stale value the fetch will return
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	r := NewResolver(ResolverConfig{Live: live, Fetcher: fetcher})
	req := Request{Context: transfer.ContextSend1to1, UserID: "u1", WalletAddress: "ADDR"}

	done := make(chan Snapshot, 1)
	go func() {
		done <- r.Resolve(context.Background(), req)
	}()

	<-fetcher.started
	// A live update lands while the fetch is still out.
	live.set(9_000_000, time.Now().UTC().Add(time.Millisecond))
	close(fetcher.release)

	snap := <-done
	assert.Equal(t, int64(9_000_000), snap.Amount, "fresher live value must win over the in-flight fetch")
	assert.Equal(t, SourceLive, snap.Source)
}

func TestResolver_SharedWithdrawalUsesEntitlement(t *testing.T) {
	state := &SharedWalletState{
		SharedWalletID: "shared-1",
		TotalBalance:   100_000_000,
		Members: []Member{
			{UserID: "alice", Contributed: 30_000_000},
		},
	}
	live := &fakeLive{}
	live.set(999_000_000, time.Now().UTC()) // must be ignored for this context

	r := NewResolver(ResolverConfig{Live: live, Shared: &fakeSharedReader{state: state}})

	t.Run("member gets their share, not the pool total", func(t *testing.T) {
		snap := r.Resolve(context.Background(), Request{
			Context:        transfer.ContextSharedWalletWithdrawal,
			UserID:         "alice",
			SharedWalletID: "shared-1",
		})
		assert.Equal(t, int64(30_000_000), snap.Amount)
		assert.Equal(t, SourceEntitlement, snap.Source)
	})

	t.Run("non-member gets exactly zero", func(t *testing.T) {
		snap := r.Resolve(context.Background(), Request{
			Context:        transfer.ContextSharedWalletWithdrawal,
			UserID:         "mallory",
			SharedWalletID: "shared-1",
		})
		assert.Zero(t, snap.Amount)
	})

	t.Run("reader error fails closed to zero", func(t *testing.T) {
		broken := NewResolver(ResolverConfig{Shared: &fakeSharedReader{err: errors.New("db down")}})
		snap := broken.Resolve(context.Background(), Request{
			Context:        transfer.ContextSharedWalletWithdrawal,
			UserID:         "alice",
			SharedWalletID: "shared-1",
		})
		assert.Zero(t, snap.Amount)
	})
}

func TestCache_RecencyWins(t *testing.T) {
	c := NewCache()
	now := time.Now().UTC()

	require.True(t, c.Set("ADDR", 10, now))
	// An older write must not clobber the fresher entry.
	assert.False(t, c.Set("ADDR", 5, now.Add(-time.Second)))

	amount, at, ok := c.Cached("ADDR")
	require.True(t, ok)
	assert.Equal(t, int64(10), amount)
	assert.Equal(t, now, at)

	// A newer write does.
	require.True(t, c.Set("ADDR", 20, now.Add(time.Second)))
	amount, _, _ = c.Cached("ADDR")
	assert.Equal(t, int64(20), amount)
}
