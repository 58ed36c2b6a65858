// Package balance produces a single authoritative spendable balance for a
// wallet context from overlapping sources: a push-updated live feed, a
// cached application balance, and an on-demand fallback fetch.
package balance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/chipin/chipin/service/metrics"
	"github.com/chipin/chipin/service/transfer"
)

// Source tags where a snapshot's amount came from. Diagnostic only; it
// never affects correctness.
type Source string

const (
	SourceLive        Source = "live"
	SourceCached      Source = "cached"
	SourceFallback    Source = "fallback"
	SourceEntitlement Source = "entitlement"
	SourceZero        Source = "zero"
)

// Snapshot is one resolved balance in base units, with the source that won
// and when that source last observed the value.
type Snapshot struct {
	Amount     int64     `json:"amount"`
	Source     Source    `json:"source"`
	ObservedAt time.Time `json:"observed_at"`
}

// LiveSource serves push-updated balances keyed by address.
type LiveSource interface {
	Live(address string) (amount int64, observedAt time.Time, ok bool)
}

// CachedSource serves the application-level cached balance for an address.
type CachedSource interface {
	Cached(address string) (amount int64, observedAt time.Time, ok bool)
}

// Fetcher performs the on-demand balance fetch used only when neither the
// live feed nor the cache has a value.
type Fetcher interface {
	FetchBalance(ctx context.Context, userID, address string) (int64, error)
}

// SharedWalletReader loads the pooled state needed to compute a member's
// entitled share for shared-wallet withdrawals.
type SharedWalletReader interface {
	SharedWalletState(ctx context.Context, sharedWalletID string) (*SharedWalletState, error)
}

// Request identifies whose balance is wanted and for which transfer
// context.
type Request struct {
	Context transfer.Context
	UserID  string
	// WalletAddress is the resolved wallet address for ordinary contexts.
	WalletAddress string
	// SharedWalletID is consulted only for shared-wallet withdrawals.
	SharedWalletID string
}

// Resolver tries an ordered list of sources and returns the first usable
// value: live, then cached, then a guarded fallback fetch, then zero. For
// shared-wallet withdrawals it instead reports the user's entitled share of
// the pooled wallet, failing closed to zero.
type Resolver struct {
	live    LiveSource
	cached  CachedSource
	fetcher Fetcher
	shared  SharedWalletReader
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	inflight map[string]*fetchCall
	// freshest tracks the newest observation per address so a slow fetch
	// resolving after a live update cannot clobber the fresher value.
	freshest map[string]time.Time
}

type fetchCall struct {
	done   chan struct{}
	amount int64
	err    error
}

// ResolverConfig wires a Resolver. Any of the sources may be nil; a nil
// source is simply skipped in the chain.
type ResolverConfig struct {
	Live    LiveSource
	Cached  CachedSource
	Fetcher Fetcher
	Shared  SharedWalletReader
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// NewResolver creates a balance resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Resolver{
		live:     cfg.Live,
		cached:   cfg.Cached,
		fetcher:  cfg.Fetcher,
		shared:   cfg.Shared,
		logger:   logger,
		metrics:  cfg.Metrics,
		inflight: make(map[string]*fetchCall),
		freshest: make(map[string]time.Time),
	}
}

// Resolve returns the authoritative spendable balance for the request. It
// never returns an error for ordinary contexts: an unusable chain resolves
// to a zero snapshot.
func (r *Resolver) Resolve(ctx context.Context, req Request) Snapshot {
	if req.Context == transfer.ContextSharedWalletWithdrawal {
		return r.resolveEntitlement(ctx, req)
	}

	if r.live != nil {
		if amount, at, ok := r.live.Live(req.WalletAddress); ok && amount > 0 {
			r.observe(req.WalletAddress, at)
			r.won(SourceLive)
			return Snapshot{Amount: amount, Source: SourceLive, ObservedAt: at}
		}
	}

	if r.cached != nil {
		if amount, at, ok := r.cached.Cached(req.WalletAddress); ok && amount > 0 {
			r.observe(req.WalletAddress, at)
			r.won(SourceCached)
			return Snapshot{Amount: amount, Source: SourceCached, ObservedAt: at}
		}
	}

	if r.fetcher != nil && req.WalletAddress != "" {
		if snap, ok := r.fetch(ctx, req); ok {
			return snap
		}
	}

	r.won(SourceZero)
	return Snapshot{Amount: 0, Source: SourceZero, ObservedAt: time.Now().UTC()}
}

// fetch performs the fallback fetch, collapsing concurrent callers for the
// same address onto a single in-flight call, and discards the result when a
// fresher live/cached observation arrived while the fetch was out.
func (r *Resolver) fetch(ctx context.Context, req Request) (Snapshot, bool) {
	started := time.Now().UTC()

	r.mu.Lock()
	call, running := r.inflight[req.WalletAddress]
	if !running {
		call = &fetchCall{done: make(chan struct{})}
		r.inflight[req.WalletAddress] = call
	}
	r.mu.Unlock()

	if !running {
		call.amount, call.err = r.fetcher.FetchBalance(ctx, req.UserID, req.WalletAddress)
		r.mu.Lock()
		delete(r.inflight, req.WalletAddress)
		r.mu.Unlock()
		close(call.done)
	} else {
		select {
		case <-call.done:
		case <-ctx.Done():
			return Snapshot{}, false
		}
	}

	if call.err != nil {
		r.logger.WarnContext(ctx, "fallback balance fetch failed",
			"address", req.WalletAddress,
			"error", call.err,
		)
		if r.metrics != nil {
			r.metrics.RecordBalanceFallbackFetch("error")
		}
		return Snapshot{}, false
	}
	if r.metrics != nil {
		r.metrics.RecordBalanceFallbackFetch("success")
	}

	// Recency wins over call order: if a live update landed after this
	// fetch started, prefer it and drop the fetch result.
	if r.live != nil {
		if amount, at, ok := r.live.Live(req.WalletAddress); ok && at.After(started) {
			r.logger.DebugContext(ctx, "discarding stale fallback fetch result",
				"address", req.WalletAddress,
				"fetch_started", started,
				"live_observed", at,
			)
			if r.metrics != nil {
				r.metrics.RecordBalanceStaleDiscard(string(SourceFallback))
			}
			r.observe(req.WalletAddress, at)
			r.won(SourceLive)
			return Snapshot{Amount: amount, Source: SourceLive, ObservedAt: at}, true
		}
	}

	if call.amount <= 0 {
		return Snapshot{}, false
	}
	r.observe(req.WalletAddress, started)
	r.won(SourceFallback)
	return Snapshot{Amount: call.amount, Source: SourceFallback, ObservedAt: started}, true
}

// resolveEntitlement reports the user's entitled share of a shared wallet.
// Never the pooled wallet's total, and zero on any internal error.
func (r *Resolver) resolveEntitlement(ctx context.Context, req Request) Snapshot {
	now := time.Now().UTC()
	zero := Snapshot{Amount: 0, Source: SourceEntitlement, ObservedAt: now}

	if r.shared == nil || req.SharedWalletID == "" {
		return zero
	}
	state, err := r.shared.SharedWalletState(ctx, req.SharedWalletID)
	if err != nil {
		r.logger.WarnContext(ctx, "entitlement lookup failed, treating as zero",
			"shared_wallet_id", req.SharedWalletID,
			"user_id", req.UserID,
			"error", err,
		)
		return zero
	}

	share, err := WithdrawableShare(state, req.UserID)
	if err != nil {
		r.logger.WarnContext(ctx, "entitlement computation failed, treating as zero",
			"shared_wallet_id", req.SharedWalletID,
			"user_id", req.UserID,
			"error", err,
		)
		return zero
	}

	r.won(SourceEntitlement)
	return Snapshot{Amount: share, Source: SourceEntitlement, ObservedAt: now}
}

func (r *Resolver) observe(address string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if at.After(r.freshest[address]) {
		r.freshest[address] = at
	}
}

func (r *Resolver) won(s Source) {
	if r.metrics != nil {
		r.metrics.RecordBalanceResolution(string(s))
	}
}

// Cache is a concurrency-safe application-level balance cache implementing
// both CachedSource and the write side fed by fetches and feed updates. A
// stale write never overwrites a fresher entry.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	amount     int64
	observedAt time.Time
}

// NewCache creates an empty balance cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Cached implements CachedSource.
func (c *Cache) Cached(address string) (int64, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[address]
	if !ok {
		return 0, time.Time{}, false
	}
	return e.amount, e.observedAt, true
}

// Set records a balance observation. Writes older than the current entry
// are dropped (last writer wins by recency, not call order).
func (c *Cache) Set(address string, amount int64, observedAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[address]; ok && e.observedAt.After(observedAt) {
		return false
	}
	c.entries[address] = cacheEntry{amount: amount, observedAt: observedAt}
	return true
}

// Len reports the number of cached addresses.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

var _ CachedSource = (*Cache)(nil)

// String implements fmt.Stringer for diagnostics.
func (s Snapshot) String() string {
	return fmt.Sprintf("%d (%s)", s.Amount, s.Source)
}
