package nats

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// BalanceFeed subscribes to live balance updates and keeps the latest
// observation per wallet address. It serves as the push-updated balance
// source for the balance resolver.
type BalanceFeed struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger

	mu     sync.RWMutex
	latest map[string]BalanceUpdate
}

// NewBalanceFeed connects to NATS and subscribes to all balance subjects.
func NewBalanceFeed(natsURL string, logger *slog.Logger) (*BalanceFeed, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("chipin-balance-feed"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	feed := &BalanceFeed{
		nc:     nc,
		logger: logger,
		latest: make(map[string]BalanceUpdate),
	}

	sub, err := nc.Subscribe(BalanceSubjectPrefix+"*", feed.handleUpdate)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to balance updates: %w", err)
	}
	feed.sub = sub

	logger.Info("balance feed subscribed", "url", natsURL, "subject", BalanceSubjectPrefix+"*")
	return feed, nil
}

func (f *BalanceFeed) handleUpdate(msg *nats.Msg) {
	var update BalanceUpdate
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		f.logger.Error("failed to decode balance update", "subject", msg.Subject, "error", err)
		return
	}
	if update.WalletAddress == "" {
		return
	}
	f.Observe(update)
}

// Observe records a balance observation. Out-of-order updates are dropped;
// only a strictly newer observation replaces the stored one.
func (f *BalanceFeed) Observe(update BalanceUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.latest[update.WalletAddress]; ok && !update.ObservedAt.After(prev.ObservedAt) {
		return
	}
	f.latest[update.WalletAddress] = update
}

// Live returns the most recent observation for the address, if any.
func (f *BalanceFeed) Live(address string) (int64, time.Time, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	update, ok := f.latest[address]
	if !ok {
		return 0, time.Time{}, false
	}
	return update.Amount, update.ObservedAt, true
}

// Close unsubscribes and closes the NATS connection.
func (f *BalanceFeed) Close() error {
	if f.sub != nil {
		if err := f.sub.Unsubscribe(); err != nil {
			f.logger.Warn("failed to unsubscribe balance feed", "error", err)
		}
	}
	if f.nc != nil {
		f.nc.Close()
	}
	return nil
}
