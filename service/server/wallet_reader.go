package server

import (
	"context"
	"fmt"

	"github.com/chipin/chipin/service/balance"
	"github.com/chipin/chipin/service/db"
	solanapkg "github.com/chipin/chipin/service/solana"
)

// SharedWalletReader assembles the pooled state entitlement math needs: the
// shared wallet's on-chain balance plus the member ledger from the
// database.
type SharedWalletReader struct {
	store *db.Store
	chain *solanapkg.Client
}

// NewSharedWalletReader creates a reader backed by the store and the chain
// client.
func NewSharedWalletReader(store *db.Store, chain *solanapkg.Client) *SharedWalletReader {
	return &SharedWalletReader{store: store, chain: chain}
}

// SharedWalletState implements balance.SharedWalletReader.
func (r *SharedWalletReader) SharedWalletState(ctx context.Context, sharedWalletID string) (*balance.SharedWalletState, error) {
	wallet, err := r.store.GetPooledWallet(ctx, sharedWalletID)
	if err != nil {
		return nil, fmt.Errorf("failed to load shared wallet %s: %w", sharedWalletID, err)
	}
	if wallet.Kind != "shared" {
		return nil, fmt.Errorf("wallet %s is not a shared wallet", sharedWalletID)
	}

	total, err := r.chain.FetchBalance(ctx, "", wallet.ChainAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch shared wallet balance: %w", err)
	}

	members, err := r.store.ListSharedWalletMembers(ctx, sharedWalletID)
	if err != nil {
		return nil, fmt.Errorf("failed to list shared wallet members: %w", err)
	}

	state := &balance.SharedWalletState{
		SharedWalletID: sharedWalletID,
		TotalBalance:   total,
	}
	for _, m := range members {
		state.Members = append(state.Members, balance.Member{
			UserID:      m.UserID,
			Contributed: m.Contributed,
			Withdrawn:   m.Withdrawn,
		})
	}
	return state, nil
}

var _ balance.SharedWalletReader = (*SharedWalletReader)(nil)
