package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestCreateAndGetTransfer(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()

	created, err := ts.CreateTransfer(ctx, CreateTransferParams{
		TransferContext:    "send_1to1",
		UserID:             "user-1",
		Amount:             12500000,
		Currency:           "USDC",
		Memo:               strPtr("dinner"),
		DestinationAddress: strPtr("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"),
		DestinationName:    strPtr("Alice"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, int64(12500000), created.Amount)
	assert.Nil(t, created.Signature)

	got, err := ts.GetTransfer(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "send_1to1", got.TransferContext)
	require.NotNil(t, got.Memo)
	assert.Equal(t, "dinner", *got.Memo)
	require.NotNil(t, got.DestinationName)
	assert.Equal(t, "Alice", *got.DestinationName)
}

func TestGetTransferNotFound(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	_, err := ts.GetTransfer(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateTransferOutcome(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()

	created, err := ts.CreateTransfer(ctx, CreateTransferParams{
		TransferContext: "fair_split_contribution",
		UserID:          "user-1",
		Amount:          5000000,
		Currency:        "USDC",
		PooledWalletID:  strPtr("split-wallet-7"),
		SplitID:         strPtr("split-7"),
	})
	require.NoError(t, err)

	updated, err := ts.UpdateTransferOutcome(ctx, UpdateTransferOutcomeParams{
		ID:        created.ID,
		Status:    "success",
		Signature: strPtr("5UfDu"),
	})
	require.NoError(t, err)
	assert.Equal(t, "success", updated.Status)
	require.NotNil(t, updated.Signature)
	assert.Equal(t, "5UfDu", *updated.Signature)

	// A later update without a signature keeps the recorded one.
	updated, err = ts.UpdateTransferOutcome(ctx, UpdateTransferOutcomeParams{
		ID:     created.ID,
		Status: "success",
	})
	require.NoError(t, err)
	require.NotNil(t, updated.Signature)
	assert.Equal(t, "5UfDu", *updated.Signature)
}

func TestListTransfersByUser(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := ts.CreateTransfer(ctx, CreateTransferParams{
			TransferContext: "send_1to1",
			UserID:          "user-1",
			Amount:          int64(1000000 * (i + 1)),
			Currency:        "USDC",
		})
		require.NoError(t, err)
	}
	_, err := ts.CreateTransfer(ctx, CreateTransferParams{
		TransferContext: "send_1to1",
		UserID:          "user-2",
		Amount:          9000000,
		Currency:        "USDC",
	})
	require.NoError(t, err)

	transfers, err := ts.ListTransfersByUser(ctx, ListTransfersByUserParams{
		UserID: "user-1",
		Limit:  10,
	})
	require.NoError(t, err)
	require.Len(t, transfers, 3)
	for _, tr := range transfers {
		assert.Equal(t, "user-1", tr.UserID)
	}

	page, err := ts.ListTransfersByUser(ctx, ListTransfersByUserParams{
		UserID: "user-1",
		Limit:  2,
		Offset: 2,
	})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestListUnresolvedTransfers(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()

	uncertain, err := ts.CreateTransfer(ctx, CreateTransferParams{
		TransferContext: "send_1to1",
		UserID:          "user-1",
		Amount:          1000000,
		Currency:        "USDC",
	})
	require.NoError(t, err)
	_, err = ts.UpdateTransferOutcome(ctx, UpdateTransferOutcomeParams{
		ID:        uncertain.ID,
		Status:    "uncertain_success",
		Signature: strPtr("SIGX"),
	})
	require.NoError(t, err)

	resolved, err := ts.CreateTransfer(ctx, CreateTransferParams{
		TransferContext: "send_1to1",
		UserID:          "user-1",
		Amount:          2000000,
		Currency:        "USDC",
	})
	require.NoError(t, err)
	_, err = ts.UpdateTransferOutcome(ctx, UpdateTransferOutcomeParams{
		ID:     resolved.ID,
		Status: "success",
	})
	require.NoError(t, err)

	found, err := ts.ListUnresolvedTransfers(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, uncertain.ID, found[0].ID)

	// Cutoff in the past excludes the recently updated row.
	found, err = ts.ListUnresolvedTransfers(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestGetTransferByRequestID(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()

	created, err := ts.CreateTransfer(ctx, CreateTransferParams{
		TransferContext: "send_1to1",
		UserID:          "user-1",
		Amount:          1000000,
		Currency:        "USDC",
		RequestID:       strPtr("req-42"),
	})
	require.NoError(t, err)

	got, err := ts.GetTransferByRequestID(ctx, "req-42")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = ts.GetTransferByRequestID(ctx, "req-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPooledWalletUpsert(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()

	w, err := ts.UpsertPooledWallet(ctx, UpsertPooledWalletParams{
		ID:           "split-wallet-7",
		Kind:         "split",
		ChainAddress: "7cVfgArCheMR6Cs4t6vz5rfnqd56vZq4ndaBrY5xkxXy",
		Label:        strPtr("Ski trip"),
	})
	require.NoError(t, err)
	assert.Equal(t, "split", w.Kind)

	// Upsert with a new address replaces the old one.
	w, err = ts.UpsertPooledWallet(ctx, UpsertPooledWalletParams{
		ID:           "split-wallet-7",
		Kind:         "split",
		ChainAddress: "4Nd1mYvJ9z1c6G5nqeZrzkQ1cV5tBii5t9gGjxy1FaXq",
	})
	require.NoError(t, err)
	assert.Equal(t, "4Nd1mYvJ9z1c6G5nqeZrzkQ1cV5tBii5t9gGjxy1FaXq", w.ChainAddress)
	assert.Nil(t, w.Label)

	got, err := ts.GetPooledWallet(ctx, "split-wallet-7")
	require.NoError(t, err)
	assert.Equal(t, w.ChainAddress, got.ChainAddress)

	_, err = ts.GetPooledWallet(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSharedWalletMembers(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()

	require.NoError(t, ts.AddSharedWalletContribution(ctx, "shared-1", "user-1", 10000000))
	require.NoError(t, ts.AddSharedWalletContribution(ctx, "shared-1", "user-1", 5000000))
	require.NoError(t, ts.AddSharedWalletContribution(ctx, "shared-1", "user-2", 3000000))
	require.NoError(t, ts.AddSharedWalletWithdrawal(ctx, "shared-1", "user-1", 4000000))

	members, err := ts.ListSharedWalletMembers(ctx, "shared-1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, int64(15000000), members[0].Contributed)
	assert.Equal(t, int64(4000000), members[0].Withdrawn)
	assert.Equal(t, int64(3000000), members[1].Contributed)

	// Withdrawal requires an existing membership row.
	err = ts.AddSharedWalletWithdrawal(ctx, "shared-1", "user-3", 1000000)
	assert.ErrorIs(t, err, ErrNotFound)

	// Negative amounts are rejected without touching the database.
	assert.Error(t, ts.AddSharedWalletContribution(ctx, "shared-1", "user-1", -1))
	assert.Error(t, ts.AddSharedWalletWithdrawal(ctx, "shared-1", "user-1", -1))
}

func TestContacts(t *testing.T) {
	SkipIfNoTestDB(t)

	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()

	c, err := ts.UpsertContact(ctx, UpsertContactParams{
		OwnerUserID:   "user-1",
		ContactUserID: "user-2",
		Name:          "Alice",
		WalletAddress: strPtr("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice", c.Name)

	c, err = ts.UpsertContact(ctx, UpsertContactParams{
		OwnerUserID:   "user-1",
		ContactUserID: "user-2",
		Name:          "Alice B",
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice B", c.Name)
	assert.Nil(t, c.WalletAddress)

	got, err := ts.GetContact(ctx, "user-1", "user-2")
	require.NoError(t, err)
	assert.Equal(t, "Alice B", got.Name)

	_, err = ts.GetContact(ctx, "user-1", "user-9")
	assert.ErrorIs(t, err, ErrNotFound)
}
