package temporal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chipin/chipin/service/db"
	natspkg "github.com/chipin/chipin/service/nats"
	"github.com/chipin/chipin/service/solana"
)

type mockStore struct {
	transfers  map[string]*db.Transfer
	unresolved []*db.Transfer
	updateErr  error
	updated    []db.UpdateTransferOutcomeParams
}

func (m *mockStore) GetTransfer(ctx context.Context, id string) (*db.Transfer, error) {
	t, ok := m.transfers[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return t, nil
}

func (m *mockStore) UpdateTransferOutcome(ctx context.Context, params db.UpdateTransferOutcomeParams) (*db.Transfer, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	m.updated = append(m.updated, params)
	t, ok := m.transfers[params.ID]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *t
	copied.Status = params.Status
	return &copied, nil
}

func (m *mockStore) ListUnresolvedTransfers(ctx context.Context, updatedBefore time.Time, limit int32) ([]*db.Transfer, error) {
	return m.unresolved, nil
}

type mockChain struct {
	status solana.SignatureStatus
	err    error
}

func (m *mockChain) CheckSignature(ctx context.Context, signature string) (solana.SignatureStatus, error) {
	return m.status, m.err
}

func strPtr(s string) *string { return &s }

func TestGetUnresolvedTransfersActivity(t *testing.T) {
	store := &mockStore{
		unresolved: []*db.Transfer{
			{ID: "t-1", Signature: strPtr("SIG1"), Status: "uncertain_success"},
			{ID: "t-2", Status: "uncertain_success"},
		},
	}
	activities := NewActivities(store, &mockChain{}, nil, nil, nil)

	result, err := activities.GetUnresolvedTransfers(context.Background(), GetUnresolvedTransfersInput{
		UpdatedBefore: time.Now(),
		Limit:         10,
	})
	require.NoError(t, err)
	require.Len(t, result.Transfers, 2)
	assert.Equal(t, "SIG1", result.Transfers[0].Signature)
	assert.Empty(t, result.Transfers[1].Signature)
}

func TestCheckSignatureActivity(t *testing.T) {
	activities := NewActivities(&mockStore{}, &mockChain{status: solana.SignatureConfirmed}, nil, nil, nil)

	result, err := activities.CheckSignature(context.Background(), CheckSignatureInput{Signature: "SIG1"})
	require.NoError(t, err)
	assert.Equal(t, "confirmed", result.Status)

	failing := NewActivities(&mockStore{}, &mockChain{err: errors.New("rpc down")}, nil, nil, nil)
	_, err = failing.CheckSignature(context.Background(), CheckSignatureInput{Signature: "SIG1"})
	assert.Error(t, err)
}

func TestResolveTransferActivity(t *testing.T) {
	store := &mockStore{
		transfers: map[string]*db.Transfer{
			"t-1": {ID: "t-1", UserID: "user-1", Status: "uncertain_success", Signature: strPtr("SIG1")},
		},
	}
	publisher := natspkg.NewMockPublisher()
	activities := NewActivities(store, &mockChain{}, publisher, nil, nil)

	result, err := activities.ResolveTransfer(context.Background(), ResolveTransferInput{
		TransferID: "t-1",
		Status:     "success",
	})
	require.NoError(t, err)
	assert.True(t, result.Published)

	require.Len(t, store.updated, 1)
	assert.Equal(t, "success", store.updated[0].Status)

	events := publisher.GetPublishedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "t-1", events[0].TransferID)
	assert.Equal(t, "success", events[0].Status)
}

func TestResolveTransferActivity_PublishFailureIsTolerated(t *testing.T) {
	store := &mockStore{
		transfers: map[string]*db.Transfer{
			"t-1": {ID: "t-1", UserID: "user-1", Status: "uncertain_success"},
		},
	}
	publisher := natspkg.NewMockPublisher()
	publisher.SetPublishError(errors.New("nats down"))
	activities := NewActivities(store, &mockChain{}, publisher, nil, nil)

	result, err := activities.ResolveTransfer(context.Background(), ResolveTransferInput{
		TransferID:   "t-1",
		Status:       "definite_failure",
		ErrorMessage: "transaction errored on chain",
	})
	require.NoError(t, err)
	assert.False(t, result.Published)
	require.Len(t, store.updated, 1)
	require.NotNil(t, store.updated[0].ErrorMessage)
	assert.Equal(t, "transaction errored on chain", *store.updated[0].ErrorMessage)
}

func TestResolveTransferActivity_StoreFailure(t *testing.T) {
	store := &mockStore{updateErr: errors.New("database unavailable")}
	activities := NewActivities(store, &mockChain{}, nil, nil, nil)

	_, err := activities.ResolveTransfer(context.Background(), ResolveTransferInput{
		TransferID: "t-1",
		Status:     "success",
	})
	assert.Error(t, err)
}
