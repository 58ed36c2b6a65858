package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chipin/chipin/service/db"
	"github.com/chipin/chipin/service/metrics"
	natspkg "github.com/chipin/chipin/service/nats"
	"github.com/chipin/chipin/service/solana"
	"github.com/chipin/chipin/service/transfer"
)

// ReconcileTransferInput identifies the uncertain transfer to resolve.
type ReconcileTransferInput struct {
	TransferID string `json:"transfer_id"`
	Signature  string `json:"signature,omitempty"`
}

// ReconcileTransferResult reports how reconciliation ended.
type ReconcileTransferResult struct {
	TransferID string `json:"transfer_id"`
	Resolved   bool   `json:"resolved"`
	Status     string `json:"status,omitempty"`
}

// SweepUncertainTransfersInput configures one sweep pass.
type SweepUncertainTransfersInput struct {
	// MinAge keeps freshly-submitted transfers out of the sweep so the
	// in-band confirmation window can finish first.
	MinAge time.Duration `json:"min_age"`
	Limit  int32         `json:"limit"`
}

// SweepUncertainTransfersResult summarizes one sweep pass.
type SweepUncertainTransfersResult struct {
	Examined int `json:"examined"`
	Resolved int `json:"resolved"`
}

// GetUnresolvedTransfersInput contains parameters for the GetUnresolvedTransfers activity.
type GetUnresolvedTransfersInput struct {
	UpdatedBefore time.Time `json:"updated_before"`
	Limit         int32     `json:"limit"`
}

// UnresolvedTransfer is the slice of a stored transfer the reconciler needs.
type UnresolvedTransfer struct {
	TransferID string `json:"transfer_id"`
	Signature  string `json:"signature,omitempty"`
}

// GetUnresolvedTransfersResult contains the result of the GetUnresolvedTransfers activity.
type GetUnresolvedTransfersResult struct {
	Transfers []UnresolvedTransfer `json:"transfers"`
}

// CheckSignatureInput contains parameters for the CheckSignature activity.
type CheckSignatureInput struct {
	Signature string `json:"signature"`
}

// CheckSignatureResult contains the chain's verdict on a signature.
type CheckSignatureResult struct {
	Status string `json:"status"` // "confirmed", "failed", or "unknown"
}

// ResolveTransferInput contains parameters for the ResolveTransfer activity.
type ResolveTransferInput struct {
	TransferID   string `json:"transfer_id"`
	Status       string `json:"status"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ResolveTransferResult contains the result of the ResolveTransfer activity.
type ResolveTransferResult struct {
	Published bool `json:"published"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	GetTransfer(ctx context.Context, id string) (*db.Transfer, error)
	UpdateTransferOutcome(ctx context.Context, params db.UpdateTransferOutcomeParams) (*db.Transfer, error)
	ListUnresolvedTransfers(ctx context.Context, updatedBefore time.Time, limit int32) ([]*db.Transfer, error)
}

// ChainClientInterface defines the Solana operations needed by activities.
// This allows for easy mocking in tests.
type ChainClientInterface interface {
	CheckSignature(ctx context.Context, signature string) (solana.SignatureStatus, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishTransfer(ctx context.Context, event *natspkg.TransferEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// All dependencies are explicit.
type Activities struct {
	store     StoreInterface
	chain     ChainClientInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If m is nil, no metrics will be recorded.
func NewActivities(
	store StoreInterface,
	chain ChainClientInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		chain:     chain,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// GetUnresolvedTransfers loads uncertain transfers that are old enough to
// reconcile.
func (a *Activities) GetUnresolvedTransfers(ctx context.Context, input GetUnresolvedTransfersInput) (*GetUnresolvedTransfersResult, error) {
	transfers, err := a.store.ListUnresolvedTransfers(ctx, input.UpdatedBefore, input.Limit)
	if err != nil {
		return nil, fmt.Errorf("list unresolved transfers: %w", err)
	}

	result := &GetUnresolvedTransfersResult{
		Transfers: make([]UnresolvedTransfer, 0, len(transfers)),
	}
	for _, t := range transfers {
		ref := UnresolvedTransfer{TransferID: t.ID}
		if t.Signature != nil {
			ref.Signature = *t.Signature
		}
		result.Transfers = append(result.Transfers, ref)
	}

	a.logger.DebugContext(ctx, "loaded unresolved transfers",
		"count", len(result.Transfers),
		"updated_before", input.UpdatedBefore,
	)
	return result, nil
}

// CheckSignature asks the chain whether a submitted transaction landed.
func (a *Activities) CheckSignature(ctx context.Context, input CheckSignatureInput) (*CheckSignatureResult, error) {
	status, err := a.chain.CheckSignature(ctx, input.Signature)
	if err != nil {
		return nil, fmt.Errorf("check signature %s: %w", input.Signature, err)
	}

	a.logger.DebugContext(ctx, "checked signature status",
		"signature", input.Signature,
		"status", string(status),
	)
	return &CheckSignatureResult{Status: string(status)}, nil
}

// ResolveTransfer writes the reconciled outcome and publishes the lifecycle
// event. The idempotent update makes activity retries safe.
func (a *Activities) ResolveTransfer(ctx context.Context, input ResolveTransferInput) (*ResolveTransferResult, error) {
	params := db.UpdateTransferOutcomeParams{
		ID:     input.TransferID,
		Status: input.Status,
	}
	if input.ErrorKind != "" {
		params.ErrorKind = &input.ErrorKind
	}
	if input.ErrorMessage != "" {
		params.ErrorMessage = &input.ErrorMessage
	}

	updated, err := a.store.UpdateTransferOutcome(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("update transfer %s: %w", input.TransferID, err)
	}

	if a.metrics != nil {
		a.metrics.RecordReconcileOutcome(input.Status)
	}

	a.logger.InfoContext(ctx, "transfer reconciled",
		"transfer_id", input.TransferID,
		"status", input.Status,
	)

	if a.publisher == nil {
		return &ResolveTransferResult{}, nil
	}
	if err := a.publisher.PublishTransfer(ctx, natspkg.FromTransfer(updated)); err != nil {
		// The outcome is durably recorded; a missed event is not worth
		// failing the activity over.
		a.logger.ErrorContext(ctx, "failed to publish reconciled transfer event",
			"transfer_id", input.TransferID,
			"error", err,
		)
		return &ResolveTransferResult{}, nil
	}
	return &ResolveTransferResult{Published: true}, nil
}

// Status strings written by the reconciler. These mirror the classifier's
// terminal classifications.
const (
	statusSuccess         = string(transfer.ClassSuccess)
	statusDefiniteFailure = string(transfer.ClassDefiniteFailure)
	statusFailure         = string(transfer.ClassFailure)
)
