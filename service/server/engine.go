package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chipin/chipin/service/db"
	"github.com/chipin/chipin/service/metrics"
	natspkg "github.com/chipin/chipin/service/nats"
	solanapkg "github.com/chipin/chipin/service/solana"
	"github.com/chipin/chipin/service/temporal"
	"github.com/chipin/chipin/service/transfer"
)

// Engine runs one transfer attempt end to end on behalf of a handler:
// build, persist, execute, record the outcome, publish the event, and kick
// off reconciliation when the outcome is uncertain. One orchestrator (and
// therefore one in-flight attempt) exists per user.
type Engine struct {
	store     *db.Store
	publisher natspkg.Publisher
	scheduler temporal.Scheduler
	validator transfer.Validator
	executor  transfer.Executor
	chain     *solanapkg.Client
	keys      solanapkg.Keyring
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu            sync.Mutex
	orchestrators map[string]*transfer.Orchestrator
}

// EngineConfig wires an Engine. Store, Validator and Executor are required.
// Publisher and Scheduler may be nil (events and reconciliation are then
// skipped). Chain and Keys enable the post-transfer balance push and may be
// nil.
type EngineConfig struct {
	Store     *db.Store
	Publisher natspkg.Publisher
	Scheduler temporal.Scheduler
	Validator transfer.Validator
	Executor  transfer.Executor
	Chain     *solanapkg.Client
	Keys      solanapkg.Keyring
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// NewEngine creates a transfer engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:         cfg.Store,
		publisher:     cfg.Publisher,
		scheduler:     cfg.Scheduler,
		validator:     cfg.Validator,
		executor:      cfg.Executor,
		chain:         cfg.Chain,
		keys:          cfg.Keys,
		logger:        logger,
		metrics:       cfg.Metrics,
		orchestrators: make(map[string]*transfer.Orchestrator),
	}, nil
}

// SubmitResult is the outcome of one submission: the stored transfer record
// and the classified result. Duplicate is set when a request id matched a
// prior attempt and no new execution took place.
type SubmitResult struct {
	Transfer  *db.Transfer
	Result    transfer.Result
	Duplicate bool
}

// Submit runs one transfer attempt. Build failures return an error wrapping
// transfer.ErrUnbuildable; a concurrent attempt for the same user returns
// transfer.ErrExecutionInFlight. Everything else, including failed and
// uncertain attempts, returns a SubmitResult carrying the classification.
func (e *Engine) Submit(ctx context.Context, in transfer.BuildInput) (*SubmitResult, error) {
	params, err := transfer.Build(in)
	if err != nil {
		return nil, err
	}
	common := params.CommonParams()

	// Request-id idempotency: a replayed request returns the prior attempt
	// unless that attempt is a confirmed failure, in which case a retry is
	// safe and allowed.
	if p, ok := params.(*transfer.Send1to1Params); ok && p.RequestID != "" {
		prior, err := e.store.GetTransferByRequestID(ctx, p.RequestID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("failed to check request id: %w", err)
		}
		if prior != nil && !replayable(prior.Status) {
			return &SubmitResult{
				Transfer:  prior,
				Result:    resultFromStored(prior),
				Duplicate: true,
			}, nil
		}
	}

	orc, err := e.orchestratorFor(common.UserID)
	if err != nil {
		return nil, err
	}
	if orc.GuardState() == transfer.GuardExecuting {
		return nil, transfer.ErrExecutionInFlight
	}

	rec, err := e.store.CreateTransfer(ctx, createParamsFor(params))
	if err != nil {
		return nil, fmt.Errorf("failed to record transfer: %w", err)
	}

	start := time.Now()
	res, err := orc.Execute(ctx, params, transfer.Callbacks{})
	if err != nil {
		if errors.Is(err, transfer.ErrExecutionInFlight) {
			// Lost the guard race after creating the row; close it out so
			// it never shows up as forever-pending.
			msg := "duplicate submission suppressed"
			if _, uerr := e.store.UpdateTransferOutcome(ctx, db.UpdateTransferOutcomeParams{
				ID:           rec.ID,
				Status:       string(transfer.ClassFailure),
				ErrorMessage: &msg,
			}); uerr != nil {
				e.logger.ErrorContext(ctx, "failed to close out suppressed transfer",
					"transfer_id", rec.ID, "error", uerr)
			}
		}
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.RecordTransferDuration(params.TransferContext().String(), time.Since(start).Seconds())
	}

	updated, err := e.store.UpdateTransferOutcome(ctx, db.UpdateTransferOutcomeParams{
		ID:           rec.ID,
		Status:       string(res.Class),
		Signature:    strPtr(res.Signature),
		ErrorMessage: strPtr(res.Err),
	})
	if err != nil {
		// The attempt already ran; surface the result even though the
		// record is stale. Reconciliation will catch uncertain ones.
		e.logger.ErrorContext(ctx, "failed to record transfer outcome",
			"transfer_id", rec.ID, "class", res.Class, "error", err)
		updated = rec
	}

	if res.Success() {
		e.recordSharedTallies(ctx, params, common)
	}

	e.publishEvent(ctx, updated)

	if !res.Class.Terminal() && e.scheduler != nil {
		if err := e.scheduler.StartReconcileWorkflow(ctx, updated.ID, res.Signature); err != nil {
			e.logger.ErrorContext(ctx, "failed to start reconcile workflow",
				"transfer_id", updated.ID, "error", err)
		}
	}

	if res.Success() {
		e.pushBalance(ctx, common.UserID)
	}

	return &SubmitResult{Transfer: updated, Result: res}, nil
}

// replayable reports whether a stored status permits a fresh attempt under
// the same request id. Confirmed failures do; anything that moved funds or
// might still move funds does not.
func replayable(status string) bool {
	switch status {
	case string(transfer.ClassDefiniteFailure),
		string(transfer.ClassTransientFailure),
		string(transfer.ClassFailure):
		return true
	}
	return false
}

func (e *Engine) orchestratorFor(userID string) (*transfer.Orchestrator, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if orc, ok := e.orchestrators[userID]; ok {
		return orc, nil
	}
	orc, err := transfer.NewOrchestrator(transfer.OrchestratorConfig{
		Validator: e.validator,
		Executor:  e.executor,
		Logger:    e.logger,
		Metrics:   e.metrics,
	})
	if err != nil {
		return nil, err
	}
	e.orchestrators[userID] = orc
	return orc, nil
}

// recordSharedTallies updates the member ledger after a confirmed
// shared-wallet movement. Failures are logged, not surfaced; the transfer
// itself already succeeded.
func (e *Engine) recordSharedTallies(ctx context.Context, params transfer.Params, common transfer.Common) {
	switch p := params.(type) {
	case *transfer.SharedWalletFundingParams:
		if err := e.store.AddSharedWalletContribution(ctx, p.SharedWalletID, common.UserID, common.Amount); err != nil {
			e.logger.ErrorContext(ctx, "failed to record shared wallet contribution",
				"shared_wallet_id", p.SharedWalletID, "user_id", common.UserID, "error", err)
		}
	case *transfer.SharedWalletWithdrawalParams:
		if err := e.store.AddSharedWalletWithdrawal(ctx, p.SharedWalletID, common.UserID, common.Amount); err != nil {
			e.logger.ErrorContext(ctx, "failed to record shared wallet withdrawal",
				"shared_wallet_id", p.SharedWalletID, "user_id", common.UserID, "error", err)
		}
	}
}

func (e *Engine) publishEvent(ctx context.Context, t *db.Transfer) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishTransfer(ctx, natspkg.FromTransfer(t)); err != nil {
		e.logger.ErrorContext(ctx, "failed to publish transfer event",
			"transfer_id", t.ID, "error", err)
	}
}

// pushBalance refetches the user's wallet balance after a confirmed
// movement and publishes it so connected clients update without polling.
// Best effort.
func (e *Engine) pushBalance(ctx context.Context, userID string) {
	if e.chain == nil || e.keys == nil || e.publisher == nil {
		return
	}
	key, err := e.keys.UserKey(ctx, userID)
	if err != nil {
		return
	}
	address := key.PublicKey().String()
	amount, err := e.chain.FetchBalance(ctx, userID, address)
	if err != nil {
		e.logger.WarnContext(ctx, "post-transfer balance fetch failed",
			"user_id", userID, "error", err)
		return
	}
	if err := e.publisher.PublishBalance(ctx, &natspkg.BalanceUpdate{
		WalletAddress: address,
		Amount:        amount,
		ObservedAt:    time.Now().UTC(),
	}); err != nil {
		e.logger.WarnContext(ctx, "post-transfer balance publish failed",
			"user_id", userID, "error", err)
	}
}

// createParamsFor maps built transfer params onto the persistence record.
func createParamsFor(params transfer.Params) db.CreateTransferParams {
	common := params.CommonParams()
	cp := db.CreateTransferParams{
		TransferContext: params.TransferContext().String(),
		UserID:          common.UserID,
		Amount:          common.Amount,
		Currency:        common.Currency,
		Memo:            strPtr(common.Memo),
	}

	switch p := params.(type) {
	case *transfer.Send1to1Params:
		cp.DestinationAddress = strPtr(p.RecipientAddress)
		cp.DestinationName = strPtr(p.Recipient.Name)
		cp.RequestID = strPtr(p.RequestID)
	case *transfer.FairSplitContributionParams:
		cp.PooledWalletID = strPtr(p.SplitWalletID)
		cp.SplitID = strPtr(p.SplitID)
		cp.BillID = strPtr(p.BillID)
	case *transfer.DegenSplitLockParams:
		cp.PooledWalletID = strPtr(p.SplitWalletID)
		cp.SplitID = strPtr(p.SplitID)
		cp.BillID = strPtr(p.BillID)
	case *transfer.FairSplitWithdrawalParams:
		cp.PooledWalletID = strPtr(p.SplitWalletID)
		cp.DestinationAddress = strPtr(p.DestinationAddress)
	case *transfer.SpendSplitPaymentParams:
		cp.PooledWalletID = strPtr(p.SplitWalletID)
		cp.SplitID = strPtr(p.SplitID)
		cp.DestinationAddress = strPtr(p.MerchantAddress)
	case *transfer.SharedWalletFundingParams:
		cp.PooledWalletID = strPtr(p.SharedWalletID)
	case *transfer.SharedWalletWithdrawalParams:
		cp.PooledWalletID = strPtr(p.SharedWalletID)
		cp.DestinationAddress = strPtr(p.DestinationAddress)
	}
	return cp
}

// resultFromStored reconstructs the classified result of a prior attempt
// for request-id replays.
func resultFromStored(t *db.Transfer) transfer.Result {
	res := transfer.Result{Class: transfer.Classification(t.Status)}
	if t.Signature != nil {
		res.Signature = *t.Signature
	}
	if t.ErrorMessage != nil {
		res.Err = *t.ErrorMessage
	}
	switch res.Class {
	case transfer.ClassSuccess:
		res.Message = "Transfer complete."
	case transfer.ClassUncertain:
		res.Message = "We could not confirm whether your transfer completed. Do not retry until you have checked your transaction history."
	default:
		res.Message = "This request was already processed."
	}
	return res
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
