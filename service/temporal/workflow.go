package temporal

import (
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// reconcileAttempts is how many times a reconciliation checks the chain
// before giving up and leaving the transfer uncertain for the next sweep.
const reconcileAttempts = 5

// reconcileCheckInterval is the pause between consecutive chain checks.
const reconcileCheckInterval = 30 * time.Second

// ReconcileTransferWorkflow resolves one uncertain transfer against the
// chain. It is started directly when the orchestrator classifies an attempt
// as uncertain, and by the sweep workflow for anything left behind.
//
// The workflow performs these steps:
//  1. Check the signature status on chain (CheckSignature activity)
//  2. Write the resolved outcome and publish it (ResolveTransfer activity)
//  3. If the chain has no verdict yet, sleep and retry a bounded number of
//     times, then leave the transfer uncertain for the next sweep
//
// A transfer with no signature never reached the ledger, so it is resolved
// as a failure immediately.
func ReconcileTransferWorkflow(ctx workflow.Context, input ReconcileTransferInput) (*ReconcileTransferResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ReconcileTransferWorkflow started", "transfer_id", input.TransferID)

	result := &ReconcileTransferResult{TransferID: input.TransferID}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	// No signature means the submission never reached the ledger; there is
	// nothing on chain to wait for.
	if input.Signature == "" {
		resolveInput := ResolveTransferInput{
			TransferID:   input.TransferID,
			Status:       statusFailure,
			ErrorMessage: "outcome could not be verified and no transaction signature was recorded",
		}
		if err := workflow.ExecuteActivity(ctx, a.ResolveTransfer, resolveInput).Get(ctx, nil); err != nil {
			return result, fmt.Errorf("failed to resolve signatureless transfer: %w", err)
		}
		result.Resolved = true
		result.Status = statusFailure
		return result, nil
	}

	for attempt := 0; attempt < reconcileAttempts; attempt++ {
		if attempt > 0 {
			if err := workflow.Sleep(ctx, reconcileCheckInterval); err != nil {
				return result, err
			}
		}

		var check *CheckSignatureResult
		err := workflow.ExecuteActivity(ctx, a.CheckSignature, CheckSignatureInput{Signature: input.Signature}).Get(ctx, &check)
		if err != nil {
			logger.Warn("signature check failed",
				"transfer_id", input.TransferID,
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}

		var resolveInput ResolveTransferInput
		switch check.Status {
		case "confirmed":
			resolveInput = ResolveTransferInput{
				TransferID: input.TransferID,
				Status:     statusSuccess,
			}
		case "failed":
			resolveInput = ResolveTransferInput{
				TransferID:   input.TransferID,
				Status:       statusDefiniteFailure,
				ErrorMessage: "transaction errored on chain",
			}
		default:
			// The chain has no verdict yet; wait and check again.
			logger.Debug("signature still unknown",
				"transfer_id", input.TransferID,
				"attempt", attempt+1,
			)
			continue
		}

		if err := workflow.ExecuteActivity(ctx, a.ResolveTransfer, resolveInput).Get(ctx, nil); err != nil {
			return result, fmt.Errorf("failed to resolve transfer: %w", err)
		}

		logger.Info("ReconcileTransferWorkflow resolved transfer",
			"transfer_id", input.TransferID,
			"status", resolveInput.Status,
		)
		result.Resolved = true
		result.Status = resolveInput.Status
		return result, nil
	}

	// Still unknown after all attempts. Leave the row uncertain; the sweep
	// schedule will pick it up again.
	logger.Info("ReconcileTransferWorkflow giving up for now",
		"transfer_id", input.TransferID,
		"attempts", reconcileAttempts,
	)
	return result, nil
}

// SweepUncertainTransfersWorkflow is triggered by a Temporal schedule. It
// finds uncertain transfers that escaped their direct reconciliation and
// runs a child ReconcileTransferWorkflow for each.
func SweepUncertainTransfersWorkflow(ctx workflow.Context, input SweepUncertainTransfersInput) (*SweepUncertainTransfersResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("SweepUncertainTransfersWorkflow started", "min_age", input.MinAge, "limit", input.Limit)

	result := &SweepUncertainTransfersResult{}

	minAge := input.MinAge
	if minAge <= 0 {
		minAge = 30 * time.Second
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 100
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var unresolved *GetUnresolvedTransfersResult
	getInput := GetUnresolvedTransfersInput{
		UpdatedBefore: workflow.Now(ctx).Add(-minAge),
		Limit:         limit,
	}
	if err := workflow.ExecuteActivity(ctx, a.GetUnresolvedTransfers, getInput).Get(ctx, &unresolved); err != nil {
		return result, fmt.Errorf("failed to load unresolved transfers: %w", err)
	}

	result.Examined = len(unresolved.Transfers)
	if result.Examined == 0 {
		logger.Info("no unresolved transfers to sweep")
		return result, nil
	}

	for _, t := range unresolved.Transfers {
		childOptions := workflow.ChildWorkflowOptions{
			WorkflowID:            "reconcile-transfer-" + t.TransferID,
			WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		}
		childCtx := workflow.WithChildOptions(ctx, childOptions)

		var childResult *ReconcileTransferResult
		err := workflow.ExecuteChildWorkflow(childCtx, ReconcileTransferWorkflow, ReconcileTransferInput{
			TransferID: t.TransferID,
			Signature:  t.Signature,
		}).Get(childCtx, &childResult)
		if err != nil {
			logger.Warn("child reconciliation failed",
				"transfer_id", t.TransferID,
				"error", err,
			)
			continue
		}
		if childResult != nil && childResult.Resolved {
			result.Resolved++
		}
	}

	logger.Info("SweepUncertainTransfersWorkflow completed",
		"examined", result.Examined,
		"resolved", result.Resolved,
	)
	return result, nil
}
