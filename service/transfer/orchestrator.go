package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/chipin/chipin/service/metrics"
)

// Feasibility is the validator's verdict on whether a built request can be
// executed. A negative verdict carries the reason and never counts as an
// attempted execution.
type Feasibility struct {
	CanExecute bool   `json:"can_execute"`
	Reason     string `json:"reason,omitempty"`
}

// Validator performs the fast, side-effect-free feasibility check: balance
// sufficiency, destination format, context completeness. It must not submit
// anything on-chain.
type Validator interface {
	ValidateTransfer(ctx context.Context, params Params) (*Feasibility, error)
}

// Executor performs the actual money movement. It may return an error
// instead of an Outcome; the orchestrator classifies either.
type Executor interface {
	ExecuteTransfer(ctx context.Context, params Params) (*Outcome, error)
}

// Callbacks are the caller-supplied terminal notifications for one attempt.
// Exactly one of OnSuccess or OnError fires per attempt, never both. When
// both are nil the orchestrator falls back to logging the classified
// message.
type Callbacks struct {
	OnSuccess func(Result)
	OnError   func(Result)
}

// Orchestrator runs one validated, at-most-once transfer attempt at a time:
// guard -> validate -> execute -> classify. It owns the in-flight guard; the
// guard is private to the instance and is not shared across unrelated
// transfer flows.
type Orchestrator struct {
	validator Validator
	executor  Executor
	guard     *Guard
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// OrchestratorConfig wires an Orchestrator's collaborators. Validator and
// Executor are required. OnBusyChange mirrors the guard into a caller-side
// processing indicator. Metrics may be nil.
type OrchestratorConfig struct {
	Validator    Validator
	Executor     Executor
	OnBusyChange func(busy bool)
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// NewOrchestrator creates an orchestrator with an idle guard.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Orchestrator{
		validator: cfg.Validator,
		executor:  cfg.Executor,
		guard:     NewGuard(cfg.OnBusyChange),
		logger:    logger,
		metrics:   cfg.Metrics,
	}, nil
}

// GuardState exposes the guard's current state for diagnostics and tests.
func (o *Orchestrator) GuardState() GuardState { return o.guard.State() }

// Execute runs one attempt end to end and returns the classified result.
//
// If another attempt is in flight the call is a no-op: no validator or
// executor call is made, no callback fires, and ErrExecutionInFlight is
// returned so the caller can tell the duplicate was suppressed. The
// in-flight flag is set before the feasibility check and cleared on every
// termination path, including executor errors.
func (o *Orchestrator) Execute(ctx context.Context, params Params, cb Callbacks) (Result, error) {
	if params == nil {
		res := Result{
			Class:   ClassFailure,
			Message: "Unable to build transfer parameters.",
		}
		o.notifyError(cb, res)
		return res, fmt.Errorf("%w", ErrUnbuildable)
	}

	if !o.guard.TryAcquire() {
		o.logger.WarnContext(ctx, "duplicate transfer execution suppressed",
			"context", params.TransferContext(),
			"user_id", params.CommonParams().UserID,
		)
		if o.metrics != nil {
			o.metrics.RecordGuardRejection(params.TransferContext().String())
		}
		return Result{}, ErrExecutionInFlight
	}
	defer o.guard.Release()

	tctx := params.TransferContext()
	common := params.CommonParams()
	o.logger.InfoContext(ctx, "executing transfer",
		"context", tctx,
		"user_id", common.UserID,
		"amount", common.Amount,
		"currency", common.Currency,
	)

	feasibility, err := o.validator.ValidateTransfer(ctx, params)
	if err != nil {
		// Validation is side-effect free, so even a timeout here cannot
		// have moved funds. Always a retryable failure, never uncertain.
		res := Result{
			Class:   ClassTransientFailure,
			Message: "We could not verify your transfer right now. Your funds did not move; please try again in a moment.",
			Err:     err.Error(),
		}
		o.logger.WarnContext(ctx, "transfer validation errored",
			"context", tctx,
			"error", err,
		)
		o.record(tctx, res)
		o.notifyError(cb, res)
		return res, nil
	}
	if feasibility == nil || !feasibility.CanExecute {
		if feasibility == nil {
			feasibility = &Feasibility{Reason: "validator returned no verdict"}
		}
		res := Result{
			Class:   ClassDefiniteFailure,
			Message: fmt.Sprintf("Your transaction was rejected: %s", orUnknown(feasibility.Reason)),
			Err:     feasibility.Reason,
		}
		o.logger.InfoContext(ctx, "transfer rejected by validator",
			"context", tctx,
			"reason", feasibility.Reason,
		)
		if o.metrics != nil {
			o.metrics.RecordValidationRejection(tctx.String())
		}
		o.record(tctx, res)
		o.notifyError(cb, res)
		return res, nil
	}

	outcome, err := o.executor.ExecuteTransfer(ctx, params)
	res := Classify(outcome, err)
	o.record(tctx, res)

	if res.Success() {
		o.logger.InfoContext(ctx, "transfer succeeded",
			"context", tctx,
			"signature", res.Signature,
		)
		o.notifySuccess(cb, res)
		return res, nil
	}

	o.logger.WarnContext(ctx, "transfer did not succeed",
		"context", tctx,
		"class", res.Class,
		"signature", res.Signature,
		"error", res.Err,
	)
	o.notifyError(cb, res)
	return res, nil
}

func (o *Orchestrator) record(tctx Context, res Result) {
	if o.metrics != nil {
		o.metrics.RecordTransferAttempt(tctx.String(), string(res.Class))
	}
}

func (o *Orchestrator) notifySuccess(cb Callbacks, res Result) {
	if cb.OnSuccess != nil {
		cb.OnSuccess(res)
		return
	}
	o.logger.Info("transfer result", "class", res.Class, "message", res.Message)
}

func (o *Orchestrator) notifyError(cb Callbacks, res Result) {
	if cb.OnError != nil {
		cb.OnError(res)
		return
	}
	o.logger.Info("transfer result", "class", res.Class, "message", res.Message)
}
