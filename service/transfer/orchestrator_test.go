package transfer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeValidator struct {
	mu          sync.Mutex
	calls       int
	feasibility *Feasibility
	err         error
}

func (v *fakeValidator) ValidateTransfer(ctx context.Context, params Params) (*Feasibility, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	return v.feasibility, v.err
}

func (v *fakeValidator) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

type fakeExecutor struct {
	mu      sync.Mutex
	calls   int
	outcome *Outcome
	err     error

	// block, when set, holds the execution open until released so tests
	// can overlap a second attempt with the first.
	block chan struct{}
}

func (e *fakeExecutor) ExecuteTransfer(ctx context.Context, params Params) (*Outcome, error) {
	e.mu.Lock()
	e.calls++
	block := e.block
	e.mu.Unlock()
	if block != nil {
		<-block
	}
	return e.outcome, e.err
}

func (e *fakeExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func okValidator() *fakeValidator {
	return &fakeValidator{feasibility: &Feasibility{CanExecute: true}}
}

func newTestOrchestrator(t *testing.T, v Validator, e Executor) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(OrchestratorConfig{Validator: v, Executor: e})
	require.NoError(t, err)
	return o
}

func mustBuildSend(t *testing.T, amount string) Params {
	t.Helper()
	params, err := Build(BuildInput{
		Context:     ContextSend1to1,
		Identity:    Identity{UserID: "user-1"},
		AmountInput: amount,
		Destination: Destination{
			RecipientName:    "Ada",
			RecipientAddress: "ADDR1",
			DestinationType:  DestinationFriend,
		},
	})
	require.NoError(t, err)
	return params
}

func TestOrchestrator_SuccessEndToEnd(t *testing.T) {
	validator := okValidator()
	executor := &fakeExecutor{outcome: &Outcome{Success: true, TransactionSignature: "SIGABC"}}
	o := newTestOrchestrator(t, validator, executor)

	params := mustBuildSend(t, "25.00")

	var successCalls, errorCalls int32
	var got Result
	res, err := o.Execute(context.Background(), params, Callbacks{
		OnSuccess: func(r Result) {
			atomic.AddInt32(&successCalls, 1)
			got = r
		},
		OnError: func(r Result) { atomic.AddInt32(&errorCalls, 1) },
	})

	require.NoError(t, err)
	assert.Equal(t, ClassSuccess, res.Class)
	assert.Equal(t, "SIGABC", res.Signature)
	assert.Equal(t, int32(1), atomic.LoadInt32(&successCalls))
	assert.Equal(t, int32(0), atomic.LoadInt32(&errorCalls))
	assert.Equal(t, ClassSuccess, got.Class)
	assert.Equal(t, 1, validator.callCount())
	assert.Equal(t, 1, executor.callCount())
	assert.Equal(t, GuardIdle, o.GuardState())
}

func TestOrchestrator_DuplicateExecutionSuppressed(t *testing.T) {
	validator := okValidator()
	executor := &fakeExecutor{
		outcome: &Outcome{Success: true, TransactionSignature: "SIG1"},
		block:   make(chan struct{}),
	}
	o := newTestOrchestrator(t, validator, executor)
	params := mustBuildSend(t, "10")

	firstDone := make(chan Result, 1)
	go func() {
		res, _ := o.Execute(context.Background(), params, Callbacks{})
		firstDone <- res
	}()

	// Wait until the first attempt is latched inside the executor.
	require.Eventually(t, func() bool {
		return o.GuardState() == GuardExecuting
	}, time.Second, time.Millisecond)

	// The overlapping attempt is a no-op: no executor call, no callback.
	var cbCalls int32
	res, err := o.Execute(context.Background(), params, Callbacks{
		OnSuccess: func(Result) { atomic.AddInt32(&cbCalls, 1) },
		OnError:   func(Result) { atomic.AddInt32(&cbCalls, 1) },
	})
	assert.ErrorIs(t, err, ErrExecutionInFlight)
	assert.Empty(t, res.Class)
	assert.Equal(t, int32(0), atomic.LoadInt32(&cbCalls))

	// Releasing the first attempt: its outcome is untouched by the dupe.
	close(executor.block)
	first := <-firstDone
	assert.Equal(t, ClassSuccess, first.Class)
	assert.Equal(t, "SIG1", first.Signature)
	assert.Equal(t, 1, executor.callCount())
	assert.Equal(t, GuardIdle, o.GuardState())
}

func TestOrchestrator_FeasibilityRejection(t *testing.T) {
	validator := &fakeValidator{feasibility: &Feasibility{CanExecute: false, Reason: "insufficient balance"}}
	executor := &fakeExecutor{}
	o := newTestOrchestrator(t, validator, executor)

	var errResult Result
	res, err := o.Execute(context.Background(), mustBuildSend(t, "10"), Callbacks{
		OnError: func(r Result) { errResult = r },
	})

	require.NoError(t, err)
	assert.Equal(t, ClassDefiniteFailure, res.Class)
	assert.Contains(t, res.Message, "insufficient balance")
	assert.Equal(t, res, errResult)
	// A feasibility rejection never reaches the executor and never
	// counts as an attempt.
	assert.Equal(t, 0, executor.callCount())
	assert.Equal(t, GuardIdle, o.GuardState())
}

func TestOrchestrator_ValidatorErrorIsTransient(t *testing.T) {
	validator := &fakeValidator{err: errors.New("context deadline exceeded")}
	executor := &fakeExecutor{}
	o := newTestOrchestrator(t, validator, executor)

	res, err := o.Execute(context.Background(), mustBuildSend(t, "10"), Callbacks{})
	require.NoError(t, err)
	// Validation is side-effect free, so even a validator timeout is a
	// retryable failure, never an uncertain outcome.
	assert.Equal(t, ClassTransientFailure, res.Class)
	assert.Equal(t, 0, executor.callCount())
	assert.Equal(t, GuardIdle, o.GuardState())
}

func TestOrchestrator_ExecutorTimeoutIsUncertain(t *testing.T) {
	validator := okValidator()
	executor := &fakeExecutor{err: errors.New("rpc timeout awaiting confirmation")}
	o := newTestOrchestrator(t, validator, executor)

	var errResult Result
	res, err := o.Execute(context.Background(), mustBuildSend(t, "10"), Callbacks{
		OnError: func(r Result) { errResult = r },
	})

	require.NoError(t, err)
	assert.Equal(t, ClassUncertain, res.Class)
	assert.Equal(t, ClassUncertain, errResult.Class)
	assert.Equal(t, GuardIdle, o.GuardState())
}

func TestOrchestrator_GuardClearedOnExecutorError(t *testing.T) {
	validator := okValidator()
	executor := &fakeExecutor{err: errors.New("account does not exist")}
	o := newTestOrchestrator(t, validator, executor)

	_, err := o.Execute(context.Background(), mustBuildSend(t, "10"), Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, GuardIdle, o.GuardState())

	// The orchestrator accepts a fresh attempt afterwards.
	executor.err = nil
	executor.outcome = &Outcome{Success: true, TransactionSignature: "SIG2"}
	res, err := o.Execute(context.Background(), mustBuildSend(t, "10"), Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, ClassSuccess, res.Class)
}

func TestOrchestrator_NilParamsNeverReachValidator(t *testing.T) {
	validator := okValidator()
	executor := &fakeExecutor{}
	o := newTestOrchestrator(t, validator, executor)

	var errResult Result
	res, err := o.Execute(context.Background(), nil, Callbacks{
		OnError: func(r Result) { errResult = r },
	})

	assert.ErrorIs(t, err, ErrUnbuildable)
	assert.Equal(t, ClassFailure, res.Class)
	assert.Equal(t, res, errResult)
	assert.Equal(t, 0, validator.callCount())
	assert.Equal(t, 0, executor.callCount())
}

func TestOrchestrator_ExactlyOneTerminalNotification(t *testing.T) {
	tests := []struct {
		name      string
		validator *fakeValidator
		executor  *fakeExecutor
	}{
		{"success", okValidator(), &fakeExecutor{outcome: &Outcome{Success: true}}},
		{"definite failure", okValidator(), &fakeExecutor{outcome: &Outcome{Error: "rejected", ErrorKind: ErrorKindDefiniteFailure}}},
		{"feasibility rejection", &fakeValidator{feasibility: &Feasibility{Reason: "no"}}, &fakeExecutor{}},
		{"executor error", okValidator(), &fakeExecutor{err: errors.New("boom")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrchestrator(t, tt.validator, tt.executor)
			var total int32
			_, err := o.Execute(context.Background(), mustBuildSend(t, "5"), Callbacks{
				OnSuccess: func(Result) { atomic.AddInt32(&total, 1) },
				OnError:   func(Result) { atomic.AddInt32(&total, 1) },
			})
			require.NoError(t, err)
			assert.Equal(t, int32(1), atomic.LoadInt32(&total))
		})
	}
}
