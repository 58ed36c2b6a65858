package temporal

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/testsuite"
)

func TestReconcileTransferWorkflow(t *testing.T) {
	tests := []struct {
		name           string
		input          ReconcileTransferInput
		mockActivities func(checkMock, resolveMock *testsuite.MockCallWrapper)
		expectedError  bool
		validateResult func(*testing.T, *ReconcileTransferResult)
	}{
		{
			name: "confirmed on chain resolves to success",
			input: ReconcileTransferInput{
				TransferID: "t-1",
				Signature:  "SIG1",
			},
			mockActivities: func(checkMock, resolveMock *testsuite.MockCallWrapper) {
				checkMock.Return(&CheckSignatureResult{Status: "confirmed"}, nil)
				resolveMock.Return(&ResolveTransferResult{Published: true}, nil)
			},
			validateResult: func(t *testing.T, result *ReconcileTransferResult) {
				assert.True(t, result.Resolved)
				assert.Equal(t, "success", result.Status)
			},
		},
		{
			name: "errored on chain resolves to definite failure",
			input: ReconcileTransferInput{
				TransferID: "t-2",
				Signature:  "SIG2",
			},
			mockActivities: func(checkMock, resolveMock *testsuite.MockCallWrapper) {
				checkMock.Return(&CheckSignatureResult{Status: "failed"}, nil)
				resolveMock.Return(&ResolveTransferResult{Published: true}, nil)
			},
			validateResult: func(t *testing.T, result *ReconcileTransferResult) {
				assert.True(t, result.Resolved)
				assert.Equal(t, "definite_failure", result.Status)
			},
		},
		{
			name: "no verdict leaves the transfer uncertain",
			input: ReconcileTransferInput{
				TransferID: "t-3",
				Signature:  "SIG3",
			},
			mockActivities: func(checkMock, resolveMock *testsuite.MockCallWrapper) {
				// The chain never learns about the signature; ResolveTransfer
				// must not run.
				checkMock.Return(&CheckSignatureResult{Status: "unknown"}, nil)
			},
			validateResult: func(t *testing.T, result *ReconcileTransferResult) {
				assert.False(t, result.Resolved)
				assert.Empty(t, result.Status)
			},
		},
		{
			name: "missing signature resolves to failure without chain checks",
			input: ReconcileTransferInput{
				TransferID: "t-4",
			},
			mockActivities: func(checkMock, resolveMock *testsuite.MockCallWrapper) {
				resolveMock.Return(&ResolveTransferResult{Published: true}, nil)
			},
			validateResult: func(t *testing.T, result *ReconcileTransferResult) {
				assert.True(t, result.Resolved)
				assert.Equal(t, "failure", result.Status)
			},
		},
		{
			name: "resolution failure surfaces as workflow error",
			input: ReconcileTransferInput{
				TransferID: "t-5",
				Signature:  "SIG5",
			},
			mockActivities: func(checkMock, resolveMock *testsuite.MockCallWrapper) {
				checkMock.Return(&CheckSignatureResult{Status: "confirmed"}, nil)
				resolveMock.Return(nil, errors.New("database unavailable"))
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestWorkflowEnvironment()

			activities := &Activities{}
			env.RegisterActivity(activities.CheckSignature)
			env.RegisterActivity(activities.ResolveTransfer)

			checkMock := env.OnActivity(activities.CheckSignature, mock.Anything, mock.Anything)
			resolveMock := env.OnActivity(activities.ResolveTransfer, mock.Anything, mock.Anything)
			tt.mockActivities(checkMock, resolveMock)

			env.ExecuteWorkflow(ReconcileTransferWorkflow, tt.input)

			if tt.expectedError {
				assert.Error(t, env.GetWorkflowError())
				return
			}

			assert.NoError(t, env.GetWorkflowError())
			var result ReconcileTransferResult
			assert.NoError(t, env.GetWorkflowResult(&result))
			tt.validateResult(t, &result)
		})
	}
}

func TestSweepUncertainTransfersWorkflow(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.GetUnresolvedTransfers)
	env.RegisterActivity(activities.CheckSignature)
	env.RegisterActivity(activities.ResolveTransfer)
	env.RegisterWorkflow(ReconcileTransferWorkflow)

	env.OnActivity(activities.GetUnresolvedTransfers, mock.Anything, mock.Anything).
		Return(&GetUnresolvedTransfersResult{
			Transfers: []UnresolvedTransfer{
				{TransferID: "t-1", Signature: "SIG1"},
				{TransferID: "t-2", Signature: "SIG2"},
			},
		}, nil)
	env.OnActivity(activities.CheckSignature, mock.Anything, mock.Anything).
		Return(&CheckSignatureResult{Status: "confirmed"}, nil)
	env.OnActivity(activities.ResolveTransfer, mock.Anything, mock.Anything).
		Return(&ResolveTransferResult{Published: true}, nil)

	env.ExecuteWorkflow(SweepUncertainTransfersWorkflow, SweepUncertainTransfersInput{
		MinAge: 30 * time.Second,
		Limit:  100,
	})

	assert.NoError(t, env.GetWorkflowError())
	var result SweepUncertainTransfersResult
	assert.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 2, result.Examined)
	assert.Equal(t, 2, result.Resolved)
}

func TestSweepUncertainTransfersWorkflow_Empty(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.GetUnresolvedTransfers)

	env.OnActivity(activities.GetUnresolvedTransfers, mock.Anything, mock.Anything).
		Return(&GetUnresolvedTransfersResult{}, nil)

	env.ExecuteWorkflow(SweepUncertainTransfersWorkflow, SweepUncertainTransfersInput{})

	assert.NoError(t, env.GetWorkflowError())
	var result SweepUncertainTransfersResult
	assert.NoError(t, env.GetWorkflowResult(&result))
	assert.Zero(t, result.Examined)
	assert.Zero(t, result.Resolved)
}
