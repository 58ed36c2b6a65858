package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDestination() Destination {
	return Destination{
		RecipientName:      "Ada",
		RecipientEmail:     "ada@example.com",
		RecipientAddress:   "ADDR1",
		DestinationType:    DestinationFriend,
		SplitID:            "split-1",
		BillID:             "bill-1",
		SplitWalletID:      "split-wallet-1",
		SharedWalletID:     "shared-wallet-1",
		DestinationAddress: "DESTADDR",
	}
}

func validInput(c Context) BuildInput {
	return BuildInput{
		Context:     c,
		Identity:    Identity{UserID: "user-1"},
		AmountInput: "25.00",
		Memo:        "dinner",
		Destination: validDestination(),
	}
}

func TestBuild_AllContextsWithCompleteFields(t *testing.T) {
	for _, c := range Contexts {
		t.Run(c.String(), func(t *testing.T) {
			params, err := Build(validInput(c))
			require.NoError(t, err)
			require.NotNil(t, params)

			assert.Equal(t, c, params.TransferContext())
			common := params.CommonParams()
			assert.Equal(t, "user-1", common.UserID)
			assert.Equal(t, int64(25_000_000), common.Amount)
			assert.Equal(t, DefaultCurrency, common.Currency)
			assert.Equal(t, "dinner", common.Memo)
		})
	}
}

func TestBuild_RemovingAnyRequiredFieldFails(t *testing.T) {
	tests := []struct {
		name    string
		context Context
		mutate  func(*BuildInput)
	}{
		{"send_1to1 without recipient address", ContextSend1to1,
			func(in *BuildInput) { in.Destination.RecipientAddress = "" }},
		{"fair_split_contribution without split wallet id", ContextFairSplitContribution,
			func(in *BuildInput) { in.Destination.SplitWalletID = "" }},
		{"degen_split_lock without split wallet id", ContextDegenSplitLock,
			func(in *BuildInput) { in.Destination.SplitWalletID = "" }},
		{"fair_split_withdrawal without split wallet id", ContextFairSplitWithdrawal,
			func(in *BuildInput) { in.Destination.SplitWalletID = "" }},
		{"fair_split_withdrawal without destination address", ContextFairSplitWithdrawal,
			func(in *BuildInput) { in.Destination.DestinationAddress = "" }},
		{"spend_split_payment without split id", ContextSpendSplitPayment,
			func(in *BuildInput) { in.Destination.SplitID = "" }},
		{"spend_split_payment without split wallet id", ContextSpendSplitPayment,
			func(in *BuildInput) { in.Destination.SplitWalletID = "" }},
		{"spend_split_payment without merchant address", ContextSpendSplitPayment,
			func(in *BuildInput) { in.Destination.DestinationAddress = "" }},
		{"shared_wallet_funding without shared wallet id", ContextSharedWalletFunding,
			func(in *BuildInput) { in.Destination.SharedWalletID = "" }},
		{"shared_wallet_withdrawal without shared wallet id", ContextSharedWalletWithdrawal,
			func(in *BuildInput) { in.Destination.SharedWalletID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput(tt.context)
			tt.mutate(&in)

			params, err := Build(in)
			assert.Nil(t, params)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnbuildable)
		})
	}
}

func TestBuild_SharedWalletWithdrawalDestinationOptional(t *testing.T) {
	in := validInput(ContextSharedWalletWithdrawal)
	in.Destination.DestinationAddress = ""

	params, err := Build(in)
	require.NoError(t, err)
	withdrawal, ok := params.(*SharedWalletWithdrawalParams)
	require.True(t, ok)
	assert.Empty(t, withdrawal.DestinationAddress)
	assert.Equal(t, "shared-wallet-1", withdrawal.SharedWalletID)
}

func TestBuild_NoIdentity(t *testing.T) {
	in := validInput(ContextSend1to1)
	in.Identity = Identity{}

	params, err := Build(in)
	assert.Nil(t, params)
	assert.ErrorIs(t, err, ErrUnbuildable)
}

func TestBuild_BadAmounts(t *testing.T) {
	for _, amount := range []string{"", "0", "-1", "12,5,0", "abc"} {
		in := validInput(ContextSend1to1)
		in.AmountInput = amount

		params, err := Build(in)
		assert.Nil(t, params, "amount %q should not build", amount)
		assert.ErrorIs(t, err, ErrUnbuildable)
	}
}

func TestBuild_UnknownContext(t *testing.T) {
	in := validInput(ContextSend1to1)
	in.Context = Context("teleport")

	params, err := Build(in)
	assert.Nil(t, params)
	assert.ErrorIs(t, err, ErrUnbuildable)
}

func TestBuild_CurrencyDefaultsToStableAsset(t *testing.T) {
	in := validInput(ContextSend1to1)
	in.Currency = ""
	params, err := Build(in)
	require.NoError(t, err)
	assert.Equal(t, "USDC", params.CommonParams().Currency)

	in.Currency = "EURC"
	params, err = Build(in)
	require.NoError(t, err)
	assert.Equal(t, "EURC", params.CommonParams().Currency)
}

func TestBuild_DestinationTypeDefaultsToExternal(t *testing.T) {
	in := validInput(ContextSend1to1)
	in.Destination.DestinationType = ""

	params, err := Build(in)
	require.NoError(t, err)
	send, ok := params.(*Send1to1Params)
	require.True(t, ok)
	assert.Equal(t, DestinationExternal, send.DestinationType)
}
