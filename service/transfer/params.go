package transfer

// DestinationType distinguishes a send to a known friend from a send to an
// external address the user pasted in.
type DestinationType string

const (
	DestinationFriend   DestinationType = "friend"
	DestinationExternal DestinationType = "external"
)

// RecipientInfo is the display-facing description of where the money goes.
type RecipientInfo struct {
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Common holds the fields present on every transfer variant. Amount is in
// base units at USDCDecimals precision; it is always positive once a Params
// value exists.
type Common struct {
	UserID   string `json:"user_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Memo     string `json:"memo,omitempty"`
}

// Params is the sealed tagged union of transfer parameters. There is one
// concrete variant per Context and values are only ever constructed by
// Build, which guarantees every context-required field is present. A Params
// value never exists in a partially-filled state.
type Params interface {
	TransferContext() Context
	CommonParams() Common

	// sealed prevents variants from being declared outside this package.
	sealed()
}

// Send1to1Params is a direct send to a friend or external address.
type Send1to1Params struct {
	Common
	DestinationType  DestinationType `json:"destination_type"`
	RecipientAddress string          `json:"recipient_address"`
	Recipient        RecipientInfo   `json:"recipient"`
	RequestID        string          `json:"request_id,omitempty"`
	IsSettlement     bool            `json:"is_settlement,omitempty"`
}

// FairSplitContributionParams funds a fair-split wallet.
type FairSplitContributionParams struct {
	Common
	SplitWalletID string `json:"split_wallet_id"`
	SplitID       string `json:"split_id,omitempty"`
	BillID        string `json:"bill_id,omitempty"`
}

// DegenSplitLockParams locks the user's stake into a degen-split wallet.
type DegenSplitLockParams struct {
	Common
	SplitWalletID string `json:"split_wallet_id"`
	SplitID       string `json:"split_id,omitempty"`
	BillID        string `json:"bill_id,omitempty"`
}

// FairSplitWithdrawalParams moves funds out of a fair-split wallet.
type FairSplitWithdrawalParams struct {
	Common
	SplitWalletID      string `json:"split_wallet_id"`
	DestinationAddress string `json:"destination_address"`
}

// SpendSplitPaymentParams pays a merchant from a split wallet.
type SpendSplitPaymentParams struct {
	Common
	SplitID         string `json:"split_id"`
	SplitWalletID   string `json:"split_wallet_id"`
	MerchantAddress string `json:"merchant_address"`
}

// SharedWalletFundingParams deposits into a shared wallet.
type SharedWalletFundingParams struct {
	Common
	SharedWalletID string `json:"shared_wallet_id"`
}

// SharedWalletWithdrawalParams withdraws the user's entitled share from a
// shared wallet. DestinationAddress may be empty; the executor resolves the
// member's own address server-side when it is.
type SharedWalletWithdrawalParams struct {
	Common
	SharedWalletID     string `json:"shared_wallet_id"`
	DestinationAddress string `json:"destination_address,omitempty"`
}

func (p *Send1to1Params) TransferContext() Context              { return ContextSend1to1 }
func (p *FairSplitContributionParams) TransferContext() Context { return ContextFairSplitContribution }
func (p *DegenSplitLockParams) TransferContext() Context        { return ContextDegenSplitLock }
func (p *FairSplitWithdrawalParams) TransferContext() Context   { return ContextFairSplitWithdrawal }
func (p *SpendSplitPaymentParams) TransferContext() Context     { return ContextSpendSplitPayment }
func (p *SharedWalletFundingParams) TransferContext() Context   { return ContextSharedWalletFunding }
func (p *SharedWalletWithdrawalParams) TransferContext() Context {
	return ContextSharedWalletWithdrawal
}

func (p *Send1to1Params) CommonParams() Common              { return p.Common }
func (p *FairSplitContributionParams) CommonParams() Common { return p.Common }
func (p *DegenSplitLockParams) CommonParams() Common        { return p.Common }
func (p *FairSplitWithdrawalParams) CommonParams() Common   { return p.Common }
func (p *SpendSplitPaymentParams) CommonParams() Common     { return p.Common }
func (p *SharedWalletFundingParams) CommonParams() Common   { return p.Common }
func (p *SharedWalletWithdrawalParams) CommonParams() Common { return p.Common }

func (p *Send1to1Params) sealed()               {}
func (p *FairSplitContributionParams) sealed()  {}
func (p *DegenSplitLockParams) sealed()         {}
func (p *FairSplitWithdrawalParams) sealed()    {}
func (p *SpendSplitPaymentParams) sealed()      {}
func (p *SharedWalletFundingParams) sealed()    {}
func (p *SharedWalletWithdrawalParams) sealed() {}
