package transfer

import (
	"errors"
	"fmt"
)

// DefaultCurrency is the app's stable asset.
const DefaultCurrency = "USDC"

// ErrUnbuildable is the sentinel wrapped by every parameter-construction
// failure: missing identity, unparseable or non-positive amount, or a
// missing context-required field. Callers surface it as a single generic
// "unable to build transfer parameters" condition; nothing that fails here
// is ever attempted against the executor.
var ErrUnbuildable = errors.New("unable to build transfer parameters")

// Identity is the authenticated acting user, as supplied by the identity
// provider. A zero Identity means no user is signed in.
type Identity struct {
	UserID string
}

// Destination carries the loosely-structured destination state a caller has
// assembled (resolved recipient, route ids, flags). Build picks out and
// validates the fields its context requires and ignores the rest.
type Destination struct {
	// Resolved recipient, if recipient resolution produced one.
	RecipientName    string
	RecipientEmail   string
	RecipientAvatar  string
	RecipientAddress string

	DestinationType DestinationType
	RequestID       string
	IsSettlement    bool

	SplitID        string
	BillID         string
	SplitWalletID  string
	SharedWalletID string

	// DestinationAddress is the explicit target address for withdrawal and
	// merchant-payment contexts.
	DestinationAddress string
}

// BuildInput is everything Build needs for one construction attempt.
type BuildInput struct {
	Context     Context
	Identity    Identity
	AmountInput string
	Memo        string
	Currency    string
	Destination Destination
}

// Build assembles a fully-typed Params value for the given context, or
// refuses with an error wrapping ErrUnbuildable. It never returns a
// partially-filled value: any missing context-required field aborts the
// whole construction.
func Build(in BuildInput) (Params, error) {
	if !in.Context.Valid() {
		return nil, fmt.Errorf("%w: unknown context %q", ErrUnbuildable, in.Context)
	}
	if in.Identity.UserID == "" {
		return nil, fmt.Errorf("%w: no authenticated user", ErrUnbuildable)
	}

	amount, err := ParseAmount(in.AmountInput, USDCDecimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnbuildable, err)
	}

	currency := in.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	common := Common{
		UserID:   in.Identity.UserID,
		Amount:   amount,
		Currency: currency,
		Memo:     in.Memo,
	}
	d := in.Destination

	switch in.Context {
	case ContextSend1to1:
		if d.RecipientAddress == "" {
			return nil, missing(ContextSend1to1, "recipient address")
		}
		destType := d.DestinationType
		if destType == "" {
			destType = DestinationExternal
		}
		if destType != DestinationFriend && destType != DestinationExternal {
			return nil, fmt.Errorf("%w: invalid destination type %q", ErrUnbuildable, destType)
		}
		return &Send1to1Params{
			Common:           common,
			DestinationType:  destType,
			RecipientAddress: d.RecipientAddress,
			Recipient: RecipientInfo{
				Name:   d.RecipientName,
				Email:  d.RecipientEmail,
				Avatar: d.RecipientAvatar,
			},
			RequestID:    d.RequestID,
			IsSettlement: d.IsSettlement,
		}, nil

	case ContextFairSplitContribution:
		if d.SplitWalletID == "" {
			return nil, missing(ContextFairSplitContribution, "split wallet id")
		}
		return &FairSplitContributionParams{
			Common:        common,
			SplitWalletID: d.SplitWalletID,
			SplitID:       d.SplitID,
			BillID:        d.BillID,
		}, nil

	case ContextDegenSplitLock:
		if d.SplitWalletID == "" {
			return nil, missing(ContextDegenSplitLock, "split wallet id")
		}
		return &DegenSplitLockParams{
			Common:        common,
			SplitWalletID: d.SplitWalletID,
			SplitID:       d.SplitID,
			BillID:        d.BillID,
		}, nil

	case ContextFairSplitWithdrawal:
		if d.SplitWalletID == "" {
			return nil, missing(ContextFairSplitWithdrawal, "split wallet id")
		}
		if d.DestinationAddress == "" {
			return nil, missing(ContextFairSplitWithdrawal, "destination address")
		}
		return &FairSplitWithdrawalParams{
			Common:             common,
			SplitWalletID:      d.SplitWalletID,
			DestinationAddress: d.DestinationAddress,
		}, nil

	case ContextSpendSplitPayment:
		if d.SplitID == "" {
			return nil, missing(ContextSpendSplitPayment, "split id")
		}
		if d.SplitWalletID == "" {
			return nil, missing(ContextSpendSplitPayment, "split wallet id")
		}
		if d.DestinationAddress == "" {
			return nil, missing(ContextSpendSplitPayment, "merchant address")
		}
		return &SpendSplitPaymentParams{
			Common:          common,
			SplitID:         d.SplitID,
			SplitWalletID:   d.SplitWalletID,
			MerchantAddress: d.DestinationAddress,
		}, nil

	case ContextSharedWalletFunding:
		if d.SharedWalletID == "" {
			return nil, missing(ContextSharedWalletFunding, "shared wallet id")
		}
		return &SharedWalletFundingParams{
			Common:         common,
			SharedWalletID: d.SharedWalletID,
		}, nil

	case ContextSharedWalletWithdrawal:
		if d.SharedWalletID == "" {
			return nil, missing(ContextSharedWalletWithdrawal, "shared wallet id")
		}
		// DestinationAddress is optional here: the executor resolves the
		// member's own address server-side when it is absent.
		return &SharedWalletWithdrawalParams{
			Common:             common,
			SharedWalletID:     d.SharedWalletID,
			DestinationAddress: d.DestinationAddress,
		}, nil
	}

	return nil, fmt.Errorf("%w: unhandled context %q", ErrUnbuildable, in.Context)
}

func missing(c Context, field string) error {
	return fmt.Errorf("%w: %s requires %s", ErrUnbuildable, c, field)
}
