package transfer

import "fmt"

// Context identifies which kind of money movement is being requested.
// It is a closed set; every value implies a specific set of required
// parameter fields (see Build).
type Context string

const (
	// ContextSend1to1 is a direct send from one user to a friend or an
	// external address.
	ContextSend1to1 Context = "send_1to1"

	// ContextFairSplitContribution funds a fair-split wallet with the
	// user's share of a bill.
	ContextFairSplitContribution Context = "fair_split_contribution"

	// ContextFairSplitWithdrawal moves funds out of a fair-split wallet
	// back to a user's own address.
	ContextFairSplitWithdrawal Context = "fair_split_withdrawal"

	// ContextDegenSplitLock locks the user's stake into a degen-split
	// wallet ahead of the roll.
	ContextDegenSplitLock Context = "degen_split_lock"

	// ContextSpendSplitPayment pays a merchant directly from a split
	// wallet.
	ContextSpendSplitPayment Context = "spend_split_payment"

	// ContextSharedWalletFunding deposits into a long-lived shared wallet.
	ContextSharedWalletFunding Context = "shared_wallet_funding"

	// ContextSharedWalletWithdrawal withdraws the user's entitled share
	// from a shared wallet.
	ContextSharedWalletWithdrawal Context = "shared_wallet_withdrawal"
)

// Contexts lists every valid transfer context.
var Contexts = []Context{
	ContextSend1to1,
	ContextFairSplitContribution,
	ContextFairSplitWithdrawal,
	ContextDegenSplitLock,
	ContextSpendSplitPayment,
	ContextSharedWalletFunding,
	ContextSharedWalletWithdrawal,
}

// Valid reports whether c is one of the known transfer contexts.
func (c Context) Valid() bool {
	switch c {
	case ContextSend1to1,
		ContextFairSplitContribution,
		ContextFairSplitWithdrawal,
		ContextDegenSplitLock,
		ContextSpendSplitPayment,
		ContextSharedWalletFunding,
		ContextSharedWalletWithdrawal:
		return true
	}
	return false
}

// PooledDestination reports whether the destination of this context is an
// internal pooled wallet whose chain address may not be known yet when the
// recipient is resolved. For these contexts an empty destination address is
// not an error; it is filled in later from the pooled-wallet id.
func (c Context) PooledDestination() bool {
	switch c {
	case ContextFairSplitContribution,
		ContextFairSplitWithdrawal,
		ContextDegenSplitLock,
		ContextSharedWalletFunding:
		return true
	}
	return false
}

func (c Context) String() string { return string(c) }

// ParseContext converts a string into a Context, rejecting unknown values.
func ParseContext(s string) (Context, error) {
	c := Context(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown transfer context %q", s)
	}
	return c, nil
}
