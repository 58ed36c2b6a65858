package balance

import "fmt"

// SharedWalletState is the pooled wallet's full state as needed for member
// entitlement: its total on-chain balance and each member's running
// contribution and withdrawal tallies, all in base units.
type SharedWalletState struct {
	SharedWalletID string
	TotalBalance   int64
	Members        []Member
}

// Member is one member's recorded position in a shared wallet.
type Member struct {
	UserID      string
	Contributed int64
	Withdrawn   int64
}

// WithdrawableShare returns the amount the given member may withdraw right
// now: their net position (contributed minus already withdrawn), capped by
// what the pooled wallet actually holds.
//
// A user not found among the members is entitled to exactly zero, never the
// pooled total. Malformed state is an error; callers treat any error as a
// zero entitlement (fail closed).
func WithdrawableShare(state *SharedWalletState, userID string) (int64, error) {
	if state == nil {
		return 0, fmt.Errorf("shared wallet state is nil")
	}
	if state.TotalBalance < 0 {
		return 0, fmt.Errorf("shared wallet %s has negative total balance %d", state.SharedWalletID, state.TotalBalance)
	}
	if userID == "" {
		return 0, fmt.Errorf("user id is empty")
	}

	for _, m := range state.Members {
		if m.UserID != userID {
			continue
		}
		net := m.Contributed - m.Withdrawn
		if net < 0 {
			return 0, fmt.Errorf("member %s has negative net position %d in wallet %s", userID, net, state.SharedWalletID)
		}
		if net > state.TotalBalance {
			net = state.TotalBalance
		}
		return net, nil
	}

	// Not a member: entitled to nothing. Not an error; the zero is the
	// answer.
	return 0, nil
}
