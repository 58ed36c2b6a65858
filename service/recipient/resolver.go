// Package recipient turns the loosely-structured destination candidates a
// caller has on hand (an explicit override, route-supplied info, a contact,
// a wallet) into one canonical descriptor of where money is going.
package recipient

import "fmt"

// Type tags what kind of destination a descriptor points at.
type Type string

const (
	TypeFriend   Type = "friend"
	TypeWallet   Type = "wallet"
	TypeMerchant Type = "merchant"
	TypeSplit    Type = "split"
	TypeShared   Type = "shared"
)

// placeholderPrefix marks an address that stands in for a pooled wallet
// whose chain address has not been looked up yet.
const placeholderPrefix = "pooled:"

// Descriptor is the canonical destination of a transfer: something to show
// the user plus the address money actually goes to.
type Descriptor struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Avatar  string `json:"avatar,omitempty"`
	Type    Type   `json:"type"`
}

// Placeholder reports whether the descriptor's address is a stand-in for a
// pooled wallet that still needs a chain-address lookup.
func (d *Descriptor) Placeholder() bool {
	return len(d.Address) > len(placeholderPrefix) && d.Address[:len(placeholderPrefix)] == placeholderPrefix
}

// PooledWalletID returns the pooled-wallet id a placeholder address refers
// to, or "" if the address is real.
func (d *Descriptor) PooledWalletID() string {
	if !d.Placeholder() {
		return ""
	}
	return d.Address[len(placeholderPrefix):]
}

// Contact is a user's saved contact record.
type Contact struct {
	Name          string
	Email         string
	Avatar        string
	WalletAddress string
}

// Wallet is a bare wallet record with an optional label.
type Wallet struct {
	Label   string
	Address string
}

// Candidates carries zero or more sources a destination can be resolved
// from. Precedence, highest first: Override, Route, Contact, Wallet.
type Candidates struct {
	// Override is explicit custom recipient info supplied by the caller.
	Override *Descriptor
	// Route is recipient info carried on the navigation route.
	Route *Descriptor
	// Contact is a saved contact record.
	Contact *Contact
	// Wallet is a bare wallet record.
	Wallet *Wallet

	// PooledWalletID names the split/shared wallet for pooled-destination
	// contexts; it backfills an empty address with a placeholder.
	PooledWalletID string
}

// Resolve produces one canonical descriptor from the candidates, or nil
// when nothing usable was supplied. pooled indicates the transfer context
// targets an internal pooled wallet: for those, an empty address on the
// winning candidate is not an error but a placeholder to be refined once
// the wallet's chain address is known.
//
// Resolution failure is silent (nil); the caller refuses to build transfer
// parameters when a destination is required.
func Resolve(pooled bool, c Candidates) *Descriptor {
	d := pick(c)
	if d == nil {
		return nil
	}

	if d.Address == "" && pooled && c.PooledWalletID != "" {
		d.Address = placeholderPrefix + c.PooledWalletID
	}
	if d.Address == "" && d.Name == "" {
		return nil
	}

	// Display fallbacks: a missing name becomes the shortened address, a
	// missing address leaves the human name. The user never sees a raw
	// "N/A" placeholder.
	if d.Name == "" {
		if d.Placeholder() {
			d.Name = "Pooled wallet"
		} else {
			d.Name = FormatAddress(d.Address)
		}
	}
	return d
}

// Refine replaces a placeholder address with the real chain address once a
// collaborator lookup has produced it, without restarting resolution. It is
// a no-op for descriptors that already carry a real address.
func Refine(d *Descriptor, chainAddress string) *Descriptor {
	if d == nil || chainAddress == "" || !d.Placeholder() {
		return d
	}
	refined := *d
	refined.Address = chainAddress
	if refined.Name == "Pooled wallet" {
		refined.Name = FormatAddress(chainAddress)
	}
	return &refined
}

// FormatAddress shortens an address for display: first and last four
// characters joined by an ellipsis. Short addresses pass through.
func FormatAddress(addr string) string {
	if len(addr) <= 11 {
		return addr
	}
	return fmt.Sprintf("%s…%s", addr[:4], addr[len(addr)-4:])
}

func pick(c Candidates) *Descriptor {
	if c.Override != nil {
		d := *c.Override
		return &d
	}
	if c.Route != nil {
		d := *c.Route
		return &d
	}
	if c.Contact != nil {
		return &Descriptor{
			Name:    c.Contact.Name,
			Address: c.Contact.WalletAddress,
			Avatar:  c.Contact.Avatar,
			Type:    TypeFriend,
		}
	}
	if c.Wallet != nil {
		return &Descriptor{
			Name:    c.Wallet.Label,
			Address: c.Wallet.Address,
			Type:    TypeWallet,
		}
	}
	return nil
}
