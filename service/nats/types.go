package nats

import (
	"time"

	"github.com/chipin/chipin/service/db"
)

// TransferEvent represents a transfer lifecycle event published to NATS.
// Events are published to the subject "transfers.{user_id}" in JetStream.
type TransferEvent struct {
	// Transfer identifiers
	TransferID string `json:"transfer_id"`
	RequestID  string `json:"request_id,omitempty"`

	// What was attempted
	TransferContext string `json:"transfer_context"`
	UserID          string `json:"user_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Memo            string `json:"memo,omitempty"`

	// Where it went
	DestinationAddress string `json:"destination_address,omitempty"`
	DestinationName    string `json:"destination_name,omitempty"`
	PooledWalletID     string `json:"pooled_wallet_id,omitempty"`

	// Outcome
	Status       string `json:"status"`
	Signature    string `json:"signature,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// FromTransfer converts a stored transfer to a TransferEvent for publishing.
func FromTransfer(t *db.Transfer) *TransferEvent {
	event := &TransferEvent{
		TransferID:      t.ID,
		TransferContext: t.TransferContext,
		UserID:          t.UserID,
		Amount:          t.Amount,
		Currency:        t.Currency,
		Status:          t.Status,
		PublishedAt:     time.Now().UTC(),
	}

	// Convert optional string fields
	if t.RequestID != nil {
		event.RequestID = *t.RequestID
	}
	if t.Memo != nil {
		event.Memo = *t.Memo
	}
	if t.DestinationAddress != nil {
		event.DestinationAddress = *t.DestinationAddress
	}
	if t.DestinationName != nil {
		event.DestinationName = *t.DestinationName
	}
	if t.PooledWalletID != nil {
		event.PooledWalletID = *t.PooledWalletID
	}
	if t.Signature != nil {
		event.Signature = *t.Signature
	}
	if t.ErrorKind != nil {
		event.ErrorKind = *t.ErrorKind
	}
	if t.ErrorMessage != nil {
		event.ErrorMessage = *t.ErrorMessage
	}

	return event
}

// BalanceUpdate is a live wallet balance observation pushed to the subject
// "balances.{wallet_address}".
type BalanceUpdate struct {
	WalletAddress string    `json:"wallet_address"`
	Amount        int64     `json:"amount"`
	ObservedAt    time.Time `json:"observed_at"`
}
