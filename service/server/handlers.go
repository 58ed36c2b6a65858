package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/chipin/chipin/service/balance"
	"github.com/chipin/chipin/service/db"
	"github.com/chipin/chipin/service/recipient"
	"github.com/chipin/chipin/service/transfer"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for a transfer submission
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	maxMemoLength      = 280
	defaultListLimit   = 50
	maxListLimit       = 500
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// submitTransferRequest is the JSON body for POST /api/v1/transfers.
type submitTransferRequest struct {
	Context  string `json:"context"`
	UserID   string `json:"user_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Memo     string `json:"memo"`

	Destination struct {
		RecipientName      string `json:"recipient_name"`
		RecipientEmail     string `json:"recipient_email"`
		RecipientAvatar    string `json:"recipient_avatar"`
		RecipientAddress   string `json:"recipient_address"`
		DestinationType    string `json:"destination_type"`
		RequestID          string `json:"request_id"`
		IsSettlement       bool   `json:"is_settlement"`
		SplitID            string `json:"split_id"`
		BillID             string `json:"bill_id"`
		SplitWalletID      string `json:"split_wallet_id"`
		SharedWalletID     string `json:"shared_wallet_id"`
		DestinationAddress string `json:"destination_address"`
	} `json:"destination"`
}

// handleSubmitTransfer returns a handler that runs one transfer attempt.
// POST /api/v1/transfers
func handleSubmitTransfer(engine *Engine, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req submitTransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode transfer request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if len(req.Memo) > maxMemoLength {
			writeError(w, fmt.Sprintf("memo too long: maximum length is %d characters", maxMemoLength), http.StatusBadRequest)
			return
		}
		for _, addr := range []string{req.Destination.RecipientAddress, req.Destination.DestinationAddress} {
			if addr == "" {
				continue
			}
			if err := validateAddress(addr); err != nil {
				logger.Debug("invalid destination address", "address", addr, "error", err)
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		in := transfer.BuildInput{
			Context:     transfer.Context(req.Context),
			Identity:    transfer.Identity{UserID: req.UserID},
			AmountInput: req.Amount,
			Memo:        req.Memo,
			Currency:    req.Currency,
			Destination: transfer.Destination{
				RecipientName:      req.Destination.RecipientName,
				RecipientEmail:     req.Destination.RecipientEmail,
				RecipientAvatar:    req.Destination.RecipientAvatar,
				RecipientAddress:   req.Destination.RecipientAddress,
				DestinationType:    transfer.DestinationType(req.Destination.DestinationType),
				RequestID:          req.Destination.RequestID,
				IsSettlement:       req.Destination.IsSettlement,
				SplitID:            req.Destination.SplitID,
				BillID:             req.Destination.BillID,
				SplitWalletID:      req.Destination.SplitWalletID,
				SharedWalletID:     req.Destination.SharedWalletID,
				DestinationAddress: req.Destination.DestinationAddress,
			},
		}

		result, err := engine.Submit(r.Context(), in)
		if err != nil {
			switch {
			case errors.Is(err, transfer.ErrUnbuildable):
				logger.Debug("transfer request not buildable", "context", req.Context, "error", err)
				writeError(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, transfer.ErrExecutionInFlight):
				logger.Info("concurrent transfer suppressed", "user_id", req.UserID)
				writeError(w, "a transfer for this user is already in flight", http.StatusConflict)
			default:
				logger.Error("transfer submission failed", "user_id", req.UserID, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
			}
			return
		}

		statusCode := http.StatusCreated
		if result.Duplicate {
			statusCode = http.StatusOK
		}

		logger.Info("transfer processed",
			"transfer_id", result.Transfer.ID,
			"context", result.Transfer.TransferContext,
			"user_id", result.Transfer.UserID,
			"class", result.Result.Class,
			"duplicate", result.Duplicate,
		)

		writeJSON(w, submitTransferResponse{
			Transfer:  transferToResponse(result.Transfer),
			Result:    result.Result,
			Duplicate: result.Duplicate,
		}, statusCode)
	})
}

// handleGetTransfer returns a handler that retrieves one transfer by id.
// GET /api/v1/transfers/{id}
func handleGetTransfer(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			writeError(w, "transfer id is required", http.StatusBadRequest)
			return
		}

		t, err := store.GetTransfer(r.Context(), id)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "transfer not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get transfer", "transfer_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, transferToResponse(t), http.StatusOK)
	})
}

// handleListTransfers returns a handler that lists a user's transfers,
// newest first.
// GET /api/v1/transfers?user_id=ID&limit=N&offset=N
func handleListTransfers(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		userID := query.Get("user_id")
		if userID == "" {
			writeError(w, "user_id query parameter is required", http.StatusBadRequest)
			return
		}

		limit := int32(defaultListLimit)
		if limitStr := query.Get("limit"); limitStr != "" {
			var parsed int
			if _, err := fmt.Sscanf(limitStr, "%d", &parsed); err != nil || parsed <= 0 {
				writeError(w, "invalid limit: must be a positive integer", http.StatusBadRequest)
				return
			}
			if parsed > maxListLimit {
				parsed = maxListLimit
			}
			limit = int32(parsed)
		}

		offset := int32(0)
		if offsetStr := query.Get("offset"); offsetStr != "" {
			var parsed int
			if _, err := fmt.Sscanf(offsetStr, "%d", &parsed); err != nil || parsed < 0 {
				writeError(w, "invalid offset: must be a non-negative integer", http.StatusBadRequest)
				return
			}
			offset = int32(parsed)
		}

		transfers, err := store.ListTransfersByUser(r.Context(), db.ListTransfersByUserParams{
			UserID: userID,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			logger.Error("failed to list transfers", "user_id", userID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]transferResponse, len(transfers))
		for i, t := range transfers {
			resp[i] = transferToResponse(t)
		}

		writeJSON(w, map[string]interface{}{
			"user_id":   userID,
			"transfers": resp,
		}, http.StatusOK)
	})
}

// handleGetBalance returns a handler that resolves the spendable balance
// for a wallet context.
// GET /api/v1/balances/{address}?user_id=ID&context=CTX
// GET /api/v1/balances?user_id=ID&context=shared_wallet_withdrawal&shared_wallet_id=ID
func handleGetBalance(balances *balance.Resolver, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		query := r.URL.Query()

		tctx := transfer.ContextSend1to1
		if ctxStr := query.Get("context"); ctxStr != "" {
			parsed, err := transfer.ParseContext(ctxStr)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			tctx = parsed
		}

		sharedWalletID := query.Get("shared_wallet_id")
		if tctx == transfer.ContextSharedWalletWithdrawal {
			if sharedWalletID == "" {
				writeError(w, "shared_wallet_id is required for shared_wallet_withdrawal", http.StatusBadRequest)
				return
			}
		} else {
			if err := validateAddress(address); err != nil {
				logger.Debug("invalid address", "address", address, "error", err)
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		snap := balances.Resolve(r.Context(), balance.Request{
			Context:        tctx,
			UserID:         query.Get("user_id"),
			WalletAddress:  address,
			SharedWalletID: sharedWalletID,
		})

		logger.Debug("balance resolved",
			"address", address,
			"context", tctx,
			"amount", snap.Amount,
			"source", snap.Source,
		)

		writeJSON(w, balanceResponse{
			WalletAddress: address,
			Amount:        snap.Amount,
			Display:       transfer.FormatAmount(snap.Amount, transfer.USDCDecimals),
			Source:        string(snap.Source),
			ObservedAt:    snap.ObservedAt,
		}, http.StatusOK)
	})
}

// resolveRecipientRequest is the JSON body for POST /api/v1/recipients/resolve.
type resolveRecipientRequest struct {
	Context  string                `json:"context"`
	Override *recipient.Descriptor `json:"override"`
	Route    *recipient.Descriptor `json:"route"`
	Contact  *struct {
		OwnerUserID   string `json:"owner_user_id"`
		ContactUserID string `json:"contact_user_id"`
	} `json:"contact"`
	Wallet *struct {
		Label   string `json:"label"`
		Address string `json:"address"`
	} `json:"wallet"`
	PooledWalletID string `json:"pooled_wallet_id"`
}

// handleResolveRecipient returns a handler that resolves destination
// candidates into one canonical descriptor, looking up saved contacts and
// pooled wallet chain addresses as needed.
// POST /api/v1/recipients/resolve
func handleResolveRecipient(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req resolveRecipientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode recipient request", "error", err)
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		tctx, err := transfer.ParseContext(req.Context)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		candidates := recipient.Candidates{
			Override:       req.Override,
			Route:          req.Route,
			PooledWalletID: req.PooledWalletID,
		}
		if req.Contact != nil {
			contact, err := store.GetContact(r.Context(), req.Contact.OwnerUserID, req.Contact.ContactUserID)
			if err != nil && !errors.Is(err, db.ErrNotFound) {
				logger.Error("failed to look up contact",
					"owner_user_id", req.Contact.OwnerUserID,
					"contact_user_id", req.Contact.ContactUserID,
					"error", err,
				)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
			if contact != nil {
				candidates.Contact = &recipient.Contact{
					Name:          contact.Name,
					Avatar:        derefOrEmpty(contact.AvatarURL),
					WalletAddress: derefOrEmpty(contact.WalletAddress),
				}
			}
		}
		if req.Wallet != nil {
			candidates.Wallet = &recipient.Wallet{
				Label:   req.Wallet.Label,
				Address: req.Wallet.Address,
			}
		}

		d := recipient.Resolve(tctx.PooledDestination(), candidates)
		if d == nil {
			writeError(w, "no destination could be resolved from the supplied candidates", http.StatusUnprocessableEntity)
			return
		}

		if d.Placeholder() {
			wallet, err := store.GetPooledWallet(r.Context(), d.PooledWalletID())
			if err != nil && !errors.Is(err, db.ErrNotFound) {
				logger.Error("failed to look up pooled wallet", "pooled_wallet_id", d.PooledWalletID(), "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
			if wallet != nil {
				d = recipient.Refine(d, wallet.ChainAddress)
			}
		}

		logger.Debug("recipient resolved", "context", tctx, "name", d.Name, "type", d.Type)
		writeJSON(w, d, http.StatusOK)
	})
}

// submitTransferResponse is the JSON response for a transfer submission.
type submitTransferResponse struct {
	Transfer  transferResponse `json:"transfer"`
	Result    transfer.Result  `json:"result"`
	Duplicate bool             `json:"duplicate,omitempty"`
}

// transferResponse is the JSON response format for a stored transfer.
type transferResponse struct {
	ID                 string    `json:"id"`
	Context            string    `json:"context"`
	UserID             string    `json:"user_id"`
	Amount             int64     `json:"amount"`
	AmountDisplay      string    `json:"amount_display"`
	Currency           string    `json:"currency"`
	Memo               string    `json:"memo,omitempty"`
	DestinationAddress string    `json:"destination_address,omitempty"`
	DestinationName    string    `json:"destination_name,omitempty"`
	PooledWalletID     string    `json:"pooled_wallet_id,omitempty"`
	SplitID            string    `json:"split_id,omitempty"`
	BillID             string    `json:"bill_id,omitempty"`
	RequestID          string    `json:"request_id,omitempty"`
	Signature          string    `json:"signature,omitempty"`
	Status             string    `json:"status"`
	ErrorMessage       string    `json:"error_message,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// balanceResponse is the JSON response format for a resolved balance.
type balanceResponse struct {
	WalletAddress string    `json:"wallet_address,omitempty"`
	Amount        int64     `json:"amount"`
	Display       string    `json:"display"`
	Source        string    `json:"source"`
	ObservedAt    time.Time `json:"observed_at"`
}

// transferToResponse converts a stored transfer to a response format.
func transferToResponse(t *db.Transfer) transferResponse {
	return transferResponse{
		ID:                 t.ID,
		Context:            t.TransferContext,
		UserID:             t.UserID,
		Amount:             t.Amount,
		AmountDisplay:      transfer.FormatAmount(t.Amount, transfer.USDCDecimals),
		Currency:           t.Currency,
		Memo:               derefOrEmpty(t.Memo),
		DestinationAddress: derefOrEmpty(t.DestinationAddress),
		DestinationName:    derefOrEmpty(t.DestinationName),
		PooledWalletID:     derefOrEmpty(t.PooledWalletID),
		SplitID:            derefOrEmpty(t.SplitID),
		BillID:             derefOrEmpty(t.BillID),
		RequestID:          derefOrEmpty(t.RequestID),
		Signature:          derefOrEmpty(t.Signature),
		Status:             t.Status,
		ErrorMessage:       derefOrEmpty(t.ErrorMessage),
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a wallet address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
