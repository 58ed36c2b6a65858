package solana

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/chipin/chipin/service/metrics"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetTokenAccountBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetTokenAccountBalanceResult, error)

	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	SendTransactionWithOpts(
		ctx context.Context,
		tx *solana.Transaction,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)
}

// SignatureStatus is the chain's verdict on a submitted transaction.
type SignatureStatus string

const (
	// SignatureConfirmed: the transaction landed and did not error.
	SignatureConfirmed SignatureStatus = "confirmed"
	// SignatureFailed: the transaction landed but errored on chain.
	SignatureFailed SignatureStatus = "failed"
	// SignatureUnknown: the chain has no record of the signature yet.
	SignatureUnknown SignatureStatus = "unknown"
)

// Client wraps the RPC client with the domain operations the service needs:
// USDC balance reads and signature status checks.
type Client struct {
	rpc     RPCClient
	mint    solana.PublicKey
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a new Solana client for the given USDC mint.
// If m is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, mint solana.PublicKey, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:     rpcClient,
		mint:    mint,
		logger:  logger,
		metrics: m,
	}
}

// Mint returns the token mint this client reads balances for.
func (c *Client) Mint() solana.PublicKey { return c.mint }

// FetchBalance reads the USDC balance of the wallet's associated token
// account, in base units. A wallet with no token account has a zero balance.
func (c *Client) FetchBalance(ctx context.Context, userID, address string) (int64, error) {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, fmt.Errorf("invalid wallet address %q: %w", address, err)
	}

	ata, _, err := solana.FindAssociatedTokenAddress(owner, c.mint)
	if err != nil {
		return 0, fmt.Errorf("derive token account for %s: %w", address, err)
	}

	start := time.Now()
	result, err := c.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	c.recordRPC("GetTokenAccountBalance", err, time.Since(start))
	if err != nil {
		if isMissingAccountErr(err) {
			c.logger.DebugContext(ctx, "token account does not exist, treating as zero balance",
				"wallet", address,
				"user_id", userID,
			)
			return 0, nil
		}
		return 0, fmt.Errorf("get token account balance: %w", err)
	}
	if result == nil || result.Value == nil {
		return 0, nil
	}

	amount, err := strconv.ParseInt(result.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse token balance %q: %w", result.Value.Amount, err)
	}

	c.logger.DebugContext(ctx, "fetched wallet balance",
		"wallet", address,
		"amount", amount,
	)
	return amount, nil
}

// CheckSignature asks the chain whether a submitted transaction landed.
// Used by the reconciler to resolve uncertain transfers.
func (c *Client) CheckSignature(ctx context.Context, signature string) (SignatureStatus, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return SignatureUnknown, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	start := time.Now()
	result, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	c.recordRPC("GetSignatureStatuses", err, time.Since(start))
	if err != nil {
		return SignatureUnknown, fmt.Errorf("get signature status: %w", err)
	}
	if result == nil || len(result.Value) == 0 || result.Value[0] == nil {
		return SignatureUnknown, nil
	}

	status := result.Value[0]
	if status.Err != nil {
		return SignatureFailed, nil
	}
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return SignatureConfirmed, nil
	default:
		return SignatureUnknown, nil
	}
}

func (c *Client) recordRPC(method string, err error, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, elapsed.Seconds())
}

// isMissingAccountErr matches the RPC error returned when a wallet has
// never held the token and its associated token account does not exist.
func isMissingAccountErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "could not find account")
}
