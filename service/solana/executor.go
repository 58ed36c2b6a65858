package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/chipin/chipin/service/db"
	"github.com/chipin/chipin/service/metrics"
	"github.com/chipin/chipin/service/transfer"
)

// Keyring provides signing keys for the custodial wallets the service
// manages: one per user, one per pooled wallet.
type Keyring interface {
	UserKey(ctx context.Context, userID string) (solana.PrivateKey, error)
	PooledWalletKey(ctx context.Context, walletID string) (solana.PrivateKey, error)
}

// PooledWallets resolves pooled wallet IDs to their chain addresses.
// *db.Store satisfies this.
type PooledWallets interface {
	GetPooledWallet(ctx context.Context, id string) (*db.PooledWallet, error)
}

// Executor validates and executes USDC transfers on Solana. It implements
// both transfer.Validator and transfer.Executor: validation is read-only,
// execution builds, signs, submits, and confirms an SPL token transfer.
type Executor struct {
	rpc            RPCClient
	client         *Client
	keys           Keyring
	pooled         PooledWallets
	mint           solana.PublicKey
	decimals       uint8
	feePayer       solana.PrivateKey
	confirmTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

// ExecutorConfig contains the dependencies for an Executor.
type ExecutorConfig struct {
	RPC      RPCClient
	Keys     Keyring
	Pooled   PooledWallets
	Mint     solana.PublicKey
	Decimals uint8
	FeePayer solana.PrivateKey
	// ConfirmTimeout bounds how long execution waits for on-chain
	// confirmation after submission. Zero means 30s.
	ConfirmTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.RPC == nil {
		return nil, errors.New("rpc client is required")
	}
	if cfg.Keys == nil {
		return nil, errors.New("keyring is required")
	}
	if cfg.Pooled == nil {
		return nil, errors.New("pooled wallet directory is required")
	}
	if cfg.FeePayer == nil {
		return nil, errors.New("fee payer key is required")
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		rpc:            cfg.RPC,
		client:         NewClient(cfg.RPC, cfg.Mint, cfg.Metrics, cfg.Logger),
		keys:           cfg.Keys,
		pooled:         cfg.Pooled,
		mint:           cfg.Mint,
		decimals:       cfg.Decimals,
		feePayer:       cfg.FeePayer,
		confirmTimeout: cfg.ConfirmTimeout,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
	}, nil
}

// Client returns the underlying read-only client, shared with the balance
// resolver and the reconciler.
func (e *Executor) Client() *Client { return e.client }

// route is the resolved movement of funds for one transfer: which key
// signs and where the tokens go.
type route struct {
	source      solana.PrivateKey
	destination solana.PublicKey
}

// resolveRoute maps transfer params to a signing key and destination.
// Contributions and funding move user funds into a pooled wallet;
// withdrawals and payments move pooled funds out.
func (e *Executor) resolveRoute(ctx context.Context, params transfer.Params) (*route, error) {
	common := params.CommonParams()

	switch p := params.(type) {
	case *transfer.Send1to1Params:
		key, err := e.keys.UserKey(ctx, common.UserID)
		if err != nil {
			return nil, fmt.Errorf("load user key: %w", err)
		}
		dest, err := parseAddress(p.RecipientAddress)
		if err != nil {
			return nil, err
		}
		return &route{source: key, destination: dest}, nil

	case *transfer.FairSplitContributionParams:
		return e.userToPooled(ctx, common.UserID, p.SplitWalletID)

	case *transfer.DegenSplitLockParams:
		return e.userToPooled(ctx, common.UserID, p.SplitWalletID)

	case *transfer.SharedWalletFundingParams:
		return e.userToPooled(ctx, common.UserID, p.SharedWalletID)

	case *transfer.FairSplitWithdrawalParams:
		return e.pooledToAddress(ctx, p.SplitWalletID, p.DestinationAddress)

	case *transfer.SpendSplitPaymentParams:
		return e.pooledToAddress(ctx, p.SplitWalletID, p.MerchantAddress)

	case *transfer.SharedWalletWithdrawalParams:
		dest := p.DestinationAddress
		if dest == "" {
			// Withdraw to the member's own wallet.
			key, err := e.keys.UserKey(ctx, common.UserID)
			if err != nil {
				return nil, fmt.Errorf("load user key: %w", err)
			}
			dest = key.PublicKey().String()
		}
		return e.pooledToAddress(ctx, p.SharedWalletID, dest)

	default:
		return nil, fmt.Errorf("unsupported transfer params %T", params)
	}
}

func (e *Executor) userToPooled(ctx context.Context, userID, walletID string) (*route, error) {
	key, err := e.keys.UserKey(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user key: %w", err)
	}
	wallet, err := e.pooled.GetPooledWallet(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("look up pooled wallet %s: %w", walletID, err)
	}
	dest, err := parseAddress(wallet.ChainAddress)
	if err != nil {
		return nil, err
	}
	return &route{source: key, destination: dest}, nil
}

func (e *Executor) pooledToAddress(ctx context.Context, walletID, destination string) (*route, error) {
	key, err := e.keys.PooledWalletKey(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("load pooled wallet key %s: %w", walletID, err)
	}
	dest, err := parseAddress(destination)
	if err != nil {
		return nil, err
	}
	return &route{source: key, destination: dest}, nil
}

// errBadRoute marks route-resolution failures that are the caller's fault
// (malformed address, unknown wallet) rather than backend unavailability.
var errBadRoute = errors.New("unresolvable transfer route")

func parseAddress(address string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: invalid address %q", errBadRoute, address)
	}
	return pk, nil
}

// ValidateTransfer checks that the transfer is executable without touching
// the chain state: positive amount, resolvable route, sufficient source
// balance. It never submits anything, so an error return here means the
// check itself could not run.
func (e *Executor) ValidateTransfer(ctx context.Context, params transfer.Params) (*transfer.Feasibility, error) {
	common := params.CommonParams()

	if common.Amount <= 0 {
		return &transfer.Feasibility{Reason: "amount must be greater than zero"}, nil
	}

	r, err := e.resolveRoute(ctx, params)
	if err != nil {
		if errors.Is(err, errBadRoute) || errors.Is(err, db.ErrNotFound) {
			return &transfer.Feasibility{Reason: rejectionReason(err)}, nil
		}
		return nil, err
	}

	balance, err := e.client.FetchBalance(ctx, common.UserID, r.source.PublicKey().String())
	if err != nil {
		return nil, fmt.Errorf("check source balance: %w", err)
	}
	if balance < common.Amount {
		return &transfer.Feasibility{
			Reason: fmt.Sprintf("insufficient funds: balance %s, requested %s",
				transfer.FormatAmount(balance, int(e.decimals)),
				transfer.FormatAmount(common.Amount, int(e.decimals))),
		}, nil
	}

	return &transfer.Feasibility{CanExecute: true}, nil
}

func rejectionReason(err error) string {
	if errors.Is(err, db.ErrNotFound) {
		return "destination wallet does not exist"
	}
	return err.Error()
}

// ExecuteTransfer builds, signs, submits, and confirms the SPL token
// transfer. The returned Outcome carries a structured error kind whenever
// the failure mode is known, and always carries the signature once the
// transaction has been submitted.
func (e *Executor) ExecuteTransfer(ctx context.Context, params transfer.Params) (*transfer.Outcome, error) {
	common := params.CommonParams()

	r, err := e.resolveRoute(ctx, params)
	if err != nil {
		return &transfer.Outcome{
			Error:     err.Error(),
			ErrorKind: transfer.ErrorKindDefiniteFailure,
		}, nil
	}

	sourceATA, _, err := solana.FindAssociatedTokenAddress(r.source.PublicKey(), e.mint)
	if err != nil {
		return &transfer.Outcome{
			Error:     fmt.Sprintf("derive source token account: %v", err),
			ErrorKind: transfer.ErrorKindDefiniteFailure,
		}, nil
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(r.destination, e.mint)
	if err != nil {
		return &transfer.Outcome{
			Error:     fmt.Sprintf("derive destination token account: %v", err),
			ErrorKind: transfer.ErrorKindDefiniteFailure,
		}, nil
	}

	blockhash, err := e.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return &transfer.Outcome{
			Error:     fmt.Sprintf("get latest blockhash: %v", err),
			ErrorKind: classifyRPCError(err),
		}, nil
	}

	ix := token.NewTransferCheckedInstruction(
		uint64(common.Amount),
		e.decimals,
		sourceATA,
		e.mint,
		destATA,
		r.source.PublicKey(),
		nil,
	).Build()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		blockhash.Value.Blockhash,
		solana.TransactionPayer(e.feePayer.PublicKey()),
	)
	if err != nil {
		return &transfer.Outcome{
			Error:     fmt.Sprintf("build transaction: %v", err),
			ErrorKind: transfer.ErrorKindDefiniteFailure,
		}, nil
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(e.feePayer.PublicKey()) {
			return &e.feePayer
		}
		if key.Equals(r.source.PublicKey()) {
			return &r.source
		}
		return nil
	}); err != nil {
		return &transfer.Outcome{
			Error:     fmt.Sprintf("sign transaction: %v", err),
			ErrorKind: transfer.ErrorKindDefiniteFailure,
		}, nil
	}

	start := time.Now()
	sig, err := e.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	e.recordRPC("SendTransaction", err, time.Since(start))
	if err != nil {
		// Submission failed before reaching the ledger.
		return &transfer.Outcome{
			Error:     fmt.Sprintf("submit transaction: %v", err),
			ErrorKind: classifySubmitError(err),
		}, nil
	}

	e.logger.InfoContext(ctx, "transaction submitted",
		"signature", sig.String(),
		"context", string(params.TransferContext()),
		"amount", common.Amount,
	)

	return e.awaitConfirmation(ctx, sig)
}

// awaitConfirmation polls signature status until the transaction confirms,
// errors on chain, or the confirmation window closes. A closed window is
// reported as uncertain: the transaction was already submitted.
func (e *Executor) awaitConfirmation(ctx context.Context, sig solana.Signature) (*transfer.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return &transfer.Outcome{
				Error:                "confirmation timed out",
				ErrorKind:            transfer.ErrorKindUncertain,
				TransactionSignature: sig.String(),
			}, nil
		case <-ticker.C:
		}

		start := time.Now()
		result, err := e.rpc.GetSignatureStatuses(ctx, false, sig)
		e.recordRPC("GetSignatureStatuses", err, time.Since(start))
		if err != nil {
			// Transient status-check failures are retried until the window
			// closes.
			e.logger.WarnContext(ctx, "signature status check failed",
				"signature", sig.String(),
				"error", err,
			)
			continue
		}
		if result == nil || len(result.Value) == 0 || result.Value[0] == nil {
			continue
		}

		status := result.Value[0]
		if status.Err != nil {
			// The signature is deliberately omitted: a signature on the
			// outcome asserts that funds moved, and an errored transaction
			// moved nothing.
			return &transfer.Outcome{
				Error:     fmt.Sprintf("transaction failed on chain: %v", status.Err),
				ErrorKind: transfer.ErrorKindDefiniteFailure,
			}, nil
		}
		switch status.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return &transfer.Outcome{
				Success:              true,
				Message:              "Transfer complete.",
				TransactionSignature: sig.String(),
			}, nil
		}
	}
}

func (e *Executor) recordRPC(method string, err error, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	e.metrics.RecordRPCCall(method, status, elapsed.Seconds())
}

// classifySubmitError maps submission failures to structured kinds. An
// error the node returned means the transaction never reached the ledger,
// but a transport timeout does not: the submission may have landed before
// the response was lost, so it must stay uncertain.
func classifySubmitError(err error) transfer.ErrorKind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "deadline exceeded"):
		return transfer.ErrorKindUncertain
	case strings.Contains(msg, "blockhash not found"),
		strings.Contains(msg, "blockhash expired"):
		return transfer.ErrorKindDefiniteFailure
	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "custom program error"):
		return transfer.ErrorKindDefiniteFailure
	default:
		return classifyRPCError(err)
	}
}

// classifyRPCError maps node availability failures. Rate limits and
// connectivity problems are retryable.
func classifyRPCError(err error) transfer.ErrorKind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "node is unhealthy"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"):
		return transfer.ErrorKindTransient
	default:
		return transfer.ErrorKindDefiniteFailure
	}
}

var (
	_ transfer.Validator = (*Executor)(nil)
	_ transfer.Executor  = (*Executor)(nil)
)
