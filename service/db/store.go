package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides database operations for the service.
// It wraps a pgx connection pool and converts rows into domain models.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying connection pool for health checks.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Transfer is an attempted USDC transfer recorded by the service.
// Status holds the outcome classification; uncertain transfers are
// picked up later by the reconciler.
type Transfer struct {
	ID                 string
	TransferContext    string
	UserID             string
	Amount             int64
	Currency           string
	Memo               *string
	DestinationAddress *string
	DestinationName    *string
	PooledWalletID     *string
	SplitID            *string
	BillID             *string
	RequestID          *string
	Signature          *string
	Status             string
	ErrorKind          *string
	ErrorMessage       *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CreateTransferParams contains the parameters for recording a transfer attempt.
type CreateTransferParams struct {
	TransferContext    string
	UserID             string
	Amount             int64
	Currency           string
	Memo               *string
	DestinationAddress *string
	DestinationName    *string
	PooledWalletID     *string
	SplitID            *string
	BillID             *string
	RequestID          *string
}

const transferColumns = `id, transfer_context, user_id, amount, currency, memo,
	destination_address, destination_name, pooled_wallet_id, split_id, bill_id,
	request_id, signature, status, error_kind, error_message, created_at, updated_at`

// CreateTransfer inserts a new transfer attempt with status "pending".
func (s *Store) CreateTransfer(ctx context.Context, params CreateTransferParams) (*Transfer, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO transfers (
			transfer_context, user_id, amount, currency, memo,
			destination_address, destination_name, pooled_wallet_id,
			split_id, bill_id, request_id, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending')
		RETURNING `+transferColumns,
		params.TransferContext,
		params.UserID,
		params.Amount,
		params.Currency,
		pgtextFromStringPtr(params.Memo),
		pgtextFromStringPtr(params.DestinationAddress),
		pgtextFromStringPtr(params.DestinationName),
		pgtextFromStringPtr(params.PooledWalletID),
		pgtextFromStringPtr(params.SplitID),
		pgtextFromStringPtr(params.BillID),
		pgtextFromStringPtr(params.RequestID),
	)
	return scanTransfer(row)
}

// UpdateTransferOutcomeParams contains the terminal (or uncertain) outcome
// of a transfer attempt.
type UpdateTransferOutcomeParams struct {
	ID           string
	Status       string
	Signature    *string
	ErrorKind    *string
	ErrorMessage *string
}

// UpdateTransferOutcome records the outcome of a transfer attempt.
func (s *Store) UpdateTransferOutcome(ctx context.Context, params UpdateTransferOutcomeParams) (*Transfer, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE transfers
		SET status = $2,
		    signature = COALESCE($3, signature),
		    error_kind = $4,
		    error_message = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+transferColumns,
		params.ID,
		params.Status,
		pgtextFromStringPtr(params.Signature),
		pgtextFromStringPtr(params.ErrorKind),
		pgtextFromStringPtr(params.ErrorMessage),
	)
	return scanTransfer(row)
}

// GetTransfer retrieves a transfer by its ID.
func (s *Store) GetTransfer(ctx context.Context, id string) (*Transfer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id)
	return scanTransfer(row)
}

// GetTransferByRequestID retrieves a transfer by its client request ID.
// Used to dedupe retried payment-request settlements.
func (s *Store) GetTransferByRequestID(ctx context.Context, requestID string) (*Transfer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+transferColumns+` FROM transfers WHERE request_id = $1
		ORDER BY created_at DESC LIMIT 1`, requestID)
	return scanTransfer(row)
}

// ListTransfersByUserParams contains pagination parameters.
type ListTransfersByUserParams struct {
	UserID string
	Limit  int32
	Offset int32
}

// ListTransfersByUser retrieves a user's transfers, most recent first.
func (s *Store) ListTransfersByUser(ctx context.Context, params ListTransfersByUserParams) ([]*Transfer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+transferColumns+` FROM transfers
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		params.UserID, params.Limit, params.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransfers(rows)
}

// ListUnresolvedTransfers retrieves transfers whose outcome is still
// uncertain and which were last updated before the cutoff. The reconciler
// resolves these against the chain.
func (s *Store) ListUnresolvedTransfers(ctx context.Context, updatedBefore time.Time, limit int32) ([]*Transfer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+transferColumns+` FROM transfers
		WHERE status = 'uncertain_success'
		  AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`,
		pgtype.Timestamptz{Time: updatedBefore, Valid: true}, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransfers(rows)
}

// PooledWallet is a service-managed wallet backing a split or a shared wallet.
type PooledWallet struct {
	ID           string
	Kind         string // "split" or "shared"
	ChainAddress string
	Label        *string
	CreatedAt    time.Time
}

// UpsertPooledWalletParams contains the parameters for registering a pooled wallet.
type UpsertPooledWalletParams struct {
	ID           string
	Kind         string
	ChainAddress string
	Label        *string
}

// UpsertPooledWallet registers a pooled wallet, updating the chain address
// and label if the wallet already exists.
func (s *Store) UpsertPooledWallet(ctx context.Context, params UpsertPooledWalletParams) (*PooledWallet, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO pooled_wallets (id, kind, chain_address, label)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET chain_address = EXCLUDED.chain_address,
		    label = EXCLUDED.label
		RETURNING id, kind, chain_address, label, created_at`,
		params.ID, params.Kind, params.ChainAddress, pgtextFromStringPtr(params.Label))
	return scanPooledWallet(row)
}

// GetPooledWallet retrieves a pooled wallet by its ID.
func (s *Store) GetPooledWallet(ctx context.Context, id string) (*PooledWallet, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, kind, chain_address, label, created_at
		FROM pooled_wallets WHERE id = $1`, id)
	return scanPooledWallet(row)
}

// SharedWalletMember tracks one member's running contribution and
// withdrawal totals for a shared wallet, in base units.
type SharedWalletMember struct {
	WalletID    string
	UserID      string
	Contributed int64
	Withdrawn   int64
	UpdatedAt   time.Time
}

// ListSharedWalletMembers retrieves all members of a shared wallet.
func (s *Store) ListSharedWalletMembers(ctx context.Context, walletID string) ([]*SharedWalletMember, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT wallet_id, user_id, contributed, withdrawn, updated_at
		FROM shared_wallet_members WHERE wallet_id = $1
		ORDER BY user_id`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*SharedWalletMember
	for rows.Next() {
		var m SharedWalletMember
		var updatedAt pgtype.Timestamptz
		if err := rows.Scan(&m.WalletID, &m.UserID, &m.Contributed, &m.Withdrawn, &updatedAt); err != nil {
			return nil, err
		}
		m.UpdatedAt = updatedAt.Time
		members = append(members, &m)
	}
	return members, rows.Err()
}

// AddSharedWalletContribution increments a member's contributed total,
// creating the membership row if needed.
func (s *Store) AddSharedWalletContribution(ctx context.Context, walletID, userID string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("contribution amount must be non-negative, got %d", amount)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO shared_wallet_members (wallet_id, user_id, contributed, withdrawn)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (wallet_id, user_id) DO UPDATE
		SET contributed = shared_wallet_members.contributed + EXCLUDED.contributed,
		    updated_at = now()`,
		walletID, userID, amount)
	return err
}

// AddSharedWalletWithdrawal increments a member's withdrawn total.
// The membership row must already exist.
func (s *Store) AddSharedWalletWithdrawal(ctx context.Context, walletID, userID string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("withdrawal amount must be non-negative, got %d", amount)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE shared_wallet_members
		SET withdrawn = withdrawn + $3, updated_at = now()
		WHERE wallet_id = $1 AND user_id = $2`,
		walletID, userID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s is not a member of wallet %s: %w", userID, walletID, ErrNotFound)
	}
	return nil
}

// Contact is an entry in a user's contact list.
type Contact struct {
	OwnerUserID   string
	ContactUserID string
	Name          string
	WalletAddress *string
	AvatarURL     *string
	CreatedAt     time.Time
}

// UpsertContactParams contains the parameters for saving a contact.
type UpsertContactParams struct {
	OwnerUserID   string
	ContactUserID string
	Name          string
	WalletAddress *string
	AvatarURL     *string
}

// UpsertContact saves a contact, updating name, address, and avatar on conflict.
func (s *Store) UpsertContact(ctx context.Context, params UpsertContactParams) (*Contact, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO contacts (owner_user_id, contact_user_id, name, wallet_address, avatar_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_user_id, contact_user_id) DO UPDATE
		SET name = EXCLUDED.name,
		    wallet_address = EXCLUDED.wallet_address,
		    avatar_url = EXCLUDED.avatar_url
		RETURNING owner_user_id, contact_user_id, name, wallet_address, avatar_url, created_at`,
		params.OwnerUserID, params.ContactUserID, params.Name,
		pgtextFromStringPtr(params.WalletAddress), pgtextFromStringPtr(params.AvatarURL))
	return scanContact(row)
}

// GetContact retrieves a contact from a user's contact list.
func (s *Store) GetContact(ctx context.Context, ownerUserID, contactUserID string) (*Contact, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT owner_user_id, contact_user_id, name, wallet_address, avatar_url, created_at
		FROM contacts WHERE owner_user_id = $1 AND contact_user_id = $2`,
		ownerUserID, contactUserID)
	return scanContact(row)
}

func scanTransfer(row pgx.Row) (*Transfer, error) {
	var t Transfer
	var memo, destAddr, destName, pooledID, splitID, billID, requestID, sig, errKind, errMsg pgtype.Text
	var createdAt, updatedAt pgtype.Timestamptz
	err := row.Scan(
		&t.ID, &t.TransferContext, &t.UserID, &t.Amount, &t.Currency, &memo,
		&destAddr, &destName, &pooledID, &splitID, &billID,
		&requestID, &sig, &t.Status, &errKind, &errMsg, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.Memo = stringPtrFromPgtext(memo)
	t.DestinationAddress = stringPtrFromPgtext(destAddr)
	t.DestinationName = stringPtrFromPgtext(destName)
	t.PooledWalletID = stringPtrFromPgtext(pooledID)
	t.SplitID = stringPtrFromPgtext(splitID)
	t.BillID = stringPtrFromPgtext(billID)
	t.RequestID = stringPtrFromPgtext(requestID)
	t.Signature = stringPtrFromPgtext(sig)
	t.ErrorKind = stringPtrFromPgtext(errKind)
	t.ErrorMessage = stringPtrFromPgtext(errMsg)
	t.CreatedAt = createdAt.Time
	t.UpdatedAt = updatedAt.Time
	return &t, nil
}

func collectTransfers(rows pgx.Rows) ([]*Transfer, error) {
	var transfers []*Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

func scanPooledWallet(row pgx.Row) (*PooledWallet, error) {
	var w PooledWallet
	var label pgtype.Text
	var createdAt pgtype.Timestamptz
	if err := row.Scan(&w.ID, &w.Kind, &w.ChainAddress, &label, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	w.Label = stringPtrFromPgtext(label)
	w.CreatedAt = createdAt.Time
	return &w, nil
}

func scanContact(row pgx.Row) (*Contact, error) {
	var c Contact
	var addr, avatar pgtype.Text
	var createdAt pgtype.Timestamptz
	if err := row.Scan(&c.OwnerUserID, &c.ContactUserID, &c.Name, &addr, &avatar, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.WalletAddress = stringPtrFromPgtext(addr)
	c.AvatarURL = stringPtrFromPgtext(avatar)
	c.CreatedAt = createdAt.Time
	return &c, nil
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}
