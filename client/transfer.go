package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Transfer represents a transfer attempt recorded by the server.
type Transfer struct {
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

// Resolved reports whether the transfer has reached a final state. Pending
// and uncertain transfers may still change as reconciliation runs.
func (t *Transfer) Resolved() bool {
	switch t.Status {
	case "pending", "uncertain_success":
		return false
	}
	return true
}

// Result is the server's classification of one submission attempt.
type Result struct {
	Class     string `json:"class"`
	Message   string `json:"message"`
	Signature string `json:"signature,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Destination carries the destination fields of a submission. Which fields
// are required depends on the transfer context.
type Destination struct {
	RecipientName      string `json:"recipient_name,omitempty"`
	RecipientEmail     string `json:"recipient_email,omitempty"`
	RecipientAvatar    string `json:"recipient_avatar,omitempty"`
	RecipientAddress   string `json:"recipient_address,omitempty"`
	DestinationType    string `json:"destination_type,omitempty"`
	RequestID          string `json:"request_id,omitempty"`
	IsSettlement       bool   `json:"is_settlement,omitempty"`
	SplitID            string `json:"split_id,omitempty"`
	BillID             string `json:"bill_id,omitempty"`
	SplitWalletID      string `json:"split_wallet_id,omitempty"`
	SharedWalletID     string `json:"shared_wallet_id,omitempty"`
	DestinationAddress string `json:"destination_address,omitempty"`
}

// SubmitRequest is one transfer submission.
type SubmitRequest struct {
	Context     string      `json:"context"`
	UserID      string      `json:"user_id"`
	Amount      string      `json:"amount"`
	Currency    string      `json:"currency,omitempty"`
	Memo        string      `json:"memo,omitempty"`
	Destination Destination `json:"destination"`
}

// SubmitResult is the server's response to a submission: the stored record
// plus the classified result. Duplicate is set when a request id matched a
// prior attempt.
type SubmitResult struct {
	Transfer  Transfer `json:"transfer"`
	Result    Result   `json:"result"`
	Duplicate bool     `json:"duplicate,omitempty"`
}

// Balance is a resolved spendable balance.
type Balance struct {
	WalletAddress string    `json:"wallet_address,omitempty"`
	Amount        int64     `json:"amount"`
	Display       string    `json:"display"`
	Source        string    `json:"source"`
	ObservedAt    time.Time `json:"observed_at"`
}

// BalanceQuery identifies whose balance is wanted. Address is required for
// all contexts except shared_wallet_withdrawal, which uses SharedWalletID.
type BalanceQuery struct {
	Address        string
	UserID         string
	Context        string
	SharedWalletID string
}

// Client is the HTTP client for the chipin transfer service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new transfer service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Submit runs one transfer attempt on the server and returns the classified
// result. The call blocks until the server has executed (or rejected) the
// attempt; uncertain outcomes come back with status "uncertain_success" and
// resolve later through reconciliation.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// 201 is a fresh attempt, 200 a request-id replay.
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var result SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("transfer submitted",
		"transfer_id", result.Transfer.ID,
		"class", result.Result.Class,
		"duplicate", result.Duplicate,
	)
	return &result, nil
}

// GetTransfer retrieves one transfer by id.
func (c *Client) GetTransfer(ctx context.Context, id string) (*Transfer, error) {
	u := fmt.Sprintf("%s/api/v1/transfers/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var t Transfer
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &t, nil
}

// ListTransfers retrieves a user's transfers, newest first. limit and
// offset may be zero for the server defaults.
func (c *Client) ListTransfers(ctx context.Context, userID string, limit, offset int) ([]*Transfer, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprintf("%d", offset))
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/transfers?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var response struct {
		Transfers []*Transfer `json:"transfers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return response.Transfers, nil
}

// GetBalance resolves the spendable balance for a wallet context.
func (c *Client) GetBalance(ctx context.Context, query BalanceQuery) (*Balance, error) {
	u := c.baseURL + "/api/v1/balances"
	if query.Address != "" {
		u += "/" + url.PathEscape(query.Address)
	}
	q := url.Values{}
	if query.UserID != "" {
		q.Set("user_id", query.UserID)
	}
	if query.Context != "" {
		q.Set("context", query.Context)
	}
	if query.SharedWalletID != "" {
		q.Set("shared_wallet_id", query.SharedWalletID)
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var b Balance
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &b, nil
}

// Await polls a transfer until it reaches a final state or the context is
// canceled. Useful after an uncertain submission, when reconciliation
// resolves the transfer in the background.
func (c *Client) Await(ctx context.Context, id string, pollInterval time.Duration) (*Transfer, error) {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		t, err := c.GetTransfer(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.Resolved() {
			return t, nil
		}

		c.logger.Debug("transfer not yet resolved", "transfer_id", id, "status", t.Status)

		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-ticker.C:
		}
	}
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
