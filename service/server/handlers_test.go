package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chipin/chipin/service/balance"
	"github.com/chipin/chipin/service/db"
	"github.com/chipin/chipin/service/transfer"
)

func TestSubmitTransfer_PathologicalInput(t *testing.T) {
	db.SkipIfNoTestDB(t)
	ts := db.NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	engine, _, _ := newTestEngine(t, ts.Store, &stubValidator{}, &stubExecutor{
		outcome: &transfer.Outcome{Success: true, TransactionSignature: "sig"},
	})
	handler := handleSubmitTransfer(engine, testEngineLogger())

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		checkError     func(t *testing.T, body string)
	}{
		{
			name:           "extremely large request body",
			body:           `{"memo":"` + strings.Repeat("A", 10*1024*1024) + `"}`, // 10MB
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "request body too large")
			},
		},
		{
			name:           "malformed JSON",
			body:           `{"context":"send_1to1","amount":`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "invalid request body")
			},
		},
		{
			name:           "unknown context",
			body:           `{"context":"teleport","user_id":"u","amount":"1"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "unknown context")
			},
		},
		{
			name:           "missing user",
			body:           `{"context":"send_1to1","amount":"1","destination":{"recipient_address":"DRpbCBMxVnDK7maPM5tGv6MvB3v1sRMC86PZ8okm21hy"}}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "no authenticated user")
			},
		},
		{
			name:           "unparseable amount",
			body:           `{"context":"send_1to1","user_id":"u","amount":"12,34.56","destination":{"recipient_address":"DRpbCBMxVnDK7maPM5tGv6MvB3v1sRMC86PZ8okm21hy"}}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "zero amount",
			body:           `{"context":"send_1to1","user_id":"u","amount":"0","destination":{"recipient_address":"DRpbCBMxVnDK7maPM5tGv6MvB3v1sRMC86PZ8okm21hy"}}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing recipient address",
			body:           `{"context":"send_1to1","user_id":"u","amount":"1"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "recipient address")
			},
		},
		{
			name:           "non-base58 destination address",
			body:           `{"context":"send_1to1","user_id":"u","amount":"1","destination":{"recipient_address":"not valid!!"}}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "base58")
			},
		},
		{
			name:           "memo too long",
			body:           `{"context":"send_1to1","user_id":"u","amount":"1","memo":"` + strings.Repeat("m", 300) + `","destination":{"recipient_address":"DRpbCBMxVnDK7maPM5tGv6MvB3v1sRMC86PZ8okm21hy"}}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "memo too long")
			},
		},
		{
			name:           "split contribution without wallet id",
			body:           `{"context":"fair_split_contribution","user_id":"u","amount":"1"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "split wallet id")
			},
		},
		{
			name:           "valid request",
			body:           `{"context":"send_1to1","user_id":"u","amount":"1.50","destination":{"recipient_address":"DRpbCBMxVnDK7maPM5tGv6MvB3v1sRMC86PZ8okm21hy","recipient_name":"Alice"}}`,
			expectedStatus: http.StatusCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/transfers", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.checkError != nil && w.Code != http.StatusCreated {
				var errResp map[string]string
				err := json.NewDecoder(w.Body).Decode(&errResp)
				require.NoError(t, err)
				tt.checkError(t, errResp["error"])
			}
		})
	}
}

func TestSubmitTransfer_ResponseShape(t *testing.T) {
	db.SkipIfNoTestDB(t)
	ts := db.NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	engine, _, _ := newTestEngine(t, ts.Store, &stubValidator{}, &stubExecutor{
		outcome: &transfer.Outcome{Success: true, TransactionSignature: "sig-resp"},
	})
	handler := handleSubmitTransfer(engine, testEngineLogger())

	body := `{"context":"send_1to1","user_id":"user-resp","amount":"2.50","destination":{"recipient_address":"DRpbCBMxVnDK7maPM5tGv6MvB3v1sRMC86PZ8okm21hy","recipient_name":"Alice"}}`
	req := httptest.NewRequest("POST", "/api/v1/transfers", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp submitTransferResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Transfer.ID)
	assert.Equal(t, "send_1to1", resp.Transfer.Context)
	assert.Equal(t, int64(2_500_000), resp.Transfer.Amount)
	assert.Equal(t, "2.500000", resp.Transfer.AmountDisplay)
	assert.Equal(t, "USDC", resp.Transfer.Currency)
	assert.Equal(t, "Alice", resp.Transfer.DestinationName)
	assert.Equal(t, string(transfer.ClassSuccess), resp.Transfer.Status)
	assert.Equal(t, transfer.ClassSuccess, resp.Result.Class)
	assert.Equal(t, "sig-resp", resp.Result.Signature)
}

func TestGetTransfer(t *testing.T) {
	db.SkipIfNoTestDB(t)
	ts := db.NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	created, err := ts.CreateTransfer(context.Background(), db.CreateTransferParams{
		TransferContext: "send_1to1",
		UserID:          "user-get",
		Amount:          1_000_000,
		Currency:        "USDC",
	})
	require.NoError(t, err)

	handler := handleGetTransfer(ts.Store, testEngineLogger())

	t.Run("found", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/transfers/"+created.ID, nil)
		req.SetPathValue("id", created.ID)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var resp transferResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, created.ID, resp.ID)
		assert.Equal(t, "pending", resp.Status)
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/transfers/00000000-0000-0000-0000-000000000000", nil)
		req.SetPathValue("id", "00000000-0000-0000-0000-000000000000")

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing id", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/transfers/", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListTransfers(t *testing.T) {
	db.SkipIfNoTestDB(t)
	ts := db.NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	for i := 0; i < 3; i++ {
		_, err := ts.CreateTransfer(context.Background(), db.CreateTransferParams{
			TransferContext: "send_1to1",
			UserID:          "user-list",
			Amount:          int64(i+1) * 1_000_000,
			Currency:        "USDC",
		})
		require.NoError(t, err)
	}

	handler := handleListTransfers(ts.Store, testEngineLogger())

	t.Run("lists user transfers", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/transfers?user_id=user-list", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			UserID    string             `json:"user_id"`
			Transfers []transferResponse `json:"transfers"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "user-list", resp.UserID)
		assert.Len(t, resp.Transfers, 3)
	})

	t.Run("respects limit", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/transfers?user_id=user-list&limit=2", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Transfers []transferResponse `json:"transfers"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Len(t, resp.Transfers, 2)
	})

	t.Run("missing user_id", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/transfers", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid limit", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/transfers?user_id=user-list&limit=banana", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

// staticLive serves fixed live balances keyed by address.
type staticLive struct {
	amounts map[string]int64
	at      time.Time
}

func (s *staticLive) Live(address string) (int64, time.Time, bool) {
	amount, ok := s.amounts[address]
	return amount, s.at, ok
}

func TestGetBalance(t *testing.T) {
	const addr = "DRpbCBMxVnDK7maPM5tGv6MvB3v1sRMC86PZ8okm21hy"
	observed := time.Now().UTC().Truncate(time.Second)
	resolver := balance.NewResolver(balance.ResolverConfig{
		Live:   &staticLive{amounts: map[string]int64{addr: 42_000_000}, at: observed},
		Logger: testEngineLogger(),
	})
	handler := handleGetBalance(resolver, testEngineLogger())

	t.Run("live balance", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/balances/"+addr+"?user_id=u", nil)
		req.SetPathValue("address", addr)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var resp balanceResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, int64(42_000_000), resp.Amount)
		assert.Equal(t, "42.000000", resp.Display)
		assert.Equal(t, "live", resp.Source)
	})

	t.Run("unknown address resolves to zero", func(t *testing.T) {
		other := "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
		req := httptest.NewRequest("GET", "/api/v1/balances/"+other, nil)
		req.SetPathValue("address", other)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var resp balanceResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, int64(0), resp.Amount)
		assert.Equal(t, "zero", resp.Source)
	})

	t.Run("invalid address", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/balances/bad!addr", nil)
		req.SetPathValue("address", "bad!addr")

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid context", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/balances/"+addr+"?context=bogus", nil)
		req.SetPathValue("address", addr)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("shared withdrawal requires shared_wallet_id", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/balances?context=shared_wallet_withdrawal&user_id=u", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("shared withdrawal fails closed to zero", func(t *testing.T) {
		// No shared reader configured, so the entitlement is zero.
		req := httptest.NewRequest("GET", "/api/v1/balances?context=shared_wallet_withdrawal&user_id=u&shared_wallet_id=sw-1", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var resp balanceResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, int64(0), resp.Amount)
		assert.Equal(t, "entitlement", resp.Source)
	})
}

func TestResolveRecipient(t *testing.T) {
	db.SkipIfNoTestDB(t)
	ts := db.NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	contactAddr := "DRpbCBMxVnDK7maPM5tGv6MvB3v1sRMC86PZ8okm21hy"
	_, err := ts.UpsertContact(context.Background(), db.UpsertContactParams{
		OwnerUserID:   "owner-1",
		ContactUserID: "friend-1",
		Name:          "Alice",
		WalletAddress: &contactAddr,
	})
	require.NoError(t, err)

	_, err = ts.UpsertPooledWallet(context.Background(), db.UpsertPooledWalletParams{
		ID:           "split-wallet-9",
		Kind:         "split",
		ChainAddress: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		Label:        strPtr("Dinner split"),
	})
	require.NoError(t, err)

	handler := handleResolveRecipient(ts.Store, testEngineLogger())

	post := func(t *testing.T, body string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest("POST", "/api/v1/recipients/resolve", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	t.Run("contact lookup", func(t *testing.T) {
		w := post(t, `{"context":"send_1to1","contact":{"owner_user_id":"owner-1","contact_user_id":"friend-1"}}`)
		require.Equal(t, http.StatusOK, w.Code)

		var d map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&d))
		assert.Equal(t, "Alice", d["name"])
		assert.Equal(t, contactAddr, d["address"])
		assert.Equal(t, "friend", d["type"])
	})

	t.Run("override wins over contact", func(t *testing.T) {
		w := post(t, `{"context":"send_1to1","override":{"name":"Bob","address":"So11111111111111111111111111111111111111112","type":"wallet"},"contact":{"owner_user_id":"owner-1","contact_user_id":"friend-1"}}`)
		require.Equal(t, http.StatusOK, w.Code)

		var d map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&d))
		assert.Equal(t, "Bob", d["name"])
	})

	t.Run("placeholder refined from pooled wallet", func(t *testing.T) {
		w := post(t, `{"context":"fair_split_contribution","route":{"name":"Dinner split"},"pooled_wallet_id":"split-wallet-9"}`)
		require.Equal(t, http.StatusOK, w.Code)

		var d map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&d))
		assert.Equal(t, "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", d["address"])
	})

	t.Run("nothing resolvable", func(t *testing.T) {
		w := post(t, `{"context":"send_1to1"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("unknown context", func(t *testing.T) {
		w := post(t, `{"context":"bogus"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		w := post(t, `{"context":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{"valid solana address", "DRpbCBMxVnDK7maPM5tGv6MvB3v1sRMC86PZ8okm21hy", false},
		{"empty", "", true},
		{"too long", strings.Repeat("A", 101), true},
		{"control characters", "abc\x00def", true},
		{"non base58", "0OIl", true},
		{"spaces", "some address", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAddress(tt.address)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
