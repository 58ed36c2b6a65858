package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// StaticKeyring is an in-memory Keyring backed by maps. It serves local
// development and tests; production deployments wrap a KMS behind the same
// interface.
type StaticKeyring struct {
	mu     sync.RWMutex
	users  map[string]solana.PrivateKey
	pooled map[string]solana.PrivateKey
}

// NewStaticKeyring creates an empty keyring.
func NewStaticKeyring() *StaticKeyring {
	return &StaticKeyring{
		users:  make(map[string]solana.PrivateKey),
		pooled: make(map[string]solana.PrivateKey),
	}
}

// AddUserKey registers a user's signing key.
func (k *StaticKeyring) AddUserKey(userID string, key solana.PrivateKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.users[userID] = key
}

// AddPooledWalletKey registers a pooled wallet's signing key.
func (k *StaticKeyring) AddPooledWalletKey(walletID string, key solana.PrivateKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pooled[walletID] = key
}

// UserKey implements Keyring.
func (k *StaticKeyring) UserKey(ctx context.Context, userID string) (solana.PrivateKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.users[userID]
	if !ok {
		return nil, fmt.Errorf("no key for user %s", userID)
	}
	return key, nil
}

// PooledWalletKey implements Keyring.
func (k *StaticKeyring) PooledWalletKey(ctx context.Context, walletID string) (solana.PrivateKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.pooled[walletID]
	if !ok {
		return nil, fmt.Errorf("no key for pooled wallet %s", walletID)
	}
	return key, nil
}

// keyringFile is the on-disk layout for LoadKeyringFile. Keys are base58
// encoded private keys.
type keyringFile struct {
	Users         map[string]string `json:"users"`
	PooledWallets map[string]string `json:"pooled_wallets"`
}

// LoadKeyringFile reads a JSON keyring file from disk.
func LoadKeyringFile(path string) (*StaticKeyring, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyring file: %w", err)
	}

	var file keyringFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse keyring file: %w", err)
	}

	keyring := NewStaticKeyring()
	for userID, encoded := range file.Users {
		key, err := solana.PrivateKeyFromBase58(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid key for user %s: %w", userID, err)
		}
		keyring.AddUserKey(userID, key)
	}
	for walletID, encoded := range file.PooledWallets {
		key, err := solana.PrivateKeyFromBase58(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid key for pooled wallet %s: %w", walletID, err)
		}
		keyring.AddPooledWalletKey(walletID, key)
	}

	return keyring, nil
}

var _ Keyring = (*StaticKeyring)(nil)
