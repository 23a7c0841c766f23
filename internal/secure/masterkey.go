// Package secure keeps the column-encryption master key in guarded memory.
//
// The key is the single most sensitive value in the process: with it, every
// sealed secret column in the database is readable. It therefore lives in a
// memguard enclave (encrypted at rest in memory, mlocked against swapping,
// guard pages on both sides) and is only decrypted into a locked buffer for
// the moments a codec needs the raw bytes.
package secure

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
)

// KeyLength is the required master key size in bytes (AES-256).
const KeyLength = 32

// MasterKey is the guarded master key. Safe for concurrent use.
type MasterKey struct {
	enclave *memguard.Enclave

	mu        sync.RWMutex
	destroyed bool
}

// NewMasterKey seals raw key bytes into an enclave and wipes the input.
func NewMasterKey(raw []byte) (*MasterKey, error) {
	if len(raw) != KeyLength {
		for i := range raw {
			raw[i] = 0
		}
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeyLength, len(raw))
	}
	// NewEnclave wipes the source slice after copying it in.
	return &MasterKey{enclave: memguard.NewEnclave(raw)}, nil
}

// NewMasterKeyFromBase64 decodes and seals a base64-encoded key.
func NewMasterKeyFromBase64(encoded string) (*MasterKey, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("master key is not valid base64: %w", err)
	}
	return NewMasterKey(raw)
}

// Open decrypts the key into a locked buffer. The caller must Destroy the
// returned buffer as soon as the raw bytes have been consumed.
func (k *MasterKey) Open() (*memguard.LockedBuffer, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.destroyed {
		return nil, fmt.Errorf("master key already destroyed")
	}
	return k.enclave.Open()
}

// Use runs fn with the raw key bytes and wipes the plaintext afterwards.
func (k *MasterKey) Use(fn func(key []byte) error) error {
	locked, err := k.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()
	return fn(locked.Bytes())
}

// Destroy drops the enclave. Idempotent; Open fails afterwards. For full
// cleanup of all guarded memory at process exit, call memguard.Purge.
func (k *MasterKey) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.destroyed {
		return
	}
	k.enclave = nil
	k.destroyed = true
}
