package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	dekSize       = 32
	gcmNonceSize  = 12
	minIterations = 100_000
)

var (
	ErrMasterSecretMissing = errors.New("master secret is not configured")
	ErrUnknownKey          = errors.New("unknown key id")
	ErrDecryptFailed       = errors.New("decryption failed: value unrecoverable")
)

// KeyVault derives versioned master keys from a long-lived secret and wraps
// per-payload DEKs under the active version. Key material lives in process
// memory only and is never logged or serialized; compromise of any envelope's
// ciphertext alone reveals nothing without it.
type KeyVault struct {
	mu         sync.RWMutex
	secret     []byte
	salt       []byte
	iterations int
	version    int
	keys       map[string][]byte
	activeID   string
}

func NewKeyVault(secret, salt string, iterations int) (*KeyVault, error) {
	if secret == "" {
		return nil, ErrMasterSecretMissing
	}
	if iterations < minIterations {
		iterations = minIterations
	}

	v := &KeyVault{
		secret:     []byte(secret),
		salt:       []byte(salt),
		iterations: iterations,
		keys:       make(map[string][]byte),
	}
	v.version = 1
	v.activeID = v.deriveVersion(1)
	return v, nil
}

// deriveVersion derives and registers the key for a version, returning its id.
func (v *KeyVault) deriveVersion(version int) string {
	keyID := fmt.Sprintf("v%d", version)
	info := append(append([]byte(nil), v.salt...), []byte(":"+keyID)...)
	v.keys[keyID] = pbkdf2.Key(v.secret, info, v.iterations, dekSize, sha256.New)
	return keyID
}

// ActiveKeyID returns the id envelopes are wrapped under right now.
func (v *KeyVault) ActiveKeyID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.activeID
}

// Rotate derives a fresh master key version and makes it active. Previous
// versions are retained (deprecated) so already-stored envelopes remain
// decryptable until explicitly re-encrypted.
func (v *KeyVault) Rotate() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.version++
	v.activeID = v.deriveVersion(v.version)
	return v.activeID
}

// NewDEK generates a fresh data-encryption key.
func NewDEK() ([]byte, error) {
	dek := make([]byte, dekSize)
	if _, err := rand.Read(dek); err != nil {
		return nil, fmt.Errorf("generating DEK: %w", err)
	}
	return dek, nil
}

// WrapDEK encrypts the DEK under the active master key.
func (v *KeyVault) WrapDEK(dek []byte) (wrapped []byte, keyID string, err error) {
	v.mu.RLock()
	keyID = v.activeID
	master := v.keys[keyID]
	v.mu.RUnlock()

	gcm, err := newGCM(master)
	if err != nil {
		return nil, "", err
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, "", fmt.Errorf("generating nonce: %w", err)
	}

	// nonce prefixes the wrapped blob
	return gcm.Seal(nonce, nonce, dek, []byte(keyID)), keyID, nil
}

// UnwrapDEK decrypts a wrapped DEK under the named master key version, which
// may be a deprecated one.
func (v *KeyVault) UnwrapDEK(wrapped []byte, keyID string) ([]byte, error) {
	v.mu.RLock()
	master, ok := v.keys[keyID]
	v.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, keyID)
	}

	if len(wrapped) < gcmNonceSize {
		return nil, ErrDecryptFailed
	}

	gcm, err := newGCM(master)
	if err != nil {
		return nil, err
	}

	dek, err := gcm.Open(nil, wrapped[:gcmNonceSize], wrapped[gcmNonceSize:], []byte(keyID))
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return dek, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
