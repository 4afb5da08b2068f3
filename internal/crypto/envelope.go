package crypto

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath/compliance-core/internal/store"
)

const (
	algorithmAESGCM = "aes-256-gcm"
	tagSize         = 16
	// ChunkSize is the plaintext size of each independently-enveloped file
	// chunk, allowing partial decryption and streaming.
	ChunkSize = 64 * 1024
)

// EncryptedData is a self-describing envelope: the struct plus the master key
// is sufficient to decrypt; the struct alone reveals nothing.
type EncryptedData struct {
	Algorithm  string    `json:"algorithm"`
	Ciphertext []byte    `json:"ciphertext"`
	IV         []byte    `json:"iv"`
	AuthTag    []byte    `json:"auth_tag"`
	KeyID      string    `json:"key_id"`
	WrappedDEK []byte    `json:"wrapped_dek"`
	Timestamp  time.Time `json:"timestamp"`
}

// Service implements envelope encryption on top of the KeyVault: a fresh DEK
// per payload, AES-256-GCM with a 96-bit IV and 128-bit tag, and the DEK
// wrapped under the vault's active master key inside the envelope.
type Service struct {
	vault *KeyVault
	store store.Store
	now   func() time.Time
}

// NewService builds the encryption service. st may be nil when key-rotation
// metadata does not need to be persisted.
func NewService(vault *KeyVault, st store.Store) *Service {
	return &Service{vault: vault, store: st, now: time.Now}
}

func (s *Service) Encrypt(payload []byte) (EncryptedData, error) {
	dek, err := NewDEK()
	if err != nil {
		return EncryptedData{}, err
	}

	block, err := aes.NewCipher(dek)
	if err != nil {
		return EncryptedData{}, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return EncryptedData{}, fmt.Errorf("creating GCM: %w", err)
	}

	iv := make([]byte, gcmNonceSize)
	if _, err := rand.Read(iv); err != nil {
		return EncryptedData{}, fmt.Errorf("generating IV: %w", err)
	}

	sealed := gcm.Seal(nil, iv, payload, nil)

	wrapped, keyID, err := s.vault.WrapDEK(dek)
	if err != nil {
		return EncryptedData{}, err
	}

	return EncryptedData{
		Algorithm:  algorithmAESGCM,
		Ciphertext: sealed[:len(sealed)-tagSize],
		IV:         iv,
		AuthTag:    sealed[len(sealed)-tagSize:],
		KeyID:      keyID,
		WrappedDEK: wrapped,
		Timestamp:  s.now(),
	}, nil
}

// Decrypt unwraps the envelope's DEK and authenticates the payload. Any
// failure means the value is unrecoverable; callers must never fall back to
// treating the ciphertext as plaintext.
func (s *Service) Decrypt(env EncryptedData) ([]byte, error) {
	if env.Algorithm != algorithmAESGCM {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrDecryptFailed, env.Algorithm)
	}

	dek, err := s.vault.UnwrapDEK(env.WrappedDEK, env.KeyID)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrDecryptFailed
	}

	sealed := append(append([]byte(nil), env.Ciphertext...), env.AuthTag...)
	plaintext, err := gcm.Open(nil, env.IV, sealed, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// EncryptFields envelopes each named field of the record independently.
func (s *Service) EncryptFields(fields map[string]string) (map[string]EncryptedData, error) {
	out := make(map[string]EncryptedData, len(fields))
	for name, value := range fields {
		env, err := s.Encrypt([]byte(value))
		if err != nil {
			return nil, fmt.Errorf("encrypting field %s: %w", name, err)
		}
		out[name] = env
	}
	return out, nil
}

func (s *Service) DecryptFields(fields map[string]EncryptedData) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for name, env := range fields {
		plaintext, err := s.Decrypt(env)
		if err != nil {
			return nil, fmt.Errorf("decrypting field %s: %w", name, err)
		}
		out[name] = string(plaintext)
	}
	return out, nil
}

// EncryptStream reads the payload in fixed-size chunks, each independently
// enveloped so consumers can decrypt a range without the whole file.
func (s *Service) EncryptStream(r io.Reader) ([]EncryptedData, error) {
	var chunks []EncryptedData
	buf := make([]byte, ChunkSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			env, encErr := s.Encrypt(buf[:n])
			if encErr != nil {
				return nil, encErr
			}
			chunks = append(chunks, env)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return chunks, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading chunk: %w", err)
		}
	}
}

func (s *Service) DecryptStream(chunks []EncryptedData, w io.Writer) error {
	for i, env := range chunks {
		plaintext, err := s.Decrypt(env)
		if err != nil {
			return fmt.Errorf("decrypting chunk %d: %w", i, err)
		}
		if _, err := w.Write(plaintext); err != nil {
			return fmt.Errorf("writing chunk %d: %w", i, err)
		}
	}
	return nil
}

// DecryptStreamToBytes is a convenience for small chunked payloads.
func (s *Service) DecryptStreamToBytes(chunks []EncryptedData) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.DecryptStream(chunks, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RotateKey activates a new master key version and records its metadata.
// Existing envelopes are not re-wrapped; their key versions stay resolvable.
func (s *Service) RotateKey(ctx context.Context) (string, error) {
	keyID := s.vault.Rotate()
	if s.store == nil {
		return keyID, nil
	}

	err := s.store.Insert(ctx, store.EncryptionKeys, store.Record{
		"id":         uuid.New(),
		"key_id":     keyID,
		"created_at": s.now(),
		"status":     "active",
	})
	if err != nil {
		return keyID, fmt.Errorf("recording key metadata: %w", err)
	}
	return keyID, nil
}
