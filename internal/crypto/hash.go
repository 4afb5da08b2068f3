package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

const hashSaltSize = 16

// HashData returns a salted one-way hash in "salt$hash" form. The salt is
// random per call and stored alongside the digest.
func HashData(data []byte) (string, error) {
	salt := make([]byte, hashSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	sum := sha256.Sum256(append(append([]byte(nil), salt...), data...))
	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(sum[:]), nil
}

// VerifyHash recomputes the digest with the stored salt and compares the full
// hash in constant time.
func VerifyHash(data []byte, stored string) bool {
	saltHex, hashHex, found := strings.Cut(stored, "$")
	if !found {
		return false
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil || len(salt) != hashSaltSize {
		return false
	}
	expected, err := hex.DecodeString(hashHex)
	if err != nil {
		return false
	}

	sum := sha256.Sum256(append(append([]byte(nil), salt...), data...))
	return subtle.ConstantTimeCompare(sum[:], expected) == 1
}
