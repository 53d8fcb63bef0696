package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the hex-encoded SHA-256 digest of a password string.
// The backend compares digests, never plaintext, so the result must be
// deterministic: no salt, same input always yields the same output.
func Hash(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
