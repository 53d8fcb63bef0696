package crypto

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// At-rest protection for the private key: argon2id derives a key from the
// per-install device secret, XChaCha20-Poly1305 seals the material. The
// envelope is stored as JSON next to the other entity rows.

const (
	envelopeVersion = 1
	saltSize        = 16

	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
)

var ErrEnvelopeAuth = errors.New("envelope authentication failed")

type Envelope struct {
	Version    int    `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Seal encrypts plaintext under the device secret.
func Seal(secret string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(deriveKey(secret, salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	env := Envelope{
		Version:    envelopeVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
	}
	return json.Marshal(env)
}

// Open decrypts an envelope produced by Seal.
func Open(secret string, data []byte) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", env.Version)
	}
	if len(env.Salt) != saltSize || len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("malformed envelope")
	}
	aead, err := chacha20poly1305.NewX(deriveKey(secret, env.Salt))
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrEnvelopeAuth
	}
	return plaintext, nil
}

func deriveKey(secret string, salt []byte) []byte {
	return argon2.IDKey([]byte(secret), salt, kdfTime, kdfMemory, kdfThreads, chacha20poly1305.KeySize)
}
