// Package cryptox implements the cipher store: authenticated symmetric
// encryption of artifact payloads at rest.
//
// Sealed blobs are AES-256-GCM: a random 12-byte nonce followed by the
// ciphertext and tag. Open fails with common.ErrDecryption for any blob
// that was tampered with, truncated, or sealed under an unavailable key.
// The key is process-wide and loaded once at startup; losing it makes all
// previously sealed artifacts permanently unrecoverable.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/contractorvault/broker/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	nonceSize = 12
)

// Cipher seals and opens artifact payloads under a fixed key.
// It has no knowledge of tokens or artifacts.
type Cipher struct {
	aead cipher.AEAD
}

// New builds a Cipher from a raw 32-byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", common.ErrValidation, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// DeriveKey derives a 32-byte key from a passphrase and salt using
// argon2id. Deterministic: same inputs always produce the same key.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, KeySize)
}

// Seal encrypts plaintext and returns a self-contained blob
// (nonce || ciphertext || tag). A fresh nonce is generated per call, so
// sealing the same plaintext twice yields different blobs.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open authenticates and decrypts a blob produced by Seal. Any
// modification of the blob, including a single flipped bit, fails with
// common.ErrDecryption rather than returning corrupted plaintext.
func (c *Cipher) Open(blob []byte) ([]byte, error) {
	if len(blob) < nonceSize {
		return nil, fmt.Errorf("%w: blob truncated", common.ErrDecryption)
	}
	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	return plaintext, nil
}
