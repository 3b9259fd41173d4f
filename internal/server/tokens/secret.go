package tokens

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/contractorvault/broker/internal/common"
)

const secretBytes = 32

// NewSecret returns a fresh URL-safe token secret.
func NewSecret() (string, error) {
	return common.MakeOpaqueToken(secretBytes)
}

// HashSecret returns the hex SHA-256 digest stored in place of the secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// SecretHint returns the short prefix shown in listings so an owner can
// correlate a token with the link they sent, without exposing the secret.
func SecretHint(secret string) string {
	if len(secret) <= 8 {
		return secret
	}
	return secret[:8] + "..."
}
