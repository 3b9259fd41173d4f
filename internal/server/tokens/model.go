// Package tokens implements the token ledger: issuance, validation,
// expiry, and revocation of access tokens, each bound to one artifact and
// one recipient.
//
// A token's state is always derived from its row (expiry, revocation
// timestamp, use counter), never stored as a separate column that could
// desync. Conflicting operations on the same token are serialized by a
// conditional UPDATE in the repository, not by a process-wide lock.
package tokens

import (
	"time"
)

// Status is the derived lifecycle state of a token.
type Status string

const (
	// StatusPending: issued, not yet redeemed, not expired or revoked.
	StatusPending Status = "pending"
	// StatusActive: redeemed at least once, still redeemable.
	StatusActive Status = "active"
	// StatusRedeemed: a single-use token after its one successful redemption.
	StatusRedeemed Status = "redeemed"
	// StatusExpired: past expires_at. Terminal.
	StatusExpired Status = "expired"
	// StatusRevoked: explicitly revoked. Terminal, wins over everything.
	StatusRevoked Status = "revoked"
)

// Token is one grant of access to one artifact for one recipient.
//
// The redeemable credential is the Secret, an unguessable random string
// handed out exactly once at issuance. Only its SHA-256 hash is stored;
// ID is a separate identifier safe to show in dashboards and audit logs.
// Leaking a token ID reveals nothing about the secret, and the secret is
// never derivable from the artifact ID.
type Token struct {
	ID         string
	SecretHash string
	ArtifactID string
	Recipient  string
	AllowedIP  string
	SingleUse  bool
	UseCount   int64
	IssuedBy   string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt *time.Time

	RevokedAt     *time.Time
	RevokedBy     string
	RevokedReason string
}

// StatusAt derives the token's state at the given instant.
// Precedence: revoked > expired > redeemed-once > pending/active.
func (t *Token) StatusAt(now time.Time) Status {
	if t.RevokedAt != nil {
		return StatusRevoked
	}
	if !now.Before(t.ExpiresAt) {
		return StatusExpired
	}
	if t.SingleUse && t.UseCount > 0 {
		return StatusRedeemed
	}
	if t.UseCount == 0 {
		return StatusPending
	}
	return StatusActive
}

// Redeemable reports whether a redemption at now can succeed,
// ignoring IP and trust gates.
func (t *Token) Redeemable(now time.Time) bool {
	s := t.StatusAt(now)
	return s == StatusPending || s == StatusActive
}
