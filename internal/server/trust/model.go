// Package trust scores the device/context behind a redemption attempt and
// gates high-risk redemptions. The evaluator never mutates token state; it
// returns a decision and an updated trust record, and the broker decides
// how to act on them.
package trust

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Record is the per (recipient, fingerprint) trust state. Created on the
// first redemption attempt from a new fingerprint, updated on every
// subsequent one, never auto-deleted.
type Record struct {
	ID          string `json:"id"`
	Recipient   string `json:"recipient"`
	Fingerprint string `json:"fingerprint"`

	Score   int  `json:"score"`
	Trusted bool `json:"trusted"`
	Blocked bool `json:"blocked"`

	UserAgent string `json:"user_agent,omitempty"`
	LastIP    string `json:"last_ip,omitempty"`

	AccessCount    int64 `json:"access_count"`
	FailedAttempts int64 `json:"failed_attempts"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	BlockedBy     string `json:"blocked_by,omitempty"`
	BlockedReason string `json:"blocked_reason,omitempty"`
	TrustedBy     string `json:"trusted_by,omitempty"`
}

// DeviceContext is the opaque, untrusted payload supplied by the
// redeeming client. Validated for shape only; the evaluator treats it as
// a weak signal, never as ground truth.
type DeviceContext struct {
	Fingerprint      string `json:"fingerprint,omitempty"`
	UserAgent        string `json:"user_agent,omitempty"`
	Platform         string `json:"platform,omitempty"`
	ScreenResolution string `json:"screen_resolution,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	Language         string `json:"language,omitempty"`
}

// FingerprintOf returns the client-supplied fingerprint when present, or
// a stable digest of the remaining context fields otherwise.
func FingerprintOf(ctx DeviceContext) string {
	if ctx.Fingerprint != "" {
		return ctx.Fingerprint
	}
	joined := strings.Join([]string{
		ctx.UserAgent, ctx.Platform, ctx.ScreenResolution, ctx.Timezone, ctx.Language,
	}, "|")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])[:32]
}
