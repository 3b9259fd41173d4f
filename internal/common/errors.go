// Package common defines shared constants and sentinel errors used across
// broker components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors. A missing token and a missing artifact report
	// the same value so callers cannot probe which identifiers exist.
	ErrNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrInternal     = errors.New("internal error")
	ErrUnauthorized = errors.New("unauthorized")

	// Validation errors (malformed input, client-fixable).
	ErrValidation = errors.New("validation error")

	// Token lifecycle errors.
	ErrExpired      = errors.New("token expired")
	ErrRevoked      = errors.New("token revoked")
	ErrAlreadyUsed  = errors.New("token already used")
	ErrIPNotAllowed = errors.New("ip not allowed")

	// Trust gate errors.
	ErrDeviceBlocked = errors.New("device blocked")
	ErrTrustTooLow   = errors.New("trust score too low")

	// Cipher errors. Non-retryable: the blob is corrupted, truncated, or
	// sealed under a key that is no longer available.
	ErrDecryption = errors.New("decryption error")
)
