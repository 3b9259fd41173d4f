package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contractorvault/broker/internal/common"
	"github.com/contractorvault/broker/internal/timex"
)

// Service is the token ledger. It owns every token state transition; the
// trust evaluator and the cipher store are invoked by the broker around
// it, never from inside it.
type Service struct {
	repo   Repository
	clock  timex.Clock
	maxTTL time.Duration
}

// IssuedToken carries the one-time disclosure of the secret. The secret
// is not recoverable afterwards; only its hash is stored.
type IssuedToken struct {
	Token  *Token
	Secret string
}

// ValidationResult is the cheap read-only status used for client polling.
type ValidationResult struct {
	Valid  bool
	Status string
}

func NewService(repo Repository, clock timex.Clock, maxTTL time.Duration) *Service {
	if clock == nil {
		clock = timex.RealClock{}
	}
	return &Service{repo: repo, clock: clock, maxTTL: maxTTL}
}

// Issue creates a token granting the recipient access to the artifact for
// ttl. The secret is generated here and returned exactly once.
func (s *Service) Issue(ctx context.Context, artifactID, recipient string, ttl time.Duration, allowedIP string, singleUse bool, issuedBy string) (*IssuedToken, error) {

	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", common.ErrValidation)
	}
	if s.maxTTL > 0 && ttl > s.maxTTL {
		return nil, fmt.Errorf("%w: ttl exceeds maximum of %s", common.ErrValidation, s.maxTTL)
	}
	if artifactID == "" || recipient == "" {
		return nil, fmt.Errorf("%w: artifact and recipient are required", common.ErrValidation)
	}

	secret, err := NewSecret()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	token, err := s.repo.Create(ctx, &Token{
		SecretHash: HashSecret(secret),
		ArtifactID: artifactID,
		Recipient:  recipient,
		AllowedIP:  allowedIP,
		SingleUse:  singleUse,
		IssuedBy:   issuedBy,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("error creating token: %w", err)
	}

	return &IssuedToken{Token: token, Secret: secret}, nil
}

// Validate reports current token status. Always computed server-side from
// the clock and the stored row; a client that cached "still valid" from a
// previous poll learns about revocation on its next call.
func (s *Service) Validate(ctx context.Context, secret string) (*ValidationResult, error) {
	token, err := s.repo.GetBySecretHash(ctx, HashSecret(secret))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return &ValidationResult{Valid: false, Status: "not_found"}, nil
		}
		return nil, err
	}

	status := token.StatusAt(s.clock.Now())
	return &ValidationResult{
		Valid:  status == StatusPending || status == StatusActive,
		Status: string(status),
	}, nil
}

// CheckRedeemable runs the pre-flight gates of a redemption: existence,
// derived status, and the IP allow-list. It performs no state change.
func (s *Service) CheckRedeemable(ctx context.Context, secret, requesterIP string) (*Token, error) {
	token, err := s.repo.GetBySecretHash(ctx, HashSecret(secret))
	if err != nil {
		return nil, err
	}

	if err := statusError(token.StatusAt(s.clock.Now())); err != nil {
		return token, err
	}

	if token.AllowedIP != "" && token.AllowedIP != requesterIP {
		return token, common.ErrIPNotAllowed
	}

	return token, nil
}

// CommitRedemption performs the atomic counter transition. When the CAS
// loses a race the post-transition row decides the error, so a revoke
// that became visible first turns a concurrent redeem into ErrRevoked.
func (s *Service) CommitRedemption(ctx context.Context, secret string) (*Token, error) {
	now := s.clock.Now()
	token, won, err := s.repo.Redeem(ctx, HashSecret(secret), now)
	if err != nil {
		return nil, err
	}
	if won {
		return token, nil
	}

	if err := statusError(token.StatusAt(now)); err != nil {
		return token, err
	}
	// Row mutated between our read and the CAS in a way that still looks
	// redeemable; treat as a lost race on a single-use grant.
	return token, common.ErrAlreadyUsed
}

// Revoke flips the kill switch for one token. Idempotent: revoking an
// already-revoked or already-expired token succeeds, and the caller is
// told whether this call performed the transition so it can still audit
// the repeated press.
func (s *Service) Revoke(ctx context.Context, tokenID, actor, reason string) (*Token, bool, error) {
	return s.repo.Revoke(ctx, tokenID, s.clock.Now(), actor, reason)
}

// RevokeAll revokes every outstanding token for the recipient as seen at
// call time. A token issued after this instant is unaffected.
func (s *Service) RevokeAll(ctx context.Context, recipient, actor, reason string) (int64, error) {
	if recipient == "" {
		return 0, fmt.Errorf("%w: recipient is required", common.ErrValidation)
	}
	return s.repo.RevokeAll(ctx, recipient, s.clock.Now(), actor, reason)
}

// List returns the issuer's tokens, newest first.
func (s *Service) List(ctx context.Context, issuer string) ([]*Token, error) {
	return s.repo.ListByIssuer(ctx, issuer)
}

// Now exposes the ledger clock so callers annotate audit entries with the
// same time source the state machine uses.
func (s *Service) Now() time.Time { return s.clock.Now() }

func statusError(status Status) error {
	switch status {
	case StatusExpired:
		return common.ErrExpired
	case StatusRevoked:
		return common.ErrRevoked
	case StatusRedeemed:
		return common.ErrAlreadyUsed
	default:
		return nil
	}
}
