package tokens

import (
	"context"
	"time"
)

// Repository persists tokens. Implementations must make Redeem, Revoke,
// and RevokeAll atomic conditional transitions: concurrent calls on the
// same token serialize so exactly one wins and the others observe the
// post-transition row.
type Repository interface {
	Create(ctx context.Context, token *Token) (*Token, error)
	GetByID(ctx context.Context, id string) (*Token, error)
	GetBySecretHash(ctx context.Context, secretHash string) (*Token, error)

	// Redeem attempts the compare-and-set redemption transition at the
	// given instant: the counter increments only if the token is not
	// revoked, not expired, and not an already-used single-use grant.
	// Returns the post-attempt row and whether this call won.
	Redeem(ctx context.Context, secretHash string, now time.Time) (*Token, bool, error)

	// Revoke sets revoked_at if it is not already set. Returns the
	// post-attempt row and whether this call performed the transition.
	Revoke(ctx context.Context, id string, now time.Time, actor, reason string) (*Token, bool, error)

	// RevokeAll revokes every not-yet-revoked token for the recipient that
	// existed at now, as one atomic statement. Tokens issued after the
	// snapshot instant are unaffected. Returns the number revoked.
	RevokeAll(ctx context.Context, recipient string, now time.Time, actor, reason string) (int64, error)

	ListByIssuer(ctx context.Context, issuer string) ([]*Token, error)
}
