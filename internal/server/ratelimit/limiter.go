// Package ratelimit provides a fixed-window request limiter keyed by
// client IP. Redemption is the guarded surface: token secrets are
// unguessable, but the limiter keeps a probing client from turning the
// validate and redeem endpoints into an oracle.
package ratelimit

import "context"

// Limiter reports whether one more request under key fits in the current
// window. limit is requests per window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int) (bool, error)
}
