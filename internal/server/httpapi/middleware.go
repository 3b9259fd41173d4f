package httpapi

import (
	"context"
	"net/http"

	"github.com/contractorvault/broker/internal/httpx"
	"github.com/contractorvault/broker/internal/server/auth"
)

type ctxKey int

const actorKey ctxKey = iota

// actorFrom returns the authenticated identity stored by authMiddleware.
func actorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey).(string)
	return actor
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := httpx.ParseBearer(r.Header.Get("Authorization"))
		if !ok {
			httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}

		actor, err := auth.GetActorFromToken(token, s.jwtSecret)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid session")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || s.publicLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ip := httpx.ClientIP(r)
		ok, err := s.limiter.Allow(r.Context(), ip, s.publicLimit)
		if err != nil {
			// A broken limiter must not take redemption down with it.
			s.logger.Error(r.Context(), "rate limiter error", "error", err.Error())
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			httpx.WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}
