// Package httpapi is the HTTP surface of the broker. Owner-facing
// routes require a bearer session; the redeem and validate routes are
// public because the token secret itself is the credential, and sit
// behind a per-IP rate limit instead.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/contractorvault/broker/internal/logging"
	"github.com/contractorvault/broker/internal/server/audit"
	"github.com/contractorvault/broker/internal/server/broker"
	"github.com/contractorvault/broker/internal/server/ratelimit"
)

type Server struct {
	broker    *broker.Broker
	auditRepo audit.Repository
	archiver  *audit.Archiver
	limiter   ratelimit.Limiter
	logger    logging.Logger

	jwtSecret   []byte
	publicLimit int
}

type Options struct {
	JWTSecret []byte
	// PublicLimit is requests per window per IP on the public routes.
	// Zero disables the limit.
	PublicLimit int
}

func NewServer(b *broker.Broker, auditRepo audit.Repository, archiver *audit.Archiver, limiter ratelimit.Limiter, logger logging.Logger, opts Options) *Server {
	return &Server{
		broker:      b,
		auditRepo:   auditRepo,
		archiver:    archiver,
		limiter:     limiter,
		logger:      logger.With("module", "httpapi"),
		jwtSecret:   opts.JWTSecret,
		publicLimit: opts.PublicLimit,
	}
}

// Run serves the API on addr until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/api", func(api chi.Router) {

		// Public consumer routes. The secret in the request is the
		// credential; the rate limit keeps them from becoming an oracle.
		api.Group(func(public chi.Router) {
			public.Use(s.rateLimitMiddleware)
			public.Post("/redeem", s.handleRedeem)
			public.Get("/validate/{token}", s.handleValidate)
		})

		// Owner routes.
		api.Group(func(owner chi.Router) {
			owner.Use(s.authMiddleware)

			owner.Post("/artifacts", s.handleCreateArtifact)
			owner.Get("/artifacts/{id}", s.handleGetArtifact)
			owner.Post("/artifacts/{id}/deactivate", s.handleDeactivateArtifact)

			owner.Post("/tokens", s.handleIssueToken)
			owner.Get("/tokens", s.handleListTokens)
			owner.Post("/tokens/{id}/revoke", s.handleRevokeToken)
			owner.Post("/revoke-all", s.handleRevokeAll)

			owner.Get("/audit", s.handleAuditStream)
			owner.Post("/audit/archive", s.handleAuditArchive)

			owner.Get("/devices", s.handleListDevices)
			owner.Post("/devices/{id}/trust", s.handleTrustDevice)
			owner.Post("/devices/{id}/block", s.handleBlockDevice)
			owner.Post("/devices/{id}/unblock", s.handleUnblockDevice)
		})
	})

	return r
}
