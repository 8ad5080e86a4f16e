// Package server assembles the chi router and runs the HTTP server with
// graceful shutdown.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	identityhandler "medilink/backend/internal/identity/handler"
	"medilink/backend/internal/revocation"
	"medilink/backend/internal/security"
	"medilink/backend/internal/server/middleware"
)

// Server is the HTTP front of the auth service.
type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

// New builds the router: request ID, real IP, device context, logging, and
// panic recovery on every route; bearer authentication only where the handler
// asks for it.
func New(
	addr string,
	auth *identityhandler.AuthHandler,
	issuer *security.Issuer,
	blacklist *revocation.Blacklist,
	healthcheck http.HandlerFunc,
	logger zerolog.Logger,
) *Server {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Device)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recover(logger))

	requireAuth := middleware.Authenticate(issuer, blacklist, logger)
	auth.Routes(r, requireAuth)
	r.Get("/healthz", healthcheck)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until the context is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info().Msg("http server shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}
