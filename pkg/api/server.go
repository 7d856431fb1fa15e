package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cuemby/vanguard/pkg/log"
)

// Server is the admin HTTP server. It holds no state of its own beyond
// the wiring needed to build the router; handlers read and act through
// Dependencies.
type Server struct {
	deps      Dependencies
	jwtSecret []byte
	http      *http.Server
}

// NewServer builds a Server listening on deps.Config.AdminListenAddress.
// jwtSecret signs and verifies tokens issued by POST /auth/login; it is
// typically deps.Config.AdminJWTSecret, passed separately so callers can
// substitute a generated secret when the config leaves it empty.
func NewServer(deps Dependencies, jwtSecret []byte) *Server {
	s := &Server{deps: deps, jwtSecret: jwtSecret}
	s.http = &http.Server{
		Addr:              deps.Config.AdminListenAddress,
		Handler:           NewRouter(deps, jwtSecret),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start runs the admin server until ctx is cancelled or ListenAndServe
// returns a non-shutdown error.
func (s *Server) Start(ctx context.Context) error {
	logger := log.WithComponent("api")
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", s.http.Addr).Msg("admin API listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Stop gracefully shuts down the admin server.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.http.Shutdown(ctx)
}
