package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ListenConfig configures the underlying http.Server.
type ListenConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// ListenAndServe serves the API until ctx is cancelled, then shuts down
// gracefully. A clean shutdown returns nil.
func (s *Server) ListenAndServe(ctx context.Context, lc ListenConfig) error {
	if lc.ShutdownTimeout <= 0 {
		lc.ShutdownTimeout = 10 * time.Second
	}
	srv := &http.Server{
		Addr:              lc.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       lc.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      lc.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info().Str("addr", lc.Addr).Msg("http server listening")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), lc.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		s.log.Info().Msg("http server stopped")
		return nil
	}
}
