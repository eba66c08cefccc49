package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/shared-redis/pkg/connection"
	"github.com/Sternrassler/shared-redis/pkg/metrics"
)

const (
	readyTimeout    = 2 * time.Second
	shutdownTimeout = 10 * time.Second
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /health, /ready and /metrics for the store connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := cmd.Flags().GetString("addr")
			if err != nil {
				return err
			}
			return serve(cmd.Context(), addr, a.conns, a.logger)
		},
	}
	cmd.Flags().String("addr", ":8080", "Listen address")
	return cmd
}

// newMux wires the health, readiness and metrics endpoints.
func newMux(conns *connection.Manager, logger zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(conns, logger))
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// readyHandler answers 200 when the store replies to PING, 503 otherwise.
func readyHandler(conns *connection.Manager, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		if err := conns.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("Readiness check failed")
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "READY")
	}
}

// serve runs the HTTP server until ctx is cancelled, then shuts it down.
func serve(ctx context.Context, addr string, conns *connection.Manager, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newMux(conns, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("Starting status server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		logger.Info().Msg("Shutting down status server")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
