package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rxvault/internal/mirror"
	"github.com/roach88/rxvault/internal/mirror/postgres"
)

const mirrorShutdownTimeout = 10 * time.Second

// NewMirrorCommand creates the mirror command group.
func NewMirrorCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Run the remote mirror that devices sync against",
	}

	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the mirror over HTTP",
		Long: `Serve the document mirror over HTTP.

Documents are kept in PostgreSQL when mirror.database_url is set and in
memory otherwise. mirror.secret signs session tokens and is required.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log, rootOpts.Verbose, cmd.ErrOrStderr())
			if addr != "" {
				cfg.Mirror.Addr = addr
			}

			parentCtx := cmd.Context()
			if parentCtx == nil {
				parentCtx = context.Background()
			}
			ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			var log mirror.Log
			if cfg.Mirror.DatabaseURL != "" {
				pg, err := postgres.Open(ctx, cfg.Mirror.DatabaseURL, postgres.WithLogger(logger))
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to open mirror database", err)
				}
				log = pg
			} else {
				logger.Warn("mirror.database_url not set; documents are kept in memory only")
				log = mirror.NewMemoryLog()
			}
			defer log.Close()

			srv, err := mirror.NewServer(log, mirror.Config{
				Secret:              []byte(cfg.Mirror.Secret),
				TokenTTL:            cfg.Mirror.TokenTTL,
				AllowAnonymousReads: cfg.Mirror.AllowAnonymousReads,
			}, mirror.WithLogger(logger))
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid mirror configuration", err)
			}

			httpSrv := &http.Server{
				Addr:              cfg.Mirror.Addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- httpSrv.ListenAndServe()
			}()
			logger.Info("mirror listening", "addr", cfg.Mirror.Addr)
			fmt.Fprintf(cmd.OutOrStdout(), "Mirror listening on %s. Press Ctrl-C to stop.\n", cfg.Mirror.Addr)

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return WrapExitError(ExitFailure, "mirror server error", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("mirror shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), mirrorShutdownTimeout)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				// Parked long polls can outlive the grace period.
				logger.Warn("forcing mirror shutdown", "error", err)
				_ = httpSrv.Close()
			}
			return nil
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides mirror.addr)")

	cmd.AddCommand(serve)
	return cmd
}
