package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"notifyreplay/internal/api"
	"notifyreplay/internal/app"
	"notifyreplay/internal/config"
	"notifyreplay/internal/db"
)

// shutdownTimeout bounds graceful shutdown. A replay still running after it
// is cut off between records.
const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the replay HTTP service",
		Long: `Run the replay HTTP service.

  GET  /health
  POST /v1/replays?destination=<url>          body: archive JSON (gzip/zstd allowed)
  GET  /v1/replays/{runID}/attempts           requires DATABASE_URL

/v1 requires X-API-Key matching REPLAY_API_KEY_HASH (bcrypt).`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "listen address (default :$PORT)")
	cmd.Flags().Bool("dry-run", false, "accept replays but never send")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if !cfg.Server.APIKeyHash.IsSet() {
		return &config.ConfigError{Type: config.ErrValidation, Message: "REPLAY_API_KEY_HASH is required for serve"}
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = ":" + cfg.Server.Port
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Build(ctx, cfg, logger, app.Options{
		DryRun:      dryRun,
		AuditMirror: cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	opts := api.Options{
		APIKeyHash:   cfg.Server.APIKeyHash.Unmask(),
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}
	if rt.Ledger != nil {
		opts.Attempts = rt.Ledger
		opts.HealthProbes = append(opts.HealthProbes, db.HealthProbe{Pool: rt.Pool})
	}
	server, err := api.NewServer(rt.Service, logger, opts)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("replay service listening", "addr", addr, "version", cfg.Build.Version, "dry_run", dryRun)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
