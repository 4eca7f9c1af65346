// Package main is the notifyreplay command.
//
// notifyreplay re-sends payment notifications reconstructed from an archived
// log export:
//
//	notifyreplay send export.json https://merchant.example/notifications
//	notifyreplay serve
//
// Every notification is written to the audit log (REPLAY_AUDIT_LOG, mirrored
// to stdout) before it is posted. Operational logs go to stderr.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"notifyreplay/internal/config"
	"notifyreplay/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies Info, Error and Warn but With returns *slog.Logger,
// not types.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger builds the operational logger: text for a terminal, JSON for the
// service.
func newLogger(w io.Writer, level string, json bool) *slogAdapter {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if json {
		h = slog.NewJSONHandler(w, opts)
	}
	return &slogAdapter{logger: slog.New(h).With("service", "notifyreplay")}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "notifyreplay [archive] [destination]",
		Short: "Replay payment notifications recovered from archived logs",
		Long: `Replay payment notifications recovered from archived logs.

Called with arguments, the root command behaves like "send".`,
		Version:       config.NewBuildInfo().String(),
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	send := newSendCmd()
	root.Flags().AddFlagSet(send.Flags())
	root.RunE = func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return send.RunE(cmd, args)
	}

	root.AddCommand(send)
	root.AddCommand(newServeCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
