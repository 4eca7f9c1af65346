package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"notifyreplay/internal/app"
	"notifyreplay/internal/archive"
	"notifyreplay/internal/config"
	"notifyreplay/internal/replay"
	"notifyreplay/internal/types"
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <archive> [destination]",
		Short: "Replay one archive",
		Long: `Replay one archive (.json, .json.gz or .json.zst).

Each notification is posted to destination when given, otherwise to the URL
recovered from its log record. Records are processed strictly in archive
order with a pause after every send. Byte-identical payloads are sent once.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runSend,
	}

	cmd.Flags().Bool("dry-run", false, "reconstruct and audit payloads without sending")
	cmd.Flags().Bool("skip-malformed", false, "log and skip malformed records instead of stopping")
	cmd.Flags().Duration("pacing", replay.DefaultPacingInterval, "pause after each send")
	cmd.Flags().String("audit-log", "", "audit log path (overrides REPLAY_AUDIT_LOG)")
	cmd.Flags().Bool("block-private-networks", false, "refuse destinations in private address ranges")
	return cmd
}

// applyFlags overlays explicitly set flags on the loaded configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("skip-malformed") {
		skip, _ := flags.GetBool("skip-malformed")
		if skip {
			cfg.Replay.ErrorPolicy = string(replay.PolicySkip)
		} else {
			cfg.Replay.ErrorPolicy = string(replay.PolicyFailFast)
		}
	}
	if flags.Changed("pacing") {
		cfg.Replay.PacingInterval, _ = flags.GetDuration("pacing")
	}
	if flags.Changed("audit-log") {
		cfg.Replay.AuditLogPath, _ = flags.GetString("audit-log")
	}
	if flags.Changed("block-private-networks") {
		cfg.Replay.BlockPrivateNetworks, _ = flags.GetBool("block-private-networks")
	}
	return config.Validate(cfg)
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, false)

	archivePath := args[0]
	var destination string
	if len(args) == 2 {
		destination = args[1]
		if err := types.ValidateDestinationURL(destination); err != nil {
			return err
		}
	} else if !dryRun {
		logger.Warn("no destination given: notifications are posted to the URLs recovered from the archive")
	}

	a, err := archive.Open(archivePath, cfg.Replay.MaxArchiveBytes)
	if err != nil {
		return err
	}
	logger.Info("archive loaded", "path", archivePath, "hits", len(a.Hits))

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

	summary, runErr := rt.Service.Replay(ctx, destination, a.Hits)
	printSummary(cmd, summary, dryRun)
	return runErr
}

func printSummary(cmd *cobra.Command, s types.RunSummary, dryRun bool) {
	mode := ""
	if dryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(cmd.ErrOrStderr(),
		"run %s%s: records=%d dispatched=%d delivered=%d failed=%d duplicates=%d skipped=%d not_sent=%d elapsed=%s\n",
		s.RunID, mode, s.Records, s.Dispatched, s.Delivered, s.Failed, s.Duplicates, s.Skipped, s.NotSent,
		s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond),
	)
}
