// Package main is the entrypoint for the replay Lambda function.
//
// The function is invoked directly with the archive embedded in the event:
//
//	{"destination": "https://merchant.example/notifications", "archive": {"hits": {"hits": [...]}}}
//
// destination falls back to REPLAY_DESTINATION, and may be empty, in which
// case each notification goes to the URL recovered from its record. The run
// summary is returned as the invocation result. Malformed records fail the
// invocation unless REPLAY_ERROR_POLICY=skip.
//
// Cold Start (main):
//  1. Initialize structured logger.
//  2. Load and validate configuration.
//  3. Move the audit log under the writable temp directory.
//  4. Wire the replay Service (ledger, failure queue and metrics when configured).
//  5. Register handler and call lambda.Start.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/valyala/fastjson"

	"notifyreplay/internal/app"
	"notifyreplay/internal/archive"
	"notifyreplay/internal/config"
	"notifyreplay/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// Compile-time assertion that slogAdapter implements types.Logger.
var _ types.Logger = (*slogAdapter)(nil)

// ReplayEvent is the invocation payload.
type ReplayEvent struct {
	Destination string          `json:"destination"`
	Archive     json.RawMessage `json:"archive"`
}

// Replayer runs one replay. *replay.Service implements it.
type Replayer interface {
	Replay(ctx context.Context, destination string, hits []*fastjson.Value) (types.RunSummary, error)
}

// Handler holds the dependencies for the replay Lambda handler.
type Handler struct {
	replayer           Replayer
	defaultDestination string
	maxArchiveBytes    int64
	logger             types.Logger
}

// Handle replays the embedded archive and returns the run summary.
func (h *Handler) Handle(ctx context.Context, event ReplayEvent) (types.RunSummary, error) {
	if len(event.Archive) == 0 {
		return types.RunSummary{}, types.NewAppError(types.ErrCodeValidationMissingField, "event.archive is required", nil)
	}
	if int64(len(event.Archive)) > h.maxArchiveBytes {
		return types.RunSummary{}, types.NewAppError(types.ErrCodeValidationArchiveSize, "event.archive is too large", nil)
	}

	a, err := archive.Parse(event.Archive)
	if err != nil {
		return types.RunSummary{}, err
	}

	destination := event.Destination
	if destination == "" {
		destination = h.defaultDestination
	}

	summary, err := h.replayer.Replay(ctx, destination, a.Hits)
	if err != nil {
		h.logger.Error("replay stopped", "run_id", summary.RunID, "error", err.Error())
		return summary, err
	}
	return summary, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("Replay Lambda initializing (cold start)")
	typedLogger := &slogAdapter{logger: logger}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Only the temp directory is writable in the Lambda runtime.
	cfg.Replay.AuditLogPath = filepath.Join(os.TempDir(), filepath.Base(cfg.Replay.AuditLogPath))

	rt, err := app.Build(context.Background(), cfg, typedLogger, app.Options{AuditMirror: os.Stdout})
	if err != nil {
		logger.Error("Failed to wire replay service", "error", err)
		os.Exit(1)
	}

	handler := &Handler{
		replayer:           rt.Service,
		defaultDestination: cfg.Replay.Destination,
		maxArchiveBytes:    cfg.Replay.MaxArchiveBytes,
		logger:             typedLogger,
	}

	logger.Info("Replay Lambda initialized",
		"audit_log", cfg.Replay.AuditLogPath,
		"pacing", cfg.Replay.PacingInterval.String(),
		"error_policy", cfg.Replay.ErrorPolicy,
		"ledger", rt.Ledger != nil,
	)

	lambda.Start(handler.Handle)
}
