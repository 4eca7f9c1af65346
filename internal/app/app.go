// Package app wires a replay Service from configuration. The CLI, the HTTP
// service and the Lambda entrypoint share it.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"notifyreplay/internal/audit"
	"notifyreplay/internal/config"
	"notifyreplay/internal/db"
	"notifyreplay/internal/external"
	"notifyreplay/internal/queue"
	"notifyreplay/internal/replay"
	"notifyreplay/internal/security"
	"notifyreplay/internal/telemetry"
	"notifyreplay/internal/types"
)

// Options adjusts wiring beyond what Config carries.
type Options struct {
	// DryRun disables delivery together with the ledger and failure export.
	DryRun bool
	// AuditMirror receives a copy of every audit line, typically stdout.
	AuditMirror io.Writer
}

// Runtime holds the wired components and owns their resources.
type Runtime struct {
	Service *replay.Service
	Audit   *audit.Log
	// Ledger is nil unless DATABASE_URL is set.
	Ledger *db.AttemptRepository
	Pool   *pgxpool.Pool
}

// Close releases the audit file and the database pool.
func (rt *Runtime) Close() error {
	if rt.Pool != nil {
		rt.Pool.Close()
	}
	if rt.Audit != nil {
		return rt.Audit.Close()
	}
	return nil
}

// Build wires a Runtime from cfg. Optional sinks (ledger, failure queue,
// metrics) are attached only when configured.
func Build(ctx context.Context, cfg *config.Config, logger types.Logger, opts Options) (*Runtime, error) {
	policy, err := replay.ParseErrorPolicy(cfg.Replay.ErrorPolicy)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{}
	fail := func(err error) (*Runtime, error) {
		_ = rt.Close()
		return nil, err
	}

	rt.Audit, err = audit.OpenFile(cfg.Replay.AuditLogPath, opts.AuditMirror)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	httpClient, err := security.NewHTTPClient(security.ClientOptions{
		Timeout:              cfg.Replay.HTTPTimeout,
		MaxRedirects:         cfg.Replay.MaxRedirects,
		BlockPrivateNetworks: cfg.Replay.BlockPrivateNetworks,
	})
	if err != nil {
		return fail(err)
	}

	retry := external.DefaultRetryPolicy()
	retry.MaxRetries = cfg.Replay.MaxRetries
	client := external.NewBaseClient(httpClient, external.BreakerSettings{
		Name:                "destination",
		ConsecutiveFailures: cfg.Replay.BreakerThreshold,
	}, retry, cfg.Replay.UserAgent)

	var (
		dispatcherOpts []replay.DispatcherOption
		engineOpts     []replay.EngineOption
	)

	if cfg.Database.URL.IsSet() && !opts.DryRun {
		rt.Pool, err = db.Connect(ctx, db.PoolConfig{
			URL:            cfg.Database.URL.Unmask(),
			MaxConns:       int32(cfg.Database.MaxConns),
			AcquireTimeout: cfg.Database.AcquireTimeout,
		})
		if err != nil {
			return fail(err)
		}
		rt.Ledger = db.NewAttemptRepository(rt.Pool)
		if err := rt.Ledger.EnsureSchema(ctx); err != nil {
			return fail(err)
		}
		dispatcherOpts = append(dispatcherOpts, replay.WithAttemptRecorder(rt.Ledger))
		logger.Info("delivery ledger enabled")
	}

	exportFailures := cfg.AWS.FailureQueueURL != "" && !opts.DryRun
	if exportFailures || cfg.Observability.MetricsEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return fail(fmt.Errorf("load AWS SDK config: %w", err))
		}

		if exportFailures {
			sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
				if cfg.AWS.EndpointURL != "" {
					o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				}
			})
			publisher, err := queue.NewFailurePublisher(sqsClient, cfg.AWS.FailureQueueURL, logger)
			if err != nil {
				return fail(err)
			}
			dispatcherOpts = append(dispatcherOpts, replay.WithFailureSink(publisher))
			logger.Info("failure export enabled", "queue_url", cfg.AWS.FailureQueueURL)
		}

		if cfg.Observability.MetricsEnabled {
			cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
				if cfg.AWS.EndpointURL != "" {
					o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				}
			})
			metrics := telemetry.NewCloudWatchMetrics(cwClient, cfg.Observability.MetricNamespace, logger)
			dispatcherOpts = append(dispatcherOpts, replay.WithMetrics(metrics))
			engineOpts = append(engineOpts, replay.WithEngineMetrics(metrics))
		}
	}

	dispatcher, err := replay.NewDispatcher(client, rt.Audit, logger, replay.DispatcherConfig{
		PacingInterval: cfg.Replay.PacingInterval,
		RequestTimeout: cfg.Replay.HTTPTimeout,
		DryRun:         opts.DryRun,
	}, dispatcherOpts...)
	if err != nil {
		return fail(err)
	}

	rt.Service, err = replay.NewService(dispatcher, rt.Audit, logger, policy, engineOpts...)
	if err != nil {
		return fail(err)
	}
	return rt, nil
}
